package perf

import (
	"fmt"

	"go.uber.org/zap"

	"agent-trader/internal/ledger"
	"agent-trader/internal/market"
)

// priceSource 提供按交易日的持仓估值价格。
type priceSource interface {
	SellPrice(symbol, date string) (float64, bool)
	BuyPrice(symbol, date string) (float64, bool)
}

// EquityPoint 为净值曲线上的一个点。
type EquityPoint struct {
	Date   string  `json:"date"`
	Equity float64 `json:"equity"`
}

// Report 汇总账户的净值曲线与绩效指标。
type Report struct {
	Agent   string        `json:"agent"`
	Metrics Metrics       `json:"metrics"`
	Curve   []EquityPoint `json:"curve"`
	Trades  int           `json:"trades"`
}

// Builder 基于账本历史与离线价格生成绩效报告。
type Builder struct {
	prices priceSource
	logger *zap.Logger
}

func NewBuilder(prices priceSource, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{prices: prices, logger: logger}
}

// Build 遍历快照历史，按每个交易日的收盘快照估值并计算指标。
// 无法定价的持仓按上一个可得价格之前的估值跳过该标的并告警。
func (b *Builder) Build(agent string, history []ledger.Snapshot) (*Report, error) {
	if len(history) == 0 {
		return nil, fmt.Errorf("perf: 账本 %s 没有任何记录", agent)
	}

	// 每个会话日期取序号最大的快照作为收盘状态。
	closing := make(map[string]ledger.Snapshot)
	var dates []string
	for _, snap := range history {
		date := snap.Date
		if len(date) > 10 {
			date = date[:10]
		}
		prev, ok := closing[date]
		if !ok {
			dates = append(dates, date)
			closing[date] = snap
			continue
		}
		if snap.ID > prev.ID {
			closing[date] = snap
		}
	}

	report := &Report{Agent: agent}
	var equity []float64
	var returns []float64
	for _, date := range dates {
		snap := closing[date]
		value := b.valuate(snap.Positions, date)
		report.Curve = append(report.Curve, EquityPoint{Date: date, Equity: value})
		if n := len(equity); n > 0 && equity[n-1] > 0 {
			returns = append(returns, value/equity[n-1]-1)
		}
		equity = append(equity, value)
	}
	for _, snap := range history {
		if snap.Action == nil {
			continue
		}
		switch snap.Action.Kind {
		case ledger.ActionBuy, ledger.ActionSell, ledger.ActionShort:
			report.Trades++
		}
	}

	report.Metrics = calculateMetrics(equity, returns)
	return report, nil
}

func (b *Builder) valuate(positions map[string]float64, date string) float64 {
	total := positions[market.CashSymbol]
	for symbol, shares := range positions {
		if symbol == market.CashSymbol || shares == 0 {
			continue
		}
		price, ok := b.prices.SellPrice(symbol, date)
		if !ok {
			price, ok = b.prices.BuyPrice(symbol, date)
		}
		if !ok {
			b.logger.Warn("估值缺少价格，忽略该标的",
				zap.String("symbol", symbol),
				zap.String("date", date))
			continue
		}
		total += shares * price
	}
	return total
}
