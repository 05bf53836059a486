package oracle

import (
	"context"

	"go.uber.org/zap"

	"agent-trader/internal/engine"
	"agent-trader/internal/feed"
	"agent-trader/internal/market"
)

// priceDataset 提供按交易日查询的离线价格。
type priceDataset interface {
	BuyPrice(symbol, date string) (float64, bool)
	SellPrice(symbol, date string) (float64, bool)
}

// sessionCalendar 提供交易日回溯能力。
type sessionCalendar interface {
	PreviousTradingDay(date string) string
}

// liveQuoter 提供盘中最新成交价。
type liveQuoter interface {
	LatestBar(ctx context.Context, symbol string) (feed.Bar, error)
}

// Oracle 按会话模式解析成交价格：日频会话走离线数据集，
// 盘中会话走行情接口的最新 bar 收盘价。
type Oracle struct {
	dataset  priceDataset
	calendar sessionCalendar
	quoter   liveQuoter
	logger   *zap.Logger
}

func New(dataset priceDataset, calendar sessionCalendar, quoter liveQuoter, logger *zap.Logger) *Oracle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Oracle{dataset: dataset, calendar: calendar, quoter: quoter, logger: logger}
}

// ExecutionPrice 实现 engine.PriceOracle。
// 日频模式下买入侧取会话当日的开盘买价，卖出侧取前一交易日的收盘卖价；
// 盘中模式下统一取最新 bar 的收盘价。任何未命中都映射为 SymbolNotFoundError。
func (o *Oracle) ExecutionPrice(ctx context.Context, symbol string, instant market.Instant, side engine.Side) (float64, error) {
	if instant.Mode() == market.SessionIntraday {
		return o.livePrice(ctx, symbol, instant)
	}

	date := instant.SessionDate()
	var (
		price float64
		ok    bool
	)
	if side == engine.SideAcquire {
		price, ok = o.dataset.BuyPrice(symbol, date)
	} else {
		prev := o.calendar.PreviousTradingDay(date)
		price, ok = o.dataset.SellPrice(symbol, prev)
	}
	if !ok || price <= 0 {
		return 0, &engine.SymbolNotFoundError{Symbol: symbol, Instant: instant.Raw}
	}
	return price, nil
}

func (o *Oracle) livePrice(ctx context.Context, symbol string, instant market.Instant) (float64, error) {
	if o.quoter == nil {
		return 0, &engine.SymbolNotFoundError{Symbol: symbol, Instant: instant.Raw}
	}
	bar, err := o.quoter.LatestBar(ctx, symbol)
	if err != nil {
		o.logger.Warn("获取最新行情失败",
			zap.String("symbol", symbol),
			zap.Error(err))
		return 0, &engine.SymbolNotFoundError{Symbol: symbol, Instant: instant.Raw}
	}
	if bar.Close <= 0 {
		return 0, &engine.SymbolNotFoundError{Symbol: symbol, Instant: instant.Raw}
	}
	return bar.Close, nil
}
