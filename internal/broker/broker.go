package broker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"agent-trader/internal/audit"
	"agent-trader/internal/calendar"
	"agent-trader/internal/config"
	"agent-trader/internal/engine"
	"agent-trader/internal/feed"
	"agent-trader/internal/ledger"
	"agent-trader/internal/market"
	"agent-trader/internal/perf"
)

// ErrMissingAgent 表示调用未携带 agent 标识。
var ErrMissingAgent = errors.New("broker: agent id 不能为空")

// namer 提供标的代码到名称的查询。
type namer interface {
	Name(symbol string) string
}

// barProvider 提供盘中分钟线查询。
type barProvider interface {
	Today(ctx context.Context, symbol string) ([]feed.Bar, error)
	PreviousDay(ctx context.Context, symbol string) ([]feed.Bar, error)
}

// Broker 是面向决策方的交易门面：对每个 agent 维护独立账本，
// 将买卖指令转交执行引擎，并维护"本会话是否已交易"标记。
type Broker struct {
	initDate    string
	initialCash float64
	ledgerDir   string
	universe    []string

	engine   *engine.Engine
	calendar *calendar.Provider
	names    namer
	bars     barProvider
	perf     *perf.Builder
	audit    *audit.Service
	logger   *zap.Logger

	mu      sync.Mutex
	ledgers map[string]*ledger.Ledger
	flags   map[string]bool
}

func New(marketCfg config.MarketConfig, ledgerCfg config.LedgerConfig, eng *engine.Engine, cal *calendar.Provider, names namer, bars barProvider, perfBuilder *perf.Builder, aud *audit.Service, logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{
		initDate:    marketCfg.InitDate,
		initialCash: marketCfg.InitialCash,
		ledgerDir:   ledgerCfg.Dir,
		universe:    market.DefaultUniverse(market.Kind(marketCfg.Kind)),
		engine:      eng,
		calendar:    cal,
		names:       names,
		bars:        bars,
		perf:        perfBuilder,
		audit:       aud,
		logger:      logger,
		ledgers:     make(map[string]*ledger.Ledger),
		flags:       make(map[string]bool),
	}
}

// Buy 为 agent 在 instant 会话买入 amount 股 symbol。
func (b *Broker) Buy(ctx context.Context, agent, instant, symbol string, amount int) (map[string]float64, error) {
	return b.execute(ctx, agent, instant, ledger.ActionBuy, symbol, amount)
}

// Sell 为 agent 在 instant 会话卖出 amount 股 symbol（空头仓位时为回补）。
func (b *Broker) Sell(ctx context.Context, agent, instant, symbol string, amount int) (map[string]float64, error) {
	return b.execute(ctx, agent, instant, ledger.ActionSell, symbol, amount)
}

// Short 为 agent 在 instant 会话开空 amount 股 symbol。
func (b *Broker) Short(ctx context.Context, agent, instant, symbol string, amount int) (map[string]float64, error) {
	return b.execute(ctx, agent, instant, ledger.ActionShort, symbol, amount)
}

func (b *Broker) execute(ctx context.Context, agent, instantRaw string, kind ledger.ActionKind, symbol string, amount int) (map[string]float64, error) {
	instant, err := market.ParseInstant(instantRaw)
	if err != nil {
		return nil, fmt.Errorf("broker: 解析会话时刻失败: %w", err)
	}
	book, err := b.book(ctx, agent)
	if err != nil {
		return nil, err
	}

	snap, err := b.engine.Execute(ctx, book, instant, kind, symbol, amount)
	if err != nil {
		if engine.IsRejection(err) {
			b.logger.Info("委托被拒绝",
				zap.String("agent", agent),
				zap.String("action", string(kind)),
				zap.String("symbol", symbol),
				zap.Int("amount", amount),
				zap.String("reason", err.Error()))
			if b.audit != nil {
				b.audit.RecordTradeRejected(ctx, audit.TradeRejectedPayload{
					Agent:  agent,
					Date:   instant.Raw,
					Action: string(kind),
					Symbol: symbol,
					Amount: amount,
					Reason: err.Error(),
				})
			}
		}
		return nil, err
	}

	b.mu.Lock()
	b.flags[agent] = true
	b.mu.Unlock()

	if b.audit != nil {
		b.audit.RecordTradeExecuted(ctx, audit.TradeExecutedPayload{
			Agent:    agent,
			Date:     snap.Date,
			Action:   string(kind),
			Symbol:   symbol,
			Amount:   amount,
			LedgerID: snap.ID,
			Cash:     snap.Positions[market.CashSymbol],
		})
	}
	return snap.Positions, nil
}

// RecordNoTrade 为 agent 在 instant 会话记录一次明确的不交易决定。
func (b *Broker) RecordNoTrade(ctx context.Context, agent, instantRaw string) (map[string]float64, error) {
	instant, err := market.ParseInstant(instantRaw)
	if err != nil {
		return nil, fmt.Errorf("broker: 解析会话时刻失败: %w", err)
	}
	book, err := b.book(ctx, agent)
	if err != nil {
		return nil, err
	}

	snap, err := b.engine.RecordNoTrade(book, instant)
	if err != nil {
		return nil, err
	}
	if b.audit != nil {
		b.audit.RecordNoTrade(ctx, audit.NoTradePayload{
			Agent:    agent,
			Date:     snap.Date,
			LedgerID: snap.ID,
		})
	}
	return snap.Positions, nil
}

// ConsumeTradeFlag 读取并清除 agent 的"本会话已交易"标记。
func (b *Broker) ConsumeTradeFlag(agent string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	v := b.flags[agent]
	b.flags[agent] = false
	return v
}

// GetLatestPosition 返回 agent 在 instant 会话可见的最新持仓与账本序号。
// 账本无可见记录时返回空持仓与 ledger.NotFoundID。
func (b *Broker) GetLatestPosition(ctx context.Context, agent, instantRaw string) (map[string]float64, int, error) {
	instant, err := market.ParseInstant(instantRaw)
	if err != nil {
		return nil, ledger.NotFoundID, fmt.Errorf("broker: 解析会话时刻失败: %w", err)
	}
	book, err := b.book(ctx, agent)
	if err != nil {
		return nil, ledger.NotFoundID, err
	}
	if err := book.Lock(); err != nil {
		return nil, ledger.NotFoundID, fmt.Errorf("broker: 获取账本锁失败: %w", err)
	}
	defer book.Unlock()
	return book.LatestAt(instant)
}

// GetOpeningPosition 返回 agent 在 instant 会话开始前（严格早于该会话）的持仓。
func (b *Broker) GetOpeningPosition(ctx context.Context, agent, instantRaw string) (map[string]float64, int, error) {
	instant, err := market.ParseInstant(instantRaw)
	if err != nil {
		return nil, ledger.NotFoundID, fmt.Errorf("broker: 解析会话时刻失败: %w", err)
	}
	book, err := b.book(ctx, agent)
	if err != nil {
		return nil, ledger.NotFoundID, err
	}
	if err := book.Lock(); err != nil {
		return nil, ledger.NotFoundID, fmt.Errorf("broker: 获取账本锁失败: %w", err)
	}
	defer book.Unlock()
	return book.LatestBefore(instant)
}

// Holding 为开盘持仓报告中的一条记录。
type Holding struct {
	Symbol string  `json:"symbol"`
	Name   string  `json:"name,omitempty"`
	Shares float64 `json:"shares"`
}

// OpeningReport 汇总 agent 会话开始前的现金与非零持仓。
type OpeningReport struct {
	Agent    string    `json:"agent"`
	Date     string    `json:"date"`
	Cash     float64   `json:"cash"`
	Holdings []Holding `json:"holdings"`
}

// BuildOpeningReport 生成会话开始前的持仓报告，标的按代码排序并附带名称。
func (b *Broker) BuildOpeningReport(ctx context.Context, agent, instantRaw string) (*OpeningReport, error) {
	positions, _, err := b.GetOpeningPosition(ctx, agent, instantRaw)
	if err != nil {
		return nil, err
	}

	report := &OpeningReport{
		Agent: agent,
		Date:  instantRaw,
		Cash:  positions[market.CashSymbol],
	}
	for symbol, shares := range positions {
		if symbol == market.CashSymbol || shares == 0 {
			continue
		}
		h := Holding{Symbol: symbol, Shares: shares}
		if b.names != nil {
			h.Name = b.names.Name(symbol)
		}
		report.Holdings = append(report.Holdings, h)
	}
	sort.Slice(report.Holdings, func(i, j int) bool {
		return report.Holdings[i].Symbol < report.Holdings[j].Symbol
	})
	return report, nil
}

// TodayBars 返回 symbol 当前交易日的盘中分钟线。
func (b *Broker) TodayBars(ctx context.Context, symbol string) ([]feed.Bar, error) {
	if b.bars == nil {
		return nil, errors.New("broker: 未配置行情缓存")
	}
	return b.bars.Today(ctx, symbol)
}

// YesterdayBars 返回 symbol 前一交易日的盘中分钟线。
func (b *Broker) YesterdayBars(ctx context.Context, symbol string) ([]feed.Bar, error) {
	if b.bars == nil {
		return nil, errors.New("broker: 未配置行情缓存")
	}
	return b.bars.PreviousDay(ctx, symbol)
}

// PerformanceReport 基于账本历史生成 agent 的净值曲线与绩效指标。
func (b *Broker) PerformanceReport(ctx context.Context, agent string) (*perf.Report, error) {
	if b.perf == nil {
		return nil, errors.New("broker: 未配置绩效统计")
	}
	book, err := b.book(ctx, agent)
	if err != nil {
		return nil, err
	}
	history, err := book.History()
	if err != nil {
		return nil, err
	}
	return b.perf.Build(agent, history)
}

// Reset 清空 agent 的账本并重新写入初始快照。
func (b *Broker) Reset(ctx context.Context, agent string) error {
	book, err := b.book(ctx, agent)
	if err != nil {
		return err
	}
	if err := book.Reset(b.initDate, b.initialCash, b.universe); err != nil {
		return err
	}
	if b.audit != nil {
		b.audit.RecordRegistration(ctx, audit.RegistrationPayload{
			Agent:       agent,
			InitDate:    b.initDate,
			InitialCash: b.initialCash,
			Universe:    len(b.universe),
		})
	}
	return nil
}

// book 返回 agent 的账本，首次访问时完成注册。
func (b *Broker) book(ctx context.Context, agent string) (*ledger.Ledger, error) {
	if agent == "" {
		return nil, ErrMissingAgent
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if led, ok := b.ledgers[agent]; ok {
		return led, nil
	}

	led, err := ledger.New(b.ledgerDir, agent, b.calendar, b.logger)
	if err != nil {
		return nil, err
	}
	if !led.Exists() {
		if err := led.Register(b.initDate, b.initialCash, b.universe); err != nil {
			return nil, err
		}
		b.logger.Info("注册新账户",
			zap.String("agent", agent),
			zap.String("init_date", b.initDate),
			zap.Float64("initial_cash", b.initialCash))
		if b.audit != nil {
			b.audit.RecordRegistration(ctx, audit.RegistrationPayload{
				Agent:       agent,
				InitDate:    b.initDate,
				InitialCash: b.initialCash,
				Universe:    len(b.universe),
			})
		}
	}
	b.ledgers[agent] = led
	return led, nil
}
