package engine

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"agent-trader/internal/ledger"
	"agent-trader/internal/market"
)

// Side 表示价格解析方向：买入侧取建仓价，卖出/做空侧取离场价。
type Side int

const (
	SideAcquire Side = iota
	SideDispose
)

// PriceOracle 按会话时刻解析标的的成交价格。
type PriceOracle interface {
	ExecutionPrice(ctx context.Context, symbol string, instant market.Instant, side Side) (float64, error)
}

// positionBook 是执行引擎消费的账本能力。
type positionBook interface {
	Lock() error
	Unlock()
	LatestAt(instant market.Instant) (map[string]float64, int, error)
	BoughtInSession(instant market.Instant, symbol string) (int, error)
	Append(snap ledger.Snapshot) error
}

// Engine 是交易执行引擎：在账本锁内完成 读取-定价-校验-落账 的原子提交。
type Engine struct {
	oracle PriceOracle
	logger *zap.Logger
}

func New(oracle PriceOracle, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{oracle: oracle, logger: logger}
}

// Execute 在 instant 会话按 kind 执行一笔交易并返回落账后的快照。
// 校验失败返回本包的结构化错误，账本保持不变。
func (e *Engine) Execute(ctx context.Context, book positionBook, instant market.Instant, kind ledger.ActionKind, symbol string, amount int) (ledger.Snapshot, error) {
	if amount <= 0 {
		return ledger.Snapshot{}, &InvalidAmountError{Symbol: symbol, Instant: instant.Raw, Amount: amount}
	}

	rules := market.RulesFor(symbol)
	if rules.LotSize > 1 && amount%rules.LotSize != 0 {
		below := amount / rules.LotSize * rules.LotSize
		return ledger.Snapshot{}, &LotSizeError{
			Symbol:       symbol,
			Instant:      instant.Raw,
			Amount:       amount,
			LotSize:      rules.LotSize,
			SuggestBelow: below,
			SuggestAbove: below + rules.LotSize,
		}
	}

	if err := book.Lock(); err != nil {
		return ledger.Snapshot{}, fmt.Errorf("engine: 获取账本锁失败: %w", err)
	}
	defer book.Unlock()

	prev, prevID, err := book.LatestAt(instant)
	if err != nil {
		return ledger.Snapshot{}, fmt.Errorf("engine: 读取最新持仓失败: %w", err)
	}

	side := SideAcquire
	if kind == ledger.ActionSell || kind == ledger.ActionShort {
		side = SideDispose
	}
	price, err := e.oracle.ExecutionPrice(ctx, symbol, instant, side)
	if err != nil {
		var notFound *SymbolNotFoundError
		if errors.As(err, &notFound) {
			return ledger.Snapshot{}, err
		}
		e.logger.Warn("价格解析失败，拒绝交易",
			zap.String("symbol", symbol),
			zap.String("instant", instant.Raw),
			zap.Error(err))
		return ledger.Snapshot{}, &SymbolNotFoundError{Symbol: symbol, Instant: instant.Raw}
	}

	next := ledger.ClonePositions(prev)
	cash := next[market.CashSymbol]
	current := int(math.Round(next[symbol]))
	notional := price * float64(amount)

	switch kind {
	case ledger.ActionBuy:
		if cash < notional {
			return ledger.Snapshot{}, &InsufficientCashError{Symbol: symbol, Instant: instant.Raw, Required: notional, Available: cash}
		}
		next[symbol] = float64(current + amount)
		next[market.CashSymbol] = cash - notional

	case ledger.ActionSell:
		switch {
		case current < 0:
			// 卖出指令用于平空：回补同样消耗现金。
			if -current < amount {
				return ledger.Snapshot{}, &InsufficientSharesError{Symbol: symbol, Instant: instant.Raw, Have: current, Want: amount}
			}
			if cash < notional {
				return ledger.Snapshot{}, &InsufficientCashError{Symbol: symbol, Instant: instant.Raw, Required: notional, Available: cash}
			}
			next[symbol] = float64(current + amount)
			next[market.CashSymbol] = cash - notional
		case current == 0:
			return ledger.Snapshot{}, &NoPositionError{Symbol: symbol, Instant: instant.Raw}
		case current < amount:
			return ledger.Snapshot{}, &InsufficientSharesError{Symbol: symbol, Instant: instant.Raw, Have: current, Want: amount}
		default:
			if rules.SameDayRestrict {
				bought, err := book.BoughtInSession(instant, symbol)
				if err != nil {
					return ledger.Snapshot{}, fmt.Errorf("engine: 统计当日买入失败: %w", err)
				}
				sellable := current - bought
				if sellable < 0 {
					sellable = 0
				}
				if bought > 0 && amount > sellable {
					return ledger.Snapshot{}, &SameDayRestrictionError{
						Symbol:        symbol,
						Instant:       instant.Raw,
						Total:         current,
						BoughtToday:   bought,
						SellableToday: sellable,
						Want:          amount,
					}
				}
			}
			next[symbol] = float64(current - amount)
			next[market.CashSymbol] = cash + notional
		}

	case ledger.ActionShort:
		if current > 0 {
			return ledger.Snapshot{}, &ConflictingPositionError{Symbol: symbol, Instant: instant.Raw, Current: current}
		}
		maxShort := int(math.Floor(cash / price))
		target := -current + amount
		if target > maxShort {
			return ledger.Snapshot{}, &PositionLimitError{Symbol: symbol, Instant: instant.Raw, MaxShort: maxShort, Want: target}
		}
		next[symbol] = float64(current - amount)
		next[market.CashSymbol] = cash + notional

	default:
		return ledger.Snapshot{}, fmt.Errorf("engine: 不支持的交易动作: %s", kind)
	}

	snap := ledger.Snapshot{
		Date:      instant.Raw,
		ID:        prevID + 1,
		Action:    &ledger.Action{Kind: kind, Symbol: symbol, Amount: amount},
		Positions: next,
	}
	if err := book.Append(snap); err != nil {
		return ledger.Snapshot{}, fmt.Errorf("engine: 落账失败: %w", err)
	}

	e.logger.Info("交易执行成功",
		zap.String("action", string(kind)),
		zap.String("symbol", symbol),
		zap.Int("amount", amount),
		zap.Float64("price", price),
		zap.Int("id", snap.ID))
	return snap, nil
}

// RecordNoTrade 在 instant 会话落一条 no_trade 记录，持仓原样延续。
func (e *Engine) RecordNoTrade(book positionBook, instant market.Instant) (ledger.Snapshot, error) {
	if err := book.Lock(); err != nil {
		return ledger.Snapshot{}, fmt.Errorf("engine: 获取账本锁失败: %w", err)
	}
	defer book.Unlock()

	prev, prevID, err := book.LatestAt(instant)
	if err != nil {
		return ledger.Snapshot{}, fmt.Errorf("engine: 读取最新持仓失败: %w", err)
	}
	snap := ledger.Snapshot{
		Date:      instant.Raw,
		ID:        prevID + 1,
		Action:    &ledger.Action{Kind: ledger.ActionNoTrade},
		Positions: ledger.ClonePositions(prev),
	}
	if err := book.Append(snap); err != nil {
		return ledger.Snapshot{}, fmt.Errorf("engine: 落账失败: %w", err)
	}
	return snap, nil
}
