package engine

import (
	"errors"
	"fmt"
)

// IsRejection 判断错误是否为业务校验拒绝（区别于基础设施故障）。
// 拒绝不改变账本，调用方可将其原样转达给决策方。
func IsRejection(err error) bool {
	var (
		invalidAmount     *InvalidAmountError
		lotSize           *LotSizeError
		insufficientCash  *InsufficientCashError
		noPosition        *NoPositionError
		insufficientShare *InsufficientSharesError
		sameDay           *SameDayRestrictionError
		conflicting       *ConflictingPositionError
		positionLimit     *PositionLimitError
		symbolNotFound    *SymbolNotFoundError
	)
	switch {
	case errors.As(err, &invalidAmount),
		errors.As(err, &lotSize),
		errors.As(err, &insufficientCash),
		errors.As(err, &noPosition),
		errors.As(err, &insufficientShare),
		errors.As(err, &sameDay),
		errors.As(err, &conflicting),
		errors.As(err, &positionLimit),
		errors.As(err, &symbolNotFound):
		return true
	}
	return false
}

// InvalidAmountError 表示委托数量非法（必须为正整数）。
type InvalidAmountError struct {
	Symbol  string
	Instant string
	Amount  int
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("Invalid amount %d! Amount must be a positive integer.", e.Amount)
}

// LotSizeError 表示委托数量不是该市场最小交易单位的整数倍。
type LotSizeError struct {
	Symbol       string
	Instant      string
	Amount       int
	LotSize      int
	SuggestBelow int
	SuggestAbove int
}

func (e *LotSizeError) Error() string {
	return fmt.Sprintf("Invalid amount %d for %s! Amount must be a multiple of %d, you may adjust to %d or %d.",
		e.Amount, e.Symbol, e.LotSize, e.SuggestBelow, e.SuggestAbove)
}

// InsufficientCashError 表示买入所需资金超过当前现金余额。
type InsufficientCashError struct {
	Symbol    string
	Instant   string
	Required  float64
	Available float64
}

func (e *InsufficientCashError) Error() string {
	return fmt.Sprintf("Insufficient cash! Required %.2f but only %.2f available. This action will not be allowed.",
		e.Required, e.Available)
}

// NoPositionError 表示卖出时账户中不存在该标的持仓。
type NoPositionError struct {
	Symbol  string
	Instant string
}

func (e *NoPositionError) Error() string {
	return fmt.Sprintf("No position in %s! This action will not be allowed.", e.Symbol)
}

// InsufficientSharesError 表示卖出数量超过当前可用持仓。
type InsufficientSharesError struct {
	Symbol  string
	Instant string
	Have    int
	Want    int
}

func (e *InsufficientSharesError) Error() string {
	return fmt.Sprintf("Insufficient shares of %s! You hold %d but want to sell %d. This action will not be allowed.",
		e.Symbol, e.Have, e.Want)
}

// SameDayRestrictionError 表示触发 T+1 限制：当日买入的份额当日不可卖出。
type SameDayRestrictionError struct {
	Symbol        string
	Instant       string
	Total         int
	BoughtToday   int
	SellableToday int
	Want          int
}

func (e *SameDayRestrictionError) Error() string {
	return fmt.Sprintf("T+1 restriction on %s! You hold %d shares but %d were bought today, only %d are sellable today, want %d. This action will not be allowed.",
		e.Symbol, e.Total, e.BoughtToday, e.SellableToday, e.Want)
}

// ConflictingPositionError 表示已持有多头仓位时尝试开空。
type ConflictingPositionError struct {
	Symbol  string
	Instant string
	Current int
}

func (e *ConflictingPositionError) Error() string {
	return fmt.Sprintf("Conflicting position in %s! You already hold %d shares long, sell them before opening a short. This action will not be allowed.",
		e.Symbol, e.Current)
}

// PositionLimitError 表示开空后的空头规模超过现金可覆盖的上限。
type PositionLimitError struct {
	Symbol   string
	Instant  string
	MaxShort int
	Want     int
}

func (e *PositionLimitError) Error() string {
	return fmt.Sprintf("Position limit exceeded on %s! Maximum short size is %d but this action would reach %d. This action will not be allowed.",
		e.Symbol, e.MaxShort, e.Want)
}

// SymbolNotFoundError 表示无法在当前会话解析该标的的成交价格。
type SymbolNotFoundError struct {
	Symbol  string
	Instant string
}

func (e *SymbolNotFoundError) Error() string {
	return fmt.Sprintf("Symbol %s not found at %s! This action will not be allowed.", e.Symbol, e.Instant)
}
