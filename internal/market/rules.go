package market

import "strings"

// Kind 标识标的所属市场。
type Kind string

const (
	// KindUS 表示美股市场，无整手与 T+1 限制。
	KindUS Kind = "us"
	// KindCN 表示A股市场，整手交易且当日买入不可卖出。
	KindCN Kind = "cn"
)

// Rules 描述某一市场的交易规则，按标的命名约定选择。
type Rules struct {
	Kind            Kind
	LotSize         int
	SameDayRestrict bool
}

var (
	usRules = Rules{Kind: KindUS, LotSize: 1}
	cnRules = Rules{Kind: KindCN, LotSize: 100, SameDayRestrict: true}
)

// RulesFor 根据标的命名约定返回适用的交易规则：
// 以 .SH/.SZ 结尾的标的视为A股，其余视为美股。
func RulesFor(symbol string) Rules {
	if IsLotMarketSymbol(symbol) {
		return cnRules
	}
	return usRules
}

// IsLotMarketSymbol 判断标的是否属于整手交易市场。
func IsLotMarketSymbol(symbol string) bool {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	return strings.HasSuffix(s, ".SH") || strings.HasSuffix(s, ".SZ")
}

// CashSymbol 为持仓映射中预留的现金键。
const CashSymbol = "CASH"
