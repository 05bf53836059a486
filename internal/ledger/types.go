package ledger

// ActionKind 标识产生快照的操作类型。
type ActionKind string

const (
	ActionInit    ActionKind = "init"
	ActionBuy     ActionKind = "buy"
	ActionSell    ActionKind = "sell"
	ActionShort   ActionKind = "short"
	ActionNoTrade ActionKind = "no_trade"
)

// Action 描述一次账本变更携带的操作信息。
type Action struct {
	Kind   ActionKind `json:"action"`
	Symbol string     `json:"symbol"`
	Amount int        `json:"amount"`
}

// Snapshot 为账本中的一条不可变记录：操作发生后的完整持仓。
// Positions 以标的为键，CASH 为保留键；普通标的为股数（可为负，表示
// 未平仓的空头），CASH 为非负现金额。
type Snapshot struct {
	Date      string             `json:"date"`
	ID        int                `json:"id"`
	Action    *Action            `json:"this_action,omitempty"`
	Positions map[string]float64 `json:"positions"`
}

// NotFoundID 为账本为空时约定返回的序号。
const NotFoundID = -1

// ClonePositions 返回持仓映射的浅拷贝。
func ClonePositions(positions map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(positions))
	for k, v := range positions {
		out[k] = v
	}
	return out
}
