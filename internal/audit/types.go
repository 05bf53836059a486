package audit

import "time"

// EventType 表示审计事件类型。
type EventType string

const (
	EventTradeExecuted EventType = "trade_executed"
	EventTradeRejected EventType = "trade_rejected"
	EventNoTrade       EventType = "no_trade"
	EventRegistration  EventType = "registration"
	EventError         EventType = "error"

	EventDegradedCalendar EventType = "degraded_calendar"
)

// Event 封装通用审计事件。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// TradeExecutedPayload 记录一笔成交。
type TradeExecutedPayload struct {
	Agent    string  `json:"agent"`
	Date     string  `json:"date"`
	Action   string  `json:"action"`
	Symbol   string  `json:"symbol"`
	Amount   int     `json:"amount"`
	LedgerID int     `json:"ledger_id"`
	Cash     float64 `json:"cash"`
}

// TradeRejectedPayload 记录一笔被拒绝的委托及原因。
type TradeRejectedPayload struct {
	Agent  string `json:"agent"`
	Date   string `json:"date"`
	Action string `json:"action"`
	Symbol string `json:"symbol"`
	Amount int    `json:"amount"`
	Reason string `json:"reason"`
}

// NoTradePayload 记录一次明确的不交易决定。
type NoTradePayload struct {
	Agent    string `json:"agent"`
	Date     string `json:"date"`
	LedgerID int    `json:"ledger_id"`
}

// RegistrationPayload 记录账户注册。
type RegistrationPayload struct {
	Agent       string  `json:"agent"`
	InitDate    string  `json:"init_date"`
	InitialCash float64 `json:"initial_cash"`
	Universe    int     `json:"universe"`
}

// DegradedCalendarPayload 记录一次日历降级：请求落在全部已知交易日历之外，
// 系统退回朴素日期推算。
type DegradedCalendarPayload struct {
	Request       string `json:"request"`
	KnownInstants int    `json:"known_instants"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}
