package market

import (
	"fmt"
	"strings"
	"time"
)

const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02 15:04:05"
)

// SessionMode 区分按日结算与盘中实时两种交易会话。
type SessionMode string

const (
	// SessionDaily 表示仅含日期的会话，价格取自历史日线数据集。
	SessionDaily SessionMode = "daily"
	// SessionIntraday 表示带时间戳的会话，价格取自实时行情源。
	SessionIntraday SessionMode = "intraday"
)

// Instant 表示一次交易指令发生的时点，可能只精确到日，也可能带完整时间。
// Raw 保留原始字符串，账本记录与排序均以该字符串为准。
type Instant struct {
	Raw      string
	Time     time.Time
	DateOnly bool
}

// ParseInstant 解析交易时点字符串，支持 "2006-01-02"、"2006-01-02 15:04:05"
// 以及带 T 分隔符的 ISO 8601 形式。
func ParseInstant(raw string) (Instant, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Instant{}, fmt.Errorf("market: 交易时点不能为空")
	}

	if t, err := time.Parse(dateLayout, s); err == nil {
		return Instant{Raw: s, Time: t, DateOnly: true}, nil
	}
	if t, err := time.Parse(dateTimeLayout, s); err == nil {
		return Instant{Raw: s, Time: t}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		normalized := t.Format(dateTimeLayout)
		return Instant{Raw: normalized, Time: t}, nil
	}
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return Instant{Raw: strings.Replace(s, "T", " ", 1), Time: t}, nil
	}

	return Instant{}, fmt.Errorf("market: 无法解析交易时点 %q", raw)
}

// Mode 返回该时点对应的会话类型。
func (i Instant) Mode() SessionMode {
	if i.DateOnly {
		return SessionDaily
	}
	return SessionIntraday
}

// SessionDate 返回时点所属交易日，格式 YYYY-MM-DD。
func (i Instant) SessionDate() string {
	if i.DateOnly {
		return i.Raw
	}
	return i.Time.Format(dateLayout)
}

// String 返回原始字符串表示。
func (i Instant) String() string {
	return i.Raw
}
