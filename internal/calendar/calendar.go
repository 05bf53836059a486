package calendar

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"agent-trader/internal/market"
)

const dateLayout = "2006-01-02"

// degradedRecorder 接收日历降级事件，供审计留痕。
type degradedRecorder interface {
	RecordDegradedCalendar(request string, knownInstants int)
}

// Provider 负责解析"上一个交易时点"并判定交易日。交易时点集合来自
// 历史数据集与（可选的）行情源日历；当请求落在全部已知数据之外时，
// 进入显式记录的降级模式：仅跳过周末做朴素回退。
type Provider struct {
	instants []string
	days     []string
	logger   *zap.Logger
	recorder degradedRecorder
}

// New 依据已知交易时点集合构建日历。instants 可同时包含日期与带时间的
// 时点；days 集合由其中的日期部分去重而来。
func New(instants []string, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}

	sorted := make([]string, len(instants))
	copy(sorted, instants)
	sort.Strings(sorted)

	daySet := make(map[string]struct{}, len(sorted))
	for _, ts := range sorted {
		if len(ts) >= 10 {
			daySet[ts[:10]] = struct{}{}
		}
	}
	days := make([]string, 0, len(daySet))
	for d := range daySet {
		days = append(days, d)
	}
	sort.Strings(days)

	return &Provider{instants: sorted, days: days, logger: logger}
}

// SetRecorder 注入降级事件的审计接收方，需在开始服务前调用。
func (p *Provider) SetRecorder(recorder degradedRecorder) {
	p.recorder = recorder
}

// Merge 合并额外的交易时点（如行情源日历返回的交易日）。
func (p *Provider) Merge(instants []string) *Provider {
	combined := make([]string, 0, len(p.instants)+len(instants))
	combined = append(combined, p.instants...)
	combined = append(combined, instants...)
	merged := New(combined, p.logger)
	merged.recorder = p.recorder
	return merged
}

// IsTradingDay 判断日期是否为已知交易日。没有任何日历数据时返回
// 工作日判定（降级模式）。
func (p *Provider) IsTradingDay(date string) bool {
	if len(p.days) == 0 {
		t, err := time.Parse(dateLayout, date)
		if err != nil {
			return false
		}
		p.logDegraded(date)
		return t.Weekday() != time.Saturday && t.Weekday() != time.Sunday
	}
	i := sort.SearchStrings(p.days, date)
	return i < len(p.days) && p.days[i] == date
}

// PreviousInstant 返回指定时点的上一个交易时点，格式与输入一致：
// 日期输入得到上一交易日，带时间输入得到上一已知时点。已知数据无法
// 覆盖时降级为朴素回退（跳过周末 / 回退一小时）并记录日志。
func (p *Provider) PreviousInstant(instant market.Instant) string {
	if instant.DateOnly {
		return p.PreviousTradingDay(instant.Raw)
	}

	if prev, ok := p.searchBefore(p.instants, instant.Raw); ok {
		return prev
	}

	p.logDegraded(instant.Raw)
	return instant.Time.Add(-time.Hour).Format("2006-01-02 15:04:05")
}

// PreviousTradingDay 返回指定日期之前最近的交易日。
func (p *Provider) PreviousTradingDay(date string) string {
	if prev, ok := p.searchBefore(p.days, date); ok {
		return prev
	}

	p.logDegraded(date)
	t, err := time.Parse(dateLayout, date)
	if err != nil {
		return date
	}
	prev := t.AddDate(0, 0, -1)
	for prev.Weekday() == time.Saturday || prev.Weekday() == time.Sunday {
		prev = prev.AddDate(0, 0, -1)
	}
	return prev.Format(dateLayout)
}

// searchBefore 在升序切片中查找严格小于 key 的最大元素。
func (p *Provider) searchBefore(sorted []string, key string) (string, bool) {
	i := sort.SearchStrings(sorted, key)
	if i == 0 {
		return "", false
	}
	return sorted[i-1], true
}

func (p *Provider) logDegraded(request string) {
	p.logger.Warn("日历数据未覆盖请求，降级为朴素回退",
		zap.String("request", request),
		zap.Int("known_instants", len(p.instants)),
	)
	if p.recorder != nil {
		p.recorder.RecordDegradedCalendar(request, len(p.instants))
	}
}
