package calendar

import (
	"testing"

	"agent-trader/internal/market"
)

func mustInstant(t *testing.T, raw string) market.Instant {
	t.Helper()
	instant, err := market.ParseInstant(raw)
	if err != nil {
		t.Fatalf("ParseInstant(%q) returned error: %v", raw, err)
	}
	return instant
}

func TestPreviousTradingDayFromKnownDays(t *testing.T) {
	p := New([]string{"2025-01-02", "2025-01-03", "2025-01-06"}, nil)

	if got := p.PreviousTradingDay("2025-01-06"); got != "2025-01-03" {
		t.Errorf("expected 2025-01-03, got %s", got)
	}
	if got := p.PreviousTradingDay("2025-01-03"); got != "2025-01-02" {
		t.Errorf("expected 2025-01-02, got %s", got)
	}
}

func TestPreviousTradingDayDegradedSkipsWeekend(t *testing.T) {
	p := New(nil, nil)

	// 2025-01-06 是周一，朴素回退应跳过周末落在周五。
	if got := p.PreviousTradingDay("2025-01-06"); got != "2025-01-03" {
		t.Errorf("expected weekend-skipping fallback 2025-01-03, got %s", got)
	}
	if got := p.PreviousTradingDay("2025-01-08"); got != "2025-01-07" {
		t.Errorf("expected plain previous day 2025-01-07, got %s", got)
	}
}

func TestPreviousInstantIntraday(t *testing.T) {
	p := New([]string{
		"2025-01-03 10:00:00",
		"2025-01-03 10:05:00",
		"2025-01-03 10:10:00",
	}, nil)

	got := p.PreviousInstant(mustInstant(t, "2025-01-03 10:10:00"))
	if got != "2025-01-03 10:05:00" {
		t.Errorf("expected previous known instant, got %s", got)
	}
}

func TestPreviousInstantIntradayDegraded(t *testing.T) {
	p := New(nil, nil)

	got := p.PreviousInstant(mustInstant(t, "2025-01-03 10:30:00"))
	if got != "2025-01-03 09:30:00" {
		t.Errorf("expected one-hour fallback, got %s", got)
	}
}

func TestIsTradingDay(t *testing.T) {
	p := New([]string{"2025-01-02", "2025-01-03"}, nil)

	if !p.IsTradingDay("2025-01-02") {
		t.Errorf("2025-01-02 should be a trading day")
	}
	if p.IsTradingDay("2025-01-04") {
		t.Errorf("2025-01-04 should not be a trading day")
	}
}

func TestIsTradingDayDegradedUsesWeekdays(t *testing.T) {
	p := New(nil, nil)

	if !p.IsTradingDay("2025-01-06") {
		t.Errorf("monday should count as trading day in degraded mode")
	}
	if p.IsTradingDay("2025-01-04") {
		t.Errorf("saturday should not count as trading day")
	}
}

type stubRecorder struct {
	requests []string
	known    []int
}

func (r *stubRecorder) RecordDegradedCalendar(request string, knownInstants int) {
	r.requests = append(r.requests, request)
	r.known = append(r.known, knownInstants)
}

func TestDegradedFallbackRecordsAuditEvent(t *testing.T) {
	rec := &stubRecorder{}
	p := New(nil, nil)
	p.SetRecorder(rec)

	p.PreviousTradingDay("2025-01-06")
	if len(rec.requests) != 1 || rec.requests[0] != "2025-01-06" {
		t.Fatalf("expected one degraded event for 2025-01-06, got %+v", rec.requests)
	}
	if rec.known[0] != 0 {
		t.Errorf("expected known_instants 0, got %d", rec.known[0])
	}
}

func TestCoveredRequestRecordsNothing(t *testing.T) {
	rec := &stubRecorder{}
	p := New([]string{"2025-01-02", "2025-01-03"}, nil)
	p.SetRecorder(rec)

	p.PreviousTradingDay("2025-01-03")
	p.IsTradingDay("2025-01-02")
	if len(rec.requests) != 0 {
		t.Errorf("expected no degraded events, got %+v", rec.requests)
	}
}

func TestMergeKeepsRecorder(t *testing.T) {
	rec := &stubRecorder{}
	p := New(nil, nil)
	p.SetRecorder(rec)
	p = p.Merge(nil)

	p.PreviousTradingDay("2025-01-06")
	if len(rec.requests) != 1 {
		t.Errorf("expected recorder to survive merge, got %+v", rec.requests)
	}
}

func TestMergeExtendsCalendar(t *testing.T) {
	p := New([]string{"2025-01-02"}, nil)
	p = p.Merge([]string{"2025-01-03"})

	if got := p.PreviousTradingDay("2025-01-03"); got != "2025-01-02" {
		t.Errorf("expected 2025-01-02, got %s", got)
	}
	if !p.IsTradingDay("2025-01-03") {
		t.Errorf("merged day should be a trading day")
	}
}
