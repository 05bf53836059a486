package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"agent-trader/internal/ledger"
	"agent-trader/internal/market"
)

type memBook struct {
	mu      sync.Mutex
	initial map[string]float64
	records []ledger.Snapshot
}

func (b *memBook) Lock() error {
	b.mu.Lock()
	return nil
}

func (b *memBook) Unlock() {
	b.mu.Unlock()
}

func (b *memBook) LatestAt(instant market.Instant) (map[string]float64, int, error) {
	if len(b.records) == 0 {
		return ledger.ClonePositions(b.initial), 0, nil
	}
	last := b.records[len(b.records)-1]
	return ledger.ClonePositions(last.Positions), last.ID, nil
}

func (b *memBook) BoughtInSession(instant market.Instant, symbol string) (int, error) {
	session := instant.SessionDate()
	total := 0
	for _, rec := range b.records {
		if len(rec.Date) < 10 || rec.Date[:10] != session {
			continue
		}
		if rec.Action != nil && rec.Action.Kind == ledger.ActionBuy && rec.Action.Symbol == symbol {
			total += rec.Action.Amount
		}
	}
	return total, nil
}

func (b *memBook) Append(snap ledger.Snapshot) error {
	b.records = append(b.records, snap)
	return nil
}

type stubOracle struct {
	prices map[string]float64
}

func (o *stubOracle) ExecutionPrice(ctx context.Context, symbol string, instant market.Instant, side Side) (float64, error) {
	price, ok := o.prices[symbol]
	if !ok {
		return 0, &SymbolNotFoundError{Symbol: symbol, Instant: instant.Raw}
	}
	return price, nil
}

func newTestEngine(prices map[string]float64) *Engine {
	return New(&stubOracle{prices: prices}, nil)
}

func mustInstant(t *testing.T, raw string) market.Instant {
	t.Helper()
	instant, err := market.ParseInstant(raw)
	if err != nil {
		t.Fatalf("ParseInstant(%q) returned error: %v", raw, err)
	}
	return instant
}

func TestExecuteBuyDebitsCash(t *testing.T) {
	eng := newTestEngine(map[string]float64{"AAPL": 100})
	book := &memBook{initial: map[string]float64{market.CashSymbol: 10000, "AAPL": 0}}

	snap, err := eng.Execute(context.Background(), book, mustInstant(t, "2025-01-03"), ledger.ActionBuy, "AAPL", 20)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if snap.ID != 1 {
		t.Errorf("expected snapshot id 1, got %d", snap.ID)
	}
	if snap.Positions["AAPL"] != 20 {
		t.Errorf("expected AAPL=20, got %v", snap.Positions["AAPL"])
	}
	if snap.Positions[market.CashSymbol] != 8000 {
		t.Errorf("expected CASH=8000, got %v", snap.Positions[market.CashSymbol])
	}
}

func TestExecuteBuyInsufficientCash(t *testing.T) {
	eng := newTestEngine(map[string]float64{"AAPL": 100})
	book := &memBook{initial: map[string]float64{market.CashSymbol: 1000}}

	_, err := eng.Execute(context.Background(), book, mustInstant(t, "2025-01-03"), ledger.ActionBuy, "AAPL", 20)
	var cashErr *InsufficientCashError
	if !errors.As(err, &cashErr) {
		t.Fatalf("expected InsufficientCashError, got %v", err)
	}
	if cashErr.Required != 2000 || cashErr.Available != 1000 {
		t.Errorf("unexpected amounts in error: %+v", cashErr)
	}
	if cashErr.Symbol != "AAPL" || cashErr.Instant != "2025-01-03" {
		t.Errorf("expected symbol/instant on error, got %+v", cashErr)
	}
	if len(book.records) != 0 {
		t.Errorf("rejected trade must not be recorded, got %d records", len(book.records))
	}
}

func TestExecuteLotSizeValidation(t *testing.T) {
	eng := newTestEngine(map[string]float64{"600519.SH": 10})
	book := &memBook{initial: map[string]float64{market.CashSymbol: 100000}}

	_, err := eng.Execute(context.Background(), book, mustInstant(t, "2025-01-03"), ledger.ActionBuy, "600519.SH", 150)
	var lotErr *LotSizeError
	if !errors.As(err, &lotErr) {
		t.Fatalf("expected LotSizeError, got %v", err)
	}
	if lotErr.SuggestBelow != 100 || lotErr.SuggestAbove != 200 {
		t.Errorf("expected suggestions 100/200, got %d/%d", lotErr.SuggestBelow, lotErr.SuggestAbove)
	}

	if _, err := eng.Execute(context.Background(), book, mustInstant(t, "2025-01-03"), ledger.ActionBuy, "600519.SH", 200); err != nil {
		t.Fatalf("lot-multiple buy should succeed, got %v", err)
	}
}

func TestExecuteSellNoPosition(t *testing.T) {
	eng := newTestEngine(map[string]float64{"AAPL": 100})
	book := &memBook{initial: map[string]float64{market.CashSymbol: 10000, "AAPL": 0}}

	_, err := eng.Execute(context.Background(), book, mustInstant(t, "2025-01-03"), ledger.ActionSell, "AAPL", 5)
	var noPos *NoPositionError
	if !errors.As(err, &noPos) {
		t.Fatalf("expected NoPositionError, got %v", err)
	}
}

func TestExecuteSellInsufficientShares(t *testing.T) {
	eng := newTestEngine(map[string]float64{"AAPL": 100})
	book := &memBook{initial: map[string]float64{market.CashSymbol: 10000, "AAPL": 3}}

	_, err := eng.Execute(context.Background(), book, mustInstant(t, "2025-01-03"), ledger.ActionSell, "AAPL", 5)
	var shareErr *InsufficientSharesError
	if !errors.As(err, &shareErr) {
		t.Fatalf("expected InsufficientSharesError, got %v", err)
	}
	if shareErr.Have != 3 || shareErr.Want != 5 {
		t.Errorf("unexpected error detail: %+v", shareErr)
	}
	if shareErr.Symbol != "AAPL" || shareErr.Instant != "2025-01-03" {
		t.Errorf("expected symbol/instant on error, got %+v", shareErr)
	}
}

func TestExecuteSellSameDayRestriction(t *testing.T) {
	eng := newTestEngine(map[string]float64{"600519.SH": 10})
	book := &memBook{initial: map[string]float64{market.CashSymbol: 100000, "600519.SH": 100}}
	instant := mustInstant(t, "2025-01-03 10:30:00")

	if _, err := eng.Execute(context.Background(), book, instant, ledger.ActionBuy, "600519.SH", 100); err != nil {
		t.Fatalf("buy returned error: %v", err)
	}

	_, err := eng.Execute(context.Background(), book, instant, ledger.ActionSell, "600519.SH", 200)
	var t1Err *SameDayRestrictionError
	if !errors.As(err, &t1Err) {
		t.Fatalf("expected SameDayRestrictionError, got %v", err)
	}
	if t1Err.Total != 200 || t1Err.BoughtToday != 100 || t1Err.SellableToday != 100 {
		t.Errorf("unexpected restriction detail: %+v", t1Err)
	}
	if t1Err.Symbol != "600519.SH" || t1Err.Instant != instant.Raw {
		t.Errorf("expected symbol/instant on error, got %+v", t1Err)
	}

	// 只卖出昨日份额则允许。
	if _, err := eng.Execute(context.Background(), book, instant, ledger.ActionSell, "600519.SH", 100); err != nil {
		t.Fatalf("selling yesterday's shares should succeed, got %v", err)
	}
}

func TestExecuteShortConflictsWithLong(t *testing.T) {
	eng := newTestEngine(map[string]float64{"TSLA": 200})
	book := &memBook{initial: map[string]float64{market.CashSymbol: 10000, "TSLA": 5}}

	_, err := eng.Execute(context.Background(), book, mustInstant(t, "2025-01-03"), ledger.ActionShort, "TSLA", 10)
	var conflict *ConflictingPositionError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictingPositionError, got %v", err)
	}
}

func TestExecuteShortPositionLimit(t *testing.T) {
	eng := newTestEngine(map[string]float64{"TSLA": 200})
	book := &memBook{initial: map[string]float64{market.CashSymbol: 1000}}

	_, err := eng.Execute(context.Background(), book, mustInstant(t, "2025-01-03"), ledger.ActionShort, "TSLA", 6)
	var limit *PositionLimitError
	if !errors.As(err, &limit) {
		t.Fatalf("expected PositionLimitError, got %v", err)
	}
	if limit.MaxShort != 5 || limit.Want != 6 {
		t.Errorf("unexpected limit detail: %+v", limit)
	}
	if limit.Symbol != "TSLA" || limit.Instant != "2025-01-03" {
		t.Errorf("expected symbol/instant on error, got %+v", limit)
	}

	if _, err := eng.Execute(context.Background(), book, mustInstant(t, "2025-01-03"), ledger.ActionShort, "TSLA", 5); err != nil {
		t.Fatalf("short within limit should succeed, got %v", err)
	}
}

func TestShortThenBuyToCover(t *testing.T) {
	eng := newTestEngine(map[string]float64{"TSLA": 200})
	book := &memBook{initial: map[string]float64{market.CashSymbol: 10000}}
	instant := mustInstant(t, "2025-01-03")

	snap, err := eng.Execute(context.Background(), book, instant, ledger.ActionShort, "TSLA", 10)
	if err != nil {
		t.Fatalf("short returned error: %v", err)
	}
	if snap.Positions["TSLA"] != -10 || snap.Positions[market.CashSymbol] != 12000 {
		t.Fatalf("unexpected state after short: %v", snap.Positions)
	}

	snap, err = eng.Execute(context.Background(), book, instant, ledger.ActionBuy, "TSLA", 5)
	if err != nil {
		t.Fatalf("buy-to-cover returned error: %v", err)
	}
	if snap.Positions["TSLA"] != -5 {
		t.Errorf("expected TSLA=-5 after partial cover, got %v", snap.Positions["TSLA"])
	}
	if snap.Positions[market.CashSymbol] != 11000 {
		t.Errorf("expected CASH=11000 after partial cover, got %v", snap.Positions[market.CashSymbol])
	}
}

func TestSellClosesShortConsumingCash(t *testing.T) {
	eng := newTestEngine(map[string]float64{"TSLA": 100})
	book := &memBook{initial: map[string]float64{market.CashSymbol: 2000, "TSLA": -10}}

	snap, err := eng.Execute(context.Background(), book, mustInstant(t, "2025-01-03"), ledger.ActionSell, "TSLA", 10)
	if err != nil {
		t.Fatalf("sell-to-cover returned error: %v", err)
	}
	if snap.Positions["TSLA"] != 0 {
		t.Errorf("expected flat TSLA position, got %v", snap.Positions["TSLA"])
	}
	if snap.Positions[market.CashSymbol] != 1000 {
		t.Errorf("expected CASH=1000, got %v", snap.Positions[market.CashSymbol])
	}
}

func TestExecuteInvalidAmount(t *testing.T) {
	eng := newTestEngine(map[string]float64{"AAPL": 100})
	book := &memBook{initial: map[string]float64{market.CashSymbol: 10000}}

	for _, amount := range []int{0, -5} {
		_, err := eng.Execute(context.Background(), book, mustInstant(t, "2025-01-03"), ledger.ActionBuy, "AAPL", amount)
		var invalid *InvalidAmountError
		if !errors.As(err, &invalid) {
			t.Errorf("amount %d: expected InvalidAmountError, got %v", amount, err)
		}
	}
}

func TestExecuteUnknownSymbol(t *testing.T) {
	eng := newTestEngine(map[string]float64{})
	book := &memBook{initial: map[string]float64{market.CashSymbol: 10000}}

	_, err := eng.Execute(context.Background(), book, mustInstant(t, "2025-01-03"), ledger.ActionBuy, "ZZZZ", 1)
	var notFound *SymbolNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected SymbolNotFoundError, got %v", err)
	}
	if !IsRejection(err) {
		t.Errorf("SymbolNotFoundError should classify as rejection")
	}
}

func TestRecordNoTradeKeepsPositions(t *testing.T) {
	eng := newTestEngine(nil)
	book := &memBook{initial: map[string]float64{market.CashSymbol: 10000, "AAPL": 7}}

	snap, err := eng.RecordNoTrade(book, mustInstant(t, "2025-01-03"))
	if err != nil {
		t.Fatalf("RecordNoTrade returned error: %v", err)
	}
	if snap.ID != 1 {
		t.Errorf("expected id 1, got %d", snap.ID)
	}
	if snap.Action == nil || snap.Action.Kind != ledger.ActionNoTrade {
		t.Errorf("expected no_trade action, got %+v", snap.Action)
	}
	if snap.Positions["AAPL"] != 7 || snap.Positions[market.CashSymbol] != 10000 {
		t.Errorf("no_trade must not change positions, got %v", snap.Positions)
	}
}

func TestConcurrentBuysSerialize(t *testing.T) {
	eng := newTestEngine(map[string]float64{"AAPL": 10})
	book := &memBook{initial: map[string]float64{market.CashSymbol: 100}}
	instant := mustInstant(t, "2025-01-03")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := eng.Execute(context.Background(), book, instant, ledger.ActionBuy, "AAPL", 1); err != nil {
				t.Errorf("concurrent buy returned error: %v", err)
			}
		}()
	}
	wg.Wait()

	if len(book.records) != 10 {
		t.Fatalf("expected 10 records, got %d", len(book.records))
	}
	last := book.records[len(book.records)-1]
	if last.Positions["AAPL"] != 10 {
		t.Errorf("expected AAPL=10, got %v", last.Positions["AAPL"])
	}
	if last.Positions[market.CashSymbol] != 0 {
		t.Errorf("expected CASH=0, got %v", last.Positions[market.CashSymbol])
	}

	ids := make([]int, 0, len(book.records))
	for _, rec := range book.records {
		ids = append(ids, rec.ID)
	}
	sort.Ints(ids)
	for i, id := range ids {
		if id != i+1 {
			t.Fatalf("expected gapless ids 1..10, got %v", ids)
		}
	}
}
