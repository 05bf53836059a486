package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"agent-trader/internal/config"
)

func testConfig(baseURL string) config.AlpacaConfig {
	return config.AlpacaConfig{
		BaseURL:   baseURL,
		APIKey:    "test-key",
		APISecret: "test-secret",
		Feed:      "iex",
		Timeframe: "5Min",
		Timeout:   2 * time.Second,
		Retry: config.RetryConfig{
			MaxAttempts: 3,
			MinDelay:    time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
		},
	}
}

func TestLatestBar(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/stocks/AAPL/bars/latest" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("APCA-API-KEY-ID"); got != "test-key" {
			t.Errorf("missing auth header, got %q", got)
		}
		if got := r.URL.Query().Get("feed"); got != "iex" {
			t.Errorf("expected feed=iex, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"symbol": "AAPL",
			"bar": map[string]interface{}{
				"t": "2025-01-03T10:00:00Z",
				"o": 100.0, "h": 101.0, "l": 99.5, "c": 100.5, "v": 1200.0,
			},
		})
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), nil)
	bar, err := c.LatestBar(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("LatestBar returned error: %v", err)
	}
	if bar.Timestamp != "2025-01-03T10:00:00Z" || bar.Close != 100.5 {
		t.Errorf("unexpected bar: %+v", bar)
	}
}

func TestLatestBarNoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"symbol": "AAPL", "bar": map[string]interface{}{}})
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), nil)
	_, err := c.LatestBar(context.Background(), "AAPL")
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
}

func TestFetchBarsEmptyRangeIsNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("timeframe"); got != "5Min" {
			t.Errorf("expected timeframe=5Min, got %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"bars": []interface{}{}, "next_page_token": nil})
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), nil)
	start := time.Date(2025, 1, 3, 9, 30, 0, 0, time.UTC)
	bars, err := c.FetchBars(context.Background(), "AAPL", start, start.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("FetchBars returned error: %v", err)
	}
	if len(bars) != 0 {
		t.Errorf("expected empty result, got %d bars", len(bars))
	}
}

func TestFetchBarsFollowsPagination(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch atomic.AddInt32(&calls, 1) {
		case 1:
			if got := r.URL.Query().Get("page_token"); got != "" {
				t.Errorf("first page must not carry page_token, got %q", got)
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"bars": []interface{}{
					map[string]interface{}{"t": "2025-01-03T10:00:00Z", "o": 1.0, "h": 1.0, "l": 1.0, "c": 1.0, "v": 1.0},
				},
				"next_page_token": "tok-2",
			})
		default:
			if got := r.URL.Query().Get("page_token"); got != "tok-2" {
				t.Errorf("expected page_token=tok-2, got %q", got)
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"bars": []interface{}{
					map[string]interface{}{"t": "2025-01-03T10:05:00Z", "o": 2.0, "h": 2.0, "l": 2.0, "c": 2.0, "v": 2.0},
				},
				"next_page_token": nil,
			})
		}
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), nil)
	start := time.Date(2025, 1, 3, 9, 30, 0, 0, time.UTC)
	bars, err := c.FetchBars(context.Background(), "AAPL", start, start.Add(time.Hour))
	if err != nil {
		t.Fatalf("FetchBars returned error: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("expected 2 bars across pages, got %d", len(bars))
	}
	if bars[0].Timestamp != "2025-01-03T10:00:00Z" || bars[1].Timestamp != "2025-01-03T10:05:00Z" {
		t.Errorf("pages merged out of order: %+v", bars)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("expected 2 page fetches, got %d", got)
	}
}

func TestRetryOnServerError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"bars": []interface{}{map[string]interface{}{"t": "2025-01-03T10:00:00Z", "o": 1.0, "h": 1.0, "l": 1.0, "c": 1.0, "v": 1.0}},
		})
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), nil)
	start := time.Date(2025, 1, 3, 9, 30, 0, 0, time.UTC)
	bars, err := c.FetchBars(context.Background(), "AAPL", start, start.Add(time.Hour))
	if err != nil {
		t.Fatalf("FetchBars returned error after retries: %v", err)
	}
	if len(bars) != 1 {
		t.Errorf("expected 1 bar, got %d", len(bars))
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestNoRetryOnClientError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), nil)
	_, err := c.LatestBar(context.Background(), "ZZZZ")
	if err == nil {
		t.Fatalf("expected error for 404 response")
	}
	var httpErr *statusCodeError
	if !errors.As(err, &httpErr) || httpErr.Code != http.StatusNotFound {
		t.Errorf("expected statusCodeError 404, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("4xx must not be retried, got %d attempts", got)
	}
}

func TestCalendar(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/calendar" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]map[string]string{
			{"date": "2025-01-02", "open": "09:30", "close": "16:00"},
			{"date": "2025-01-03", "open": "09:30", "close": "16:00"},
		})
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), nil)
	days, err := c.Calendar(context.Background(),
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Calendar returned error: %v", err)
	}
	if len(days) != 2 || days[0].Date != "2025-01-02" {
		t.Errorf("unexpected calendar: %+v", days)
	}
}
