package feed

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"agent-trader/internal/config"
)

var (
	// ErrNoData 表示行情源对该标的/区间没有返回任何数据。
	ErrNoData = errors.New("feed no data")
)

// Client 封装 Alpaca 行情数据接口，带重试与结构化日志。
type Client struct {
	cfg    config.AlpacaConfig
	logger *zap.Logger
	http   *resty.Client
}

// NewClient 构造行情客户端。
func NewClient(cfg config.AlpacaConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("APCA-API-KEY-ID", cfg.APIKey).
		SetHeader("APCA-API-SECRET-KEY", cfg.APISecret)

	return &Client{
		cfg:    cfg,
		logger: logger,
		http:   httpClient,
	}
}

// LatestBar 获取指定标的的最新一根K线。
func (c *Client) LatestBar(ctx context.Context, symbol string) (Bar, error) {
	var payload latestBarResponse

	err := c.callWithRetry(ctx, "latest_bar", func() error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParam("feed", c.cfg.Feed).
			SetResult(&payload).
			Get(fmt.Sprintf("/stocks/%s/bars/latest", symbol))
		if err != nil {
			return err
		}
		return statusError(resp)
	})
	if err != nil {
		return Bar{}, err
	}

	if payload.Bar.Timestamp == "" || payload.Bar.Close == 0 {
		return Bar{}, fmt.Errorf("%w: %s 无最新K线", ErrNoData, symbol)
	}

	return payload.Bar.toBar(), nil
}

// FetchBars 获取指定标的在 [start, end] 区间内的5分钟K线。
// 区间内无数据不视为错误，返回空切片。
func (c *Client) FetchBars(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error) {
	params := map[string]string{
		"timeframe":  c.cfg.Timeframe,
		"start":      start.UTC().Format("2006-01-02T15:04:05Z"),
		"end":        end.UTC().Format("2006-01-02T15:04:05Z"),
		"limit":      "10000",
		"adjustment": "split",
		"feed":       c.cfg.Feed,
	}

	bars := make([]Bar, 0, 128)
	pages := 0
	for {
		var payload barsResponse
		err := c.callWithRetry(ctx, "fetch_bars", func() error {
			resp, err := c.http.R().
				SetContext(ctx).
				SetQueryParams(params).
				SetResult(&payload).
				Get(fmt.Sprintf("/stocks/%s/bars", symbol))
			if err != nil {
				return err
			}
			return statusError(resp)
		})
		if err != nil {
			return nil, err
		}

		for _, raw := range payload.Bars {
			bars = append(bars, raw.toBar())
		}
		pages++

		if payload.NextPageToken == nil || *payload.NextPageToken == "" {
			break
		}
		params["page_token"] = *payload.NextPageToken
	}

	c.logger.Debug("行情区间拉取完成",
		zap.String("symbol", symbol),
		zap.Time("start", start),
		zap.Time("end", end),
		zap.Int("pages", pages),
		zap.Int("bars", len(bars)),
	)

	return bars, nil
}

// Calendar 获取指定区间内的交易日历。
func (c *Client) Calendar(ctx context.Context, start, end time.Time) ([]CalendarDay, error) {
	var payload []CalendarDay

	err := c.callWithRetry(ctx, "calendar", func() error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"start": start.Format("2006-01-02"),
				"end":   end.Format("2006-01-02"),
			}).
			SetResult(&payload).
			Get("/calendar")
		if err != nil {
			return err
		}
		return statusError(resp)
	})
	if err != nil {
		return nil, err
	}

	return payload, nil
}

func (c *Client) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	delay := c.cfg.Retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := c.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		start := time.Now()
		err := fn()
		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("行情调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		if !c.isRetryable(err) || attempt >= c.cfg.Retry.MaxAttempts {
			c.logger.Error("行情调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", duration),
				zap.Error(err),
			)
			return err
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}

		c.logger.Warn("行情调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func (c *Client) isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var httpErr *statusCodeError
	if errors.As(err, &httpErr) {
		return httpErr.Code == http.StatusTooManyRequests || httpErr.Code >= 500
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

type statusCodeError struct {
	Code int
	Body string
}

func (e *statusCodeError) Error() string {
	return fmt.Sprintf("feed: 行情接口返回 %d: %s", e.Code, e.Body)
}

func statusError(resp *resty.Response) error {
	if resp.IsSuccess() {
		return nil
	}
	body := resp.String()
	if len(body) > 256 {
		body = body[:256]
	}
	return &statusCodeError{Code: resp.StatusCode(), Body: body}
}
