package barcache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"agent-trader/internal/config"
	"agent-trader/internal/feed"
)

// barSource 抽象行情区间拉取，便于测试时替换真实客户端。
type barSource interface {
	FetchBars(ctx context.Context, symbol string, start, end time.Time) ([]feed.Bar, error)
}

// tradingCalendar 提供上一交易日解析。
type tradingCalendar interface {
	PreviousTradingDay(date string) string
}

// Manager 按 (标的, 交易日) 维护5分钟K线的文件缓存，尽量减少对行情源的
// 调用：盘中只做增量追加，收盘后的交易日视为不可变。
type Manager struct {
	dir      string
	interval time.Duration
	loc      *time.Location
	open     sessionClock
	close    sessionClock

	source   barSource
	calendar tradingCalendar
	logger   *zap.Logger

	// now 允许测试注入固定时钟。
	now func() time.Time
}

type sessionClock struct {
	hour, minute int
}

// NewManager 创建缓存管理器。
func NewManager(cfg config.BarCacheConfig, source barSource, cal tradingCalendar, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if source == nil {
		return nil, fmt.Errorf("barcache: 行情源不能为空")
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("barcache: 解析交易所时区 %q 失败: %w", cfg.Timezone, err)
	}

	open, err := parseSessionClock(cfg.SessionOpen)
	if err != nil {
		return nil, fmt.Errorf("barcache: 解析开盘时间失败: %w", err)
	}
	closeClock, err := parseSessionClock(cfg.SessionClose)
	if err != nil {
		return nil, fmt.Errorf("barcache: 解析收盘时间失败: %w", err)
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("barcache: 创建缓存目录 %q 失败: %w", cfg.Dir, err)
	}

	return &Manager{
		dir:      cfg.Dir,
		interval: interval,
		loc:      loc,
		open:     open,
		close:    closeClock,
		source:   source,
		calendar: cal,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Day 返回指定交易日的K线序列，优先使用缓存；forceRefresh 时强制重新拉取。
func (m *Manager) Day(ctx context.Context, symbol, date string, forceRefresh bool) ([]feed.Bar, error) {
	if !forceRefresh {
		if cached, ok, err := m.load(symbol, date); err != nil {
			return nil, err
		} else if ok {
			m.logger.Debug("命中日级K线缓存", zap.String("symbol", symbol), zap.String("date", date))
			return cached.Bars, nil
		}
	}

	start, err := m.sessionTime(date, m.open)
	if err != nil {
		return nil, err
	}
	end, err := m.sessionTime(date, m.close)
	if err != nil {
		return nil, err
	}

	bars, err := m.source.FetchBars(ctx, symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("barcache: 拉取 %s %s K线失败: %w", symbol, date, err)
	}

	if err := m.save(symbol, date, bars); err != nil {
		return nil, err
	}
	return bars, nil
}

// Today 返回当日从开盘到当前时刻的K线，盘中调用只拉取缺口区间并追加。
// 下一根K线边界尚未到达时直接返回缓存，避免空拉取；行情源对缺口窗口
// 返回空结果时同样写回缓存文件，作为"暂无新数据"的标记。
func (m *Manager) Today(ctx context.Context, symbol string) ([]feed.Bar, error) {
	now := m.now().In(m.loc)
	today := now.Format("2006-01-02")

	cached, hasCache, err := m.load(symbol, today)
	if err != nil {
		return nil, err
	}

	var start time.Time
	if hasCache && len(cached.Bars) > 0 {
		last, parseErr := time.Parse(time.RFC3339, cached.Bars[len(cached.Bars)-1].Timestamp)
		if parseErr != nil {
			return nil, fmt.Errorf("barcache: 解析缓存时间戳失败: %w", parseErr)
		}
		next := last.Add(m.interval)
		if next.After(now) {
			m.logger.Debug("下一根K线尚未生成，返回缓存",
				zap.String("symbol", symbol),
				zap.Time("next_expected", next.In(m.loc)),
			)
			return cached.Bars, nil
		}
		start = next
	} else {
		if hasCache {
			// 空缓存表示上次拉取无数据；一个周期内不再重复请求。
			if updated, parseErr := time.Parse(time.RFC3339, cached.LastUpdated); parseErr == nil {
				if now.Sub(updated) < m.interval {
					return cached.Bars, nil
				}
			}
		}
		start, err = m.sessionTime(today, m.open)
		if err != nil {
			return nil, err
		}
	}

	fresh, err := m.source.FetchBars(ctx, symbol, start, now)
	if err != nil {
		return nil, fmt.Errorf("barcache: 拉取 %s 当日K线失败: %w", symbol, err)
	}

	combined := appendBars(cached.Bars, fresh)
	if err := m.save(symbol, today, combined); err != nil {
		return nil, err
	}
	return combined, nil
}

// PreviousDay 返回上一交易日的完整K线序列。
func (m *Manager) PreviousDay(ctx context.Context, symbol string) ([]feed.Bar, error) {
	today := m.now().In(m.loc).Format("2006-01-02")
	prev := today
	if m.calendar != nil {
		prev = m.calendar.PreviousTradingDay(today)
	}
	if prev == today {
		return nil, fmt.Errorf("barcache: 无法解析 %s 的上一交易日", today)
	}
	return m.Day(ctx, symbol, prev, false)
}

// Preload 预热一批标的最近 N 个交易日的缓存，启动时调用，不在交易热路径上。
func (m *Manager) Preload(ctx context.Context, symbols []string, days int) error {
	if days <= 0 {
		days = 2
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(4)

	for _, symbol := range symbols {
		symbol := symbol
		group.Go(func() error {
			date := m.now().In(m.loc).Format("2006-01-02")
			for i := 0; i < days; i++ {
				if _, err := m.Day(groupCtx, symbol, date, false); err != nil {
					return err
				}
				if m.calendar == nil {
					break
				}
				date = m.calendar.PreviousTradingDay(date)
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return fmt.Errorf("barcache: 预热缓存失败: %w", err)
	}

	m.logger.Info("K线缓存预热完成", zap.Int("symbols", len(symbols)), zap.Int("days", days))
	return nil
}

// Stats 返回某标的的缓存统计。
func (m *Manager) Stats(symbol string) (CacheStats, error) {
	stats := CacheStats{Symbol: symbol}

	entries, err := os.ReadDir(m.symbolDir(symbol))
	if err != nil {
		if os.IsNotExist(err) {
			return stats, nil
		}
		return stats, fmt.Errorf("barcache: 读取缓存目录失败: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		date := strings.TrimSuffix(entry.Name(), ".json")
		doc, ok, err := m.load(symbol, date)
		if err != nil || !ok {
			continue
		}
		stats.CachedDates = append(stats.CachedDates, date)
		stats.TotalBars += len(doc.Bars)
		if doc.LastUpdated > stats.LastUpdated {
			stats.LastUpdated = doc.LastUpdated
		}
	}

	sort.Strings(stats.CachedDates)
	stats.DaysCached = len(stats.CachedDates)
	return stats, nil
}

// CacheStats 描述单个标的的缓存情况。
type CacheStats struct {
	Symbol      string   `json:"symbol"`
	DaysCached  int      `json:"days_cached"`
	CachedDates []string `json:"cached_dates"`
	TotalBars   int      `json:"total_bars"`
	LastUpdated string   `json:"last_updated"`
}

type cacheDocument struct {
	Symbol      string     `json:"symbol"`
	Date        string     `json:"date"`
	Bars        []feed.Bar `json:"bars"`
	BarCount    int        `json:"bar_count"`
	LastUpdated string     `json:"last_updated"`
}

func (m *Manager) symbolDir(symbol string) string {
	return filepath.Join(m.dir, symbol)
}

func (m *Manager) cachePath(symbol, date string) string {
	return filepath.Join(m.symbolDir(symbol), date+".json")
}

func (m *Manager) load(symbol, date string) (cacheDocument, bool, error) {
	var doc cacheDocument

	data, err := os.ReadFile(m.cachePath(symbol, date))
	if err != nil {
		if os.IsNotExist(err) {
			return doc, false, nil
		}
		return doc, false, fmt.Errorf("barcache: 读取缓存 %s/%s 失败: %w", symbol, date, err)
	}

	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, false, fmt.Errorf("barcache: 解析缓存 %s/%s 失败: %w", symbol, date, err)
	}
	return doc, true, nil
}

func (m *Manager) save(symbol, date string, bars []feed.Bar) error {
	if err := os.MkdirAll(m.symbolDir(symbol), 0o755); err != nil {
		return fmt.Errorf("barcache: 创建标的目录失败: %w", err)
	}

	doc := cacheDocument{
		Symbol:      symbol,
		Date:        date,
		Bars:        bars,
		BarCount:    len(bars),
		LastUpdated: m.now().UTC().Format(time.RFC3339),
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("barcache: 序列化缓存失败: %w", err)
	}

	if err := os.WriteFile(m.cachePath(symbol, date), data, 0o644); err != nil {
		return fmt.Errorf("barcache: 写入缓存 %s/%s 失败: %w", symbol, date, err)
	}
	return nil
}

func (m *Manager) sessionTime(date string, clock sessionClock) (time.Time, error) {
	day, err := time.ParseInLocation("2006-01-02", date, m.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("barcache: 解析交易日 %q 失败: %w", date, err)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), clock.hour, clock.minute, 0, 0, m.loc), nil
}

func parseSessionClock(value string) (sessionClock, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return sessionClock{}, err
	}
	return sessionClock{hour: t.Hour(), minute: t.Minute()}, nil
}

// appendBars 按时间戳去重合并已有与新增K线，保持升序。
func appendBars(existing, fresh []feed.Bar) []feed.Bar {
	if len(fresh) == 0 {
		return existing
	}

	combined := make([]feed.Bar, 0, len(existing)+len(fresh))
	combined = append(combined, existing...)

	lastTS := ""
	if len(existing) > 0 {
		lastTS = existing[len(existing)-1].Timestamp
	}
	for _, bar := range fresh {
		if bar.Timestamp <= lastTS {
			continue
		}
		combined = append(combined, bar)
		lastTS = bar.Timestamp
	}
	return combined
}
