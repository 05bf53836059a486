package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"agent-trader/internal/audit"
	"agent-trader/internal/barcache"
	"agent-trader/internal/broker"
	"agent-trader/internal/calendar"
	"agent-trader/internal/config"
	"agent-trader/internal/dataset"
	"agent-trader/internal/engine"
	"agent-trader/internal/feed"
	"agent-trader/internal/market"
	"agent-trader/internal/oracle"
	"agent-trader/internal/perf"
	"agent-trader/internal/store"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 完成依赖装配，启动对外服务并阻塞至收到退出信号。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("交易账本服务已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("market", a.cfg.Market.Kind),
		zap.String("dataset", a.cfg.Dataset.Path),
	)

	ds, err := dataset.Open(a.cfg.Dataset.Path, a.logger)
	if err != nil {
		return err
	}
	cal := calendar.New(ds.TradingInstants(), a.logger)

	feedClient := feed.NewClient(a.cfg.Alpaca, a.logger)
	if a.cfg.Alpaca.APIKey != "" {
		cal = a.mergeFeedCalendar(ctx, cal, feedClient)
	}

	bars, err := barcache.NewManager(a.cfg.BarCache, feedClient, cal, a.logger)
	if err != nil {
		return err
	}

	auditSvc, err := audit.NewService(a.store, a.logger)
	if err != nil {
		return err
	}
	cal.SetRecorder(auditSvc)

	prices := oracle.New(ds, cal, feedClient, a.logger)
	eng := engine.New(prices, a.logger)
	perfBuilder := perf.NewBuilder(ds, a.logger)
	brk := broker.New(a.cfg.Market, a.cfg.Ledger, eng, cal, ds, bars, perfBuilder, auditSvc, a.logger)

	if a.cfg.BarCache.Preload {
		universe := market.DefaultUniverse(market.Kind(a.cfg.Market.Kind))
		if err := bars.Preload(ctx, universe, a.cfg.BarCache.PreloadDays); err != nil {
			a.logger.Warn("预热行情缓存失败", zap.Error(err))
		}
	}

	if a.cfg.Monitor.Enabled {
		if err := startServer(ctx, brk, auditSvc, a.cfg.Monitor.Listen, a.logger); err != nil {
			return err
		}
	}

	<-ctx.Done()
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("系统异常退出: %w", err)
	}
	a.logger.Info("系统收到退出信号，正在停止")
	return nil
}

// mergeFeedCalendar 拉取行情服务的交易日历并与数据集日历合并，
// 失败时仅记录告警，继续使用数据集日历。
func (a *App) mergeFeedCalendar(ctx context.Context, cal *calendar.Provider, client *feed.Client) *calendar.Provider {
	end := time.Now()
	start := end.AddDate(-1, 0, 0)

	days, err := client.Calendar(ctx, start, end)
	if err != nil {
		a.logger.Warn("拉取交易日历失败", zap.Error(err))
		return cal
	}

	dates := make([]string, 0, len(days))
	for _, day := range days {
		dates = append(dates, day.Date)
	}
	a.logger.Info("交易日历合并完成", zap.Int("days", len(dates)))
	return cal.Merge(dates)
}
