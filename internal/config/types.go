package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Market   MarketConfig   `mapstructure:"market"`
	Dataset  DatasetConfig  `mapstructure:"dataset"`
	Alpaca   AlpacaConfig   `mapstructure:"alpaca"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	BarCache BarCacheConfig `mapstructure:"bar_cache"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// MarketConfig 描述交易市场与初始账户参数。
type MarketConfig struct {
	Kind        string  `mapstructure:"kind"`
	InitDate    string  `mapstructure:"init_date"`
	InitialCash float64 `mapstructure:"initial_cash"`
}

// DatasetConfig 指向离线合并行情数据集。
type DatasetConfig struct {
	Path string `mapstructure:"path"`
}

// AlpacaConfig 描述行情接口连接信息。
type AlpacaConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	APISecret string        `mapstructure:"api_secret"`
	Feed      string        `mapstructure:"feed"`
	Timeframe string        `mapstructure:"timeframe"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Retry     RetryConfig   `mapstructure:"retry"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// LedgerConfig 管理持仓账本的落盘位置。
type LedgerConfig struct {
	Dir string `mapstructure:"dir"`
}

// BarCacheConfig 控制盘中分钟线缓存。
type BarCacheConfig struct {
	Dir          string        `mapstructure:"dir"`
	Interval     time.Duration `mapstructure:"interval"`
	Timezone     string        `mapstructure:"timezone"`
	SessionOpen  string        `mapstructure:"session_open"`
	SessionClose string        `mapstructure:"session_close"`
	Preload      bool          `mapstructure:"preload"`
	PreloadDays  int           `mapstructure:"preload_days"`
}

// DatabaseConfig 管理事件库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// MonitorConfig 控制只读监控端口。
type MonitorConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Market.Kind != "us" && c.Market.Kind != "cn" {
		err = multierr.Append(err, errors.New("market.kind 必须为 us 或 cn"))
	}
	if c.Market.InitDate == "" {
		err = multierr.Append(err, errors.New("market.init_date 不能为空"))
	} else if _, perr := time.Parse("2006-01-02", c.Market.InitDate); perr != nil {
		err = multierr.Append(err, fmt.Errorf("market.init_date 格式必须为 YYYY-MM-DD: %w", perr))
	}
	if c.Market.InitialCash <= 0 {
		err = multierr.Append(err, errors.New("market.initial_cash 必须大于0"))
	}
	if c.Dataset.Path == "" {
		err = multierr.Append(err, errors.New("dataset.path 不能为空"))
	}
	if c.Alpaca.BaseURL == "" {
		err = multierr.Append(err, errors.New("alpaca.base_url 不能为空"))
	}
	if c.Alpaca.Timeframe == "" {
		err = multierr.Append(err, errors.New("alpaca.timeframe 不能为空"))
	}
	if c.Alpaca.Timeout <= 0 {
		err = multierr.Append(err, errors.New("alpaca.timeout 必须大于0"))
	}
	if c.Alpaca.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("alpaca.retry.max_attempts 必须大于0"))
	}
	if c.Alpaca.Retry.MinDelay <= 0 || c.Alpaca.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("alpaca.retry.delay 必须为正"))
	}
	if c.Alpaca.Retry.MinDelay > c.Alpaca.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("alpaca.retry.min_delay 不能大于 max_delay"))
	}
	if c.Ledger.Dir == "" {
		err = multierr.Append(err, errors.New("ledger.dir 不能为空"))
	}
	if c.BarCache.Dir == "" {
		err = multierr.Append(err, errors.New("bar_cache.dir 不能为空"))
	}
	if c.BarCache.Interval <= 0 {
		err = multierr.Append(err, errors.New("bar_cache.interval 必须大于0"))
	}
	if c.BarCache.Timezone == "" {
		err = multierr.Append(err, errors.New("bar_cache.timezone 不能为空"))
	}
	if c.BarCache.SessionOpen == "" || c.BarCache.SessionClose == "" {
		err = multierr.Append(err, errors.New("bar_cache.session_open/session_close 不能为空"))
	}
	if c.BarCache.Preload && c.BarCache.PreloadDays <= 0 {
		err = multierr.Append(err, errors.New("bar_cache.preload_days 必须大于0"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}
	if c.Monitor.Enabled && c.Monitor.Listen == "" {
		err = multierr.Append(err, errors.New("monitor.listen 不能为空"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
