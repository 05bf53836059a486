package config

import (
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "trader"
)

// Load 读取配置文件并结合环境变量返回 Config。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("market.kind", "us")
	v.SetDefault("market.init_date", "2025-01-02")
	v.SetDefault("market.initial_cash", 10000.0)

	v.SetDefault("dataset.path", "data/merged.jsonl")

	v.SetDefault("alpaca.base_url", "https://data.alpaca.markets/v2")
	v.SetDefault("alpaca.feed", "iex")
	v.SetDefault("alpaca.timeframe", "5Min")
	v.SetDefault("alpaca.timeout", "10s")
	v.SetDefault("alpaca.retry.max_attempts", 5)
	v.SetDefault("alpaca.retry.min_delay", "500ms")
	v.SetDefault("alpaca.retry.max_delay", "5s")

	v.SetDefault("ledger.dir", "data/agents")

	v.SetDefault("bar_cache.dir", "data/bar_cache")
	v.SetDefault("bar_cache.interval", "5m")
	v.SetDefault("bar_cache.timezone", "America/New_York")
	v.SetDefault("bar_cache.session_open", "09:30")
	v.SetDefault("bar_cache.session_close", "16:00")
	v.SetDefault("bar_cache.preload", false)
	v.SetDefault("bar_cache.preload_days", 5)

	v.SetDefault("database.path", "data/agent_trader.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.listen", ":8787")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
