package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"breakout-failures/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Fetcher  FetcherConfig  `mapstructure:"fetcher"`
	Scanner  ScannerConfig  `mapstructure:"scanner"`
	API      APIConfig      `mapstructure:"api"`
	Alerting AlertingConfig `mapstructure:"alerting"`
	Export   ExportConfig   `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig covers the optional candle cache. An empty Addr disables it.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// FetcherConfig parameterises candle downloads.
type FetcherConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	Suffixes       []string      `mapstructure:"suffixes"`
}

// ScannerConfig governs detection parameters and scheduled scan cadence.
type ScannerConfig struct {
	Symbols         []string      `mapstructure:"symbols"`
	CandleInterval  string        `mapstructure:"candle_interval"`
	CandleRange     string        `mapstructure:"candle_range"`
	KFactor         float64       `mapstructure:"k_factor"`
	LocalWindow     int           `mapstructure:"local_window"`
	ATRPeriod       int           `mapstructure:"atr_period"`
	LookaheadBars   int           `mapstructure:"lookahead_bars"`
	Interval        time.Duration `mapstructure:"interval"`
	AlignToInterval bool          `mapstructure:"align_to_interval"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// APIConfig sets the HTTP listener.
type APIConfig struct {
	Listen          string        `mapstructure:"listen"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Cooldown time.Duration  `mapstructure:"cooldown"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram delivery parameters.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int           `mapstructure:"max_data_points"`
	Bucket        time.Duration `mapstructure:"bucket"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BREAKOUTWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "breakoutwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.cache_ttl", "5m")

	v.SetDefault("fetcher.base_url", "https://query1.finance.yahoo.com")
	v.SetDefault("fetcher.request_timeout", "10s")
	v.SetDefault("fetcher.user_agent", "breakoutwatch/1.0")
	v.SetDefault("fetcher.suffixes", []string{"", ".NS", ".BO"})

	v.SetDefault("scanner.candle_interval", "5m")
	v.SetDefault("scanner.candle_range", "1d")
	v.SetDefault("scanner.k_factor", 1.5)
	v.SetDefault("scanner.local_window", 5)
	v.SetDefault("scanner.atr_period", 14)
	v.SetDefault("scanner.lookahead_bars", 10)
	v.SetDefault("scanner.interval", "15m")
	v.SetDefault("scanner.align_to_interval", true)
	v.SetDefault("scanner.advisory_lock_key", int64(0x62726b77))
	v.SetDefault("scanner.startup_delay", "0s")

	v.SetDefault("api.listen", ":8080")
	v.SetDefault("api.request_timeout", "60s")
	v.SetDefault("api.shutdown_timeout", "10s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.cooldown", "30m")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)
	v.SetDefault("export.bucket", "1h")
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

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scanner.Interval <= 0 {
		return fmt.Errorf("scanner.interval must be greater than zero")
	}
	if c.Scanner.KFactor <= 0 {
		return fmt.Errorf("scanner.k_factor must be greater than zero")
	}
	if c.Scanner.LocalWindow < 1 {
		return fmt.Errorf("scanner.local_window must be at least 1")
	}
	if c.Scanner.ATRPeriod < 1 {
		return fmt.Errorf("scanner.atr_period must be at least 1")
	}
	if c.Scanner.LookaheadBars < 1 {
		return fmt.Errorf("scanner.lookahead_bars must be at least 1")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Export.Bucket <= 0 {
		return fmt.Errorf("export.bucket must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required when telegram is enabled")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required when telegram is enabled")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
