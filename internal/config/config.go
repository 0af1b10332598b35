// Package config loads the server configuration from an optional YAML file,
// DELAYCAST_* environment variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"delaycast/internal/candles"
	"delaycast/internal/utils"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// DELAYCAST_VIEW_DELAY_SECONDS.
const EnvPrefix = "DELAYCAST"

// Config represents the complete application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Polymarket PolymarketConfig `mapstructure:"polymarket"`
	View       ViewConfig       `mapstructure:"view"`
	Series     SeriesConfig     `mapstructure:"series"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	MaxSubscribers  int           `mapstructure:"max_subscribers" validate:"gte=0"`
}

// PolymarketConfig holds upstream API configuration
type PolymarketConfig struct {
	GammaURL     string        `mapstructure:"gamma_url" validate:"required,url"`
	ClobURL      string        `mapstructure:"clob_url" validate:"required,url"`
	WebsocketURL string        `mapstructure:"websocket_url" validate:"required,url"`
	Timeout      time.Duration `mapstructure:"timeout" validate:"gt=0"`
	RetryCount   int           `mapstructure:"retry_count" validate:"gte=0,lte=10"`
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gte=500ms"`
	PingPeriod   time.Duration `mapstructure:"ping_period" validate:"gte=1s"`
	// DisablePush skips the websocket and polls from the start.
	DisablePush bool `mapstructure:"disable_push"`
}

// ViewConfig holds the defaults applied before any user setting arrives
type ViewConfig struct {
	DelaySeconds    int           `mapstructure:"delay_seconds" validate:"gte=0"`
	Timeframe       string        `mapstructure:"timeframe" validate:"required"`
	Outcome         string        `mapstructure:"outcome" validate:"required,oneof=yes no"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval" validate:"gte=50ms"`
	MaxCandles      int           `mapstructure:"max_candles" validate:"gte=0"`
	Market          string        `mapstructure:"market"` // Optional market URL selected at startup
}

// SeriesConfig bounds the live buffers. Zero disables a bound.
type SeriesConfig struct {
	MaxPoints int           `mapstructure:"max_points" validate:"gte=0"`
	MaxAge    time.Duration `mapstructure:"max_age" validate:"gte=0"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Format     string `mapstructure:"format" validate:"oneof=console json"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"gte=0"`
	Compress   bool   `mapstructure:"compress"`
}

// Load reads configuration from path, if non-empty, and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults configures default values for all configuration options.
// Every key needs a default so AutomaticEnv can override it on Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.max_subscribers", 100)

	v.SetDefault("polymarket.gamma_url", "https://gamma-api.polymarket.com")
	v.SetDefault("polymarket.clob_url", "https://clob.polymarket.com")
	v.SetDefault("polymarket.websocket_url", "wss://ws-subscriptions-clob.polymarket.com/ws/market")
	v.SetDefault("polymarket.timeout", "10s")
	v.SetDefault("polymarket.retry_count", 2)
	v.SetDefault("polymarket.poll_interval", "2s")
	v.SetDefault("polymarket.ping_period", "10s")
	v.SetDefault("polymarket.disable_push", false)

	v.SetDefault("view.delay_seconds", 0)
	v.SetDefault("view.timeframe", candles.DefaultTimeframe)
	v.SetDefault("view.outcome", "yes")
	v.SetDefault("view.refresh_interval", "250ms")
	v.SetDefault("view.max_candles", 0)
	v.SetDefault("view.market", "")

	v.SetDefault("series.max_points", 50000)
	v.SetDefault("series.max_age", "6h")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 7)
	v.SetDefault("logging.compress", false)
}

// Validate checks struct tags first, then the values that need domain lookups.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid configuration: %s failed %q", fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if _, err := utils.DelayFromSeconds(c.View.DelaySeconds); err != nil {
		return fmt.Errorf("view.delay_seconds: %w", err)
	}
	if _, err := candles.LookupTimeframe(c.View.Timeframe); err != nil {
		return fmt.Errorf("view.timeframe: %w", err)
	}
	return nil
}

// Delay returns the configured default delay.
func (v ViewConfig) Delay() time.Duration {
	return time.Duration(v.DelaySeconds) * time.Second
}
