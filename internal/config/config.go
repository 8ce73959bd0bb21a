// Package config provides configuration management for the engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	enginerrors "stealth-trader/internal/errors"
)

// Config holds all engine configuration, resolved once at startup. All
// threshold lookups go through this struct; there is no ambient state.
type Config struct {
	Engine        EngineConfig       `mapstructure:"engine"`
	Stages        StageConfig        `mapstructure:"stages"`
	Exits         ExitConfig         `mapstructure:"exits"`
	Publish       PublishConfig      `mapstructure:"publish"`
	MarketData    MarketDataConfig   `mapstructure:"market_data"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Metrics       MetricsConfig      `mapstructure:"metrics"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

// EngineConfig holds scheduler cadence and fetch settings.
type EngineConfig struct {
	TickInterval         time.Duration `mapstructure:"tick_interval"`
	BatchSize            int           `mapstructure:"batch_size"`
	MaxConcurrentBatches int           `mapstructure:"max_concurrent_batches"`
	FetchTimeout         time.Duration `mapstructure:"fetch_timeout"`
	FailureEscalation    int           `mapstructure:"failure_escalation"` // consecutive failures before alert
	SessionOnly          bool          `mapstructure:"session_only"`       // tick only during market hours
}

// StageConfig holds stage thresholds and trailing distances. Thresholds
// are fractions of entry price (0.005 = 0.5%).
type StageConfig struct {
	BreakevenThreshold float64 `mapstructure:"breakeven_threshold"`
	TrailingThreshold  float64 `mapstructure:"trailing_threshold"`
	ExplosiveThreshold float64 `mapstructure:"explosive_threshold"`
	MoonThreshold      float64 `mapstructure:"moon_threshold"`

	TrailingDistance  float64 `mapstructure:"trailing_distance"`
	ExplosiveDistance float64 `mapstructure:"explosive_distance"`
	MoonDistance      float64 `mapstructure:"moon_distance"`

	BaseTakeProfit      float64 `mapstructure:"base_take_profit"`
	MoonTakeProfitBoost float64 `mapstructure:"moon_take_profit_boost"`

	// Confidence tiers: high-quality trades lock in large gains sooner.
	UltraConfidence       float64 `mapstructure:"ultra_confidence"`
	HighConfidence        float64 `mapstructure:"high_confidence"`
	UltraMoonThreshold    float64 `mapstructure:"ultra_moon_threshold"`
	HighMoonThreshold     float64 `mapstructure:"high_moon_threshold"`
	UltraExplosiveFactor  float64 `mapstructure:"ultra_explosive_factor"`
	HighExplosiveFactor   float64 `mapstructure:"high_explosive_factor"`
	UltraTakeProfitFactor float64 `mapstructure:"ultra_take_profit_factor"`
	HighTakeProfitFactor  float64 `mapstructure:"high_take_profit_factor"`
}

// ExitConfig holds discretionary exit trigger settings.
type ExitConfig struct {
	MaxHolding         time.Duration `mapstructure:"max_holding"`
	MomentumArmLevel   float64       `mapstructure:"momentum_arm_level"`
	MomentumExitLevel  float64       `mapstructure:"momentum_exit_level"`
	VolumeFloor        float64       `mapstructure:"volume_floor"`         // fraction of entry-day average
	VolumeDeclineTicks int           `mapstructure:"volume_decline_ticks"` // consecutive ticks below floor
}

// PublishConfig holds exit-event publication retry settings.
type PublishConfig struct {
	MaxAttempts   int           `mapstructure:"max_attempts"`
	InitialDelay  time.Duration `mapstructure:"initial_delay"`
	MaxDelay      time.Duration `mapstructure:"max_delay"`
	BackoffFactor float64       `mapstructure:"backoff_factor"`
}

// MarketDataConfig selects and configures the market-data provider.
type MarketDataConfig struct {
	Provider string     `mapstructure:"provider"` // "kite", "sim"
	Kite     KiteConfig `mapstructure:"kite"`
}

// KiteConfig holds Kite Connect API settings. The access token is issued
// by the out-of-scope session lifecycle and supplied here directly.
type KiteConfig struct {
	APIKey      string `mapstructure:"api_key"`
	AccessToken string `mapstructure:"access_token"`
	Exchange    string `mapstructure:"exchange"`
}

// NotificationConfig holds notification configuration.
type NotificationConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Level    string        `mapstructure:"level"` // all, exits_only, errors_only
	Terminal bool          `mapstructure:"terminal"`
	Webhook  WebhookConfig `mapstructure:"webhook"`
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/stealth-trader"
	}
	return filepath.Join(home, ".config", "stealth-trader")
}

// Load loads configuration from the specified directory. If configDir is
// empty, the default config directory is used. Missing files produce a
// template plus defaults rather than an error.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config.toml: %w", err)
		}
		if err := writeTemplate(configDir); err != nil {
			return nil, fmt.Errorf("writing config template: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.tick_interval", "60s")
	v.SetDefault("engine.batch_size", 25)
	v.SetDefault("engine.max_concurrent_batches", 4)
	v.SetDefault("engine.fetch_timeout", "10s")
	v.SetDefault("engine.failure_escalation", 5)
	v.SetDefault("engine.session_only", true)

	v.SetDefault("stages.breakeven_threshold", 0.005)
	v.SetDefault("stages.trailing_threshold", 0.008)
	v.SetDefault("stages.explosive_threshold", 0.05)
	v.SetDefault("stages.moon_threshold", 0.25)
	v.SetDefault("stages.trailing_distance", 0.008)
	v.SetDefault("stages.explosive_distance", 0.005)
	v.SetDefault("stages.moon_distance", 0.003)
	v.SetDefault("stages.base_take_profit", 0.10)
	v.SetDefault("stages.moon_take_profit_boost", 1.5)
	v.SetDefault("stages.ultra_confidence", 0.99)
	v.SetDefault("stages.high_confidence", 0.95)
	v.SetDefault("stages.ultra_moon_threshold", 0.10)
	v.SetDefault("stages.high_moon_threshold", 0.15)
	v.SetDefault("stages.ultra_explosive_factor", 0.8)
	v.SetDefault("stages.high_explosive_factor", 0.9)
	v.SetDefault("stages.ultra_take_profit_factor", 2.0)
	v.SetDefault("stages.high_take_profit_factor", 1.5)

	v.SetDefault("exits.max_holding", "4h")
	v.SetDefault("exits.momentum_arm_level", 55.0)
	v.SetDefault("exits.momentum_exit_level", 45.0)
	v.SetDefault("exits.volume_floor", 0.4)
	v.SetDefault("exits.volume_decline_ticks", 3)

	v.SetDefault("publish.max_attempts", 3)
	v.SetDefault("publish.initial_delay", "500ms")
	v.SetDefault("publish.max_delay", "10s")
	v.SetDefault("publish.backoff_factor", 2.0)

	v.SetDefault("market_data.provider", "sim")
	v.SetDefault("market_data.kite.exchange", "NSE")

	v.SetDefault("notifications.enabled", true)
	v.SetDefault("notifications.level", "all")
	v.SetDefault("notifications.terminal", true)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", true)
	v.SetDefault("logging.file_path", filepath.Join(DefaultConfigDir(), "logs", "engine.log"))
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 7)
	v.SetDefault("logging.max_age", 30)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KITE_API_KEY"); v != "" {
		cfg.MarketData.Kite.APIKey = v
	}
	if v := os.Getenv("KITE_ACCESS_TOKEN"); v != "" {
		cfg.MarketData.Kite.AccessToken = v
	}
	if v := os.Getenv("MARKET_DATA_PROVIDER"); v != "" {
		cfg.MarketData.Provider = v
	}
	if v := os.Getenv("WEBHOOK_URL"); v != "" {
		cfg.Notifications.Webhook.URL = v
		cfg.Notifications.Webhook.Enabled = true
	}
}

// Validate validates the configuration. Every rejection wraps
// ErrConfigInvalid so callers can detect configuration failures with
// errors.Is.
func (c *Config) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return enginerrors.Wrapf(enginerrors.ErrConfigInvalid, format, args...)
	}

	if c.Engine.TickInterval <= 0 {
		return invalid("engine.tick_interval must be positive")
	}
	if c.Engine.BatchSize < 1 {
		return invalid("engine.batch_size must be at least 1")
	}
	if c.Engine.MaxConcurrentBatches < 1 {
		return invalid("engine.max_concurrent_batches must be at least 1")
	}
	if c.Engine.FetchTimeout <= 0 {
		return invalid("engine.fetch_timeout must be positive")
	}

	s := c.Stages
	if s.BreakevenThreshold <= 0 || s.TrailingThreshold <= 0 || s.ExplosiveThreshold <= 0 || s.MoonThreshold <= 0 {
		return invalid("stage thresholds must be positive")
	}
	if !(s.BreakevenThreshold < s.TrailingThreshold && s.TrailingThreshold < s.ExplosiveThreshold && s.ExplosiveThreshold < s.MoonThreshold) {
		return invalid("stage thresholds must be strictly increasing")
	}
	for _, d := range []float64{s.TrailingDistance, s.ExplosiveDistance, s.MoonDistance} {
		if d <= 0 || d >= 1 {
			return invalid("trailing distances must be in (0, 1)")
		}
	}
	if s.UltraConfidence <= s.HighConfidence {
		return invalid("ultra_confidence must exceed high_confidence")
	}

	if c.Exits.MaxHolding <= 0 {
		return invalid("exits.max_holding must be positive")
	}
	if c.Exits.MomentumExitLevel >= c.Exits.MomentumArmLevel {
		return invalid("momentum_exit_level must be below momentum_arm_level")
	}
	if c.Exits.VolumeFloor <= 0 || c.Exits.VolumeFloor >= 1 {
		return invalid("exits.volume_floor must be in (0, 1)")
	}

	if c.Publish.MaxAttempts < 1 {
		return invalid("publish.max_attempts must be at least 1")
	}

	switch c.MarketData.Provider {
	case "kite", "sim":
	default:
		return invalid("unknown market data provider: %s", c.MarketData.Provider)
	}
	if c.MarketData.Provider == "kite" && c.MarketData.Kite.APIKey == "" {
		return invalid("market_data.kite.api_key is required for the kite provider")
	}

	return nil
}
