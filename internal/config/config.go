// Package config provides configuration management for the trading gateway.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/marketcalls/openalgo-sub020/internal/errors"
)

// Config holds all gateway configuration.
type Config struct {
	Trading     TradingConfig                `mapstructure:"trading"`
	Brokers     BrokersConfig                `mapstructure:"brokers"`
	Refresh     RefreshConfig                `mapstructure:"refresh"`
	Stream      StreamConfig                 `mapstructure:"stream"`
	Credentials map[string]BrokerCredentials `mapstructure:"-"` // Loaded separately
}

// TradingConfig holds order-placement configuration.
type TradingConfig struct {
	Mode            string        `mapstructure:"mode"`             // "live", "paper"
	DefaultAccount  string        `mapstructure:"default_account"`
	DefaultProduct  string        `mapstructure:"default_product"`  // MIS, CNC, NRML
	DefaultExchange string        `mapstructure:"default_exchange"` // NSE, BSE, ...
	OrderTimeout    time.Duration `mapstructure:"order_timeout"`
}

// BrokersConfig holds the broker allow-list and descriptor location.
type BrokersConfig struct {
	Enabled       []string `mapstructure:"enabled"`
	DescriptorDir string   `mapstructure:"descriptor_dir"`
}

// RefreshConfig holds the master contract refresh schedule.
// The daily refresh fires pre-market at Hour:Minute in Timezone.
type RefreshConfig struct {
	Hour        int    `mapstructure:"hour"`
	Minute      int    `mapstructure:"minute"`
	Timezone    string `mapstructure:"timezone"`
	MaxAttempts int    `mapstructure:"max_attempts"`
}

// StreamConfig holds tick streaming configuration.
type StreamConfig struct {
	ReconnectMaxRetries int           `mapstructure:"reconnect_max_retries"`
	ReconnectBaseDelay  time.Duration `mapstructure:"reconnect_base_delay"`
	TickBuffer          int           `mapstructure:"tick_buffer"`
}

// BrokerCredentials holds per-broker API credentials.
type BrokerCredentials struct {
	APIKey      string `mapstructure:"api_key"`
	APISecret   string `mapstructure:"api_secret"`
	UserID      string `mapstructure:"user_id"`
	Password    string `mapstructure:"password"`
	TOTPSecret  string `mapstructure:"totp_secret"`
	AccessToken string `mapstructure:"access_token"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/openalgo"
	}
	return filepath.Join(home, ".config", "openalgo")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{Credentials: make(map[string]BrokerCredentials)}

	if err := loadConfigFile(configDir, cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := loadCredentials(configDir, cfg); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func loadConfigFile(configDir string, cfg *Config) error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	v.SetDefault("trading.mode", "paper")
	v.SetDefault("trading.default_account", "default")
	v.SetDefault("trading.default_product", "MIS")
	v.SetDefault("trading.default_exchange", "NSE")
	v.SetDefault("trading.order_timeout", "10s")
	v.SetDefault("brokers.enabled", []string{"paper"})
	v.SetDefault("refresh.hour", 8)
	v.SetDefault("refresh.minute", 30)
	v.SetDefault("refresh.timezone", "Asia/Kolkata")
	v.SetDefault("refresh.max_attempts", 3)
	v.SetDefault("stream.reconnect_max_retries", 5)
	v.SetDefault("stream.reconnect_base_delay", "1s")
	v.SetDefault("stream.tick_buffer", 64)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		// Missing file falls back to defaults.
	}

	return v.Unmarshal(cfg)
}

func loadCredentials(configDir string, cfg *Config) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return err
	}

	return v.Unmarshal(&cfg.Credentials)
}

// applyEnvOverrides lets environment variables override broker
// credentials: OPENALGO_<BROKER>_API_KEY etc.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPENALGO_TRADING_MODE"); v != "" {
		cfg.Trading.Mode = v
	}

	for _, broker := range cfg.Brokers.Enabled {
		prefix := "OPENALGO_" + strings.ToUpper(broker) + "_"
		creds := cfg.Credentials[broker]
		if v := os.Getenv(prefix + "API_KEY"); v != "" {
			creds.APIKey = v
		}
		if v := os.Getenv(prefix + "API_SECRET"); v != "" {
			creds.APISecret = v
		}
		if v := os.Getenv(prefix + "USER_ID"); v != "" {
			creds.UserID = v
		}
		if v := os.Getenv(prefix + "TOTP_SECRET"); v != "" {
			creds.TOTPSecret = v
		}
		if v := os.Getenv(prefix + "ACCESS_TOKEN"); v != "" {
			creds.AccessToken = v
		}
		cfg.Credentials[broker] = creds
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Trading.OrderTimeout <= 0 {
		cfg.Trading.OrderTimeout = 10 * time.Second
	}
	if cfg.Stream.TickBuffer <= 0 {
		cfg.Stream.TickBuffer = 64
	}
	if cfg.Stream.ReconnectMaxRetries <= 0 {
		cfg.Stream.ReconnectMaxRetries = 5
	}
	if cfg.Stream.ReconnectBaseDelay <= 0 {
		cfg.Stream.ReconnectBaseDelay = time.Second
	}
	if cfg.Refresh.MaxAttempts <= 0 {
		cfg.Refresh.MaxAttempts = 3
	}
}

// Validate validates the configuration. Failures match ErrConfigInvalid.
func (c *Config) Validate() error {
	if c.Trading.Mode != "" && c.Trading.Mode != "live" && c.Trading.Mode != "paper" {
		return fmt.Errorf("%w: trading mode %q (must be 'live' or 'paper')", errors.ErrConfigInvalid, c.Trading.Mode)
	}
	if len(c.Brokers.Enabled) == 0 {
		return fmt.Errorf("%w: no brokers enabled", errors.ErrConfigInvalid)
	}
	if c.Refresh.Hour < 0 || c.Refresh.Hour > 23 {
		return fmt.Errorf("%w: refresh.hour must be between 0 and 23", errors.ErrConfigInvalid)
	}
	if c.Refresh.Minute < 0 || c.Refresh.Minute > 59 {
		return fmt.Errorf("%w: refresh.minute must be between 0 and 59", errors.ErrConfigInvalid)
	}
	if _, err := time.LoadLocation(c.Refresh.Timezone); err != nil {
		return fmt.Errorf("%w: refresh.timezone: %v", errors.ErrConfigInvalid, err)
	}
	return nil
}

// IsPaperMode returns true if paper trading mode is enabled.
func (c *Config) IsPaperMode() bool {
	return c.Trading.Mode == "paper"
}

// BrokerEnabled reports whether brokerID is on the allow-list.
func (c *Config) BrokerEnabled(brokerID string) bool {
	for _, id := range c.Brokers.Enabled {
		if id == brokerID {
			return true
		}
	}
	return false
}
