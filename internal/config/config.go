// Package config defines all configuration for the trading engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via AE_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun   bool           `mapstructure:"dry_run"`
	Exchange ExchangeConfig `mapstructure:"exchange"`
	Store    StoreConfig    `mapstructure:"store"`
	Risk     RiskConfig     `mapstructure:"risk"`
	Strategy StrategyConfig `mapstructure:"strategy"`
	Poller   PollerConfig   `mapstructure:"poller"`
	Recovery RecoveryConfig `mapstructure:"recovery"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ExchangeConfig holds connection and HMAC signing details for the exchange
// account the engine trades under.
type ExchangeConfig struct {
	Name         string `mapstructure:"name"` // e.g. "BINANCE"
	Account      string `mapstructure:"account"`
	Mode         string `mapstructure:"mode"` // TESTNET | PRODUCTION
	RESTBaseURL  string `mapstructure:"rest_base_url"`
	WSBaseURL    string `mapstructure:"ws_base_url"`
	APIKey       string `mapstructure:"api_key"`
	APISecret    string `mapstructure:"api_secret"`
	RecvWindowMS int64  `mapstructure:"recv_window_ms"`
}

// StoreConfig configures the durable Postgres-backed log.
type StoreConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RiskConfig sets the cadence at which the risk guard reloads its rule
// thresholds from config_store. The thresholds themselves live in
// config_store's "risk" key (store.DefaultConfigs), not here.
type RiskConfig struct {
	ReloadInterval time.Duration `mapstructure:"reload_interval"`
}

// StrategyConfig names the strategy to auto-load, the symbol it trades, and
// its tick cadence.
type StrategyConfig struct {
	Name         string        `mapstructure:"name"`
	Symbol       string        `mapstructure:"symbol"`
	TickInterval time.Duration `mapstructure:"tick_interval"`
	AutoStart    bool          `mapstructure:"auto_start"`
}

// PollerConfig tunes each poller's cadence. Every field is a cron spec
// consumed by robfig/cron/v3 rather than a hand-rolled ticker, so operators
// can retune cadence via config without a redeploy.
type PollerConfig struct {
	IncomeCron          string `mapstructure:"income_cron"`
	TransferCron        string `mapstructure:"transfer_cron"`
	ConvertCron         string `mapstructure:"convert_cron"`
	DepositWithdrawCron string `mapstructure:"deposit_withdraw_cron"`
	PriceCacheCron      string `mapstructure:"price_cache_cron"`
	ReconcileCron       string `mapstructure:"reconcile_cron"`
}

// RecoveryConfig tunes the startup recovery sequence.
type RecoveryConfig struct {
	BackfillWindowDays int     `mapstructure:"backfill_window_days"`
	ReconcileThreshold float64 `mapstructure:"reconcile_threshold"`
}

// MetricsConfig controls the Prometheus HTTP exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: AE_EXCHANGE_API_KEY, AE_EXCHANGE_API_SECRET,
// AE_STORE_DSN, AE_DRY_RUN.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("AE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("AE_EXCHANGE_API_KEY"); key != "" {
		cfg.Exchange.APIKey = key
	}
	if secret := os.Getenv("AE_EXCHANGE_API_SECRET"); secret != "" {
		cfg.Exchange.APISecret = secret
	}
	if dsn := os.Getenv("AE_STORE_DSN"); dsn != "" {
		cfg.Store.DSN = dsn
	}
	if v := os.Getenv("AE_DRY_RUN"); v == "true" || v == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Exchange.Name == "" {
		return fmt.Errorf("exchange.name is required")
	}
	if c.Exchange.RESTBaseURL == "" {
		return fmt.Errorf("exchange.rest_base_url is required")
	}
	if c.Exchange.APIKey == "" {
		return fmt.Errorf("exchange.api_key is required (set AE_EXCHANGE_API_KEY)")
	}
	if c.Exchange.APISecret == "" {
		return fmt.Errorf("exchange.api_secret is required (set AE_EXCHANGE_API_SECRET)")
	}
	switch c.Exchange.Mode {
	case "TESTNET", "PRODUCTION":
	default:
		return fmt.Errorf("exchange.mode must be TESTNET or PRODUCTION")
	}
	if c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required (set AE_STORE_DSN)")
	}
	if c.Strategy.TickInterval <= 0 {
		return fmt.Errorf("strategy.tick_interval must be > 0")
	}
	if c.Strategy.Symbol == "" {
		return fmt.Errorf("strategy.symbol is required")
	}
	return nil
}
