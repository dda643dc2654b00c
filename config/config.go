package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/alejandrodnm/mintmaker/internal/domain"
)

// Config is the complete process configuration.
type Config struct {
	API      APIConfig      `yaml:"api"`
	Wallet   WalletConfig   `yaml:"wallet"`
	Storage  StorageConfig  `yaml:"storage"`
	Redis    RedisConfig    `yaml:"redis"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Engine   EngineConfig   `yaml:"engine"`
	Settings SettingsConfig `yaml:"settings"`
}

// APIConfig holds the Polymarket base URLs.
type APIConfig struct {
	CLOBBase  string `yaml:"clob_base"`
	GammaBase string `yaml:"gamma_base"`
	WSBase    string `yaml:"ws_base"`
}

// WalletConfig holds the signing key and the Polygon RPC endpoint.
type WalletConfig struct {
	PrivateKey string `yaml:"private_key"` // hex, no 0x; prefer POLY_PRIVATE_KEY
	RPCURL     string `yaml:"rpc_url"`
}

// StorageConfig controls where pairs and the audit log are persisted.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // SQLite file path, or ":memory:"
}

// RedisConfig enables the distributed pair lock when Addr is set.
type RedisConfig struct {
	Addr           string `yaml:"addr"`
	Password       string `yaml:"password"`
	DB             int    `yaml:"db"`
	TLS            bool   `yaml:"tls"`
	LockTTLSeconds int    `yaml:"lock_ttl_seconds"`
}

// ServerConfig controls the operator HTTP API. Empty Addr disables it.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig controls log format and level.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// EngineConfig holds the task cadences and retry knobs of the engine.
type EngineConfig struct {
	ScanIntervalSeconds      int `yaml:"scan_interval_seconds"`
	OrphanIntervalSeconds    int `yaml:"orphan_interval_seconds"`
	SweepIntervalSeconds     int `yaml:"sweep_interval_seconds"`
	MergeIntervalSeconds     int `yaml:"merge_interval_seconds"`
	ReconcileIntervalSeconds int `yaml:"reconcile_interval_seconds"`
	CallTimeoutSeconds       int `yaml:"call_timeout_seconds"`
	MergeBackoffBaseSeconds  int `yaml:"merge_backoff_base_seconds"`
	MaxMergeAttempts         int `yaml:"max_merge_attempts"`
	UnackedWindowSeconds     int `yaml:"unacked_window_seconds"`
	Workers                  int `yaml:"workers"`
	FeedBuffer               int `yaml:"feed_buffer"`
	MarketHorizonMinutes     int `yaml:"market_horizon_minutes"`
	LogRetentionDays         int `yaml:"log_retention_days"`

	BreakerMaxLosses       int     `yaml:"breaker_max_losses"`
	BreakerCooldownMinutes int     `yaml:"breaker_cooldown_minutes"`
	BreakerMaxDrawdownUSD  float64 `yaml:"breaker_max_drawdown_usd"` // positive dollars, 0 disables
}

// SettingsConfig seeds the operator settings on first start. Unset fields
// keep domain.DefaultSettings values. Once saved, the API owns them.
type SettingsConfig struct {
	BidOffsetCents      float64  `yaml:"bid_offset_cents"`
	MaxPairCost         float64  `yaml:"max_pair_cost"`
	MinSpreadProfit     float64  `yaml:"min_spread_profit"`
	MaxPairsPerMarket   int      `yaml:"max_pairs_per_market"`
	MaxTotalPairs       int      `yaml:"max_total_pairs"`
	StaleOrderSeconds   int      `yaml:"stale_order_seconds"`
	Assets              []string `yaml:"assets"`
	MinMinutesToClose   float64  `yaml:"min_minutes_to_close"`
	MaxMinutesToClose   float64  `yaml:"max_minutes_to_close"`
	SafetyMarginMinutes float64  `yaml:"safety_margin_minutes"`
	AutoPlace           *bool    `yaml:"auto_place"`
	AutoPlaceSize       float64  `yaml:"auto_place_size"`
	AutoRedeem          *bool    `yaml:"auto_redeem"`
	StopLossPct         *float64 `yaml:"stop_loss_pct"`
	StopLossDelaySecs   int      `yaml:"stop_loss_delay_secs"`
	MaxDeployedUSD      float64  `yaml:"max_deployed_usd"`
}

// Load reads the YAML file and the .env file if present. Environment
// variables override the YAML values for the keys they cover.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// Seconds converts an integer number of seconds.
func Seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// MarketHorizon is how far ahead the market scan looks.
func (c *Config) MarketHorizon() time.Duration {
	return time.Duration(c.Engine.MarketHorizonMinutes) * time.Minute
}

// LogRetention is how long audit entries are kept.
func (c *Config) LogRetention() time.Duration {
	return time.Duration(c.Engine.LogRetentionDays) * 24 * time.Hour
}

// BreakerCooldown is the placement pause after consecutive losses.
func (c *Config) BreakerCooldown() time.Duration {
	return time.Duration(c.Engine.BreakerCooldownMinutes) * time.Minute
}

// BreakerMaxDrawdown is the drawdown limit as a negative amount.
func (c *Config) BreakerMaxDrawdown() decimal.Decimal {
	return decimal.NewFromFloat(c.Engine.BreakerMaxDrawdownUSD).Abs().Neg()
}

// SeedSettings merges the YAML settings section over the defaults.
func (c *Config) SeedSettings() domain.Settings {
	s := domain.DefaultSettings()
	y := c.Settings
	setDec := func(dst *decimal.Decimal, v float64) {
		if v > 0 {
			*dst = decimal.NewFromFloat(v)
		}
	}
	setInt := func(dst *int, v int) {
		if v > 0 {
			*dst = v
		}
	}
	setFloat := func(dst *float64, v float64) {
		if v > 0 {
			*dst = v
		}
	}

	setDec(&s.BidOffsetCents, y.BidOffsetCents)
	setDec(&s.MaxPairCost, y.MaxPairCost)
	setDec(&s.MinSpreadProfit, y.MinSpreadProfit)
	setInt(&s.MaxPairsPerMarket, y.MaxPairsPerMarket)
	setInt(&s.MaxTotalPairs, y.MaxTotalPairs)
	setInt(&s.StaleOrderSeconds, y.StaleOrderSeconds)
	if len(y.Assets) > 0 {
		s.Assets = make([]string, 0, len(y.Assets))
		for _, a := range y.Assets {
			s.Assets = append(s.Assets, strings.ToUpper(strings.TrimSpace(a)))
		}
	}
	setFloat(&s.MinMinutesToClose, y.MinMinutesToClose)
	setFloat(&s.MaxMinutesToClose, y.MaxMinutesToClose)
	setFloat(&s.SafetyMarginMinutes, y.SafetyMarginMinutes)
	if y.AutoPlace != nil {
		s.AutoPlace = *y.AutoPlace
	}
	setDec(&s.AutoPlaceSize, y.AutoPlaceSize)
	if y.AutoRedeem != nil {
		s.AutoRedeem = *y.AutoRedeem
	}
	if y.StopLossPct != nil {
		s.StopLossPct = decimal.NewFromFloat(*y.StopLossPct)
	}
	setInt(&s.StopLossDelaySecs, y.StopLossDelaySecs)
	setDec(&s.MaxDeployedUSD, y.MaxDeployedUSD)
	return s
}

// applyEnvOverrides replaces values with environment variables when set.
func applyEnvOverrides(cfg *Config) {
	overrides := []struct {
		env string
		dst *string
	}{
		{"LOG_LEVEL", &cfg.Log.Level},
		{"LOG_FORMAT", &cfg.Log.Format},
		{"POLY_PRIVATE_KEY", &cfg.Wallet.PrivateKey},
		{"POLYGON_RPC_URL", &cfg.Wallet.RPCURL},
		{"MINTMAKER_DB", &cfg.Storage.DSN},
		{"REDIS_ADDR", &cfg.Redis.Addr},
		{"REDIS_PASSWORD", &cfg.Redis.Password},
		{"SERVER_ADDR", &cfg.Server.Addr},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.dst = v
		}
	}
	cfg.Wallet.PrivateKey = strings.TrimPrefix(cfg.Wallet.PrivateKey, "0x")
}

// setDefaults fills the required values left empty.
func setDefaults(cfg *Config) {
	if cfg.API.CLOBBase == "" {
		cfg.API.CLOBBase = "https://clob.polymarket.com"
	}
	if cfg.API.GammaBase == "" {
		cfg.API.GammaBase = "https://gamma-api.polymarket.com"
	}
	if cfg.API.WSBase == "" {
		cfg.API.WSBase = "wss://ws-subscriptions-clob.polymarket.com/ws"
	}
	if cfg.Wallet.RPCURL == "" {
		cfg.Wallet.RPCURL = "https://polygon-rpc.com"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "mintmaker.db"
	}
	if cfg.Redis.LockTTLSeconds <= 0 {
		cfg.Redis.LockTTLSeconds = 30
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	e := &cfg.Engine
	for _, d := range []struct {
		dst *int
		def int
	}{
		{&e.ScanIntervalSeconds, 15},
		{&e.OrphanIntervalSeconds, 5},
		{&e.SweepIntervalSeconds, 10},
		{&e.MergeIntervalSeconds, 10},
		{&e.ReconcileIntervalSeconds, 30},
		{&e.CallTimeoutSeconds, 10},
		{&e.MergeBackoffBaseSeconds, 30},
		{&e.MaxMergeAttempts, 5},
		{&e.UnackedWindowSeconds, 120},
		{&e.Workers, 8},
		{&e.FeedBuffer, 256},
		{&e.MarketHorizonMinutes, 120},
		{&e.LogRetentionDays, 30},
		{&e.BreakerMaxLosses, 3},
		{&e.BreakerCooldownMinutes, 30},
	} {
		if *d.dst <= 0 {
			*d.dst = d.def
		}
	}
}
