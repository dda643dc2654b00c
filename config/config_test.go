package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/mintmaker/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, "log:\n  level: warn\n"))
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "mintmaker.db", cfg.Storage.DSN)
	assert.Equal(t, "https://clob.polymarket.com", cfg.API.CLOBBase)
	assert.Equal(t, 15, cfg.Engine.ScanIntervalSeconds)
	assert.Equal(t, 5, cfg.Engine.MaxMergeAttempts)
	assert.Equal(t, 120, cfg.Engine.UnackedWindowSeconds)
	assert.Equal(t, 2*time.Hour, cfg.MarketHorizon())
	assert.Equal(t, 30*24*time.Hour, cfg.LogRetention())
	assert.True(t, cfg.BreakerMaxDrawdown().IsZero())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("POLY_PRIVATE_KEY", "0xabc123")
	t.Setenv("MINTMAKER_DB", ":memory:")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("SERVER_ADDR", ":9090")

	cfg, err := config.Load(writeConfig(t, "storage:\n  dsn: file.db\nlog:\n  format: text\n"))
	require.NoError(t, err)

	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "abc123", cfg.Wallet.PrivateKey)
	assert.Equal(t, ":memory:", cfg.Storage.DSN)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, ":9090", cfg.Server.Addr)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestSeedSettings(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, `
engine:
  breaker_max_drawdown_usd: 50
settings:
  max_pair_cost: 0.95
  assets: [btc, " sol "]
  auto_place: true
  stop_loss_pct: 0
  auto_place_size: 25
`))
	require.NoError(t, err)

	s := cfg.SeedSettings()
	require.NoError(t, s.Validate())
	assert.Equal(t, "0.95", s.MaxPairCost.String())
	assert.Equal(t, []string{"BTC", "SOL"}, s.Assets)
	assert.True(t, s.AutoPlace)
	assert.False(t, s.StopLossEnabled(), "explicit zero disables stop-loss")
	assert.Equal(t, "25", s.AutoPlaceSize.String())
	assert.Equal(t, "0.02", s.MinSpreadProfit.String(), "unset keeps the default")
	assert.True(t, s.AutoRedeem)
	assert.Equal(t, "-50", cfg.BreakerMaxDrawdown().String())
}

func TestLoad_ExampleFileParses(t *testing.T) {
	cfg, err := config.Load("config.example.yaml")
	require.NoError(t, err)
	require.NoError(t, cfg.SeedSettings().Validate())
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)
}
