package di

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aristath/coinfolio/internal/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DataDir: t.TempDir(),
		Port:    8010,
		CoinGecko: config.ProviderConfig{
			BaseURL:           "http://127.0.0.1:1",
			RequestsPerMinute: 30,
		},
		Binance: config.BinanceConfig{
			ProviderConfig: config.ProviderConfig{
				BaseURL:           "http://127.0.0.1:1",
				RequestsPerMinute: 600,
			},
		},
		Market: config.MarketConfig{
			HTTPTimeout:      time.Second,
			RetryMaxAttempts: 1,
			RateLimitMaxWait: time.Second,
			BulkChunkSize:    50,
		},
		RefreshSchedule: "0 */5 * * * *",
	}
}

func TestInitializeDatabases(t *testing.T) {
	cfg := testConfig(t)

	container, err := InitializeDatabases(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()

	assert.NotNil(t, container.LedgerDB)
	assert.NotNil(t, container.CacheDB)
	assert.FileExists(t, filepath.Join(cfg.DataDir, "ledger.db"))
	assert.FileExists(t, filepath.Join(cfg.DataDir, "cache.db"))
}

func TestInitializeDatabases_InvalidPath(t *testing.T) {
	cfg := testConfig(t)
	// a regular file cannot hold the databases
	blocker := filepath.Join(cfg.DataDir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))
	cfg.DataDir = blocker

	_, err := InitializeDatabases(cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestWire(t *testing.T) {
	cfg := testConfig(t)

	container, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()

	assert.NotNil(t, container.MarketData)
	assert.NotNil(t, container.Portfolio)
	assert.NotNil(t, container.Events)
	assert.Nil(t, container.Stream)
	assert.Nil(t, container.Backup)

	for _, name := range []string{"hot_cache_sweep", "client_data_cleanup", "wal_checkpoint", "portfolio_price_refresh"} {
		assert.Contains(t, container.Jobs, name)
	}
	assert.Len(t, container.Scheduler.Status(), 4)

	// the ledger is usable straight away
	p, err := container.Ledger.Load()
	require.NoError(t, err)
	assert.Empty(t, p.Positions)
}

func TestWire_InvalidScheduleFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.RefreshSchedule = "every now and then"

	_, err := Wire(cfg, zerolog.Nop())
	assert.Error(t, err)
}
