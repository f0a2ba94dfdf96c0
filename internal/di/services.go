package di

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aristath/coinfolio/internal/cache"
	"github.com/aristath/coinfolio/internal/clientdata"
	"github.com/aristath/coinfolio/internal/clients/binance"
	"github.com/aristath/coinfolio/internal/clients/coingecko"
	"github.com/aristath/coinfolio/internal/config"
	"github.com/aristath/coinfolio/internal/events"
	"github.com/aristath/coinfolio/internal/marketdata"
	"github.com/aristath/coinfolio/internal/modules/ledger"
	"github.com/aristath/coinfolio/internal/modules/portfolio"
	"github.com/aristath/coinfolio/internal/reliability"
	"github.com/rs/zerolog"
)

// InitializeServices creates the market data stack and the portfolio engine
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	// Cache: hot in-memory tier over the durable cache.db tier
	container.ClientData = clientdata.NewRepository(container.CacheDB.Conn())
	container.Cache = cache.New(container.ClientData, log)

	// Resilience layer shared by every provider call
	container.Limiter = reliability.NewRateLimiter(map[string]int{
		coingecko.ProviderName: cfg.CoinGecko.RequestsPerMinute,
		binance.ProviderName:   cfg.Binance.RequestsPerMinute,
	}, cfg.Market.RateLimitMaxWait, log)
	container.Coalescer = reliability.NewCoalescer(cfg.Market.CoalesceGrace)

	// Providers
	container.CoinGecko = coingecko.NewClient(cfg.CoinGecko.BaseURL, cfg.CoinGecko.APIKey, cfg.Market.HTTPTimeout, log)
	container.Binance = binance.NewClient(cfg.Binance.BaseURL, cfg.Market.HTTPTimeout, log)

	opts := marketdata.DefaultOptions()
	opts.Retry.MaxAttempts = cfg.Market.RetryMaxAttempts
	opts.Retry.BaseDelay = cfg.Market.RetryBaseDelay
	opts.Retry.MaxDelay = cfg.Market.RetryMaxDelay
	opts.BulkChunkSize = cfg.Market.BulkChunkSize
	opts.BulkBatchDelay = cfg.Market.BulkBatchDelay

	container.MarketData = marketdata.NewService(
		container.CoinGecko,
		container.Binance,
		container.Cache,
		container.Limiter,
		container.Coalescer,
		opts,
		log,
	)

	if cfg.Binance.StreamEnabled {
		container.Stream = binance.NewTickerStream(cfg.Binance.WebSocketURL, log)
		container.MarketData.SetStream(container.Stream)
	}

	// Ledger and portfolio engine
	container.Ledger = ledger.NewRepository(ledger.NewSQLiteKV(container.LedgerDB.Conn()), log)
	container.Portfolio = portfolio.NewService(container.Ledger, container.MarketData, log)
	container.Events = events.NewBus(log)
	container.Portfolio.SetEventBus(container.Events)

	if cfg.Backup.Enabled() {
		backup, err := newBackupService(container, cfg, log)
		if err != nil {
			// backups are optional; the app runs without them
			log.Warn().Err(err).Msg("R2 backups disabled")
		} else {
			container.Backup = backup
		}
	}

	log.Info().
		Bool("stream", container.Stream != nil).
		Bool("backups", container.Backup != nil).
		Msg("Services initialized")
	return nil
}

// newBackupService backs up a ledger.db snapshot and the exported ledger document
func newBackupService(container *Container, cfg *config.Config, log zerolog.Logger) (*reliability.R2BackupService, error) {
	store, err := reliability.NewR2Client(
		context.Background(),
		cfg.Backup.AccountID,
		cfg.Backup.AccessKeyID,
		cfg.Backup.SecretAccessKey,
		cfg.Backup.Bucket,
		log,
	)
	if err != nil {
		return nil, err
	}

	sources := []reliability.BackupSource{
		{
			Filename: "ledger.db",
			Write: func(ctx context.Context, path string) error {
				return container.LedgerDB.BackupTo(ctx, path)
			},
		},
		{
			Filename: "portfolio.json",
			Write: func(ctx context.Context, path string) error {
				data, err := container.Portfolio.ExportPortfolio(ctx)
				if err != nil {
					return err
				}
				if err := os.WriteFile(path, data, 0644); err != nil {
					return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
				}
				return nil
			},
		},
	}

	return reliability.NewR2BackupService(store, sources, cfg.DataDir, log), nil
}
