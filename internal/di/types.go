// Package di provides dependency injection type definitions.
package di

import (
	"github.com/aristath/coinfolio/internal/cache"
	"github.com/aristath/coinfolio/internal/clientdata"
	"github.com/aristath/coinfolio/internal/clients/binance"
	"github.com/aristath/coinfolio/internal/clients/coingecko"
	"github.com/aristath/coinfolio/internal/database"
	"github.com/aristath/coinfolio/internal/events"
	"github.com/aristath/coinfolio/internal/marketdata"
	"github.com/aristath/coinfolio/internal/modules/ledger"
	"github.com/aristath/coinfolio/internal/modules/portfolio"
	"github.com/aristath/coinfolio/internal/reliability"
	"github.com/aristath/coinfolio/internal/scheduler"
)

// Container holds all dependencies for the application.
// It is created by Wire and passed to the server.
type Container struct {
	// Databases
	LedgerDB *database.DB // transactions, synchronous FULL
	CacheDB  *database.DB // market data cache, safe to lose

	// Market data
	ClientData *clientdata.Repository
	Cache      *cache.TieredCache
	Limiter    *reliability.RateLimiter
	Coalescer  *reliability.Coalescer
	CoinGecko  *coingecko.Client
	Binance    *binance.Client
	Stream     *binance.TickerStream // nil unless BINANCE_STREAM_ENABLED
	MarketData *marketdata.Service

	// Portfolio
	Events    *events.Bus
	Ledger    *ledger.Repository
	Portfolio *portfolio.Service

	// Background work
	Scheduler *scheduler.Scheduler
	Jobs      map[string]scheduler.Job
	Backup    *reliability.R2BackupService // nil unless R2 credentials are set
}
