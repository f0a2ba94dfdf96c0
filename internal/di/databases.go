package di

import (
	"fmt"
	"path/filepath"

	"github.com/aristath/coinfolio/internal/config"
	"github.com/aristath/coinfolio/internal/database"
	"github.com/rs/zerolog"
)

// InitializeDatabases opens both databases and applies their schemas
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	// ledger.db - the user's transactions; maximum durability
	ledgerDB, err := openDatabase(filepath.Join(cfg.DataDir, "ledger.db"), "ledger", database.ProfileLedger)
	if err != nil {
		return nil, err
	}
	container.LedgerDB = ledgerDB

	// cache.db - provider responses and stale shadows; rebuilt on loss
	cacheDB, err := openDatabase(filepath.Join(cfg.DataDir, "cache.db"), "cache", database.ProfileCache)
	if err != nil {
		ledgerDB.Close()
		return nil, err
	}
	container.CacheDB = cacheDB

	log.Info().Str("data_dir", cfg.DataDir).Msg("Databases initialized")
	return container, nil
}

func openDatabase(path, name string, profile database.DatabaseProfile) (*database.DB, error) {
	db, err := database.New(database.Config{
		Path:    path,
		Profile: profile,
		Name:    name,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s database: %w", name, err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate %s database: %w", name, err)
	}
	return db, nil
}
