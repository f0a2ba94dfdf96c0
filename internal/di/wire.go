// Package di provides dependency injection wiring and initialization.
package di

import (
	"fmt"

	"github.com/aristath/coinfolio/internal/config"
	"github.com/rs/zerolog"
)

// Wire initializes all dependencies and returns a fully configured container.
// Order of operations:
// 1. Initialize databases
// 2. Initialize services
// 3. Register jobs
//
// Nothing is started: call Start once the server is ready.
func Wire(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container, err := InitializeDatabases(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := InitializeServices(container, cfg, log); err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := RegisterJobs(container, cfg, log); err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to register jobs: %w", err)
	}

	log.Info().Msg("Dependency injection wiring completed successfully")
	return container, nil
}

// Start launches the ticker stream and the scheduler
func (c *Container) Start(log zerolog.Logger) {
	if c.Stream != nil {
		// a failed first connection keeps retrying in the background
		if err := c.Stream.Start(); err != nil {
			log.Warn().Err(err).Msg("Ticker stream not connected yet")
		}
	}
	if c.Scheduler != nil {
		c.Scheduler.Start()
	}
}

// Close stops background work and closes the databases
func (c *Container) Close() {
	if c.Scheduler != nil {
		c.Scheduler.Stop()
	}
	if c.Stream != nil {
		_ = c.Stream.Stop()
	}
	if c.CacheDB != nil {
		_ = c.CacheDB.Close()
	}
	if c.LedgerDB != nil {
		_ = c.LedgerDB.Close()
	}
}
