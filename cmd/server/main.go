// Package main is the entry point for coinfolio, a local cryptocurrency
// portfolio tracker. It values the user's buy/sell ledger with market data
// from rate-limited public APIs and serves everything as a JSON API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/coinfolio/internal/config"
	"github.com/aristath/coinfolio/internal/di"
	"github.com/aristath/coinfolio/internal/server"
	"github.com/aristath/coinfolio/internal/version"
	"github.com/aristath/coinfolio/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Str("version", version.Version).Msg("Starting coinfolio")

	// Databases, market data stack, portfolio engine and jobs
	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	srv := server.New(server.Config{
		Log:       log,
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
		Container: container,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	container.Start(log)

	// Warm holdings prices in the background so the first page load is fast
	if job, ok := container.Jobs["portfolio_price_refresh"]; ok {
		go func() {
			if err := container.Scheduler.RunNow(job); err != nil {
				log.Warn().Err(err).Msg("Initial price refresh failed")
			}
		}()
	}

	log.Info().Int("port", cfg.Port).Msg("Coinfolio started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
