// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for all databases (always absolute)
	LogLevel string
	Port     int
	DevMode  bool

	CoinGecko ProviderConfig
	Binance   BinanceConfig
	Market    MarketConfig
	Backup    BackupConfig

	RefreshSchedule string // cron expression (with seconds) for the holdings price warm-up
}

// ProviderConfig holds the connection settings for one market-data provider
type ProviderConfig struct {
	BaseURL           string
	APIKey            string
	RequestsPerMinute int
}

// BinanceConfig extends the provider settings with the live ticker stream
type BinanceConfig struct {
	ProviderConfig
	WebSocketURL  string
	StreamEnabled bool
}

// MarketConfig tunes the resilience layer shared by every provider call
type MarketConfig struct {
	HTTPTimeout      time.Duration // hard timeout for a single outbound call
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	RateLimitMaxWait time.Duration // longer waits are rejected and served from stale cache
	CoalesceGrace    time.Duration
	BulkChunkSize    int
	BulkBatchDelay   time.Duration
}

// BackupConfig holds Cloudflare R2 backup settings. Backups are disabled
// unless all credentials are present.
type BackupConfig struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Schedule        string
	RetentionDays   int
}

// Enabled reports whether R2 credentials are configured
func (b BackupConfig) Enabled() bool {
	return b.AccountID != "" && b.AccessKeyID != "" && b.SecretAccessKey != "" && b.Bucket != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("PORT", 8010),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		CoinGecko: ProviderConfig{
			BaseURL:           getEnv("COINGECKO_BASE_URL", "https://api.coingecko.com/api/v3"),
			APIKey:            getEnv("COINGECKO_API_KEY", ""),
			RequestsPerMinute: getEnvAsInt("COINGECKO_RATE_LIMIT", 30),
		},
		Binance: BinanceConfig{
			ProviderConfig: ProviderConfig{
				BaseURL:           getEnv("BINANCE_BASE_URL", "https://api.binance.com"),
				RequestsPerMinute: getEnvAsInt("BINANCE_RATE_LIMIT", 600),
			},
			WebSocketURL:  getEnv("BINANCE_WS_URL", "wss://stream.binance.com:9443/ws/!miniTicker@arr"),
			StreamEnabled: getEnvAsBool("BINANCE_STREAM_ENABLED", false),
		},
		Market: MarketConfig{
			HTTPTimeout:      getEnvAsDuration("HTTP_TIMEOUT", 12*time.Second),
			RetryMaxAttempts: getEnvAsInt("RETRY_MAX_ATTEMPTS", 3),
			RetryBaseDelay:   getEnvAsDuration("RETRY_BASE_DELAY", time.Second),
			RetryMaxDelay:    getEnvAsDuration("RETRY_MAX_DELAY", 10*time.Second),
			RateLimitMaxWait: getEnvAsDuration("RATE_LIMIT_MAX_WAIT", 10*time.Second),
			CoalesceGrace:    getEnvAsDuration("COALESCE_GRACE", 500*time.Millisecond),
			BulkChunkSize:    getEnvAsInt("BULK_CHUNK_SIZE", 50),
			BulkBatchDelay:   getEnvAsDuration("BULK_BATCH_DELAY", 1200*time.Millisecond),
		},
		Backup: BackupConfig{
			AccountID:       getEnv("R2_ACCOUNT_ID", ""),
			AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
			Bucket:          getEnv("R2_BUCKET", ""),
			Schedule:        getEnv("BACKUP_SCHEDULE", "0 0 3 * * *"),
			RetentionDays:   getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
		},
		RefreshSchedule: getEnv("REFRESH_SCHEDULE", "0 */5 * * * *"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	if c.CoinGecko.BaseURL == "" {
		return fmt.Errorf("COINGECKO_BASE_URL is required")
	}
	if c.CoinGecko.RequestsPerMinute <= 0 || c.Binance.RequestsPerMinute <= 0 {
		return fmt.Errorf("provider rate limits must be positive")
	}
	if c.Market.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1")
	}
	if c.Market.BulkChunkSize < 1 {
		return fmt.Errorf("BULK_CHUNK_SIZE must be at least 1")
	}
	if c.Market.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
