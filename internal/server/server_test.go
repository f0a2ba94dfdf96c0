package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aristath/coinfolio/internal/config"
	"github.com/aristath/coinfolio/internal/di"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestServer wires a full container against providers that refuse connections
func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{
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

	container, err := di.Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(container.Close)

	return New(Config{Log: zerolog.Nop(), Port: cfg.Port, DevMode: true, Container: container})
}

func TestServer_Health(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "coinfolio", body["service"])
}

func TestServer_PortfolioWithoutProviders(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/portfolio/positions/bitcoin/transactions",
		strings.NewReader(`{"type":"buy","amount":"1","price":"10000","timestamp":"2024-01-01T00:00:00Z","symbol":"BTC","name":"Bitcoin"}`)))
	require.Equal(t, http.StatusCreated, rec.Code)

	// every provider is down: the position is listed without a price
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/portfolio", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var view struct {
		Positions []struct {
			CoinID       string  `json:"coinId"`
			Holdings     string  `json:"holdings"`
			CurrentPrice *string `json:"currentPrice"`
		} `json:"positions"`
		Totals struct {
			Complete bool `json:"complete"`
		} `json:"totals"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Len(t, view.Positions, 1)
	assert.Equal(t, "1", view.Positions[0].Holdings)
	assert.Nil(t, view.Positions[0].CurrentPrice)
	assert.False(t, view.Totals.Complete)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/system/jobs", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
