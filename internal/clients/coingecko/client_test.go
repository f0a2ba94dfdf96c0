package coingecko

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aristath/coinfolio/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", "demo-key", 2*time.Second, zerolog.Nop())
}

func TestFetchTopQuotes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/coins/markets", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("per_page"))
		assert.Equal(t, "market_cap_desc", r.URL.Query().Get("order"))
		assert.Equal(t, "demo-key", r.Header.Get(apiKeyHeader))
		_, _ = w.Write([]byte(`[{"id":"bitcoin","symbol":"btc","name":"Bitcoin","current_price":1},{"id":"ethereum","symbol":"eth","name":"Ethereum","current_price":2}]`))
	})

	quotes, err := c.FetchTopQuotes(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	assert.Equal(t, "ETH", quotes[1].Symbol)
	assert.False(t, quotes[0].AsOf.IsZero())
}

func TestFetchQuotesBulk_JoinsIDs(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bitcoin,ethereum", r.URL.Query().Get("ids"))
		_, _ = w.Write([]byte(`{"data":[{"id":"bitcoin","symbol":"btc","current_price":1}]}`))
	})

	quotes, err := c.FetchQuotesBulk(context.Background(), []string{"bitcoin", "ethereum"})
	require.NoError(t, err)
	assert.Len(t, quotes, 1)
}

func TestFetchQuote(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/coins/bitcoin", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"bitcoin","symbol":"btc","name":"Bitcoin","image":{"large":"l.png"},"market_data":{"current_price":{"usd":50000}}}`))
	})

	q, err := c.FetchQuote(context.Background(), "bitcoin")
	require.NoError(t, err)
	assert.Equal(t, 50000.0, q.CurrentPrice)
	assert.Equal(t, "l.png", q.Image)
}

func TestFetchQuote_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"coin not found"}`))
	})

	_, err := c.FetchQuote(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFetchSeries(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/coins/bitcoin/market_chart", r.URL.Path)
		assert.Equal(t, "7", r.URL.Query().Get("days"))
		_, _ = w.Write([]byte(`{"prices":[[1704153600000,43000],[1704067200000,42000]],"market_caps":[]}`))
	})

	s, err := c.FetchSeries(context.Background(), "bitcoin", 7)
	require.NoError(t, err)
	require.Len(t, s.Points, 2)
	assert.Equal(t, 42000.0, s.Points[0].Price, "points are sorted by time")
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), s.Points[0].Time)
}

func TestFetchSeries_EmptyIsNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"prices":[]}`))
	})

	_, err := c.FetchSeries(context.Background(), "obscure", 30)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSearch_MalformedResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"maintenance"}`))
	})

	_, err := c.Search(context.Background(), "btc")
	assert.ErrorIs(t, err, domain.ErrMalformedResponse)
}

func TestRateLimitedCarriesRetryAfter(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "45")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.FetchTopQuotes(context.Background(), 10)
	var pe *domain.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, domain.KindRateLimited, pe.Kind)
	assert.Equal(t, 45*time.Second, pe.RetryAfter)
}
