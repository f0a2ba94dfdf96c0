package server

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aristath/coinfolio/internal/events"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventsStream_ForwardsFilteredEvents(t *testing.T) {
	bus := events.NewBus(zerolog.Nop())
	srv := httptest.NewServer(NewEventsStreamHandler(bus, zerolog.Nop()))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"?types=PORTFOLIO_CHANGED", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	next := func() string {
		for lines.Scan() {
			if line := lines.Text(); strings.HasPrefix(line, "data: ") {
				return line
			}
		}
		return ""
	}

	assert.Contains(t, next(), `"connected"`)
	require.Eventually(t, func() bool { return bus.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	bus.Emit("portfolio", &events.PricesRefreshedData{Priced: 1})
	bus.Emit("portfolio", &events.PortfolioChangedData{CoinID: "bitcoin", Action: "added"})

	line := next()
	assert.Contains(t, line, `"PORTFOLIO_CHANGED"`)
	assert.Contains(t, line, `"coin_id":"bitcoin"`)

	cancel()
	assert.Eventually(t, func() bool { return bus.Subscribers() == 0 }, time.Second, 10*time.Millisecond)
}
