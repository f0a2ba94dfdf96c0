package analytics

import (
	"testing"
	"time"

	"github.com/aristath/coinfolio/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func series(prices ...float64) domain.Series {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := domain.Series{CoinID: "bitcoin", Days: len(prices)}
	for i, p := range prices {
		s.Points = append(s.Points, domain.PricePoint{Time: t0.Add(time.Duration(i) * 24 * time.Hour), Price: p})
	}
	return s
}

func TestSummarize(t *testing.T) {
	sum := Summarize(series(100, 110, 99, 120, 130, 125, 140, 150))

	assert.Equal(t, 8, sum.Points)
	assert.Equal(t, 100.0, sum.First)
	assert.Equal(t, 150.0, sum.Last)
	assert.Equal(t, 150.0, sum.High)
	assert.Equal(t, 99.0, sum.Low)
	assert.InDelta(t, 50.0, sum.ChangePct, 1e-9)
	assert.InDelta(t, 10.0, sum.MaxDrawdown, 1e-9)
	assert.Greater(t, sum.Volatility, 0.0)
	require.NotNil(t, sum.SMA)
	assert.InDelta(t, (110+99+120+130+125+140+150)/7.0, *sum.SMA, 1e-9)
}

func TestSummarize_ShortSeries(t *testing.T) {
	sum := Summarize(series(100, 100))
	assert.Nil(t, sum.SMA)
	assert.Equal(t, 0.0, sum.Volatility)
	assert.Equal(t, 0.0, sum.ChangePct)
}

func TestSummarize_Empty(t *testing.T) {
	sum := Summarize(domain.Series{Estimated: true})
	assert.Equal(t, 0, sum.Points)
	assert.True(t, sum.Estimated)
	assert.Equal(t, 0.0, sum.High)
}
