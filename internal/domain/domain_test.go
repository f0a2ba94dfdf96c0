package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestProviderError_MatchesKindSentinel(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("fetch quote: %w", NewProviderError("coingecko", "quote", KindRateLimited, 429, cause))

	assert.ErrorIs(t, err, ErrRateLimited)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrNotFound)

	var pe *ProviderError
	assert.True(t, errors.As(err, &pe))
	assert.Equal(t, 429, pe.Status)
	assert.Contains(t, err.Error(), "status 429")
}

func TestKindForStatus(t *testing.T) {
	cases := map[int]ErrorKind{
		429: KindRateLimited,
		404: KindNotFound,
		500: KindUnavailable,
		503: KindUnavailable,
		400: KindRejected,
		401: KindRejected,
	}
	for status, kind := range cases {
		assert.Equal(t, kind, KindForStatus(status), "status %d", status)
	}
}

func TestValidationError_MatchesInvalidLedgerData(t *testing.T) {
	err := Invalid("positions[0].transactions[1].amount", "is required")
	assert.ErrorIs(t, err, ErrInvalidLedgerData)
	assert.Contains(t, err.Error(), "positions[0].transactions[1].amount")
}

func TestCoinPosition_SortedTransactions(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	pos := CoinPosition{Transactions: []Transaction{
		{ID: "c", Timestamp: t0.Add(2 * time.Hour)},
		{ID: "a", Timestamp: t0},
		{ID: "b", Timestamp: t0.Add(time.Hour)},
	}}

	sorted := pos.SortedTransactions()
	assert.Equal(t, []string{"a", "b", "c"}, []string{sorted[0].ID, sorted[1].ID, sorted[2].ID})
	assert.Equal(t, "c", pos.Transactions[0].ID, "original order is untouched")
}

func TestPortfolio_CloneIsDeep(t *testing.T) {
	p := &Portfolio{Positions: []CoinPosition{{
		CoinID:       "bitcoin",
		Transactions: []Transaction{{ID: "1", Amount: decimal.NewFromInt(1)}},
	}}}

	c := p.Clone()
	c.Positions[0].Transactions[0].Amount = decimal.NewFromInt(5)
	c.Positions[0].Symbol = "XBT"

	assert.True(t, p.Positions[0].Transactions[0].Amount.Equal(decimal.NewFromInt(1)))
	assert.Empty(t, p.Positions[0].Symbol)
	assert.Equal(t, 0, p.Find("bitcoin"))
	assert.Equal(t, -1, p.Find("ethereum"))
}

func TestSeries_PriceAt(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := Series{Points: []PricePoint{
		{Time: t0, Price: 1},
		{Time: t0.Add(time.Hour), Price: 2},
	}}

	_, ok := s.PriceAt(t0.Add(-time.Minute))
	assert.False(t, ok)

	p, ok := s.PriceAt(t0.Add(30 * time.Minute))
	assert.True(t, ok)
	assert.Equal(t, 1.0, p)

	p, _ = s.PriceAt(t0.Add(5 * time.Hour))
	assert.Equal(t, 2.0, p)
}
