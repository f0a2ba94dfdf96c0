package portfolio

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aristath/coinfolio/internal/domain"
	"github.com/aristath/coinfolio/internal/modules/valuation"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// historyConcurrency bounds the series fetched at once
const historyConcurrency = 2

// HistoryPoint is the portfolio value at one instant
type HistoryPoint struct {
	Time            time.Time       `json:"time"`
	Value           decimal.Decimal `json:"value"`
	InvestedCapital decimal.Decimal `json:"investedCapital"`
}

// History is the portfolio value over a period
type History struct {
	Days   int            `json:"days"`
	Points []HistoryPoint `json:"points"`
	// Missing lists coins without any series; they are left out of every point
	Missing   []string `json:"missing"`
	Estimated []string `json:"estimated"`
	Stale     bool     `json:"stale"`
}

// GetPortfolioHistory values the holdings at every point of the coins' price
// series. The first held coin with a series sets the time grid.
func (s *Service) GetPortfolioHistory(ctx context.Context, days int) (History, error) {
	if days <= 0 {
		days = 30
	}

	p, err := s.ledger.Load()
	if err != nil {
		return History{}, err
	}

	var mu sync.Mutex
	series := make(map[string]domain.Series, len(p.Positions))
	hist := History{Days: days, Points: []HistoryPoint{}, Missing: []string{}, Estimated: []string{}}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(historyConcurrency)
	for _, pos := range p.Positions {
		pos := pos // per-iteration copy; go.mod targets go 1.21 (pre-1.22 loop semantics)
		g.Go(func() error {
			ser, err := s.market.Series(gctx, pos.CoinID, pos.Symbol, days)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				s.log.Warn().Err(err).Str("coin", pos.CoinID).Msg("No series for portfolio history")
				hist.Missing = append(hist.Missing, pos.CoinID)
				return nil
			}
			series[pos.CoinID] = ser
			if ser.Estimated {
				hist.Estimated = append(hist.Estimated, pos.CoinID)
			}
			if ser.Stale {
				hist.Stale = true
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return History{}, err
	}
	sort.Strings(hist.Missing)
	sort.Strings(hist.Estimated)

	grid := timeGrid(p, series)
	for _, t := range grid {
		point := HistoryPoint{Time: t}
		for _, pos := range p.Positions {
			ser, ok := series[pos.CoinID]
			if !ok {
				continue
			}
			held := holdingsAt(pos, t)
			if held.Holdings.IsZero() && held.InvestedCapital.IsZero() {
				continue
			}
			point.InvestedCapital = point.InvestedCapital.Add(held.InvestedCapital)
			if price, ok := ser.PriceAt(t); ok && held.Holdings.IsPositive() {
				point.Value = point.Value.Add(held.Holdings.Mul(decimal.NewFromFloat(price)))
			}
		}
		hist.Points = append(hist.Points, point)
	}
	return hist, nil
}

// timeGrid uses the longest series' timestamps
func timeGrid(p *domain.Portfolio, series map[string]domain.Series) []time.Time {
	var longest []domain.PricePoint
	for _, pos := range p.Positions {
		if ser, ok := series[pos.CoinID]; ok && len(ser.Points) > len(longest) {
			longest = ser.Points
		}
	}
	grid := make([]time.Time, len(longest))
	for i, pt := range longest {
		grid[i] = pt.Time
	}
	return grid
}

// holdingsAt values the transactions made up to t, without a price
func holdingsAt(pos domain.CoinPosition, t time.Time) valuation.Valuation {
	txs := make([]domain.Transaction, 0, len(pos.Transactions))
	for _, tx := range pos.Transactions {
		if !tx.Timestamp.After(t) {
			txs = append(txs, tx)
		}
	}
	return valuation.ValuePosition(txs, nil)
}
