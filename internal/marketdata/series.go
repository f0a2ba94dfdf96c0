package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/coinfolio/internal/clientdata"
	"github.com/aristath/coinfolio/internal/domain"
)

// estimateVolatility bounds each step of an estimated series, as a fraction of the price
const estimateVolatility = 0.03

// Series returns the price history of a coin over the last days.
// Sources are tried in order: primary provider, secondary candles (needs
// symbol), stale shadow, and finally a random-walk estimate anchored on the
// current quote. Estimated series are flagged and never cached.
func (s *Service) Series(ctx context.Context, coinID, symbol string, days int) (domain.Series, error) {
	if days <= 0 {
		days = 7
	}

	series, stale, err := fetchThrough(ctx, s, seriesKey(coinID, days), clientdata.TTLSeries, func(ctx context.Context) (domain.Series, error) {
		return s.fetchSeries(ctx, coinID, symbol, days)
	})
	if err == nil {
		out := series
		out.Points = append([]domain.PricePoint(nil), series.Points...)
		out.Stale = stale
		return out, nil
	}
	if ctx.Err() != nil {
		return domain.Series{}, ctx.Err()
	}

	q, qerr := s.Quote(ctx, coinID)
	if qerr != nil || q.CurrentPrice <= 0 {
		return domain.Series{}, noData(ctx, "series "+coinID, err)
	}

	s.log.Warn().
		Err(err).
		Str("coin", coinID).
		Int("days", days).
		Msg("No price history available, returning estimated series")
	return s.estimateSeries(coinID, q.CurrentPrice, days), nil
}

func (s *Service) fetchSeries(ctx context.Context, coinID, symbol string, days int) (domain.Series, error) {
	series, err := call(ctx, s, s.primary.Name(), s.opts.Retry, func(ctx context.Context) (domain.Series, error) {
		return s.primary.FetchSeries(ctx, coinID, days)
	})
	if err == nil && len(series.Points) > 0 {
		return series, nil
	}
	if err == nil {
		err = fmt.Errorf("series %s: %w", coinID, domain.ErrNotFound)
	}
	if s.secondary == nil || symbol == "" || errors.Is(err, context.Canceled) {
		return domain.Series{}, err
	}

	s.log.Debug().Err(err).Str("coin", coinID).Str("symbol", symbol).Msg("Primary series unavailable, trying candles")
	points, kerr := call(ctx, s, s.secondary.Name(), s.opts.Retry, func(ctx context.Context) ([]domain.PricePoint, error) {
		return s.secondary.FetchKlines(ctx, symbol, days)
	})
	if kerr != nil {
		return domain.Series{}, errors.Join(err, kerr)
	}

	return domain.Series{
		CoinID: coinID,
		Days:   days,
		Points: points,
		Source: s.secondary.Name(),
	}, nil
}

// estimateSeries walks backwards from the current price with bounded random steps
func (s *Service) estimateSeries(coinID string, price float64, days int) domain.Series {
	steps, step := days, 24*time.Hour
	switch {
	case days <= 1:
		steps, step = 24, time.Hour
	case days > 365:
		steps, step = days/7, 7*24*time.Hour
	}

	now := s.now().UTC()
	points := make([]domain.PricePoint, steps+1)
	points[steps] = domain.PricePoint{Time: now, Price: price}

	s.randMu.Lock()
	for i := steps - 1; i >= 0; i-- {
		change := (s.rand.Float64()*2 - 1) * estimateVolatility
		points[i] = domain.PricePoint{
			Time:  now.Add(-time.Duration(steps-i) * step),
			Price: points[i+1].Price / (1 + change),
		}
	}
	s.randMu.Unlock()

	return domain.Series{
		CoinID:    coinID,
		Days:      days,
		Points:    points,
		Source:    "estimate",
		Estimated: true,
	}
}
