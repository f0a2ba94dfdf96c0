package marketdata

import (
	"context"
	"errors"
	"math"

	"github.com/aristath/coinfolio/internal/domain"
	"github.com/aristath/coinfolio/internal/reliability"
)

// maxEnrichDeviation is how far (as a fraction) a secondary price may stray
// from the primary one before it is taken to be a different asset sharing the symbol.
const maxEnrichDeviation = 0.5

// enrich overrides price and 24h change with live secondary data. Streamed
// ticks are used when fresh, the rest are fetched once with no retries.
// Failures leave the primary data untouched.
func (s *Service) enrich(ctx context.Context, quotes []domain.Quote) {
	missing := s.enrichFromStream(quotes)
	if s.secondary == nil || len(missing) == 0 {
		return
	}

	symbols := make([]string, 0, len(missing))
	for _, i := range missing {
		symbols = append(symbols, quotes[i].Symbol)
	}

	ticks, err := s.fetchTicks(ctx, symbols)
	if errors.Is(err, domain.ErrRejected) && len(symbols) > 1 {
		// One unlisted symbol fails the whole batch. Each single lookup goes
		// through the limiter on its own.
		s.log.Debug().Int("symbols", len(symbols)).Msg("Batch price lookup rejected, enriching one symbol at a time")
		ticks, err = s.fetchTicksIndividually(ctx, symbols)
	}
	if err != nil {
		s.log.Debug().Err(err).Int("symbols", len(symbols)).Msg("Price enrichment failed, keeping primary prices")
	}

	for _, i := range missing {
		if tick, ok := ticks[domain.NormalizeSymbol(quotes[i].Symbol)]; ok {
			s.applyTick(&quotes[i], tick, s.secondary.Name())
		}
	}
}

func (s *Service) fetchTicks(ctx context.Context, symbols []string) (map[string]domain.PriceTick, error) {
	single := reliability.RetryPolicy{MaxAttempts: 1}
	return call(ctx, s, s.secondary.Name(), single, func(ctx context.Context) (map[string]domain.PriceTick, error) {
		return s.secondary.FetchPrices(ctx, symbols)
	})
}

// fetchTicksIndividually looks symbols up one by one and returns what it got
// before the first failure other than a rejected symbol.
func (s *Service) fetchTicksIndividually(ctx context.Context, symbols []string) (map[string]domain.PriceTick, error) {
	out := make(map[string]domain.PriceTick, len(symbols))
	for _, sym := range symbols {
		ticks, err := s.fetchTicks(ctx, []string{sym})
		if errors.Is(err, domain.ErrRejected) {
			continue
		}
		if err != nil {
			return out, err
		}
		for k, v := range ticks {
			out[k] = v
		}
	}
	return out, nil
}

// enrichFromStream applies fresh streamed ticks and returns the indexes of quotes it could not enrich
func (s *Service) enrichFromStream(quotes []domain.Quote) []int {
	missing := make([]int, 0, len(quotes))
	for i := range quotes {
		if quotes[i].Symbol == "" {
			continue
		}
		if s.stream != nil {
			if tick, fresh := s.stream.Price(quotes[i].Symbol); fresh {
				s.applyTick(&quotes[i], tick, "stream")
				continue
			}
		}
		missing = append(missing, i)
	}
	return missing
}

func (s *Service) applyTick(q *domain.Quote, tick domain.PriceTick, source string) {
	if tick.Price <= 0 {
		return
	}
	if q.CurrentPrice > 0 && math.Abs(tick.Price-q.CurrentPrice)/q.CurrentPrice > maxEnrichDeviation {
		s.log.Debug().
			Str("coin", q.CoinID).
			Float64("primary", q.CurrentPrice).
			Float64("secondary", tick.Price).
			Msg("Secondary price deviates too far, ignoring")
		return
	}

	q.CurrentPrice = tick.Price
	q.Change24hPct = tick.Change24hPct
	if !tick.At.IsZero() {
		q.AsOf = tick.At
	}
	q.Source = q.Source + "+" + source
}
