// Package marketdata fuses the market data providers behind one service.
// Every request goes cache first, then through the coalescer, rate limiter
// and retry policy to the primary provider. Results are enriched with live
// prices from the secondary source and written to the fresh and stale cache
// tiers. When every live attempt fails the last-known-good copy is served,
// marked stale.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/aristath/coinfolio/internal/cache"
	"github.com/aristath/coinfolio/internal/clientdata"
	"github.com/aristath/coinfolio/internal/domain"
	"github.com/aristath/coinfolio/internal/reliability"
	"github.com/rs/zerolog"
)

// Primary is the discovery and metadata provider
type Primary interface {
	Name() string
	FetchTopQuotes(ctx context.Context, limit int) ([]domain.Quote, error)
	FetchQuote(ctx context.Context, coinID string) (domain.Quote, error)
	FetchQuotesBulk(ctx context.Context, coinIDs []string) ([]domain.Quote, error)
	FetchSeries(ctx context.Context, coinID string, days int) (domain.Series, error)
	Search(ctx context.Context, query string) ([]domain.SearchResult, error)
}

// Secondary refreshes prices by symbol and provides candle series
type Secondary interface {
	Name() string
	FetchPrices(ctx context.Context, symbols []string) (map[string]domain.PriceTick, error)
	FetchKlines(ctx context.Context, symbol string, days int) ([]domain.PricePoint, error)
}

// PriceStream serves streamed prices. The boolean reports whether the tick is fresh.
type PriceStream interface {
	Price(symbol string) (domain.PriceTick, bool)
}

// Options tunes request handling
type Options struct {
	Retry          reliability.RetryPolicy
	BulkChunkSize  int
	BulkBatchDelay time.Duration
}

// DefaultOptions returns the production defaults
func DefaultOptions() Options {
	return Options{
		Retry:          reliability.DefaultRetryPolicy(),
		BulkChunkSize:  50,
		BulkBatchDelay: 1200 * time.Millisecond,
	}
}

// Service is the market data facade used by the portfolio engine
type Service struct {
	primary   Primary
	secondary Secondary
	stream    PriceStream

	cache     *cache.TieredCache
	limiter   *reliability.RateLimiter
	coalescer *reliability.Coalescer
	opts      Options

	randMu sync.Mutex
	rand   *rand.Rand
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error

	log zerolog.Logger
}

// NewService wires a market data service. secondary may be nil.
func NewService(
	primary Primary,
	secondary Secondary,
	c *cache.TieredCache,
	limiter *reliability.RateLimiter,
	coalescer *reliability.Coalescer,
	opts Options,
	log zerolog.Logger,
) *Service {
	if opts.BulkChunkSize < 1 {
		opts.BulkChunkSize = DefaultOptions().BulkChunkSize
	}
	if opts.Retry.MaxAttempts < 1 {
		opts.Retry.MaxAttempts = 1
	}
	return &Service{
		primary:   primary,
		secondary: secondary,
		cache:     c,
		limiter:   limiter,
		coalescer: coalescer,
		opts:      opts,
		rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:       time.Now,
		sleep:     sleepCtx,
		log:       log.With().Str("service", "market_data").Logger(),
	}
}

// SetStream attaches a live price stream used for enrichment before any REST call
func (s *Service) SetStream(stream PriceStream) {
	s.stream = stream
}

// SetRandSource replaces the random source used for estimated series
func (s *Service) SetRandSource(src rand.Source) {
	s.randMu.Lock()
	s.rand = rand.New(src)
	s.randMu.Unlock()
}

func quoteKey(coinID string) string { return "quote:" + coinID }

func topKey(limit int) string { return fmt.Sprintf("top:%d", limit) }

func seriesKey(coinID string, days int) string { return fmt.Sprintf("series:%s:%d", coinID, days) }

func searchKey(query string) string { return "search:" + query }

// TopQuotes returns the top coins by market cap
func (s *Service) TopQuotes(ctx context.Context, limit int) ([]domain.Quote, error) {
	if limit <= 0 {
		limit = 10
	}

	quotes, stale, err := fetchThrough(ctx, s, topKey(limit), clientdata.TTLTopQuotes, func(ctx context.Context) ([]domain.Quote, error) {
		quotes, err := call(ctx, s, s.primary.Name(), s.opts.Retry, func(ctx context.Context) ([]domain.Quote, error) {
			return s.primary.FetchTopQuotes(ctx, limit)
		})
		if err != nil {
			return nil, err
		}
		s.enrich(ctx, quotes)
		return quotes, nil
	})
	if err != nil {
		return nil, noData(ctx, "top quotes", err)
	}

	out := make([]domain.Quote, len(quotes))
	copy(out, quotes)
	if stale {
		for i := range out {
			out[i].Stale = true
		}
	}
	return out, nil
}

// Quote returns the quote for one coin. An unknown coin yields domain.ErrNotFound.
func (s *Service) Quote(ctx context.Context, coinID string) (domain.Quote, error) {
	q, stale, err := fetchThrough(ctx, s, quoteKey(coinID), clientdata.TTLQuote, func(ctx context.Context) (domain.Quote, error) {
		q, err := call(ctx, s, s.primary.Name(), s.opts.Retry, func(ctx context.Context) (domain.Quote, error) {
			return s.primary.FetchQuote(ctx, coinID)
		})
		if err != nil {
			return domain.Quote{}, err
		}
		quotes := []domain.Quote{q}
		s.enrich(ctx, quotes)
		return quotes[0], nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Quote{}, fmt.Errorf("quote %s: %w", coinID, domain.ErrNotFound)
		}
		return domain.Quote{}, noData(ctx, "quote "+coinID, err)
	}
	q.Stale = stale
	return q, nil
}

// BulkResult holds the quotes of a bulk request. Ids with neither live nor
// stale data are listed in Missing.
type BulkResult struct {
	Quotes  map[string]domain.Quote
	Missing []string
}

// QuotesBulk returns quotes for many coins. Cached quotes are reused unless
// force is set; the rest are fetched in chunks spaced by the batch delay.
// Provider failures degrade per id to stale data and never fail the call.
func (s *Service) QuotesBulk(ctx context.Context, coinIDs []string, force bool) (BulkResult, error) {
	res := BulkResult{Quotes: make(map[string]domain.Quote, len(coinIDs))}

	pending := make([]string, 0, len(coinIDs))
	seen := make(map[string]bool, len(coinIDs))
	for _, id := range coinIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if !force {
			if q, ok := cache.Get[domain.Quote](s.cache, quoteKey(id)); ok {
				res.Quotes[id] = q
				continue
			}
		}
		pending = append(pending, id)
	}

	for start := 0; start < len(pending); start += s.opts.BulkChunkSize {
		if start > 0 && s.opts.BulkBatchDelay > 0 {
			if err := s.sleep(ctx, s.opts.BulkBatchDelay); err != nil {
				return res, err
			}
		}

		end := start + s.opts.BulkChunkSize
		if end > len(pending) {
			end = len(pending)
		}
		chunk := pending[start:end]

		quotes, err := s.fetchChunk(ctx, chunk, force)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			s.log.Warn().Err(err).Int("ids", len(chunk)).Msg("Bulk quote chunk failed, falling back to stale data")
		}

		for _, id := range chunk {
			if q, ok := quotes[id]; ok {
				res.Quotes[id] = q
				continue
			}
			if q, _, ok := cache.GetStale[domain.Quote](s.cache, quoteKey(id)); ok {
				q.Stale = true
				res.Quotes[id] = q
				continue
			}
			res.Missing = append(res.Missing, id)
		}
	}

	return res, nil
}

func (s *Service) fetchChunk(ctx context.Context, chunk []string, force bool) (map[string]domain.Quote, error) {
	key := "bulk:" + strings.Join(chunk, ",")
	if force {
		s.coalescer.Forget(key)
	}

	return reliability.Coalesce(ctx, s.coalescer, key, func(ctx context.Context) (map[string]domain.Quote, error) {
		quotes, err := call(ctx, s, s.primary.Name(), s.opts.Retry, func(ctx context.Context) ([]domain.Quote, error) {
			return s.primary.FetchQuotesBulk(ctx, chunk)
		})
		if err != nil {
			return nil, err
		}
		s.enrich(ctx, quotes)

		out := make(map[string]domain.Quote, len(quotes))
		for _, q := range quotes {
			out[q.CoinID] = q
			cache.Set(s.cache, quoteKey(q.CoinID), q, clientdata.TTLBulkQuotes)
			cache.SetStale(s.cache, quoteKey(q.CoinID), q, clientdata.TTLStaleShadow)
		}
		return out, nil
	})
}

// Search returns coins matching the query. No match is an empty list.
func (s *Service) Search(ctx context.Context, query string) ([]domain.SearchResult, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return []domain.SearchResult{}, nil
	}

	results, _, err := fetchThrough(ctx, s, searchKey(query), clientdata.TTLSearch, func(ctx context.Context) ([]domain.SearchResult, error) {
		return call(ctx, s, s.primary.Name(), s.opts.Retry, func(ctx context.Context) ([]domain.SearchResult, error) {
			return s.primary.Search(ctx, query)
		})
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return []domain.SearchResult{}, nil
		}
		return nil, noData(ctx, "search", err)
	}
	return results, nil
}

// Invalidate drops the cached quotes of the given coins so the next read goes live
func (s *Service) Invalidate(coinIDs ...string) {
	for _, id := range coinIDs {
		s.cache.Invalidate(quoteKey(id))
		s.coalescer.Forget(quoteKey(id))
	}
}

// Stats holds the counters of every resilience component
type Stats struct {
	Cache      cache.Stats                      `json:"cache"`
	RateLimits []reliability.ProviderLimitStats `json:"rate_limits"`
	Coalescer  reliability.CoalescerStats       `json:"coalescer"`
}

// Stats returns a snapshot of cache, limiter and coalescer counters
func (s *Service) Stats() Stats {
	return Stats{
		Cache:      s.cache.Stats(),
		RateLimits: s.limiter.Stats(),
		Coalescer:  s.coalescer.Stats(),
	}
}

// fetchThrough serves key from the fresh cache, or runs fetch once for all
// concurrent callers and caches the result in both tiers. When fetch fails
// the stale shadow is returned with stale=true.
func fetchThrough[T any](ctx context.Context, s *Service, key string, ttl time.Duration, fetch func(ctx context.Context) (T, error)) (T, bool, error) {
	var zero T

	if v, ok := cache.Get[T](s.cache, key); ok {
		s.log.Debug().Str("key", key).Msg("Cache hit")
		return v, false, nil
	}

	v, err := reliability.Coalesce(ctx, s.coalescer, key, func(ctx context.Context) (T, error) {
		v, err := fetch(ctx)
		if err != nil {
			return zero, err
		}
		cache.Set(s.cache, key, v, ttl)
		cache.SetStale(s.cache, key, v, clientdata.TTLStaleShadow)
		return v, nil
	})
	if err == nil {
		return v, false, nil
	}
	if ctx.Err() != nil {
		return zero, false, ctx.Err()
	}

	if stale, fetchedAt, ok := cache.GetStale[T](s.cache, key); ok {
		s.log.Warn().
			Err(err).
			Str("key", key).
			Time("fetched_at", fetchedAt).
			Msg("Live fetch failed, serving stale data")
		return stale, true, nil
	}

	s.log.Warn().Err(err).Str("key", key).Msg("Live fetch failed and no stale data available")
	return zero, false, err
}

// call runs one provider operation under the retry policy. Every attempt
// waits for the provider's rate budget first; a 429 cools the provider down.
func call[T any](ctx context.Context, s *Service, provider string, policy reliability.RetryPolicy, op func(ctx context.Context) (T, error)) (T, error) {
	return reliability.WithRetry(ctx, policy, func(ctx context.Context, attempt int) (T, error) {
		var zero T
		if err := s.limiter.Wait(ctx, provider); err != nil {
			return zero, err
		}

		v, err := op(ctx)
		if err != nil {
			var pe *domain.ProviderError
			if errors.As(err, &pe) && pe.Kind == domain.KindRateLimited {
				s.limiter.Penalize(provider, pe.RetryAfter)
			}
			s.log.Debug().Err(err).Str("provider", provider).Int("attempt", attempt).Msg("Provider call failed")
			return zero, err
		}
		return v, nil
	})
}

// noData reports a request that produced neither live nor stale data.
// Cancellation by the caller is returned as is.
func noData(ctx context.Context, what string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%s: %w (%v)", what, domain.ErrNoData, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
