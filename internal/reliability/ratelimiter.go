package reliability

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aristath/coinfolio/internal/domain"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// DefaultRateWindow is the rolling window every provider budget is measured over
const DefaultRateWindow = 60 * time.Second

// RateLimiter enforces a per-provider call budget over a rolling window.
// Each provider gets a token bucket of size one refilled every window/limit,
// so no window of that length ever holds more than limit calls.
// A budget of 0 means the provider is not limited.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*providerBucket
	limits  map[string]int
	window  time.Duration
	maxWait time.Duration
	now     func() time.Time
	log     zerolog.Logger
}

type providerBucket struct {
	limiter       *rate.Limiter
	windowStart   time.Time
	inWindow      int
	cooldownUntil time.Time
	rejected      int64
	penalties     int64
}

// ProviderLimitStats describes one provider's limiter state
type ProviderLimitStats struct {
	Provider          string `json:"provider"`
	Limit             int    `json:"limit"`
	InWindow          int    `json:"in_window"`
	CooldownRemaining string `json:"cooldown_remaining,omitempty"`
	Rejected          int64  `json:"rejected"`
	Penalties         int64  `json:"penalties"`
}

// NewRateLimiter creates a limiter with per-provider budgets (calls per window).
// Waits longer than maxWait are rejected; maxWait <= 0 disables rejection.
func NewRateLimiter(limits map[string]int, maxWait time.Duration, log zerolog.Logger) *RateLimiter {
	l := make(map[string]int, len(limits))
	for k, v := range limits {
		l[k] = v
	}
	return &RateLimiter{
		buckets: make(map[string]*providerBucket),
		limits:  l,
		window:  DefaultRateWindow,
		maxWait: maxWait,
		now:     time.Now,
		log:     log.With().Str("component", "rate_limiter").Logger(),
	}
}

// SetWindow changes the rolling window length. Existing buckets are reset.
func (r *RateLimiter) SetWindow(d time.Duration) {
	r.mu.Lock()
	r.window = d
	r.buckets = make(map[string]*providerBucket)
	r.mu.Unlock()
}

// SetClock overrides the time source
func (r *RateLimiter) SetClock(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

// newLimiter builds the token bucket for a budget. The extra microsecond
// keeps float rounding in the token math from shortening the spacing.
func (r *RateLimiter) newLimiter(limit int) *rate.Limiter {
	if limit <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	interval := r.window/time.Duration(limit) + time.Microsecond
	return rate.NewLimiter(rate.Every(interval), 1)
}

// bucketFor returns the provider's bucket. Caller holds r.mu.
func (r *RateLimiter) bucketFor(provider string) *providerBucket {
	b, ok := r.buckets[provider]
	if !ok {
		b = &providerBucket{limiter: r.newLimiter(r.limits[provider])}
		r.buckets[provider] = b
	}
	return b
}

// reserve books a call at now and returns how long the caller has to wait
// before making it. During a cooldown nothing is booked. Caller holds r.mu.
func (r *RateLimiter) reserve(b *providerBucket, now time.Time) (*rate.Reservation, time.Duration) {
	if now.Before(b.cooldownUntil) {
		return nil, b.cooldownUntil.Sub(now)
	}
	res := b.limiter.ReserveN(now, 1)
	return res, res.DelayFrom(now)
}

// record counts a call booked at t in the current window. Caller holds r.mu.
func (r *RateLimiter) record(b *providerBucket, t time.Time) {
	if b.windowStart.IsZero() || t.Sub(b.windowStart) >= r.window {
		b.windowStart = t
		b.inWindow = 0
	}
	b.inWindow++
}

// TryAcquire records a call if the provider's budget allows it. When it does
// not, it returns how long the caller has to wait before trying again.
func (r *RateLimiter) TryAcquire(provider string) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.limits[provider] <= 0 {
		return true, 0
	}

	now := r.now()
	b := r.bucketFor(provider)
	res, wait := r.reserve(b, now)
	if wait > 0 {
		if res != nil {
			res.CancelAt(now)
		}
		return false, wait
	}
	r.record(b, now)
	return true, 0
}

// Wait blocks the calling goroutine until the provider's budget allows a call.
// It returns domain.ErrRateLimitRejected when the wait would exceed the
// configured maximum, or the context error if ctx ends first.
func (r *RateLimiter) Wait(ctx context.Context, provider string) error {
	for {
		r.mu.Lock()
		if r.limits[provider] <= 0 {
			r.mu.Unlock()
			return nil
		}

		now := r.now()
		b := r.bucketFor(provider)
		res, wait := r.reserve(b, now)
		if wait <= 0 {
			r.record(b, now)
			r.mu.Unlock()
			return nil
		}

		if r.maxWait > 0 && wait > r.maxWait {
			if res != nil {
				res.CancelAt(now)
			}
			b.rejected++
			r.mu.Unlock()
			r.log.Debug().
				Str("provider", provider).
				Dur("wait", wait).
				Msg("Rate limit wait exceeds maximum, rejecting call")
			return fmt.Errorf("%s: %w (would wait %s)", provider, domain.ErrRateLimitRejected, wait.Round(time.Millisecond))
		}
		if res != nil {
			r.record(b, now)
		}
		r.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			if res != nil {
				r.release(b, res)
			}
			return ctx.Err()
		case <-timer.C:
		}

		if res == nil {
			// cooldown over, book a slot
			continue
		}

		r.mu.Lock()
		cooling := r.now().Before(b.cooldownUntil)
		r.mu.Unlock()
		if !cooling {
			return nil
		}
		// a 429 arrived while we were waiting
	}
}

// release hands back a reservation the caller gave up on
func (r *RateLimiter) release(b *providerBucket, res *rate.Reservation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res.CancelAt(r.now())
	if b.inWindow > 0 {
		b.inWindow--
	}
}

// Penalize reacts to a provider 429: the local window is cleared and the
// provider is cooled down for at least the remaining window, or retryAfter
// when that is longer.
func (r *RateLimiter) Penalize(provider string, retryAfter time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	b := r.bucketFor(provider)

	remaining := r.window
	if !b.windowStart.IsZero() && now.Sub(b.windowStart) < r.window {
		remaining = b.windowStart.Add(r.window).Sub(now)
	}
	cooldown := remaining
	if retryAfter > cooldown {
		cooldown = retryAfter
	}

	b.limiter = r.newLimiter(r.limits[provider])
	b.windowStart = time.Time{}
	b.inWindow = 0
	if until := now.Add(cooldown); until.After(b.cooldownUntil) {
		b.cooldownUntil = until
	}
	b.penalties++

	r.log.Warn().
		Str("provider", provider).
		Dur("cooldown", cooldown).
		Msg("Provider rate limited us, cooling down")
}

// Stats returns the limiter state for every configured provider
func (r *RateLimiter) Stats() []ProviderLimitStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	out := make([]ProviderLimitStats, 0, len(r.limits))
	for provider, limit := range r.limits {
		b := r.bucketFor(provider)
		s := ProviderLimitStats{
			Provider:  provider,
			Limit:     limit,
			Rejected:  b.rejected,
			Penalties: b.penalties,
		}
		if !b.windowStart.IsZero() && now.Sub(b.windowStart) < r.window {
			s.InWindow = b.inWindow
		}
		if now.Before(b.cooldownUntil) {
			s.CooldownRemaining = b.cooldownUntil.Sub(now).Round(time.Second).String()
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}
