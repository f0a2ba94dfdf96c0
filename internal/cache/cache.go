// Package cache implements the tiered market data cache: a hot in-process map
// in front of the durable SQLite tier, plus stale shadows for fallback reads.
package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/aristath/coinfolio/internal/clientdata"
	"github.com/rs/zerolog"
)

// Durable is the persistent tier. clientdata.Repository implements it.
type Durable interface {
	Store(table, key string, data interface{}, ttl time.Duration) error
	GetIfFresh(table, key string) (*clientdata.Entry, error)
	Get(table, key string) (*clientdata.Entry, error)
	Delete(table, key string) error
}

type hotEntry struct {
	value     interface{}
	fetchedAt time.Time
	expiresAt time.Time
}

// Stats holds cache counters
type Stats struct {
	HotEntries   int   `json:"hot_entries"`
	HotHits      int64 `json:"hot_hits"`
	DurableHits  int64 `json:"durable_hits"`
	Misses       int64 `json:"misses"`
	StaleHits    int64 `json:"stale_hits"`
	StaleMisses  int64 `json:"stale_misses"`
	DurableFails int64 `json:"durable_failures"`
}

// TieredCache looks up keys in the hot map, then the durable tier.
// Reads never fall back to stale shadows; GetStale is a separate explicit call.
type TieredCache struct {
	mu    sync.RWMutex
	hot   map[string]hotEntry
	stale map[string]hotEntry // only used without a durable tier

	durable Durable
	now     func() time.Time
	log     zerolog.Logger

	hotHits, durableHits, misses      atomic.Int64
	staleHits, staleMisses, durFailed atomic.Int64
}

// New creates a tiered cache. durable may be nil for a memory-only cache.
func New(durable Durable, log zerolog.Logger) *TieredCache {
	return &TieredCache{
		hot:     make(map[string]hotEntry),
		stale:   make(map[string]hotEntry),
		durable: durable,
		now:     time.Now,
		log:     log.With().Str("component", "tiered_cache").Logger(),
	}
}

// SetClock overrides the time source
func (c *TieredCache) SetClock(now func() time.Time) {
	c.now = now
}

// Get returns a fresh value for key. The boolean is false on a miss or when
// the cached value has a different type.
func Get[T any](c *TieredCache, key string) (T, bool) {
	var zero T
	now := c.now()

	c.mu.RLock()
	e, ok := c.hot[key]
	c.mu.RUnlock()
	if ok && now.Before(e.expiresAt) {
		if v, typed := e.value.(T); typed {
			c.hotHits.Add(1)
			return v, true
		}
	}

	if c.durable != nil {
		entry, err := c.durable.GetIfFresh(clientdata.TableFresh, key)
		if err != nil {
			c.durFailed.Add(1)
			c.log.Warn().Err(err).Str("key", key).Msg("Durable cache read failed")
		} else if entry != nil {
			var v T
			if err := entry.Decode(&v); err != nil {
				c.log.Warn().Err(err).Str("key", key).Msg("Discarding undecodable cache entry")
			} else {
				c.putHot(key, v, entry.FetchedAt, entry.ExpiresAt)
				c.durableHits.Add(1)
				return v, true
			}
		}
	}

	c.misses.Add(1)
	return zero, false
}

// Set writes a fresh value to both tiers
func Set[T any](c *TieredCache, key string, value T, ttl time.Duration) {
	now := c.now()
	c.putHot(key, value, now, now.Add(ttl))

	if c.durable != nil {
		if err := c.durable.Store(clientdata.TableFresh, key, value, ttl); err != nil {
			c.durFailed.Add(1)
			c.log.Warn().Err(err).Str("key", key).Msg("Durable cache write failed")
		}
	}
}

// GetStale returns the last-known-good shadow for key along with when it was fetched.
func GetStale[T any](c *TieredCache, key string) (T, time.Time, bool) {
	var zero T

	if c.durable == nil {
		c.mu.RLock()
		e, ok := c.stale[key]
		c.mu.RUnlock()
		if ok && c.now().Before(e.expiresAt) {
			if v, typed := e.value.(T); typed {
				c.staleHits.Add(1)
				return v, e.fetchedAt, true
			}
		}
		c.staleMisses.Add(1)
		return zero, time.Time{}, false
	}

	entry, err := c.durable.GetIfFresh(clientdata.TableStale, key)
	if err != nil {
		c.durFailed.Add(1)
		c.log.Warn().Err(err).Str("key", key).Msg("Stale cache read failed")
		return zero, time.Time{}, false
	}
	if entry == nil {
		c.staleMisses.Add(1)
		return zero, time.Time{}, false
	}

	var v T
	if err := entry.Decode(&v); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Discarding undecodable stale entry")
		return zero, time.Time{}, false
	}
	c.staleHits.Add(1)
	return v, entry.FetchedAt, true
}

// SetStale writes the stale shadow for key
func SetStale[T any](c *TieredCache, key string, value T, ttl time.Duration) {
	if c.durable == nil {
		now := c.now()
		c.mu.Lock()
		c.stale[key] = hotEntry{value: value, fetchedAt: now, expiresAt: now.Add(ttl)}
		c.mu.Unlock()
		return
	}

	if err := c.durable.Store(clientdata.TableStale, key, value, ttl); err != nil {
		c.durFailed.Add(1)
		c.log.Warn().Err(err).Str("key", key).Msg("Stale cache write failed")
	}
}

// Invalidate drops the fresh entry for key from both tiers. Stale shadows are kept.
func (c *TieredCache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.hot, key)
	c.mu.Unlock()

	if c.durable != nil {
		if err := c.durable.Delete(clientdata.TableFresh, key); err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("Durable cache delete failed")
		}
	}
}

// Sweep removes expired entries from the in-process maps and returns how many were dropped
func (c *TieredCache) Sweep() int {
	now := c.now()
	removed := 0

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.hot {
		if !now.Before(e.expiresAt) {
			delete(c.hot, k)
			removed++
		}
	}
	for k, e := range c.stale {
		if !now.Before(e.expiresAt) {
			delete(c.stale, k)
			removed++
		}
	}
	return removed
}

// Stats returns a snapshot of the cache counters
func (c *TieredCache) Stats() Stats {
	c.mu.RLock()
	n := len(c.hot)
	c.mu.RUnlock()

	return Stats{
		HotEntries:   n,
		HotHits:      c.hotHits.Load(),
		DurableHits:  c.durableHits.Load(),
		Misses:       c.misses.Load(),
		StaleHits:    c.staleHits.Load(),
		StaleMisses:  c.staleMisses.Load(),
		DurableFails: c.durFailed.Load(),
	}
}

func (c *TieredCache) putHot(key string, value interface{}, fetchedAt, expiresAt time.Time) {
	c.mu.Lock()
	c.hot[key] = hotEntry{value: value, fetchedAt: fetchedAt, expiresAt: expiresAt}
	c.mu.Unlock()
}
