package reliability

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Coalescer collapses concurrent calls sharing a key into one operation.
// Successful results stay attached to the key for a short grace window so a
// burst of near-simultaneous callers still shares one result.
type Coalescer struct {
	group singleflight.Group
	grace time.Duration

	mu     sync.Mutex
	recent map[string]recentResult
	now    func() time.Time

	executions atomic.Int64
	joined     atomic.Int64
	memoHits   atomic.Int64
}

type recentResult struct {
	value     interface{}
	expiresAt time.Time
}

// CoalescerStats holds coalescer counters
type CoalescerStats struct {
	Executions int64 `json:"executions"`
	Joined     int64 `json:"joined"`
	MemoHits   int64 `json:"memo_hits"`
	Remembered int   `json:"remembered"`
}

// NewCoalescer creates a coalescer with the given grace window
func NewCoalescer(grace time.Duration) *Coalescer {
	return &Coalescer{
		grace:  grace,
		recent: make(map[string]recentResult),
		now:    time.Now,
	}
}

// Coalesce runs op once for all concurrent callers with the same key.
// The shared operation is detached from any single caller's cancellation:
// a caller that gives up returns ctx.Err() while the others still get the result.
func Coalesce[T any](ctx context.Context, c *Coalescer, key string, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if v, ok := c.lookup(key); ok {
		if typed, ok := v.(T); ok {
			c.memoHits.Add(1)
			return typed, nil
		}
	}

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		c.executions.Add(1)
		v, err := op(detached)
		if err == nil {
			c.remember(key, v)
		}
		return v, err
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Shared {
			c.joined.Add(1)
		}
		if res.Err != nil {
			return zero, res.Err
		}
		v, _ := res.Val.(T)
		return v, nil
	}
}

// Forget drops any remembered result for key so the next call runs fresh
func (c *Coalescer) Forget(key string) {
	c.mu.Lock()
	delete(c.recent, key)
	c.mu.Unlock()
	c.group.Forget(key)
}

// Stats returns coalescer counters
func (c *Coalescer) Stats() CoalescerStats {
	c.mu.Lock()
	n := len(c.recent)
	c.mu.Unlock()
	return CoalescerStats{
		Executions: c.executions.Load(),
		Joined:     c.joined.Load(),
		MemoHits:   c.memoHits.Load(),
		Remembered: n,
	}
}

func (c *Coalescer) lookup(key string) (interface{}, bool) {
	if c.grace <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.recent[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(r.expiresAt) {
		delete(c.recent, key)
		return nil, false
	}
	return r.value, true
}

func (c *Coalescer) remember(key string, v interface{}) {
	if c.grace <= 0 {
		return
	}
	expiresAt := c.now().Add(c.grace)
	c.mu.Lock()
	c.recent[key] = recentResult{value: v, expiresAt: expiresAt}
	c.mu.Unlock()

	time.AfterFunc(c.grace, func() {
		c.mu.Lock()
		if r, ok := c.recent[key]; ok && !r.expiresAt.After(expiresAt) {
			delete(c.recent, key)
		}
		c.mu.Unlock()
	})
}
