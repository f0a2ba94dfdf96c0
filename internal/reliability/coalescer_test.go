package reliability

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoalesce_ConcurrentCallersShareOneCall(t *testing.T) {
	c := NewCoalescer(500 * time.Millisecond)

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	op := func(ctx context.Context) (float64, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return 42000, nil
	}

	var wg sync.WaitGroup
	results := make([]float64, 5)
	wg.Add(1)
	go func() {
		defer wg.Done()
		v, err := Coalesce(context.Background(), c, "quote:bitcoin", op)
		assert.NoError(t, err)
		results[0] = v
	}()
	<-started

	for i := 1; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := Coalesce(context.Background(), c, "quote:bitcoin", op)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		assert.Equal(t, 42000.0, v)
	}
}

func TestCoalesce_GraceWindowThenEvicted(t *testing.T) {
	c := NewCoalescer(50 * time.Millisecond)
	var calls atomic.Int32
	op := func(ctx context.Context) (int, error) {
		return int(calls.Add(1)), nil
	}

	v1, err := Coalesce(context.Background(), c, "k", op)
	require.NoError(t, err)
	v2, err := Coalesce(context.Background(), c, "k", op)
	require.NoError(t, err)
	assert.Equal(t, v1, v2, "second call inside grace window shares the result")
	assert.Equal(t, int64(1), c.Stats().MemoHits)

	assert.Eventually(t, func() bool { return c.Stats().Remembered == 0 }, time.Second, 10*time.Millisecond)

	v3, err := Coalesce(context.Background(), c, "k", op)
	require.NoError(t, err)
	assert.Equal(t, 2, v3)
}

func TestCoalesce_ErrorsAreNotRemembered(t *testing.T) {
	c := NewCoalescer(time.Minute)
	var calls atomic.Int32
	op := func(ctx context.Context) (int, error) {
		calls.Add(1)
		return 0, errors.New("boom")
	}

	_, err := Coalesce(context.Background(), c, "k", op)
	assert.Error(t, err)
	_, err = Coalesce(context.Background(), c, "k", op)
	assert.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCoalesce_AbandonedCallerDoesNotCancelOthers(t *testing.T) {
	c := NewCoalescer(time.Second)
	release := make(chan struct{})
	started := make(chan struct{})
	var sawCancel atomic.Bool

	op := func(ctx context.Context) (string, error) {
		close(started)
		<-release
		if ctx.Err() != nil {
			sawCancel.Store(true)
		}
		return "done", nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	abandoned := make(chan error, 1)
	go func() {
		_, err := Coalesce(ctx, c, "k", op)
		abandoned <- err
	}()
	<-started

	survivor := make(chan string, 1)
	go func() {
		v, _ := Coalesce(context.Background(), c, "k", op)
		survivor <- v
	}()

	cancel()
	assert.ErrorIs(t, <-abandoned, context.Canceled)

	close(release)
	assert.Equal(t, "done", <-survivor)
	assert.False(t, sawCancel.Load(), "shared operation is detached from the first caller")
}

func TestCoalesce_Forget(t *testing.T) {
	c := NewCoalescer(time.Minute)
	var calls atomic.Int32
	op := func(ctx context.Context) (int32, error) { return calls.Add(1), nil }

	_, _ = Coalesce(context.Background(), c, "k", op)
	c.Forget("k")
	v, _ := Coalesce(context.Background(), c, "k", op)
	assert.Equal(t, int32(2), v)
}
