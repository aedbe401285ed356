// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package inflight

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestEnsure_ExactlyOnce(t *testing.T) {
	r := New[string](context.Background(), zerolog.Nop())

	var calls atomic.Int32
	release := make(chan struct{})
	work := func(ctx context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "manifest-42", nil
	}

	const callers = 16
	var wg sync.WaitGroup
	results := make([]string, callers)
	startedCount := atomic.Int32{}
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, started := r.Ensure("42", work)
			if started {
				startedCount.Add(1)
			}
			v, err := h.Wait(context.Background())
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	assert.True(t, r.InFlight("42"))
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(1), startedCount.Load())
	for _, v := range results {
		assert.Equal(t, "manifest-42", v)
	}
	assert.False(t, r.InFlight("42"))
	assert.Equal(t, 0, r.Len(), "owner removes its entry")
	require.NoError(t, r.Wait(context.Background()))
}

func TestEnsure_ErrorPropagatesToJoiners(t *testing.T) {
	r := New[int](context.Background(), zerolog.Nop())
	boom := errors.New("encoder exploded")
	gate := make(chan struct{})

	h1, started := r.Ensure("1", func(ctx context.Context) (int, error) {
		<-gate
		return 0, boom
	})
	require.True(t, started)
	h2, started := r.Ensure("1", func(ctx context.Context) (int, error) {
		t.Error("joiner work must not run")
		return 0, nil
	})
	require.False(t, started)
	assert.Same(t, h1, h2)

	close(gate)
	_, err1 := h1.Wait(context.Background())
	_, err2 := h2.Wait(context.Background())
	assert.ErrorIs(t, err1, boom)
	assert.ErrorIs(t, err2, boom)

	// A new call after settlement starts fresh work.
	h3, started := r.Ensure("1", func(ctx context.Context) (int, error) { return 7, nil })
	require.True(t, started)
	v, err := h3.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	require.NoError(t, r.Wait(context.Background()))
}

func TestEnsure_WaiterCancelDoesNotCancelJob(t *testing.T) {
	r := New[string](context.Background(), zerolog.Nop())
	gate := make(chan struct{})
	var jobCtxErr error

	h, _ := r.Ensure("5", func(ctx context.Context) (string, error) {
		<-gate
		jobCtxErr = ctx.Err()
		return "done", nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	close(gate)
	v, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "done", v)
	assert.NoError(t, jobCtxErr)
	require.NoError(t, r.Wait(context.Background()))
}

func TestEnsure_RecoversPanic(t *testing.T) {
	r := New[int](context.Background(), zerolog.Nop())
	h, _ := r.Ensure("p", func(ctx context.Context) (int, error) {
		panic("bad segment list")
	})
	_, err := h.Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	require.NoError(t, r.Wait(context.Background()))
	assert.False(t, r.InFlight("p"))
}

func TestBeginOrJoin_ManualComplete(t *testing.T) {
	r := New[int](context.Background(), zerolog.Nop())

	h, owner := r.BeginOrJoin("9")
	require.True(t, owner)
	j, owner := r.BeginOrJoin("9")
	require.False(t, owner)
	assert.Same(t, h, j)

	r.Complete(h, 3, nil)
	r.Complete(h, 4, errors.New("ignored"))

	v, err := j.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, v)
	assert.Equal(t, 0, r.Len())
}

func TestReclaimStale(t *testing.T) {
	r := New[int](context.Background(), zerolog.Nop())
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	// A settled handle left behind by a lost owner.
	stale, _ := r.BeginOrJoin("stale")
	stale.settle(0, nil)
	// A running job must never be reclaimed.
	running, _ := r.BeginOrJoin("running")

	now = now.Add(20 * time.Minute)
	fresh, _ := r.BeginOrJoin("fresh")
	fresh.settle(0, nil)

	assert.Equal(t, 1, r.ReclaimStale(10*time.Minute))
	assert.True(t, r.InFlight("running"))
	assert.Equal(t, 2, r.Len())

	r.Complete(running, 0, nil)
}

func TestBeginOrJoin_ReplacesSettledHandle(t *testing.T) {
	r := New[int](context.Background(), zerolog.Nop())
	old, _ := r.BeginOrJoin("x")
	old.settle(1, nil) // settled without removal

	h, owner := r.BeginOrJoin("x")
	require.True(t, owner)
	assert.NotSame(t, old, h)
	r.Complete(h, 2, nil)
}
