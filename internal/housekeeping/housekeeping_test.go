// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package housekeeping

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/tune2hls/internal/segstore"
)

type fakeCache struct {
	mu          sync.Mutex
	sweeps      int
	cleanups    int
	cleanupAge  time.Duration
	requested   []time.Duration
	sweepErr    error
	reclaims    int
	reclaimAges []time.Duration
}

func (f *fakeCache) Sweep(context.Context) (segstore.SweepResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps++
	return segstore.SweepResult{Scanned: 1}, f.sweepErr
}

func (f *fakeCache) RequestSweep(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested = append(f.requested, d)
}

func (f *fakeCache) CleanupTemp(maxAge time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups++
	f.cleanupAge = maxAge
	return 1, nil
}

func (f *fakeCache) ReclaimStale(maxAge time.Duration) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reclaims++
	f.reclaimAges = append(f.reclaimAges, maxAge)
	return 0
}

func (f *fakeCache) counts() (int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sweeps, f.cleanups, f.reclaims
}

func TestRunOnce(t *testing.T) {
	fc := &fakeCache{sweepErr: errors.New("disk gone")}
	r := New(Config{TempMaxAge: 10 * time.Minute}, fc, fc, zerolog.Nop())

	r.RunOnce()
	sweeps, cleanups, reclaims := fc.counts()
	assert.Equal(t, 1, sweeps, "a failing sweep is logged, not fatal")
	assert.Equal(t, 1, cleanups)
	assert.Equal(t, 1, reclaims)
	assert.Equal(t, 10*time.Minute, fc.cleanupAge)
	assert.Equal(t, []time.Duration{10 * time.Minute}, fc.reclaimAges)
}

func TestStartSchedulesJobs(t *testing.T) {
	defer goleak.VerifyNone(t)
	fc := &fakeCache{}
	r := New(Config{
		SweepInterval:   time.Second,
		TempMaxAge:      time.Second,
		ReclaimInterval: time.Second,
		StartupDelay:    250 * time.Millisecond,
	}, fc, fc, zerolog.Nop())

	r.Start()
	require.Eventually(t, func() bool {
		s, c, rc := fc.counts()
		return s >= 1 && c >= 1 && rc >= 1
	}, 5*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Stop(ctx))

	fc.mu.Lock()
	defer fc.mu.Unlock()
	assert.Equal(t, []time.Duration{250 * time.Millisecond}, fc.requested)
}

func TestDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, time.Hour, cfg.SweepInterval)
	assert.Equal(t, time.Minute, cfg.ReclaimInterval)
	assert.Equal(t, 10*time.Minute, cfg.ReclaimMaxAge)
}
