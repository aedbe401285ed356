// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package inflight deduplicates concurrent work per key.
//
// At most one job per key runs at a time. The first caller becomes the owner
// and starts the work; later callers join and observe the same result. Jobs
// run on the registry's base context, so a joiner or owner that gives up does
// not cancel the work.
package inflight

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/tune2hls/internal/metrics"
	"github.com/rs/zerolog"
)

// WorkFunc produces the value shared by every caller of one key.
type WorkFunc[T any] func(ctx context.Context) (T, error)

// Handle is a shared, awaitable view of one job.
type Handle[T any] struct {
	ID        string
	StartedAt time.Time

	done chan struct{}
	once sync.Once

	// val and err are immutable after done is closed.
	val T
	err error
}

// Done is closed when the job settles.
func (h *Handle[T]) Done() <-chan struct{} { return h.done }

// Wait blocks until the job settles or ctx ends. Abandoning the wait does not
// affect the job.
func (h *Handle[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-h.done:
		return h.val, h.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (h *Handle[T]) settled() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *Handle[T]) settle(v T, err error) bool {
	first := false
	h.once.Do(func() {
		h.val, h.err = v, err
		close(h.done)
		first = true
	})
	return first
}

// Registry tracks in-flight jobs by key.
type Registry[T any] struct {
	mu      sync.Mutex
	handles map[string]*Handle[T]
	base    context.Context
	logger  zerolog.Logger
	wg      sync.WaitGroup
	now     func() time.Time
}

// New creates a registry whose jobs run on base. Cancelling base cancels all jobs.
func New[T any](base context.Context, logger zerolog.Logger) *Registry[T] {
	return &Registry[T]{
		handles: make(map[string]*Handle[T]),
		base:    base,
		logger:  logger,
		now:     time.Now,
	}
}

// BeginOrJoin returns the live handle for id, or registers a new one. When
// owner is true the caller must eventually call Complete with the handle.
func (r *Registry[T]) BeginOrJoin(id string) (h *Handle[T], owner bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.handles[id]; ok {
		if !existing.settled() {
			metrics.InFlightJoinsTotal.Inc()
			return existing, false
		}
		// Settled but never removed; replace it.
		r.logger.Debug().Str("key", id).Msg("replacing settled in-flight handle")
		delete(r.handles, id)
	}

	h = &Handle[T]{
		ID:        id,
		StartedAt: r.now(),
		done:      make(chan struct{}),
	}
	r.handles[id] = h
	return h, true
}

// Complete settles h and removes it from the registry. Only the first call has
// any effect.
func (r *Registry[T]) Complete(h *Handle[T], v T, err error) {
	if !h.settle(v, err) {
		return
	}
	r.mu.Lock()
	if r.handles[h.ID] == h {
		delete(r.handles, h.ID)
	}
	r.mu.Unlock()
}

// Ensure joins the running job for id or starts work in a new goroutine.
// started reports whether this call started the job.
func (r *Registry[T]) Ensure(id string, work WorkFunc[T]) (h *Handle[T], started bool) {
	h, owner := r.BeginOrJoin(id)
	if !owner {
		return h, false
	}
	r.wg.Add(1)
	go r.run(h, work)
	return h, true
}

func (r *Registry[T]) run(h *Handle[T], work WorkFunc[T]) {
	defer r.wg.Done()

	var (
		v   T
		err error
	)
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error().Str("key", h.ID).Interface("panic", p).Msg("in-flight job panicked")
			var zero T
			v, err = zero, fmt.Errorf("inflight: job %s panicked: %v", h.ID, p)
		}
		r.Complete(h, v, err)
	}()

	v, err = work(r.base)
}

// InFlight reports whether an unsettled job exists for id.
func (r *Registry[T]) InFlight(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[id]
	return ok && !h.settled()
}

// Len returns the number of registered handles.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// ReclaimStale removes settled handles older than maxAge and returns how many
// were removed. Owners always remove their handle, so this only matters if an
// owner was lost.
func (r *Registry[T]) ReclaimStale(maxAge time.Duration) int {
	cutoff := r.now().Add(-maxAge)
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, h := range r.handles {
		if h.settled() && h.StartedAt.Before(cutoff) {
			delete(r.handles, id)
			n++
		}
	}
	if n > 0 {
		metrics.InFlightReclaimedTotal.Add(float64(n))
		r.logger.Warn().Int("count", n).Msg("reclaimed stale in-flight handles")
	}
	return n
}

// Wait blocks until every job started through Ensure has returned, or ctx ends.
func (r *Registry[T]) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
