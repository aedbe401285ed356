// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockClock struct {
	now time.Time
}

func (m *mockClock) Now() time.Time { return m.now }

var errUpstream = errors.New("upstream 502")

func fail() error { return errUpstream }
func ok() error   { return nil }

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	clock := &mockClock{now: time.Now()}
	cb := NewCircuitBreaker("test", 3, 30*time.Second, WithClock(clock))

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, cb.Execute(fail), errUpstream)
	}
	assert.Equal(t, StateClosed, cb.State())
	require.ErrorIs(t, cb.Execute(fail), errUpstream)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	cb := NewCircuitBreaker("test", 2, time.Minute)
	_ = cb.Execute(fail)
	require.NoError(t, cb.Execute(ok))
	_ = cb.Execute(fail)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	clock := &mockClock{now: time.Now()}
	cb := NewCircuitBreaker("test", 1, 10*time.Second, WithClock(clock))
	_ = cb.Execute(fail)
	require.Equal(t, StateOpen, cb.State())

	clock.now = clock.now.Add(11 * time.Second)

	// While the probe runs, other calls are rejected.
	err := cb.Execute(func() error {
		assert.Equal(t, StateHalfOpen, cb.State())
		assert.ErrorIs(t, cb.Execute(ok), ErrCircuitOpen)
		return errUpstream
	})
	require.ErrorIs(t, err, errUpstream)
	assert.Equal(t, StateOpen, cb.State(), "failed probe reopens")

	clock.now = clock.now.Add(11 * time.Second)
	require.NoError(t, cb.Execute(ok))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_IgnoredErrorsDoNotTrip(t *testing.T) {
	notFound := errors.New("not found")
	cb := NewCircuitBreaker("test", 1, time.Minute, WithIgnore(func(err error) bool { return errors.Is(err, notFound) }))
	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, cb.Execute(func() error { return notFound }), notFound)
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker("d", 0, 0)
	assert.Equal(t, 3, cb.threshold)
	assert.Equal(t, 30*time.Second, cb.resetTimeout)
}
