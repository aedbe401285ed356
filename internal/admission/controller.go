// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package admission bounds concurrent transcode jobs.
//
// The Controller is a counted semaphore with a bounded FIFO wait queue. A
// caller that finds both the slots and the queue full is rejected with a
// *BusyError instead of being queued.
package admission

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ManuGH/tune2hls/internal/metrics"
)

// ErrBusy is matched by every *BusyError.
var ErrBusy = errors.New("admission: busy")

// Reason values are used as the admission metric label.
type Reason string

const (
	ReasonImmediate Reason = "immediate"
	ReasonQueued    Reason = "queued"
	ReasonRejected  Reason = "rejected"
	ReasonCanceled  Reason = "canceled"
)

// BusyError reports a rejection together with the load at rejection time.
type BusyError struct {
	Running int
	Waiting int
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("admission: busy (running=%d, waiting=%d)", e.Running, e.Waiting)
}

// Is makes errors.Is(err, ErrBusy) true for any *BusyError.
func (e *BusyError) Is(target error) bool {
	return target == ErrBusy
}

// Load is a snapshot of the controller counters.
type Load struct {
	Running    int `json:"running"`
	Waiting    int `json:"waiting"`
	MaxRunning int `json:"max_running"`
	MaxQueue   int `json:"max_queue"`
}

type waiter struct {
	ready chan struct{}
}

// Controller hands out admission slots.
type Controller struct {
	mu         sync.Mutex
	maxRunning int
	maxQueue   int
	running    int
	waiters    list.List // of *waiter, oldest at front
}

// NewController creates a controller. maxRunning below 1 is treated as 1 and
// a negative maxQueue as 0.
func NewController(maxRunning, maxQueue int) *Controller {
	if maxRunning < 1 {
		maxRunning = 1
	}
	if maxQueue < 0 {
		maxQueue = 0
	}
	return &Controller{maxRunning: maxRunning, maxQueue: maxQueue}
}

// Acquire obtains a slot, waiting in FIFO order if none is free. It returns a
// *BusyError when the wait queue is full, or ctx.Err() if ctx ends while
// waiting. Every nil return must be paired with exactly one Release.
func (c *Controller) Acquire(ctx context.Context) error {
	c.mu.Lock()
	if c.running < c.maxRunning {
		c.running++
		c.publishLocked()
		c.mu.Unlock()
		metrics.RecordAdmission(string(ReasonImmediate))
		return nil
	}
	if c.waiters.Len() >= c.maxQueue {
		busy := &BusyError{Running: c.running, Waiting: c.waiters.Len()}
		c.mu.Unlock()
		metrics.RecordAdmission(string(ReasonRejected))
		return busy
	}
	w := &waiter{ready: make(chan struct{})}
	elem := c.waiters.PushBack(w)
	c.publishLocked()
	c.mu.Unlock()

	select {
	case <-w.ready:
		metrics.RecordAdmission(string(ReasonQueued))
		return nil
	case <-ctx.Done():
	}

	c.mu.Lock()
	select {
	case <-w.ready:
		// Release handed us the slot before we could leave; pass it on.
		c.releaseLocked()
	default:
		c.waiters.Remove(elem)
		c.publishLocked()
	}
	c.mu.Unlock()
	metrics.RecordAdmission(string(ReasonCanceled))
	return ctx.Err()
}

// Release returns a slot. The slot moves directly to the oldest waiter, if any.
func (c *Controller) Release() {
	c.mu.Lock()
	c.releaseLocked()
	c.mu.Unlock()
}

func (c *Controller) releaseLocked() {
	if front := c.waiters.Front(); front != nil {
		c.waiters.Remove(front)
		close(front.Value.(*waiter).ready)
	} else if c.running > 0 {
		c.running--
	}
	c.publishLocked()
}

// Load returns the current counters.
func (c *Controller) Load() Load {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Load{
		Running:    c.running,
		Waiting:    c.waiters.Len(),
		MaxRunning: c.maxRunning,
		MaxQueue:   c.maxQueue,
	}
}

func (c *Controller) publishLocked() {
	metrics.SetJobLoad(c.running, c.waiters.Len())
}
