// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Run starts the background jobs and serves until ctx is cancelled or the
// server fails. Every component is shut down before Run returns.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}
	a.Housekeeping.Start()
	return a.manager.Start(ctx)
}

// Addr is the bound listen address while running.
func (a *App) Addr() string {
	if a.manager == nil {
		return ""
	}
	return a.manager.Addr()
}

// Close releases the components of an App that was built but never run.
func (a *App) Close(ctx context.Context) {
	a.runHooks(ctx)
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
