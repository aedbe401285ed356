// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package housekeeping schedules the periodic cache maintenance jobs:
// eviction sweeps, removal of abandoned attempt directories and reclamation
// of stale in-flight handles. Job failures are logged and never stop the
// schedule.
package housekeeping

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/ManuGH/tune2hls/internal/segstore"
)

// Cache is the maintenance surface of the segment store.
type Cache interface {
	Sweep(ctx context.Context) (segstore.SweepResult, error)
	RequestSweep(delay time.Duration)
	CleanupTemp(maxAge time.Duration) (int, error)
}

// Reclaimer drops settled in-flight handles older than maxAge.
type Reclaimer interface {
	ReclaimStale(maxAge time.Duration) int
}

// Config sets the job intervals. Zero values take the defaults.
type Config struct {
	SweepInterval time.Duration
	// TempMaxAge is the age after which an attempt directory is abandoned,
	// normally twice the encoder timeout.
	TempMaxAge      time.Duration
	ReclaimInterval time.Duration
	ReclaimMaxAge   time.Duration
	// StartupDelay postpones the first sweep after Start.
	StartupDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Hour
	}
	if c.TempMaxAge <= 0 {
		c.TempMaxAge = 10 * time.Minute
	}
	if c.ReclaimInterval <= 0 {
		c.ReclaimInterval = time.Minute
	}
	if c.ReclaimMaxAge <= 0 {
		c.ReclaimMaxAge = 10 * time.Minute
	}
	if c.StartupDelay <= 0 {
		c.StartupDelay = 5 * time.Second
	}
	return c
}

// Runner owns the cron schedule.
type Runner struct {
	cfg     Config
	cache   Cache
	reclaim Reclaimer
	logger  zerolog.Logger
	cron    *cron.Cron
}

// New registers the jobs. Nothing runs until Start.
func New(cfg Config, cache Cache, reclaim Reclaimer, logger zerolog.Logger) *Runner {
	cfg = cfg.withDefaults()
	cl := cronLogger{logger: logger}
	r := &Runner{
		cfg:     cfg,
		cache:   cache,
		reclaim: reclaim,
		logger:  logger,
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}
	r.cron.Schedule(cron.Every(cfg.SweepInterval), cron.FuncJob(r.sweep))
	// Temp cleanup runs at the age threshold so nothing lingers twice as long.
	r.cron.Schedule(cron.Every(cfg.TempMaxAge), cron.FuncJob(r.cleanupTemp))
	r.cron.Schedule(cron.Every(cfg.ReclaimInterval), cron.FuncJob(r.reclaimStale))
	return r
}

// Start begins the schedule and queues a startup sweep.
func (r *Runner) Start() {
	r.cron.Start()
	r.cache.RequestSweep(r.cfg.StartupDelay)
	r.logger.Info().
		Dur("sweep_interval", r.cfg.SweepInterval).
		Dur("temp_max_age", r.cfg.TempMaxAge).
		Dur("reclaim_interval", r.cfg.ReclaimInterval).
		Msg("housekeeping started")
}

// Stop halts the schedule and waits for running jobs or ctx.
func (r *Runner) Stop(ctx context.Context) error {
	done := r.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("housekeeping: stop: %w", ctx.Err())
	}
}

// RunOnce runs every job immediately, in order.
func (r *Runner) RunOnce() {
	r.sweep()
	r.cleanupTemp()
	r.reclaimStale()
}

func (r *Runner) sweep() {
	res, err := r.cache.Sweep(context.Background())
	if err != nil {
		r.logger.Warn().Err(err).Msg("scheduled cache sweep failed")
		return
	}
	if res.Skipped {
		return
	}
	r.logger.Debug().
		Int("scanned", res.Scanned).
		Int("removed_age", res.RemovedAge).
		Int("removed_size", res.RemovedSize).
		Int("protected", res.Protected).
		Int64("freed_bytes", res.FreedBytes).
		Msg("cache sweep finished")
}

func (r *Runner) cleanupTemp() {
	n, err := r.cache.CleanupTemp(r.cfg.TempMaxAge)
	if err != nil {
		r.logger.Warn().Err(err).Msg("temp cleanup failed")
		return
	}
	if n > 0 {
		r.logger.Info().Int("removed", n).Msg("removed abandoned attempt dirs")
	}
}

func (r *Runner) reclaimStale() {
	r.reclaim.ReclaimStale(r.cfg.ReclaimMaxAge)
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
