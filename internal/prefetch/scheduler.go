// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package prefetch warms the segment cache ahead of playback.
package prefetch

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/ManuGH/tune2hls/internal/admission"
	"github.com/ManuGH/tune2hls/internal/engine"
	xglog "github.com/ManuGH/tune2hls/internal/log"
	"github.com/ManuGH/tune2hls/internal/metrics"
	"github.com/ManuGH/tune2hls/internal/segstore"
)

const (
	triggerPlaylist  = "playlist"
	triggerLookahead = "lookahead"
)

// Ensurer is the engine surface used for warming.
type Ensurer interface {
	Ensure(ctx context.Context, req engine.Request) (*segstore.Manifest, engine.Outcome, error)
	IsCached(trackID string) bool
	InFlight(trackID string) bool
}

// Options bounds the warm-up batches.
type Options struct {
	// PlaylistCount is how many leading tracks a playlist warm-up covers.
	PlaylistCount int
	// Lookahead is how many tracks after the current one are warmed.
	Lookahead int
	Logger    zerolog.Logger
}

// Scheduler runs warm-up batches in the background. Tracks within a batch
// are generated one after another; identical batches never run twice at
// the same time.
type Scheduler struct {
	eng    Ensurer
	opts   Options
	group  singleflight.Group
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New returns a Scheduler.
func New(eng Ensurer, opts Options) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{eng: eng, opts: opts, ctx: ctx, cancel: cancel}
}

// WarmPlaylist warms the first PlaylistCount tracks of a playlist.
func (s *Scheduler) WarmPlaylist(playlistID string, tracks []engine.Request) {
	if s.opts.PlaylistCount <= 0 || len(tracks) == 0 {
		return
	}
	batch := tracks[:min(s.opts.PlaylistCount, len(tracks))]
	s.start(triggerPlaylist, "playlist:"+playlistID+":"+tracks[0].TrackID, batch)
}

// WarmAfter warms the Lookahead tracks following currentID. Nothing happens
// if currentID is not in tracks.
func (s *Scheduler) WarmAfter(currentID string, tracks []engine.Request) {
	if s.opts.Lookahead <= 0 {
		return
	}
	for i, t := range tracks {
		if t.TrackID != currentID {
			continue
		}
		rest := tracks[i+1:]
		if len(rest) == 0 {
			return
		}
		s.start(triggerLookahead, "next-after:"+currentID, rest[:min(s.opts.Lookahead, len(rest))])
		return
	}
}

func (s *Scheduler) start(trigger, key string, batch []engine.Request) {
	if s.ctx.Err() != nil {
		return
	}
	// The caller owns the slice.
	batch = append([]engine.Request(nil), batch...)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, _, shared := s.group.Do(key, func() (any, error) {
			s.run(trigger, key, batch)
			return nil, nil
		})
		if shared {
			s.opts.Logger.Debug().Str(xglog.FieldBatchKey, key).Msg("prefetch batch already running")
		}
	}()
}

func (s *Scheduler) run(trigger, key string, batch []engine.Request) {
	logger := s.opts.Logger.With().Str(xglog.FieldBatchKey, key).Str("trigger", trigger).Logger()
	for _, req := range batch {
		if s.ctx.Err() != nil {
			return
		}
		outcome := s.warm(logger, req)
		metrics.RecordPrefetch(trigger, outcome)
	}
}

func (s *Scheduler) warm(logger zerolog.Logger, req engine.Request) string {
	switch {
	case s.eng.IsCached(req.TrackID):
		return "cached"
	case s.eng.InFlight(req.TrackID):
		return "in_flight"
	}
	_, _, err := s.eng.Ensure(s.ctx, req)
	switch {
	case err == nil:
		return "generated"
	case errors.Is(err, engine.ErrNoAudioURL):
		return "no_url"
	case errors.Is(err, admission.ErrBusy):
		logger.Debug().Str(xglog.FieldTrackID, req.TrackID).Msg("prefetch skipped, queue full")
		return "busy"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		logger.Warn().Err(err).Str(xglog.FieldTrackID, req.TrackID).Msg("prefetch failed")
		return "error"
	}
}

// Wait blocks until all started batches return or ctx ends.
func (s *Scheduler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop keeps new batches from starting, abandons waits of running ones and
// waits for them to return. Generations already started still finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}
