// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package engine ties the segment cache, the in-flight registry, admission
// and the transcode worker together.
//
// A cache miss starts at most one generation per track. The generation runs
// detached from the requester: a caller that gives up stops waiting, but the
// job still publishes its result for later requests.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ManuGH/tune2hls/internal/admission"
	"github.com/ManuGH/tune2hls/internal/inflight"
	xglog "github.com/ManuGH/tune2hls/internal/log"
	"github.com/ManuGH/tune2hls/internal/metrics"
	"github.com/ManuGH/tune2hls/internal/segstore"
	"github.com/ManuGH/tune2hls/internal/transcoder"
)

var (
	// ErrNoAudioURL means upstream has no playable audio for the track.
	ErrNoAudioURL = errors.New("engine: track has no audio url")
	// ErrSegmentNotFound is returned for an index past the track's segments.
	ErrSegmentNotFound = errors.New("engine: segment not found")
)

// Outcome says how Ensure obtained the manifest.
type Outcome string

const (
	OutcomeCached    Outcome = "cached"
	OutcomeGenerated Outcome = "generated"
	OutcomeJoined    Outcome = "joined"
)

// Store is the cache view the engine needs.
type Store interface {
	Lookup(trackID string) (*segstore.Manifest, bool)
	SegmentPath(trackID string, index int) (string, error)
	RequestSweep(delay time.Duration)
}

// Admitter hands out transcode slots.
type Admitter interface {
	Acquire(ctx context.Context) error
	Release()
}

// Generator produces a track's segments.
type Generator interface {
	Generate(ctx context.Context, req transcoder.Request) (*segstore.Manifest, error)
}

// AudioSource resolves a track to a signed audio URL. An empty URL with a
// nil error means the track has none.
type AudioSource interface {
	TrackAudioURL(ctx context.Context, trackID, credential string) (string, error)
}

// Request identifies a track to make available.
type Request struct {
	TrackID string
	// Credential authorizes the audio URL lookup.
	Credential string
	// AudioURL skips the lookup when already known.
	AudioURL     string
	CoverURL     string
	DurationHint float64
	// Resolve, when set, is called once a generation starts and supplies
	// the cover and duration the caller did not look up.
	Resolve func(ctx context.Context) (Request, error)
}

// Options wires an Engine.
type Options struct {
	Store     Store
	Registry  *inflight.Registry[*segstore.Manifest]
	Admission Admitter
	Generator Generator
	Audio     AudioSource
	// SweepDelay is how long after a successful generation the cache sweep runs.
	SweepDelay time.Duration
	Logger     zerolog.Logger
}

// Engine serves cache lookups and on-demand generation.
type Engine struct {
	store      Store
	registry   *inflight.Registry[*segstore.Manifest]
	admission  Admitter
	gen        Generator
	audio      AudioSource
	sweepDelay time.Duration
	logger     zerolog.Logger
}

// New returns an Engine.
func New(opts Options) *Engine {
	if opts.SweepDelay <= 0 {
		opts.SweepDelay = 5 * time.Second
	}
	return &Engine{
		store:      opts.Store,
		registry:   opts.Registry,
		admission:  opts.Admission,
		gen:        opts.Generator,
		audio:      opts.Audio,
		sweepDelay: opts.SweepDelay,
		logger:     opts.Logger,
	}
}

// Ensure returns a valid manifest for the track, generating it if needed.
// Concurrent calls for one track share a single generation and its result.
// A full admission queue surfaces as an error matching admission.ErrBusy.
func (e *Engine) Ensure(ctx context.Context, req Request) (*segstore.Manifest, Outcome, error) {
	if m, ok := e.store.Lookup(req.TrackID); ok {
		return m, OutcomeCached, nil
	}

	jobID := uuid.NewString()
	h, started := e.registry.Ensure(req.TrackID, func(base context.Context) (*segstore.Manifest, error) {
		return e.generate(xglog.ContextWithJobID(base, jobID), req)
	})
	m, err := h.Wait(ctx)
	if err != nil {
		return nil, "", err
	}
	if started {
		return m, OutcomeGenerated, nil
	}
	return m, OutcomeJoined, nil
}

// InFlight reports whether a generation for the track is running.
func (e *Engine) InFlight(trackID string) bool {
	return e.registry.InFlight(trackID)
}

// IsCached reports whether the track is valid in the cache.
func (e *Engine) IsCached(trackID string) bool {
	_, ok := e.store.Lookup(trackID)
	return ok
}

// Segment ensures the track and returns the path of segment index.
func (e *Engine) Segment(ctx context.Context, req Request, index int) (string, error) {
	m, _, err := e.Ensure(ctx, req)
	if err != nil {
		return "", err
	}
	if index < 0 || index >= m.SegmentCount {
		return "", fmt.Errorf("%w: index %d of %d", ErrSegmentNotFound, index, m.SegmentCount)
	}
	return e.store.SegmentPath(req.TrackID, index)
}

func (e *Engine) generate(ctx context.Context, req Request) (*segstore.Manifest, error) {
	logger := e.logger.With().
		Str(xglog.FieldTrackID, req.TrackID).
		Str(xglog.FieldJobID, xglog.JobIDFromContext(ctx)).
		Logger()

	// A job that finished between the caller's lookup and registration
	// leaves nothing to do.
	if m, ok := e.store.Lookup(req.TrackID); ok {
		return m, nil
	}

	if req.Resolve != nil {
		full, err := req.Resolve(ctx)
		if err != nil {
			metrics.RecordGeneration("error")
			return nil, fmt.Errorf("resolve track: %w", err)
		}
		full.TrackID, full.Resolve = req.TrackID, nil
		req = full
	}

	audioURL := req.AudioURL
	if audioURL == "" {
		u, err := e.audio.TrackAudioURL(ctx, req.TrackID, req.Credential)
		if err != nil {
			metrics.RecordGeneration("error")
			return nil, fmt.Errorf("resolve audio url: %w", err)
		}
		if u == "" {
			metrics.RecordGeneration("no_url")
			return nil, ErrNoAudioURL
		}
		audioURL = u
	}

	if err := e.admission.Acquire(ctx); err != nil {
		if errors.Is(err, admission.ErrBusy) {
			metrics.RecordGeneration("busy")
			logger.Warn().Err(err).Msg("generation rejected, queue full")
		}
		return nil, err
	}
	defer e.admission.Release()

	m, err := e.gen.Generate(ctx, transcoder.Request{
		TrackID:      req.TrackID,
		AudioURL:     audioURL,
		CoverURL:     req.CoverURL,
		DurationHint: req.DurationHint,
	})
	if err != nil {
		return nil, err
	}
	e.store.RequestSweep(e.sweepDelay)
	return m, nil
}
