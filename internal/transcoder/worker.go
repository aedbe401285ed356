// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package transcoder turns a remote audio track and cover image into cached
// HLS segments by driving an external ffmpeg process.
package transcoder

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	xglog "github.com/ManuGH/tune2hls/internal/log"
	"github.com/ManuGH/tune2hls/internal/metrics"
	"github.com/ManuGH/tune2hls/internal/segstore"
	"github.com/ManuGH/tune2hls/internal/telemetry"
)

// Fetcher downloads a URL to a local path.
type Fetcher interface {
	FetchKind(ctx context.Context, kind, rawURL, dest string) (string, error)
}

// Store is the part of the segment store the worker writes through.
type Store interface {
	NewAttemptDir(trackID string) (string, error)
	Publish(trackID, srcDir string, durations []float64) (*segstore.Manifest, error)
}

// Config fixes the output format.
type Config struct {
	Width          int
	Height         int
	FPS            int
	SegmentSeconds int
	Threads        int
}

// Request names the media for one generation.
type Request struct {
	TrackID  string
	AudioURL string
	// CoverURL may be empty; a plain background is rendered instead.
	CoverURL string
	// DurationHint is the upstream track length in seconds, 0 if unknown.
	DurationHint float64
}

// Worker runs generations. It does not serialize per track; callers must.
type Worker struct {
	cfg     Config
	fetcher Fetcher
	store   Store
	runner  Runner
	logger  zerolog.Logger
}

// NewWorker returns a Worker.
func NewWorker(cfg Config, fetcher Fetcher, store Store, runner Runner, logger zerolog.Logger) *Worker {
	return &Worker{cfg: cfg, fetcher: fetcher, store: store, runner: runner, logger: logger}
}

// Generate fetches the media, encodes it and publishes the segments. All
// scratch files of the attempt are removed before it returns.
func (w *Worker) Generate(ctx context.Context, req Request) (m *segstore.Manifest, err error) {
	ctx, span := telemetry.Tracer("tune2hls.transcoder").Start(ctx, "transcoder.generate",
		trace.WithAttributes(telemetry.TrackAttributes(req.TrackID, w.cfg.Width, w.cfg.Height)...))
	defer span.End()

	logger := w.logger.With().
		Str(xglog.FieldTrackID, req.TrackID).
		Str(xglog.FieldJobID, xglog.JobIDFromContext(ctx)).
		Logger()
	start := time.Now()
	defer func() {
		if err != nil {
			metrics.RecordGeneration("error")
			return
		}
		metrics.RecordGeneration("success")
	}()

	attempt, err := w.store.NewAttemptDir(req.TrackID)
	if err != nil {
		return nil, w.fail(logger, span, PhasePublish, err, "")
	}
	defer func() {
		if rmErr := os.RemoveAll(attempt); rmErr != nil {
			logger.Warn().Err(rmErr).Str(xglog.FieldPath, attempt).Msg("failed to remove attempt dir")
		}
	}()
	srcDir := filepath.Join(attempt, "src")
	outDir := filepath.Join(attempt, "out")
	for _, d := range []string{srcDir, outDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, w.fail(logger, span, PhasePublish, err, "")
		}
	}

	audioPath := filepath.Join(srcDir, "audio")
	coverPath := filepath.Join(srcDir, "cover")
	haveCover := false

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if _, err := w.fetcher.FetchKind(gctx, "audio", req.AudioURL, audioPath); err != nil {
			return &PhaseError{Phase: PhaseFetchAudio, Err: err}
		}
		return nil
	})
	if req.CoverURL != "" {
		g.Go(func() error {
			if _, err := w.fetcher.FetchKind(gctx, "cover", req.CoverURL, coverPath); err != nil {
				// The cover is cosmetic; fall back to a plain background.
				if gctx.Err() == nil {
					logger.Warn().Err(err).Str(xglog.FieldPhase, PhaseFetchCover).Msg("cover unavailable, rendering without it")
				}
				return nil
			}
			haveCover = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, w.fail(logger, span, PhaseOf(err), err, "")
	}

	params := EncodeParams{
		AudioPath:      audioPath,
		OutDir:         outDir,
		Width:          w.cfg.Width,
		Height:         w.cfg.Height,
		FPS:            w.cfg.FPS,
		SegmentSeconds: w.cfg.SegmentSeconds,
		Threads:        w.cfg.Threads,
	}
	if haveCover {
		params.CoverPath = coverPath
	}
	res, err := w.runner.Run(ctx, BuildArgs(params))
	metrics.ObserveEncoder(encoderResult(res, err), res.Elapsed.Seconds())
	if err != nil {
		return nil, w.fail(logger, span, PhaseEncode, err, res.Stderr)
	}

	durations, err := readSegments(outDir)
	if err != nil {
		return nil, w.fail(logger, span, PhaseParse, err, res.Stderr)
	}
	if req.DurationHint > 0 && w.cfg.SegmentSeconds > 0 {
		want := int(math.Ceil(req.DurationHint / float64(w.cfg.SegmentSeconds)))
		if diff := len(durations) - want; diff > 1 || diff < -1 {
			logger.Debug().Int(xglog.FieldSegments, len(durations)).Int("expected", want).Msg("segment count differs from duration hint")
		}
	}

	m, err = w.store.Publish(req.TrackID, outDir, durations)
	if err != nil {
		return nil, w.fail(logger, span, PhasePublish, err, "")
	}

	span.SetAttributes(attribute.Int(telemetry.SegmentsKey, len(durations)))
	logger.Info().
		Int(xglog.FieldSegments, m.SegmentCount).
		Dur("elapsed", time.Since(start)).
		Dur("encode", res.Elapsed).
		Msg("track generated")
	return m, nil
}

func readSegments(outDir string) ([]float64, error) {
	f, err := os.Open(filepath.Join(outDir, PlaylistName))
	if err != nil {
		return nil, fmt.Errorf("open encoder playlist: %w", err)
	}
	defer func() { _ = f.Close() }()

	segs, err := ParsePlaylist(f)
	if err != nil {
		return nil, fmt.Errorf("parse encoder playlist: %w", err)
	}
	if len(segs) == 0 {
		return nil, ErrNoSegments
	}
	durations := make([]float64, len(segs))
	for i, s := range segs {
		if s.Name != segstore.SegmentName(i) {
			return nil, fmt.Errorf("unexpected segment %q at index %d", s.Name, i)
		}
		durations[i] = s.Duration
	}
	return durations, nil
}

func (w *Worker) fail(logger zerolog.Logger, span trace.Span, phase string, err error, stderr string) error {
	if phase == "" {
		phase = PhaseEncode
	}
	metrics.IncTranscodeFailure(phase)
	telemetry.RecordError(span, phase, err)

	ev := logger.Error().Err(err).Str(xglog.FieldPhase, phase)
	var ee *EncodeError
	if errors.As(err, &ee) {
		ev = ev.Int(xglog.FieldExitCode, ee.ExitCode)
	}
	if stderr != "" {
		ev = ev.Str(xglog.FieldStderr, stderr)
	}
	ev.Msg("track generation failed")

	var pe *PhaseError
	if errors.As(err, &pe) {
		return err
	}
	return &PhaseError{Phase: phase, Err: err}
}

func encoderResult(res Result, err error) string {
	switch {
	case err == nil:
		return "ok"
	case res.TimedOut || errors.Is(err, ErrEncoderTimeout):
		return "timeout"
	default:
		return "error"
	}
}
