// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package engine

import (
	"context"
	"errors"

	xglog "github.com/ManuGH/tune2hls/internal/log"
)

// PreloadStatus is the per-track result of a preload.
type PreloadStatus string

const (
	PreloadCached    PreloadStatus = "cached"
	PreloadGenerated PreloadStatus = "generated"
	PreloadNoURL     PreloadStatus = "no_url"
	PreloadError     PreloadStatus = "error"
)

// PreloadResult reports one track.
type PreloadResult struct {
	TrackID string        `json:"track_id"`
	Status  PreloadStatus `json:"status"`
	Error   string        `json:"error,omitempty"`
}

// Preload ensures each track in order and reports what happened. It stops
// early only when ctx ends; per-track failures are reported, not returned.
func (e *Engine) Preload(ctx context.Context, reqs []Request) []PreloadResult {
	out := make([]PreloadResult, 0, len(reqs))
	for _, req := range reqs {
		if ctx.Err() != nil {
			break
		}
		res := PreloadResult{TrackID: req.TrackID}
		_, outcome, err := e.Ensure(ctx, req)
		switch {
		case err == nil && outcome == OutcomeCached:
			res.Status = PreloadCached
		case err == nil:
			res.Status = PreloadGenerated
		case errors.Is(err, ErrNoAudioURL):
			res.Status = PreloadNoURL
		default:
			res.Status = PreloadError
			res.Error = err.Error()
			e.logger.Warn().Err(err).Str(xglog.FieldTrackID, req.TrackID).Msg("preload failed")
		}
		out = append(out, res)
	}
	return out
}
