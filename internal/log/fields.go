// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID  = "request_id"
	FieldJobID      = "job_id"
	FieldTrackID    = "track_id"
	FieldPlaylistID = "playlist_id"
	FieldBatchKey   = "batch_key"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldPhase     = "phase"
	FieldAttempt   = "attempt"

	// Media fields
	FieldSegments   = "segments"
	FieldSegment    = "segment"
	FieldResolution = "resolution"
	FieldExitCode   = "exit_code"
	FieldStderr     = "stderr"

	// Path / URL fields
	FieldPath = "path"
	FieldHost = "host"
	FieldURL  = "url"

	// Load fields
	FieldRunning = "running"
	FieldWaiting = "waiting"
	FieldBytes   = "bytes"
)
