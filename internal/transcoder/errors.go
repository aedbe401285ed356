// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package transcoder

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEncoderTimeout is returned when the encoder outlives its wall-clock
	// limit and was killed.
	ErrEncoderTimeout = errors.New("encoder timed out")

	// ErrNoSegments is returned when the encoder exited cleanly but its
	// playlist listed no segments.
	ErrNoSegments = errors.New("encoder produced no segments")
)

// Generation phases, used in logs, metrics and span attributes.
const (
	PhaseFetchAudio = "fetch_audio"
	PhaseFetchCover = "fetch_cover"
	PhaseEncode     = "encode"
	PhaseParse      = "parse"
	PhasePublish    = "publish"
)

// EncodeError reports a non-zero encoder exit.
type EncodeError struct {
	ExitCode int
	Stderr   string
}

func (e *EncodeError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("encoder exited with code %d", e.ExitCode)
	}
	return fmt.Sprintf("encoder exited with code %d: %s", e.ExitCode, lastLine(e.Stderr))
}

// PhaseError tags a generation failure with the phase it happened in.
type PhaseError struct {
	Phase string
	Err   error
}

func (e *PhaseError) Error() string { return e.Phase + ": " + e.Err.Error() }
func (e *PhaseError) Unwrap() error { return e.Err }

// PhaseOf returns the phase recorded in err, or "" if none.
func PhaseOf(err error) string {
	var pe *PhaseError
	if errors.As(err, &pe) {
		return pe.Phase
	}
	return ""
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\r\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
