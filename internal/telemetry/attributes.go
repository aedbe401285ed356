// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package telemetry

import (
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys shared across spans.
const (
	TrackIDKey    = "tune2hls.track_id"
	PlaylistIDKey = "tune2hls.playlist_id"
	PhaseKey      = "tune2hls.phase"
	SegmentsKey   = "tune2hls.segments"
	OutcomeKey    = "tune2hls.outcome"
	ResolutionKey = "tune2hls.resolution"

	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// TrackAttributes describes a generation span.
func TrackAttributes(trackID string, width, height int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(TrackIDKey, trackID),
		attribute.String(ResolutionKey, resolution(width, height)),
	}
}

// ErrorAttributes marks a span as failed in a given phase.
func ErrorAttributes(phase, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(PhaseKey, phase),
		attribute.String(ErrorTypeKey, errorType),
	}
}

// RecordError records err on span with phase attributes. Nil is ignored.
func RecordError(span trace.Span, phase string, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetAttributes(ErrorAttributes(phase, errorType(err))...)
	span.SetStatus(codes.Error, err.Error())
}

func errorType(err error) string {
	return fmt.Sprintf("%T", err)
}

func resolution(w, h int) string {
	if w <= 0 || h <= 0 {
		return ""
	}
	return strconv.Itoa(w) + "x" + strconv.Itoa(h)
}
