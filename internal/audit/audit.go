// SPDX-License-Identifier: MIT

// Package audit provides structured audit logging for administrative
// operations. It follows the WHO/WHAT/WHEN pattern.
package audit

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/tune2hls/internal/log"
)

// EventType represents the type of audit event.
type EventType string

const (
	EventAdminDenied EventType = "admin.denied"
	EventCacheStats  EventType = "cache.stats"
	EventCachePurge  EventType = "cache.purge"
)

// Result values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultDenied  = "denied"
)

// Event represents a structured audit event.
type Event struct {
	Timestamp  time.Time
	Type       EventType
	Action     string // WHAT: human-readable action description
	Resource   string
	Result     string
	RemoteAddr string // WHO: client address
	UserAgent  string
	RequestID  string
	Details    map[string]string
}

// Logger writes audit events.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger tags every entry of base as an audit record.
func NewLogger(base zerolog.Logger) *Logger {
	return &Logger{logger: base.With().Str("component", "audit").Str("log_type", "audit").Logger()}
}

// Log writes an audit event.
func (l *Logger) Log(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	ev := l.logger.Info()
	if event.Result != ResultSuccess {
		ev = l.logger.Warn()
	}
	ev = ev.Time("timestamp", event.Timestamp).
		Str("event_type", string(event.Type)).
		Str("action", event.Action).
		Str("resource", event.Resource).
		Str("result", event.Result)
	if event.RemoteAddr != "" {
		ev = ev.Str("remote_addr", event.RemoteAddr)
	}
	if event.UserAgent != "" {
		ev = ev.Str("user_agent", event.UserAgent)
	}
	if event.RequestID != "" {
		ev = ev.Str(log.FieldRequestID, event.RequestID)
	}
	for k, v := range event.Details {
		ev = ev.Str(k, v)
	}
	ev.Msg("audit event")
}

// Request logs an event about r, filling in the caller's identity.
func (l *Logger) Request(r *http.Request, event Event) {
	event.RemoteAddr = r.RemoteAddr
	event.UserAgent = r.UserAgent()
	event.RequestID = log.RequestIDFromContext(r.Context())
	if event.Resource == "" {
		event.Resource = r.Method + " " + r.URL.Path
	}
	l.Log(event)
}
