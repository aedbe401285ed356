// SPDX-License-Identifier: MIT

// Package middleware holds the HTTP ingress middleware shared by every route.
package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	xglog "github.com/ManuGH/tune2hls/internal/log"
)

// RequestIDHeader is echoed on every response.
const RequestIDHeader = "X-Request-ID"

// StackConfig configures the canonical middleware stack.
type StackConfig struct {
	EnableSecurityHeaders bool
	EnableMetrics         bool
	// TracingService names the server spans; empty disables tracing.
	TracingService string
	EnableLogging  bool
}

func init() {
	xglog.RoutePatternFunc = func(r *http.Request) string {
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			return rctx.RoutePattern()
		}
		return ""
	}
}

// NewRouter constructs a chi router with the canonical middleware stack applied.
func NewRouter(cfg StackConfig) *chi.Mux {
	r := chi.NewRouter()
	ApplyStack(r, cfg)
	return r
}

// ApplyStack applies the stack to r, outermost first.
func ApplyStack(r chi.Router, cfg StackConfig) {
	r.Use(Recoverer)
	r.Use(RequestID)
	if cfg.EnableSecurityHeaders {
		r.Use(SecurityHeaders())
	}
	if cfg.EnableMetrics {
		r.Use(Metrics())
	}
	if cfg.TracingService != "" {
		r.Use(OTelHTTP(cfg.TracingService))
	}
	if cfg.EnableLogging {
		r.Use(xglog.Middleware())
	}
}

// RequestID takes a well-formed incoming X-Request-ID or generates one, and
// stores it in the request context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(xglog.ContextWithRequestID(r.Context(), id)))
	})
}

// Recoverer turns handler panics into 500 responses.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			logger := xglog.WithComponentFromContext(r.Context(), "http")
			logger.Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Str("route", xglog.RoutePattern(r)).
				Msg("handler panicked")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"internal_error"}`))
		}()
		next.ServeHTTP(w, r)
	})
}
