// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

import (
	"net/http"
	"time"
)

// Middleware returns an HTTP access-log middleware. The request token is part
// of most paths, so only the route pattern supplied by the router is logged
// when one is available.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sw, r)

			logger := WithComponentFromContext(r.Context(), "http")
			evt := logger.Info()
			if sw.status >= 500 {
				evt = logger.Warn()
			}
			evt.
				Str(FieldEvent, "request.handled").
				Str("method", r.Method).
				Str("route", RoutePattern(r)).
				Int("status", sw.status).
				Int64(FieldBytes, sw.bytes).
				Dur("duration", time.Since(start)).
				Msg("request handled")
		})
	}
}

// RoutePatternFunc resolves the registered route for a request. The API
// package installs the router-specific implementation.
var RoutePatternFunc = func(r *http.Request) string { return "" }

// RoutePattern returns the matched route pattern or "unmatched".
func RoutePattern(r *http.Request) string {
	if p := RoutePatternFunc(r); p != "" {
		return p
	}
	return "unmatched"
}

type statusWriter struct {
	http.ResponseWriter
	status  int
	bytes   int64
	written bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}
