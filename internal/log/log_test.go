// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextWithRequestID(t *testing.T) {
	tests := []struct {
		name      string
		ctx       context.Context
		requestID string
		want      string
	}{
		{name: "nil context", ctx: nil, requestID: "test-id-123", want: "test-id-123"},
		{name: "background context", ctx: context.Background(), requestID: "req-456", want: "req-456"},
		{name: "empty request ID", ctx: context.Background(), requestID: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := ContextWithRequestID(tt.ctx, tt.requestID)
			assert.Equal(t, tt.want, RequestIDFromContext(ctx))
		})
	}
}

func TestJobIDFromContextEmpty(t *testing.T) {
	assert.Empty(t, JobIDFromContext(nil))
	assert.Empty(t, JobIDFromContext(context.Background()))
	assert.Equal(t, "job-1", JobIDFromContext(ContextWithJobID(context.Background(), "job-1")))
}

func TestWithComponentFromContext(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "debug", Output: &buf, Service: "test"})
	t.Cleanup(func() { Configure(Config{}) })

	ctx := ContextWithRequestID(context.Background(), "rid-1")
	ctx = ContextWithJobID(ctx, "jid-1")
	logger := WithComponentFromContext(ctx, "engine")
	logger.Info().Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "engine", entry[FieldComponent])
	assert.Equal(t, "rid-1", entry[FieldRequestID])
	assert.Equal(t, "jid-1", entry[FieldJobID])
	assert.Equal(t, "test", entry["service"])
}

func TestMiddleware_LogsStatusAndRoute(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "info", Output: &buf})
	t.Cleanup(func() { Configure(Config{}) })

	h := Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short"))
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/secret-token/x", nil))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, float64(http.StatusTeapot), entry["status"])
	assert.Equal(t, "unmatched", entry["route"])
	assert.Equal(t, float64(5), entry[FieldBytes])
	assert.NotContains(t, buf.String(), "secret-token")
}
