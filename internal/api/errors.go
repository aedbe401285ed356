// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ManuGH/tune2hls/internal/admission"
	"github.com/ManuGH/tune2hls/internal/auth"
	"github.com/ManuGH/tune2hls/internal/engine"
	"github.com/ManuGH/tune2hls/internal/segstore"
	"github.com/ManuGH/tune2hls/internal/upstream"
)

// busyRetryAfter is the Retry-After hint on admission rejections, in seconds.
const busyRetryAfter = 5

// errorBody is the JSON error envelope.
type errorBody struct {
	Error   string `json:"error"`
	Detail  string `json:"detail,omitempty"`
	Running *int   `json:"running,omitempty"`
	Waiting *int   `json:"waiting,omitempty"`
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, kind, detail string) {
	writeJSON(w, code, errorBody{Error: kind, Detail: detail})
}

func writeUnauthorized(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, "unauthorized", "")
}

// writeBusy reports an admission rejection with the load at rejection time.
func writeBusy(w http.ResponseWriter, busy *admission.BusyError) {
	w.Header().Set("Retry-After", fmt.Sprint(busyRetryAfter))
	writeJSON(w, http.StatusServiceUnavailable, errorBody{
		Error:   "busy",
		Detail:  "transcode queue is full, retry later",
		Running: &busy.Running,
		Waiting: &busy.Waiting,
	})
}

// classify maps a handler error to a status code and error kind.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrUnknownToken), errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, upstream.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, segstore.ErrInvalidTrackID):
		return http.StatusBadRequest, "invalid_id"
	case errors.Is(err, upstream.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, engine.ErrSegmentNotFound):
		return http.StatusNotFound, "segment_not_found"
	case errors.Is(err, engine.ErrNoAudioURL):
		return http.StatusNotFound, "no_audio"
	case errors.Is(err, admission.ErrBusy):
		return http.StatusServiceUnavailable, "busy"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeErrorFor writes the JSON error for err. Internal details are not
// exposed for 5xx answers.
func writeErrorFor(w http.ResponseWriter, err error) {
	var busy *admission.BusyError
	if errors.As(err, &busy) {
		writeBusy(w, busy)
		return
	}
	code, kind := classify(err)
	detail := ""
	if code < 500 {
		detail = err.Error()
	}
	writeError(w, code, kind, detail)
}

// writePlaylistError answers a playlist request with an in-band error so
// players that only parse M3U still show something meaningful.
func writePlaylistError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", playlistContentType)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	msg = strings.NewReplacer("\r", " ", "\n", " ").Replace(msg)
	_, _ = fmt.Fprintf(w, "#EXTM3U\n# ERROR: %s\n", msg)
}
