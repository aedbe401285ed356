// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ManuGH/tune2hls/internal/auth"
	"github.com/ManuGH/tune2hls/internal/engine"
	xglog "github.com/ManuGH/tune2hls/internal/log"
	"github.com/ManuGH/tune2hls/internal/playlist"
	"github.com/ManuGH/tune2hls/internal/playlog"
	"github.com/ManuGH/tune2hls/internal/upstream"
)

const (
	playlistContentType = "application/vnd.apple.mpegurl"
	segmentContentType  = "video/mp2t"
	// Published segments are immutable.
	segmentCacheControl = "public, max-age=31536000, immutable"
)

// hlsParams are the validated path parameters of an /hls route.
type hlsParams struct {
	token      string
	playlistID string
	credential string
}

// authorize validates the token and playlist id and resolves the
// credential. Validation failures never touch the token store.
func (s *Server) authorize(r *http.Request) (hlsParams, int, error) {
	p := hlsParams{
		token:      chi.URLParam(r, "token"),
		playlistID: chi.URLParam(r, "playlistID"),
	}
	if !auth.ValidToken(p.token) {
		return p, http.StatusBadRequest, errors.New("invalid token format")
	}
	if !idPattern.MatchString(p.playlistID) {
		return p, http.StatusBadRequest, errors.New("invalid playlist id")
	}
	cred, err := s.deps.Credentials.Resolve(r.Context(), p.token)
	if err != nil {
		if errors.Is(err, auth.ErrUnknownToken) || errors.Is(err, auth.ErrInvalidToken) {
			return p, http.StatusUnauthorized, errors.New("unknown token")
		}
		return p, http.StatusInternalServerError, err
	}
	p.credential = cred
	return p, 0, nil
}

func (s *Server) logger(r *http.Request) zerolog.Logger {
	return xglog.WithContext(r.Context(), s.deps.Logger)
}

func (s *Server) handlePlaylist(w http.ResponseWriter, r *http.Request) {
	p, code, err := s.authorize(r)
	if err != nil {
		if code >= 500 {
			logger := s.logger(r)
			logger.Error().Err(err).Msg("credential lookup failed")
			writePlaylistError(w, code, "internal error")
			return
		}
		writePlaylistError(w, code, err.Error())
		return
	}
	logger := s.logger(r).With().Str(xglog.FieldPlaylistID, p.playlistID).Logger()

	pl, err := s.deps.Catalog.PlaylistTracks(r.Context(), p.playlistID, p.credential)
	if err != nil {
		code, _ := classify(err)
		if code >= 500 {
			logger.Error().Err(err).Msg("playlist lookup failed")
			writePlaylistError(w, code, "playlist unavailable")
			return
		}
		writePlaylistError(w, code, err.Error())
		return
	}

	items := make([]playlist.Item, 0, len(pl.Tracks))
	for _, t := range pl.Tracks {
		if !idPattern.MatchString(t.ID) {
			logger.Debug().Str(xglog.FieldTrackID, t.ID).Msg("skipping track with unusable id")
			continue
		}
		item := playlist.Item{TrackID: t.ID, Title: t.DisplayName(), Duration: t.Duration}
		if m, ok := s.deps.Cache.Lookup(t.ID); ok {
			item.Durations = m.Durations
		}
		items = append(items, item)
	}

	var buf bytes.Buffer
	err = playlist.Build(&buf, playlist.Options{
		BaseURL:        s.baseURL(r),
		Token:          p.token,
		PlaylistID:     p.playlistID,
		SegmentSeconds: s.cfg.SegmentSeconds,
	}, items)
	if err != nil {
		logger.Error().Err(err).Msg("playlist build failed")
		writePlaylistError(w, http.StatusInternalServerError, "playlist build failed")
		return
	}

	w.Header().Set("Content-Type", playlistContentType)
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(buf.Bytes())

	s.deps.Prefetch.WarmPlaylist(p.playlistID, trackRequests(pl, p.credential))
}

func (s *Server) handleSegment(w http.ResponseWriter, r *http.Request) {
	p, code, err := s.authorize(r)
	if err != nil {
		s.writeAuthError(w, r, code, err)
		return
	}
	trackID := chi.URLParam(r, "trackID")
	index, err := strconv.Atoi(strings.TrimSuffix(chi.URLParam(r, "index"), ".ts"))
	if !idPattern.MatchString(trackID) || err != nil || index < 0 {
		writeError(w, http.StatusBadRequest, "invalid_params", "invalid track id or segment index")
		return
	}
	logger := s.logger(r).With().
		Str(xglog.FieldPlaylistID, p.playlistID).
		Str(xglog.FieldTrackID, trackID).
		Int(xglog.FieldSegment, index).
		Logger()

	// The playlist supplies cover and duration for generation, and the
	// look-ahead list when playback starts. A cached later segment needs
	// neither.
	_, cached := s.deps.Cache.Lookup(trackID)
	var pl *upstream.Playlist
	if !cached || index == 0 {
		pl, err = s.deps.Catalog.PlaylistTracks(r.Context(), p.playlistID, p.credential)
		if err != nil && !cached {
			s.writeFailure(w, logger, err)
			return
		}
		if err != nil {
			logger.Debug().Err(err).Msg("playlist unavailable, serving cached track")
		}
	}

	req := engine.Request{
		TrackID:    trackID,
		Credential: p.credential,
		Resolve:    s.trackResolver(p, trackID),
	}
	if pl != nil {
		t, ok := findTrack(pl, trackID)
		if !ok {
			writeError(w, http.StatusNotFound, "not_found", "track is not part of the playlist")
			return
		}
		req = requestFor(pl, t, p.credential)
	}

	f, err := s.openSegment(r.Context(), req, index)
	if err != nil {
		s.writeFailure(w, logger, err)
		return
	}
	defer func() { _ = f.Close() }()
	fi, err := f.Stat()
	if err != nil {
		s.writeFailure(w, logger, err)
		return
	}

	w.Header().Set("Content-Type", segmentContentType)
	w.Header().Set("Cache-Control", segmentCacheControl)
	http.ServeContent(w, r, "", fi.ModTime(), f)

	if index == 0 && r.Method == http.MethodGet {
		s.deps.Playlog.Record(context.WithoutCancel(r.Context()), playlog.Event{
			User:       userKey(p.token),
			PlaylistID: p.playlistID,
			TrackID:    trackID,
			At:         time.Now(),
		})
		if pl != nil {
			s.deps.Prefetch.WarmAfter(trackID, trackRequests(pl, p.credential))
		}
	}
}

// trackResolver looks the track up in the playlist when a generation needs
// its cover and duration. It runs on the generation's context, not the
// request's.
func (s *Server) trackResolver(p hlsParams, trackID string) func(context.Context) (engine.Request, error) {
	return func(ctx context.Context) (engine.Request, error) {
		pl, err := s.deps.Catalog.PlaylistTracks(ctx, p.playlistID, p.credential)
		if err != nil {
			return engine.Request{}, err
		}
		t, ok := findTrack(pl, trackID)
		if !ok {
			return engine.Request{}, fmt.Errorf("track %s not in playlist: %w", trackID, upstream.ErrNotFound)
		}
		return requestFor(pl, t, p.credential), nil
	}
}

// openSegment ensures the track and opens the segment. A sweep may remove
// the directory between the two steps, so a vanished file is retried once.
func (s *Server) openSegment(ctx context.Context, req engine.Request, index int) (*os.File, error) {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		var path string
		path, err = s.deps.Engine.Segment(ctx, req, index)
		if err != nil {
			return nil, err
		}
		var f *os.File
		f, err = os.Open(path)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	return nil, err
}

// preloadResponse is the body of a preload answer.
type preloadResponse struct {
	PlaylistID string                 `json:"playlist_id"`
	Requested  int                    `json:"requested"`
	Results    []engine.PreloadResult `json:"results"`
}

func (s *Server) handlePreload(w http.ResponseWriter, r *http.Request) {
	p, code, err := s.authorize(r)
	if err != nil {
		s.writeAuthError(w, r, code, err)
		return
	}
	count := s.cfg.DefaultPreload
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid_params", "count must be a positive integer")
			return
		}
		count = n
	}
	count = min(count, s.cfg.PreloadMax)
	logger := s.logger(r).With().Str(xglog.FieldPlaylistID, p.playlistID).Logger()

	pl, err := s.deps.Catalog.PlaylistTracks(r.Context(), p.playlistID, p.credential)
	if err != nil {
		s.writeFailure(w, logger, err)
		return
	}
	reqs := trackRequests(pl, p.credential)
	reqs = reqs[:min(count, len(reqs))]

	results := s.deps.Engine.Preload(r.Context(), reqs)
	logger.Info().Int("requested", count).Int("processed", len(results)).Msg("preload finished")
	writeJSON(w, http.StatusOK, preloadResponse{PlaylistID: p.playlistID, Requested: count, Results: results})
}

func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, code int, err error) {
	switch code {
	case http.StatusBadRequest:
		writeError(w, code, "invalid_params", err.Error())
	case http.StatusUnauthorized:
		writeUnauthorized(w)
	default:
		logger := s.logger(r)
		logger.Error().Err(err).Msg("credential lookup failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "")
	}
}

func (s *Server) writeFailure(w http.ResponseWriter, logger zerolog.Logger, err error) {
	if errors.Is(err, context.Canceled) {
		// The client went away; nobody reads the answer.
		return
	}
	code, _ := classify(err)
	if code >= 500 && code != http.StatusServiceUnavailable {
		logger.Error().Err(err).Msg("request failed")
	}
	writeErrorFor(w, err)
}

// baseURL is the prefix of segment URLs, ending in /hls.
func (s *Server) baseURL(r *http.Request) string {
	if s.cfg.PublicBaseURL != "" {
		return strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/hls"
	}
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return scheme + "://" + r.Host + "/hls"
}

func findTrack(pl *upstream.Playlist, trackID string) (upstream.Track, bool) {
	for _, t := range pl.Tracks {
		if t.ID == trackID {
			return t, true
		}
	}
	return upstream.Track{}, false
}

func requestFor(pl *upstream.Playlist, t upstream.Track, credential string) engine.Request {
	cover := t.Cover
	if cover == "" {
		cover = pl.Cover
	}
	return engine.Request{
		TrackID:      t.ID,
		Credential:   credential,
		CoverURL:     cover,
		DurationHint: t.Duration,
	}
}

// trackRequests lists the playlist's valid tracks in order.
func trackRequests(pl *upstream.Playlist, credential string) []engine.Request {
	out := make([]engine.Request, 0, len(pl.Tracks))
	for _, t := range pl.Tracks {
		if !idPattern.MatchString(t.ID) {
			continue
		}
		out = append(out, requestFor(pl, t, credential))
	}
	return out
}

// userKey identifies a listener in the play log without storing the token.
func userKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}
