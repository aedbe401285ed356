// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package api exposes the playlist, segment, preload and cache
// administration endpoints.
package api

import (
	"context"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ManuGH/tune2hls/internal/admission"
	"github.com/ManuGH/tune2hls/internal/api/middleware"
	"github.com/ManuGH/tune2hls/internal/audit"
	"github.com/ManuGH/tune2hls/internal/engine"
	"github.com/ManuGH/tune2hls/internal/health"
	"github.com/ManuGH/tune2hls/internal/playlog"
	"github.com/ManuGH/tune2hls/internal/segstore"
	"github.com/ManuGH/tune2hls/internal/upstream"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Engine generates and locates segments.
type Engine interface {
	Segment(ctx context.Context, req engine.Request, index int) (string, error)
	Preload(ctx context.Context, reqs []engine.Request) []engine.PreloadResult
}

// Cache is the read and purge side of the segment store.
type Cache interface {
	Lookup(trackID string) (*segstore.Manifest, bool)
	Stats(ctx context.Context) (segstore.Stats, error)
	Purge() (int, error)
	Root() string
}

// Catalog lists playlist tracks.
type Catalog interface {
	PlaylistTracks(ctx context.Context, playlistID, credential string) (*upstream.Playlist, error)
}

// Credentials resolves a playback token to the upstream credential.
type Credentials interface {
	Resolve(ctx context.Context, token string) (string, error)
}

// Prefetcher warms tracks in the background.
type Prefetcher interface {
	WarmPlaylist(playlistID string, tracks []engine.Request)
	WarmAfter(currentID string, tracks []engine.Request)
}

// LoadReporter exposes admission counters.
type LoadReporter interface {
	Load() admission.Load
}

// Config holds the HTTP-facing settings.
type Config struct {
	// PublicBaseURL prefixes segment URLs. Empty derives it from the request.
	PublicBaseURL  string
	SegmentSeconds int
	// DefaultPreload is the preload count when none is given; PreloadMax caps it.
	DefaultPreload int
	PreloadMax     int
	AdminKey       string
	RateLimitRPM   int
	// TracingService enables server spans when set.
	TracingService string
}

// Deps are the collaborators behind the handlers.
type Deps struct {
	Engine      Engine
	Cache       Cache
	Catalog     Catalog
	Credentials Credentials
	Prefetch    Prefetcher
	Jobs        LoadReporter
	Playlog     playlog.Sink
	Health      *health.Manager
	Logger      zerolog.Logger
}

// Server is the HTTP API.
type Server struct {
	cfg     Config
	deps    Deps
	audit   *audit.Logger
	handler http.Handler
}

// New builds the server and its routes.
func New(cfg Config, deps Deps) *Server {
	if deps.Playlog == nil {
		deps.Playlog = playlog.Nop{}
	}
	if deps.Health == nil {
		deps.Health = health.NewManager("")
	}
	if cfg.PreloadMax <= 0 {
		cfg.PreloadMax = 10
	}
	if cfg.DefaultPreload <= 0 {
		cfg.DefaultPreload = min(3, cfg.PreloadMax)
	}
	s := &Server{cfg: cfg, deps: deps, audit: audit.NewLogger(deps.Logger)}
	s.handler = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableSecurityHeaders: true,
		EnableMetrics:         true,
		TracingService:        s.cfg.TracingService,
		EnableLogging:         true,
	})

	r.Get("/healthz", s.deps.Health.ServeHealth)
	r.Get("/readyz", s.deps.Health.ServeReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.PerMinute(s.cfg.RateLimitRPM))
		r.Route("/hls/{token}/{playlistID}", func(r chi.Router) {
			r.Get("/index.m3u8", s.handlePlaylist)
			r.Get("/seg/{trackID}/{index}", s.handleSegment)
			r.Post("/preload", s.handlePreload)
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Get("/cache", s.handleCacheStats)
		r.Delete("/cache", s.handleCachePurge)
	})
	return r
}
