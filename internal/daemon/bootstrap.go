// SPDX-License-Identifier: MIT

// Package daemon wires the tune2hls components together and owns their
// lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ManuGH/tune2hls/internal/admission"
	"github.com/ManuGH/tune2hls/internal/api"
	"github.com/ManuGH/tune2hls/internal/auth"
	"github.com/ManuGH/tune2hls/internal/cache"
	"github.com/ManuGH/tune2hls/internal/config"
	"github.com/ManuGH/tune2hls/internal/engine"
	"github.com/ManuGH/tune2hls/internal/fetch"
	"github.com/ManuGH/tune2hls/internal/health"
	"github.com/ManuGH/tune2hls/internal/housekeeping"
	"github.com/ManuGH/tune2hls/internal/inflight"
	xglog "github.com/ManuGH/tune2hls/internal/log"
	pnet "github.com/ManuGH/tune2hls/internal/platform/net"
	"github.com/ManuGH/tune2hls/internal/playlog"
	"github.com/ManuGH/tune2hls/internal/prefetch"
	"github.com/ManuGH/tune2hls/internal/segstore"
	"github.com/ManuGH/tune2hls/internal/telemetry"
	"github.com/ManuGH/tune2hls/internal/transcoder"
	"github.com/ManuGH/tune2hls/internal/upstream"
)

const (
	serviceName    = "tune2hls"
	redisKeyPrefix = "tune2hls:"
	minFreeDisk    = 512 << 20
)

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

// App is the fully wired service.
type App struct {
	cfg     config.AppConfig
	logger  zerolog.Logger
	manager Manager
	hooks   []namedHook

	Store        *segstore.Store
	Engine       *engine.Engine
	Tokens       *auth.Resolver
	Prefetch     *prefetch.Scheduler
	Housekeeping *housekeeping.Runner
	Health       *health.Manager
	Handler      http.Handler
}

// Build constructs every component from cfg. Resources opened before a
// failure are released before Build returns.
func Build(ctx context.Context, cfg config.AppConfig, info BuildInfo) (_ *App, err error) {
	a := &App{cfg: cfg, logger: xglog.WithComponent("daemon")}
	defer func() {
		if err != nil {
			a.runHooks(context.WithoutCancel(ctx))
		}
	}()

	if cfg.Upstream.BaseURL == "" {
		return nil, ErrMissingUpstream
	}
	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		return nil, fmt.Errorf("startup checks: %w", err)
	}

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: info.Version,
		ExporterType:   cfg.Tracing.Exporter,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	a.addHook("telemetry", tp.Shutdown)

	var rdb redis.UniversalClient
	if cfg.Redis.Addr != "" {
		rdb, err = a.openRedis(ctx)
		if err != nil {
			return nil, err
		}
	}

	tokens, err := a.buildTokens(rdb)
	if err != nil {
		return nil, err
	}
	a.Tokens = tokens

	upOpts := upstream.Options{
		BaseURL: cfg.Upstream.BaseURL,
		Timeout: cfg.Upstream.Timeout,
		RPS:     cfg.Upstream.RPS,
		MemoTTL: cfg.Upstream.PlaylistTTL,
		Logger:  xglog.WithComponent("upstream"),
	}
	if rdb != nil {
		upOpts.Memo = cache.NewRedis[upstream.Playlist](rdb, redisKeyPrefix+"playlist:", xglog.WithComponent("cache"))
	}
	catalog, err := upstream.New(upOpts)
	if err != nil {
		return nil, err
	}

	allow, err := downloadAllowlist(cfg)
	if err != nil {
		return nil, err
	}
	fetcher := fetch.New(fetch.Options{
		Allow:    allow,
		MaxBytes: cfg.Download.MaxBytes,
		Timeout:  cfg.Download.Timeout,
		Logger:   xglog.WithComponent("fetch"),
	})

	// The registry outlives request contexts; generations are only bounded
	// by the encoder and download timeouts.
	registry := inflight.New[*segstore.Manifest](context.WithoutCancel(ctx), xglog.WithComponent("inflight"))
	store, err := segstore.New(segstore.Config{
		Root:        cfg.CacheDir(),
		Width:       cfg.Encoder.Width,
		Height:      cfg.Encoder.Height,
		MaxAge:      cfg.Cache.MaxAge,
		MaxBytes:    cfg.Cache.MaxBytes,
		TargetRatio: cfg.Cache.TargetRatio,
		MemoEntries: cfg.Cache.ManifestEntries,
	}, registry, xglog.WithComponent("segstore"))
	if err != nil {
		return nil, err
	}
	a.Store = store
	a.addHook("segstore", func(context.Context) error {
		store.Close()
		return nil
	})
	a.addHook("generations", registry.Wait)

	worker := transcoder.NewWorker(transcoder.Config{
		Width:          cfg.Encoder.Width,
		Height:         cfg.Encoder.Height,
		FPS:            cfg.Encoder.FPS,
		SegmentSeconds: cfg.Encoder.SegmentDuration,
		Threads:        cfg.Encoder.Threads,
	}, fetcher, store,
		transcoder.NewExecRunner(cfg.Encoder.FFmpegPath, cfg.Encoder.Timeout, xglog.WithComponent("ffmpeg")),
		xglog.WithComponent("transcoder"))

	jobs := admission.NewController(cfg.Jobs.MaxConcurrent, cfg.Jobs.MaxQueue)
	a.Engine = engine.New(engine.Options{
		Store:     store,
		Registry:  registry,
		Admission: jobs,
		Generator: worker,
		Audio:     catalog,
		Logger:    xglog.WithComponent("engine"),
	})

	a.Prefetch = prefetch.New(a.Engine, prefetch.Options{
		PlaylistCount: cfg.Prefetch.AutoPreloadCount,
		Lookahead:     cfg.Prefetch.LookaheadCount,
		Logger:        xglog.WithComponent("prefetch"),
	})
	a.addHook("prefetch", a.Prefetch.Stop)

	a.Housekeeping = housekeeping.New(housekeepingConfigFor(cfg), store, registry, xglog.WithComponent("housekeeping"))
	a.addHook("housekeeping", a.Housekeeping.Stop)

	sink, err := a.openPlaylog(ctx)
	if err != nil {
		return nil, err
	}

	a.Health = health.NewManager(info.Version)
	a.Health.RegisterChecker(health.NewBinaryChecker("ffmpeg", cfg.Encoder.FFmpegPath))
	a.Health.RegisterChecker(health.NewWritableDirChecker("cache_dir", cfg.CacheDir()))
	a.Health.RegisterChecker(health.NewDiskChecker(cfg.CacheDir(), minFreeDisk))

	tracingService := ""
	if cfg.Tracing.Enabled {
		tracingService = serviceName
	}
	a.Handler = api.New(api.Config{
		PublicBaseURL:  cfg.PublicBaseURL,
		SegmentSeconds: cfg.Encoder.SegmentDuration,
		DefaultPreload: cfg.Prefetch.AutoPreloadCount,
		PreloadMax:     cfg.Prefetch.PreloadMax,
		AdminKey:       cfg.Auth.AdminKey,
		RateLimitRPM:   cfg.RateLimit.RequestsPerMinute,
		TracingService: tracingService,
	}, api.Deps{
		Engine:      a.Engine,
		Cache:       store,
		Catalog:     catalog,
		Credentials: tokens,
		Prefetch:    a.Prefetch,
		Jobs:        jobs,
		Playlog:     sink,
		Health:      a.Health,
		Logger:      xglog.WithComponent("api"),
	}).Handler()

	mgr, err := NewManager(ServerConfigFor(cfg), Deps{Logger: a.logger, APIHandler: a.Handler})
	if err != nil {
		return nil, err
	}
	for _, h := range a.hooks {
		mgr.RegisterShutdownHook(h.name, h.hook)
	}
	a.manager = mgr

	a.logger.Info().
		Str("version", info.Version).
		Str("commit", info.Commit).
		Str("upstream", pnet.SanitizeURL(cfg.Upstream.BaseURL)).
		Str("cache_dir", cfg.CacheDir()).
		Int("max_concurrent", cfg.Jobs.MaxConcurrent).
		Int("max_queue", cfg.Jobs.MaxQueue).
		Bool("redis", rdb != nil).
		Bool("admin", cfg.Auth.AdminKey != "").
		Msg("components wired")
	return a, nil
}

func (a *App) openRedis(ctx context.Context) (redis.UniversalClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis %s: %w", a.cfg.Redis.Addr, err)
	}
	a.addHook("redis", func(context.Context) error { return rdb.Close() })
	return rdb, nil
}

func (a *App) buildTokens(rdb redis.UniversalClient) (*auth.Resolver, error) {
	var sealer *auth.Sealer
	if a.cfg.Auth.CredentialKey != "" {
		s, err := auth.NewSealer(a.cfg.Auth.CredentialKey)
		if err != nil {
			return nil, fmt.Errorf("credential key: %w", err)
		}
		sealer = s
	} else {
		a.logger.Warn().Msg("no credential key configured, upstream credentials are stored unsealed")
	}
	var store auth.TokenStore = auth.NewMemoryTokenStore()
	if rdb != nil {
		store = auth.NewRedisTokenStore(rdb, redisKeyPrefix+"token:")
	}
	return auth.NewResolver(store, sealer), nil
}

func (a *App) openPlaylog(ctx context.Context) (playlog.Sink, error) {
	if a.cfg.Playlog.Path == "" {
		return playlog.Nop{}, nil
	}
	sink, err := playlog.OpenSQLite(ctx, a.cfg.Playlog.Path, xglog.WithComponent("playlog"))
	if err != nil {
		return nil, fmt.Errorf("playlog: %w", err)
	}
	a.addHook("playlog", func(context.Context) error { return sink.Close() })
	return sink, nil
}

// downloadAllowlist returns the configured media hosts, or the upstream
// host and its subdomains when none are configured.
func downloadAllowlist(cfg config.AppConfig) (*pnet.HostAllowlist, error) {
	patterns := cfg.Download.AllowedHosts
	if len(patterns) == 0 {
		u, err := url.Parse(cfg.Upstream.BaseURL)
		if err != nil || u.Hostname() == "" {
			return nil, fmt.Errorf("upstream base url %q has no host", cfg.Upstream.BaseURL)
		}
		patterns = []string{u.Hostname(), "*." + u.Hostname()}
	}
	return pnet.NewHostAllowlist(patterns)
}

func (a *App) addHook(name string, hook ShutdownHook) {
	a.hooks = append(a.hooks, namedHook{name: name, hook: hook})
}

// runHooks releases resources when the manager never took ownership.
func (a *App) runHooks(ctx context.Context) {
	var errs []error
	for i := len(a.hooks) - 1; i >= 0; i-- {
		if err := a.hooks[i].hook(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", a.hooks[i].name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn().Err(err).Msg("cleanup after failed start")
	}
}
