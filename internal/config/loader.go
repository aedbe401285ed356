// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ManuGH/tune2hls/internal/log"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Loader resolves an AppConfig from defaults, an optional YAML file and the environment.
type Loader struct {
	configPath string
	lookup     LookupFunc
	logger     zerolog.Logger
}

// NewLoader creates a loader reading the process environment.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		lookup:     os.LookupEnv,
		logger:     log.WithComponent("config"),
	}
}

// WithLookup replaces the environment source. Used by tests.
func (l *Loader) WithLookup(fn LookupFunc) *Loader {
	l.lookup = fn
	return l
}

// Load returns the validated configuration.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnv(&cfg)

	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}

	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// loadFile decodes YAML over cfg so absent keys keep their defaults.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

func (l *Loader) mergeEnv(cfg *AppConfig) {
	e := newEnvReader(l.lookup, l.logger)
	k := func(name string) string { return EnvPrefix + name }

	cfg.LogLevel = e.String("LOG_LEVEL", cfg.LogLevel)
	cfg.Listen = e.String(k("LISTEN"), cfg.Listen)
	cfg.PublicBaseURL = e.String(k("PUBLIC_BASE_URL"), cfg.PublicBaseURL)
	cfg.DataDir = e.String(k("DATA_DIR"), cfg.DataDir)

	cfg.Jobs.MaxConcurrent = e.Int(k("MAX_CONCURRENT_JOBS"), cfg.Jobs.MaxConcurrent)
	cfg.Jobs.MaxQueue = e.Int(k("MAX_QUEUE_SIZE"), cfg.Jobs.MaxQueue)

	cfg.Download.Timeout = e.Duration(k("DOWNLOAD_TIMEOUT"), cfg.Download.Timeout)
	cfg.Download.MaxBytes = e.Int64(k("DOWNLOAD_MAX_BYTES"), cfg.Download.MaxBytes)
	cfg.Download.AllowedHosts = e.List(k("DOWNLOAD_ALLOWED_HOSTS"), cfg.Download.AllowedHosts)

	cfg.Encoder.FFmpegPath = e.String(k("FFMPEG_PATH"), cfg.Encoder.FFmpegPath)
	cfg.Encoder.Timeout = e.Duration(k("ENCODER_TIMEOUT"), cfg.Encoder.Timeout)
	cfg.Encoder.Threads = e.Int(k("ENCODER_THREADS"), cfg.Encoder.Threads)
	cfg.Encoder.SegmentDuration = e.Int(k("SEGMENT_DURATION"), cfg.Encoder.SegmentDuration)
	cfg.Encoder.Width = e.Int(k("OUTPUT_WIDTH"), cfg.Encoder.Width)
	cfg.Encoder.Height = e.Int(k("OUTPUT_HEIGHT"), cfg.Encoder.Height)
	cfg.Encoder.FPS = e.Int(k("OUTPUT_FPS"), cfg.Encoder.FPS)

	cfg.Cache.Dir = e.String(k("CACHE_DIR"), cfg.Cache.Dir)
	cfg.Cache.MaxAge = e.Duration(k("CACHE_MAX_AGE"), cfg.Cache.MaxAge)
	cfg.Cache.MaxBytes = e.Int64(k("CACHE_MAX_BYTES"), cfg.Cache.MaxBytes)
	cfg.Cache.CleanupInterval = e.Duration(k("CLEANUP_INTERVAL"), cfg.Cache.CleanupInterval)
	cfg.Cache.TargetRatio = e.Float(k("CLEANUP_TARGET_RATIO"), cfg.Cache.TargetRatio)
	cfg.Cache.ManifestEntries = e.Int(k("MANIFEST_CACHE_ENTRIES"), cfg.Cache.ManifestEntries)

	cfg.Prefetch.AutoPreloadCount = e.Int(k("AUTO_PRELOAD_COUNT"), cfg.Prefetch.AutoPreloadCount)
	cfg.Prefetch.LookaheadCount = e.Int(k("LOOKAHEAD_COUNT"), cfg.Prefetch.LookaheadCount)
	cfg.Prefetch.PreloadMax = e.Int(k("PRELOAD_MAX"), cfg.Prefetch.PreloadMax)

	cfg.Auth.AdminKey = e.String(k("ADMIN_KEY"), cfg.Auth.AdminKey)
	cfg.Auth.CredentialKey = e.String(k("CREDENTIAL_KEY"), cfg.Auth.CredentialKey)

	cfg.Redis.Addr = e.String(k("REDIS_ADDR"), cfg.Redis.Addr)
	cfg.Redis.Password = e.String(k("REDIS_PASSWORD"), cfg.Redis.Password)
	cfg.Redis.DB = e.Int(k("REDIS_DB"), cfg.Redis.DB)

	cfg.Upstream.BaseURL = e.String(k("UPSTREAM_BASE_URL"), cfg.Upstream.BaseURL)
	cfg.Upstream.Timeout = e.Duration(k("UPSTREAM_TIMEOUT"), cfg.Upstream.Timeout)
	cfg.Upstream.RPS = e.Float(k("UPSTREAM_RPS"), cfg.Upstream.RPS)

	cfg.Playlog.Path = e.String(k("PLAYLOG_PATH"), cfg.Playlog.Path)
	cfg.RateLimit.RequestsPerMinute = e.Int(k("RATE_LIMIT_RPM"), cfg.RateLimit.RequestsPerMinute)

	cfg.Tracing.Enabled = e.Bool(k("TRACING_ENABLED"), cfg.Tracing.Enabled)
	cfg.Tracing.Exporter = e.String(k("TRACING_EXPORTER"), cfg.Tracing.Exporter)
	cfg.Tracing.Endpoint = e.String(k("TRACING_ENDPOINT"), cfg.Tracing.Endpoint)
}
