// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ValidationError describes a single invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks cross-field constraints. All violations are reported together.
func Validate(cfg AppConfig) error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if cfg.Listen == "" {
		add("listen", "must not be empty")
	}
	if cfg.DataDir == "" {
		add("dataDir", "must not be empty")
	}
	if cfg.Jobs.MaxConcurrent < 1 {
		add("jobs.maxConcurrent", "must be >= 1, got %d", cfg.Jobs.MaxConcurrent)
	}
	if cfg.Jobs.MaxQueue < 0 {
		add("jobs.maxQueue", "must be >= 0, got %d", cfg.Jobs.MaxQueue)
	}
	if cfg.Download.Timeout <= 0 {
		add("download.timeout", "must be positive")
	}
	if cfg.Download.MaxBytes <= 0 {
		add("download.maxBytes", "must be positive")
	}
	for _, h := range cfg.Download.AllowedHosts {
		if strings.Contains(h, "/") || (strings.Contains(h, "*") && !strings.HasPrefix(h, "*.")) {
			add("download.allowedHosts", "invalid pattern %q (use host or *.suffix)", h)
		}
	}
	if cfg.Encoder.FFmpegPath == "" {
		add("encoder.ffmpegPath", "must not be empty")
	}
	if cfg.Encoder.Timeout <= 0 {
		add("encoder.timeout", "must be positive")
	}
	if cfg.Encoder.Threads < 1 {
		add("encoder.threads", "must be >= 1")
	}
	if cfg.Encoder.SegmentDuration < 1 {
		add("encoder.segmentDuration", "must be >= 1")
	}
	if cfg.Encoder.Width < 16 || cfg.Encoder.Height < 16 || cfg.Encoder.Width%2 != 0 || cfg.Encoder.Height%2 != 0 {
		add("encoder.width/height", "must be even and >= 16, got %dx%d", cfg.Encoder.Width, cfg.Encoder.Height)
	}
	if cfg.Encoder.FPS < 1 {
		add("encoder.fps", "must be >= 1")
	}
	if cfg.Cache.MaxAge <= 0 {
		add("cache.maxAge", "must be positive")
	}
	if cfg.Cache.MaxBytes <= 0 {
		add("cache.maxBytes", "must be positive")
	}
	if cfg.Cache.CleanupInterval <= 0 {
		add("cache.cleanupInterval", "must be positive")
	}
	if cfg.Cache.TargetRatio <= 0 || cfg.Cache.TargetRatio > 1 {
		add("cache.targetRatio", "must be in (0, 1], got %g", cfg.Cache.TargetRatio)
	}
	if cfg.Cache.ManifestEntries < 1 {
		add("cache.manifestEntries", "must be >= 1")
	}
	if cfg.Prefetch.AutoPreloadCount < 0 || cfg.Prefetch.LookaheadCount < 0 {
		add("prefetch", "counts must be >= 0")
	}
	if cfg.Prefetch.PreloadMax < 1 {
		add("prefetch.preloadMax", "must be >= 1")
	}
	if cfg.Auth.CredentialKey != "" {
		key, err := hex.DecodeString(cfg.Auth.CredentialKey)
		switch {
		case err != nil:
			add("auth.credentialKey", "must be hex encoded")
		case len(key) != 16 && len(key) != 24 && len(key) != 32:
			add("auth.credentialKey", "must decode to 16, 24 or 32 bytes, got %d", len(key))
		}
	}
	if cfg.Upstream.BaseURL != "" {
		u, err := url.Parse(cfg.Upstream.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("upstream.baseUrl", "must be an absolute http(s) URL")
		}
	}
	if cfg.Upstream.RPS <= 0 {
		add("upstream.rps", "must be positive")
	}
	if cfg.Tracing.Enabled {
		switch cfg.Tracing.Exporter {
		case "grpc", "http":
		default:
			add("tracing.exporter", "must be grpc or http, got %q", cfg.Tracing.Exporter)
		}
		if cfg.Tracing.SamplingRate < 0 || cfg.Tracing.SamplingRate > 1 {
			add("tracing.samplingRate", "must be in [0, 1]")
		}
	}

	return errors.Join(errs...)
}
