// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package config loads the tune2hls runtime configuration.
//
// Values are resolved with precedence ENV > YAML file > defaults. All
// environment variables carry the TUNE2HLS_ prefix except LOG_LEVEL.
package config

import (
	"path/filepath"
	"time"
)

// EnvPrefix is prepended to every configuration environment variable.
const EnvPrefix = "TUNE2HLS_"

// AppConfig is the fully resolved configuration.
type AppConfig struct {
	Listen        string `yaml:"listen"`
	PublicBaseURL string `yaml:"publicBaseUrl"`
	DataDir       string `yaml:"dataDir"`
	LogLevel      string `yaml:"logLevel"`

	Jobs      JobsConfig      `yaml:"jobs"`
	Download  DownloadConfig  `yaml:"download"`
	Encoder   EncoderConfig   `yaml:"encoder"`
	Cache     CacheConfig     `yaml:"cache"`
	Prefetch  PrefetchConfig  `yaml:"prefetch"`
	Auth      AuthConfig      `yaml:"auth"`
	Redis     RedisConfig     `yaml:"redis"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Playlog   PlaylogConfig   `yaml:"playlog"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// JobsConfig bounds concurrent transcode work.
type JobsConfig struct {
	MaxConcurrent int `yaml:"maxConcurrent"`
	MaxQueue      int `yaml:"maxQueue"`
}

// DownloadConfig limits source media downloads.
type DownloadConfig struct {
	Timeout  time.Duration `yaml:"timeout"`
	MaxBytes int64         `yaml:"maxBytes"`
	// AllowedHosts holds exact hosts or "*.suffix" patterns. When empty the
	// upstream API host and its subdomains are allowed.
	AllowedHosts []string `yaml:"allowedHosts"`
}

// EncoderConfig controls ffmpeg invocation and output geometry.
type EncoderConfig struct {
	FFmpegPath      string        `yaml:"ffmpegPath"`
	Timeout         time.Duration `yaml:"timeout"`
	Threads         int           `yaml:"threads"`
	SegmentDuration int           `yaml:"segmentDuration"`
	Width           int           `yaml:"width"`
	Height          int           `yaml:"height"`
	FPS             int           `yaml:"fps"`
}

// CacheConfig controls the on-disk segment cache.
type CacheConfig struct {
	Dir             string        `yaml:"dir"`
	MaxAge          time.Duration `yaml:"maxAge"`
	MaxBytes        int64         `yaml:"maxBytes"`
	CleanupInterval time.Duration `yaml:"cleanupInterval"`
	TargetRatio     float64       `yaml:"targetRatio"`
	ManifestEntries int           `yaml:"manifestEntries"`
}

// PrefetchConfig controls speculative cache warm-up.
type PrefetchConfig struct {
	AutoPreloadCount int `yaml:"autoPreloadCount"`
	LookaheadCount   int `yaml:"lookaheadCount"`
	PreloadMax       int `yaml:"preloadMax"`
}

// AuthConfig holds the admin key and the credential sealing key.
type AuthConfig struct {
	AdminKey string `yaml:"adminKey"`
	// CredentialKey is a hex encoded AES-128/192/256 key.
	CredentialKey string `yaml:"credentialKey"`
}

// RedisConfig selects the token store. An empty Addr uses the in-memory store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// UpstreamConfig points at the music metadata API.
type UpstreamConfig struct {
	BaseURL     string        `yaml:"baseUrl"`
	Timeout     time.Duration `yaml:"timeout"`
	RPS         float64       `yaml:"rps"`
	PlaylistTTL time.Duration `yaml:"playlistTtl"`
}

// PlaylogConfig controls the play-event sink. An empty Path disables it.
type PlaylogConfig struct {
	Path string `yaml:"path"`
}

// RateLimitConfig limits public requests per client IP. Zero disables it.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requestsPerMinute"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"` // grpc or http
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
}

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		Listen:   ":8080",
		DataDir:  "/var/lib/tune2hls",
		LogLevel: "info",
		Jobs: JobsConfig{
			MaxConcurrent: 2,
			MaxQueue:      10,
		},
		Download: DownloadConfig{
			Timeout:  60 * time.Second,
			MaxBytes: 100 << 20,
		},
		Encoder: EncoderConfig{
			FFmpegPath:      "ffmpeg",
			Timeout:         5 * time.Minute,
			Threads:         2,
			SegmentDuration: 10,
			Width:           1280,
			Height:          720,
			FPS:             1,
		},
		Cache: CacheConfig{
			MaxAge:          7 * 24 * time.Hour,
			MaxBytes:        5 << 30,
			CleanupInterval: time.Hour,
			TargetRatio:     0.8,
			ManifestEntries: 500,
		},
		Prefetch: PrefetchConfig{
			AutoPreloadCount: 3,
			LookaheadCount:   2,
			PreloadMax:       10,
		},
		Upstream: UpstreamConfig{
			Timeout:     15 * time.Second,
			RPS:         10,
			PlaylistTTL: time.Minute,
		},
		RateLimit: RateLimitConfig{RequestsPerMinute: 600},
		Tracing: TracingConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
	}
}

// CacheDir returns the segment cache root, defaulting to <dataDir>/cache.
func (c AppConfig) CacheDir() string {
	if c.Cache.Dir != "" {
		return c.Cache.Dir
	}
	return filepath.Join(c.DataDir, "cache")
}
