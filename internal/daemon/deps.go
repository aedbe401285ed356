// SPDX-License-Identifier: MIT

package daemon

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/tune2hls/internal/config"
	"github.com/ManuGH/tune2hls/internal/housekeeping"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	ListenAddr      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	MaxHeaderBytes  int
	ShutdownTimeout time.Duration
}

// ServerConfigFor derives listener settings from the application config.
// A segment request may wait for a full generation, so the write timeout
// covers the download and encoder budgets.
func ServerConfigFor(cfg config.AppConfig) ServerConfig {
	return ServerConfig{
		ListenAddr:      cfg.Listen,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    cfg.Download.Timeout + cfg.Encoder.Timeout + 30*time.Second,
		IdleTimeout:     120 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: 30 * time.Second,
	}
}

// housekeepingConfigFor derives the cleanup schedule. An attempt directory
// lives through the downloads and the encode, so only twice that span marks
// it abandoned.
func housekeepingConfigFor(cfg config.AppConfig) housekeeping.Config {
	return housekeeping.Config{
		SweepInterval: cfg.Cache.CleanupInterval,
		TempMaxAge:    2 * (cfg.Download.Timeout + cfg.Encoder.Timeout),
	}
}

// Deps contains dependencies required by the daemon Manager.
type Deps struct {
	// Logger is the structured logger for the daemon
	Logger zerolog.Logger

	// APIHandler is the HTTP handler for the API server
	APIHandler http.Handler
}

// Validate checks if the dependencies are valid.
func (d *Deps) Validate() error {
	if d.Logger.GetLevel() == zerolog.Disabled {
		return ErrMissingLogger
	}
	if d.APIHandler == nil {
		return ErrMissingAPIHandler
	}
	return nil
}
