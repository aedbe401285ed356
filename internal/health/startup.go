// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package health

import (
	"context"
	"fmt"
	"os"

	"github.com/ManuGH/tune2hls/internal/config"
	"github.com/ManuGH/tune2hls/internal/log"
)

// PerformStartupChecks fails fast when the data directories cannot be
// written. A missing encoder binary is only warned about: readiness reports
// it, and cached segments can still be served.
func PerformStartupChecks(ctx context.Context, cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")

	for _, dir := range []string{cfg.DataDir, cfg.CacheDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
		if err := checkWritable(dir); err != nil {
			return fmt.Errorf("directory %s not writable: %w", dir, err)
		}
	}

	if res := NewBinaryChecker("ffmpeg", cfg.Encoder.FFmpegPath).Check(ctx); res.Status != StatusHealthy {
		logger.Warn().Str("path", cfg.Encoder.FFmpegPath).Str("error", res.Error).Msg("encoder binary not found, generation will fail")
	}
	logger.Info().Str("data_dir", cfg.DataDir).Msg("startup checks passed")
	return nil
}
