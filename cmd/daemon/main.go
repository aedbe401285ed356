// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Command tune2hls serves music playlists as HLS video streams.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ManuGH/tune2hls/internal/config"
	"github.com/ManuGH/tune2hls/internal/daemon"
	xglog "github.com/ManuGH/tune2hls/internal/log"
	"github.com/ManuGH/tune2hls/internal/version"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

// options are the flags shared by every subcommand.
type options struct {
	configPath string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "tune2hls",
		Short:         "Serve music playlists as HLS video streams",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config file (YAML)")

	root.AddCommand(
		newServeCmd(opts),
		newVersionCmd(),
		newCacheCmd(opts),
		newTokenCmd(opts),
		newStorageCmd(opts),
		newHealthcheckCmd(opts),
	)
	return root
}

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}

// loadConfig resolves the config with precedence ENV > file > defaults.
// Without --config, <dataDir>/config.yaml is used when present.
func loadConfig(opts *options) (config.AppConfig, string, error) {
	path := strings.TrimSpace(opts.configPath)
	if path == "" {
		dataDir := config.ParseString(config.EnvPrefix+"DATA_DIR", config.Defaults().DataDir)
		auto := filepath.Join(dataDir, "config.yaml")
		if _, err := os.Stat(auto); err == nil {
			path = auto
		}
	}
	cfg, err := config.NewLoader(path).Load()
	return cfg, path, err
}

func runServe(ctx context.Context, opts *options) error {
	xglog.Configure(xglog.Config{Level: "info", Service: "tune2hls", Version: version.Version})
	logger := xglog.WithComponent("daemon")

	cfg, path, err := loadConfig(opts)
	if err != nil {
		logger.Error().Err(err).Str("event", "config.load_failed").Str("config_path", path).Msg("failed to load configuration")
		return err
	}
	xglog.Configure(xglog.Config{Level: cfg.LogLevel, Service: "tune2hls", Version: version.Version})
	logger = xglog.WithComponent("daemon")
	if path != "" {
		logger.Info().Str("event", "config.loaded").Str("source", "file").Str("path", path).Msg("loaded configuration")
	} else {
		logger.Info().Str("event", "config.loaded").Str("source", "env+defaults").Msg("loaded configuration")
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := daemon.SignalContext(ctx)
	defer stop()

	app, err := daemon.Build(ctx, cfg, daemon.BuildInfo{
		Version: version.Version,
		Commit:  version.Commit,
		Date:    version.Date,
	})
	if err != nil {
		logger.Error().Err(err).Str("event", "startup.failed").Msg("failed to start")
		return err
	}
	logger.Info().
		Str("event", "startup").
		Str("version", version.Version).
		Str("addr", cfg.Listen).
		Msg("starting tune2hls")
	return app.Run(ctx)
}
