// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ManuGH/tune2hls/internal/config"
	"github.com/ManuGH/tune2hls/internal/segstore"
)

func newCacheCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the segment cache on disk",
		Long: `Operates on the cache directory directly. A running daemon is not
consulted, so purging here may remove a track that is being generated;
prefer DELETE /admin/cache against a live server.`,
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "stats",
			Short: "Print cache usage as JSON",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				store, err := openStore(opts)
				if err != nil {
					return err
				}
				defer store.Close()
				stats, err := store.Stats(cmd.Context())
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			},
		},
		&cobra.Command{
			Use:   "sweep",
			Short: "Evict expired tracks and enforce the size limit",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				store, err := openStore(opts)
				if err != nil {
					return err
				}
				defer store.Close()
				res, err := store.Sweep(cmd.Context())
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "scanned %d, removed %d expired and %d over size\n",
					res.Scanned, res.RemovedAge, res.RemovedSize)
				return nil
			},
		},
		&cobra.Command{
			Use:   "purge",
			Short: "Remove every cached track",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				store, err := openStore(opts)
				if err != nil {
					return err
				}
				defer store.Close()
				removed, err := store.Purge()
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "removed %d tracks\n", removed)
				return err
			},
		},
	)
	return cmd
}

func openStore(opts *options) (*segstore.Store, error) {
	cfg, _, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	return storeFor(cfg)
}

func storeFor(cfg config.AppConfig) (*segstore.Store, error) {
	return segstore.New(segstore.Config{
		Root:        cfg.CacheDir(),
		Width:       cfg.Encoder.Width,
		Height:      cfg.Encoder.Height,
		MaxAge:      cfg.Cache.MaxAge,
		MaxBytes:    cfg.Cache.MaxBytes,
		TargetRatio: cfg.Cache.TargetRatio,
		MemoEntries: cfg.Cache.ManifestEntries,
	}, nil, zerolog.Nop())
}
