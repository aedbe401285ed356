// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ManuGH/tune2hls/internal/persistence/sqlite"
)

func newStorageCmd(opts *options) *cobra.Command {
	var (
		path string
		mode string
	)
	verify := &cobra.Command{
		Use:   "verify",
		Short: "Check the integrity of the play log database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mode = strings.ToLower(strings.TrimSpace(mode))
			if mode != "quick" && mode != "full" {
				return fmt.Errorf("invalid mode %q, use quick or full", mode)
			}
			if path == "" {
				cfg, _, err := loadConfig(opts)
				if err != nil {
					return err
				}
				path = cfg.Playlog.Path
			}
			if path == "" {
				return errors.New("no play log configured, pass --path")
			}
			if _, err := os.Stat(path); err != nil {
				return err
			}

			db, err := sqlite.Open(path, sqlite.DefaultConfig())
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			issues, err := sqlite.CheckIntegrity(cmd.Context(), db, mode == "full")
			if err != nil {
				return fmt.Errorf("verification interrupted: %w", err)
			}
			if len(issues) > 0 {
				for _, issue := range issues {
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "  - %s\n", issue)
				}
				return fmt.Errorf("%s: corruption detected", path)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%s)\n", path, mode)
			return nil
		},
	}
	verify.Flags().StringVar(&path, "path", "", "path to the SQLite database (defaults to the configured play log)")
	verify.Flags().StringVar(&mode, "mode", "quick", "verification mode: quick or full")

	cmd := &cobra.Command{Use: "storage", Short: "Maintain local databases"}
	cmd.AddCommand(verify)
	return cmd
}
