// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/ManuGH/tune2hls/internal/auth"
)

func newTokenCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage playback tokens in the shared token store",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "issue TOKEN CREDENTIAL",
		Short: "Store the upstream credential for a playback token",
		Long: `Seals CREDENTIAL with the configured credential key and stores it in
Redis under TOKEN. Requires a Redis address, since the in-memory store
lives only inside the daemon process.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if cfg.Redis.Addr == "" {
				return errors.New("token issue requires a redis address")
			}
			var sealer *auth.Sealer
			if cfg.Auth.CredentialKey != "" {
				if sealer, err = auth.NewSealer(cfg.Auth.CredentialKey); err != nil {
					return fmt.Errorf("credential key: %w", err)
				}
			}
			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			defer func() { _ = rdb.Close() }()

			resolver := auth.NewResolver(auth.NewRedisTokenStore(rdb, "tune2hls:token:"), sealer)
			if err := resolver.Issue(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "token stored")
			return nil
		},
	})
	return cmd
}
