// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/NEILBATCHELOR/wallet-sub001/internal/config"
	"github.com/NEILBATCHELOR/wallet-sub001/vaultclient"
	"github.com/spf13/cobra"
)

func dialVault(ctx context.Context, cfg *config.Config) (*vaultclient.Client, error) {
	opts := []vaultclient.ClientOptionFunc{
		vaultclient.WithLogger(slog.Default()),
	}
	if cfg.VaultToken != "" {
		opts = append(opts, vaultclient.WithToken(cfg.VaultToken))
	}
	return vaultclient.Dial(ctx, cfg.VaultURL(), opts...)
}

// vaultRun dials the vault host, runs fn and prints its result as JSON
func vaultRun(cmd *cobra.Command, fn func(context.Context, *vaultclient.Client) (any, error)) {
	ctx := cmd.Context()
	c, err := dialVault(ctx, configFromCommand(cmd))
	if err != nil {
		slog.Error(fmt.Sprintf("failed to connect to vault: %s", err))
		os.Exit(1)
	}
	result, err := fn(ctx, c)
	_ = c.Close()
	if err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
	if result == nil {
		return
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func vaultCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Inspect a running vault host",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show the vault state",
			Run: func(cmd *cobra.Command, args []string) {
				vaultRun(cmd, func(ctx context.Context, c *vaultclient.Client) (any, error) {
					return c.GetStatus(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "keys",
			Short: "List key metadata",
			Run: func(cmd *cobra.Command, args []string) {
				vaultRun(cmd, func(ctx context.Context, c *vaultclient.Client) (any, error) {
					return c.GetKeys(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "lock",
			Short: "Lock the vault",
			Run: func(cmd *cobra.Command, args []string) {
				vaultRun(cmd, func(ctx context.Context, c *vaultclient.Client) (any, error) {
					return nil, c.Lock(ctx)
				})
			},
		},
	)
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent audit entries",
	}
	limit := auditCmd.Flags().IntP("limit", "n", 50, "number of entries to show, 0 for all")
	auditCmd.Run = func(cmd *cobra.Command, args []string) {
		vaultRun(cmd, func(ctx context.Context, c *vaultclient.Client) (any, error) {
			return c.GetAuditLog(ctx, *limit)
		})
	}
	cmd.AddCommand(auditCmd)
	return cmd
}
