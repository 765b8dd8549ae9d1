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
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/NEILBATCHELOR/wallet-sub001/internal/config"
	"github.com/NEILBATCHELOR/wallet-sub001/registry"
	"github.com/spf13/cobra"
)

func newRegistry(cfg *config.Config) (*registry.Registry, error) {
	infos, err := cfg.NetworkInfos()
	if err != nil {
		return nil, err
	}
	var opts []registry.OptionFunc
	for family, factory := range registry.DefaultFactories() {
		opts = append(opts, registry.WithFactory(family, factory))
	}
	r := registry.New(opts...)
	for _, info := range infos {
		if err := r.Register(info); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func addressRun(ctx context.Context, cfg *config.Config, args []string) error {
	threshold, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid threshold %q: %w", args[1], err)
	}
	r, err := newRegistry(cfg)
	if err != nil {
		return err
	}
	defer r.Close()
	a, err := r.Adapter(ctx, args[0])
	if err != nil {
		return err
	}
	address, err := a.GenerateMultiSigAddress(ctx, args[2:], threshold)
	if err != nil {
		return err
	}
	fmt.Println(address)
	return nil
}

func addressCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "address <network> <threshold> <owner>...",
		Short: "Derive the multisig address for a set of owners",
		Args:  cobra.MinimumNArgs(3),
		Run: func(cmd *cobra.Command, args []string) {
			if err := addressRun(cmd.Context(), configFromCommand(cmd), args); err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
		},
	}
}
