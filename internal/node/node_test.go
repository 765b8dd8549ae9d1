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

package node

import (
	"io"
	"log/slog"
	"testing"

	wallet "github.com/NEILBATCHELOR/wallet-sub001"
	"github.com/NEILBATCHELOR/wallet-sub001/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceOptionsBuildValidService(t *testing.T) {
	cfg := &config.Config{
		StorageBackend:  "memory",
		BindAddr:        "127.0.0.1",
		PollInterval:    "15s",
		ShutdownTimeout: "30s",
		Networks: map[string]config.NetworkConfig{
			"polygon": {Disabled: true},
		},
	}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	opts, err := ServiceOptions(cfg, logger)
	require.NoError(t, err)
	svc, err := wallet.New(wallet.NewConfig(opts...))
	require.NoError(t, err)
	require.NotNil(t, svc)
	// never started, so there is nothing to release
	require.NoError(t, svc.Stop())
}

func TestServiceOptionsRejectsBadNetwork(t *testing.T) {
	cfg := &config.Config{
		StorageBackend: "memory",
		Networks: map[string]config.NetworkConfig{
			"mychain": {RPCEndpoint: "http://localhost"},
		},
	}
	_, err := ServiceOptions(cfg, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	assert.ErrorIs(t, err, config.ErrUnknownNetwork)
}

func TestRedacted(t *testing.T) {
	cfg := &config.Config{VaultToken: "secret"}
	assert.Equal(t, "<redacted>", redacted(cfg).VaultToken)
	assert.Equal(t, "secret", cfg.VaultToken)
}
