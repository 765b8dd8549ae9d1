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

// Package database opens the storage backend that holds proposals and the
// key vault.
package database

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/NEILBATCHELOR/wallet-sub001/database/plugin"
	"github.com/NEILBATCHELOR/wallet-sub001/proposal"
	"github.com/NEILBATCHELOR/wallet-sub001/vault"
	"github.com/prometheus/client_golang/prometheus"

	// Register storage plugins
	_ "github.com/NEILBATCHELOR/wallet-sub001/database/plugin/badger"
	_ "github.com/NEILBATCHELOR/wallet-sub001/database/plugin/sqlite"
)

const (
	DefaultBackend = "sqlite"
	MemoryBackend  = "memory"
)

var ErrClosed = errors.New("database is closed")

// Config selects and configures the storage backend
type Config struct {
	Backend      string
	DataDir      string
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
}

// Database is an open storage backend
type Database struct {
	backend plugin.Backend
	logger  *slog.Logger
	name    string
	closed  bool
}

// New opens the configured backend. An empty backend name selects
// DefaultBackend, and an empty data dir gives a non-persistent store.
func New(cfg *Config) (*Database, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	name := cfg.Backend
	if name == "" {
		name = DefaultBackend
	}
	backend, err := plugin.New(name, plugin.Options{
		DataDir:      cfg.DataDir,
		Logger:       logger,
		PromRegistry: cfg.PromRegistry,
	})
	if err != nil {
		return nil, err
	}
	logger.Debug(
		"opened storage backend",
		"component", "database",
		"backend", name,
		"data_dir", cfg.DataDir,
	)
	return &Database{
		backend: backend,
		logger:  logger,
		name:    name,
	}, nil
}

// HasBackend reports whether a storage backend is registered under name
func HasBackend(name string) bool {
	_, ok := plugin.GetPlugin(name)
	return ok
}

// Backend returns the name of the backend in use
func (d *Database) Backend() string {
	return d.name
}

// Proposals returns the proposal store
func (d *Database) Proposals() proposal.Store {
	return d.backend
}

// Vault returns the vault store
func (d *Database) Vault() vault.Store {
	return d.backend
}

func (d *Database) Close() error {
	if d.closed {
		return ErrClosed
	}
	d.closed = true
	if err := d.backend.Close(); err != nil {
		return fmt.Errorf("close %s backend: %w", d.name, err)
	}
	return nil
}
