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

package wallet

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/NEILBATCHELOR/wallet-sub001/database"
	"github.com/NEILBATCHELOR/wallet-sub001/network"
	"github.com/NEILBATCHELOR/wallet-sub001/vault"
	"github.com/prometheus/client_golang/prometheus"
)

type Config struct {
	promRegistry    prometheus.Registerer
	logger          *slog.Logger
	vaultListener   net.Listener
	hardware        vault.Hardware
	dataDir         string
	storageBackend  string
	bindAddr        string
	vaultToken      string
	backupLocation  string
	networks        []network.Info
	metricsPort     uint
	vaultPort       uint
	auditLimit      int
	sessionTimeout  time.Duration
	pollInterval    time.Duration
	autoLock        time.Duration
	shutdownTimeout time.Duration
	backupSops      bool
	tracing         bool
	tracingStdout   bool
}

// ConfigOptionFunc is a type that represents functions that modify the
// service config
type ConfigOptionFunc func(*Config)

// NewConfig creates a new service config with the specified options
func NewConfig(opts ...ConfigOptionFunc) Config {
	c := Config{
		logger:         slog.New(slog.NewJSONHandler(io.Discard, nil)),
		storageBackend: database.DefaultBackend,
		bindAddr:       "127.0.0.1",
		autoLock:       vault.DefaultAutoLockInterval,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func (c *Config) validate() error {
	if c.logger == nil {
		return errors.New("logger must not be nil")
	}
	if !database.HasBackend(c.storageBackend) {
		return fmt.Errorf("unknown storage backend: %s", c.storageBackend)
	}
	if c.backupSops && c.backupLocation == "" {
		return errors.New("sops backups need a backup location")
	}
	seen := make(map[string]struct{}, len(c.networks))
	for _, info := range c.networks {
		if err := info.Validate(); err != nil {
			return fmt.Errorf("network %s: %w", info.ID, err)
		}
		if _, ok := seen[info.ID]; ok {
			return fmt.Errorf("network %s defined twice", info.ID)
		}
		seen[info.ID] = struct{}{}
	}
	return nil
}

// WithLogger specifies the logger to use
func WithLogger(logger *slog.Logger) ConfigOptionFunc {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithPrometheusRegistry specifies a prometheus.Registerer instance to add
// metrics to
func WithPrometheusRegistry(registry prometheus.Registerer) ConfigOptionFunc {
	return func(c *Config) {
		c.promRegistry = registry
	}
}

// WithDatabasePath specifies the persistent data directory. An empty path
// keeps everything in memory.
func WithDatabasePath(dataDir string) ConfigOptionFunc {
	return func(c *Config) {
		c.dataDir = dataDir
	}
}

// WithStorageBackend selects the storage plugin
func WithStorageBackend(name string) ConfigOptionFunc {
	return func(c *Config) {
		c.storageBackend = name
	}
}

// WithNetworks replaces the built-in network list
func WithNetworks(networks ...network.Info) ConfigOptionFunc {
	return func(c *Config) {
		c.networks = networks
	}
}

// WithBindAddr specifies the address the metrics and vault listeners bind to
func WithBindAddr(addr string) ConfigOptionFunc {
	return func(c *Config) {
		c.bindAddr = addr
	}
}

// WithMetricsPort serves /metrics on the port. Zero disables it.
func WithMetricsPort(port uint) ConfigOptionFunc {
	return func(c *Config) {
		c.metricsPort = port
	}
}

// WithVaultPort serves the vault host on the port. Zero disables it unless
// a listener is provided.
func WithVaultPort(port uint) ConfigOptionFunc {
	return func(c *Config) {
		c.vaultPort = port
	}
}

// WithVaultListener serves the vault host on an existing listener
func WithVaultListener(listener net.Listener) ConfigOptionFunc {
	return func(c *Config) {
		c.vaultListener = listener
	}
}

// WithVaultToken requires clients of the vault host to present the token
func WithVaultToken(token string) ConfigOptionFunc {
	return func(c *Config) {
		c.vaultToken = token
	}
}

// WithSessionTimeout overrides the per-level vault session timeout
func WithSessionTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.sessionTimeout = timeout
	}
}

// WithAutoLockInterval sets how often session expiry is checked
func WithAutoLockInterval(interval time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.autoLock = interval
	}
}

// WithAuditLimit bounds the in-memory audit log
func WithAuditLimit(limit int) ConfigOptionFunc {
	return func(c *Config) {
		c.auditLimit = limit
	}
}

// WithHardware specifies the hardware collaborator for the vault
func WithHardware(hw vault.Hardware) ConfigOptionFunc {
	return func(c *Config) {
		c.hardware = hw
	}
}

// WithBackupLocation specifies where key backups are written
func WithBackupLocation(location string) ConfigOptionFunc {
	return func(c *Config) {
		c.backupLocation = location
	}
}

// WithBackupSops wraps backups in a sops envelope using the KMS keys from
// the environment
func WithBackupSops(enabled bool) ConfigOptionFunc {
	return func(c *Config) {
		c.backupSops = enabled
	}
}

// WithPollInterval sets how often broadcast proposals are polled. Zero
// disables polling.
func WithPollInterval(interval time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.pollInterval = interval
	}
}

// WithTracing enables tracing. Spans go to an OTLP HTTP endpoint configured
// through the OTEL_EXPORTER_OTLP_* env vars of
// [go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp]
func WithTracing(tracing bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracing = tracing
	}
}

// WithTracingStdout writes spans to stdout instead. Tracing must also be
// enabled.
func WithTracingStdout(stdout bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracingStdout = stdout
	}
}

// WithShutdownTimeout bounds graceful shutdown, 30 seconds when unset
func WithShutdownTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.shutdownTimeout = timeout
	}
}
