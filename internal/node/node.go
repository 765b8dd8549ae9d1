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
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	wallet "github.com/NEILBATCHELOR/wallet-sub001"
	"github.com/NEILBATCHELOR/wallet-sub001/internal/config"
	"github.com/prometheus/client_golang/prometheus"
)

// ServiceOptions translates the loaded config into service options
func ServiceOptions(cfg *config.Config, logger *slog.Logger) ([]wallet.ConfigOptionFunc, error) {
	networks, err := cfg.NetworkInfos()
	if err != nil {
		return nil, err
	}
	return []wallet.ConfigOptionFunc{
		wallet.WithLogger(logger),
		wallet.WithDatabasePath(cfg.DatabasePath),
		wallet.WithStorageBackend(cfg.StorageBackend),
		wallet.WithNetworks(networks...),
		wallet.WithBindAddr(cfg.BindAddr),
		wallet.WithMetricsPort(cfg.MetricsPort),
		wallet.WithVaultPort(cfg.VaultPort),
		wallet.WithVaultToken(cfg.VaultToken),
		wallet.WithSessionTimeout(cfg.SessionTimeoutDuration()),
		wallet.WithAuditLimit(cfg.AuditLimit),
		wallet.WithBackupLocation(cfg.BackupLocation),
		wallet.WithBackupSops(cfg.BackupSops),
		wallet.WithPollInterval(cfg.PollIntervalDuration()),
		wallet.WithShutdownTimeout(cfg.ShutdownTimeoutDuration()),
		wallet.WithTracing(cfg.TracingEnabled),
		wallet.WithTracingStdout(cfg.TracingStdout),
		// Enable metrics with default prometheus registry
		wallet.WithPrometheusRegistry(prometheus.DefaultRegisterer),
	}, nil
}

// Run starts the service and blocks until SIGINT or SIGTERM
func Run(cfg *config.Config, logger *slog.Logger) error {
	logger.Debug(fmt.Sprintf("config: %+v", redacted(cfg)), "component", "node")
	opts, err := ServiceOptions(cfg, logger)
	if err != nil {
		return err
	}
	svc, err := wallet.New(wallet.NewConfig(opts...))
	if err != nil {
		return err
	}
	signalCtx, signalCtxStop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer signalCtxStop()
	if err := svc.Start(signalCtx); err != nil {
		logger.Error("service error", "error", err, "component", "node")
		return err
	}
	<-signalCtx.Done()
	logger.Info("signal received, initiating graceful shutdown", "component", "node")
	if err := svc.Stop(); err != nil {
		logger.Error("shutdown errors occurred", "error", err, "component", "node")
		return err
	}
	logger.Info("shutdown complete", "component", "node")
	return nil
}

// redacted returns a copy of the config that is safe to log
func redacted(cfg *config.Config) config.Config {
	ret := *cfg
	if ret.VaultToken != "" {
		ret.VaultToken = "<redacted>"
	}
	return ret
}
