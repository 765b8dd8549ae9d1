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

// Package wallet assembles the multisig coordination service: the network
// adapters, the proposal coordinator, the key vault and the listeners that
// expose them.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/NEILBATCHELOR/wallet-sub001/backup"
	"github.com/NEILBATCHELOR/wallet-sub001/database"
	"github.com/NEILBATCHELOR/wallet-sub001/event"
	"github.com/NEILBATCHELOR/wallet-sub001/network"
	"github.com/NEILBATCHELOR/wallet-sub001/proposal"
	"github.com/NEILBATCHELOR/wallet-sub001/registry"
	"github.com/NEILBATCHELOR/wallet-sub001/vault"
	"github.com/NEILBATCHELOR/wallet-sub001/vaultclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const (
	VaultPath   = "/vault"
	MetricsPath = "/metrics"

	defaultShutdownTimeout = 30 * time.Second
)

var (
	ErrAlreadyStarted = errors.New("service already started")
	ErrStopped        = errors.New("service stopped")
)

type Service struct {
	config         Config
	eventBus       *event.Bus
	db             *database.Database
	registry       *registry.Registry
	coordinator    *proposal.Coordinator
	vault          *vault.Vault
	backupSink     backup.Sink
	tracerProvider *sdktrace.TracerProvider
	servers        []*http.Server
	vaultAddr      net.Addr
	shutdownFuncs  []func(context.Context) error
	serveWg        sync.WaitGroup
	done           chan struct{}
	startMu        sync.Mutex
	started        bool
	stopped        bool
	shutdownOnce   sync.Once
}

func New(cfg Config) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	cfg.logger = cfg.logger.With("component", "wallet")
	s := &Service{
		config:   cfg,
		eventBus: event.NewBus(cfg.promRegistry, cfg.logger),
		done:     make(chan struct{}),
	}
	return s, nil
}

// Run starts the service and blocks until Stop is called
func (s *Service) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-s.done
	return nil
}

// Start opens storage, builds the components and starts the listeners
// without blocking. A failed start releases what was already opened.
func (s *Service) Start(ctx context.Context) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true
	if err := s.start(ctx); err != nil {
		return errors.Join(err, s.stop())
	}
	s.config.logger.Info(
		"service started",
		"networks", len(s.registry.Networks()),
		"storage", s.db.Backend(),
	)
	return nil
}

func (s *Service) start(ctx context.Context) error {
	logger := s.config.logger
	if s.config.tracing {
		if err := s.setupTracing(); err != nil {
			return err
		}
	}
	// Storage
	db, err := database.New(&database.Config{
		Backend:      s.config.storageBackend,
		DataDir:      s.config.dataDir,
		Logger:       logger,
		PromRegistry: s.config.promRegistry,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	s.db = db
	// Networks
	if err := s.loadRegistry(); err != nil {
		return err
	}
	// Backups
	if s.config.backupLocation != "" {
		sink, err := backup.Open(ctx, s.config.backupLocation, logger)
		if err != nil {
			return fmt.Errorf("failed to open backup location: %w", err)
		}
		s.backupSink = sink
		if s.config.backupSops {
			sopsSink, err := backup.NewSopsSink(sink, backup.KMSKeysFromEnv())
			if err != nil {
				return fmt.Errorf("failed to configure sops backups: %w", err)
			}
			s.backupSink = sopsSink
		}
	}
	// Vault
	vaultOpts := []vault.OptionFunc{
		vault.WithStore(s.db.Vault()),
		vault.WithLogger(logger),
		vault.WithEventBus(s.eventBus),
		vault.WithSessionTimeout(s.config.sessionTimeout),
		vault.WithAuditLimit(s.config.auditLimit),
	}
	if s.config.promRegistry != nil {
		vaultOpts = append(vaultOpts, vault.WithPromRegistry(s.config.promRegistry))
	}
	if s.config.hardware != nil {
		vaultOpts = append(vaultOpts, vault.WithHardware(s.config.hardware))
	}
	if s.backupSink != nil {
		vaultOpts = append(vaultOpts, vault.WithBackupSink(s.backupSink))
	}
	v, err := vault.New(ctx, vaultOpts...)
	if err != nil {
		return fmt.Errorf("failed to open vault: %w", err)
	}
	s.vault = v
	if err := s.vault.StartAutoLock(context.Background(), s.config.autoLock); err != nil {
		return fmt.Errorf("failed to start vault auto-lock: %w", err)
	}
	// Proposals
	coordOpts := []proposal.OptionFunc{
		proposal.WithStore(s.db.Proposals()),
		proposal.WithEventBus(s.eventBus),
		proposal.WithLogger(logger),
		proposal.WithTracerProvider(s.TracerProvider()),
	}
	if s.config.promRegistry != nil {
		coordOpts = append(coordOpts, proposal.WithPromRegistry(s.config.promRegistry))
	}
	s.coordinator = proposal.NewCoordinator(s.registry, coordOpts...)
	if s.config.pollInterval > 0 {
		if err := s.coordinator.StartPolling(context.Background(), s.config.pollInterval); err != nil {
			return err
		}
	}
	// Listeners
	if err := s.startVaultHost(); err != nil {
		return err
	}
	return s.startMetrics()
}

func (s *Service) loadRegistry() error {
	var opts []registry.OptionFunc
	for family, factory := range registry.DefaultFactories() {
		opts = append(opts, registry.WithFactory(family, factory))
	}
	opts = append(opts, registry.WithLogger(s.config.logger))
	s.registry = registry.New(opts...)
	infos := s.config.networks
	if len(infos) == 0 {
		for _, id := range network.KnownIDs() {
			info, _ := network.Known(id)
			infos = append(infos, info)
		}
	}
	for _, info := range infos {
		if err := s.registry.Register(info); err != nil {
			return fmt.Errorf("failed to register network %s: %w", info.ID, err)
		}
	}
	return nil
}

func (s *Service) listen(listener net.Listener, port uint) (net.Listener, error) {
	if listener != nil {
		return listener, nil
	}
	return net.Listen(
		"tcp",
		net.JoinHostPort(s.config.bindAddr, strconv.FormatUint(uint64(port), 10)),
	)
}

func (s *Service) serve(name string, listener net.Listener, handler http.Handler) {
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 60 * time.Second,
	}
	s.servers = append(s.servers, server)
	s.serveWg.Add(1)
	go func() {
		defer s.serveWg.Done()
		err := server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.config.logger.Error(
				name+" listener failed",
				"error", err,
			)
		}
	}()
	s.config.logger.Info(
		"listening",
		"listener", name,
		"address", listener.Addr().String(),
	)
}

func (s *Service) startVaultHost() error {
	if s.config.vaultListener == nil && s.config.vaultPort == 0 {
		return nil
	}
	listener, err := s.listen(s.config.vaultListener, s.config.vaultPort)
	if err != nil {
		return fmt.Errorf("failed to listen for vault clients: %w", err)
	}
	hostOpts := []vaultclient.HostOptionFunc{
		vaultclient.WithHostLogger(s.config.logger),
		vaultclient.WithHostToken(s.config.vaultToken),
	}
	if s.config.promRegistry != nil {
		hostOpts = append(hostOpts, vaultclient.WithHostPromRegistry(s.config.promRegistry))
	}
	mux := http.NewServeMux()
	mux.Handle(VaultPath, vaultclient.NewHost(s.vault, hostOpts...))
	s.vaultAddr = listener.Addr()
	s.serve("vault", listener, mux)
	return nil
}

func (s *Service) startMetrics() error {
	if s.config.metricsPort == 0 {
		return nil
	}
	listener, err := s.listen(nil, s.config.metricsPort)
	if err != nil {
		return fmt.Errorf("failed to listen for metrics: %w", err)
	}
	handler := promhttp.Handler()
	if gatherer, ok := s.config.promRegistry.(prometheus.Gatherer); ok {
		handler = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}
	mux := http.NewServeMux()
	mux.Handle(MetricsPath, handler)
	s.serve("metrics", listener, mux)
	return nil
}

// VaultAddr returns the address of the vault host, nil when disabled
func (s *Service) VaultAddr() net.Addr {
	return s.vaultAddr
}

func (s *Service) Coordinator() *proposal.Coordinator {
	return s.coordinator
}

func (s *Service) Vault() *vault.Vault {
	return s.vault
}

func (s *Service) Registry() *registry.Registry {
	return s.registry
}

func (s *Service) EventBus() *event.Bus {
	return s.eventBus
}

// Stop shuts the service down. It is safe to call more than once.
func (s *Service) Stop() error {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	return s.stop()
}

func (s *Service) stop() error {
	var err error
	s.stopped = true
	s.shutdownOnce.Do(func() {
		err = s.shutdown()
	})
	return err
}

func (s *Service) shutdown() error {
	shutdownTimeout := defaultShutdownTimeout
	if s.config.shutdownTimeout > 0 {
		shutdownTimeout = s.config.shutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var err error
	logger := s.config.logger
	logger.Debug("starting graceful shutdown")

	// Phase 1: stop accepting requests
	logger.Debug("shutdown phase 1: closing listeners")
	for _, server := range s.servers {
		if stopErr := server.Shutdown(ctx); stopErr != nil {
			err = errors.Join(err, fmt.Errorf("listener shutdown: %w", stopErr))
		}
	}
	s.serveWg.Wait()
	s.servers = nil

	// Phase 2: stop background work and lock the vault
	logger.Debug("shutdown phase 2: stopping background work")
	if s.coordinator != nil {
		s.coordinator.Stop()
	}
	if s.vault != nil {
		if closeErr := s.vault.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("vault close: %w", closeErr))
		}
	}
	if s.registry != nil {
		if closeErr := s.registry.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("registry close: %w", closeErr))
		}
	}

	// Phase 3: close storage
	logger.Debug("shutdown phase 3: closing storage")
	if s.db != nil {
		if closeErr := s.db.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("database close: %w", closeErr))
		}
	}
	if s.backupSink != nil {
		if closeErr := s.backupSink.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("backup sink close: %w", closeErr))
		}
	}

	// Phase 4: cleanup resources
	logger.Debug("shutdown phase 4: cleanup resources")
	for _, fn := range s.shutdownFuncs {
		if fnErr := fn(ctx); fnErr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown function: %w", fnErr))
		}
	}
	s.shutdownFuncs = nil
	s.eventBus.Stop()

	logger.Debug("graceful shutdown complete")
	close(s.done)
	return err
}
