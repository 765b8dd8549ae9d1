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

// Package badger is a key/value storage plugin on BadgerDB
package badger

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/NEILBATCHELOR/wallet-sub001/database/plugin"
	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultGcInterval  = 5 * time.Minute
	metricNamePrefix   = "multisig_database_badger_"
	gcDiscardRatio     = 0.5
	badgerDirName      = "badger"
	defaultValueThresh = 1 << 10
)

func init() {
	plugin.Register(plugin.PluginEntry{
		Name:        "badger",
		Description: "BadgerDB key/value store in the data directory",
		New: func(opts plugin.Options) (plugin.Backend, error) {
			return New(
				WithDataDir(opts.DataDir),
				WithLogger(opts.Logger),
				WithPromRegistry(opts.PromRegistry),
			)
		},
	})
}

// Store keeps proposals and the vault in badger. Data is not persisted
// when no data dir is configured.
type Store struct {
	promRegistry prometheus.Registerer
	db           *badger.DB
	logger       *slog.Logger
	opsTotal     *prometheus.CounterVec
	gcTicker     *time.Ticker
	gcStopCh     chan struct{}
	dataDir      string
	gcInterval   time.Duration
	gcWg         sync.WaitGroup
	gcEnabled    bool
}

// New opens the store
func New(opts ...OptionFunc) (*Store, error) {
	s := &Store{
		gcEnabled:  true,
		gcInterval: defaultGcInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	var badgerOpts badger.Options
	if s.dataDir == "" {
		badgerOpts = badger.DefaultOptions("").
			WithInMemory(true)
		// nothing to reclaim without a value log on disk
		s.gcEnabled = false
	} else {
		if _, err := os.Stat(s.dataDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read data dir: %w", err)
			}
			if err := os.MkdirAll(s.dataDir, 0o700); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		badgerOpts = badger.DefaultOptions(filepath.Join(s.dataDir, badgerDirName)).
			WithCompression(options.Snappy)
	}
	badgerOpts = badgerOpts.
		WithLogger(NewBadgerLogger(s.logger)).
		// The default INFO logging is a bit verbose
		WithLoggingLevel(badger.WARNING).
		WithValueThreshold(defaultValueThresh)
	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, err
	}
	s.db = db
	if err := s.init(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	s.opsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricNamePrefix + "ops_total",
			Help: "Total number of badger storage operations",
		},
		[]string{"op"},
	)
	if s.promRegistry != nil {
		if err := s.promRegistry.Register(s.opsTotal); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}
	if s.gcEnabled {
		s.gcTicker = time.NewTicker(s.gcInterval)
		s.gcStopCh = make(chan struct{})
		s.gcWg.Add(1)
		go s.valueLogGc(s.gcTicker, s.gcStopCh)
	}
	return nil
}

func (s *Store) valueLogGc(t *time.Ticker, stop <-chan struct{}) {
	defer s.gcWg.Done()
	for {
		select {
		case <-t.C:
			for {
				err := s.db.RunValueLogGC(gcDiscardRatio)
				if err == nil {
					// keep going while files are being rewritten
					continue
				}
				if !errors.Is(err, badger.ErrNoRewrite) {
					s.logger.Warn(
						"value log GC failure",
						"component", "database",
						"error", err,
					)
				}
				break
			}
		case <-stop:
			return
		}
	}
}

func (s *Store) countOp(op string) {
	s.opsTotal.WithLabelValues(op).Inc()
}

// DB returns the database handle
func (s *Store) DB() *badger.DB {
	return s.db
}

// Close stops background GC and closes the database
func (s *Store) Close() error {
	if s.gcTicker != nil {
		s.gcTicker.Stop()
		close(s.gcStopCh)
		s.gcWg.Wait()
		s.gcTicker = nil
	}
	return s.db.Close()
}
