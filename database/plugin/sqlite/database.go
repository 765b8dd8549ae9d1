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

// Package sqlite is a GORM backed storage plugin on a pure Go SQLite driver
package sqlite

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

	"github.com/NEILBATCHELOR/wallet-sub001/database/models"
	"github.com/NEILBATCHELOR/wallet-sub001/database/plugin"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

const databaseFile = "multisig.sqlite"

func init() {
	plugin.Register(plugin.PluginEntry{
		Name:        "sqlite",
		Description: "SQLite database in the data directory",
		New: func(opts plugin.Options) (plugin.Backend, error) {
			return New(opts.DataDir, opts.Logger)
		},
	})
}

// Store keeps proposals and the vault in SQLite
type Store struct {
	db          *gorm.DB
	logger      *slog.Logger
	dataDir     string
	timerVacuum *time.Timer
	timerMutex  sync.Mutex
	vacuumWG    sync.WaitGroup
	closed      bool
}

// New opens the store. Uses a private in-memory database if dataDir is empty.
func New(dataDir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	var dsn string
	if dataDir == "" {
		// a unique name keeps separate stores apart while still letting the
		// pool's connections share one database
		dsn = fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	} else {
		if _, err := os.Stat(dataDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read data dir: %w", err)
			}
			if err := os.MkdirAll(dataDir, 0o700); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		connOpts := "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
		dsn = fmt.Sprintf("file:%s?%s", filepath.Join(dataDir, databaseFile), connOpts)
	}
	db, err := gorm.Open(
		sqlite.Open(dsn),
		&gorm.Config{
			Logger:                 gormlogger.Discard,
			SkipDefaultTransaction: true,
		},
	)
	if err != nil {
		return nil, err
	}
	s := &Store{
		db:      db,
		logger:  logger.With("component", "database", "plugin", "sqlite"),
		dataDir: dataDir,
	}
	if err := s.db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		_ = s.Close()
		return nil, err
	}
	for _, model := range models.MigrateModels {
		s.logger.Debug(fmt.Sprintf("creating table: %#v", model))
		if err := s.db.AutoMigrate(model); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	s.scheduleDailyVacuum()
	return s, nil
}

func (s *Store) runVacuum() error {
	s.timerMutex.Lock()
	if s.dataDir == "" || s.closed {
		s.timerMutex.Unlock()
		return nil
	}
	s.vacuumWG.Add(1)
	s.timerMutex.Unlock()
	defer s.vacuumWG.Done()
	return s.db.Exec("VACUUM").Error
}

func (s *Store) scheduleDailyVacuum() {
	s.timerMutex.Lock()
	defer s.timerMutex.Unlock()
	if s.closed {
		return
	}
	if s.timerVacuum != nil {
		s.timerVacuum.Stop()
	}
	s.timerVacuum = time.AfterFunc(24*time.Hour, func() {
		defer s.scheduleDailyVacuum()
		if err := s.runVacuum(); err != nil {
			s.logger.Error("failed to free unused space", "error", err)
		}
	})
}

// DB returns the underlying GORM database handle
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Close stops the vacuum timer and closes the database
func (s *Store) Close() error {
	s.timerMutex.Lock()
	s.closed = true
	if s.timerVacuum != nil {
		s.timerVacuum.Stop()
		s.timerVacuum = nil
	}
	s.timerMutex.Unlock()
	s.vacuumWG.Wait()
	db, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get database handle: %w", err)
	}
	return db.Close()
}
