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

// Package plugin holds the registry of storage backends. Backends register
// themselves from init().
package plugin

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/NEILBATCHELOR/wallet-sub001/proposal"
	"github.com/NEILBATCHELOR/wallet-sub001/vault"
	"github.com/prometheus/client_golang/prometheus"
)

// Backend persists both proposals and vault state
type Backend interface {
	proposal.Store
	vault.Store
	Close() error
}

// Options are passed to a backend constructor. An empty DataDir asks for
// a non-persistent store.
type Options struct {
	DataDir      string
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
}

type PluginEntry struct {
	Name        string
	Description string
	New         func(Options) (Backend, error)
}

var (
	pluginEntries   []PluginEntry
	pluginEntriesMu sync.RWMutex
)

// Register adds a backend. Registering a name twice panics.
func Register(entry PluginEntry) {
	pluginEntriesMu.Lock()
	defer pluginEntriesMu.Unlock()
	for _, existing := range pluginEntries {
		if existing.Name == entry.Name {
			panic(fmt.Sprintf("storage plugin %q registered twice", entry.Name))
		}
	}
	pluginEntries = append(pluginEntries, entry)
}

// GetPlugin returns the named backend entry
func GetPlugin(name string) (PluginEntry, bool) {
	pluginEntriesMu.RLock()
	defer pluginEntriesMu.RUnlock()
	for _, entry := range pluginEntries {
		if entry.Name == name {
			return entry, true
		}
	}
	return PluginEntry{}, false
}

// GetPlugins returns the registered backends sorted by name
func GetPlugins() []PluginEntry {
	pluginEntriesMu.RLock()
	ret := slices.Clone(pluginEntries)
	pluginEntriesMu.RUnlock()
	slices.SortFunc(ret, func(a, b PluginEntry) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		default:
			return 0
		}
	})
	return ret
}

// New opens the named backend
func New(name string, opts Options) (Backend, error) {
	entry, ok := GetPlugin(name)
	if !ok {
		return nil, fmt.Errorf("storage plugin '%s' not found", name)
	}
	b, err := entry.New(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage plugin '%s': %w", name, err)
	}
	return b, nil
}
