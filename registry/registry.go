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

// Package registry maps network identifiers to network metadata and builds
// the adapter variant for each network on first use.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/NEILBATCHELOR/wallet-sub001/adapter"
	"github.com/NEILBATCHELOR/wallet-sub001/network"
)

var (
	ErrUnknownNetwork   = errors.New("unknown network")
	ErrDuplicateNetwork = errors.New("network already registered")
	ErrNoFactory        = errors.New("no adapter factory for network family")
)

// Factory builds an adapter for a network of one family
type Factory func(info network.Info, logger *slog.Logger) (adapter.Adapter, error)

type Registry struct {
	mu        sync.Mutex
	logger    *slog.Logger
	factories map[network.Family]Factory
	networks  map[string]network.Info
	adapters  map[string]adapter.Adapter
}

type OptionFunc func(*Registry)

// WithLogger specifies the logger handed to the registry and its adapters
func WithLogger(logger *slog.Logger) OptionFunc {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithFactory registers the adapter factory for a family, replacing any
// existing one
func WithFactory(family network.Family, factory Factory) OptionFunc {
	return func(r *Registry) {
		r.factories[family] = factory
	}
}

func New(opts ...OptionFunc) *Registry {
	r := &Registry{
		factories: make(map[network.Family]Factory),
		networks:  make(map[string]network.Info),
		adapters:  make(map[string]adapter.Adapter),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	r.logger = r.logger.With("component", "registry")
	return r
}

// Register adds a network. Identifiers are case-insensitive.
func (r *Registry) Register(info network.Info) error {
	if err := info.Validate(); err != nil {
		return err
	}
	info = info.Clone()
	info.ID = strings.ToLower(info.ID)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.networks[info.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateNetwork, info.ID)
	}
	r.networks[info.ID] = info
	return nil
}

// Replace swaps the definition of a registered network and drops any
// cached adapter built from the old definition
func (r *Registry) Replace(info network.Info) error {
	if err := info.Validate(); err != nil {
		return err
	}
	info = info.Clone()
	info.ID = strings.ToLower(info.ID)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.networks[info.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNetwork, info.ID)
	}
	r.networks[info.ID] = info
	if a, ok := r.adapters[info.ID]; ok {
		delete(r.adapters, info.ID)
		if err := closeAdapter(a); err != nil {
			r.logger.Warn("failed to close replaced adapter", "network", info.ID, "error", err)
		}
	}
	return nil
}

// Info returns a copy of a registered network
func (r *Registry) Info(id string) (network.Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.networks[strings.ToLower(id)]
	if !ok {
		return network.Info{}, false
	}
	return info.Clone(), true
}

// Networks returns all registered networks ordered by ID
func (r *Registry) Networks() []network.Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	ret := make([]network.Info, 0, len(r.networks))
	for _, info := range r.networks {
		ret = append(ret, info.Clone())
	}
	slices.SortFunc(ret, func(a, b network.Info) int {
		return strings.Compare(a.ID, b.ID)
	})
	return ret
}

// Adapter returns the adapter for a network, constructing and caching it
// on first use. Construction does not perform network I/O.
func (r *Registry) Adapter(ctx context.Context, id string) (adapter.Adapter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id = strings.ToLower(id)
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.adapters[id]; ok {
		return a, nil
	}
	info, ok := r.networks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNetwork, id)
	}
	factory, ok := r.factories[info.Family]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoFactory, info.Family)
	}
	a, err := factory(info.Clone(), r.logger)
	if err != nil {
		return nil, fmt.Errorf("build adapter for %s: %w", id, err)
	}
	r.adapters[id] = a
	r.logger.Debug("created adapter", "network", id, "family", info.Family)
	return a, nil
}

// Close releases every cached adapter that holds a connection. Adapters
// are rebuilt on the next lookup.
func (r *Registry) Close() error {
	r.mu.Lock()
	adapters := r.adapters
	r.adapters = make(map[string]adapter.Adapter)
	r.mu.Unlock()
	var err error
	for id, a := range adapters {
		if closeErr := closeAdapter(a); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close adapter %s: %w", id, closeErr))
		}
	}
	return err
}

func closeAdapter(a adapter.Adapter) error {
	if c, ok := a.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
