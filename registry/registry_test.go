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

package registry_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/NEILBATCHELOR/wallet-sub001/adapter"
	"github.com/NEILBATCHELOR/wallet-sub001/network"
	"github.com/NEILBATCHELOR/wallet-sub001/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdapter struct {
	adapter.Adapter
	info network.Info
}

func (s *stubAdapter) Network() network.Info {
	return s.info
}

type closingAdapter struct {
	stubAdapter
	closed *atomic.Int32
}

func (c *closingAdapter) Close() error {
	c.closed.Add(1)
	return nil
}

func TestRegisterAndLookup(t *testing.T) {
	var built atomic.Int32
	r := registry.New(registry.WithFactory(
		network.FamilyUTXOScript,
		func(info network.Info, _ *slog.Logger) (adapter.Adapter, error) {
			built.Add(1)
			return &stubAdapter{info: info}, nil
		},
	))
	info, _ := network.Known("bitcoin-testnet")
	require.NoError(t, r.Register(info))
	assert.ErrorIs(t, r.Register(info), registry.ErrDuplicateNetwork)

	var wg sync.WaitGroup
	results := make([]adapter.Adapter, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := r.Adapter(context.Background(), "BITCOIN-TESTNET")
			assert.NoError(t, err)
			results[i] = a
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, built.Load())
	for _, a := range results {
		assert.Same(t, results[0], a)
	}
	assert.Equal(t, "bitcoin-testnet", results[0].Network().ID)

	_, err := r.Adapter(context.Background(), "nowhere")
	assert.ErrorIs(t, err, registry.ErrUnknownNetwork)
}

func TestNoFactory(t *testing.T) {
	r := registry.New()
	info, _ := network.Known("stellar")
	require.NoError(t, r.Register(info))
	_, err := r.Adapter(context.Background(), "stellar")
	assert.ErrorIs(t, err, registry.ErrNoFactory)
}

func TestFactoryError(t *testing.T) {
	boom := errors.New("boom")
	r := registry.New(registry.WithFactory(
		network.FamilyNativeScript,
		func(network.Info, *slog.Logger) (adapter.Adapter, error) {
			return nil, boom
		},
	))
	info, _ := network.Known("cardano")
	require.NoError(t, r.Register(info))
	_, err := r.Adapter(context.Background(), "cardano")
	assert.ErrorIs(t, err, boom)
}

func TestReplaceDropsCachedAdapter(t *testing.T) {
	r := registry.NewDefault()
	first, err := r.Adapter(context.Background(), "sepolia")
	require.NoError(t, err)
	info, ok := r.Info("sepolia")
	require.True(t, ok)
	require.NoError(t, r.Replace(info.WithEndpoint("http://127.0.0.1:8545")))
	second, err := r.Adapter(context.Background(), "sepolia")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, "http://127.0.0.1:8545", second.Network().RPCEndpoint)

	assert.ErrorIs(t, r.Replace(network.Info{ID: "unknown", Family: network.FamilyUTXOScript}), registry.ErrUnknownNetwork)
}

func TestCloseReleasesAdapters(t *testing.T) {
	var closed atomic.Int32
	r := registry.New(registry.WithFactory(
		network.FamilyUTXOScript,
		func(info network.Info, _ *slog.Logger) (adapter.Adapter, error) {
			return &closingAdapter{stubAdapter: stubAdapter{info: info}, closed: &closed}, nil
		},
	))
	info, _ := network.Known("bitcoin")
	require.NoError(t, r.Register(info))
	_, err := r.Adapter(context.Background(), "bitcoin")
	require.NoError(t, err)

	require.NoError(t, r.Replace(info.WithEndpoint("http://127.0.0.1:18443")))
	assert.EqualValues(t, 1, closed.Load())

	first, err := r.Adapter(context.Background(), "bitcoin")
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.EqualValues(t, 2, closed.Load())
	require.NoError(t, r.Close())
	assert.EqualValues(t, 2, closed.Load())

	second, err := r.Adapter(context.Background(), "bitcoin")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}

func TestDefaultRegistryBuildsEveryNetwork(t *testing.T) {
	r := registry.NewDefault()
	t.Cleanup(func() { _ = r.Close() })
	nets := r.Networks()
	require.Len(t, nets, len(network.KnownIDs()))
	for i, info := range nets {
		if i > 0 {
			assert.Less(t, nets[i-1].ID, info.ID)
		}
		a, err := r.Adapter(context.Background(), info.ID)
		require.NoError(t, err, info.ID)
		assert.Equal(t, info.ID, a.Network().ID)
	}
}
