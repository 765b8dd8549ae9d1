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

package registry

import (
	"log/slog"

	"github.com/NEILBATCHELOR/wallet-sub001/adapter"
	"github.com/NEILBATCHELOR/wallet-sub001/adapter/bitcoin"
	"github.com/NEILBATCHELOR/wallet-sub001/adapter/cardano"
	"github.com/NEILBATCHELOR/wallet-sub001/adapter/evm"
	"github.com/NEILBATCHELOR/wallet-sub001/adapter/solana"
	"github.com/NEILBATCHELOR/wallet-sub001/adapter/stellar"
	"github.com/NEILBATCHELOR/wallet-sub001/network"
)

var (
	_ adapter.Adapter = (*bitcoin.Adapter)(nil)
	_ adapter.Adapter = (*evm.Adapter)(nil)
	_ adapter.Adapter = (*solana.Adapter)(nil)
	_ adapter.Adapter = (*stellar.Adapter)(nil)
	_ adapter.Adapter = (*cardano.Adapter)(nil)
)

// build keeps a failed constructor from yielding a typed nil adapter
func build[T adapter.Adapter](a T, err error) (adapter.Adapter, error) {
	if err != nil {
		return nil, err
	}
	return a, nil
}

// DefaultFactories returns the built-in adapter factory for every family
func DefaultFactories() map[network.Family]Factory {
	return map[network.Family]Factory{
		network.FamilyUTXOScript: func(info network.Info, logger *slog.Logger) (adapter.Adapter, error) {
			return build(bitcoin.New(info, bitcoin.WithLogger(logger)))
		},
		network.FamilyEVMContractWallet: func(info network.Info, logger *slog.Logger) (adapter.Adapter, error) {
			return build(evm.New(info, evm.WithLogger(logger)))
		},
		network.FamilyProgramDerivedAddress: func(info network.Info, logger *slog.Logger) (adapter.Adapter, error) {
			return build(solana.New(info, solana.WithLogger(logger)))
		},
		network.FamilyAccountKeyList: func(info network.Info, logger *slog.Logger) (adapter.Adapter, error) {
			return build(stellar.New(info, stellar.WithLogger(logger)))
		},
		network.FamilyNativeScript: func(info network.Info, logger *slog.Logger) (adapter.Adapter, error) {
			return build(cardano.New(info, cardano.WithLogger(logger)))
		},
	}
}

// NewDefault returns a registry with the built-in factories and every
// known network registered
func NewDefault(opts ...OptionFunc) *Registry {
	var all []OptionFunc
	for family, factory := range DefaultFactories() {
		all = append(all, WithFactory(family, factory))
	}
	r := New(append(all, opts...)...)
	for _, id := range network.KnownIDs() {
		info, _ := network.Known(id)
		// Known networks always validate and ids are unique
		_ = r.Register(info)
	}
	return r
}
