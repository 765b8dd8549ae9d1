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

package database

import (
	"github.com/NEILBATCHELOR/wallet-sub001/database/plugin"
	"github.com/NEILBATCHELOR/wallet-sub001/proposal"
	"github.com/NEILBATCHELOR/wallet-sub001/vault"
)

func init() {
	plugin.Register(plugin.PluginEntry{
		Name:        MemoryBackend,
		Description: "Process memory, lost on exit",
		New: func(plugin.Options) (plugin.Backend, error) {
			return newMemoryBackend(), nil
		},
	})
}

type vaultMemoryStore = vault.MemoryStore

// memoryBackend pairs the in-process stores behind the Backend interface
type memoryBackend struct {
	*proposal.MemoryStore
	*vaultMemoryStore
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{
		MemoryStore:      proposal.NewMemoryStore(),
		vaultMemoryStore: vault.NewMemoryStore(),
	}
}

func (*memoryBackend) Close() error {
	return nil
}
