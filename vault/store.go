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

package vault

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
)

var ErrNoHeader = errors.New("vault header not found")

// Store persists the vault header, key entries and their sealed secrets.
// Implementations return copies.
type Store interface {
	LoadHeader(ctx context.Context) (*Header, error)
	SaveHeader(ctx context.Context, header *Header) error
	PutKey(ctx context.Context, entry *KeyEntry, sealed Sealed) error
	GetKey(ctx context.Context, id string) (*KeyEntry, Sealed, error)
	ListKeys(ctx context.Context) ([]*KeyEntry, error)
	DeleteKey(ctx context.Context, id string) error
}

type memoryKey struct {
	entry  *KeyEntry
	sealed Sealed
}

// MemoryStore keeps the vault in process memory
type MemoryStore struct {
	mu     sync.RWMutex
	header *Header
	keys   map[string]memoryKey
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]memoryKey)}
}

func (s *MemoryStore) LoadHeader(ctx context.Context) (*Header, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.header == nil {
		return nil, ErrNoHeader
	}
	return cloneHeader(s.header), nil
}

func (s *MemoryStore) SaveHeader(ctx context.Context, header *Header) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.header = cloneHeader(header)
	return nil
}

func (s *MemoryStore) PutKey(ctx context.Context, entry *KeyEntry, sealed Sealed) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[entry.ID] = memoryKey{entry: entry.Clone(), sealed: cloneSealed(sealed)}
	return nil
}

func (s *MemoryStore) GetKey(ctx context.Context, id string) (*KeyEntry, Sealed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[id]
	if !ok {
		return nil, Sealed{}, ErrKeyNotFound
	}
	return k.entry.Clone(), cloneSealed(k.sealed), nil
}

func (s *MemoryStore) ListKeys(ctx context.Context) ([]*KeyEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ret := make([]*KeyEntry, 0, len(s.keys))
	for _, k := range s.keys {
		ret = append(ret, k.entry.Clone())
	}
	slices.SortFunc(ret, func(a, b *KeyEntry) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return ret, nil
}

func (s *MemoryStore) DeleteKey(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[id]; !ok {
		return ErrKeyNotFound
	}
	delete(s.keys, id)
	return nil
}

func cloneHeader(h *Header) *Header {
	ret := *h
	ret.Salt = slices.Clone(h.Salt)
	ret.Verifier = slices.Clone(h.Verifier)
	ret.MFASecret = slices.Clone(h.MFASecret)
	return &ret
}

func cloneSealed(s Sealed) Sealed {
	return Sealed{
		KeyID:      s.KeyID,
		Nonce:      slices.Clone(s.Nonce),
		Ciphertext: slices.Clone(s.Ciphertext),
	}
}
