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

package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/NEILBATCHELOR/wallet-sub001/vault"
	badger "github.com/dgraph-io/badger/v4"
)

var (
	vaultHeaderKey    = []byte("vault:header")
	vaultKeyKeyPrefix = []byte("vault:key:")
)

// vaultRecord is the stored form of a key entry and its sealed secret
type vaultRecord struct {
	Entry  *vault.KeyEntry `json:"entry"`
	Sealed vault.Sealed    `json:"sealed"`
}

func vaultKeyKey(id string) []byte {
	return append(slices.Clone(vaultKeyKeyPrefix), id...)
}

func (s *Store) LoadHeader(ctx context.Context) (*vault.Header, error) {
	s.countOp("vault_header_load")
	var ret vault.Header
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(vaultHeaderKey)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &ret)
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, vault.ErrNoHeader
		}
		return nil, fmt.Errorf("load vault header: %w", err)
	}
	return &ret, nil
}

func (s *Store) SaveHeader(ctx context.Context, header *vault.Header) error {
	s.countOp("vault_header_save")
	val, err := json.Marshal(header)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(vaultHeaderKey, val)
	})
}

func (s *Store) PutKey(ctx context.Context, entry *vault.KeyEntry, sealed vault.Sealed) error {
	s.countOp("vault_key_put")
	val, err := json.Marshal(vaultRecord{Entry: entry, Sealed: sealed})
	if err != nil {
		return fmt.Errorf("encode key %s: %w", entry.ID, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(vaultKeyKey(entry.ID), val)
	})
}

func (s *Store) GetKey(ctx context.Context, id string) (*vault.KeyEntry, vault.Sealed, error) {
	s.countOp("vault_key_get")
	var rec vaultRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(vaultKeyKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, vault.Sealed{}, vault.ErrKeyNotFound
		}
		return nil, vault.Sealed{}, fmt.Errorf("get key %s: %w", id, err)
	}
	return rec.Entry, rec.Sealed, nil
}

func (s *Store) ListKeys(ctx context.Context) ([]*vault.KeyEntry, error) {
	s.countOp("vault_key_list")
	var ret []*vault.KeyEntry
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{
			Prefix:         vaultKeyKeyPrefix,
			PrefetchValues: true,
			PrefetchSize:   100,
		})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var rec vaultRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			ret = append(ret, rec.Entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	slices.SortFunc(ret, func(a, b *vault.KeyEntry) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return ret, nil
}

func (s *Store) DeleteKey(ctx context.Context, id string) error {
	s.countOp("vault_key_delete")
	return s.db.Update(func(txn *badger.Txn) error {
		key := vaultKeyKey(id)
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return vault.ErrKeyNotFound
			}
			return err
		}
		return txn.Delete(key)
	})
}
