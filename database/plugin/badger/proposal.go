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

	"github.com/NEILBATCHELOR/wallet-sub001/adapter"
	"github.com/NEILBATCHELOR/wallet-sub001/proposal"
	badger "github.com/dgraph-io/badger/v4"
)

var proposalKeyPrefix = []byte("proposal:")

func proposalKey(id string) []byte {
	return append(slices.Clone(proposalKeyPrefix), id...)
}

func (s *Store) Create(ctx context.Context, p *adapter.Proposal) error {
	s.countOp("proposal_create")
	val, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode proposal %s: %w", p.ID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		key := proposalKey(p.ID)
		_, err := txn.Get(key)
		if err == nil {
			return proposal.ErrDuplicateProposal
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, val)
	})
	if errors.Is(err, proposal.ErrDuplicateProposal) {
		return err
	}
	if err != nil {
		return fmt.Errorf("create proposal %s: %w", p.ID, err)
	}
	return nil
}

func (s *Store) Save(ctx context.Context, p *adapter.Proposal) error {
	s.countOp("proposal_save")
	val, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode proposal %s: %w", p.ID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(proposalKey(p.ID), val)
	})
	if err != nil {
		return fmt.Errorf("save proposal %s: %w", p.ID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*adapter.Proposal, error) {
	s.countOp("proposal_get")
	var ret adapter.Proposal
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(proposalKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &ret)
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, proposal.ErrNotFound
		}
		return nil, fmt.Errorf("get proposal %s: %w", id, err)
	}
	return &ret, nil
}

func (s *Store) List(ctx context.Context, filter proposal.Filter) ([]*adapter.Proposal, error) {
	s.countOp("proposal_list")
	var ret []*adapter.Proposal
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{
			Prefix:         proposalKeyPrefix,
			PrefetchValues: true,
			PrefetchSize:   100,
		})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var p adapter.Proposal
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &p)
			})
			if err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			if filter.Match(&p) {
				ret = append(ret, &p)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	slices.SortFunc(ret, func(a, b *adapter.Proposal) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return ret, nil
}
