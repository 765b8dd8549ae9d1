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

package proposal

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/NEILBATCHELOR/wallet-sub001/adapter"
)

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Network string
	Status  adapter.Status
	// AwaitingConfirmation selects broadcast proposals that are still
	// pending
	AwaitingConfirmation bool
}

// Match reports whether p satisfies the filter
func (f Filter) Match(p *adapter.Proposal) bool {
	if f.Network != "" && !strings.EqualFold(f.Network, p.Network) {
		return false
	}
	if f.Status != "" && f.Status != p.Status {
		return false
	}
	if f.AwaitingConfirmation && (p.NetworkTxID == "" || p.Status != adapter.StatusPending) {
		return false
	}
	return true
}

// Store persists proposals. Implementations must return copies so callers
// never share state with the store.
type Store interface {
	// Create inserts a new proposal and returns ErrDuplicateProposal when
	// one with the same id exists
	Create(ctx context.Context, p *adapter.Proposal) error
	// Save replaces a stored proposal
	Save(ctx context.Context, p *adapter.Proposal) error
	Get(ctx context.Context, id string) (*adapter.Proposal, error)
	List(ctx context.Context, filter Filter) ([]*adapter.Proposal, error)
}

// MemoryStore keeps proposals in process memory
type MemoryStore struct {
	mu        sync.RWMutex
	proposals map[string]*adapter.Proposal
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{proposals: make(map[string]*adapter.Proposal)}
}

func (s *MemoryStore) Create(ctx context.Context, p *adapter.Proposal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.proposals[p.ID]; ok {
		return ErrDuplicateProposal
	}
	s.proposals[p.ID] = p.Clone()
	return nil
}

func (s *MemoryStore) Save(ctx context.Context, p *adapter.Proposal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proposals[p.ID] = p.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*adapter.Proposal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proposals[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (s *MemoryStore) List(ctx context.Context, filter Filter) ([]*adapter.Proposal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ret := make([]*adapter.Proposal, 0, len(s.proposals))
	for _, p := range s.proposals {
		if filter.Match(p) {
			ret = append(ret, p.Clone())
		}
	}
	slices.SortFunc(ret, func(a, b *adapter.Proposal) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return ret, nil
}
