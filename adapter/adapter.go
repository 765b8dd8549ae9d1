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

// Package adapter defines the uniform transaction lifecycle that every
// supported network family implements.
package adapter

import (
	"context"
	"slices"
	"time"

	"github.com/NEILBATCHELOR/wallet-sub001/network"
)

// Adapter drives a multisig transfer through create, sign, combine,
// broadcast and status on a single network.
type Adapter interface {
	// Network returns the network this adapter is bound to
	Network() network.Info
	// GenerateMultiSigAddress returns the deterministic (or provisional)
	// address controlled by threshold-of-len(owners) signatures
	GenerateMultiSigAddress(ctx context.Context, owners []string, threshold int) (string, error)
	// GetBalance returns the balance in human units, "0" when unfunded
	GetBalance(ctx context.Context, address string, tokenAddress string) (string, error)
	// CreateTransaction builds an unsigned proposal
	CreateTransaction(ctx context.Context, params CreateParams) (*Proposal, error)
	// SignTransaction produces one signature over the proposal without
	// modifying it
	SignTransaction(ctx context.Context, proposal *Proposal, key KeyMaterial) (Signature, error)
	// CombineSignatures merges signatures into a copy of the proposal
	CombineSignatures(ctx context.Context, proposal *Proposal, signatures []Signature) (*Proposal, error)
	// BroadcastTransaction submits the combined proposal and returns the
	// network transaction id
	BroadcastTransaction(ctx context.Context, proposal *Proposal) (string, error)
	// ValidateAddress reports whether the address is well formed
	ValidateAddress(address string) bool
	// GetTransactionStatus returns StatusPending for unknown transactions
	GetTransactionStatus(ctx context.Context, txID string) (Status, error)
}

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusFailed    Status = "FAILED"
	StatusRejected  Status = "REJECTED"
)

// Terminal reports whether no further transition is possible
func (s Status) Terminal() bool {
	switch s {
	case StatusConfirmed, StatusFailed, StatusRejected:
		return true
	default:
		return false
	}
}

// Signature is one co-signer's contribution. Signer is the owner
// identifier in the network's own encoding.
type Signature struct {
	Signer string `json:"signer"`
	Blob   []byte `json:"blob"`
}

// WalletInfo is the multisig wallet a proposal spends from
type WalletInfo struct {
	Address   string   `json:"address"`
	Owners    []string `json:"owners"`
	Threshold int      `json:"threshold"`
}

// IsOwner reports whether signer is one of the wallet owners
func (w WalletInfo) IsOwner(signer string) bool {
	return slices.Contains(w.Owners, signer)
}

// CreateParams are the inputs to CreateTransaction
type CreateParams struct {
	FromAddress  string
	ToAddress    string
	Amount       string
	TokenAddress string
	Data         []byte
	Nonce        *uint64
	Fee          string
	Wallet       WalletInfo
}

// Proposal is a pending multi-party transfer. Raw is owned by the adapter
// that created it.
type Proposal struct {
	ID           string      `json:"id"`
	Network      string      `json:"network"`
	FromAddress  string      `json:"fromAddress"`
	ToAddress    string      `json:"toAddress"`
	Amount       string      `json:"amount"`
	TokenAddress string      `json:"tokenAddress,omitempty"`
	Data         []byte      `json:"data,omitempty"`
	Raw          []byte      `json:"raw"`
	Signatures   []Signature `json:"signatures"`
	Status       Status      `json:"status"`
	NetworkTxID  string      `json:"networkTxId,omitempty"`
	Wallet       WalletInfo  `json:"wallet"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
	BroadcastAt  time.Time   `json:"broadcastAt,omitzero"`
}

// Clone returns a deep copy of the proposal
func (p *Proposal) Clone() *Proposal {
	if p == nil {
		return nil
	}
	ret := *p
	ret.Data = slices.Clone(p.Data)
	ret.Raw = slices.Clone(p.Raw)
	ret.Wallet.Owners = slices.Clone(p.Wallet.Owners)
	if p.Signatures != nil {
		ret.Signatures = make([]Signature, len(p.Signatures))
		for i, sig := range p.Signatures {
			ret.Signatures[i] = Signature{
				Signer: sig.Signer,
				Blob:   slices.Clone(sig.Blob),
			}
		}
	}
	return &ret
}

// HasSigner reports whether signer already contributed a signature
func (p *Proposal) HasSigner(signer string) bool {
	for _, sig := range p.Signatures {
		if sig.Signer == signer {
			return true
		}
	}
	return false
}

// MergeSignatures returns existing followed by any additional signatures
// from signers not already present. The first signature per signer wins.
func MergeSignatures(existing []Signature, additional []Signature) []Signature {
	seen := make(map[string]struct{}, len(existing)+len(additional))
	ret := make([]Signature, 0, len(existing)+len(additional))
	for _, group := range [][]Signature{existing, additional} {
		for _, sig := range group {
			if _, ok := seen[sig.Signer]; ok {
				continue
			}
			seen[sig.Signer] = struct{}{}
			ret = append(ret, Signature{
				Signer: sig.Signer,
				Blob:   slices.Clone(sig.Blob),
			})
		}
	}
	return ret
}

// OrderByOwners sorts signatures into the order of owners. Signatures from
// non-owners are dropped.
func OrderByOwners(sigs []Signature, owners []string) []Signature {
	ret := make([]Signature, 0, len(sigs))
	for _, owner := range owners {
		for _, sig := range sigs {
			if sig.Signer == owner {
				ret = append(ret, sig)
				break
			}
		}
	}
	return ret
}
