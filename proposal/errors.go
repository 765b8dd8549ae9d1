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
	"errors"
	"fmt"

	"github.com/NEILBATCHELOR/wallet-sub001/adapter"
)

var (
	ErrNotFound          = errors.New("proposal not found")
	ErrNotPending        = errors.New("proposal is not pending")
	ErrDuplicateProposal = errors.New("proposal already exists")
	ErrDuplicateSigner   = errors.New("signer already contributed")
	ErrNotOwner          = errors.New("signer is not a wallet owner")
	ErrSignerMismatch    = errors.New("signature does not belong to signer")
	// ErrBroadcast rejects changes to the signature set of a proposal that
	// was already submitted to its network
	ErrBroadcast         = errors.New("proposal already broadcast")
	// ErrThresholdNotMet is shared with the adapters so either layer's
	// rejection matches
	ErrThresholdNotMet   = adapter.ErrThresholdNotMet
)

type DuplicateSignerError struct {
	ProposalID string
	Signer     string
}

func (e *DuplicateSignerError) Error() string {
	return fmt.Sprintf("proposal %s: signer %s already contributed", e.ProposalID, e.Signer)
}

func (e *DuplicateSignerError) Is(target error) bool {
	return target == ErrDuplicateSigner
}
