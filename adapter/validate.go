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

package adapter

import "fmt"

// CheckOwners validates a threshold against an owner set. The returned
// error wraps ErrInvalidOwners.
func CheckOwners(owners []string, threshold int) error {
	if len(owners) == 0 {
		return fmt.Errorf("%w: no owners", ErrInvalidOwners)
	}
	if threshold < 1 {
		return fmt.Errorf("%w: threshold %d below 1", ErrInvalidOwners, threshold)
	}
	if threshold > len(owners) {
		return fmt.Errorf(
			"%w: threshold %d exceeds %d owners",
			ErrInvalidOwners,
			threshold,
			len(owners),
		)
	}
	seen := make(map[string]struct{}, len(owners))
	for _, owner := range owners {
		if _, ok := seen[owner]; ok {
			return fmt.Errorf("%w: duplicate owner %s", ErrInvalidOwners, owner)
		}
		seen[owner] = struct{}{}
	}
	return nil
}

// CheckThreshold fails when the proposal does not carry enough signatures
// for its wallet
func CheckThreshold(networkID string, p *Proposal) error {
	if p.Wallet.Threshold < 1 || len(p.Signatures) < p.Wallet.Threshold {
		return Errorf(
			ErrBroadcast,
			networkID,
			"broadcast",
			"%w: have %d, need %d",
			ErrThresholdNotMet,
			len(p.Signatures),
			p.Wallet.Threshold,
		)
	}
	return nil
}

// CheckBroadcastable runs the common broadcast preconditions
func CheckBroadcastable(networkID string, p *Proposal) error {
	if p.NetworkTxID != "" {
		return &AlreadyBroadcastError{Network: networkID, TxID: p.NetworkTxID}
	}
	return CheckThreshold(networkID, p)
}
