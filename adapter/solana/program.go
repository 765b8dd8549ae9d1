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

package solana

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"slices"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

const multisigSeed = "multisig"

// transferMessage is the borsh payload every owner signs
type transferMessage struct {
	Multisig solana.PublicKey
	To       solana.PublicKey
	Mint     solana.PublicKey
	Amount   uint64
	Nonce    uint64
	Data     []byte
}

type approval struct {
	OwnerIndex uint8
	Signature  [64]byte
}

// executeArgs is the argument of the program's execute instruction
type executeArgs struct {
	Owners    []solana.PublicKey
	Threshold uint8
	Message   []byte
	Approvals []approval
}

var executeDiscriminator = anchorDiscriminator("execute")

func anchorDiscriminator(name string) []byte {
	sum := sha256.Sum256([]byte("global:" + name))
	return sum[:8]
}

// parseOwners decodes base58 owners and returns them in byte order
func parseOwners(owners []string) ([]solana.PublicKey, error) {
	ret := make([]solana.PublicKey, 0, len(owners))
	for _, owner := range owners {
		pub, err := solana.PublicKeyFromBase58(owner)
		if err != nil {
			return nil, fmt.Errorf("malformed owner %q: %w", owner, err)
		}
		ret = append(ret, pub)
	}
	slices.SortFunc(ret, func(a, b solana.PublicKey) int {
		return bytes.Compare(a[:], b[:])
	})
	return ret, nil
}

// ownersDigest commits to the owner set and threshold
func ownersDigest(sorted []solana.PublicKey, threshold int) []byte {
	h := sha256.New()
	for _, pub := range sorted {
		h.Write(pub[:])
	}
	h.Write([]byte{byte(threshold)})
	return h.Sum(nil)
}

func multisigPDA(program solana.PublicKey, sorted []solana.PublicKey, threshold int) (solana.PublicKey, error) {
	pda, _, err := solana.FindProgramAddress(
		[][]byte{[]byte(multisigSeed), ownersDigest(sorted, threshold)},
		program,
	)
	return pda, err
}

func encodeMessage(msg *transferMessage) ([]byte, error) {
	return bin.MarshalBorsh(msg)
}

func decodeMessage(raw []byte) (*transferMessage, error) {
	var msg transferMessage
	if err := bin.UnmarshalBorsh(&msg, raw); err != nil {
		return nil, err
	}
	return &msg, nil
}
