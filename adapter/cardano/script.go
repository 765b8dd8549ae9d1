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

package cardano

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"

	"github.com/blinklabs-io/gouroboros/cbor"
	lcommon "github.com/blinklabs-io/gouroboros/ledger/common"
)

// Native script constructors
const (
	scriptPubkey = 0
	scriptNOfK   = 3
)

type owner struct {
	hex     string
	pub     []byte
	keyHash lcommon.Blake2b224
}

// parseOwners decodes hex ed25519 verification keys and orders them by
// key hash
func parseOwners(owners []string) ([]owner, error) {
	ret := make([]owner, 0, len(owners))
	for _, o := range owners {
		pub, err := hex.DecodeString(strings.TrimPrefix(o, "0x"))
		if err != nil || len(pub) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("malformed owner %q", o)
		}
		ret = append(ret, owner{
			hex:     o,
			pub:     pub,
			keyHash: lcommon.Blake2b224Hash(pub),
		})
	}
	slices.SortFunc(ret, func(a, b owner) int {
		return bytes.Compare(a.keyHash[:], b.keyHash[:])
	})
	return ret, nil
}

// nativeScript encodes an at-least-m-of-n timelock script over the owner
// key hashes
func nativeScript(sorted []owner, threshold int) ([]byte, error) {
	keys := make([]any, 0, len(sorted))
	for _, o := range sorted {
		keys = append(keys, []any{scriptPubkey, o.keyHash[:]})
	}
	return cbor.Encode([]any{scriptNOfK, threshold, keys})
}

// scriptHash is the blake2b-224 of the script tagged with the native
// script language byte
func scriptHash(script []byte) lcommon.Blake2b224 {
	return lcommon.Blake2b224Hash(append([]byte{0x00}, script...))
}

func scriptAddress(networkID uint8, script []byte) (lcommon.Address, error) {
	hash := scriptHash(script)
	return lcommon.NewAddressFromParts(
		lcommon.AddressTypeScriptNone,
		networkID,
		hash[:],
		nil,
	)
}
