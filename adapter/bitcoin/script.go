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

package bitcoin

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// Standard P2SH multisig is limited by the 520 byte push limit
const maxMultisigKeys = 15

var (
	ErrMalformedPubKey    = errors.New("malformed public key")
	ErrTooManyKeys        = errors.New("too many keys for P2SH multisig")
	ErrMalformedSignature = errors.New("malformed signature blob")
)

// parseOwners decodes hex compressed public keys and returns them in BIP67
// order along with their canonical hex form
func parseOwners(owners []string, params *chaincfg.Params) ([]*btcutil.AddressPubKey, []string, error) {
	if len(owners) > maxMultisigKeys {
		return nil, nil, fmt.Errorf("%w: %d", ErrTooManyKeys, len(owners))
	}
	type ownerKey struct {
		raw []byte
		hex string
	}
	keys := make([]ownerKey, 0, len(owners))
	for _, owner := range owners {
		raw, err := hex.DecodeString(strings.TrimPrefix(owner, "0x"))
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %w", ErrMalformedPubKey, owner, err)
		}
		pub, err := btcec.ParsePubKey(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %w", ErrMalformedPubKey, owner, err)
		}
		compressed := pub.SerializeCompressed()
		keys = append(keys, ownerKey{raw: compressed, hex: hex.EncodeToString(compressed)})
	}
	slices.SortFunc(keys, func(a, b ownerKey) int {
		return bytes.Compare(a.raw, b.raw)
	})
	addrs := make([]*btcutil.AddressPubKey, 0, len(keys))
	sorted := make([]string, 0, len(keys))
	for _, k := range keys {
		addr, err := btcutil.NewAddressPubKey(k.raw, params)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrMalformedPubKey, err)
		}
		addrs = append(addrs, addr)
		sorted = append(sorted, k.hex)
	}
	return addrs, sorted, nil
}

// redeemScript builds the sorted OP_m <keys> OP_n OP_CHECKMULTISIG script
func redeemScript(owners []string, threshold int, params *chaincfg.Params) ([]byte, []string, error) {
	keys, sorted, err := parseOwners(owners, params)
	if err != nil {
		return nil, nil, err
	}
	script, err := txscript.MultiSigScript(keys, threshold)
	if err != nil {
		return nil, nil, err
	}
	return script, sorted, nil
}

// canonicalOwner normalizes an owner public key to compressed hex
func canonicalOwner(pubKey []byte) (string, error) {
	pub, err := btcec.ParsePubKey(pubKey)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformedPubKey, err)
	}
	return hex.EncodeToString(pub.SerializeCompressed()), nil
}

// derSignature converts a 65-byte [R || S || V] signature into DER
func derSignature(sig []byte) ([]byte, error) {
	if len(sig) != 65 && len(sig) != 64 {
		return nil, fmt.Errorf("%w: unexpected length %d", ErrMalformedSignature, len(sig))
	}
	var r, s btcec.ModNScalar
	if overflow := r.SetByteSlice(sig[0:32]); overflow {
		return nil, fmt.Errorf("%w: R overflows", ErrMalformedSignature)
	}
	if overflow := s.SetByteSlice(sig[32:64]); overflow {
		return nil, fmt.Errorf("%w: S overflows", ErrMalformedSignature)
	}
	return ecdsa.NewSignature(&r, &s).Serialize(), nil
}

// encodeSigBlob packs one signature per input, each prefixed by its length
func encodeSigBlob(sigs [][]byte) []byte {
	var buf bytes.Buffer
	for _, sig := range sigs {
		buf.WriteByte(byte(len(sig)))
		buf.Write(sig)
	}
	return buf.Bytes()
}

func decodeSigBlob(blob []byte) ([][]byte, error) {
	var ret [][]byte
	for len(blob) > 0 {
		l := int(blob[0])
		if l == 0 || len(blob) < l+1 {
			return nil, ErrMalformedSignature
		}
		ret = append(ret, blob[1:l+1])
		blob = blob[l+1:]
	}
	return ret, nil
}
