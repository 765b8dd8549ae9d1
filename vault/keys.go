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
	"crypto/ed25519"
	"fmt"

	"github.com/NEILBATCHELOR/wallet-sub001/network"
	"github.com/ethereum/go-ethereum/crypto"
)

// generateMaterial creates new private key bytes on curve
func generateMaterial(curve string) ([]byte, error) {
	switch curve {
	case network.CurveEd25519:
		return randomBytes(ed25519.SeedSize)
	case network.CurveSecp256k1:
		k, err := crypto.GenerateKey()
		if err != nil {
			return nil, err
		}
		return crypto.FromECDSA(k), nil
	default:
		return nil, fmt.Errorf("%w: unsupported curve %q", ErrInvalidKey, curve)
	}
}

// publicKey derives the public key for private key bytes on curve
func publicKey(curve string, priv []byte) ([]byte, error) {
	switch curve {
	case network.CurveEd25519:
		k, err := ed25519Key(priv)
		if err != nil {
			return nil, err
		}
		defer clear(k)
		pub, _ := k.Public().(ed25519.PublicKey)
		return append([]byte(nil), pub...), nil
	case network.CurveSecp256k1:
		k, err := crypto.ToECDSA(priv)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
		}
		defer k.D.SetInt64(0)
		return crypto.CompressPubkey(&k.PublicKey), nil
	default:
		return nil, fmt.Errorf("%w: unsupported curve %q", ErrInvalidKey, curve)
	}
}

func ed25519Key(priv []byte) (ed25519.PrivateKey, error) {
	switch len(priv) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(priv), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(append([]byte(nil), priv...)), nil
	default:
		return nil, fmt.Errorf("%w: ed25519 key length %d", ErrInvalidKey, len(priv))
	}
}

// signRaw signs payload with private key bytes. secp256k1 payloads are
// 32-byte digests and produce recoverable signatures; ed25519 signs the
// message itself.
func signRaw(curve string, priv []byte, payload []byte) ([]byte, error) {
	switch curve {
	case network.CurveEd25519:
		k, err := ed25519Key(priv)
		if err != nil {
			return nil, err
		}
		defer clear(k)
		return ed25519.Sign(k, payload), nil
	case network.CurveSecp256k1:
		if len(payload) != 32 {
			return nil, fmt.Errorf("%w: secp256k1 payload must be a 32-byte digest", ErrInvalidKey)
		}
		k, err := crypto.ToECDSA(priv)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
		}
		defer k.D.SetInt64(0)
		return crypto.Sign(payload, k)
	default:
		return nil, fmt.Errorf("%w: unsupported curve %q", ErrInvalidKey, curve)
	}
}

// addressFor derives the account address for networks whose address is a
// pure function of one public key
func addressFor(networkID string, curve string, pub []byte) string {
	info, ok := network.Known(networkID)
	if !ok || info.Family != network.FamilyEVMContractWallet || curve != network.CurveSecp256k1 {
		return ""
	}
	k, err := crypto.DecompressPubkey(pub)
	if err != nil {
		return ""
	}
	return crypto.PubkeyToAddress(*k).Hex()
}
