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

import (
	"context"
	"crypto/ed25519"
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/NEILBATCHELOR/wallet-sub001/network"
	"github.com/ethereum/go-ethereum/crypto"
)

// KeyMaterial signs on behalf of one co-signer.
//
// For secp256k1 keys the payload is a 32-byte digest and the result is a
// 65-byte [R || S || V] recoverable signature with V in {0, 1}. For ed25519
// keys the payload is the message itself and the result is 64 bytes.
type KeyMaterial interface {
	Curve() string
	PublicKey() []byte
	Sign(ctx context.Context, payload []byte) ([]byte, error)
}

var ErrUnsupportedCurve = errors.New("unsupported curve")

// LocalKey is an in-process private key. It is meant for tests and
// development tooling; production signing goes through the vault.
type LocalKey struct {
	curve  string
	ecdsa  *ecdsa.PrivateKey
	ed     ed25519.PrivateKey
	public []byte
}

// NewLocalKey builds key material from raw private key bytes. ed25519
// accepts either a 32-byte seed or a 64-byte private key.
func NewLocalKey(curve string, priv []byte) (*LocalKey, error) {
	switch curve {
	case network.CurveSecp256k1:
		k, err := crypto.ToECDSA(priv)
		if err != nil {
			return nil, fmt.Errorf("invalid secp256k1 key: %w", err)
		}
		return &LocalKey{
			curve:  curve,
			ecdsa:  k,
			public: crypto.CompressPubkey(&k.PublicKey),
		}, nil
	case network.CurveEd25519:
		var k ed25519.PrivateKey
		switch len(priv) {
		case ed25519.SeedSize:
			k = ed25519.NewKeyFromSeed(priv)
		case ed25519.PrivateKeySize:
			k = ed25519.PrivateKey(append([]byte(nil), priv...))
		default:
			return nil, fmt.Errorf("invalid ed25519 key length %d", len(priv))
		}
		pub, _ := k.Public().(ed25519.PublicKey)
		return &LocalKey{curve: curve, ed: k, public: []byte(pub)}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCurve, curve)
	}
}

// GenerateLocalKey creates a random key on the given curve
func GenerateLocalKey(curve string) (*LocalKey, error) {
	switch curve {
	case network.CurveSecp256k1:
		k, err := crypto.GenerateKey()
		if err != nil {
			return nil, err
		}
		return NewLocalKey(curve, crypto.FromECDSA(k))
	case network.CurveEd25519:
		_, k, err := ed25519.GenerateKey(nil)
		if err != nil {
			return nil, err
		}
		return NewLocalKey(curve, k)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCurve, curve)
	}
}

func (k *LocalKey) Curve() string {
	return k.curve
}

func (k *LocalKey) PublicKey() []byte {
	return append([]byte(nil), k.public...)
}

// PrivateKey returns a copy of the raw private key bytes
func (k *LocalKey) PrivateKey() []byte {
	if k.ecdsa != nil {
		return crypto.FromECDSA(k.ecdsa)
	}
	return append([]byte(nil), k.ed.Seed()...)
}

func (k *LocalKey) Sign(ctx context.Context, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k.ecdsa != nil {
		return crypto.Sign(payload, k.ecdsa)
	}
	return ed25519.Sign(k.ed, payload), nil
}

// RequireCurve fails with ErrSigning when key is not on curve
func RequireCurve(networkID string, key KeyMaterial, curve string) error {
	if key == nil {
		return Errorf(ErrSigning, networkID, "sign", "no key material")
	}
	if key.Curve() != curve {
		return Errorf(
			ErrSigning,
			networkID,
			"sign",
			"%w: key is %s, network requires %s",
			ErrUnsupportedCurve,
			key.Curve(),
			curve,
		)
	}
	return nil
}
