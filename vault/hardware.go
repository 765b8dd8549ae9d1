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
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"sync"

	"github.com/NEILBATCHELOR/wallet-sub001/network"
	"github.com/ethereum/go-ethereum/crypto"
)

// Hardware is a secure enclave that holds keys the vault never sees in
// plaintext
type Hardware interface {
	IsSupported() bool
	// Authenticate performs a user presence or biometric challenge
	Authenticate(ctx context.Context, reason string) error
	// GenerateKey creates a key inside the enclave and returns its public
	// key
	GenerateKey(ctx context.Context, keyID string, curve string) ([]byte, error)
	Sign(ctx context.Context, keyID string, payload []byte) ([]byte, error)
	Encrypt(ctx context.Context, keyID string, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, keyID string, ciphertext []byte) ([]byte, error)
	DeleteKey(ctx context.Context, keyID string) error
}

var ErrHardwareDenied = errors.New("hardware authentication denied")

// Emulator is a software stand-in for a hardware enclave, used for tests
// and development
type Emulator struct {
	mu      sync.Mutex
	deny    bool
	wrapKey []byte
	keys    map[string]emulatedKey
	// challenges counts Authenticate calls
	challenges int
}

type emulatedKey struct {
	curve string
	priv  []byte
}

func NewEmulator() (*Emulator, error) {
	wrapKey, err := randomBytes(keyLen)
	if err != nil {
		return nil, err
	}
	return &Emulator{
		wrapKey: wrapKey,
		keys:    make(map[string]emulatedKey),
	}, nil
}

// SetDeny makes subsequent challenges fail
func (e *Emulator) SetDeny(deny bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deny = deny
}

// Challenges returns the number of authentication challenges performed
func (e *Emulator) Challenges() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.challenges
}

// HasKey reports whether the enclave holds keyID
func (e *Emulator) HasKey(keyID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.keys[keyID]
	return ok
}

func (e *Emulator) IsSupported() bool {
	return true
}

func (e *Emulator) Authenticate(ctx context.Context, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.challenges++
	if e.deny {
		return ErrHardwareDenied
	}
	return nil
}

func (e *Emulator) GenerateKey(ctx context.Context, keyID string, curve string) ([]byte, error) {
	var k emulatedKey
	var pub []byte
	switch curve {
	case network.CurveEd25519:
		p, priv, err := ed25519.GenerateKey(nil)
		if err != nil {
			return nil, err
		}
		k = emulatedKey{curve: curve, priv: priv}
		pub = p
	case network.CurveSecp256k1:
		priv, err := crypto.GenerateKey()
		if err != nil {
			return nil, err
		}
		k = emulatedKey{curve: curve, priv: crypto.FromECDSA(priv)}
		pub = crypto.CompressPubkey(&priv.PublicKey)
	default:
		return nil, fmt.Errorf("%w: unsupported curve %q", ErrInvalidKey, curve)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.keys[keyID] = k
	return pub, nil
}

func (e *Emulator) Sign(ctx context.Context, keyID string, payload []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	k, ok := e.keys[keyID]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return signRaw(k.curve, k.priv, payload)
}

func (e *Emulator) Encrypt(ctx context.Context, keyID string, plaintext []byte) ([]byte, error) {
	nonce, ciphertext, err := seal(e.wrapKey, []byte(keyID), plaintext)
	if err != nil {
		return nil, err
	}
	return append(nonce, ciphertext...), nil
}

func (e *Emulator) Decrypt(ctx context.Context, keyID string, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < nonceLen {
		return nil, errDecrypt
	}
	return unseal(e.wrapKey, []byte(keyID), ciphertext[:nonceLen], ciphertext[nonceLen:])
}

func (e *Emulator) DeleteKey(ctx context.Context, keyID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if k, ok := e.keys[keyID]; ok {
		clear(k.priv)
		delete(e.keys, keyID)
	}
	return nil
}
