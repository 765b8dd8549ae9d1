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
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/scrypt"
)

const (
	saltLen  = 32
	nonceLen = 12
	keyLen   = 32

	// backup archives use scrypt so they stay portable between vaults
	// with different PBKDF2 settings
	backupScryptN = 1 << 15
	backupScryptR = 8
	backupScryptP = 1
)

var errDecrypt = errors.New("decryption failed")

func randomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return buf, nil
}

// deriveMaster stretches the password into a verifier and a key
// encryption key. The caller owns kek and must clear it.
func deriveMaster(password []byte, salt []byte, iterations int) (verifier []byte, kek []byte) {
	derived := pbkdf2.Key(password, salt, iterations, 2*keyLen, sha256.New)
	defer clear(derived)
	sum := sha256.Sum256(derived[:keyLen])
	kek = make([]byte, keyLen)
	copy(kek, derived[keyLen:])
	return sum[:], kek
}

func verifierMatches(expected []byte, actual []byte) bool {
	return subtle.ConstantTimeCompare(expected, actual) == 1
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aead, nil
}

// seal encrypts plaintext under key. aad binds the ciphertext to its
// owner so sealed blobs cannot be swapped between keys.
func seal(key []byte, aad []byte, plaintext []byte) (nonce []byte, ciphertext []byte, err error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}
	nonce, err = randomBytes(nonceLen)
	if err != nil {
		return nil, nil, err
	}
	return nonce, aead.Seal(nil, nonce, plaintext, aad), nil
}

func unseal(key []byte, aad []byte, nonce []byte, ciphertext []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, errDecrypt
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, errDecrypt
	}
	return plaintext, nil
}

func deriveBackupKey(password []byte, salt []byte) ([]byte, error) {
	key, err := scrypt.Key(password, salt, backupScryptN, backupScryptR, backupScryptP, keyLen)
	if err != nil {
		return nil, fmt.Errorf("failed to derive backup key: %w", err)
	}
	return key, nil
}
