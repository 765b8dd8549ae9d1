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

package models

import (
	"encoding/json"
	"time"

	"github.com/NEILBATCHELOR/wallet-sub001/vault"
)

// VaultHeaderID is the only row of the vault_header table
const VaultHeaderID = 1

type VaultHeader struct {
	ID        uint   `gorm:"primarykey"`
	Body      []byte `gorm:"not null"`
	UpdatedAt time.Time
}

func (VaultHeader) TableName() string {
	return "vault_header"
}

// VaultKey stores a key entry with its sealed secret. The entry JSON never
// contains plaintext material.
type VaultKey struct {
	ID         string `gorm:"primaryKey;size:64"`
	Name       string `gorm:"not null"`
	Network    string `gorm:"index;size:64"`
	Entry      []byte `gorm:"not null"`
	Nonce      []byte
	Ciphertext []byte
	CreatedAt  time.Time
}

func (VaultKey) TableName() string {
	return "vault_key"
}

func NewVaultKey(entry *vault.KeyEntry, sealed vault.Sealed) (*VaultKey, error) {
	body, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	return &VaultKey{
		ID:         entry.ID,
		Name:       entry.Name,
		Network:    entry.Network,
		Entry:      body,
		Nonce:      sealed.Nonce,
		Ciphertext: sealed.Ciphertext,
		CreatedAt:  entry.CreatedAt,
	}, nil
}

func (k *VaultKey) Decode() (*vault.KeyEntry, vault.Sealed, error) {
	var entry vault.KeyEntry
	if err := json.Unmarshal(k.Entry, &entry); err != nil {
		return nil, vault.Sealed{}, err
	}
	return &entry, vault.Sealed{
		KeyID:      k.ID,
		Nonce:      k.Nonce,
		Ciphertext: k.Ciphertext,
	}, nil
}
