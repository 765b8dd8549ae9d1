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
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const backupVersion = 1

var ErrKeyExists = errors.New("key already exists")

// Backup is a key sealed under a backup password, portable between vaults
type Backup struct {
	Version    int       `json:"version"`
	Entry      KeyEntry  `json:"entry"`
	Salt       []byte    `json:"salt"`
	Nonce      []byte    `json:"nonce"`
	Ciphertext []byte    `json:"ciphertext"`
	CreatedAt  time.Time `json:"createdAt"`
	// Location is the sink name the archive was written to, if any
	Location string `json:"location,omitempty"`
}

func (b *Backup) aad() []byte {
	return []byte("vault-backup:" + b.Entry.ID)
}

// CreateKeyBackup seals an exportable software key under backupPassword
// and writes it to the backup sink when one is configured
func (v *Vault) CreateKeyBackup(ctx context.Context, keyID string, backupPassword []byte, opts RequestOptions) (_ *Backup, err error) {
	defer v.record(AuditExport, keyID, &err, opts, map[string]string{"operation": "backup"})
	v.mu.Lock()
	defer v.mu.Unlock()
	now := v.now()
	entry, sealed, err := v.authorizeUnsafe(ctx, keyID, opts, now)
	if err != nil {
		return nil, err
	}
	if !entry.Policy.AllowExport || entry.Metadata.HardwareProtected {
		return nil, keyError(keyID, ErrExportNotAllowed)
	}
	if len(backupPassword) == 0 {
		return nil, keyError(keyID, fmt.Errorf("%w: empty backup password", ErrAuthenticationFailed))
	}
	salt, err := randomBytes(saltLen)
	if err != nil {
		return nil, err
	}
	backupKey, err := deriveBackupKey(backupPassword, salt)
	if err != nil {
		return nil, err
	}
	defer clear(backupKey)
	ret := &Backup{
		Version:   backupVersion,
		Entry:     *entry.Clone(),
		Salt:      salt,
		CreatedAt: now,
	}
	ret.Entry.LastUsedAt = time.Time{}
	s, err := v.decryptUnsafe(entry, sealed)
	if err != nil {
		return nil, err
	}
	ret.Nonce, ret.Ciphertext, err = seal(backupKey, ret.aad(), s.bytes())
	s.release()
	if err != nil {
		return nil, err
	}
	if sink := v.config.BackupSink; sink != nil {
		data, err := json.Marshal(ret)
		if err != nil {
			return nil, err
		}
		name := fmt.Sprintf("keys/%s/%s.json", keyID, now.Format("20060102T150405Z"))
		if err := sink.Put(ctx, name, data); err != nil {
			return nil, fmt.Errorf("write backup: %w", err)
		}
		ret.Location = name
	}
	entry.Metadata.BackedUp = true
	entry.Metadata.BackupAt = now
	v.markUsedUnsafe(ctx, entry, sealed, now)
	v.logger.Info("backed up key", "key", keyID, "location", ret.Location)
	return ret, nil
}

// RestoreKeyBackup opens a backup and reseals the key under this vault.
// The key keeps its original id.
func (v *Vault) RestoreKeyBackup(ctx context.Context, b *Backup, backupPassword []byte) (_ *KeyEntry, err error) {
	keyID := ""
	if b != nil {
		keyID = b.Entry.ID
	}
	defer v.record(AuditCreate, keyID, &err, RequestOptions{}, map[string]string{"operation": "restore"})
	v.mu.Lock()
	defer v.mu.Unlock()
	now := v.now()
	if err := v.requireSessionUnsafe(now); err != nil {
		return nil, err
	}
	if b == nil || b.Version != backupVersion || b.Entry.ID == "" {
		return nil, fmt.Errorf("%w: unsupported backup", ErrInvalidKey)
	}
	if _, _, err := v.store.GetKey(ctx, keyID); err == nil {
		return nil, keyError(keyID, ErrKeyExists)
	} else if !errors.Is(err, ErrKeyNotFound) {
		return nil, fmt.Errorf("load key %s: %w", keyID, err)
	}
	backupKey, err := deriveBackupKey(backupPassword, b.Salt)
	if err != nil {
		return nil, err
	}
	defer clear(backupKey)
	plaintext, err := unseal(backupKey, b.aad(), b.Nonce, b.Ciphertext)
	if err != nil {
		return nil, keyError(keyID, ErrAuthenticationFailed)
	}
	s := v.arena.adopt(keyID, plaintext)
	defer s.release()
	entry := b.Entry.Clone()
	entry.Metadata.Encryption = EncryptionSoftwareAES
	entry.Metadata.HardwareProtected = false
	if entry.Type.Signable() {
		pub, err := publicKey(entry.Metadata.Curve, s.bytes())
		if err != nil {
			return nil, keyError(keyID, err)
		}
		entry.Metadata.PublicKey = pub
	}
	nonce, ciphertext, err := seal(v.kek, []byte(keyID), s.bytes())
	if err != nil {
		return nil, err
	}
	if err := v.store.PutKey(ctx, entry, Sealed{KeyID: keyID, Nonce: nonce, Ciphertext: ciphertext}); err != nil {
		return nil, fmt.Errorf("store key: %w", err)
	}
	v.session.touch(now)
	v.updateKeysMetric(ctx)
	return entry.Clone(), nil
}

// ReadBackup loads an archive previously written to the backup sink
func (v *Vault) ReadBackup(ctx context.Context, name string) (*Backup, error) {
	if v.config.BackupSink == nil {
		return nil, errors.New("no backup sink configured")
	}
	data, err := v.config.BackupSink.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	var ret Backup
	if err := json.Unmarshal(data, &ret); err != nil {
		return nil, fmt.Errorf("decode backup %s: %w", name, err)
	}
	return &ret, nil
}
