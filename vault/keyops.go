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
	"errors"
	"fmt"
	"time"

	"github.com/NEILBATCHELOR/wallet-sub001/network"
	"github.com/google/uuid"
)

// secondFactorUnsafe demands an MFA code or hardware challenge. When reuse
// is set, a factor already presented in this session within window (zero
// meaning the whole session) is accepted.
func (v *Vault) secondFactorUnsafe(ctx context.Context, opts RequestOptions, now time.Time, reuse bool, window time.Duration) error {
	if reuse && !v.session.mfaAt.IsZero() {
		if window == 0 || now.Sub(v.session.mfaAt) <= window {
			return nil
		}
	}
	if opts.MFACode != "" {
		if v.mfaKey == nil || !verifyTOTP(v.mfaKey, opts.MFACode, now) {
			return fmt.Errorf("%w: invalid code", ErrMfaRequired)
		}
		v.session.mfaAt = now
		return nil
	}
	if v.hardwareAvailable() {
		reason := opts.Reason
		if reason == "" {
			reason = "authorize key use"
		}
		if err := v.config.Hardware.Authenticate(ctx, reason); err != nil {
			return fmt.Errorf("%w: %w", ErrMfaRequired, err)
		}
		v.session.mfaAt = now
		return nil
	}
	return ErrMfaRequired
}

// authorizeUnsafe runs the checks shared by every key operation and
// returns the entry with its sealed secret
func (v *Vault) authorizeUnsafe(ctx context.Context, keyID string, opts RequestOptions, now time.Time) (*KeyEntry, Sealed, error) {
	if err := v.requireSessionUnsafe(now); err != nil {
		return nil, Sealed{}, err
	}
	entry, sealed, err := v.loadKey(ctx, keyID)
	if err != nil {
		return nil, Sealed{}, err
	}
	if err := checkAccess(entry, v.session, opts, now); err != nil {
		return nil, Sealed{}, err
	}
	if entry.Policy.RequireMFA {
		window := time.Duration(entry.Policy.TimeoutSeconds) * time.Second
		if err := v.secondFactorUnsafe(ctx, opts, now, true, window); err != nil {
			return nil, Sealed{}, keyError(keyID, err)
		}
	}
	return entry, sealed, nil
}

func (v *Vault) loadKey(ctx context.Context, keyID string) (*KeyEntry, Sealed, error) {
	entry, sealed, err := v.store.GetKey(ctx, keyID)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, Sealed{}, keyError(keyID, ErrKeyNotFound)
		}
		return nil, Sealed{}, fmt.Errorf("load key %s: %w", keyID, err)
	}
	return entry, sealed, nil
}

// decryptUnsafe opens a software-sealed secret into a scoped buffer. The
// caller must release it before giving up the vault lock.
func (v *Vault) decryptUnsafe(entry *KeyEntry, sealed Sealed) (*secret, error) {
	plaintext, err := unseal(v.kek, []byte(entry.ID), sealed.Nonce, sealed.Ciphertext)
	if err != nil {
		return nil, keyError(entry.ID, fmt.Errorf("%w: %w", ErrInvalidKey, err))
	}
	return v.arena.adopt(entry.ID, plaintext), nil
}

func (v *Vault) enclaveSigner(entry *KeyEntry) bool {
	return entry.Metadata.HardwareProtected && entry.Type.Signable()
}

// markUsedUnsafe stamps the entry and extends the session
func (v *Vault) markUsedUnsafe(ctx context.Context, entry *KeyEntry, sealed Sealed, now time.Time) {
	entry.LastUsedAt = now
	if err := v.store.PutKey(ctx, entry, sealed); err != nil {
		v.logger.Warn("failed to record key use", "key", entry.ID, "error", err)
	}
	v.session.touch(now)
}

// CreateKey seals new key material, or generates it when none is given.
// Hardware signing keys are generated inside the enclave.
func (v *Vault) CreateKey(ctx context.Context, params CreateKeyParams) (_ *KeyEntry, err error) {
	keyID := uuid.NewString()
	defer clear(params.Material)
	defer v.record(AuditCreate, keyID, &err, RequestOptions{}, map[string]string{"type": string(params.Type)})
	v.mu.Lock()
	defer v.mu.Unlock()
	now := v.now()
	if err := v.requireSessionUnsafe(now); err != nil {
		return nil, err
	}
	if params.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidKey)
	}
	if params.Type == "" {
		params.Type = KeyTypePrivateKey
	}
	curve := params.Curve
	if curve == "" && params.Network != "" {
		if info, ok := network.Known(params.Network); ok {
			curve = info.Family.Curve()
		}
	}
	if params.Type.Signable() && curve == "" {
		return nil, fmt.Errorf("%w: curve is required for signing keys", ErrInvalidKey)
	}
	entry := &KeyEntry{
		ID:        keyID,
		Name:      params.Name,
		Type:      params.Type,
		Network:   params.Network,
		Policy:    params.Policy,
		CreatedAt: now,
		Metadata: Metadata{
			Encryption: EncryptionSoftwareAES,
			Curve:      curve,
			Tags:       params.Tags,
		},
	}
	var sealed Sealed
	if params.Hardware {
		sealed, err = v.createHardwareUnsafe(ctx, entry, params.Material)
	} else {
		sealed, err = v.createSoftwareUnsafe(entry, params.Material)
	}
	if err != nil {
		return nil, err
	}
	entry.Metadata.Address = addressFor(entry.Network, curve, entry.Metadata.PublicKey)
	if err := v.store.PutKey(ctx, entry, sealed); err != nil {
		return nil, fmt.Errorf("store key: %w", err)
	}
	v.session.touch(now)
	v.updateKeysMetric(ctx)
	v.logger.Info(
		"created key",
		"key", keyID,
		"type", entry.Type,
		"network", entry.Network,
		"hardware", params.Hardware,
	)
	return entry.Clone(), nil
}

func (v *Vault) createHardwareUnsafe(ctx context.Context, entry *KeyEntry, material []byte) (Sealed, error) {
	if !v.hardwareAvailable() {
		return Sealed{}, ErrHardwareUnavailable
	}
	hw := v.config.Hardware
	entry.Metadata.Encryption = EncryptionHardware
	entry.Metadata.HardwareProtected = true
	if entry.Type.Signable() {
		if len(material) > 0 {
			return Sealed{}, fmt.Errorf("%w: hardware signing keys are generated in the enclave", ErrInvalidKey)
		}
		entry.Type = KeyTypeHardwarePath
		pub, err := hw.GenerateKey(ctx, entry.ID, entry.Metadata.Curve)
		if err != nil {
			return Sealed{}, fmt.Errorf("hardware key generation: %w", err)
		}
		entry.Metadata.PublicKey = pub
		return Sealed{KeyID: entry.ID}, nil
	}
	if len(material) == 0 {
		return Sealed{}, fmt.Errorf("%w: no material", ErrInvalidKey)
	}
	ciphertext, err := hw.Encrypt(ctx, entry.ID, material)
	if err != nil {
		return Sealed{}, fmt.Errorf("hardware encryption: %w", err)
	}
	return Sealed{KeyID: entry.ID, Ciphertext: ciphertext}, nil
}

func (v *Vault) createSoftwareUnsafe(entry *KeyEntry, material []byte) (Sealed, error) {
	if len(material) == 0 {
		if !entry.Type.Signable() {
			return Sealed{}, fmt.Errorf("%w: no material", ErrInvalidKey)
		}
		generated, err := generateMaterial(entry.Metadata.Curve)
		if err != nil {
			return Sealed{}, err
		}
		defer clear(generated)
		material = generated
	}
	if entry.Type.Signable() {
		pub, err := publicKey(entry.Metadata.Curve, material)
		if err != nil {
			return Sealed{}, err
		}
		entry.Metadata.PublicKey = pub
	}
	nonce, ciphertext, err := seal(v.kek, []byte(entry.ID), material)
	if err != nil {
		return Sealed{}, err
	}
	return Sealed{KeyID: entry.ID, Nonce: nonce, Ciphertext: ciphertext}, nil
}

// GetKey returns the key entry after confirming its sealed secret is
// intact. Secret material is never returned.
func (v *Vault) GetKey(ctx context.Context, keyID string, opts RequestOptions) (_ *KeyEntry, err error) {
	defer v.record(AuditAccess, keyID, &err, opts, nil)
	v.mu.Lock()
	defer v.mu.Unlock()
	now := v.now()
	entry, sealed, err := v.authorizeUnsafe(ctx, keyID, opts, now)
	if err != nil {
		return nil, err
	}
	if !entry.Metadata.HardwareProtected {
		s, err := v.decryptUnsafe(entry, sealed)
		if err != nil {
			return nil, err
		}
		s.release()
	}
	v.markUsedUnsafe(ctx, entry, sealed, now)
	return entry.Clone(), nil
}

// SignWithKey signs payload with a custodied key. secp256k1 keys sign a
// 32-byte digest; ed25519 keys sign the message.
func (v *Vault) SignWithKey(ctx context.Context, keyID string, payload []byte, opts RequestOptions) (_ []byte, err error) {
	meta := map[string]string{}
	defer v.record(AuditSign, keyID, &err, opts, meta)
	v.mu.Lock()
	defer v.mu.Unlock()
	now := v.now()
	entry, sealed, err := v.authorizeUnsafe(ctx, keyID, opts, now)
	if err != nil {
		return nil, err
	}
	meta["signatureType"] = entry.Metadata.Curve
	if !entry.Type.Signable() {
		return nil, keyError(keyID, fmt.Errorf("%w: %s keys cannot sign", ErrInvalidKey, entry.Type))
	}
	var sig []byte
	if v.enclaveSigner(entry) {
		if !v.hardwareAvailable() {
			return nil, keyError(keyID, ErrHardwareUnavailable)
		}
		sig, err = v.config.Hardware.Sign(ctx, keyID, payload)
		if err != nil {
			return nil, keyError(keyID, fmt.Errorf("hardware sign: %w", err))
		}
	} else {
		s, err := v.decryptUnsafe(entry, sealed)
		if err != nil {
			return nil, err
		}
		sig, err = signRaw(entry.Metadata.Curve, s.bytes(), payload)
		s.release()
		if err != nil {
			return nil, keyError(keyID, err)
		}
	}
	v.markUsedUnsafe(ctx, entry, sealed, now)
	return sig, nil
}

// ExportKey returns the plaintext material of an exportable key. Every
// export re-verifies the master password and demands a fresh second
// factor regardless of the vault level.
func (v *Vault) ExportKey(ctx context.Context, keyID string, password []byte, opts RequestOptions) (_ []byte, err error) {
	defer v.record(AuditExport, keyID, &err, opts, nil)
	v.mu.Lock()
	defer v.mu.Unlock()
	now := v.now()
	if err := v.requireSessionUnsafe(now); err != nil {
		return nil, err
	}
	entry, sealed, err := v.loadKey(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if err := checkAccess(entry, v.session, opts, now); err != nil {
		return nil, err
	}
	if !entry.Policy.AllowExport || v.enclaveSigner(entry) {
		return nil, keyError(keyID, ErrExportNotAllowed)
	}
	verifier, kek := deriveMaster(password, v.header.Salt, v.header.Iterations)
	clear(kek)
	if !verifierMatches(v.header.Verifier, verifier) {
		return nil, keyError(keyID, ErrAuthenticationFailed)
	}
	if err := v.secondFactorUnsafe(ctx, opts, now, false, 0); err != nil {
		return nil, keyError(keyID, err)
	}
	var material []byte
	if entry.Metadata.HardwareProtected {
		if !v.hardwareAvailable() {
			return nil, keyError(keyID, ErrHardwareUnavailable)
		}
		material, err = v.config.Hardware.Decrypt(ctx, keyID, sealed.Ciphertext)
		if err != nil {
			return nil, keyError(keyID, fmt.Errorf("hardware decrypt: %w", err))
		}
	} else {
		s, err := v.decryptUnsafe(entry, sealed)
		if err != nil {
			return nil, err
		}
		material = append([]byte(nil), s.bytes()...)
		s.release()
	}
	v.markUsedUnsafe(ctx, entry, sealed, now)
	v.logger.Warn("exported key material", "key", keyID)
	return material, nil
}

// DeleteKey removes a key and purges any enclave counterpart. Revoked keys
// may still be deleted.
func (v *Vault) DeleteKey(ctx context.Context, keyID string, opts RequestOptions) (err error) {
	defer v.record(AuditDelete, keyID, &err, opts, nil)
	v.mu.Lock()
	defer v.mu.Unlock()
	now := v.now()
	if err := v.requireSessionUnsafe(now); err != nil {
		return err
	}
	entry, _, err := v.loadKey(ctx, keyID)
	if err != nil {
		return err
	}
	if err := checkAccess(entry, v.session, opts, now); err != nil && !errors.Is(err, ErrKeyRevoked) {
		return err
	}
	if entry.Policy.RequireMFA {
		window := time.Duration(entry.Policy.TimeoutSeconds) * time.Second
		if err := v.secondFactorUnsafe(ctx, opts, now, true, window); err != nil {
			return keyError(keyID, err)
		}
	}
	if entry.Metadata.HardwareProtected {
		if !v.hardwareAvailable() {
			return keyError(keyID, ErrHardwareUnavailable)
		}
		if err := v.config.Hardware.DeleteKey(ctx, keyID); err != nil {
			return keyError(keyID, fmt.Errorf("hardware delete: %w", err))
		}
	}
	if err := v.store.DeleteKey(ctx, keyID); err != nil {
		return fmt.Errorf("delete key %s: %w", keyID, err)
	}
	v.session.touch(now)
	v.updateKeysMetric(ctx)
	v.logger.Info("deleted key", "key", keyID)
	return nil
}

// RevokeKey blocks further use of a key without deleting it
func (v *Vault) RevokeKey(ctx context.Context, keyID string, opts RequestOptions) (err error) {
	defer v.record(AuditAttempt, keyID, &err, opts, map[string]string{"operation": "revoke"})
	v.mu.Lock()
	defer v.mu.Unlock()
	now := v.now()
	if err := v.requireSessionUnsafe(now); err != nil {
		return err
	}
	entry, sealed, err := v.loadKey(ctx, keyID)
	if err != nil {
		return err
	}
	if entry.Policy.RevokedAt == nil {
		entry.Policy.RevokedAt = &now
		if err := v.store.PutKey(ctx, entry, sealed); err != nil {
			return fmt.Errorf("store key: %w", err)
		}
	}
	v.session.touch(now)
	return nil
}

// ListKeys returns every key entry without secret material
func (v *Vault) ListKeys(ctx context.Context) ([]*KeyEntry, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	now := v.now()
	if err := v.requireSessionUnsafe(now); err != nil {
		return nil, err
	}
	keys, err := v.store.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	v.session.touch(now)
	return keys, nil
}

// EnableMFA replaces the TOTP secret after re-verifying the password and
// returns the new secret
func (v *Vault) EnableMFA(ctx context.Context, password []byte) (_ string, err error) {
	defer v.record(AuditAttempt, "", &err, RequestOptions{}, map[string]string{"operation": "enable-mfa"})
	v.mu.Lock()
	defer v.mu.Unlock()
	now := v.now()
	if err := v.requireSessionUnsafe(now); err != nil {
		return "", err
	}
	verifier, kek := deriveMaster(password, v.header.Salt, v.header.Iterations)
	clear(kek)
	if !verifierMatches(v.header.Verifier, verifier) {
		return "", ErrAuthenticationFailed
	}
	secret, err := GenerateMFASecret()
	if err != nil {
		return "", err
	}
	mfaKey, err := decodeMFASecret(secret)
	if err != nil {
		return "", err
	}
	nonce, ciphertext, err := seal(v.kek, mfaAAD, mfaKey)
	if err != nil {
		clear(mfaKey)
		return "", err
	}
	header := cloneHeader(v.header)
	header.MFASecret = append(nonce, ciphertext...)
	if err := v.store.SaveHeader(ctx, header); err != nil {
		clear(mfaKey)
		return "", fmt.Errorf("save vault header: %w", err)
	}
	v.header = header
	clear(v.mfaKey)
	v.mfaKey = mfaKey
	v.session.touch(now)
	return secret, nil
}
