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
	"maps"
	"slices"
	"time"
)

type State string

const (
	StateUninitialized     State = "UNINITIALIZED"
	StateInitializedLocked State = "INITIALIZED_LOCKED"
	StateUnlocked          State = "UNLOCKED"
)

type SecurityLevel string

const (
	LevelStandard SecurityLevel = "STANDARD"
	LevelHigh     SecurityLevel = "HIGH"
	LevelMaximum  SecurityLevel = "MAXIMUM"
)

// Iterations returns the PBKDF2 round count for the level
func (l SecurityLevel) Iterations() int {
	switch l {
	case LevelHigh:
		return 310_000
	case LevelMaximum:
		return 600_000
	default:
		return 210_000
	}
}

// SessionTimeout returns the default session lifetime for the level
func (l SecurityLevel) SessionTimeout() time.Duration {
	switch l {
	case LevelHigh:
		return 15 * time.Minute
	case LevelMaximum:
		return 5 * time.Minute
	default:
		return 30 * time.Minute
	}
}

func (l SecurityLevel) rank() int {
	switch l {
	case LevelHigh:
		return 1
	case LevelMaximum:
		return 2
	default:
		return 0
	}
}

// Valid reports whether l is a known level
func (l SecurityLevel) Valid() bool {
	switch l {
	case LevelStandard, LevelHigh, LevelMaximum:
		return true
	default:
		return false
	}
}

type KeyType string

const (
	KeyTypePrivateKey    KeyType = "PRIVATE_KEY"
	KeyTypeMnemonic      KeyType = "MNEMONIC"
	KeyTypeSeed          KeyType = "SEED"
	KeyTypePassword      KeyType = "PASSWORD"
	KeyTypeHardwarePath  KeyType = "HARDWARE_PATH"
	KeyTypeRecoveryShare KeyType = "RECOVERY_SHARE"
)

// Signable reports whether material of this type can sign directly
func (t KeyType) Signable() bool {
	return t == KeyTypePrivateKey || t == KeyTypeSeed || t == KeyTypeHardwarePath
}

type Encryption string

const (
	EncryptionSoftwareAES Encryption = "software-aes-gcm"
	EncryptionHardware    Encryption = "hardware-enclave"
)

// Policy restricts how a key may be used
type Policy struct {
	RequireMFA bool `json:"requireMfa"`
	// TimeoutSeconds requires the session to have authenticated within
	// this many seconds before the key may be used. Zero disables it.
	TimeoutSeconds int        `json:"timeoutSeconds,omitempty"`
	AllowExport    bool       `json:"allowExport"`
	AllowedIPs     []string   `json:"allowedIps,omitempty"`
	AllowedDevices []string   `json:"allowedDevices,omitempty"`
	RevokedAt      *time.Time `json:"revokedAt,omitempty"`
}

type Metadata struct {
	Encryption        Encryption        `json:"encryption"`
	HardwareProtected bool              `json:"hardwareProtected"`
	Curve             string            `json:"curve,omitempty"`
	PublicKey         []byte            `json:"publicKey,omitempty"`
	Address           string            `json:"address,omitempty"`
	BackedUp          bool              `json:"backedUp"`
	BackupAt          time.Time         `json:"backupAt,omitzero"`
	Tags              map[string]string `json:"tags,omitempty"`
}

// KeyEntry describes a custodied key. It never carries secret material.
type KeyEntry struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Type       KeyType   `json:"type"`
	Network    string    `json:"network,omitempty"`
	Policy     Policy    `json:"policy"`
	Metadata   Metadata  `json:"metadata"`
	CreatedAt  time.Time `json:"createdAt"`
	LastUsedAt time.Time `json:"lastUsedAt,omitzero"`
}

// Clone returns a deep copy of the entry
func (e *KeyEntry) Clone() *KeyEntry {
	if e == nil {
		return nil
	}
	ret := *e
	ret.Policy.AllowedIPs = slices.Clone(e.Policy.AllowedIPs)
	ret.Policy.AllowedDevices = slices.Clone(e.Policy.AllowedDevices)
	if e.Policy.RevokedAt != nil {
		t := *e.Policy.RevokedAt
		ret.Policy.RevokedAt = &t
	}
	ret.Metadata.PublicKey = slices.Clone(e.Metadata.PublicKey)
	ret.Metadata.Tags = maps.Clone(e.Metadata.Tags)
	return &ret
}

// Header is the persisted vault descriptor
type Header struct {
	Version    int           `json:"version"`
	Level      SecurityLevel `json:"level"`
	Salt       []byte        `json:"salt"`
	Iterations int           `json:"iterations"`
	Verifier   []byte        `json:"verifier"`
	// MFASecret is the TOTP secret sealed under the key encryption key
	MFASecret []byte    `json:"mfaSecret,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Sealed is an encrypted secret as persisted
type Sealed struct {
	KeyID      string `json:"keyId"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// Status is a snapshot of the vault state
type Status struct {
	State            State         `json:"state"`
	Level            SecurityLevel `json:"level,omitempty"`
	Keys             int           `json:"keys"`
	SessionLevel     SecurityLevel `json:"sessionLevel,omitempty"`
	SessionExpiresAt time.Time     `json:"sessionExpiresAt,omitzero"`
	MFAEnabled       bool          `json:"mfaEnabled"`
	HardwareEnabled  bool          `json:"hardwareEnabled"`
	AuditEntries     int           `json:"auditEntries"`
}

// RequestOptions carry per-call context used by key policies
type RequestOptions struct {
	MFACode  string `json:"mfaCode,omitempty"`
	IP       string `json:"ip,omitempty"`
	DeviceID string `json:"deviceId,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// CreateKeyParams describe a new key. Material is wiped after it has been
// sealed. When Material is empty a key is generated on Curve.
type CreateKeyParams struct {
	Name     string            `json:"name"`
	Type     KeyType           `json:"type"`
	Network  string            `json:"network,omitempty"`
	Curve    string            `json:"curve,omitempty"`
	Material []byte            `json:"material,omitempty"`
	Hardware bool              `json:"hardware,omitempty"`
	Policy   Policy            `json:"policy"`
	Tags     map[string]string `json:"tags,omitempty"`
}
