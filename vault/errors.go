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
	"errors"
	"fmt"
)

var (
	ErrVaultNotInitialized   = errors.New("vault not initialized")
	ErrAlreadyInitialized    = errors.New("vault already initialized")
	ErrVaultLocked           = errors.New("vault locked")
	ErrAuthenticationFailed  = errors.New("authentication failed")
	ErrAuthenticationExpired = errors.New("authentication expired")
	ErrMfaRequired           = errors.New("mfa required")
	ErrExportNotAllowed      = errors.New("export not allowed")
	ErrKeyNotFound           = errors.New("key not found")
	ErrKeyRevoked            = errors.New("key revoked")
	ErrAccessRestricted      = errors.New("access restricted")
	ErrInvalidKey            = errors.New("invalid key material")
	ErrHardwareUnavailable   = errors.New("hardware security module unavailable")
	ErrInsecureFileMode      = errors.New("insecure file permissions")
	ErrAutoLockRunning       = errors.New("auto-lock already running")
)

// KeyError ties a failure to the key it concerns
type KeyError struct {
	KeyID string
	Err   error
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("key %s: %s", e.KeyID, e.Err)
}

func (e *KeyError) Unwrap() error {
	return e.Err
}

func keyError(keyID string, err error) error {
	return &KeyError{KeyID: keyID, Err: err}
}

// ErrorKind returns the name of the vault sentinel carried by err, used to
// carry failures across the client boundary
func ErrorKind(err error) string {
	for name, kind := range errorKinds {
		if errors.Is(err, kind) {
			return name
		}
	}
	return ""
}

// ErrorForKind maps a kind name back to its sentinel. Unknown kinds return
// nil.
func ErrorForKind(kind string) error {
	return errorKinds[kind]
}

var errorKinds = map[string]error{
	"VaultNotInitialized":   ErrVaultNotInitialized,
	"AlreadyInitialized":    ErrAlreadyInitialized,
	"VaultLocked":           ErrVaultLocked,
	"AuthenticationFailed":  ErrAuthenticationFailed,
	"AuthenticationExpired": ErrAuthenticationExpired,
	"MfaRequired":           ErrMfaRequired,
	"ExportNotAllowed":      ErrExportNotAllowed,
	"KeyNotFound":           ErrKeyNotFound,
	"KeyRevoked":            ErrKeyRevoked,
	"AccessRestricted":      ErrAccessRestricted,
	"InvalidKey":            ErrInvalidKey,
	"HardwareUnavailable":   ErrHardwareUnavailable,
}
