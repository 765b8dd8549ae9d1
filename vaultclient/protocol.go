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

// Package vaultclient runs a vault behind a websocket so it can live in an
// isolated process, and provides the matching client.
package vaultclient

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/NEILBATCHELOR/wallet-sub001/vault"
)

type Action string

const (
	ActionInitialize      Action = "initialize"
	ActionUnlock          Action = "unlock"
	ActionLock            Action = "lock"
	ActionCreateKey       Action = "createKey"
	ActionGetKey          Action = "getKey"
	ActionSignWithKey     Action = "signWithKey"
	ActionExportKey       Action = "exportKey"
	ActionDeleteKey       Action = "deleteKey"
	ActionCreateKeyBackup Action = "createKeyBackup"
	ActionGetKeys         Action = "getKeys"
	ActionGetStatus       Action = "getStatus"
	ActionGetAuditLog     Action = "getAuditLog"
)

// Idempotent reports whether a failed or timed out request may be retried
func (a Action) Idempotent() bool {
	switch a {
	case ActionGetStatus, ActionGetAuditLog, ActionGetKeys:
		return true
	default:
		return false
	}
}

// Error kinds that do not correspond to a vault error
const (
	KindInvalidRequest = "InvalidRequest"
	KindUnknownAction  = "UnknownAction"
	KindInternal       = "Internal"
)

var (
	ErrTimeout  = errors.New("vault request timed out")
	ErrClosed   = errors.New("vault connection closed")
	ErrNotReady = errors.New("vault host did not signal ready")
)

const readyType = "ready"

// Message is the first frame sent by a host
type Message struct {
	Type string `json:"type"`
}

type Request struct {
	ID     string          `json:"id"`
	Action Action          `json:"action"`
	Params json.RawMessage `json:"params,omitempty"`
}

type Response struct {
	ID      string          `json:"id"`
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorBody      `json:"error,omitempty"`
}

type ErrorBody struct {
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

// RemoteError is a failure reported by the host. It unwraps to the vault
// sentinel matching its kind, when there is one.
type RemoteError struct {
	Kind    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Kind == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *RemoteError) Unwrap() error {
	return vault.ErrorForKind(e.Kind)
}

func errorBody(err error) *ErrorBody {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return &ErrorBody{Kind: remote.Kind, Message: remote.Message}
	}
	kind := vault.ErrorKind(err)
	if kind == "" {
		kind = KindInternal
	}
	return &ErrorBody{Kind: kind, Message: err.Error()}
}

type InitializeParams struct {
	Password  string              `json:"password"`
	Level     vault.SecurityLevel `json:"level"`
	MFASecret string              `json:"mfaSecret,omitempty"`
}

type UnlockParams struct {
	Password string `json:"password"`
	MFACode  string `json:"mfaCode,omitempty"`
}

type KeyParams struct {
	KeyID   string               `json:"keyId"`
	Options vault.RequestOptions `json:"options"`
}

type SignParams struct {
	KeyID   string               `json:"keyId"`
	Payload []byte               `json:"payload"`
	Options vault.RequestOptions `json:"options"`
}

type ExportParams struct {
	KeyID    string               `json:"keyId"`
	Password string               `json:"password"`
	Options  vault.RequestOptions `json:"options"`
}

type BackupParams struct {
	KeyID          string               `json:"keyId"`
	BackupPassword string               `json:"backupPassword"`
	Options        vault.RequestOptions `json:"options"`
}

type AuditLogParams struct {
	Limit int `json:"limit"`
}

type SignResult struct {
	Signature []byte `json:"signature"`
}

type ExportResult struct {
	Material []byte `json:"material"`
}
