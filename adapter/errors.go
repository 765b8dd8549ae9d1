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
	"errors"
	"fmt"
)

// Error kinds. Every error returned by an adapter matches exactly one of
// these under errors.Is.
var (
	ErrAddressGeneration = errors.New("address generation failed")
	ErrNetworkQuery      = errors.New("network query failed")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrSigning           = errors.New("signing failed")
	ErrBroadcast         = errors.New("broadcast failed")
	ErrAlreadyBroadcast  = errors.New("transaction already broadcast")
	ErrInvalidParams     = errors.New("invalid transaction parameters")
)

var (
	ErrThresholdNotMet = errors.New("signature threshold not met")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidOwners   = errors.New("invalid owner set")
	ErrUnknownRaw      = errors.New("proposal raw payload not recognized")
)

var kinds = []error{
	ErrAddressGeneration,
	ErrNetworkQuery,
	ErrInsufficientFunds,
	ErrSigning,
	ErrBroadcast,
	ErrAlreadyBroadcast,
	ErrInvalidParams,
}

// Error carries the kind of an adapter failure and its cause
type Error struct {
	Kind    error
	Network string
	Op      string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %s", e.Network, e.Op, e.Kind)
	}
	return fmt.Sprintf("%s %s: %s: %s", e.Network, e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Wrap attaches a kind to err. An err that already carries an adapter
// kind is returned unchanged so the original kind is preserved.
func Wrap(kind error, networkID string, op string, err error) error {
	if err != nil && KindOf(err) != nil {
		return err
	}
	return &Error{Kind: kind, Network: networkID, Op: op, Err: err}
}

// Errorf is Wrap with a formatted cause
func Errorf(kind error, networkID string, op string, format string, args ...any) error {
	return &Error{
		Kind:    kind,
		Network: networkID,
		Op:      op,
		Err:     fmt.Errorf(format, args...),
	}
}

// InsufficientFundsError reports the available and required amounts in
// human units
type InsufficientFundsError struct {
	Network   string
	Available string
	Required  string
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf(
		"%s: %s: available %s, required %s",
		e.Network,
		ErrInsufficientFunds,
		e.Available,
		e.Required,
	)
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// KindOf returns the adapter kind carried by err, or nil
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// AlreadyBroadcastError is returned when the transaction is already known
// to the network. TxID is set when it could be determined.
type AlreadyBroadcastError struct {
	Network string
	TxID    string
}

func (e *AlreadyBroadcastError) Error() string {
	if e.TxID == "" {
		return fmt.Sprintf("%s: %s", e.Network, ErrAlreadyBroadcast)
	}
	return fmt.Sprintf("%s: %s as %s", e.Network, ErrAlreadyBroadcast, e.TxID)
}

func (e *AlreadyBroadcastError) Is(target error) bool {
	return target == ErrAlreadyBroadcast
}
