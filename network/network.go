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

// Package network describes the blockchain networks the service can
// coordinate multisig transfers on.
package network

import (
	"errors"
	"fmt"
	"maps"
)

var (
	ErrUnknownFamily  = errors.New("unknown network family")
	ErrMissingID      = errors.New("network id is required")
	ErrInvalidDecimal = errors.New("currency decimals out of range")
)

// Family groups networks that share a transaction model
type Family string

const (
	FamilyUTXOScript            Family = "utxo-script"
	FamilyEVMContractWallet     Family = "evm-contract-wallet"
	FamilyAccountKeyList        Family = "account-key-list"
	FamilyProgramDerivedAddress Family = "program-derived-address"
	FamilyNativeScript          Family = "native-script"
)

// Curve returns the signature curve used by co-signers of the family
func (f Family) Curve() string {
	switch f {
	case FamilyUTXOScript, FamilyEVMContractWallet:
		return CurveSecp256k1
	case FamilyAccountKeyList, FamilyProgramDerivedAddress, FamilyNativeScript:
		return CurveEd25519
	default:
		return ""
	}
}

func (f Family) valid() bool {
	return f.Curve() != ""
}

const (
	CurveSecp256k1 = "secp256k1"
	CurveEd25519   = "ed25519"
)

// Currency is the native unit of a network
type Currency struct {
	Symbol   string `yaml:"symbol"   json:"symbol"`
	Decimals int32  `yaml:"decimals" json:"decimals"`
}

// Info identifies a network. Values are copied out of the registry and
// must be treated as immutable.
type Info struct {
	ID          string            `yaml:"id"          json:"id"`
	Name        string            `yaml:"name"        json:"name"`
	Family      Family            `yaml:"family"      json:"family"`
	Testnet     bool              `yaml:"testnet"     json:"testnet"`
	Currency    Currency          `yaml:"currency"    json:"currency"`
	RPCEndpoint string            `yaml:"rpcEndpoint" json:"rpcEndpoint"`
	ChainID     int64             `yaml:"chainId"     json:"chainId,omitempty"`
	Options     map[string]string `yaml:"options"     json:"options,omitempty"`
}

// Validate checks that the info is complete enough to build an adapter
func (i Info) Validate() error {
	if i.ID == "" {
		return ErrMissingID
	}
	if !i.Family.valid() {
		return fmt.Errorf("%w: %q", ErrUnknownFamily, i.Family)
	}
	if i.Currency.Decimals < 0 || i.Currency.Decimals > 36 {
		return fmt.Errorf("%w: %d", ErrInvalidDecimal, i.Currency.Decimals)
	}
	return nil
}

// Option returns a network option, or the fallback when unset
func (i Info) Option(key string, fallback string) string {
	if v, ok := i.Options[key]; ok && v != "" {
		return v
	}
	return fallback
}

// WithEndpoint returns a copy of the info using a different RPC endpoint
func (i Info) WithEndpoint(endpoint string) Info {
	ret := i.Clone()
	ret.RPCEndpoint = endpoint
	return ret
}

// WithOption returns a copy of the info with an option set
func (i Info) WithOption(key string, value string) Info {
	ret := i.Clone()
	if ret.Options == nil {
		ret.Options = make(map[string]string)
	}
	ret.Options[key] = value
	return ret
}

// Clone returns a deep copy of the info
func (i Info) Clone() Info {
	ret := i
	if i.Options != nil {
		ret.Options = maps.Clone(i.Options)
	}
	return ret
}
