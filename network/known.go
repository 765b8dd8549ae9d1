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

package network

import (
	"slices"
	"strings"
)

// Option keys understood by the adapters
const (
	OptionRPCUser         = "rpcUser"
	OptionRPCPassword     = "rpcPassword"
	OptionFeeRate         = "feeRate"
	OptionSafeFactory     = "safeFactory"
	OptionSafeSingleton   = "safeSingleton"
	OptionFallbackHandler = "fallbackHandler"
	OptionSaltNonce       = "saltNonce"
	OptionRelayerKey      = "relayerKey"
	OptionProgramID       = "multisigProgram"
	OptionPassphrase      = "passphrase"
	OptionProjectID       = "projectId"
)

var known = map[string]Info{
	"bitcoin": {
		ID:          "bitcoin",
		Name:        "Bitcoin",
		Family:      FamilyUTXOScript,
		Currency:    Currency{Symbol: "BTC", Decimals: 8},
		RPCEndpoint: "http://127.0.0.1:8332",
	},
	"bitcoin-testnet": {
		ID:          "bitcoin-testnet",
		Name:        "Bitcoin Testnet",
		Family:      FamilyUTXOScript,
		Testnet:     true,
		Currency:    Currency{Symbol: "tBTC", Decimals: 8},
		RPCEndpoint: "http://127.0.0.1:18332",
	},
	"ethereum": {
		ID:          "ethereum",
		Name:        "Ethereum",
		Family:      FamilyEVMContractWallet,
		Currency:    Currency{Symbol: "ETH", Decimals: 18},
		RPCEndpoint: "https://ethereum-rpc.publicnode.com",
		ChainID:     1,
		Options:     safeDefaults(),
	},
	"sepolia": {
		ID:          "sepolia",
		Name:        "Ethereum Sepolia",
		Family:      FamilyEVMContractWallet,
		Testnet:     true,
		Currency:    Currency{Symbol: "ETH", Decimals: 18},
		RPCEndpoint: "https://ethereum-sepolia-rpc.publicnode.com",
		ChainID:     11155111,
		Options:     safeDefaults(),
	},
	"polygon": {
		ID:          "polygon",
		Name:        "Polygon PoS",
		Family:      FamilyEVMContractWallet,
		Currency:    Currency{Symbol: "POL", Decimals: 18},
		RPCEndpoint: "https://polygon-rpc.com",
		ChainID:     137,
		Options:     safeDefaults(),
	},
	"solana": {
		ID:          "solana",
		Name:        "Solana",
		Family:      FamilyProgramDerivedAddress,
		Currency:    Currency{Symbol: "SOL", Decimals: 9},
		RPCEndpoint: "https://api.mainnet-beta.solana.com",
		Options:     map[string]string{OptionProgramID: defaultMultisigProgram},
	},
	"solana-devnet": {
		ID:          "solana-devnet",
		Name:        "Solana Devnet",
		Family:      FamilyProgramDerivedAddress,
		Testnet:     true,
		Currency:    Currency{Symbol: "SOL", Decimals: 9},
		RPCEndpoint: "https://api.devnet.solana.com",
		Options:     map[string]string{OptionProgramID: defaultMultisigProgram},
	},
	"stellar": {
		ID:          "stellar",
		Name:        "Stellar",
		Family:      FamilyAccountKeyList,
		Currency:    Currency{Symbol: "XLM", Decimals: 7},
		RPCEndpoint: "https://horizon.stellar.org",
		Options: map[string]string{
			OptionPassphrase: "Public Global Stellar Network ; September 2015",
		},
	},
	"stellar-testnet": {
		ID:          "stellar-testnet",
		Name:        "Stellar Testnet",
		Family:      FamilyAccountKeyList,
		Testnet:     true,
		Currency:    Currency{Symbol: "XLM", Decimals: 7},
		RPCEndpoint: "https://horizon-testnet.stellar.org",
		Options: map[string]string{
			OptionPassphrase: "Test SDF Network ; September 2015",
		},
	},
	"cardano": {
		ID:          "cardano",
		Name:        "Cardano",
		Family:      FamilyNativeScript,
		Currency:    Currency{Symbol: "ADA", Decimals: 6},
		RPCEndpoint: "https://cardano-mainnet.blockfrost.io/api/v0",
	},
	"cardano-preview": {
		ID:          "cardano-preview",
		Name:        "Cardano Preview",
		Family:      FamilyNativeScript,
		Testnet:     true,
		Currency:    Currency{Symbol: "tADA", Decimals: 6},
		RPCEndpoint: "https://cardano-preview.blockfrost.io/api/v0",
	},
}

const defaultMultisigProgram = "SQDS4ep65T869zMMBKyuUq6aD6EgTu8psMjkvj52pCf"

// Safe v1.3.0 canonical deployments
func safeDefaults() map[string]string {
	return map[string]string{
		OptionSafeFactory:     "0xa6B71E26C5e0845f74c812102Ca7114b6a896AB2",
		OptionSafeSingleton:   "0x3E5c63644E683549055b9Be8653de26E0B4CD36E",
		OptionFallbackHandler: "0xf48f2B2d2a534e402487b3ee7C18c33Aec0Fe5e4",
	}
}

// Known returns the built-in definition of a network
func Known(id string) (Info, bool) {
	info, ok := known[strings.ToLower(id)]
	if !ok {
		return Info{}, false
	}
	return info.Clone(), true
}

// KnownIDs returns the sorted ids of all built-in networks
func KnownIDs() []string {
	ret := make([]string, 0, len(known))
	for id := range known {
		ret = append(ret, id)
	}
	slices.Sort(ret)
	return ret
}
