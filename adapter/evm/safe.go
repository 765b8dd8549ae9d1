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

package evm

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math/big"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const safeABIJSON = `[
{"type":"function","name":"setup","stateMutability":"nonpayable","inputs":[
 {"name":"_owners","type":"address[]"},{"name":"_threshold","type":"uint256"},
 {"name":"to","type":"address"},{"name":"data","type":"bytes"},
 {"name":"fallbackHandler","type":"address"},{"name":"paymentToken","type":"address"},
 {"name":"payment","type":"uint256"},{"name":"paymentReceiver","type":"address"}],"outputs":[]},
{"type":"function","name":"nonce","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"execTransaction","stateMutability":"payable","inputs":[
 {"name":"to","type":"address"},{"name":"value","type":"uint256"},{"name":"data","type":"bytes"},
 {"name":"operation","type":"uint8"},{"name":"safeTxGas","type":"uint256"},{"name":"baseGas","type":"uint256"},
 {"name":"gasPrice","type":"uint256"},{"name":"gasToken","type":"address"},{"name":"refundReceiver","type":"address"},
 {"name":"signatures","type":"bytes"}],"outputs":[{"name":"success","type":"bool"}]},
{"type":"event","name":"ExecutionFailure","anonymous":false,"inputs":[
 {"name":"txHash","type":"bytes32","indexed":false},{"name":"payment","type":"uint256","indexed":false}]}
]`

const erc20ABIJSON = `[
{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
{"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

var (
	safeABI  = mustABI(safeABIJSON)
	erc20ABI = mustABI(erc20ABIJSON)

	domainTypeHash = crypto.Keccak256Hash(
		[]byte("EIP712Domain(uint256 chainId,address verifyingContract)"),
	)
	safeTxTypeHash = crypto.Keccak256Hash([]byte(
		"SafeTx(address to,uint256 value,bytes data,uint8 operation," +
			"uint256 safeTxGas,uint256 baseGas,uint256 gasPrice," +
			"address gasToken,address refundReceiver,uint256 nonce)",
	))
	executionFailureTopic = safeABI.Events["ExecutionFailure"].ID

	// EIP-1167 clone of the singleton, used when no proxy creation code is
	// configured for the network
	minimalProxyPrefix = common.FromHex("3d602d80600a3d3981f3363d3d373d3d3d363d73")
	minimalProxySuffix = common.FromHex("5af43d82803e903d91602b57fd5bf3")

	uint256Type, _ = abi.NewType("uint256", "", nil)
	uint8Type, _   = abi.NewType("uint8", "", nil)
	addressType, _ = abi.NewType("address", "", nil)
	bytes32Type, _ = abi.NewType("bytes32", "", nil)
)

func mustABI(def string) abi.ABI {
	ret, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid ABI: %s", err))
	}
	return ret
}

// safeTx is the EIP-712 SafeTx message plus the context needed to hash it
type safeTx struct {
	Safe           common.Address `json:"safe"`
	ChainID        *big.Int       `json:"chainId"`
	To             common.Address `json:"to"`
	Value          *big.Int       `json:"value"`
	Data           hexBytes       `json:"data"`
	Operation      uint8          `json:"operation"`
	SafeTxGas      *big.Int       `json:"safeTxGas"`
	BaseGas        *big.Int       `json:"baseGas"`
	GasPrice       *big.Int       `json:"gasPrice"`
	GasToken       common.Address `json:"gasToken"`
	RefundReceiver common.Address `json:"refundReceiver"`
	Nonce          *big.Int       `json:"nonce"`
}

type hexBytes []byte

func (h hexBytes) MarshalText() ([]byte, error) {
	return []byte("0x" + hex.EncodeToString(h)), nil
}

func (h *hexBytes) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(strings.TrimPrefix(string(text), "0x"))
	if err != nil {
		return err
	}
	*h = b
	return nil
}

func (t *safeTx) domainSeparator() (common.Hash, error) {
	args := abi.Arguments{{Type: bytes32Type}, {Type: uint256Type}, {Type: addressType}}
	packed, err := args.Pack([32]byte(domainTypeHash), t.ChainID, t.Safe)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(packed), nil
}

// Hash returns the EIP-712 digest that owners sign
func (t *safeTx) Hash() (common.Hash, error) {
	domain, err := t.domainSeparator()
	if err != nil {
		return common.Hash{}, err
	}
	args := abi.Arguments{
		{Type: bytes32Type},
		{Type: addressType},
		{Type: uint256Type},
		{Type: bytes32Type},
		{Type: uint8Type},
		{Type: uint256Type},
		{Type: uint256Type},
		{Type: uint256Type},
		{Type: addressType},
		{Type: addressType},
		{Type: uint256Type},
	}
	packed, err := args.Pack(
		[32]byte(safeTxTypeHash),
		t.To,
		t.Value,
		[32]byte(crypto.Keccak256Hash(t.Data)),
		t.Operation,
		t.SafeTxGas,
		t.BaseGas,
		t.GasPrice,
		t.GasToken,
		t.RefundReceiver,
		t.Nonce,
	)
	if err != nil {
		return common.Hash{}, err
	}
	structHash := crypto.Keccak256(packed)
	return crypto.Keccak256Hash([]byte{0x19, 0x01}, domain[:], structHash), nil
}

// sortOwners returns owners as addresses in ascending byte order
func sortOwners(owners []string) ([]common.Address, error) {
	ret := make([]common.Address, 0, len(owners))
	for _, owner := range owners {
		if !common.IsHexAddress(owner) {
			return nil, fmt.Errorf("malformed owner address %q", owner)
		}
		ret = append(ret, common.HexToAddress(owner))
	}
	slices.SortFunc(ret, func(a, b common.Address) int {
		return bytes.Compare(a[:], b[:])
	})
	return ret, nil
}

// predictSafeAddress computes the CREATE2 address of a proxy deployed by
// factory for the given setup initializer
func predictSafeAddress(
	factory common.Address,
	singleton common.Address,
	creationCode []byte,
	initializer []byte,
	saltNonce *big.Int,
) common.Address {
	salt := crypto.Keccak256Hash(
		crypto.Keccak256(initializer),
		common.LeftPadBytes(saltNonce.Bytes(), 32),
	)
	var deployment []byte
	if len(creationCode) == 0 {
		deployment = slices.Concat(minimalProxyPrefix, singleton[:], minimalProxySuffix)
	} else {
		deployment = slices.Concat(creationCode, common.LeftPadBytes(singleton[:], 32))
	}
	return crypto.CreateAddress2(factory, salt, crypto.Keccak256(deployment))
}
