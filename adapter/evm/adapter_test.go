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

package evm_test

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/NEILBATCHELOR/wallet-sub001/adapter"
	"github.com/NEILBATCHELOR/wallet-sub001/adapter/evm"
	"github.com/NEILBATCHELOR/wallet-sub001/network"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	nonceSelector     = crypto.Keccak256([]byte("nonce()"))[:4]
	balanceOfSelector = crypto.Keccak256([]byte("balanceOf(address)"))[:4]
	decimalsSelector  = crypto.Keccak256([]byte("decimals()"))[:4]
)

type fakeClient struct {
	balance      *big.Int
	tokenBalance *big.Int
	nonce        int64
	sent         []*types.Transaction
	sendErr      error
	receipts     map[common.Hash]*types.Receipt
}

func word(v int64) []byte {
	return common.LeftPadBytes(big.NewInt(v).Bytes(), 32)
}

func (f *fakeClient) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return new(big.Int).Set(f.balance), nil
}

func (f *fakeClient) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	switch {
	case bytes.HasPrefix(msg.Data, nonceSelector):
		return word(f.nonce), nil
	case bytes.HasPrefix(msg.Data, decimalsSelector):
		return word(6), nil
	case bytes.HasPrefix(msg.Data, balanceOfSelector):
		return common.LeftPadBytes(f.tokenBalance.Bytes(), 32), nil
	}
	return nil, errors.New("unexpected call")
}

func (f *fakeClient) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 7, nil
}

func (f *fakeClient) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeClient) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(10_000_000_000)}, nil
}

func (f *fakeClient) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 100_000, nil
}

func (f *fakeClient) SendTransaction(_ context.Context, tx *types.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeClient) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	if r, ok := f.receipts[hash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

type fixture struct {
	adapter *evm.Adapter
	client  *fakeClient
	keys    []*adapter.LocalKey
	owners  []string
	address string
}

func newFixture(t *testing.T, balanceWei *big.Int) *fixture {
	t.Helper()
	info, ok := network.Known("sepolia")
	require.True(t, ok)
	relayer, err := crypto.GenerateKey()
	require.NoError(t, err)
	info = info.WithOption(network.OptionRelayerKey, common.Bytes2Hex(crypto.FromECDSA(relayer)))
	fc := &fakeClient{
		balance:      balanceWei,
		tokenBalance: big.NewInt(0),
		nonce:        3,
		receipts:     map[common.Hash]*types.Receipt{},
	}
	a, err := evm.New(info, evm.WithClient(fc))
	require.NoError(t, err)
	f := &fixture{adapter: a, client: fc}
	for range 3 {
		k, err := adapter.GenerateLocalKey(network.CurveSecp256k1)
		require.NoError(t, err)
		pub, err := crypto.DecompressPubkey(k.PublicKey())
		require.NoError(t, err)
		f.keys = append(f.keys, k)
		f.owners = append(f.owners, crypto.PubkeyToAddress(*pub).Hex())
	}
	f.address, err = a.GenerateMultiSigAddress(context.Background(), f.owners, 2)
	require.NoError(t, err)
	return f
}

func (f *fixture) wallet() adapter.WalletInfo {
	return adapter.WalletInfo{Address: f.address, Owners: f.owners, Threshold: 2}
}

func ether(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), big.NewInt(1e18))
}

func TestAddress(t *testing.T) {
	f := newFixture(t, ether(1))
	assert.True(t, f.adapter.ValidateAddress(f.address))
	reordered := []string{f.owners[2], f.owners[0], f.owners[1]}
	again, err := f.adapter.GenerateMultiSigAddress(context.Background(), reordered, 2)
	require.NoError(t, err)
	assert.Equal(t, f.address, again)

	other, err := f.adapter.GenerateMultiSigAddress(context.Background(), f.owners, 3)
	require.NoError(t, err)
	assert.NotEqual(t, f.address, other)

	_, err = f.adapter.GenerateMultiSigAddress(context.Background(), []string{"0x1234"}, 1)
	assert.ErrorIs(t, err, adapter.ErrAddressGeneration)
	_, err = f.adapter.GenerateMultiSigAddress(context.Background(), f.owners, 5)
	assert.ErrorIs(t, err, adapter.ErrAddressGeneration)

	assert.False(t, f.adapter.ValidateAddress("0x1234"))
	assert.False(t, f.adapter.ValidateAddress(strings.Repeat("a", 40)))
	assert.False(t, f.adapter.ValidateAddress("0x"+strings.Repeat("z", 40)))
}

func TestBalance(t *testing.T) {
	f := newFixture(t, big.NewInt(500_000_000_000_000_000))
	bal, err := f.adapter.GetBalance(context.Background(), f.address, "")
	require.NoError(t, err)
	assert.Equal(t, "0.5", bal)

	token := common.HexToAddress("0x00000000000000000000000000000000000000aa").Hex()
	bal, err = f.adapter.GetBalance(context.Background(), f.address, token)
	require.NoError(t, err)
	assert.Equal(t, "0", bal)
}

func TestInsufficientFunds(t *testing.T) {
	f := newFixture(t, big.NewInt(500_000_000_000_000_000))
	_, err := f.adapter.CreateTransaction(context.Background(), adapter.CreateParams{
		ToAddress: f.owners[0],
		Amount:    "1.0",
		Wallet:    f.wallet(),
	})
	assert.ErrorIs(t, err, adapter.ErrInsufficientFunds)

	token := common.HexToAddress("0x00000000000000000000000000000000000000aa").Hex()
	_, err = f.adapter.CreateTransaction(context.Background(), adapter.CreateParams{
		ToAddress:    f.owners[0],
		Amount:       "1",
		TokenAddress: token,
		Wallet:       f.wallet(),
	})
	assert.ErrorIs(t, err, adapter.ErrInsufficientFunds)
}

func TestLifecycle(t *testing.T) {
	f := newFixture(t, ether(2))
	ctx := context.Background()
	p, err := f.adapter.CreateTransaction(ctx, adapter.CreateParams{
		ToAddress: f.owners[0],
		Amount:    "1.5",
		Wallet:    f.wallet(),
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(p.ID, "0x"))
	assert.Equal(t, f.address, p.FromAddress)

	var sigs []adapter.Signature
	for _, k := range f.keys[:2] {
		sig, err := f.adapter.SignTransaction(ctx, p, k)
		require.NoError(t, err)
		require.Len(t, sig.Blob, 65)
		assert.GreaterOrEqual(t, sig.Blob[64], byte(27))
		sigs = append(sigs, sig)
	}
	assert.Empty(t, p.Signatures)

	combined, err := f.adapter.CombineSignatures(ctx, p, sigs)
	require.NoError(t, err)
	again, err := f.adapter.CombineSignatures(ctx, combined, sigs)
	require.NoError(t, err)
	assert.Equal(t, combined.Signatures, again.Signatures)
	require.Len(t, combined.Signatures, 2)
	a0 := common.HexToAddress(combined.Signatures[0].Signer)
	a1 := common.HexToAddress(combined.Signatures[1].Signer)
	assert.Equal(t, -1, bytes.Compare(a0[:], a1[:]))

	txID, err := f.adapter.BroadcastTransaction(ctx, combined)
	require.NoError(t, err)
	require.Len(t, f.client.sent, 1)
	sent := f.client.sent[0]
	assert.Equal(t, txID, sent.Hash().Hex())
	assert.Equal(t, common.HexToAddress(f.address), *sent.To())
	assert.Equal(t, uint64(7), sent.Nonce())

	execABI, err := abi.JSON(strings.NewReader(`[{"type":"function","name":"execTransaction","inputs":[
	 {"name":"to","type":"address"},{"name":"value","type":"uint256"},{"name":"data","type":"bytes"},
	 {"name":"operation","type":"uint8"},{"name":"safeTxGas","type":"uint256"},{"name":"baseGas","type":"uint256"},
	 {"name":"gasPrice","type":"uint256"},{"name":"gasToken","type":"address"},{"name":"refundReceiver","type":"address"},
	 {"name":"signatures","type":"bytes"}],"outputs":[{"name":"success","type":"bool"}]}]`))
	require.NoError(t, err)
	args, err := execABI.Methods["execTransaction"].Inputs.Unpack(sent.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(f.owners[0]), args[0])
	packedSigs, ok := args[9].([]byte)
	require.True(t, ok)
	assert.Len(t, packedSigs, 130)

	status, err := f.adapter.GetTransactionStatus(ctx, txID)
	require.NoError(t, err)
	assert.Equal(t, adapter.StatusPending, status)
	f.client.receipts[sent.Hash()] = &types.Receipt{Status: types.ReceiptStatusSuccessful}
	status, err = f.adapter.GetTransactionStatus(ctx, txID)
	require.NoError(t, err)
	assert.Equal(t, adapter.StatusConfirmed, status)
	f.client.receipts[sent.Hash()] = &types.Receipt{Status: types.ReceiptStatusFailed}
	status, err = f.adapter.GetTransactionStatus(ctx, txID)
	require.NoError(t, err)
	assert.Equal(t, adapter.StatusFailed, status)
}

func TestBroadcastBelowThreshold(t *testing.T) {
	f := newFixture(t, ether(2))
	ctx := context.Background()
	p, err := f.adapter.CreateTransaction(ctx, adapter.CreateParams{
		ToAddress: f.owners[0],
		Amount:    "1",
		Wallet:    f.wallet(),
	})
	require.NoError(t, err)
	sig, err := f.adapter.SignTransaction(ctx, p, f.keys[0])
	require.NoError(t, err)
	combined, err := f.adapter.CombineSignatures(ctx, p, []adapter.Signature{sig})
	require.NoError(t, err)
	_, err = f.adapter.BroadcastTransaction(ctx, combined)
	assert.ErrorIs(t, err, adapter.ErrThresholdNotMet)
	assert.Empty(t, f.client.sent)
}

func TestAlreadyKnown(t *testing.T) {
	f := newFixture(t, ether(2))
	ctx := context.Background()
	p, err := f.adapter.CreateTransaction(ctx, adapter.CreateParams{
		ToAddress: f.owners[0],
		Amount:    "1",
		Wallet:    f.wallet(),
	})
	require.NoError(t, err)
	for _, k := range f.keys[1:] {
		sig, err := f.adapter.SignTransaction(ctx, p, k)
		require.NoError(t, err)
		p.Signatures = append(p.Signatures, sig)
	}
	f.client.sendErr = errors.New("already known")
	_, err = f.adapter.BroadcastTransaction(ctx, p)
	assert.ErrorIs(t, err, adapter.ErrAlreadyBroadcast)
}

func TestSignRejectsForgedSignature(t *testing.T) {
	f := newFixture(t, ether(2))
	ctx := context.Background()
	p, err := f.adapter.CreateTransaction(ctx, adapter.CreateParams{
		ToAddress: f.owners[0],
		Amount:    "1",
		Wallet:    f.wallet(),
	})
	require.NoError(t, err)
	stranger, err := adapter.GenerateLocalKey(network.CurveSecp256k1)
	require.NoError(t, err)
	_, err = f.adapter.SignTransaction(ctx, p, stranger)
	assert.ErrorIs(t, err, adapter.ErrSigning)

	sig, err := f.adapter.SignTransaction(ctx, p, f.keys[0])
	require.NoError(t, err)
	// Claiming another owner's identity is rejected at combine time
	sig.Signer = f.owners[1]
	_, err = f.adapter.CombineSignatures(ctx, p, []adapter.Signature{sig})
	assert.ErrorIs(t, err, adapter.ErrSigning)
}
