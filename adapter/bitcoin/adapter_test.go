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

package bitcoin_test

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"slices"
	"strings"
	"testing"

	"github.com/NEILBATCHELOR/wallet-sub001/adapter"
	"github.com/NEILBATCHELOR/wallet-sub001/adapter/bitcoin"
	"github.com/NEILBATCHELOR/wallet-sub001/network"
	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	utxos   []bitcoin.UTXO
	feeRate int64
	sent    []string
	sendErr error
	txs     map[string]*bitcoin.TxInfo
}

func (f *fakeClient) ScanAddress(context.Context, string) ([]bitcoin.UTXO, error) {
	return slices.Clone(f.utxos), nil
}

func (f *fakeClient) EstimateFeeRate(context.Context, int) (int64, error) {
	return f.feeRate, nil
}

func (f *fakeClient) SendRawTransaction(_ context.Context, tx *wire.MsgTx) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", err
	}
	f.sent = append(f.sent, hex.EncodeToString(buf.Bytes()))
	return tx.TxHash().String(), nil
}

func (f *fakeClient) GetTransaction(_ context.Context, txID string) (*bitcoin.TxInfo, error) {
	if info, ok := f.txs[txID]; ok {
		return info, nil
	}
	return nil, bitcoin.ErrTxNotFound
}

type fixture struct {
	adapter *bitcoin.Adapter
	client  *fakeClient
	keys    []*adapter.LocalKey
	owners  []string
	address string
}

func newFixture(t *testing.T, utxoSats ...int64) *fixture {
	t.Helper()
	info, ok := network.Known("bitcoin-testnet")
	require.True(t, ok)
	fc := &fakeClient{feeRate: 2, txs: map[string]*bitcoin.TxInfo{}}
	for i, v := range utxoSats {
		fc.utxos = append(fc.utxos, bitcoin.UTXO{
			TxID:   strings.Repeat(string(rune('a'+i)), 64),
			Vout:   uint32(i),
			Amount: v,
		})
	}
	a, err := bitcoin.New(info, bitcoin.WithClient(fc))
	require.NoError(t, err)
	f := &fixture{adapter: a, client: fc}
	for range 3 {
		k, err := adapter.GenerateLocalKey(network.CurveSecp256k1)
		require.NoError(t, err)
		f.keys = append(f.keys, k)
		f.owners = append(f.owners, hex.EncodeToString(k.PublicKey()))
	}
	f.address, err = a.GenerateMultiSigAddress(context.Background(), f.owners, 2)
	require.NoError(t, err)
	return f
}

func (f *fixture) destination(t *testing.T) string {
	t.Helper()
	k, err := adapter.GenerateLocalKey(network.CurveSecp256k1)
	require.NoError(t, err)
	addr, err := btcutil.NewAddressPubKeyHash(
		btcutil.Hash160(k.PublicKey()),
		&chaincfg.TestNet3Params,
	)
	require.NoError(t, err)
	return addr.EncodeAddress()
}

func (f *fixture) wallet() adapter.WalletInfo {
	return adapter.WalletInfo{Address: f.address, Owners: f.owners, Threshold: 2}
}

func TestAddressDeterministicAndValid(t *testing.T) {
	f := newFixture(t)
	assert.True(t, f.adapter.ValidateAddress(f.address))
	assert.True(t, strings.HasPrefix(f.address, "2"))

	reversed := slices.Clone(f.owners)
	slices.Reverse(reversed)
	again, err := f.adapter.GenerateMultiSigAddress(context.Background(), reversed, 2)
	require.NoError(t, err)
	assert.Equal(t, f.address, again)

	assert.False(t, f.adapter.ValidateAddress("not-an-address"))
	assert.False(t, f.adapter.ValidateAddress(hex.EncodeToString([]byte("random bytes"))))
	// mainnet address on testnet adapter
	assert.False(t, f.adapter.ValidateAddress("3J98t1WpEZ73CNmQviecrnyiWrnqRhWNLy"))
}

func TestAddressErrors(t *testing.T) {
	f := newFixture(t)
	_, err := f.adapter.GenerateMultiSigAddress(context.Background(), f.owners, 4)
	assert.ErrorIs(t, err, adapter.ErrAddressGeneration)
	_, err = f.adapter.GenerateMultiSigAddress(context.Background(), []string{"zz", f.owners[0]}, 1)
	assert.ErrorIs(t, err, adapter.ErrAddressGeneration)
}

func TestBalance(t *testing.T) {
	f := newFixture(t, 25_000_000, 25_000_000)
	bal, err := f.adapter.GetBalance(context.Background(), f.address, "")
	require.NoError(t, err)
	assert.Equal(t, "0.5", bal)

	empty := newFixture(t)
	bal, err = empty.adapter.GetBalance(context.Background(), empty.address, "")
	require.NoError(t, err)
	assert.Equal(t, "0", bal)
}

func TestInsufficientFunds(t *testing.T) {
	f := newFixture(t, 50_000_000)
	_, err := f.adapter.CreateTransaction(context.Background(), adapter.CreateParams{
		FromAddress: f.address,
		ToAddress:   f.destination(t),
		Amount:      "1.0",
		Wallet:      f.wallet(),
	})
	require.ErrorIs(t, err, adapter.ErrInsufficientFunds)
	var ife *adapter.InsufficientFundsError
	require.ErrorAs(t, err, &ife)
	assert.Equal(t, "0.5", ife.Available)
	assert.Empty(t, f.client.sent)
}

func TestSignCombineBroadcast(t *testing.T) {
	f := newFixture(t, 30_000_000, 40_000_000)
	ctx := context.Background()
	p, err := f.adapter.CreateTransaction(ctx, adapter.CreateParams{
		FromAddress: f.address,
		ToAddress:   f.destination(t),
		Amount:      "0.6",
		Wallet:      f.wallet(),
	})
	require.NoError(t, err)
	assert.Equal(t, adapter.StatusPending, p.Status)
	assert.Empty(t, p.Signatures)
	rawBefore := slices.Clone(p.Raw)

	// Signing is pure wrt the proposal
	sig0, err := f.adapter.SignTransaction(ctx, p, f.keys[2])
	require.NoError(t, err)
	sig1, err := f.adapter.SignTransaction(ctx, p, f.keys[0])
	require.NoError(t, err)
	assert.Equal(t, rawBefore, p.Raw)
	assert.Equal(t, f.owners[2], sig0.Signer)

	// Not enough signatures to broadcast
	partial, err := f.adapter.CombineSignatures(ctx, p, []adapter.Signature{sig0})
	require.NoError(t, err)
	_, err = f.adapter.BroadcastTransaction(ctx, partial)
	require.ErrorIs(t, err, adapter.ErrThresholdNotMet)
	assert.Empty(t, f.client.sent)

	combined, err := f.adapter.CombineSignatures(ctx, p, []adapter.Signature{sig0, sig1})
	require.NoError(t, err)
	again, err := f.adapter.CombineSignatures(ctx, combined, []adapter.Signature{sig0, sig1})
	require.NoError(t, err)
	assert.Equal(t, combined.Raw, again.Raw)
	assert.Equal(t, combined.Signatures, again.Signatures)

	// Every input must satisfy the P2SH script
	var raw struct {
		SignedTx    string  `json:"signedTx"`
		InputValues []int64 `json:"inputValues"`
	}
	require.NoError(t, json.Unmarshal(combined.Raw, &raw))
	signedBytes, err := hex.DecodeString(raw.SignedTx)
	require.NoError(t, err)
	signed := wire.NewMsgTx(wire.TxVersion)
	require.NoError(t, signed.Deserialize(bytes.NewReader(signedBytes)))
	addr, err := btcutil.DecodeAddress(f.address, &chaincfg.TestNet3Params)
	require.NoError(t, err)
	pkScript, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)
	for idx := range signed.TxIn {
		fetcher := txscript.NewCannedPrevOutputFetcher(pkScript, raw.InputValues[idx])
		vm, err := txscript.NewEngine(
			pkScript,
			signed,
			idx,
			txscript.StandardVerifyFlags,
			nil,
			txscript.NewTxSigHashes(signed, fetcher),
			raw.InputValues[idx],
			fetcher,
		)
		require.NoError(t, err)
		require.NoError(t, vm.Execute())
	}

	txID, err := f.adapter.BroadcastTransaction(ctx, combined)
	require.NoError(t, err)
	assert.Equal(t, signed.TxHash().String(), txID)
	require.Len(t, f.client.sent, 1)

	status, err := f.adapter.GetTransactionStatus(ctx, txID)
	require.NoError(t, err)
	assert.Equal(t, adapter.StatusPending, status)
	f.client.txs[txID] = &bitcoin.TxInfo{TxID: txID, Confirmations: 3}
	status, err = f.adapter.GetTransactionStatus(ctx, txID)
	require.NoError(t, err)
	assert.Equal(t, adapter.StatusConfirmed, status)

	combined.NetworkTxID = txID
	_, err = f.adapter.BroadcastTransaction(ctx, combined)
	assert.ErrorIs(t, err, adapter.ErrAlreadyBroadcast)
}

func TestBroadcastAlreadyKnown(t *testing.T) {
	f := newFixture(t, 100_000_000)
	ctx := context.Background()
	p, err := f.adapter.CreateTransaction(ctx, adapter.CreateParams{
		ToAddress: f.destination(t),
		Amount:    "0.1",
		Wallet:    f.wallet(),
	})
	require.NoError(t, err)
	var sigs []adapter.Signature
	for _, k := range f.keys[:2] {
		sig, err := f.adapter.SignTransaction(ctx, p, k)
		require.NoError(t, err)
		sigs = append(sigs, sig)
	}
	combined, err := f.adapter.CombineSignatures(ctx, p, sigs)
	require.NoError(t, err)
	f.client.sendErr = &btcjson.RPCError{Code: -27, Message: "Transaction already in block chain"}
	_, err = f.adapter.BroadcastTransaction(ctx, combined)
	require.ErrorIs(t, err, adapter.ErrAlreadyBroadcast)
	var abe *adapter.AlreadyBroadcastError
	require.ErrorAs(t, err, &abe)
	assert.NotEmpty(t, abe.TxID)

	f.client.sendErr = &btcjson.RPCError{Code: -26, Message: "mandatory-script-verify-flag-failed"}
	_, err = f.adapter.BroadcastTransaction(ctx, combined)
	assert.ErrorIs(t, err, adapter.ErrBroadcast)
}

func TestSignWithNonOwner(t *testing.T) {
	f := newFixture(t, 100_000_000)
	ctx := context.Background()
	p, err := f.adapter.CreateTransaction(ctx, adapter.CreateParams{
		ToAddress: f.destination(t),
		Amount:    "0.1",
		Wallet:    f.wallet(),
	})
	require.NoError(t, err)
	stranger, err := adapter.GenerateLocalKey(network.CurveSecp256k1)
	require.NoError(t, err)
	_, err = f.adapter.SignTransaction(ctx, p, stranger)
	assert.ErrorIs(t, err, adapter.ErrSigning)

	edKey, err := adapter.GenerateLocalKey(network.CurveEd25519)
	require.NoError(t, err)
	_, err = f.adapter.SignTransaction(ctx, p, edKey)
	assert.ErrorIs(t, err, adapter.ErrSigning)
}
