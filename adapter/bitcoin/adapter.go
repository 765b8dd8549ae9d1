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

// Package bitcoin implements the UTXO-script family as P2SH multisig
package bitcoin

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/NEILBATCHELOR/wallet-sub001/adapter"
	"github.com/NEILBATCHELOR/wallet-sub001/network"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

const (
	dustLimit          = 546
	defaultFeeRate     = 10
	feeTargetBlocks    = 6
	confirmationsFinal = 1
)

type Adapter struct {
	info   network.Info
	params *chaincfg.Params
	client Client
	logger *slog.Logger
}

type OptionFunc func(*Adapter)

// WithClient overrides the bitcoind client
func WithClient(c Client) OptionFunc {
	return func(a *Adapter) {
		a.client = c
	}
}

// WithLogger specifies the logger
func WithLogger(logger *slog.Logger) OptionFunc {
	return func(a *Adapter) {
		a.logger = logger
	}
}

func New(info network.Info, opts ...OptionFunc) (*Adapter, error) {
	if info.Family != network.FamilyUTXOScript {
		return nil, fmt.Errorf("%w: %s", network.ErrUnknownFamily, info.Family)
	}
	a := &Adapter{
		info:   info.Clone(),
		params: chainParams(info),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	a.logger = a.logger.With("component", "adapter", "network", info.ID)
	if a.client == nil {
		config, err := ConnConfig(
			info.RPCEndpoint,
			info.Option(network.OptionRPCUser, ""),
			info.Option(network.OptionRPCPassword, ""),
		)
		if err != nil {
			return nil, err
		}
		a.client = NewRPCClient(config)
	}
	return a, nil
}

func chainParams(info network.Info) *chaincfg.Params {
	switch {
	case info.Option("chain", "") == "regtest":
		return &chaincfg.RegressionNetParams
	case info.Testnet:
		return &chaincfg.TestNet3Params
	default:
		return &chaincfg.MainNetParams
	}
}

func (a *Adapter) Network() network.Info {
	return a.info.Clone()
}

// Close releases the bitcoind connection when the client holds one
func (a *Adapter) Close() error {
	if c, ok := a.client.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (a *Adapter) GenerateMultiSigAddress(_ context.Context, owners []string, threshold int) (string, error) {
	if err := adapter.CheckOwners(owners, threshold); err != nil {
		return "", adapter.Wrap(adapter.ErrAddressGeneration, a.info.ID, "address", err)
	}
	script, _, err := redeemScript(owners, threshold, a.params)
	if err != nil {
		return "", adapter.Wrap(adapter.ErrAddressGeneration, a.info.ID, "address", err)
	}
	addr, err := btcutil.NewAddressScriptHash(script, a.params)
	if err != nil {
		return "", adapter.Wrap(adapter.ErrAddressGeneration, a.info.ID, "address", err)
	}
	return addr.EncodeAddress(), nil
}

func (a *Adapter) ValidateAddress(address string) bool {
	addr, err := btcutil.DecodeAddress(address, a.params)
	if err != nil {
		return false
	}
	return addr.IsForNet(a.params)
}

func (a *Adapter) GetBalance(ctx context.Context, address string, tokenAddress string) (string, error) {
	if tokenAddress != "" {
		// No token support on the base layer
		return "0", nil
	}
	utxos, err := a.client.ScanAddress(ctx, address)
	if err != nil {
		return "", adapter.Wrap(adapter.ErrNetworkQuery, a.info.ID, "balance", err)
	}
	var total int64
	for _, u := range utxos {
		total += u.Amount
	}
	return adapter.FromAtomic(big.NewInt(total), a.info.Currency.Decimals), nil
}

// rawTx is the adapter's opaque proposal payload
type rawTx struct {
	Tx           string  `json:"tx"`
	RedeemScript string  `json:"redeemScript"`
	InputValues  []int64 `json:"inputValues"`
	Fee          int64   `json:"fee"`
	SignedTx     string  `json:"signedTx,omitempty"`
}

func (a *Adapter) decodeRaw(p *adapter.Proposal) (*rawTx, *wire.MsgTx, []byte, error) {
	var raw rawTx
	if err := json.Unmarshal(p.Raw, &raw); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %w", adapter.ErrUnknownRaw, err)
	}
	txBytes, err := hex.DecodeString(raw.Tx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %w", adapter.ErrUnknownRaw, err)
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(txBytes)); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %w", adapter.ErrUnknownRaw, err)
	}
	script, err := hex.DecodeString(raw.RedeemScript)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %w", adapter.ErrUnknownRaw, err)
	}
	return &raw, tx, script, nil
}

func (a *Adapter) feeRate(ctx context.Context) int64 {
	if v, err := strconv.ParseInt(a.info.Option(network.OptionFeeRate, ""), 10, 64); err == nil && v > 0 {
		return v
	}
	rate, err := a.client.EstimateFeeRate(ctx, feeTargetBlocks)
	if err != nil || rate <= 0 {
		if err != nil {
			a.logger.Debug("fee estimate unavailable", "error", err)
		}
		return defaultFeeRate
	}
	return rate
}

// estimateVSize approximates a legacy P2SH multisig spend
func estimateVSize(inputs int, outputs int, m int, n int) int64 {
	inputSize := 49 + 74*m + 34*n
	return int64(10 + inputs*inputSize + outputs*34)
}

func (a *Adapter) CreateTransaction(ctx context.Context, params adapter.CreateParams) (*adapter.Proposal, error) {
	if err := adapter.CheckOwners(params.Wallet.Owners, params.Wallet.Threshold); err != nil {
		return nil, adapter.Wrap(adapter.ErrInvalidParams, a.info.ID, "create", err)
	}
	script, _, err := redeemScript(params.Wallet.Owners, params.Wallet.Threshold, a.params)
	if err != nil {
		return nil, adapter.Wrap(adapter.ErrInvalidParams, a.info.ID, "create", err)
	}
	fromAddr, err := btcutil.NewAddressScriptHash(script, a.params)
	if err != nil {
		return nil, adapter.Wrap(adapter.ErrInvalidParams, a.info.ID, "create", err)
	}
	if params.FromAddress != "" && params.FromAddress != fromAddr.EncodeAddress() {
		return nil, adapter.Errorf(
			adapter.ErrInvalidParams,
			a.info.ID,
			"create",
			"from address %s does not match wallet script address %s",
			params.FromAddress,
			fromAddr.EncodeAddress(),
		)
	}
	if params.TokenAddress != "" {
		return nil, adapter.Errorf(adapter.ErrInvalidParams, a.info.ID, "create", "token transfers are not supported")
	}
	toAddr, err := btcutil.DecodeAddress(params.ToAddress, a.params)
	if err != nil || !toAddr.IsForNet(a.params) {
		return nil, adapter.Errorf(adapter.ErrInvalidParams, a.info.ID, "create", "invalid destination %q", params.ToAddress)
	}
	amountBig, err := adapter.ToAtomic(params.Amount, a.info.Currency.Decimals)
	if err != nil {
		return nil, adapter.Wrap(adapter.ErrInvalidParams, a.info.ID, "create", err)
	}
	if !amountBig.IsInt64() || amountBig.Int64() < dustLimit {
		return nil, adapter.Errorf(adapter.ErrInvalidParams, a.info.ID, "create", "amount %s below dust limit", params.Amount)
	}
	amount := amountBig.Int64()

	utxos, err := a.client.ScanAddress(ctx, fromAddr.EncodeAddress())
	if err != nil {
		return nil, adapter.Wrap(adapter.ErrNetworkQuery, a.info.ID, "create", err)
	}
	var fixedFee int64 = -1
	if params.Fee != "" {
		fee, err := adapter.ToAtomic(params.Fee, a.info.Currency.Decimals)
		if err != nil {
			return nil, adapter.Wrap(adapter.ErrInvalidParams, a.info.ID, "create", err)
		}
		fixedFee = fee.Int64()
	}
	rate := int64(0)
	if fixedFee < 0 {
		rate = a.feeRate(ctx)
	}
	m, n := params.Wallet.Threshold, len(params.Wallet.Owners)
	feeFor := func(inputs int) int64 {
		if fixedFee >= 0 {
			return fixedFee
		}
		return rate * estimateVSize(inputs, 2, m, n)
	}

	// Largest first keeps the input count low
	slices.SortFunc(utxos, func(x, y UTXO) int {
		switch {
		case x.Amount > y.Amount:
			return -1
		case x.Amount < y.Amount:
			return 1
		default:
			return strings.Compare(x.TxID, y.TxID)
		}
	})
	var (
		selected []UTXO
		total    int64
		fee      int64
	)
	for _, u := range utxos {
		selected = append(selected, u)
		total += u.Amount
		fee = feeFor(len(selected))
		if total >= amount+fee {
			break
		}
	}
	if len(selected) == 0 {
		fee = feeFor(1)
	}
	if total < amount+fee {
		var available int64
		for _, u := range utxos {
			available += u.Amount
		}
		return nil, &adapter.InsufficientFundsError{
			Network:   a.info.ID,
			Available: adapter.FromAtomic(big.NewInt(available), a.info.Currency.Decimals),
			Required:  adapter.FromAtomic(big.NewInt(amount+fee), a.info.Currency.Decimals),
		}
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	inputValues := make([]int64, 0, len(selected))
	for _, u := range selected {
		hash, err := chainhash.NewHashFromStr(u.TxID)
		if err != nil {
			return nil, adapter.Wrap(adapter.ErrNetworkQuery, a.info.ID, "create", err)
		}
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, u.Vout), nil, nil))
		inputValues = append(inputValues, u.Amount)
	}
	toScript, err := txscript.PayToAddrScript(toAddr)
	if err != nil {
		return nil, adapter.Wrap(adapter.ErrInvalidParams, a.info.ID, "create", err)
	}
	tx.AddTxOut(wire.NewTxOut(amount, toScript))
	if change := total - amount - fee; change >= dustLimit {
		changeScript, err := txscript.PayToAddrScript(fromAddr)
		if err != nil {
			return nil, adapter.Wrap(adapter.ErrInvalidParams, a.info.ID, "create", err)
		}
		tx.AddTxOut(wire.NewTxOut(change, changeScript))
	} else {
		fee += change
	}
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, adapter.Wrap(adapter.ErrInvalidParams, a.info.ID, "create", err)
	}
	raw, err := json.Marshal(&rawTx{
		Tx:           hex.EncodeToString(buf.Bytes()),
		RedeemScript: hex.EncodeToString(script),
		InputValues:  inputValues,
		Fee:          fee,
	})
	if err != nil {
		return nil, adapter.Wrap(adapter.ErrInvalidParams, a.info.ID, "create", err)
	}
	now := time.Now().UTC()
	wallet := params.Wallet
	wallet.Address = fromAddr.EncodeAddress()
	wallet.Owners = slices.Clone(params.Wallet.Owners)
	return &adapter.Proposal{
		ID:          tx.TxHash().String(),
		Network:     a.info.ID,
		FromAddress: fromAddr.EncodeAddress(),
		ToAddress:   params.ToAddress,
		Amount:      params.Amount,
		Data:        slices.Clone(params.Data),
		Raw:         raw,
		Signatures:  []adapter.Signature{},
		Status:      adapter.StatusPending,
		Wallet:      wallet,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// ownerSet maps canonical compressed hex to the owner string stored on the
// wallet
func ownerSet(owners []string) map[string]string {
	ret := make(map[string]string, len(owners))
	for _, owner := range owners {
		raw, err := hex.DecodeString(strings.TrimPrefix(owner, "0x"))
		if err != nil {
			continue
		}
		canonical, err := canonicalOwner(raw)
		if err != nil {
			continue
		}
		ret[canonical] = owner
	}
	return ret
}

func (a *Adapter) SignTransaction(ctx context.Context, p *adapter.Proposal, key adapter.KeyMaterial) (adapter.Signature, error) {
	if err := adapter.RequireCurve(a.info.ID, key, network.CurveSecp256k1); err != nil {
		return adapter.Signature{}, err
	}
	signer, err := canonicalOwner(key.PublicKey())
	if err != nil {
		return adapter.Signature{}, adapter.Wrap(adapter.ErrSigning, a.info.ID, "sign", err)
	}
	owner, ok := ownerSet(p.Wallet.Owners)[signer]
	if !ok {
		return adapter.Signature{}, adapter.Errorf(adapter.ErrSigning, a.info.ID, "sign", "key %s is not a wallet owner", signer)
	}
	_, tx, script, err := a.decodeRaw(p)
	if err != nil {
		return adapter.Signature{}, adapter.Wrap(adapter.ErrSigning, a.info.ID, "sign", err)
	}
	pub, err := btcec.ParsePubKey(key.PublicKey())
	if err != nil {
		return adapter.Signature{}, adapter.Wrap(adapter.ErrSigning, a.info.ID, "sign", err)
	}
	sigs := make([][]byte, 0, len(tx.TxIn))
	for idx := range tx.TxIn {
		hash, err := txscript.CalcSignatureHash(script, txscript.SigHashAll, tx, idx)
		if err != nil {
			return adapter.Signature{}, adapter.Wrap(adapter.ErrSigning, a.info.ID, "sign", err)
		}
		compact, err := key.Sign(ctx, hash)
		if err != nil {
			return adapter.Signature{}, adapter.Wrap(adapter.ErrSigning, a.info.ID, "sign", err)
		}
		der, err := derSignature(compact)
		if err != nil {
			return adapter.Signature{}, adapter.Wrap(adapter.ErrSigning, a.info.ID, "sign", err)
		}
		parsed, err := ecdsa.ParseDERSignature(der)
		if err != nil || !parsed.Verify(hash, pub) {
			return adapter.Signature{}, adapter.Errorf(adapter.ErrSigning, a.info.ID, "sign", "signature for input %d does not verify", idx)
		}
		sigs = append(sigs, append(der, byte(txscript.SigHashAll)))
	}
	return adapter.Signature{Signer: owner, Blob: encodeSigBlob(sigs)}, nil
}

// CombineSignatures places signatures in redeem script key order and, once
// the threshold is met, embeds the scriptSig for every input into a
// signed copy of the transaction. The redeem script is rebuilt from the
// full owner set stored on the proposal's wallet.
func (a *Adapter) CombineSignatures(_ context.Context, p *adapter.Proposal, sigs []adapter.Signature) (*adapter.Proposal, error) {
	raw, tx, script, err := a.decodeRaw(p)
	if err != nil {
		return nil, adapter.Wrap(adapter.ErrSigning, a.info.ID, "combine", err)
	}
	expected, sortedOwners, err := redeemScript(p.Wallet.Owners, p.Wallet.Threshold, a.params)
	if err != nil {
		return nil, adapter.Wrap(adapter.ErrSigning, a.info.ID, "combine", err)
	}
	if !bytes.Equal(expected, script) {
		return nil, adapter.Errorf(adapter.ErrSigning, a.info.ID, "combine", "redeem script does not match wallet owners")
	}
	owners := ownerSet(p.Wallet.Owners)
	order := make([]string, 0, len(sortedOwners))
	for _, canonical := range sortedOwners {
		order = append(order, owners[canonical])
	}
	merged := adapter.MergeSignatures(p.Signatures, sigs)
	for _, sig := range merged {
		parts, err := decodeSigBlob(sig.Blob)
		if err != nil || len(parts) != len(tx.TxIn) {
			return nil, adapter.Errorf(adapter.ErrSigning, a.info.ID, "combine", "signature from %s does not cover every input", sig.Signer)
		}
	}
	ordered := adapter.OrderByOwners(merged, order)
	if len(ordered) != len(merged) {
		return nil, adapter.Errorf(adapter.ErrSigning, a.info.ID, "combine", "signature from a non-owner")
	}
	ret := p.Clone()
	ret.Signatures = ordered
	raw.SignedTx = ""
	if len(ordered) >= p.Wallet.Threshold {
		signed := tx.Copy()
		for idx := range signed.TxIn {
			builder := txscript.NewScriptBuilder().AddOp(txscript.OP_0)
			for _, sig := range ordered[:p.Wallet.Threshold] {
				parts, _ := decodeSigBlob(sig.Blob)
				builder.AddData(parts[idx])
			}
			builder.AddData(script)
			sigScript, err := builder.Script()
			if err != nil {
				return nil, adapter.Wrap(adapter.ErrSigning, a.info.ID, "combine", err)
			}
			signed.TxIn[idx].SignatureScript = sigScript
		}
		var buf bytes.Buffer
		if err := signed.Serialize(&buf); err != nil {
			return nil, adapter.Wrap(adapter.ErrSigning, a.info.ID, "combine", err)
		}
		raw.SignedTx = hex.EncodeToString(buf.Bytes())
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, adapter.Wrap(adapter.ErrSigning, a.info.ID, "combine", err)
	}
	ret.Raw = encoded
	return ret, nil
}

func (a *Adapter) BroadcastTransaction(ctx context.Context, p *adapter.Proposal) (string, error) {
	if err := adapter.CheckBroadcastable(a.info.ID, p); err != nil {
		return "", err
	}
	raw, _, _, err := a.decodeRaw(p)
	if err != nil {
		return "", adapter.Wrap(adapter.ErrBroadcast, a.info.ID, "broadcast", err)
	}
	if raw.SignedTx == "" {
		combined, err := a.CombineSignatures(ctx, p, nil)
		if err != nil {
			return "", err
		}
		if raw, _, _, err = a.decodeRaw(combined); err != nil {
			return "", adapter.Wrap(adapter.ErrBroadcast, a.info.ID, "broadcast", err)
		}
	}
	signedBytes, err := hex.DecodeString(raw.SignedTx)
	if err != nil {
		return "", adapter.Wrap(adapter.ErrBroadcast, a.info.ID, "broadcast", err)
	}
	signed := wire.NewMsgTx(wire.TxVersion)
	if err := signed.Deserialize(bytes.NewReader(signedBytes)); err != nil {
		return "", adapter.Wrap(adapter.ErrBroadcast, a.info.ID, "broadcast", err)
	}
	txID, err := a.client.SendRawTransaction(ctx, signed)
	if err != nil {
		if alreadyKnown(err) {
			return "", &adapter.AlreadyBroadcastError{Network: a.info.ID, TxID: signed.TxHash().String()}
		}
		return "", adapter.Wrap(adapter.ErrBroadcast, a.info.ID, "broadcast", err)
	}
	a.logger.Info("broadcast transaction", "proposal", p.ID, "txid", txID)
	return txID, nil
}

func alreadyKnown(err error) bool {
	var rpcErr *btcjson.RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	if rpcErr.Code == rpcErrVerifyAlreadyInTx {
		return true
	}
	return rpcErr.Code == rpcErrVerifyRejected &&
		(strings.Contains(rpcErr.Message, "already known") ||
			strings.Contains(rpcErr.Message, "already-in-mempool"))
}

func (a *Adapter) GetTransactionStatus(ctx context.Context, txID string) (adapter.Status, error) {
	info, err := a.client.GetTransaction(ctx, txID)
	if err != nil {
		if errors.Is(err, ErrTxNotFound) {
			return adapter.StatusPending, nil
		}
		return "", adapter.Wrap(adapter.ErrNetworkQuery, a.info.ID, "status", err)
	}
	if info.Confirmations >= confirmationsFinal {
		return adapter.StatusConfirmed, nil
	}
	return adapter.StatusPending, nil
}
