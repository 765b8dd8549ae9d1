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

// Package stellar implements the account-key-list family. A multisig
// wallet is an account whose signer list holds the owners with unit
// weight and whose medium threshold is the wallet threshold.
package stellar

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
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
	"github.com/stellar/go/keypair"
	stellarnet "github.com/stellar/go/network"
	"github.com/stellar/go/strkey"
	"github.com/stellar/go/xdr"
)

// baseFee is the per-operation fee in stroops
const baseFee = 100

type Adapter struct {
	info       network.Info
	passphrase string
	client     Client
	logger     *slog.Logger
}

type OptionFunc func(*Adapter)

// WithClient overrides the Horizon client
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
	if info.Family != network.FamilyAccountKeyList {
		return nil, fmt.Errorf("%w: %s", network.ErrUnknownFamily, info.Family)
	}
	passphrase := info.Option(network.OptionPassphrase, "")
	if passphrase == "" {
		return nil, fmt.Errorf("network %s: no network passphrase", info.ID)
	}
	a := &Adapter{
		info:       info.Clone(),
		passphrase: passphrase,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	a.logger = a.logger.With("component", "adapter", "network", info.ID)
	if a.client == nil {
		a.client = NewHorizonClient(info.RPCEndpoint, nil, a.logger)
	}
	return a, nil
}

func (a *Adapter) Network() network.Info {
	return a.info.Clone()
}

func (a *Adapter) ValidateAddress(address string) bool {
	_, err := strkey.Decode(strkey.VersionByteAccountID, address)
	return err == nil
}

func parseOwners(owners []string) ([][]byte, error) {
	ret := make([][]byte, 0, len(owners))
	for _, owner := range owners {
		pub, err := strkey.Decode(strkey.VersionByteAccountID, owner)
		if err != nil {
			return nil, fmt.Errorf("malformed owner %q: %w", owner, err)
		}
		ret = append(ret, pub)
	}
	slices.SortFunc(ret, bytes.Compare)
	return ret, nil
}

// GenerateMultiSigAddress derives the provisional account that is later
// configured with the owners as signers
func (a *Adapter) GenerateMultiSigAddress(_ context.Context, owners []string, threshold int) (string, error) {
	if err := adapter.CheckOwners(owners, threshold); err != nil {
		return "", adapter.Wrap(adapter.ErrAddressGeneration, a.info.ID, "address", err)
	}
	// Stellar accounts hold at most 20 signers
	if len(owners) > 20 {
		return "", adapter.Errorf(adapter.ErrAddressGeneration, a.info.ID, "address", "too many owners")
	}
	sorted, err := parseOwners(owners)
	if err != nil {
		return "", adapter.Wrap(adapter.ErrAddressGeneration, a.info.ID, "address", err)
	}
	h := sha256.New()
	for _, pub := range sorted {
		h.Write(pub)
	}
	h.Write([]byte{byte(threshold)})
	var seed [32]byte
	copy(seed[:], h.Sum(nil))
	kp, err := keypair.FromRawSeed(seed)
	if err != nil {
		return "", adapter.Wrap(adapter.ErrAddressGeneration, a.info.ID, "address", err)
	}
	return kp.Address(), nil
}

// parseAsset reads a token address of the form CODE:ISSUER
func parseAsset(token string) (xdr.Asset, error) {
	var asset xdr.Asset
	if token == "" {
		err := asset.SetNative()
		return asset, err
	}
	code, issuer, ok := strings.Cut(token, ":")
	if !ok || code == "" {
		return asset, fmt.Errorf("token %q is not CODE:ISSUER", token)
	}
	var issuerID xdr.AccountId
	if err := issuerID.SetAddress(issuer); err != nil {
		return asset, fmt.Errorf("invalid issuer %q: %w", issuer, err)
	}
	err := asset.SetCredit(code, issuerID)
	return asset, err
}

func assetBalance(acct *Account, token string) string {
	for _, b := range acct.Balances {
		if token == "" {
			if b.AssetType == "native" {
				return b.Balance
			}
			continue
		}
		if b.AssetCode+":"+b.AssetIssuer == token {
			return b.Balance
		}
	}
	return "0"
}

func (a *Adapter) GetBalance(ctx context.Context, address string, tokenAddress string) (string, error) {
	acct, err := a.client.Account(ctx, address)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return "0", nil
		}
		return "", adapter.Wrap(adapter.ErrNetworkQuery, a.info.ID, "balance", err)
	}
	ret, err := adapter.ToAtomic(assetBalance(acct, tokenAddress), a.info.Currency.Decimals)
	if err != nil {
		return "", adapter.Wrap(adapter.ErrNetworkQuery, a.info.ID, "balance", err)
	}
	return adapter.FromAtomic(ret, a.info.Currency.Decimals), nil
}

func (a *Adapter) txHash(tx *xdr.Transaction) ([32]byte, error) {
	return stellarnet.HashTransaction(tx, a.passphrase)
}

func (a *Adapter) CreateTransaction(ctx context.Context, params adapter.CreateParams) (*adapter.Proposal, error) {
	if err := adapter.CheckOwners(params.Wallet.Owners, params.Wallet.Threshold); err != nil {
		return nil, adapter.Wrap(adapter.ErrInvalidParams, a.info.ID, "create", err)
	}
	from := params.FromAddress
	if from == "" {
		from = params.Wallet.Address
	}
	var source xdr.AccountId
	if err := source.SetAddress(from); err != nil {
		return nil, adapter.Errorf(adapter.ErrInvalidParams, a.info.ID, "create", "invalid source %q", from)
	}
	var dest xdr.AccountId
	if err := dest.SetAddress(params.ToAddress); err != nil {
		return nil, adapter.Errorf(adapter.ErrInvalidParams, a.info.ID, "create", "invalid destination %q", params.ToAddress)
	}
	asset, err := parseAsset(params.TokenAddress)
	if err != nil {
		return nil, adapter.Wrap(adapter.ErrInvalidParams, a.info.ID, "create", err)
	}
	decimals := a.info.Currency.Decimals
	amount, err := adapter.ToAtomic(params.Amount, decimals)
	if err != nil {
		return nil, adapter.Wrap(adapter.ErrInvalidParams, a.info.ID, "create", err)
	}
	if !amount.IsInt64() || amount.Sign() == 0 {
		return nil, adapter.Errorf(adapter.ErrInvalidParams, a.info.ID, "create", "amount %s out of range", params.Amount)
	}
	acct, err := a.client.Account(ctx, from)
	if err != nil && !errors.Is(err, ErrAccountNotFound) {
		return nil, adapter.Wrap(adapter.ErrNetworkQuery, a.info.ID, "create", err)
	}
	available := big.NewInt(0)
	var seq int64
	if acct != nil {
		available, err = adapter.ToAtomic(assetBalance(acct, params.TokenAddress), decimals)
		if err != nil {
			return nil, adapter.Wrap(adapter.ErrNetworkQuery, a.info.ID, "create", err)
		}
		if seq, err = strconv.ParseInt(acct.Sequence, 10, 64); err != nil {
			return nil, adapter.Wrap(adapter.ErrNetworkQuery, a.info.ID, "create", err)
		}
	}
	required := new(big.Int).Set(amount)
	if params.TokenAddress == "" {
		required.Add(required, big.NewInt(baseFee))
	}
	if available.Cmp(required) < 0 {
		return nil, &adapter.InsufficientFundsError{
			Network:   a.info.ID,
			Available: adapter.FromAtomic(available, decimals),
			Required:  adapter.FromAtomic(required, decimals),
		}
	}
	if params.Nonce != nil {
		seq = int64(*params.Nonce) - 1
	}
	body, err := xdr.NewOperationBody(xdr.OperationTypePayment, xdr.PaymentOp{
		Destination: dest,
		Asset:       asset,
		Amount:      xdr.Int64(amount.Int64()),
	})
	if err != nil {
		return nil, adapter.Wrap(adapter.ErrInvalidParams, a.info.ID, "create", err)
	}
	tx := xdr.Transaction{
		SourceAccount: source,
		Fee:           xdr.Uint32(baseFee),
		SeqNum:        xdr.SequenceNumber(seq + 1),
		Memo:          xdr.Memo{Type: xdr.MemoTypeMemoNone},
		Operations:    []xdr.Operation{{Body: body}},
	}
	encoded, err := xdr.MarshalBase64(tx)
	if err != nil {
		return nil, adapter.Wrap(adapter.ErrInvalidParams, a.info.ID, "create", err)
	}
	hash, err := a.txHash(&tx)
	if err != nil {
		return nil, adapter.Wrap(adapter.ErrInvalidParams, a.info.ID, "create", err)
	}
	now := time.Now().UTC()
	wallet := params.Wallet
	wallet.Address = from
	wallet.Owners = slices.Clone(params.Wallet.Owners)
	return &adapter.Proposal{
		ID:           hex.EncodeToString(hash[:]),
		Network:      a.info.ID,
		FromAddress:  from,
		ToAddress:    params.ToAddress,
		Amount:       params.Amount,
		TokenAddress: params.TokenAddress,
		Data:         slices.Clone(params.Data),
		Raw:          []byte(encoded),
		Signatures:   []adapter.Signature{},
		Status:       adapter.StatusPending,
		Wallet:       wallet,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func decodeTx(raw []byte) (*xdr.Transaction, error) {
	var tx xdr.Transaction
	if err := xdr.SafeUnmarshalBase64(string(raw), &tx); err != nil {
		return nil, fmt.Errorf("%w: %w", adapter.ErrUnknownRaw, err)
	}
	return &tx, nil
}

func (a *Adapter) SignTransaction(ctx context.Context, p *adapter.Proposal, key adapter.KeyMaterial) (adapter.Signature, error) {
	if err := adapter.RequireCurve(a.info.ID, key, network.CurveEd25519); err != nil {
		return adapter.Signature{}, err
	}
	pub := key.PublicKey()
	signer, err := strkey.Encode(strkey.VersionByteAccountID, pub)
	if err != nil {
		return adapter.Signature{}, adapter.Wrap(adapter.ErrSigning, a.info.ID, "sign", err)
	}
	if !p.Wallet.IsOwner(signer) {
		return adapter.Signature{}, adapter.Errorf(adapter.ErrSigning, a.info.ID, "sign", "%s is not a wallet owner", signer)
	}
	tx, err := decodeTx(p.Raw)
	if err != nil {
		return adapter.Signature{}, adapter.Wrap(adapter.ErrSigning, a.info.ID, "sign", err)
	}
	hash, err := a.txHash(tx)
	if err != nil {
		return adapter.Signature{}, adapter.Wrap(adapter.ErrSigning, a.info.ID, "sign", err)
	}
	sig, err := key.Sign(ctx, hash[:])
	if err != nil {
		return adapter.Signature{}, adapter.Wrap(adapter.ErrSigning, a.info.ID, "sign", err)
	}
	if len(pub) != ed25519.PublicKeySize || !ed25519.Verify(pub, hash[:], sig) {
		return adapter.Signature{}, adapter.Errorf(adapter.ErrSigning, a.info.ID, "sign", "signature does not verify")
	}
	return adapter.Signature{Signer: signer, Blob: slices.Clone(sig)}, nil
}

func (a *Adapter) CombineSignatures(_ context.Context, p *adapter.Proposal, sigs []adapter.Signature) (*adapter.Proposal, error) {
	tx, err := decodeTx(p.Raw)
	if err != nil {
		return nil, adapter.Wrap(adapter.ErrSigning, a.info.ID, "combine", err)
	}
	hash, err := a.txHash(tx)
	if err != nil {
		return nil, adapter.Wrap(adapter.ErrSigning, a.info.ID, "combine", err)
	}
	merged := adapter.MergeSignatures(p.Signatures, sigs)
	for _, sig := range merged {
		pub, err := strkey.Decode(strkey.VersionByteAccountID, sig.Signer)
		if err != nil || !ed25519.Verify(pub, hash[:], sig.Blob) {
			return nil, adapter.Errorf(adapter.ErrSigning, a.info.ID, "combine", "invalid signature from %s", sig.Signer)
		}
	}
	ordered := adapter.OrderByOwners(merged, p.Wallet.Owners)
	if len(ordered) != len(merged) {
		return nil, adapter.Errorf(adapter.ErrSigning, a.info.ID, "combine", "signature from a non-owner")
	}
	ret := p.Clone()
	ret.Signatures = ordered
	return ret, nil
}

// envelope attaches decorated signatures. The hint is the last four bytes
// of the signer's public key.
func envelope(tx *xdr.Transaction, sigs []adapter.Signature) (string, error) {
	env := xdr.TransactionEnvelope{Tx: *tx}
	for _, sig := range sigs {
		pub, err := strkey.Decode(strkey.VersionByteAccountID, sig.Signer)
		if err != nil {
			return "", err
		}
		var hint xdr.SignatureHint
		copy(hint[:], pub[len(pub)-4:])
		env.Signatures = append(env.Signatures, xdr.DecoratedSignature{
			Hint:      hint,
			Signature: xdr.Signature(sig.Blob),
		})
	}
	return xdr.MarshalBase64(env)
}

func (a *Adapter) BroadcastTransaction(ctx context.Context, p *adapter.Proposal) (string, error) {
	if err := adapter.CheckBroadcastable(a.info.ID, p); err != nil {
		return "", err
	}
	combined, err := a.CombineSignatures(ctx, p, nil)
	if err != nil {
		return "", err
	}
	if err := adapter.CheckThreshold(a.info.ID, combined); err != nil {
		return "", err
	}
	tx, err := decodeTx(combined.Raw)
	if err != nil {
		return "", adapter.Wrap(adapter.ErrBroadcast, a.info.ID, "broadcast", err)
	}
	hash, err := a.txHash(tx)
	if err != nil {
		return "", adapter.Wrap(adapter.ErrBroadcast, a.info.ID, "broadcast", err)
	}
	txID := hex.EncodeToString(hash[:])
	env, err := envelope(tx, combined.Signatures[:combined.Wallet.Threshold])
	if err != nil {
		return "", adapter.Wrap(adapter.ErrBroadcast, a.info.ID, "broadcast", err)
	}
	submitted, err := a.client.Submit(ctx, env)
	if err != nil {
		// A consumed sequence number means either a replay or a race with
		// another submitter, so look the hash up before giving up
		var submitErr *SubmitError
		if errors.As(err, &submitErr) && submitErr.Transaction == "tx_bad_seq" {
			if _, lookupErr := a.client.Transaction(ctx, txID); lookupErr == nil {
				return "", &adapter.AlreadyBroadcastError{Network: a.info.ID, TxID: txID}
			}
		}
		return "", adapter.Wrap(adapter.ErrBroadcast, a.info.ID, "broadcast", err)
	}
	if submitted == "" {
		submitted = txID
	}
	a.logger.Info("broadcast transaction", "proposal", p.ID, "txid", submitted)
	return submitted, nil
}

func (a *Adapter) GetTransactionStatus(ctx context.Context, txID string) (adapter.Status, error) {
	rec, err := a.client.Transaction(ctx, txID)
	if err != nil {
		if errors.Is(err, ErrTxNotFound) {
			return adapter.StatusPending, nil
		}
		return "", adapter.Wrap(adapter.ErrNetworkQuery, a.info.ID, "status", err)
	}
	if !rec.Successful {
		return adapter.StatusFailed, nil
	}
	return adapter.StatusConfirmed, nil
}
