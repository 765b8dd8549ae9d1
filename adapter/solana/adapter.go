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

// Package solana implements the program-derived-address family. The
// multisig wallet is a PDA of an on-chain threshold program; owners sign
// an off-chain borsh message that a relayer submits for execution.
package solana

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"slices"
	"strings"
	"time"

	"github.com/NEILBATCHELOR/wallet-sub001/adapter"
	"github.com/NEILBATCHELOR/wallet-sub001/network"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

type Adapter struct {
	info    network.Info
	program solana.PublicKey
	client  Client
	logger  *slog.Logger
}

type OptionFunc func(*Adapter)

// WithClient overrides the RPC client
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
	if info.Family != network.FamilyProgramDerivedAddress {
		return nil, fmt.Errorf("%w: %s", network.ErrUnknownFamily, info.Family)
	}
	program, err := solana.PublicKeyFromBase58(info.Option(network.OptionProgramID, ""))
	if err != nil {
		return nil, fmt.Errorf("network %s: invalid multisig program: %w", info.ID, err)
	}
	a := &Adapter{
		info:    info.Clone(),
		program: program,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	a.logger = a.logger.With("component", "adapter", "network", info.ID)
	if a.client == nil {
		a.client = rpc.New(info.RPCEndpoint)
	}
	return a, nil
}

func (a *Adapter) Network() network.Info {
	return a.info.Clone()
}

func (a *Adapter) ValidateAddress(address string) bool {
	_, err := solana.PublicKeyFromBase58(address)
	return err == nil
}

func (a *Adapter) GenerateMultiSigAddress(_ context.Context, owners []string, threshold int) (string, error) {
	if err := adapter.CheckOwners(owners, threshold); err != nil {
		return "", adapter.Wrap(adapter.ErrAddressGeneration, a.info.ID, "address", err)
	}
	if len(owners) > 255 {
		return "", adapter.Errorf(adapter.ErrAddressGeneration, a.info.ID, "address", "too many owners")
	}
	sorted, err := parseOwners(owners)
	if err != nil {
		return "", adapter.Wrap(adapter.ErrAddressGeneration, a.info.ID, "address", err)
	}
	pda, err := multisigPDA(a.program, sorted, threshold)
	if err != nil {
		return "", adapter.Wrap(adapter.ErrAddressGeneration, a.info.ID, "address", err)
	}
	return pda.String(), nil
}

// accountMissing matches the RPC error for accounts that do not exist
func accountMissing(err error) bool {
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		return strings.Contains(rpcErr.Message, "could not find account")
	}
	return strings.Contains(err.Error(), "could not find account")
}

// balance returns the atomic balance and decimals of an address. Missing
// token accounts report zero.
func (a *Adapter) balance(ctx context.Context, owner solana.PublicKey, mint string) (uint64, int32, error) {
	if mint == "" {
		res, err := a.client.GetBalance(ctx, owner, rpc.CommitmentConfirmed)
		if err != nil {
			return 0, 0, err
		}
		return res.Value, a.info.Currency.Decimals, nil
	}
	mintKey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid mint %q: %w", mint, err)
	}
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mintKey)
	if err != nil {
		return 0, 0, err
	}
	res, err := a.client.GetTokenAccountBalance(ctx, ata, rpc.CommitmentConfirmed)
	if err != nil {
		if accountMissing(err) {
			return 0, 0, nil
		}
		return 0, 0, err
	}
	if res.Value == nil {
		return 0, 0, nil
	}
	amount, ok := new(big.Int).SetString(res.Value.Amount, 10)
	if !ok || !amount.IsUint64() {
		return 0, 0, fmt.Errorf("invalid token amount %q", res.Value.Amount)
	}
	return amount.Uint64(), int32(res.Value.Decimals), nil
}

func (a *Adapter) GetBalance(ctx context.Context, address string, tokenAddress string) (string, error) {
	owner, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return "", adapter.Wrap(adapter.ErrNetworkQuery, a.info.ID, "balance", err)
	}
	amount, decimals, err := a.balance(ctx, owner, tokenAddress)
	if err != nil {
		return "", adapter.Wrap(adapter.ErrNetworkQuery, a.info.ID, "balance", err)
	}
	return adapter.FromAtomicUint64(amount, decimals), nil
}

func (a *Adapter) CreateTransaction(ctx context.Context, params adapter.CreateParams) (*adapter.Proposal, error) {
	if err := adapter.CheckOwners(params.Wallet.Owners, params.Wallet.Threshold); err != nil {
		return nil, adapter.Wrap(adapter.ErrInvalidParams, a.info.ID, "create", err)
	}
	sorted, err := parseOwners(params.Wallet.Owners)
	if err != nil {
		return nil, adapter.Wrap(adapter.ErrInvalidParams, a.info.ID, "create", err)
	}
	pda, err := multisigPDA(a.program, sorted, params.Wallet.Threshold)
	if err != nil {
		return nil, adapter.Wrap(adapter.ErrInvalidParams, a.info.ID, "create", err)
	}
	if params.FromAddress != "" && params.FromAddress != pda.String() {
		return nil, adapter.Errorf(adapter.ErrInvalidParams, a.info.ID, "create", "from address %s is not the wallet PDA %s", params.FromAddress, pda)
	}
	to, err := solana.PublicKeyFromBase58(params.ToAddress)
	if err != nil {
		return nil, adapter.Errorf(adapter.ErrInvalidParams, a.info.ID, "create", "invalid destination %q", params.ToAddress)
	}
	var mint solana.PublicKey
	if params.TokenAddress != "" {
		if mint, err = solana.PublicKeyFromBase58(params.TokenAddress); err != nil {
			return nil, adapter.Errorf(adapter.ErrInvalidParams, a.info.ID, "create", "invalid mint %q", params.TokenAddress)
		}
	}
	available, decimals, err := a.balance(ctx, pda, params.TokenAddress)
	if err != nil {
		return nil, adapter.Wrap(adapter.ErrNetworkQuery, a.info.ID, "create", err)
	}
	amount, err := adapter.ToAtomic(params.Amount, decimals)
	if err != nil {
		return nil, adapter.Wrap(adapter.ErrInvalidParams, a.info.ID, "create", err)
	}
	if !amount.IsUint64() || amount.Sign() == 0 {
		return nil, adapter.Errorf(adapter.ErrInvalidParams, a.info.ID, "create", "amount %s out of range", params.Amount)
	}
	if available < amount.Uint64() {
		return nil, &adapter.InsufficientFundsError{
			Network:   a.info.ID,
			Available: adapter.FromAtomicUint64(available, decimals),
			Required:  params.Amount,
		}
	}
	nonce := uint64(time.Now().UnixNano())
	if params.Nonce != nil {
		nonce = *params.Nonce
	}
	raw, err := encodeMessage(&transferMessage{
		Multisig: pda,
		To:       to,
		Mint:     mint,
		Amount:   amount.Uint64(),
		Nonce:    nonce,
		Data:     slices.Clone(params.Data),
	})
	if err != nil {
		return nil, adapter.Wrap(adapter.ErrInvalidParams, a.info.ID, "create", err)
	}
	digest := sha256.Sum256(raw)
	now := time.Now().UTC()
	wallet := params.Wallet
	wallet.Address = pda.String()
	wallet.Owners = slices.Clone(params.Wallet.Owners)
	return &adapter.Proposal{
		ID:           solana.PublicKeyFromBytes(digest[:]).String(),
		Network:      a.info.ID,
		FromAddress:  pda.String(),
		ToAddress:    params.ToAddress,
		Amount:       params.Amount,
		TokenAddress: params.TokenAddress,
		Data:         slices.Clone(params.Data),
		Raw:          raw,
		Signatures:   []adapter.Signature{},
		Status:       adapter.StatusPending,
		Wallet:       wallet,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func (a *Adapter) SignTransaction(ctx context.Context, p *adapter.Proposal, key adapter.KeyMaterial) (adapter.Signature, error) {
	if err := adapter.RequireCurve(a.info.ID, key, network.CurveEd25519); err != nil {
		return adapter.Signature{}, err
	}
	pub := key.PublicKey()
	if len(pub) != ed25519.PublicKeySize {
		return adapter.Signature{}, adapter.Errorf(adapter.ErrSigning, a.info.ID, "sign", "invalid public key length %d", len(pub))
	}
	signer := solana.PublicKeyFromBytes(pub).String()
	if !p.Wallet.IsOwner(signer) {
		return adapter.Signature{}, adapter.Errorf(adapter.ErrSigning, a.info.ID, "sign", "%s is not a wallet owner", signer)
	}
	if _, err := decodeMessage(p.Raw); err != nil {
		return adapter.Signature{}, adapter.Wrap(adapter.ErrSigning, a.info.ID, "sign", fmt.Errorf("%w: %w", adapter.ErrUnknownRaw, err))
	}
	sig, err := key.Sign(ctx, p.Raw)
	if err != nil {
		return adapter.Signature{}, adapter.Wrap(adapter.ErrSigning, a.info.ID, "sign", err)
	}
	if !ed25519.Verify(pub, p.Raw, sig) {
		return adapter.Signature{}, adapter.Errorf(adapter.ErrSigning, a.info.ID, "sign", "signature does not verify")
	}
	return adapter.Signature{Signer: signer, Blob: slices.Clone(sig)}, nil
}

// CombineSignatures verifies signatures and orders them by owner index in
// the program's sorted owner list
func (a *Adapter) CombineSignatures(_ context.Context, p *adapter.Proposal, sigs []adapter.Signature) (*adapter.Proposal, error) {
	sorted, err := parseOwners(p.Wallet.Owners)
	if err != nil {
		return nil, adapter.Wrap(adapter.ErrSigning, a.info.ID, "combine", err)
	}
	order := make([]string, 0, len(sorted))
	for _, pub := range sorted {
		order = append(order, pub.String())
	}
	merged := adapter.MergeSignatures(p.Signatures, sigs)
	for _, sig := range merged {
		pub, err := solana.PublicKeyFromBase58(sig.Signer)
		if err != nil || !ed25519.Verify(pub[:], p.Raw, sig.Blob) {
			return nil, adapter.Errorf(adapter.ErrSigning, a.info.ID, "combine", "invalid signature from %s", sig.Signer)
		}
	}
	ordered := adapter.OrderByOwners(merged, order)
	if len(ordered) != len(merged) {
		return nil, adapter.Errorf(adapter.ErrSigning, a.info.ID, "combine", "signature from a non-owner")
	}
	ret := p.Clone()
	ret.Signatures = ordered
	return ret, nil
}

func (a *Adapter) relayer() (solana.PrivateKey, error) {
	v := a.info.Option(network.OptionRelayerKey, "")
	if v == "" {
		return nil, errors.New("no relayer key configured")
	}
	return solana.PrivateKeyFromBase58(v)
}

func (a *Adapter) executeInstruction(p *adapter.Proposal, msg *transferMessage, payer solana.PublicKey) (solana.Instruction, error) {
	sorted, err := parseOwners(p.Wallet.Owners)
	if err != nil {
		return nil, err
	}
	args := executeArgs{
		Owners:    sorted,
		Threshold: uint8(p.Wallet.Threshold),
		Message:   p.Raw,
	}
	for _, sig := range p.Signatures[:p.Wallet.Threshold] {
		pub, err := solana.PublicKeyFromBase58(sig.Signer)
		if err != nil {
			return nil, err
		}
		idx := slices.Index(sorted, pub)
		if idx < 0 {
			return nil, fmt.Errorf("signer %s is not an owner", sig.Signer)
		}
		var s [64]byte
		copy(s[:], sig.Blob)
		args.Approvals = append(args.Approvals, approval{OwnerIndex: uint8(idx), Signature: s})
	}
	encoded, err := bin.MarshalBorsh(&args)
	if err != nil {
		return nil, err
	}
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(msg.Multisig, true, false),
		solana.NewAccountMeta(msg.To, true, false),
		solana.NewAccountMeta(payer, true, true),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}
	if !msg.Mint.IsZero() {
		source, _, err := solana.FindAssociatedTokenAddress(msg.Multisig, msg.Mint)
		if err != nil {
			return nil, err
		}
		dest, _, err := solana.FindAssociatedTokenAddress(msg.To, msg.Mint)
		if err != nil {
			return nil, err
		}
		accounts = append(
			accounts,
			solana.NewAccountMeta(msg.Mint, false, false),
			solana.NewAccountMeta(source, true, false),
			solana.NewAccountMeta(dest, true, false),
			solana.NewAccountMeta(solana.TokenProgramID, false, false),
		)
	}
	return solana.NewInstruction(a.program, accounts, slices.Concat(executeDiscriminator, encoded)), nil
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
	msg, err := decodeMessage(combined.Raw)
	if err != nil {
		return "", adapter.Wrap(adapter.ErrBroadcast, a.info.ID, "broadcast", err)
	}
	payer, err := a.relayer()
	if err != nil {
		return "", adapter.Wrap(adapter.ErrBroadcast, a.info.ID, "broadcast", err)
	}
	ix, err := a.executeInstruction(combined, msg, payer.PublicKey())
	if err != nil {
		return "", adapter.Wrap(adapter.ErrBroadcast, a.info.ID, "broadcast", err)
	}
	recent, err := a.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return "", adapter.Wrap(adapter.ErrBroadcast, a.info.ID, "broadcast", err)
	}
	tx, err := solana.NewTransaction(
		[]solana.Instruction{ix},
		recent.Value.Blockhash,
		solana.TransactionPayer(payer.PublicKey()),
	)
	if err != nil {
		return "", adapter.Wrap(adapter.ErrBroadcast, a.info.ID, "broadcast", err)
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(payer.PublicKey()) {
			return &payer
		}
		return nil
	}); err != nil {
		return "", adapter.Wrap(adapter.ErrBroadcast, a.info.ID, "broadcast", err)
	}
	sig, err := a.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		if strings.Contains(err.Error(), "already been processed") {
			return "", &adapter.AlreadyBroadcastError{Network: a.info.ID, TxID: tx.Signatures[0].String()}
		}
		return "", adapter.Wrap(adapter.ErrBroadcast, a.info.ID, "broadcast", err)
	}
	a.logger.Info("broadcast transaction", "proposal", p.ID, "txid", sig.String())
	return sig.String(), nil
}

func (a *Adapter) GetTransactionStatus(ctx context.Context, txID string) (adapter.Status, error) {
	sig, err := solana.SignatureFromBase58(txID)
	if err != nil {
		return "", adapter.Wrap(adapter.ErrNetworkQuery, a.info.ID, "status", err)
	}
	res, err := a.client.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return "", adapter.Wrap(adapter.ErrNetworkQuery, a.info.ID, "status", err)
	}
	if res == nil || len(res.Value) == 0 || res.Value[0] == nil {
		return adapter.StatusPending, nil
	}
	status := res.Value[0]
	if status.Err != nil {
		return adapter.StatusFailed, nil
	}
	switch status.ConfirmationStatus {
	case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
		return adapter.StatusConfirmed, nil
	default:
		return adapter.StatusPending, nil
	}
}
