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

// Package evm implements the EVM-contract-wallet family using Safe-style
// threshold wallets
package evm

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
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
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const OptionProxyCreationCode = "proxyCreationCode"

// gas headroom applied to estimates
const gasMarginPercent = 20

type Adapter struct {
	info         network.Info
	chainID      *big.Int
	factory      common.Address
	singleton    common.Address
	fallback     common.Address
	creationCode []byte
	saltNonce    *big.Int
	client       Client
	logger       *slog.Logger
}

type OptionFunc func(*Adapter)

// WithClient overrides the JSON-RPC client
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
	if info.Family != network.FamilyEVMContractWallet {
		return nil, fmt.Errorf("%w: %s", network.ErrUnknownFamily, info.Family)
	}
	if info.ChainID <= 0 {
		return nil, fmt.Errorf("network %s: chain id is required", info.ID)
	}
	a := &Adapter{
		info:         info.Clone(),
		chainID:      big.NewInt(info.ChainID),
		factory:      common.HexToAddress(info.Option(network.OptionSafeFactory, "")),
		singleton:    common.HexToAddress(info.Option(network.OptionSafeSingleton, "")),
		fallback:     common.HexToAddress(info.Option(network.OptionFallbackHandler, "")),
		creationCode: common.FromHex(info.Option(OptionProxyCreationCode, "")),
		saltNonce:    big.NewInt(0),
	}
	if v := info.Option(network.OptionSaltNonce, ""); v != "" {
		if _, ok := a.saltNonce.SetString(v, 0); !ok {
			return nil, fmt.Errorf("network %s: invalid salt nonce %q", info.ID, v)
		}
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	a.logger = a.logger.With("component", "adapter", "network", info.ID)
	if a.client == nil {
		c, err := ethclient.Dial(info.RPCEndpoint)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", info.RPCEndpoint, err)
		}
		a.client = c
	}
	return a, nil
}

func (a *Adapter) Network() network.Info {
	return a.info.Clone()
}

// Close closes the underlying RPC connection
func (a *Adapter) Close() error {
	if c, ok := a.client.(interface{ Close() }); ok {
		c.Close()
	}
	return nil
}

func (a *Adapter) ValidateAddress(address string) bool {
	if !strings.HasPrefix(address, "0x") && !strings.HasPrefix(address, "0X") {
		return false
	}
	return common.IsHexAddress(address)
}

func (a *Adapter) GenerateMultiSigAddress(_ context.Context, owners []string, threshold int) (string, error) {
	if err := adapter.CheckOwners(owners, threshold); err != nil {
		return "", adapter.Wrap(adapter.ErrAddressGeneration, a.info.ID, "address", err)
	}
	addr, err := a.predict(owners, threshold)
	if err != nil {
		return "", adapter.Wrap(adapter.ErrAddressGeneration, a.info.ID, "address", err)
	}
	return addr.Hex(), nil
}

func (a *Adapter) predict(owners []string, threshold int) (common.Address, error) {
	sorted, err := sortOwners(owners)
	if err != nil {
		return common.Address{}, err
	}
	seen := make(map[common.Address]struct{}, len(sorted))
	for _, o := range sorted {
		if _, ok := seen[o]; ok {
			return common.Address{}, fmt.Errorf("%w: duplicate owner %s", adapter.ErrInvalidOwners, o.Hex())
		}
		seen[o] = struct{}{}
	}
	initializer, err := safeABI.Pack(
		"setup",
		sorted,
		big.NewInt(int64(threshold)),
		common.Address{},
		[]byte{},
		a.fallback,
		common.Address{},
		big.NewInt(0),
		common.Address{},
	)
	if err != nil {
		return common.Address{}, err
	}
	return predictSafeAddress(a.factory, a.singleton, a.creationCode, initializer, a.saltNonce), nil
}

func (a *Adapter) GetBalance(ctx context.Context, address string, tokenAddress string) (string, error) {
	if !a.ValidateAddress(address) {
		return "", adapter.Errorf(adapter.ErrNetworkQuery, a.info.ID, "balance", "invalid address %q", address)
	}
	if tokenAddress == "" {
		bal, err := a.client.BalanceAt(ctx, common.HexToAddress(address), nil)
		if err != nil {
			return "", adapter.Wrap(adapter.ErrNetworkQuery, a.info.ID, "balance", err)
		}
		return adapter.FromAtomic(bal, a.info.Currency.Decimals), nil
	}
	bal, decimals, err := a.tokenBalance(ctx, common.HexToAddress(tokenAddress), common.HexToAddress(address))
	if err != nil {
		return "", adapter.Wrap(adapter.ErrNetworkQuery, a.info.ID, "balance", err)
	}
	return adapter.FromAtomic(bal, decimals), nil
}

func (a *Adapter) call(ctx context.Context, contract common.Address, data []byte) ([]byte, error) {
	return a.client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
}

func (a *Adapter) tokenDecimals(ctx context.Context, token common.Address) (int32, error) {
	data, err := erc20ABI.Pack("decimals")
	if err != nil {
		return 0, err
	}
	out, err := a.call(ctx, token, data)
	if err != nil {
		return 0, err
	}
	if len(out) == 0 {
		return 0, fmt.Errorf("token %s has no code", token.Hex())
	}
	vals, err := erc20ABI.Unpack("decimals", out)
	if err != nil {
		return 0, err
	}
	d, ok := vals[0].(uint8)
	if !ok {
		return 0, errors.New("unexpected decimals type")
	}
	return int32(d), nil
}

// tokenBalance returns zero when the token has no state for the owner
func (a *Adapter) tokenBalance(ctx context.Context, token common.Address, owner common.Address) (*big.Int, int32, error) {
	decimals, err := a.tokenDecimals(ctx, token)
	if err != nil {
		return nil, 0, err
	}
	data, err := erc20ABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, 0, err
	}
	out, err := a.call(ctx, token, data)
	if err != nil {
		return nil, 0, err
	}
	if len(out) == 0 {
		return big.NewInt(0), decimals, nil
	}
	vals, err := erc20ABI.Unpack("balanceOf", out)
	if err != nil {
		return nil, 0, err
	}
	bal, ok := vals[0].(*big.Int)
	if !ok {
		return nil, 0, errors.New("unexpected balance type")
	}
	return bal, decimals, nil
}

// safeNonce reads the wallet nonce, zero when the proxy is not deployed
func (a *Adapter) safeNonce(ctx context.Context, safe common.Address) (*big.Int, error) {
	data, err := safeABI.Pack("nonce")
	if err != nil {
		return nil, err
	}
	out, err := a.call(ctx, safe, data)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return big.NewInt(0), nil
	}
	vals, err := safeABI.Unpack("nonce", out)
	if err != nil {
		return nil, err
	}
	n, ok := vals[0].(*big.Int)
	if !ok {
		return nil, errors.New("unexpected nonce type")
	}
	return n, nil
}

func (a *Adapter) CreateTransaction(ctx context.Context, params adapter.CreateParams) (*adapter.Proposal, error) {
	if err := adapter.CheckOwners(params.Wallet.Owners, params.Wallet.Threshold); err != nil {
		return nil, adapter.Wrap(adapter.ErrInvalidParams, a.info.ID, "create", err)
	}
	safe, err := a.predict(params.Wallet.Owners, params.Wallet.Threshold)
	if err != nil {
		return nil, adapter.Wrap(adapter.ErrInvalidParams, a.info.ID, "create", err)
	}
	if params.FromAddress != "" {
		if !a.ValidateAddress(params.FromAddress) {
			return nil, adapter.Errorf(adapter.ErrInvalidParams, a.info.ID, "create", "invalid from address %q", params.FromAddress)
		}
		// Deployed wallets may differ from the predicted address
		safe = common.HexToAddress(params.FromAddress)
	}
	if !a.ValidateAddress(params.ToAddress) {
		return nil, adapter.Errorf(adapter.ErrInvalidParams, a.info.ID, "create", "invalid destination %q", params.ToAddress)
	}
	to := common.HexToAddress(params.ToAddress)
	tx := &safeTx{
		Safe:           safe,
		ChainID:        new(big.Int).Set(a.chainID),
		Value:          big.NewInt(0),
		Data:           hexBytes(slices.Clone(params.Data)),
		SafeTxGas:      big.NewInt(0),
		BaseGas:        big.NewInt(0),
		GasPrice:       big.NewInt(0),
		GasToken:       common.Address{},
		RefundReceiver: common.Address{},
	}
	if params.TokenAddress == "" {
		value, err := adapter.ToAtomic(params.Amount, a.info.Currency.Decimals)
		if err != nil {
			return nil, adapter.Wrap(adapter.ErrInvalidParams, a.info.ID, "create", err)
		}
		bal, err := a.client.BalanceAt(ctx, safe, nil)
		if err != nil {
			return nil, adapter.Wrap(adapter.ErrNetworkQuery, a.info.ID, "create", err)
		}
		if bal.Cmp(value) < 0 {
			return nil, &adapter.InsufficientFundsError{
				Network:   a.info.ID,
				Available: adapter.FromAtomic(bal, a.info.Currency.Decimals),
				Required:  params.Amount,
			}
		}
		tx.To = to
		tx.Value = value
	} else {
		if !a.ValidateAddress(params.TokenAddress) {
			return nil, adapter.Errorf(adapter.ErrInvalidParams, a.info.ID, "create", "invalid token %q", params.TokenAddress)
		}
		token := common.HexToAddress(params.TokenAddress)
		bal, decimals, err := a.tokenBalance(ctx, token, safe)
		if err != nil {
			return nil, adapter.Wrap(adapter.ErrNetworkQuery, a.info.ID, "create", err)
		}
		value, err := adapter.ToAtomic(params.Amount, decimals)
		if err != nil {
			return nil, adapter.Wrap(adapter.ErrInvalidParams, a.info.ID, "create", err)
		}
		if bal.Cmp(value) < 0 {
			return nil, &adapter.InsufficientFundsError{
				Network:   a.info.ID,
				Available: adapter.FromAtomic(bal, decimals),
				Required:  params.Amount,
			}
		}
		transfer, err := erc20ABI.Pack("transfer", to, value)
		if err != nil {
			return nil, adapter.Wrap(adapter.ErrInvalidParams, a.info.ID, "create", err)
		}
		tx.To = token
		tx.Data = transfer
	}
	if params.Nonce != nil {
		tx.Nonce = new(big.Int).SetUint64(*params.Nonce)
	} else {
		nonce, err := a.safeNonce(ctx, safe)
		if err != nil {
			return nil, adapter.Wrap(adapter.ErrNetworkQuery, a.info.ID, "create", err)
		}
		tx.Nonce = nonce
	}
	hash, err := tx.Hash()
	if err != nil {
		return nil, adapter.Wrap(adapter.ErrInvalidParams, a.info.ID, "create", err)
	}
	raw, err := json.Marshal(tx)
	if err != nil {
		return nil, adapter.Wrap(adapter.ErrInvalidParams, a.info.ID, "create", err)
	}
	now := time.Now().UTC()
	wallet := params.Wallet
	wallet.Address = safe.Hex()
	wallet.Owners = slices.Clone(params.Wallet.Owners)
	return &adapter.Proposal{
		ID:           hash.Hex(),
		Network:      a.info.ID,
		FromAddress:  safe.Hex(),
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

func decodeRaw(p *adapter.Proposal) (*safeTx, common.Hash, error) {
	var tx safeTx
	if err := json.Unmarshal(p.Raw, &tx); err != nil {
		return nil, common.Hash{}, fmt.Errorf("%w: %w", adapter.ErrUnknownRaw, err)
	}
	if tx.ChainID == nil || tx.Value == nil || tx.Nonce == nil ||
		tx.SafeTxGas == nil || tx.BaseGas == nil || tx.GasPrice == nil {
		return nil, common.Hash{}, adapter.ErrUnknownRaw
	}
	hash, err := tx.Hash()
	if err != nil {
		return nil, common.Hash{}, err
	}
	return &tx, hash, nil
}

// ownerFor returns the wallet's owner string matching addr
func ownerFor(owners []string, addr common.Address) (string, bool) {
	for _, owner := range owners {
		if common.IsHexAddress(owner) && common.HexToAddress(owner) == addr {
			return owner, true
		}
	}
	return "", false
}

// recoverSigner returns the address that produced a v in {27, 28}
// signature over hash
func recoverSigner(hash common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature length %d", len(sig))
	}
	normalized := slices.Clone(sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(hash[:], normalized)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func (a *Adapter) SignTransaction(ctx context.Context, p *adapter.Proposal, key adapter.KeyMaterial) (adapter.Signature, error) {
	if err := adapter.RequireCurve(a.info.ID, key, network.CurveSecp256k1); err != nil {
		return adapter.Signature{}, err
	}
	pub, err := crypto.DecompressPubkey(key.PublicKey())
	if err != nil {
		return adapter.Signature{}, adapter.Wrap(adapter.ErrSigning, a.info.ID, "sign", err)
	}
	signerAddr := crypto.PubkeyToAddress(*pub)
	owner, ok := ownerFor(p.Wallet.Owners, signerAddr)
	if !ok {
		return adapter.Signature{}, adapter.Errorf(adapter.ErrSigning, a.info.ID, "sign", "%s is not a wallet owner", signerAddr.Hex())
	}
	_, hash, err := decodeRaw(p)
	if err != nil {
		return adapter.Signature{}, adapter.Wrap(adapter.ErrSigning, a.info.ID, "sign", err)
	}
	sig, err := key.Sign(ctx, hash[:])
	if err != nil {
		return adapter.Signature{}, adapter.Wrap(adapter.ErrSigning, a.info.ID, "sign", err)
	}
	if len(sig) != crypto.SignatureLength {
		return adapter.Signature{}, adapter.Errorf(adapter.ErrSigning, a.info.ID, "sign", "unexpected signature length %d", len(sig))
	}
	sig = slices.Clone(sig)
	if sig[64] < 27 {
		sig[64] += 27
	}
	recovered, err := recoverSigner(hash, sig)
	if err != nil || recovered != signerAddr {
		return adapter.Signature{}, adapter.Errorf(adapter.ErrSigning, a.info.ID, "sign", "signature does not recover to %s", signerAddr.Hex())
	}
	return adapter.Signature{Signer: owner, Blob: sig}, nil
}

// CombineSignatures verifies and orders signatures by owner address as
// the wallet contract requires. The transaction itself is assembled at
// broadcast time.
func (a *Adapter) CombineSignatures(_ context.Context, p *adapter.Proposal, sigs []adapter.Signature) (*adapter.Proposal, error) {
	_, hash, err := decodeRaw(p)
	if err != nil {
		return nil, adapter.Wrap(adapter.ErrSigning, a.info.ID, "combine", err)
	}
	merged := adapter.MergeSignatures(p.Signatures, sigs)
	type entry struct {
		addr common.Address
		sig  adapter.Signature
	}
	entries := make([]entry, 0, len(merged))
	for _, sig := range merged {
		recovered, err := recoverSigner(hash, sig.Blob)
		if err != nil {
			return nil, adapter.Wrap(adapter.ErrSigning, a.info.ID, "combine", err)
		}
		owner, ok := ownerFor(p.Wallet.Owners, recovered)
		if !ok || owner != sig.Signer {
			return nil, adapter.Errorf(adapter.ErrSigning, a.info.ID, "combine", "signature from %s does not match signer %s", recovered.Hex(), sig.Signer)
		}
		entries = append(entries, entry{addr: recovered, sig: sig})
	}
	slices.SortFunc(entries, func(x, y entry) int {
		return bytes.Compare(x.addr[:], y.addr[:])
	})
	ret := p.Clone()
	ret.Signatures = make([]adapter.Signature, 0, len(entries))
	for _, e := range entries {
		ret.Signatures = append(ret.Signatures, e.sig)
	}
	return ret, nil
}

func (a *Adapter) relayerKey() (*ecdsa.PrivateKey, error) {
	v := a.info.Option(network.OptionRelayerKey, "")
	if v == "" {
		return nil, errors.New("no relayer key configured")
	}
	return crypto.HexToECDSA(strings.TrimPrefix(v, "0x"))
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
	stx, _, err := decodeRaw(combined)
	if err != nil {
		return "", adapter.Wrap(adapter.ErrBroadcast, a.info.ID, "broadcast", err)
	}
	var packedSigs []byte
	for _, sig := range combined.Signatures[:p.Wallet.Threshold] {
		packedSigs = append(packedSigs, sig.Blob...)
	}
	callData, err := safeABI.Pack(
		"execTransaction",
		stx.To,
		stx.Value,
		[]byte(stx.Data),
		stx.Operation,
		stx.SafeTxGas,
		stx.BaseGas,
		stx.GasPrice,
		stx.GasToken,
		stx.RefundReceiver,
		packedSigs,
	)
	if err != nil {
		return "", adapter.Wrap(adapter.ErrBroadcast, a.info.ID, "broadcast", err)
	}
	key, err := a.relayerKey()
	if err != nil {
		return "", adapter.Wrap(adapter.ErrBroadcast, a.info.ID, "broadcast", err)
	}
	relayer := crypto.PubkeyToAddress(key.PublicKey)
	nonce, err := a.client.PendingNonceAt(ctx, relayer)
	if err != nil {
		return "", adapter.Wrap(adapter.ErrBroadcast, a.info.ID, "broadcast", err)
	}
	tip, err := a.client.SuggestGasTipCap(ctx)
	if err != nil {
		return "", adapter.Wrap(adapter.ErrBroadcast, a.info.ID, "broadcast", err)
	}
	head, err := a.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", adapter.Wrap(adapter.ErrBroadcast, a.info.ID, "broadcast", err)
	}
	baseFee := head.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(baseFee, big.NewInt(2)))
	safe := stx.Safe
	gas, err := a.client.EstimateGas(ctx, ethereum.CallMsg{
		From: relayer,
		To:   &safe,
		Data: callData,
	})
	if err != nil {
		return "", adapter.Wrap(adapter.ErrBroadcast, a.info.ID, "broadcast", err)
	}
	gas += gas * gasMarginPercent / 100
	tx, err := types.SignNewTx(key, types.LatestSignerForChainID(a.chainID), &types.DynamicFeeTx{
		ChainID:   a.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &safe,
		Data:      callData,
	})
	if err != nil {
		return "", adapter.Wrap(adapter.ErrBroadcast, a.info.ID, "broadcast", err)
	}
	if err := a.client.SendTransaction(ctx, tx); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "already known") {
			return "", &adapter.AlreadyBroadcastError{Network: a.info.ID, TxID: tx.Hash().Hex()}
		}
		return "", adapter.Wrap(adapter.ErrBroadcast, a.info.ID, "broadcast", err)
	}
	a.logger.Info("broadcast transaction", "proposal", p.ID, "txid", tx.Hash().Hex())
	return tx.Hash().Hex(), nil
}

func (a *Adapter) GetTransactionStatus(ctx context.Context, txID string) (adapter.Status, error) {
	receipt, err := a.client.TransactionReceipt(ctx, common.HexToHash(txID))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return adapter.StatusPending, nil
		}
		return "", adapter.Wrap(adapter.ErrNetworkQuery, a.info.ID, "status", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return adapter.StatusFailed, nil
	}
	for _, log := range receipt.Logs {
		if len(log.Topics) > 0 && log.Topics[0] == executionFailureTopic {
			return adapter.StatusFailed, nil
		}
	}
	return adapter.StatusConfirmed, nil
}
