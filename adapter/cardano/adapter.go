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

// Package cardano implements the native-script family. The multisig
// wallet is the enterprise address of an at-least-m-of-n native script
// over the owners' key hashes.
package cardano

import (
	"cmp"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/NEILBATCHELOR/wallet-sub001/adapter"
	"github.com/NEILBATCHELOR/wallet-sub001/client"
	"github.com/NEILBATCHELOR/wallet-sub001/network"
	"github.com/blinklabs-io/gouroboros/cbor"
	"github.com/blinklabs-io/gouroboros/ledger/babbage"
	lcommon "github.com/blinklabs-io/gouroboros/ledger/common"
	"github.com/blinklabs-io/gouroboros/ledger/conway"
	"github.com/blinklabs-io/gouroboros/ledger/mary"
	"github.com/blinklabs-io/gouroboros/ledger/shelley"
	"golang.org/x/crypto/blake2b"
)

const (
	// minUTxOLovelace is the smallest change output worth creating
	minUTxOLovelace = 1_000_000
	// ttlSlots bounds how long a proposal stays submittable
	ttlSlots = 7200
	// vkeyWitnessSize approximates one encoded vkey witness
	vkeyWitnessSize = 101
)

type Adapter struct {
	info   network.Info
	netID  uint8
	client Client
	logger *slog.Logger
}

type OptionFunc func(*Adapter)

// WithClient overrides the Blockfrost client
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
	if info.Family != network.FamilyNativeScript {
		return nil, fmt.Errorf("%w: %s", network.ErrUnknownFamily, info.Family)
	}
	var netID uint8 = lcommon.AddressNetworkMainnet
	if info.Testnet {
		netID = lcommon.AddressNetworkTestnet
	}
	a := &Adapter{
		info:  info.Clone(),
		netID: netID,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	a.logger = a.logger.With("component", "adapter", "network", info.ID)
	if a.client == nil {
		a.client = NewBlockfrostClient(
			client.NewREST(
				info.RPCEndpoint,
				client.WithLogger(a.logger),
				client.WithHeader("project_id", info.Option(network.OptionProjectID, "")),
			),
		)
	}
	return a, nil
}

func (a *Adapter) Network() network.Info {
	return a.info.Clone()
}

func (a *Adapter) addressPrefix() string {
	if a.netID == lcommon.AddressNetworkMainnet {
		return "addr1"
	}
	return "addr_test1"
}

func (a *Adapter) ValidateAddress(address string) bool {
	if !strings.HasPrefix(address, a.addressPrefix()) {
		return false
	}
	_, err := lcommon.NewAddress(address)
	return err == nil
}

func (a *Adapter) walletScript(owners []string, threshold int) ([]owner, []byte, lcommon.Address, error) {
	if err := adapter.CheckOwners(owners, threshold); err != nil {
		return nil, nil, lcommon.Address{}, err
	}
	sorted, err := parseOwners(owners)
	if err != nil {
		return nil, nil, lcommon.Address{}, err
	}
	script, err := nativeScript(sorted, threshold)
	if err != nil {
		return nil, nil, lcommon.Address{}, err
	}
	addr, err := scriptAddress(a.netID, script)
	if err != nil {
		return nil, nil, lcommon.Address{}, err
	}
	return sorted, script, addr, nil
}

func (a *Adapter) GenerateMultiSigAddress(_ context.Context, owners []string, threshold int) (string, error) {
	_, _, addr, err := a.walletScript(owners, threshold)
	if err != nil {
		return "", adapter.Wrap(adapter.ErrAddressGeneration, a.info.ID, "address", err)
	}
	return addr.String(), nil
}

func unitOf(token string) string {
	if token == "" {
		return unitLovelace
	}
	return strings.ToLower(strings.ReplaceAll(token, ".", ""))
}

func (a *Adapter) GetBalance(ctx context.Context, address string, tokenAddress string) (string, error) {
	utxos, err := a.client.AddressUTxOs(ctx, address)
	if err != nil {
		return "", adapter.Wrap(adapter.ErrNetworkQuery, a.info.ID, "balance", err)
	}
	unit := unitOf(tokenAddress)
	var total uint64
	for _, u := range utxos {
		total += u.Quantity(unit)
	}
	if tokenAddress != "" {
		return strconv.FormatUint(total, 10), nil
	}
	return adapter.FromAtomicUint64(total, a.info.Currency.Decimals), nil
}

func (a *Adapter) buildBody(
	inputs []UTxO,
	to lcommon.Address,
	from lcommon.Address,
	amount uint64,
	fee uint64,
	ttl uint64,
) ([]byte, uint64, error) {
	var total uint64
	txInputs := make([]shelley.ShelleyTransactionInput, 0, len(inputs))
	for _, u := range inputs {
		total += u.Quantity(unitLovelace)
		txInputs = append(txInputs, shelley.NewShelleyTransactionInput(u.TxHash, u.OutputIndex))
	}
	outputs := []babbage.BabbageTransactionOutput{
		{
			OutputAddress: to,
			OutputAmount:  mary.MaryTransactionOutputValue{Amount: amount},
		},
	}
	change := total - amount - fee
	if change >= minUTxOLovelace {
		outputs = append(outputs, babbage.BabbageTransactionOutput{
			OutputAddress: from,
			OutputAmount:  mary.MaryTransactionOutputValue{Amount: change},
		})
	} else {
		fee += change
	}
	body := conway.ConwayTransactionBody{
		TxInputs:  conway.NewConwayTransactionInputSet(txInputs),
		TxOutputs: outputs,
		TxFee:     fee,
		Ttl:       ttl,
	}
	encoded, err := cbor.Encode(&body)
	return encoded, fee, err
}

func (a *Adapter) CreateTransaction(ctx context.Context, params adapter.CreateParams) (*adapter.Proposal, error) {
	if params.TokenAddress != "" {
		return nil, adapter.Errorf(adapter.ErrInvalidParams, a.info.ID, "create", "native asset transfers are not supported")
	}
	_, script, fromAddr, err := a.walletScript(params.Wallet.Owners, params.Wallet.Threshold)
	if err != nil {
		return nil, adapter.Wrap(adapter.ErrInvalidParams, a.info.ID, "create", err)
	}
	if params.FromAddress != "" && params.FromAddress != fromAddr.String() {
		return nil, adapter.Errorf(adapter.ErrInvalidParams, a.info.ID, "create", "from address %s is not the wallet script address", params.FromAddress)
	}
	if !a.ValidateAddress(params.ToAddress) {
		return nil, adapter.Errorf(adapter.ErrInvalidParams, a.info.ID, "create", "invalid destination %q", params.ToAddress)
	}
	toAddr, err := lcommon.NewAddress(params.ToAddress)
	if err != nil {
		return nil, adapter.Wrap(adapter.ErrInvalidParams, a.info.ID, "create", err)
	}
	atomic, err := adapter.ToAtomic(params.Amount, a.info.Currency.Decimals)
	if err != nil {
		return nil, adapter.Wrap(adapter.ErrInvalidParams, a.info.ID, "create", err)
	}
	if !atomic.IsUint64() || atomic.Uint64() < minUTxOLovelace {
		return nil, adapter.Errorf(adapter.ErrInvalidParams, a.info.ID, "create", "amount %s below minimum output", params.Amount)
	}
	amount := atomic.Uint64()
	utxos, err := a.client.AddressUTxOs(ctx, fromAddr.String())
	if err != nil {
		return nil, adapter.Wrap(adapter.ErrNetworkQuery, a.info.ID, "create", err)
	}
	pp, err := a.client.ProtocolParams(ctx)
	if err != nil {
		return nil, adapter.Wrap(adapter.ErrNetworkQuery, a.info.ID, "create", err)
	}
	// Only pure-ADA outputs are spent so change never has to carry assets
	var spendable []UTxO
	var available uint64
	for _, u := range utxos {
		if len(u.Amount) != 1 {
			continue
		}
		spendable = append(spendable, u)
		available += u.Quantity(unitLovelace)
	}
	slices.SortFunc(spendable, func(x, y UTxO) int {
		return cmp.Compare(y.Quantity(unitLovelace), x.Quantity(unitLovelace))
	})
	estimateFee := func(bodySize int) uint64 {
		size := bodySize + len(script) + params.Wallet.Threshold*vkeyWitnessSize + 16
		return uint64(pp.MinFeeA*size + pp.MinFeeB) // #nosec G115
	}
	// Size a fee for the worst case of every spendable input before
	// selecting, then select largest first
	var selected []UTxO
	var total uint64
	fee := estimateFee(0)
	for _, u := range spendable {
		if total >= amount+fee {
			break
		}
		selected = append(selected, u)
		total += u.Quantity(unitLovelace)
		fee = estimateFee(len(selected)*40 + 200)
	}
	if total < amount+fee {
		return nil, &adapter.InsufficientFundsError{
			Network:   a.info.ID,
			Available: adapter.FromAtomicUint64(available, a.info.Currency.Decimals),
			Required:  adapter.FromAtomicUint64(amount+fee, a.info.Currency.Decimals),
		}
	}
	slot, err := a.client.LatestSlot(ctx)
	if err != nil {
		return nil, adapter.Wrap(adapter.ErrNetworkQuery, a.info.ID, "create", err)
	}
	body, finalFee, err := a.buildBody(selected, toAddr, fromAddr, amount, fee, slot+ttlSlots)
	if err != nil {
		return nil, adapter.Wrap(adapter.ErrInvalidParams, a.info.ID, "create", err)
	}
	if actual := estimateFee(len(body)); actual > fee {
		if total < amount+actual {
			return nil, &adapter.InsufficientFundsError{
				Network:   a.info.ID,
				Available: adapter.FromAtomicUint64(available, a.info.Currency.Decimals),
				Required:  adapter.FromAtomicUint64(amount+actual, a.info.Currency.Decimals),
			}
		}
		if body, finalFee, err = a.buildBody(selected, toAddr, fromAddr, amount, actual, slot+ttlSlots); err != nil {
			return nil, adapter.Wrap(adapter.ErrInvalidParams, a.info.ID, "create", err)
		}
	}
	hash := blake2b.Sum256(body)
	now := time.Now().UTC()
	wallet := params.Wallet
	wallet.Address = fromAddr.String()
	wallet.Owners = slices.Clone(params.Wallet.Owners)
	a.logger.Debug("built transaction", "inputs", len(selected), "fee", finalFee)
	return &adapter.Proposal{
		ID:          hex.EncodeToString(hash[:]),
		Network:     a.info.ID,
		FromAddress: fromAddr.String(),
		ToAddress:   params.ToAddress,
		Amount:      params.Amount,
		Data:        slices.Clone(params.Data),
		Raw:         body,
		Signatures:  []adapter.Signature{},
		Status:      adapter.StatusPending,
		Wallet:      wallet,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (a *Adapter) SignTransaction(ctx context.Context, p *adapter.Proposal, key adapter.KeyMaterial) (adapter.Signature, error) {
	if err := adapter.RequireCurve(a.info.ID, key, network.CurveEd25519); err != nil {
		return adapter.Signature{}, err
	}
	pub := key.PublicKey()
	signer := hex.EncodeToString(pub)
	if !p.Wallet.IsOwner(signer) {
		return adapter.Signature{}, adapter.Errorf(adapter.ErrSigning, a.info.ID, "sign", "%s is not a wallet owner", signer)
	}
	var body conway.ConwayTransactionBody
	if _, err := cbor.Decode(p.Raw, &body); err != nil {
		return adapter.Signature{}, adapter.Wrap(adapter.ErrSigning, a.info.ID, "sign", fmt.Errorf("%w: %w", adapter.ErrUnknownRaw, err))
	}
	hash := blake2b.Sum256(p.Raw)
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
	sorted, err := parseOwners(p.Wallet.Owners)
	if err != nil {
		return nil, adapter.Wrap(adapter.ErrSigning, a.info.ID, "combine", err)
	}
	order := make([]string, 0, len(sorted))
	for _, o := range sorted {
		order = append(order, o.hex)
	}
	hash := blake2b.Sum256(p.Raw)
	merged := adapter.MergeSignatures(p.Signatures, sigs)
	for _, sig := range merged {
		pub, err := hex.DecodeString(sig.Signer)
		if err != nil || len(pub) != ed25519.PublicKeySize || !ed25519.Verify(pub, hash[:], sig.Blob) {
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

// signedTx assembles [body, witnesses, valid, auxiliary data] with the
// native script in the witness set
func signedTx(body []byte, script []byte, sigs []adapter.Signature) ([]byte, error) {
	witnesses := make([]lcommon.VkeyWitness, 0, len(sigs))
	for _, sig := range sigs {
		pub, err := hex.DecodeString(sig.Signer)
		if err != nil {
			return nil, err
		}
		witnesses = append(witnesses, lcommon.VkeyWitness{
			Vkey:      pub,
			Signature: sig.Blob,
		})
	}
	witnessMap := map[int]any{
		0: witnesses,
		1: []any{cbor.RawMessage(script)},
	}
	return cbor.Encode([]any{
		cbor.RawMessage(body),
		witnessMap,
		true,
		nil,
	})
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
	_, script, _, err := a.walletScript(combined.Wallet.Owners, combined.Wallet.Threshold)
	if err != nil {
		return "", adapter.Wrap(adapter.ErrBroadcast, a.info.ID, "broadcast", err)
	}
	hash := blake2b.Sum256(combined.Raw)
	txID := hex.EncodeToString(hash[:])
	tx, err := signedTx(combined.Raw, script, combined.Signatures[:combined.Wallet.Threshold])
	if err != nil {
		return "", adapter.Wrap(adapter.ErrBroadcast, a.info.ID, "broadcast", err)
	}
	submitted, err := a.client.Submit(ctx, tx)
	if err != nil {
		// Spent inputs mean the transaction or a conflicting one landed
		var httpErr *client.HTTPError
		if errors.As(err, &httpErr) && strings.Contains(httpErr.Body, "BadInputsUTxO") {
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
	info, err := a.client.Transaction(ctx, txID)
	if err != nil {
		if errors.Is(err, ErrTxNotFound) {
			return adapter.StatusPending, nil
		}
		return "", adapter.Wrap(adapter.ErrNetworkQuery, a.info.ID, "status", err)
	}
	if info.Block == "" {
		return adapter.StatusPending, nil
	}
	if !info.ValidContract {
		return adapter.StatusFailed, nil
	}
	return adapter.StatusConfirmed, nil
}
