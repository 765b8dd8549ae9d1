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

package bitcoin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"sync"

	"github.com/NEILBATCHELOR/wallet-sub001/adapter"
	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
)

// bitcoind RPC error codes
const (
	rpcErrInvalidAddressOrKey btcjson.RPCErrorCode = -5
	rpcErrVerifyRejected      btcjson.RPCErrorCode = -26
	rpcErrVerifyAlreadyInTx   btcjson.RPCErrorCode = -27
)

var (
	ErrTxNotFound    = errors.New("transaction not found")
	ErrClientClosed  = errors.New("bitcoind client closed")
	ErrInvalidRPCURL = errors.New("invalid bitcoind endpoint")
)

// UTXO is an unspent output locked to the multisig address
type UTXO struct {
	TxID   string
	Vout   uint32
	Amount int64
}

// TxInfo is the subset of getrawtransaction output used for status
type TxInfo struct {
	TxID          string
	Confirmations int64
}

// Client is the bitcoind surface used by the adapter
type Client interface {
	ScanAddress(ctx context.Context, address string) ([]UTXO, error)
	EstimateFeeRate(ctx context.Context, targetBlocks int) (int64, error)
	SendRawTransaction(ctx context.Context, tx *wire.MsgTx) (string, error)
	GetTransaction(ctx context.Context, txID string) (*TxInfo, error)
}

// RPCClient talks to bitcoind through btcd's rpcclient in HTTP POST mode.
// The connection is set up on first use.
type RPCClient struct {
	config *rpcclient.ConnConfig
	mu     sync.Mutex
	rpc    *rpcclient.Client
	closed bool
}

// ConnConfig converts an endpoint URL such as http://127.0.0.1:8332/wallet/w
// into an rpcclient configuration. Credentials in the URL are used unless
// user is set.
func ConnConfig(endpoint string, user string, pass string) (*rpcclient.ConnConfig, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRPCURL, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRPCURL, endpoint)
	}
	if user == "" && u.User != nil {
		user = u.User.Username()
		pass, _ = u.User.Password()
	}
	return &rpcclient.ConnConfig{
		Host:         u.Host + u.Path,
		User:         user,
		Pass:         pass,
		HTTPPostMode: true,
		DisableTLS:   u.Scheme != "https",
	}, nil
}

func NewRPCClient(config *rpcclient.ConnConfig) *RPCClient {
	return &RPCClient{config: config}
}

func (c *RPCClient) client() (*rpcclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClientClosed
	}
	if c.rpc == nil {
		rpc, err := rpcclient.New(c.config, nil)
		if err != nil {
			return nil, err
		}
		c.rpc = rpc
	}
	return c.rpc, nil
}

// Close stops the rpcclient worker. Later calls fail with ErrClientClosed.
func (c *RPCClient) Close() error {
	c.mu.Lock()
	rpc := c.rpc
	c.rpc = nil
	c.closed = true
	c.mu.Unlock()
	if rpc != nil {
		rpc.Shutdown()
		rpc.WaitForShutdown()
	}
	return nil
}

// await waits on an rpcclient future until ctx is done. Futures are
// buffered channels, so a request abandoned here does not block the worker.
func await[F ~chan *rpcclient.Response, T any](ctx context.Context, future F, receive func(F) (T, error)) (T, error) {
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case resp := <-future:
		ready := make(F, 1)
		ready <- resp
		return receive(ready)
	}
}

func (c *RPCClient) ScanAddress(ctx context.Context, address string) ([]UTXO, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rpc, err := c.client()
	if err != nil {
		return nil, err
	}
	descriptors, err := json.Marshal([]map[string]string{{"desc": "addr(" + address + ")"}})
	if err != nil {
		return nil, err
	}
	raw, err := await(
		ctx,
		rpc.RawRequestAsync("scantxoutset", []json.RawMessage{json.RawMessage(`"start"`), descriptors}),
		rpcclient.FutureRawResult.Receive,
	)
	if err != nil {
		return nil, err
	}
	var result struct {
		Success  bool `json:"success"`
		Unspents []struct {
			TxID   string      `json:"txid"`
			Vout   uint32      `json:"vout"`
			Amount json.Number `json:"amount"`
		} `json:"unspents"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode scantxoutset: %w", err)
	}
	ret := make([]UTXO, 0, len(result.Unspents))
	for _, u := range result.Unspents {
		sats, err := adapter.ToAtomic(u.Amount.String(), 8)
		if err != nil {
			return nil, fmt.Errorf("utxo %s:%d: %w", u.TxID, u.Vout, err)
		}
		if !sats.IsInt64() {
			return nil, fmt.Errorf("utxo %s:%d amount overflows", u.TxID, u.Vout)
		}
		ret = append(ret, UTXO{TxID: u.TxID, Vout: u.Vout, Amount: sats.Int64()})
	}
	return ret, nil
}

// EstimateFeeRate returns sat/vB, or 0 when the node has no estimate
func (c *RPCClient) EstimateFeeRate(ctx context.Context, targetBlocks int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	rpc, err := c.client()
	if err != nil {
		return 0, err
	}
	result, err := await(
		ctx,
		rpc.EstimateSmartFeeAsync(int64(targetBlocks), nil),
		rpcclient.FutureEstimateSmartFeeResult.Receive,
	)
	if err != nil {
		return 0, err
	}
	if result.FeeRate == nil || *result.FeeRate <= 0 {
		return 0, nil
	}
	// feerate is BTC/kvB
	return int64(math.Ceil(*result.FeeRate * 1e8 / 1000)), nil
}

func (c *RPCClient) SendRawTransaction(ctx context.Context, tx *wire.MsgTx) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	rpc, err := c.client()
	if err != nil {
		return "", err
	}
	hash, err := await(
		ctx,
		rpc.SendRawTransactionAsync(tx, false),
		rpcclient.FutureSendRawTransactionResult.Receive,
	)
	if err != nil {
		return "", err
	}
	return hash.String(), nil
}

func (c *RPCClient) GetTransaction(ctx context.Context, txID string) (*TxInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	hash, err := chainhash.NewHashFromStr(txID)
	if err != nil {
		return nil, fmt.Errorf("txid %q: %w", txID, err)
	}
	rpc, err := c.client()
	if err != nil {
		return nil, err
	}
	result, err := await(
		ctx,
		rpc.GetRawTransactionVerboseAsync(hash),
		rpcclient.FutureGetRawTransactionVerboseResult.Receive,
	)
	if err != nil {
		var rpcErr *btcjson.RPCError
		if errors.As(err, &rpcErr) && rpcErr.Code == rpcErrInvalidAddressOrKey {
			return nil, ErrTxNotFound
		}
		return nil, err
	}
	confirmations := int64(min(result.Confirmations, math.MaxInt64))
	return &TxInfo{TxID: result.Txid, Confirmations: confirmations}, nil
}
