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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/NEILBATCHELOR/wallet-sub001/adapter/bitcoin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcRequest struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
	ID     json.RawMessage   `json:"id"`
}

func newBitcoind(t *testing.T, handle func(req rpcRequest) (any, map[string]any)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "rpc" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		result, rpcErr := handle(req)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": result,
			"error":  rpcErr,
			"id":     req.ID,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newRPCClient(t *testing.T, srv *httptest.Server) *bitcoin.RPCClient {
	t.Helper()
	config, err := bitcoin.ConnConfig(srv.URL, "rpc", "secret")
	require.NoError(t, err)
	c := bitcoin.NewRPCClient(config)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestConnConfig(t *testing.T) {
	config, err := bitcoin.ConnConfig("https://alice:pw@node.example:8332/wallet/ops", "", "")
	require.NoError(t, err)
	assert.Equal(t, "node.example:8332/wallet/ops", config.Host)
	assert.Equal(t, "alice", config.User)
	assert.Equal(t, "pw", config.Pass)
	assert.True(t, config.HTTPPostMode)
	assert.False(t, config.DisableTLS)

	config, err = bitcoin.ConnConfig("http://127.0.0.1:18332", "rpc", "secret")
	require.NoError(t, err)
	assert.Equal(t, "rpc", config.User)
	assert.True(t, config.DisableTLS)

	_, err = bitcoin.ConnConfig("not a url", "", "")
	assert.ErrorIs(t, err, bitcoin.ErrInvalidRPCURL)
}

func TestRPCClientScanAndFees(t *testing.T) {
	srv := newBitcoind(t, func(req rpcRequest) (any, map[string]any) {
		switch req.Method {
		case "scantxoutset":
			if len(req.Params) != 2 || !strings.Contains(string(req.Params[1]), "addr(2N") {
				return nil, map[string]any{"code": -8, "message": "bad params"}
			}
			return map[string]any{
				"success": true,
				"unspents": []map[string]any{
					{"txid": strings.Repeat("a", 64), "vout": 1, "amount": 0.5},
				},
			}, nil
		case "estimatesmartfee":
			return map[string]any{"feerate": 0.00012, "blocks": 6}, nil
		}
		return nil, map[string]any{"code": -32601, "message": "Method not found"}
	})
	c := newRPCClient(t, srv)
	ctx := context.Background()

	utxos, err := c.ScanAddress(ctx, "2N3oefVeg6stiTb5Kh3ozCSkaqmx91FDbsm")
	require.NoError(t, err)
	require.Len(t, utxos, 1)
	assert.Equal(t, int64(50_000_000), utxos[0].Amount)
	assert.Equal(t, uint32(1), utxos[0].Vout)

	rate, err := c.EstimateFeeRate(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, int64(12), rate)
}

func TestRPCClientMissingTransaction(t *testing.T) {
	srv := newBitcoind(t, func(req rpcRequest) (any, map[string]any) {
		return nil, map[string]any{
			"code":    -5,
			"message": "No such mempool or blockchain transaction",
		}
	})
	c := newRPCClient(t, srv)
	_, err := c.GetTransaction(context.Background(), strings.Repeat("b", 64))
	assert.ErrorIs(t, err, bitcoin.ErrTxNotFound)
}

func TestRPCClientCanceledAndClosed(t *testing.T) {
	srv := newBitcoind(t, func(req rpcRequest) (any, map[string]any) {
		return map[string]any{"feerate": 0.0001}, nil
	})
	c := newRPCClient(t, srv)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.EstimateFeeRate(ctx, 6)
	require.ErrorIs(t, err, context.Canceled)

	require.NoError(t, c.Close())
	_, err = c.EstimateFeeRate(context.Background(), 6)
	assert.ErrorIs(t, err, bitcoin.ErrClientClosed)
}
