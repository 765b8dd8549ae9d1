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

package vaultclient_test

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/NEILBATCHELOR/wallet-sub001/client"
	"github.com/NEILBATCHELOR/wallet-sub001/vault"
	"github.com/NEILBATCHELOR/wallet-sub001/vaultclient"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const password = "open sesame, but longer"

func startHost(t *testing.T, opts ...vaultclient.HostOptionFunc) *httptest.Server {
	t.Helper()
	v, err := vault.New(context.Background())
	require.NoError(t, err)
	srv := httptest.NewServer(vaultclient.NewHost(v, opts...))
	t.Cleanup(func() {
		srv.Close()
		_ = v.Close()
	})
	return srv
}

func dial(t *testing.T, url string, opts ...vaultclient.ClientOptionFunc) *vaultclient.Client {
	t.Helper()
	c, err := vaultclient.Dial(context.Background(), url, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRemoteVaultLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	srv := startHost(t, vaultclient.WithHostPromRegistry(reg))
	c := dial(t, srv.URL)
	ctx := context.Background()

	status, err := c.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, vault.StateUninitialized, status.State)

	require.NoError(t, c.Initialize(ctx, password, vault.LevelStandard, ""))
	err = c.Unlock(ctx, "nope", "")
	assert.ErrorIs(t, err, vault.ErrAuthenticationFailed)
	require.NoError(t, c.Unlock(ctx, password, ""))

	entry, err := c.CreateKey(ctx, vault.CreateKeyParams{Name: "remote", Network: "solana"})
	require.NoError(t, err)
	assert.Len(t, entry.Metadata.PublicKey, ed25519.PublicKeySize)

	signer, err := vaultclient.NewRemoteSigner(ctx, c, entry.ID, vault.RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, "ed25519", signer.Curve())
	sig, err := signer.Sign(ctx, []byte("message"))
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(signer.PublicKey(), []byte("message"), sig))

	keys, err := c.GetKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, entry.ID, keys[0].ID)

	_, err = c.ExportKey(ctx, entry.ID, password, vault.RequestOptions{})
	assert.ErrorIs(t, err, vault.ErrExportNotAllowed)
	var remote *vaultclient.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "ExportNotAllowed", remote.Kind)

	_, err = c.CreateKeyBackup(ctx, entry.ID, "backup", vault.RequestOptions{})
	assert.ErrorIs(t, err, vault.ErrExportNotAllowed)

	entries, err := c.GetAuditLog(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, vault.AuditExport, entries[1].Action)
	assert.False(t, entries[1].Success)

	require.NoError(t, c.DeleteKey(ctx, entry.ID, vault.RequestOptions{}))
	_, err = c.GetKey(ctx, entry.ID, vault.RequestOptions{})
	assert.ErrorIs(t, err, vault.ErrKeyNotFound)

	require.NoError(t, c.Lock(ctx))
	_, err = signer.Sign(ctx, []byte("message"))
	assert.ErrorIs(t, err, vault.ErrVaultLocked)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, "multisig_vault_host_requests_total", families[0].GetName())
}

func TestUnknownAction(t *testing.T) {
	srv := startHost(t)
	c := dial(t, srv.URL)
	err := c.Call(context.Background(), vaultclient.Action("reboot"), nil, nil)
	var remote *vaultclient.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, vaultclient.KindUnknownAction, remote.Kind)

	err = c.Call(context.Background(), vaultclient.ActionUnlock, nil, nil)
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, vaultclient.KindInvalidRequest, remote.Kind)
}

func TestHostToken(t *testing.T) {
	srv := startHost(t, vaultclient.WithHostToken("s3cret"))
	_, err := vaultclient.Dial(context.Background(), srv.URL)
	require.Error(t, err)
	c := dial(t, srv.URL, vaultclient.WithToken("s3cret"))
	_, err = c.GetStatus(context.Background())
	require.NoError(t, err)
}

func TestHandleMalformed(t *testing.T) {
	v, err := vault.New(context.Background())
	require.NoError(t, err)
	h := vaultclient.NewHost(v)
	resp := h.Handle(context.Background(), []byte("{"))
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, vaultclient.KindInvalidRequest, resp.Error.Kind)

	resp = h.Handle(context.Background(), []byte(`{"id":"1","action":"getStatus"}`))
	assert.True(t, resp.Success)
	assert.Equal(t, "1", resp.ID)
	var status vault.Status
	require.NoError(t, json.Unmarshal(resp.Result, &status))
	assert.Equal(t, vault.StateUninitialized, status.State)
}

// flakyHost drops the first request it receives and answers the rest
func flakyHost(t *testing.T, received *atomic.Int32) *httptest.Server {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()
		if !assert.NoError(t, conn.WriteJSON(vaultclient.Message{Type: "ready"})) {
			return
		}
		for {
			var req vaultclient.Request
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			if received.Add(1) == 1 {
				continue
			}
			result, _ := json.Marshal(vault.Status{State: vault.StateUnlocked})
			if err := conn.WriteJSON(vaultclient.Response{ID: req.ID, Success: true, Result: result}); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func fastRetry() *client.RetryConfig {
	return &client.RetryConfig{
		MaxRetries:        2,
		InitialDelay:      time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		BackoffMultiplier: 2,
		Retryable: func(err error) bool {
			return errors.Is(err, vaultclient.ErrTimeout)
		},
	}
}

func TestIdempotentRetriedAfterTimeout(t *testing.T) {
	var received atomic.Int32
	srv := flakyHost(t, &received)
	c := dial(
		t,
		srv.URL,
		vaultclient.WithTimeout(100*time.Millisecond),
		vaultclient.WithRetry(fastRetry()),
	)
	status, err := c.GetStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, vault.StateUnlocked, status.State)
	assert.Equal(t, int32(2), received.Load())
}

func TestMutatingNotRetried(t *testing.T) {
	var received atomic.Int32
	srv := flakyHost(t, &received)
	c := dial(
		t,
		srv.URL,
		vaultclient.WithTimeout(100*time.Millisecond),
		vaultclient.WithRetry(fastRetry()),
	)
	_, err := c.SignWithKey(context.Background(), "k", []byte("x"), vault.RequestOptions{})
	assert.ErrorIs(t, err, vaultclient.ErrTimeout)
	assert.Equal(t, int32(1), received.Load())
}

func TestClosedConnection(t *testing.T) {
	srv := startHost(t)
	c := dial(t, srv.URL)
	require.NoError(t, c.Close())
	_, err := c.GetStatus(context.Background())
	assert.ErrorIs(t, err, vaultclient.ErrClosed)
}

func TestActionIdempotent(t *testing.T) {
	assert.True(t, vaultclient.ActionGetStatus.Idempotent())
	assert.True(t, vaultclient.ActionGetKeys.Idempotent())
	assert.True(t, vaultclient.ActionGetAuditLog.Idempotent())
	assert.False(t, vaultclient.ActionSignWithKey.Idempotent())
	assert.False(t, vaultclient.ActionUnlock.Idempotent())
}
