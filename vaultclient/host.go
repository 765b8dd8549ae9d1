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

package vaultclient

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/NEILBATCHELOR/wallet-sub001/vault"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	hostWriteTimeout = 10 * time.Second
	maxRequestSize   = 1 << 20
)

type handlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

// Host serves a vault to websocket clients. Requests on a connection are
// handled in order and each gets exactly one response.
type Host struct {
	vault    *vault.Vault
	logger   *slog.Logger
	token    string
	upgrader websocket.Upgrader
	handlers map[Action]handlerFunc
	requests *prometheus.CounterVec
}

type HostOptionFunc func(*Host)

func WithHostLogger(logger *slog.Logger) HostOptionFunc {
	return func(h *Host) {
		h.logger = logger
	}
}

// WithHostToken requires clients to present the bearer token
func WithHostToken(token string) HostOptionFunc {
	return func(h *Host) {
		h.token = token
	}
}

func WithHostPromRegistry(promRegistry prometheus.Registerer) HostOptionFunc {
	return func(h *Host) {
		h.requests = promauto.With(promRegistry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "multisig_vault_host_requests_total",
				Help: "Vault host requests by action and result",
			},
			[]string{"action", "result"},
		)
	}
}

func NewHost(v *vault.Vault, opts ...HostOptionFunc) *Host {
	h := &Host{vault: v}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	h.logger = h.logger.With("component", "vault-host")
	h.handlers = map[Action]handlerFunc{
		ActionInitialize:      h.initialize,
		ActionUnlock:          h.unlock,
		ActionLock:            h.lock,
		ActionCreateKey:       h.createKey,
		ActionGetKey:          h.getKey,
		ActionSignWithKey:     h.signWithKey,
		ActionExportKey:       h.exportKey,
		ActionDeleteKey:       h.deleteKey,
		ActionCreateKeyBackup: h.createKeyBackup,
		ActionGetKeys:         h.getKeys,
		ActionGetStatus:       h.getStatus,
		ActionGetAuditLog:     h.getAuditLog,
	}
	return h
}

func (h *Host) authorized(r *http.Request) bool {
	if h.token == "" {
		return true
	}
	presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(presented), []byte(h.token)) == 1
}

func (h *Host) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxRequestSize)
	logger := h.logger.With("remote", r.RemoteAddr)
	if err := h.write(conn, Message{Type: readyType}); err != nil {
		logger.Debug("failed to send ready", "error", err)
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("connection read failed", "error", err)
			}
			return
		}
		resp := h.Handle(ctx, data)
		if err := h.write(conn, resp); err != nil {
			logger.Debug("failed to write response", "id", resp.ID, "error", err)
			return
		}
	}
}

func (h *Host) write(conn *websocket.Conn, msg any) error {
	if err := conn.SetWriteDeadline(time.Now().Add(hostWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}

// Handle decodes and dispatches one request frame
func (h *Host) Handle(ctx context.Context, data []byte) Response {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Response{Error: &ErrorBody{Kind: KindInvalidRequest, Message: err.Error()}}
	}
	resp := Response{ID: req.ID}
	handler, ok := h.handlers[req.Action]
	if !ok {
		resp.Error = &ErrorBody{
			Kind:    KindUnknownAction,
			Message: fmt.Sprintf("unknown action %q", req.Action),
		}
		h.count(req.Action, "unknown")
		return resp
	}
	result, err := handler(ctx, req.Params)
	if err == nil && result != nil {
		resp.Result, err = json.Marshal(result)
	}
	if err != nil {
		resp.Error = errorBody(err)
		h.count(req.Action, "failure")
		return resp
	}
	resp.Success = true
	h.count(req.Action, "success")
	return resp
}

func (h *Host) count(action Action, result string) {
	if h.requests != nil {
		h.requests.WithLabelValues(string(action), result).Inc()
	}
}

var errNoParams = errors.New("missing params")

func decodeParams[T any](params json.RawMessage) (T, error) {
	var ret T
	if len(params) == 0 {
		return ret, &RemoteError{Kind: KindInvalidRequest, Message: errNoParams.Error()}
	}
	if err := json.Unmarshal(params, &ret); err != nil {
		return ret, &RemoteError{Kind: KindInvalidRequest, Message: err.Error()}
	}
	return ret, nil
}

func (h *Host) initialize(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := decodeParams[InitializeParams](raw)
	if err != nil {
		return nil, err
	}
	return nil, h.vault.Initialize(ctx, []byte(p.Password), p.Level, p.MFASecret)
}

func (h *Host) unlock(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := decodeParams[UnlockParams](raw)
	if err != nil {
		return nil, err
	}
	return nil, h.vault.Unlock(ctx, []byte(p.Password), p.MFACode)
}

func (h *Host) lock(ctx context.Context, _ json.RawMessage) (any, error) {
	h.vault.Lock()
	return nil, nil
}

func (h *Host) createKey(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := decodeParams[vault.CreateKeyParams](raw)
	if err != nil {
		return nil, err
	}
	return h.vault.CreateKey(ctx, p)
}

func (h *Host) getKey(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := decodeParams[KeyParams](raw)
	if err != nil {
		return nil, err
	}
	return h.vault.GetKey(ctx, p.KeyID, p.Options)
}

func (h *Host) signWithKey(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := decodeParams[SignParams](raw)
	if err != nil {
		return nil, err
	}
	sig, err := h.vault.SignWithKey(ctx, p.KeyID, p.Payload, p.Options)
	if err != nil {
		return nil, err
	}
	return SignResult{Signature: sig}, nil
}

func (h *Host) exportKey(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := decodeParams[ExportParams](raw)
	if err != nil {
		return nil, err
	}
	material, err := h.vault.ExportKey(ctx, p.KeyID, []byte(p.Password), p.Options)
	if err != nil {
		return nil, err
	}
	return ExportResult{Material: material}, nil
}

func (h *Host) deleteKey(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := decodeParams[KeyParams](raw)
	if err != nil {
		return nil, err
	}
	return nil, h.vault.DeleteKey(ctx, p.KeyID, p.Options)
}

func (h *Host) createKeyBackup(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := decodeParams[BackupParams](raw)
	if err != nil {
		return nil, err
	}
	return h.vault.CreateKeyBackup(ctx, p.KeyID, []byte(p.BackupPassword), p.Options)
}

func (h *Host) getKeys(ctx context.Context, _ json.RawMessage) (any, error) {
	return h.vault.ListKeys(ctx)
}

func (h *Host) getStatus(ctx context.Context, _ json.RawMessage) (any, error) {
	return h.vault.Status(), nil
}

func (h *Host) getAuditLog(ctx context.Context, raw json.RawMessage) (any, error) {
	var p AuditLogParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, &RemoteError{Kind: KindInvalidRequest, Message: err.Error()}
		}
	}
	return h.vault.AuditLog(p.Limit)
}
