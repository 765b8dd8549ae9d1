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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/NEILBATCHELOR/wallet-sub001/client"
	"github.com/NEILBATCHELOR/wallet-sub001/vault"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	DefaultRequestTimeout = 30 * time.Second
	handshakeTimeout      = 10 * time.Second
)

type clientOptions struct {
	logger  *slog.Logger
	timeout time.Duration
	retry   *client.RetryConfig
	token   string
}

type ClientOptionFunc func(*clientOptions)

func WithLogger(logger *slog.Logger) ClientOptionFunc {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

// WithTimeout bounds the wait for each response
func WithTimeout(timeout time.Duration) ClientOptionFunc {
	return func(o *clientOptions) {
		o.timeout = timeout
	}
}

// WithRetry controls retries of idempotent actions. A nil config disables
// them.
func WithRetry(cfg *client.RetryConfig) ClientOptionFunc {
	return func(o *clientOptions) {
		o.retry = cfg
	}
}

func WithToken(token string) ClientOptionFunc {
	return func(o *clientOptions) {
		o.token = token
	}
}

func retryTimeouts(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// Client talks to a vault Host over one websocket connection. It is safe
// for concurrent use.
type Client struct {
	conn    *websocket.Conn
	logger  *slog.Logger
	timeout time.Duration
	retry   *client.RetryConfig

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan Response
	closed  bool

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to a vault host and waits for its ready signal
func Dial(ctx context.Context, endpoint string, opts ...ClientOptionFunc) (*Client, error) {
	o := clientOptions{timeout: DefaultRequestTimeout}
	o.retry = client.DefaultRetryConfig()
	o.retry.Retryable = retryTimeouts
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	header := http.Header{}
	if o.token != "" {
		header.Set("Authorization", "Bearer "+o.token)
	}
	conn, resp, err := dialer.DialContext(ctx, websocketURL(endpoint), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial vault host: %w", err)
	}
	if err := awaitReady(conn, o.timeout); err != nil {
		conn.Close()
		return nil, err
	}
	c := &Client{
		conn:    conn,
		logger:  o.logger.With("component", "vault-client"),
		timeout: o.timeout,
		retry:   o.retry,
		pending: make(map[string]chan Response),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func websocketURL(endpoint string) string {
	switch {
	case strings.HasPrefix(endpoint, "http://"):
		return "ws://" + strings.TrimPrefix(endpoint, "http://")
	case strings.HasPrefix(endpoint, "https://"):
		return "wss://" + strings.TrimPrefix(endpoint, "https://")
	case strings.HasPrefix(endpoint, "ws://"), strings.HasPrefix(endpoint, "wss://"):
		return endpoint
	default:
		return "ws://" + endpoint
	}
}

func awaitReady(conn *websocket.Conn, timeout time.Duration) error {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		return fmt.Errorf("%w: %w", ErrNotReady, err)
	}
	if msg.Type != readyType {
		return fmt.Errorf("%w: got %q", ErrNotReady, msg.Type)
	}
	return conn.SetReadDeadline(time.Time{})
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.shutdown(err)
			return
		}
		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			c.logger.Warn("discarding malformed response", "error", err)
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()
		if !ok {
			c.logger.Debug("discarding response for abandoned request", "id", resp.ID)
			continue
		}
		ch <- resp
	}
}

// shutdown fails every outstanding request
func (c *Client) shutdown(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && !errors.Is(err, websocket.ErrCloseSent) {
			c.logger.Debug("vault connection closed", "error", err)
		}
	}
	c.pending = make(map[string]chan Response)
}

func (c *Client) register(id string) (chan Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	ch := make(chan Response, 1)
	c.pending[id] = ch
	return ch, nil
}

func (c *Client) abandon(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Call sends one request and decodes the result into result. Idempotent
// actions are retried after a timeout.
func (c *Client) Call(ctx context.Context, action Action, params any, result any) error {
	if !action.Idempotent() || c.retry == nil {
		return c.roundTrip(ctx, action, params, result)
	}
	return client.Retry(ctx, c.retry, func() error {
		return c.roundTrip(ctx, action, params, result)
	})
}

func (c *Client) roundTrip(ctx context.Context, action Action, params any, result any) error {
	req := Request{ID: uuid.NewString(), Action: action}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encode %s params: %w", action, err)
		}
		req.Params = data
	}
	ch, err := c.register(req.ID)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	err = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	if err == nil {
		err = c.conn.WriteJSON(req)
	}
	c.writeMu.Unlock()
	if err != nil {
		c.abandon(req.ID)
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	var resp Response
	select {
	case resp = <-ch:
	case <-ctx.Done():
		c.abandon(req.ID)
		return ctx.Err()
	case <-timer.C:
		c.abandon(req.ID)
		return fmt.Errorf("%w: %s after %s", ErrTimeout, action, c.timeout)
	case <-c.done:
		return ErrClosed
	}
	if !resp.Success {
		if resp.Error == nil {
			return &RemoteError{Kind: KindInternal, Message: "request failed"}
		}
		return &RemoteError{Kind: resp.Error.Kind, Message: resp.Error.Message}
	}
	if result != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("decode %s result: %w", action, err)
		}
	}
	return nil
}

// Close ends the connection and waits for the reader to exit
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		c.conn.Close()
		<-c.done
	})
	return nil
}

func (c *Client) Initialize(ctx context.Context, password string, level vault.SecurityLevel, mfaSecret string) error {
	return c.Call(ctx, ActionInitialize, InitializeParams{
		Password:  password,
		Level:     level,
		MFASecret: mfaSecret,
	}, nil)
}

func (c *Client) Unlock(ctx context.Context, password string, mfaCode string) error {
	return c.Call(ctx, ActionUnlock, UnlockParams{Password: password, MFACode: mfaCode}, nil)
}

func (c *Client) Lock(ctx context.Context) error {
	return c.Call(ctx, ActionLock, nil, nil)
}

func (c *Client) CreateKey(ctx context.Context, params vault.CreateKeyParams) (*vault.KeyEntry, error) {
	var ret vault.KeyEntry
	if err := c.Call(ctx, ActionCreateKey, params, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

func (c *Client) GetKey(ctx context.Context, keyID string, opts vault.RequestOptions) (*vault.KeyEntry, error) {
	var ret vault.KeyEntry
	if err := c.Call(ctx, ActionGetKey, KeyParams{KeyID: keyID, Options: opts}, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

func (c *Client) SignWithKey(ctx context.Context, keyID string, payload []byte, opts vault.RequestOptions) ([]byte, error) {
	var ret SignResult
	if err := c.Call(ctx, ActionSignWithKey, SignParams{KeyID: keyID, Payload: payload, Options: opts}, &ret); err != nil {
		return nil, err
	}
	return ret.Signature, nil
}

func (c *Client) ExportKey(ctx context.Context, keyID string, password string, opts vault.RequestOptions) ([]byte, error) {
	var ret ExportResult
	params := ExportParams{KeyID: keyID, Password: password, Options: opts}
	if err := c.Call(ctx, ActionExportKey, params, &ret); err != nil {
		return nil, err
	}
	return ret.Material, nil
}

func (c *Client) DeleteKey(ctx context.Context, keyID string, opts vault.RequestOptions) error {
	return c.Call(ctx, ActionDeleteKey, KeyParams{KeyID: keyID, Options: opts}, nil)
}

func (c *Client) CreateKeyBackup(ctx context.Context, keyID string, backupPassword string, opts vault.RequestOptions) (*vault.Backup, error) {
	var ret vault.Backup
	params := BackupParams{KeyID: keyID, BackupPassword: backupPassword, Options: opts}
	if err := c.Call(ctx, ActionCreateKeyBackup, params, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

func (c *Client) GetKeys(ctx context.Context) ([]*vault.KeyEntry, error) {
	var ret []*vault.KeyEntry
	if err := c.Call(ctx, ActionGetKeys, nil, &ret); err != nil {
		return nil, err
	}
	return ret, nil
}

func (c *Client) GetStatus(ctx context.Context) (vault.Status, error) {
	var ret vault.Status
	err := c.Call(ctx, ActionGetStatus, nil, &ret)
	return ret, err
}

func (c *Client) GetAuditLog(ctx context.Context, limit int) ([]vault.AuditEntry, error) {
	var ret []vault.AuditEntry
	if err := c.Call(ctx, ActionGetAuditLog, AuditLogParams{Limit: limit}, &ret); err != nil {
		return nil, err
	}
	return ret, nil
}
