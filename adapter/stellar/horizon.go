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

package stellar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/NEILBATCHELOR/wallet-sub001/client"
	"github.com/stellar/go/clients/horizon"
)

const horizonTimeout = 30 * time.Second

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrTxNotFound      = errors.New("transaction not found")
)

type Balance struct {
	Balance     string
	AssetType   string
	AssetCode   string
	AssetIssuer string
}

type Account struct {
	ID       string
	Sequence string
	Balances []Balance
}

type TxRecord struct {
	Hash       string `json:"hash"`
	Successful bool   `json:"successful"`
	Ledger     int64  `json:"ledger"`
}

// SubmitError carries the result codes of a rejected submission
type SubmitError struct {
	Transaction string
	Operations  []string
}

func (e *SubmitError) Error() string {
	if len(e.Operations) == 0 {
		return "horizon rejected transaction: " + e.Transaction
	}
	return "horizon rejected transaction: " + e.Transaction + " (" + strings.Join(e.Operations, ",") + ")"
}

// Client is the subset of the Horizon API the adapter uses
type Client interface {
	Account(ctx context.Context, id string) (*Account, error)
	Submit(ctx context.Context, envelope string) (string, error)
	Transaction(ctx context.Context, hash string) (*TxRecord, error)
}

// contextHTTP satisfies horizon.HTTP with requests bound to ctx
type contextHTTP struct {
	ctx  context.Context
	http *http.Client
}

func (c contextHTTP) Do(req *http.Request) (*http.Response, error) {
	return c.http.Do(req.WithContext(c.ctx))
}

func (c contextHTTP) Get(u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(c.ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	return c.http.Do(req)
}

func (c contextHTTP) PostForm(u string, data url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(c.ctx, http.MethodPost, u, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.http.Do(req)
}

type horizonClient struct {
	url    string
	http   *http.Client
	retry  *client.RetryConfig
	logger *slog.Logger
}

// NewHorizonClient returns a Client backed by the stellar/go Horizon
// client. Reads are retried on transient failures, submissions are not.
func NewHorizonClient(endpoint string, httpClient *http.Client, logger *slog.Logger) Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: horizonTimeout}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	h := &horizonClient{
		url:    strings.TrimRight(endpoint, "/"),
		http:   httpClient,
		logger: logger,
	}
	h.retry = client.DefaultRetryConfig()
	h.retry.Retryable = retryableHorizon
	h.retry.OnRetry = func(attempt int, err error) {
		h.logger.Debug("retrying horizon request", "attempt", attempt, "error", err)
	}
	return h
}

// bind returns a Horizon client whose requests carry ctx
func (h *horizonClient) bind(ctx context.Context) *horizon.Client {
	return &horizon.Client{
		URL:  h.url,
		HTTP: contextHTTP{ctx: ctx, http: h.http},
	}
}

func horizonStatus(err error) int {
	var herr *horizon.Error
	if errors.As(err, &herr) && herr.Response != nil {
		return herr.Response.StatusCode
	}
	var httpErr *client.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}

func retryableHorizon(err error) bool {
	switch status := horizonStatus(err); {
	case status == http.StatusTooManyRequests, status >= 500:
		return true
	case status != 0:
		return false
	}
	return client.IsRetryable(err)
}

func (h *horizonClient) Account(ctx context.Context, id string) (*Account, error) {
	var acct horizon.Account
	err := client.Retry(ctx, h.retry, func() error {
		var err error
		acct, err = h.bind(ctx).LoadAccount(id)
		return err
	})
	if err != nil {
		if horizonStatus(err) == http.StatusNotFound {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	ret := &Account{
		ID:       id,
		Sequence: acct.Sequence,
		Balances: make([]Balance, 0, len(acct.Balances)),
	}
	for _, b := range acct.Balances {
		ret.Balances = append(ret.Balances, Balance{
			Balance:     b.Balance,
			AssetType:   b.Type,
			AssetCode:   b.Code,
			AssetIssuer: b.Issuer,
		})
	}
	return ret, nil
}

func (h *horizonClient) Submit(ctx context.Context, envelope string) (string, error) {
	resp, err := h.bind(ctx).SubmitTransaction(envelope)
	if err != nil {
		var herr *horizon.Error
		if errors.As(err, &herr) {
			if codes, codesErr := herr.ResultCodes(); codesErr == nil && codes != nil && codes.TransactionCode != "" {
				return "", &SubmitError{
					Transaction: codes.TransactionCode,
					Operations:  codes.OperationCodes,
				}
			}
		}
		return "", err
	}
	return resp.Hash, nil
}

// Transaction looks a transaction up by hash. The Horizon client has no
// call for single transactions, so the request goes through the same
// context-bound transport.
func (h *horizonClient) Transaction(ctx context.Context, hash string) (*TxRecord, error) {
	var ret TxRecord
	err := client.Retry(ctx, h.retry, func() error {
		resp, err := contextHTTP{ctx: ctx, http: h.http}.Get(h.url + "/transactions/" + url.PathEscape(hash))
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return &client.HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
		}
		if err := json.NewDecoder(resp.Body).Decode(&ret); err != nil {
			return fmt.Errorf("decode transaction %s: %w", hash, err)
		}
		return nil
	})
	if err != nil {
		if horizonStatus(err) == http.StatusNotFound {
			return nil, ErrTxNotFound
		}
		return nil, err
	}
	return &ret, nil
}
