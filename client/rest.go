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

// Package client provides the JSON REST transport and retry policy used by
// adapters whose networks have no dedicated Go client.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

const maxResponseSize = 16 << 20

// REST is a small JSON-over-HTTP client for indexer style APIs
type REST struct {
	baseURL string
	opts    options
	logger  *slog.Logger
}

func NewREST(baseURL string, opts ...OptionFunc) *REST {
	o := newOptions(opts)
	return &REST{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		opts:    o,
		logger:  o.logger.With("component", "rest"),
	}
}

// Get fetches path and decodes the JSON body into result. Non-2xx
// responses are returned as *HTTPError.
func (c *REST) Get(ctx context.Context, path string, query url.Values, result any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	return Retry(ctx, c.opts.retry, func() error {
		return c.do(ctx, http.MethodGet, target, "", nil, result)
	})
}

// Post sends body once without retries and decodes the response into
// result
func (c *REST) Post(ctx context.Context, path string, contentType string, body []byte, result any) error {
	return c.do(ctx, http.MethodPost, c.baseURL+path, contentType, body, result)
}

// PostForm sends url-encoded form values once
func (c *REST) PostForm(ctx context.Context, path string, form url.Values, result any) error {
	return c.Post(
		ctx,
		path,
		"application/x-www-form-urlencoded",
		[]byte(form.Encode()),
		result,
	)
}

func (c *REST) do(
	ctx context.Context,
	method string,
	target string,
	contentType string,
	body []byte,
	result any,
) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	c.opts.apply(req)
	resp, err := c.opts.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	c.logger.Debug(
		"REST request",
		"method", method,
		"url", target,
		"status", resp.StatusCode,
	)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	if result == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
