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

package client

import (
	"io"
	"log/slog"
	"net/http"
	"time"
)

const defaultTimeout = 30 * time.Second

type options struct {
	logger     *slog.Logger
	httpClient *http.Client
	retry      *RetryConfig
	headers    map[string]string
}

type OptionFunc func(*options)

// WithLogger specifies the logger
func WithLogger(logger *slog.Logger) OptionFunc {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRetry specifies the retry policy. A nil config disables retries.
func WithRetry(cfg *RetryConfig) OptionFunc {
	return func(o *options) {
		o.retry = cfg
	}
}

// WithHeader adds a header to every request
func WithHeader(key string, value string) OptionFunc {
	return func(o *options) {
		o.headers[key] = value
	}
}

func newOptions(opts []OptionFunc) options {
	o := options{
		retry:   DefaultRetryConfig(),
		headers: make(map[string]string),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return o
}

func (o *options) apply(req *http.Request) {
	for k, v := range o.headers {
		req.Header.Set(k, v)
	}
}
