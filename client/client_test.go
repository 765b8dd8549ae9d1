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

package client_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/NEILBATCHELOR/wallet-sub001/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() *client.RetryConfig {
	cfg := client.DefaultRetryConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 5 * time.Millisecond
	return cfg
}

func TestRESTRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "secret", r.Header.Get("project_id"))
		_, _ = w.Write([]byte(`{"value":"ok"}`))
	}))
	defer srv.Close()

	c := client.NewREST(
		srv.URL+"/",
		client.WithRetry(fastRetry()),
		client.WithHeader("project_id", "secret"),
	)
	var out struct {
		Value string `json:"value"`
	}
	require.NoError(t, c.Get(context.Background(), "/thing", nil, &out))
	assert.Equal(t, "ok", out.Value)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRESTNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	c := client.NewREST(srv.URL, client.WithRetry(fastRetry()))
	err := c.Get(context.Background(), "/missing", nil, nil)
	assert.True(t, client.IsNotFound(err))
}

func TestRetryStopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastRetry()
	cfg.InitialDelay = time.Hour
	cfg.MaxDelay = time.Hour
	cfg.OnRetry = func(int, error) { cancel() }
	err := client.Retry(ctx, cfg, func() error {
		return &client.HTTPError{StatusCode: http.StatusBadGateway}
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, client.IsRetryable(&client.HTTPError{StatusCode: 503}))
	assert.True(t, client.IsRetryable(&client.HTTPError{StatusCode: 429}))
	assert.False(t, client.IsRetryable(&client.HTTPError{StatusCode: 400}))
	assert.False(t, client.IsRetryable(context.DeadlineExceeded))
	assert.False(t, client.IsRetryable(errors.New("bad request")))
	assert.True(t, client.IsRetryable(errors.New("dial tcp: connection refused")))
	assert.False(t, client.IsRetryable(nil))
}
