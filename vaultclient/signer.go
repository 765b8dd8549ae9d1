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
	"slices"

	"github.com/NEILBATCHELOR/wallet-sub001/adapter"
	"github.com/NEILBATCHELOR/wallet-sub001/vault"
)

// RemoteSigner is key material held by a remote vault
type RemoteSigner struct {
	client *Client
	keyID  string
	curve  string
	public []byte
	opts   vault.RequestOptions
}

var _ adapter.KeyMaterial = (*RemoteSigner)(nil)

// NewRemoteSigner looks the key up once to learn its curve and public key
func NewRemoteSigner(ctx context.Context, c *Client, keyID string, opts vault.RequestOptions) (*RemoteSigner, error) {
	entry, err := c.GetKey(ctx, keyID, opts)
	if err != nil {
		return nil, err
	}
	return &RemoteSigner{
		client: c,
		keyID:  keyID,
		curve:  entry.Metadata.Curve,
		public: entry.Metadata.PublicKey,
		opts:   opts,
	}, nil
}

func (s *RemoteSigner) Curve() string {
	return s.curve
}

func (s *RemoteSigner) PublicKey() []byte {
	return slices.Clone(s.public)
}

func (s *RemoteSigner) Sign(ctx context.Context, payload []byte) ([]byte, error) {
	return s.client.SignWithKey(ctx, s.keyID, payload, s.opts)
}
