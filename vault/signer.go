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

package vault

import (
	"context"
	"slices"

	"github.com/NEILBATCHELOR/wallet-sub001/adapter"
)

// KeySigner signs through the vault on behalf of one custodied key
type KeySigner struct {
	vault  *Vault
	keyID  string
	curve  string
	public []byte
	opts   RequestOptions
}

var _ adapter.KeyMaterial = (*KeySigner)(nil)

// Signer returns key material backed by a vault key. The key is checked
// once up front.
func (v *Vault) Signer(ctx context.Context, keyID string, opts RequestOptions) (*KeySigner, error) {
	entry, err := v.GetKey(ctx, keyID, opts)
	if err != nil {
		return nil, err
	}
	return &KeySigner{
		vault:  v,
		keyID:  keyID,
		curve:  entry.Metadata.Curve,
		public: entry.Metadata.PublicKey,
		opts:   opts,
	}, nil
}

func (s *KeySigner) Curve() string {
	return s.curve
}

func (s *KeySigner) PublicKey() []byte {
	return slices.Clone(s.public)
}

func (s *KeySigner) Sign(ctx context.Context, payload []byte) ([]byte, error) {
	return s.vault.SignWithKey(ctx, s.keyID, payload, s.opts)
}
