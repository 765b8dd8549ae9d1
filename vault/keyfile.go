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
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/NEILBATCHELOR/wallet-sub001/network"
	"github.com/blinklabs-io/gouroboros/cbor"
)

// keyFileEnvelope is the JSON text envelope written by cardano-cli
type keyFileEnvelope struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	CborHex     string `json:"cborHex"`
}

const paymentSigningKeyType = "PaymentSigningKeyShelley_ed25519"

// signing key envelope types holding a raw ed25519 seed
var ed25519EnvelopeTypes = map[string]struct{}{
	paymentSigningKeyType:            {},
	"StakeSigningKeyShelley_ed25519": {},
	"GenesisUTxOSigningKey_ed25519":  {},
}

const maxKeyFileSize = 1 << 20

// ImportParams describe a key being imported from a file. Name defaults to
// the envelope description.
type ImportParams struct {
	Name    string
	Network string
	Policy  Policy
	Tags    map[string]string
}

// ImportKeyFile seals the signing key held in a cardano-cli key file. The
// file must not be readable by group or other.
func (v *Vault) ImportKeyFile(ctx context.Context, path string, params ImportParams) (*KeyEntry, error) {
	seed, description, err := loadKeyFile(path)
	if err != nil {
		return nil, err
	}
	defer clear(seed)
	name := params.Name
	if name == "" {
		name = description
	}
	if name == "" {
		name = path
	}
	if params.Network == "" {
		params.Network = "cardano"
	}
	if info, ok := network.Known(params.Network); ok && info.Family.Curve() != network.CurveEd25519 {
		return nil, fmt.Errorf("%w: %s keys cannot be used on %s", ErrInvalidKey, network.CurveEd25519, params.Network)
	}
	return v.CreateKey(ctx, CreateKeyParams{
		Name:     name,
		Type:     KeyTypePrivateKey,
		Network:  params.Network,
		Curve:    network.CurveEd25519,
		Material: seed,
		Policy:   params.Policy,
		Tags:     params.Tags,
	})
}

// loadKeyFile opens the file first and checks permissions on the open
// handle so the file cannot be swapped between check and read
func loadKeyFile(path string) ([]byte, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open key file %q: %w", path, err)
	}
	defer f.Close()
	if err := checkOpenFilePermissions(f); err != nil {
		return nil, "", err
	}
	data, err := io.ReadAll(io.LimitReader(f, maxKeyFileSize))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read key file %q: %w", path, err)
	}
	defer clear(data)
	seed, description, err := parseKeyEnvelope(data)
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse key file %q: %w", path, err)
	}
	return seed, description, nil
}

func parseKeyEnvelope(data []byte) ([]byte, string, error) {
	var env keyFileEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, "", fmt.Errorf("could not parse key file envelope: %w", err)
	}
	if _, ok := ed25519EnvelopeTypes[env.Type]; !ok {
		return nil, "", fmt.Errorf("%w: unsupported key type %q", ErrInvalidKey, env.Type)
	}
	cborData, err := hex.DecodeString(env.CborHex)
	if err != nil {
		return nil, "", fmt.Errorf("could not decode key from hex: %w", err)
	}
	defer clear(cborData)
	var seed []byte
	if _, err := cbor.Decode(cborData, &seed); err != nil {
		return nil, "", fmt.Errorf("failed to unmarshal key CBOR: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		clear(seed)
		return nil, "", fmt.Errorf(
			"%w: expected %d byte seed, got %d",
			ErrInvalidKey,
			ed25519.SeedSize,
			len(seed),
		)
	}
	return seed, env.Description, nil
}

// ExportKeyFile writes an exportable ed25519 key as a cardano-cli payment
// signing key with owner-only permissions. It is gated exactly like
// ExportKey.
func (v *Vault) ExportKeyFile(ctx context.Context, keyID string, password []byte, opts RequestOptions, path string) error {
	material, err := v.ExportKey(ctx, keyID, password, opts)
	if err != nil {
		return err
	}
	defer clear(material)
	if len(material) == ed25519.PrivateKeySize {
		material = material[:ed25519.SeedSize]
	}
	if len(material) != ed25519.SeedSize {
		return fmt.Errorf("%w: not an ed25519 seed", ErrInvalidKey)
	}
	cborData, err := cbor.Encode(material)
	if err != nil {
		return fmt.Errorf("encode key CBOR: %w", err)
	}
	defer clear(cborData)
	data, err := json.MarshalIndent(keyFileEnvelope{
		Type:        paymentSigningKeyType,
		Description: "Payment Signing Key",
		CborHex:     hex.EncodeToString(cborData),
	}, "", "    ")
	if err != nil {
		return err
	}
	defer clear(data)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write key file %q: %w", path, err)
	}
	return nil
}
