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

package vault_test

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/NEILBATCHELOR/wallet-sub001/vault"
	"github.com/blinklabs-io/gouroboros/cbor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeKeyFile(t *testing.T, path string, keyType string, seed []byte, mode os.FileMode) {
	t.Helper()
	cborData, err := cbor.Encode(seed)
	require.NoError(t, err)
	data, err := json.Marshal(map[string]string{
		"type":        keyType,
		"description": "Payment Signing Key",
		"cborHex":     hex.EncodeToString(cborData),
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, mode))
	require.NoError(t, os.Chmod(path, mode))
}

func TestImportKeyFile(t *testing.T) {
	v, _ := newUnlockedVault(t, vault.LevelStandard, "")
	ctx := context.Background()
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(0xa0 + i)
	}
	path := filepath.Join(t.TempDir(), "payment.skey")
	writeKeyFile(t, path, "PaymentSigningKeyShelley_ed25519", seed, 0o600)

	entry, err := v.ImportKeyFile(ctx, path, vault.ImportParams{})
	require.NoError(t, err)
	assert.Equal(t, "Payment Signing Key", entry.Name)
	assert.Equal(t, "cardano", entry.Network)
	want := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)
	assert.Equal(t, []byte(want), entry.Metadata.PublicKey)
}

func TestImportKeyFileRejects(t *testing.T) {
	v, _ := newUnlockedVault(t, vault.LevelStandard, "")
	ctx := context.Background()
	dir := t.TempDir()

	wrongType := filepath.Join(dir, "vrf.skey")
	writeKeyFile(t, wrongType, "VrfSigningKey_PraosVRF", make([]byte, 32), 0o600)
	_, err := v.ImportKeyFile(ctx, wrongType, vault.ImportParams{})
	assert.ErrorIs(t, err, vault.ErrInvalidKey)

	short := filepath.Join(dir, "short.skey")
	writeKeyFile(t, short, "PaymentSigningKeyShelley_ed25519", make([]byte, 16), 0o600)
	_, err = v.ImportKeyFile(ctx, short, vault.ImportParams{})
	assert.ErrorIs(t, err, vault.ErrInvalidKey)

	good := filepath.Join(dir, "good.skey")
	writeKeyFile(t, good, "PaymentSigningKeyShelley_ed25519", make([]byte, 32), 0o600)
	_, err = v.ImportKeyFile(ctx, good, vault.ImportParams{Network: "ethereum"})
	assert.ErrorIs(t, err, vault.ErrInvalidKey)

	_, err = v.ImportKeyFile(ctx, filepath.Join(dir, "missing.skey"), vault.ImportParams{})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestImportKeyFileInsecureMode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permission bits")
	}
	v, _ := newUnlockedVault(t, vault.LevelStandard, "")
	path := filepath.Join(t.TempDir(), "open.skey")
	writeKeyFile(t, path, "PaymentSigningKeyShelley_ed25519", make([]byte, 32), 0o644)
	_, err := v.ImportKeyFile(context.Background(), path, vault.ImportParams{})
	assert.ErrorIs(t, err, vault.ErrInsecureFileMode)
}

func TestExportKeyFileRoundTrip(t *testing.T) {
	hw, err := vault.NewEmulator()
	require.NoError(t, err)
	v, _ := newUnlockedVault(t, vault.LevelStandard, "", vault.WithHardware(hw))
	ctx := context.Background()
	entry, err := v.CreateKey(ctx, vault.CreateKeyParams{
		Name:    "exportable",
		Network: "cardano-preview",
		Policy:  vault.Policy{AllowExport: true},
	})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out.skey")
	require.NoError(t, v.ExportKeyFile(ctx, entry.ID, testPassword, vault.RequestOptions{}, path))
	if runtime.GOOS != "windows" {
		fi, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())
	}

	other, _ := newUnlockedVault(t, vault.LevelStandard, "")
	imported, err := other.ImportKeyFile(ctx, path, vault.ImportParams{Name: "copy", Network: "cardano-preview"})
	require.NoError(t, err)
	assert.Equal(t, entry.Metadata.PublicKey, imported.Metadata.PublicKey)
}
