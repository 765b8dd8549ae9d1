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
	"crypto/sha256"
	"testing"
	"time"

	"github.com/NEILBATCHELOR/wallet-sub001/network"
	"github.com/NEILBATCHELOR/wallet-sub001/vault"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndSignSecp256k1(t *testing.T) {
	v, _ := newUnlockedVault(t, vault.LevelStandard, "")
	ctx := context.Background()
	entry, err := v.CreateKey(ctx, vault.CreateKeyParams{Name: "treasury", Network: "ethereum"})
	require.NoError(t, err)
	assert.Equal(t, network.CurveSecp256k1, entry.Metadata.Curve)
	assert.Equal(t, vault.EncryptionSoftwareAES, entry.Metadata.Encryption)
	assert.Len(t, entry.Metadata.PublicKey, 33)
	assert.NotEmpty(t, entry.Metadata.Address)

	digest := sha256.Sum256([]byte("transfer"))
	sig, err := v.SignWithKey(ctx, entry.ID, digest[:], vault.RequestOptions{})
	require.NoError(t, err)
	pub, err := crypto.SigToPub(digest[:], sig)
	require.NoError(t, err)
	assert.Equal(t, entry.Metadata.PublicKey, crypto.CompressPubkey(pub))
	assert.Equal(t, entry.Metadata.Address, crypto.PubkeyToAddress(*pub).Hex())

	_, err = v.SignWithKey(ctx, entry.ID, []byte("not a digest"), vault.RequestOptions{})
	assert.ErrorIs(t, err, vault.ErrInvalidKey)
}

func TestCreateWithMaterial(t *testing.T) {
	v, _ := newUnlockedVault(t, vault.LevelStandard, "")
	ctx := context.Background()
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i)
	}
	want := ed25519.NewKeyFromSeed(seed)
	material := append([]byte(nil), seed...)
	entry, err := v.CreateKey(ctx, vault.CreateKeyParams{
		Name:     "imported",
		Network:  "stellar",
		Material: material,
	})
	require.NoError(t, err)
	assert.Equal(t, make([]byte, len(seed)), material, "material should be cleared")
	assert.Equal(t, []byte(want.Public().(ed25519.PublicKey)), entry.Metadata.PublicKey)

	msg := []byte("envelope")
	sig, err := v.SignWithKey(ctx, entry.ID, msg, vault.RequestOptions{})
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(entry.Metadata.PublicKey, msg, sig))

	keys, err := v.ListKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, entry.ID, keys[0].ID)
	assert.Equal(t, 1, v.Status().Keys)
}

func TestCreateKeyValidation(t *testing.T) {
	v, _ := newUnlockedVault(t, vault.LevelStandard, "")
	ctx := context.Background()
	_, err := v.CreateKey(ctx, vault.CreateKeyParams{Network: "ethereum"})
	assert.ErrorIs(t, err, vault.ErrInvalidKey)
	_, err = v.CreateKey(ctx, vault.CreateKeyParams{Name: "no curve"})
	assert.ErrorIs(t, err, vault.ErrInvalidKey)
	_, err = v.CreateKey(ctx, vault.CreateKeyParams{Name: "empty", Type: vault.KeyTypePassword})
	assert.ErrorIs(t, err, vault.ErrInvalidKey)
	_, err = v.CreateKey(ctx, vault.CreateKeyParams{Name: "hw", Network: "solana", Hardware: true})
	assert.ErrorIs(t, err, vault.ErrHardwareUnavailable)
	_, err = v.GetKey(ctx, "missing", vault.RequestOptions{})
	assert.ErrorIs(t, err, vault.ErrKeyNotFound)
	var keyErr *vault.KeyError
	require.ErrorAs(t, err, &keyErr)
	assert.Equal(t, "missing", keyErr.KeyID)
}

func TestPasswordKeyCannotSign(t *testing.T) {
	v, _ := newUnlockedVault(t, vault.LevelStandard, "")
	ctx := context.Background()
	entry, err := v.CreateKey(ctx, vault.CreateKeyParams{
		Name:     "api",
		Type:     vault.KeyTypePassword,
		Material: []byte("hunter2"),
	})
	require.NoError(t, err)
	_, err = v.GetKey(ctx, entry.ID, vault.RequestOptions{})
	require.NoError(t, err)
	_, err = v.SignWithKey(ctx, entry.ID, []byte("x"), vault.RequestOptions{})
	assert.ErrorIs(t, err, vault.ErrInvalidKey)
}

// export is refused for a non-exportable key even with the right password
func TestExportNotAllowed(t *testing.T) {
	v, _ := newUnlockedVault(t, vault.LevelStandard, "")
	ctx := context.Background()
	entry, err := v.CreateKey(ctx, vault.CreateKeyParams{Name: "cold", Network: "bitcoin"})
	require.NoError(t, err)

	_, err = v.ExportKey(ctx, entry.ID, testPassword, vault.RequestOptions{})
	assert.ErrorIs(t, err, vault.ErrExportNotAllowed)
	assert.Equal(t, "ExportNotAllowed", vault.ErrorKind(err))

	entries, err := v.AuditLog(1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, vault.AuditExport, entries[0].Action)
	assert.Equal(t, entry.ID, entries[0].KeyID)
	assert.False(t, entries[0].Success)
}

func TestExportRequiresFreshFactor(t *testing.T) {
	secret, err := vault.GenerateMFASecret()
	require.NoError(t, err)
	v, clock := newUnlockedVault(t, vault.LevelHigh, secret)
	ctx := context.Background()
	entry, err := v.CreateKey(ctx, vault.CreateKeyParams{
		Name:    "hot",
		Network: "ethereum",
		Policy:  vault.Policy{AllowExport: true},
	})
	require.NoError(t, err)

	// the unlock code does not count for an export
	_, err = v.ExportKey(ctx, entry.ID, testPassword, vault.RequestOptions{})
	assert.ErrorIs(t, err, vault.ErrMfaRequired)

	code, err := vault.TOTPCode(secret, clock.Now())
	require.NoError(t, err)
	_, err = v.ExportKey(ctx, entry.ID, []byte("wrong"), vault.RequestOptions{MFACode: code})
	assert.ErrorIs(t, err, vault.ErrAuthenticationFailed)

	material, err := v.ExportKey(ctx, entry.ID, testPassword, vault.RequestOptions{MFACode: code})
	require.NoError(t, err)
	k, err := crypto.ToECDSA(material)
	require.NoError(t, err)
	assert.Equal(t, entry.Metadata.PublicKey, crypto.CompressPubkey(&k.PublicKey))
}

func TestRequireMFAKey(t *testing.T) {
	secret, err := vault.GenerateMFASecret()
	require.NoError(t, err)
	clock := newTestClock()
	ctx := context.Background()
	v, err := vault.New(ctx, vault.WithClock(clock.Now))
	require.NoError(t, err)
	defer v.Close()
	require.NoError(t, v.Initialize(ctx, testPassword, vault.LevelHigh, secret))
	// unlocking without a code gives a password-only session
	require.NoError(t, v.Unlock(ctx, testPassword, ""))
	assert.Equal(t, vault.LevelStandard, v.Status().SessionLevel)

	entry, err := v.CreateKey(ctx, vault.CreateKeyParams{
		Name:    "guarded",
		Network: "solana",
		Policy:  vault.Policy{RequireMFA: true},
	})
	require.NoError(t, err)
	_, err = v.GetKey(ctx, entry.ID, vault.RequestOptions{})
	assert.ErrorIs(t, err, vault.ErrMfaRequired)
	_, err = v.GetKey(ctx, entry.ID, vault.RequestOptions{MFACode: "123"})
	assert.ErrorIs(t, err, vault.ErrMfaRequired)

	code, err := vault.TOTPCode(secret, clock.Now())
	require.NoError(t, err)
	_, err = v.GetKey(ctx, entry.ID, vault.RequestOptions{MFACode: code})
	require.NoError(t, err)
	// the factor carries for the rest of the session
	clock.Advance(time.Minute)
	_, err = v.SignWithKey(ctx, entry.ID, []byte("msg"), vault.RequestOptions{})
	require.NoError(t, err)
}

func TestRequireMFAWindow(t *testing.T) {
	secret, err := vault.GenerateMFASecret()
	require.NoError(t, err)
	v, clock := newUnlockedVault(t, vault.LevelHigh, secret)
	ctx := context.Background()
	entry, err := v.CreateKey(ctx, vault.CreateKeyParams{
		Name:    "windowed",
		Network: "solana",
		Policy:  vault.Policy{RequireMFA: true, TimeoutSeconds: 60},
	})
	require.NoError(t, err)
	_, err = v.GetKey(ctx, entry.ID, vault.RequestOptions{})
	require.NoError(t, err)

	// authentication older than the key window
	clock.Advance(2 * time.Minute)
	_, err = v.GetKey(ctx, entry.ID, vault.RequestOptions{})
	assert.ErrorIs(t, err, vault.ErrAuthenticationExpired)
}

func TestRevokeAndDelete(t *testing.T) {
	v, _ := newUnlockedVault(t, vault.LevelStandard, "")
	ctx := context.Background()
	entry, err := v.CreateKey(ctx, vault.CreateKeyParams{Name: "k", Network: "cardano"})
	require.NoError(t, err)
	require.NoError(t, v.RevokeKey(ctx, entry.ID, vault.RequestOptions{}))
	_, err = v.SignWithKey(ctx, entry.ID, []byte("x"), vault.RequestOptions{})
	assert.ErrorIs(t, err, vault.ErrKeyRevoked)

	require.NoError(t, v.DeleteKey(ctx, entry.ID, vault.RequestOptions{}))
	_, err = v.GetKey(ctx, entry.ID, vault.RequestOptions{})
	assert.ErrorIs(t, err, vault.ErrKeyNotFound)
	assert.ErrorIs(t, v.DeleteKey(ctx, entry.ID, vault.RequestOptions{}), vault.ErrKeyNotFound)
}

func TestAccessRestrictions(t *testing.T) {
	v, _ := newUnlockedVault(t, vault.LevelStandard, "")
	ctx := context.Background()
	entry, err := v.CreateKey(ctx, vault.CreateKeyParams{
		Name:    "ops",
		Network: "ethereum",
		Policy: vault.Policy{
			AllowedIPs:     []string{"10.0.0.0/8", "192.0.2.7"},
			AllowedDevices: []string{"laptop"},
		},
	})
	require.NoError(t, err)

	testDefs := []struct {
		opts    vault.RequestOptions
		allowed bool
	}{
		{opts: vault.RequestOptions{IP: "10.1.2.3", DeviceID: "laptop"}, allowed: true},
		{opts: vault.RequestOptions{IP: "192.0.2.7", DeviceID: "laptop"}, allowed: true},
		{opts: vault.RequestOptions{IP: "192.0.2.8", DeviceID: "laptop"}},
		{opts: vault.RequestOptions{IP: "10.1.2.3", DeviceID: "phone"}},
		{opts: vault.RequestOptions{DeviceID: "laptop"}},
	}
	for _, testDef := range testDefs {
		_, err := v.GetKey(ctx, entry.ID, testDef.opts)
		if testDef.allowed {
			assert.NoError(t, err, "%+v", testDef.opts)
		} else {
			assert.ErrorIs(t, err, vault.ErrAccessRestricted, "%+v", testDef.opts)
		}
	}
}

func TestHardwareKeys(t *testing.T) {
	hw, err := vault.NewEmulator()
	require.NoError(t, err)
	v, _ := newUnlockedVault(t, vault.LevelStandard, "", vault.WithHardware(hw))
	ctx := context.Background()
	assert.True(t, v.Status().HardwareEnabled)

	entry, err := v.CreateKey(ctx, vault.CreateKeyParams{
		Name:     "enclave",
		Network:  "solana",
		Hardware: true,
		Policy:   vault.Policy{AllowExport: true, RequireMFA: true},
	})
	require.NoError(t, err)
	assert.Equal(t, vault.KeyTypeHardwarePath, entry.Type)
	assert.Equal(t, vault.EncryptionHardware, entry.Metadata.Encryption)
	assert.True(t, entry.Metadata.HardwareProtected)
	assert.True(t, hw.HasKey(entry.ID))

	// the enclave challenge satisfies the MFA policy
	msg := []byte("payload")
	sig, err := v.SignWithKey(ctx, entry.ID, msg, vault.RequestOptions{})
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(entry.Metadata.PublicKey, msg, sig))
	assert.Equal(t, 1, hw.Challenges())

	_, err = v.ExportKey(ctx, entry.ID, testPassword, vault.RequestOptions{})
	assert.ErrorIs(t, err, vault.ErrExportNotAllowed)

	require.NoError(t, v.DeleteKey(ctx, entry.ID, vault.RequestOptions{}))
	assert.False(t, hw.HasKey(entry.ID))
}

func TestHardwareDenied(t *testing.T) {
	hw, err := vault.NewEmulator()
	require.NoError(t, err)
	v, _ := newUnlockedVault(t, vault.LevelStandard, "", vault.WithHardware(hw))
	ctx := context.Background()
	entry, err := v.CreateKey(ctx, vault.CreateKeyParams{
		Name:    "guarded",
		Network: "ethereum",
		Policy:  vault.Policy{RequireMFA: true},
	})
	require.NoError(t, err)
	hw.SetDeny(true)
	_, err = v.GetKey(ctx, entry.ID, vault.RequestOptions{})
	assert.ErrorIs(t, err, vault.ErrMfaRequired)
	assert.ErrorIs(t, err, vault.ErrHardwareDenied)
}

func TestHardwareSealedSecret(t *testing.T) {
	hw, err := vault.NewEmulator()
	require.NoError(t, err)
	v, _ := newUnlockedVault(t, vault.LevelStandard, "", vault.WithHardware(hw))
	ctx := context.Background()
	entry, err := v.CreateKey(ctx, vault.CreateKeyParams{
		Name:     "phrase",
		Type:     vault.KeyTypeMnemonic,
		Material: []byte("abandon abandon about"),
		Hardware: true,
		Policy:   vault.Policy{AllowExport: true},
	})
	require.NoError(t, err)
	assert.Equal(t, vault.KeyTypeMnemonic, entry.Type)

	// the hardware challenge is the fresh factor
	material, err := v.ExportKey(ctx, entry.ID, testPassword, vault.RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, "abandon abandon about", string(material))
}

func TestSigner(t *testing.T) {
	v, _ := newUnlockedVault(t, vault.LevelStandard, "")
	ctx := context.Background()
	entry, err := v.CreateKey(ctx, vault.CreateKeyParams{Name: "cosigner", Network: "stellar"})
	require.NoError(t, err)
	signer, err := v.Signer(ctx, entry.ID, vault.RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, network.CurveEd25519, signer.Curve())
	assert.Equal(t, entry.Metadata.PublicKey, signer.PublicKey())
	sig, err := signer.Sign(ctx, []byte("tx"))
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(signer.PublicKey(), []byte("tx"), sig))

	v.Lock()
	_, err = signer.Sign(ctx, []byte("tx"))
	assert.ErrorIs(t, err, vault.ErrVaultLocked)
}
