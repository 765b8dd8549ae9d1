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
	"sync"
	"testing"
	"time"

	"github.com/NEILBATCHELOR/wallet-sub001/event"
	"github.com/NEILBATCHELOR/wallet-sub001/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testPassword = []byte("correct horse battery staple")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// newUnlockedVault returns an initialized and unlocked vault at level
func newUnlockedVault(t *testing.T, level vault.SecurityLevel, mfaSecret string, opts ...vault.OptionFunc) (*vault.Vault, *testClock) {
	t.Helper()
	clock := newTestClock()
	opts = append([]vault.OptionFunc{vault.WithClock(clock.Now)}, opts...)
	v, err := vault.New(context.Background(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })
	require.NoError(t, v.Initialize(context.Background(), testPassword, level, mfaSecret))
	code := ""
	if mfaSecret != "" {
		code, err = vault.TOTPCode(mfaSecret, clock.Now())
		require.NoError(t, err)
	}
	require.NoError(t, v.Unlock(context.Background(), testPassword, code))
	return v, clock
}

func TestUninitializedVault(t *testing.T) {
	ctx := context.Background()
	v, err := vault.New(ctx)
	require.NoError(t, err)
	assert.Equal(t, vault.StateUninitialized, v.Status().State)
	assert.ErrorIs(t, v.Unlock(ctx, testPassword, ""), vault.ErrVaultNotInitialized)
	_, err = v.ListKeys(ctx)
	assert.ErrorIs(t, err, vault.ErrVaultNotInitialized)
	_, err = v.CreateKey(ctx, vault.CreateKeyParams{Name: "k", Network: "ethereum"})
	assert.ErrorIs(t, err, vault.ErrVaultNotInitialized)
}

func TestInitializeOnce(t *testing.T) {
	ctx := context.Background()
	store := vault.NewMemoryStore()
	v, err := vault.New(ctx, vault.WithStore(store))
	require.NoError(t, err)
	require.NoError(t, v.Initialize(ctx, testPassword, vault.LevelStandard, ""))
	assert.Equal(t, vault.StateInitializedLocked, v.Status().State)
	assert.ErrorIs(
		t,
		v.Initialize(ctx, testPassword, vault.LevelStandard, ""),
		vault.ErrAlreadyInitialized,
	)

	// reopening the same store yields a locked vault
	reopened, err := vault.New(ctx, vault.WithStore(store))
	require.NoError(t, err)
	status := reopened.Status()
	assert.Equal(t, vault.StateInitializedLocked, status.State)
	assert.Equal(t, vault.LevelStandard, status.Level)
	require.NoError(t, reopened.Unlock(ctx, testPassword, ""))
	assert.Equal(t, vault.StateUnlocked, reopened.Status().State)
	reopened.Lock()
}

func TestMaximumRequiresSecondFactor(t *testing.T) {
	ctx := context.Background()
	v, err := vault.New(ctx)
	require.NoError(t, err)
	assert.ErrorIs(
		t,
		v.Initialize(ctx, testPassword, vault.LevelMaximum, ""),
		vault.ErrMfaRequired,
	)
	assert.Equal(t, vault.StateUninitialized, v.Status().State)
}

func TestUnlockWrongPassword(t *testing.T) {
	v, _ := newUnlockedVault(t, vault.LevelStandard, "")
	ctx := context.Background()
	v.Lock()
	assert.ErrorIs(t, v.Unlock(ctx, []byte("wrong"), ""), vault.ErrAuthenticationFailed)
	assert.Equal(t, vault.StateInitializedLocked, v.Status().State)

	require.NoError(t, v.Unlock(ctx, testPassword, ""))
	entries, err := v.AuditLog(0)
	require.NoError(t, err)
	var failed int
	for _, entry := range entries {
		if entry.Action == vault.AuditAttempt && !entry.Success {
			failed++
			assert.Equal(t, "AuthenticationFailed", entry.Metadata["kind"])
		}
	}
	assert.Equal(t, 1, failed)
}

func TestUnlockMFA(t *testing.T) {
	ctx := context.Background()
	secret, err := vault.GenerateMFASecret()
	require.NoError(t, err)
	clock := newTestClock()
	v, err := vault.New(ctx, vault.WithClock(clock.Now))
	require.NoError(t, err)
	defer v.Close()
	require.NoError(t, v.Initialize(ctx, testPassword, vault.LevelMaximum, secret))

	assert.ErrorIs(t, v.Unlock(ctx, testPassword, ""), vault.ErrMfaRequired)
	assert.ErrorIs(t, v.Unlock(ctx, testPassword, "000000x"), vault.ErrAuthenticationFailed)

	code, err := vault.TOTPCode(secret, clock.Now())
	require.NoError(t, err)
	require.NoError(t, v.Unlock(ctx, testPassword, code))
	status := v.Status()
	assert.Equal(t, vault.StateUnlocked, status.State)
	assert.True(t, status.MFAEnabled)
	assert.Equal(t, vault.LevelHigh, status.SessionLevel)
	assert.Equal(t, clock.Now().Add(5*time.Minute), status.SessionExpiresAt)
}

func TestLockRejectsOperations(t *testing.T) {
	v, _ := newUnlockedVault(t, vault.LevelStandard, "")
	ctx := context.Background()
	entry, err := v.CreateKey(ctx, vault.CreateKeyParams{Name: "k", Network: "ethereum"})
	require.NoError(t, err)

	v.Lock()
	assert.Equal(t, vault.StateInitializedLocked, v.Status().State)
	_, err = v.GetKey(ctx, entry.ID, vault.RequestOptions{})
	assert.ErrorIs(t, err, vault.ErrVaultLocked)
	_, err = v.SignWithKey(ctx, entry.ID, make([]byte, 32), vault.RequestOptions{})
	assert.ErrorIs(t, err, vault.ErrVaultLocked)
	_, err = v.AuditLog(10)
	assert.ErrorIs(t, err, vault.ErrVaultLocked)
	// locking twice is harmless
	v.Lock()
}

// 5-minute MAXIMUM session idle past its lifetime
func TestSessionExpiryLocks(t *testing.T) {
	secret, err := vault.GenerateMFASecret()
	require.NoError(t, err)
	bus := event.NewBus(nil, nil)
	defer bus.Stop()
	_, expired := bus.Subscribe(event.VaultSessionExpiredEventType)

	v, clock := newUnlockedVault(t, vault.LevelMaximum, secret, vault.WithEventBus(bus))
	ctx := context.Background()
	entry, err := v.CreateKey(ctx, vault.CreateKeyParams{Name: "k", Network: "solana"})
	require.NoError(t, err)

	clock.Advance(6 * time.Minute)
	_, err = v.GetKey(ctx, entry.ID, vault.RequestOptions{})
	assert.ErrorIs(t, err, vault.ErrAuthenticationExpired)
	assert.Equal(t, vault.StateInitializedLocked, v.Status().State)

	select {
	case evt := <-expired:
		data, ok := evt.Data.(event.VaultStateEvent)
		require.True(t, ok)
		assert.Equal(t, string(vault.StateInitializedLocked), data.State)
	case <-time.After(2 * time.Second):
		t.Fatal("no session expired event")
	}

	// a subsequent call sees a plain locked vault
	_, err = v.GetKey(ctx, entry.ID, vault.RequestOptions{})
	assert.ErrorIs(t, err, vault.ErrVaultLocked)
}

func TestSessionExtension(t *testing.T) {
	v, clock := newUnlockedVault(t, vault.LevelStandard, "")
	ctx := context.Background()
	start := clock.Now()

	// more than half the window left: extended
	clock.Advance(10 * time.Minute)
	_, err := v.ListKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, start.Add(40*time.Minute), v.Status().SessionExpiresAt)

	// less than half left: not extended
	clock.Advance(16 * time.Minute)
	_, err = v.ListKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, start.Add(40*time.Minute), v.Status().SessionExpiresAt)

	clock.Advance(14 * time.Minute)
	_, err = v.ListKeys(ctx)
	assert.ErrorIs(t, err, vault.ErrAuthenticationExpired)
}

func TestStateEvents(t *testing.T) {
	bus := event.NewBus(nil, nil)
	defer bus.Stop()
	_, states := bus.Subscribe(event.VaultStateEventType)
	v, _ := newUnlockedVault(t, vault.LevelStandard, "", vault.WithEventBus(bus))
	v.Lock()

	var got []string
	timeout := time.After(2 * time.Second)
	for len(got) < 3 {
		select {
		case evt := <-states:
			data, ok := evt.Data.(event.VaultStateEvent)
			require.True(t, ok)
			got = append(got, data.State)
		case <-timeout:
			t.Fatalf("only received %v", got)
		}
	}
	assert.ElementsMatch(
		t,
		[]string{
			string(vault.StateInitializedLocked),
			string(vault.StateUnlocked),
			string(vault.StateInitializedLocked),
		},
		got,
	)
}

func TestEnableMFA(t *testing.T) {
	v, clock := newUnlockedVault(t, vault.LevelStandard, "")
	ctx := context.Background()
	assert.False(t, v.Status().MFAEnabled)
	_, err := v.EnableMFA(ctx, []byte("wrong"))
	assert.ErrorIs(t, err, vault.ErrAuthenticationFailed)

	secret, err := v.EnableMFA(ctx, testPassword)
	require.NoError(t, err)
	assert.True(t, v.Status().MFAEnabled)

	v.Lock()
	code, err := vault.TOTPCode(secret, clock.Now())
	require.NoError(t, err)
	require.NoError(t, v.Unlock(ctx, testPassword, code))
	assert.Equal(t, vault.LevelHigh, v.Status().SessionLevel)
}
