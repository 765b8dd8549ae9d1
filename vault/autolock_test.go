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
	"testing"
	"time"

	"github.com/NEILBATCHELOR/wallet-sub001/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAutoLockOnExpiry(t *testing.T) {
	v, clock := newUnlockedVault(t, vault.LevelStandard, "")
	require.NoError(t, v.StartAutoLock(context.Background(), 5*time.Millisecond))
	defer v.StopAutoLock()
	assert.ErrorIs(t, v.StartAutoLock(context.Background(), time.Second), vault.ErrAutoLockRunning)

	clock.Advance(31 * time.Minute)
	require.Eventually(
		t,
		func() bool { return v.Status().State == vault.StateInitializedLocked },
		2*time.Second,
		5*time.Millisecond,
	)
}

func TestLifecycleSignals(t *testing.T) {
	v, clock := newUnlockedVault(t, vault.LevelStandard, "")
	ctx := context.Background()

	// handled inline without the tasks
	v.Signal(vault.LifecycleHidden)
	assert.Equal(t, vault.StateUnlocked, v.Status().State)
	clock.Advance(time.Hour)
	v.Signal(vault.LifecycleHidden)
	assert.Equal(t, vault.StateInitializedLocked, v.Status().State)

	require.NoError(t, v.Unlock(ctx, testPassword, ""))
	require.NoError(t, v.StartAutoLock(ctx, time.Hour))
	defer v.StopAutoLock()
	v.Signal(vault.LifecycleSuspend)
	require.Eventually(
		t,
		func() bool { return v.Status().State == vault.StateInitializedLocked },
		2*time.Second,
		5*time.Millisecond,
	)
}

func TestCheckExpiry(t *testing.T) {
	v, clock := newUnlockedVault(t, vault.LevelStandard, "", vault.WithSessionTimeout(time.Minute))
	assert.False(t, v.CheckExpiry())
	clock.Advance(time.Minute)
	assert.True(t, v.CheckExpiry())
	assert.False(t, v.CheckExpiry())
	_, err := v.ListKeys(context.Background())
	assert.ErrorIs(t, err, vault.ErrVaultLocked)
}
