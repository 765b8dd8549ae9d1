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
	"time"
)

// Lifecycle is a signal from the hosting environment
type Lifecycle string

const (
	// LifecycleHidden triggers an immediate session re-check
	LifecycleHidden Lifecycle = "hidden"
	// LifecycleSuspend locks the vault
	LifecycleSuspend Lifecycle = "suspend"
)

const DefaultAutoLockInterval = 10 * time.Second

// StartAutoLock runs two tasks until StopAutoLock or ctx is done: a ticker
// that locks once the session has expired, and a listener for lifecycle
// signals. Both feed the same lock path. LifecycleHidden only re-checks
// session expiry; it does not lock an unexpired session.
func (v *Vault) StartAutoLock(ctx context.Context, interval time.Duration) error {
	v.autoMu.Lock()
	defer v.autoMu.Unlock()
	if v.autoCancel != nil {
		return ErrAutoLockRunning
	}
	if interval <= 0 {
		interval = DefaultAutoLockInterval
	}
	ctx, v.autoCancel = context.WithCancel(ctx)
	v.autoWg.Add(2)
	go v.expiryTask(ctx, interval)
	go v.lifecycleTask(ctx)
	v.logger.Debug("auto-lock started", "interval", interval.String())
	return nil
}

// StopAutoLock cancels both tasks and waits for them to exit
func (v *Vault) StopAutoLock() {
	v.autoMu.Lock()
	cancel := v.autoCancel
	v.autoCancel = nil
	v.autoMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	v.autoWg.Wait()
}

// Signal delivers a lifecycle signal without blocking. Without running
// auto-lock tasks the signal is handled inline.
func (v *Vault) Signal(sig Lifecycle) {
	v.autoMu.Lock()
	running := v.autoCancel != nil
	v.autoMu.Unlock()
	if !running {
		v.autoLock(sig)
		return
	}
	select {
	case v.lifecycle <- sig:
	default:
		// a queued signal already forces a re-check
		if sig == LifecycleSuspend {
			v.autoLock(sig)
		}
	}
}

func (v *Vault) expiryTask(ctx context.Context, interval time.Duration) {
	defer v.autoWg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v.CheckExpiry()
		}
	}
}

func (v *Vault) lifecycleTask(ctx context.Context) {
	defer v.autoWg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-v.lifecycle:
			v.autoLock(sig)
		}
	}
}

func (v *Vault) autoLock(sig Lifecycle) {
	if sig == LifecycleSuspend {
		v.mu.Lock()
		v.lockUnsafe("suspended")
		v.mu.Unlock()
		return
	}
	v.CheckExpiry()
}

// CheckExpiry locks the vault when its session has expired and reports
// whether it did
func (v *Vault) CheckExpiry() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != StateUnlocked || v.session == nil {
		return false
	}
	if !v.session.expired(v.now()) {
		return false
	}
	v.expireUnsafe()
	return true
}

// Close stops the auto-lock tasks and locks the vault
func (v *Vault) Close() error {
	v.StopAutoLock()
	v.Lock()
	return nil
}
