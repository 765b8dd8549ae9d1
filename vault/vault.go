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

// Package vault custodies encrypted key material behind a lock, unlock and
// authenticate state machine. Keys are used through the vault and never
// leave it in plaintext except through an explicitly permitted export.
package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/NEILBATCHELOR/wallet-sub001/backup"
	"github.com/NEILBATCHELOR/wallet-sub001/event"
	"github.com/prometheus/client_golang/prometheus"
)

const headerVersion = 1

// aad used to seal the MFA secret in the header
var mfaAAD = []byte("vault-mfa")

type Config struct {
	// SessionTimeout overrides the level default when non-zero
	SessionTimeout time.Duration
	AuditLimit     int
	Store          Store
	Hardware       Hardware
	BackupSink     backup.Sink
	EventBus       *event.Bus
	Logger         *slog.Logger
	PromRegistry   prometheus.Registerer
	Now            func() time.Time
}

type OptionFunc func(*Config)

func WithSessionTimeout(timeout time.Duration) OptionFunc {
	return func(c *Config) {
		c.SessionTimeout = timeout
	}
}

func WithAuditLimit(limit int) OptionFunc {
	return func(c *Config) {
		c.AuditLimit = limit
	}
}

func WithStore(store Store) OptionFunc {
	return func(c *Config) {
		c.Store = store
	}
}

func WithHardware(hw Hardware) OptionFunc {
	return func(c *Config) {
		c.Hardware = hw
	}
}

// WithBackupSink specifies where CreateKeyBackup writes archives
func WithBackupSink(sink backup.Sink) OptionFunc {
	return func(c *Config) {
		c.BackupSink = sink
	}
}

func WithEventBus(bus *event.Bus) OptionFunc {
	return func(c *Config) {
		c.EventBus = bus
	}
}

func WithLogger(logger *slog.Logger) OptionFunc {
	return func(c *Config) {
		c.Logger = logger
	}
}

func WithPromRegistry(promRegistry prometheus.Registerer) OptionFunc {
	return func(c *Config) {
		c.PromRegistry = promRegistry
	}
}

// WithClock overrides the time source used for sessions and audit entries
func WithClock(now func() time.Time) OptionFunc {
	return func(c *Config) {
		c.Now = now
	}
}

// Vault is the key custody state machine. A single mutex guards the state,
// the session and the key encryption key; decrypted material only exists
// while it is held.
type Vault struct {
	config  Config
	logger  *slog.Logger
	store   Store
	audit   *AuditLog
	arena   *arena
	metrics *vaultMetrics

	mu      sync.Mutex
	state   State
	header  *Header
	kek     []byte
	mfaKey  []byte
	session *session

	autoMu     sync.Mutex
	autoCancel context.CancelFunc
	autoWg     sync.WaitGroup
	lifecycle  chan Lifecycle
}

// New opens the vault held by the configured store. A store without a
// header yields an uninitialized vault.
func New(ctx context.Context, opts ...OptionFunc) (*Vault, error) {
	cfg := Config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	v := &Vault{
		config:    cfg,
		logger:    cfg.Logger.With("component", "vault"),
		store:     cfg.Store,
		audit:     NewAuditLog(cfg.AuditLimit),
		arena:     newArena(),
		state:     StateUninitialized,
		lifecycle: make(chan Lifecycle, 1),
	}
	if cfg.PromRegistry != nil {
		v.metrics = initMetrics(cfg.PromRegistry)
	}
	if cfg.EventBus != nil {
		bus := cfg.EventBus
		v.audit.setSink(func(entry AuditEntry) {
			bus.PublishAsync(event.New(event.VaultAuditEventType, event.VaultAuditEvent{
				EntryID: entry.ID,
				Action:  string(entry.Action),
				KeyID:   entry.KeyID,
				Success: entry.Success,
			}))
		})
	}
	header, err := v.store.LoadHeader(ctx)
	switch {
	case err == nil:
		v.header = header
		v.state = StateInitializedLocked
	case errors.Is(err, ErrNoHeader):
	default:
		return nil, fmt.Errorf("load vault header: %w", err)
	}
	v.updateStateMetric()
	return v, nil
}

func (v *Vault) now() time.Time {
	return v.config.Now().UTC()
}

func (v *Vault) hardwareAvailable() bool {
	return v.config.Hardware != nil && v.config.Hardware.IsSupported()
}

func (v *Vault) sessionTimeout(level SecurityLevel) time.Duration {
	if v.config.SessionTimeout > 0 {
		return v.config.SessionTimeout
	}
	return level.SessionTimeout()
}

// Initialize creates the vault header. An mfaSecret enables TOTP as the
// second factor.
func (v *Vault) Initialize(ctx context.Context, password []byte, level SecurityLevel, mfaSecret string) (err error) {
	defer v.record(AuditAttempt, "", &err, RequestOptions{}, map[string]string{"operation": "initialize"})
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != StateUninitialized {
		return ErrAlreadyInitialized
	}
	if len(password) == 0 {
		return fmt.Errorf("%w: empty password", ErrAuthenticationFailed)
	}
	if !level.Valid() {
		return fmt.Errorf("unknown security level %q", level)
	}
	var mfaKey []byte
	if mfaSecret != "" {
		if mfaKey, err = decodeMFASecret(mfaSecret); err != nil {
			return err
		}
		defer clear(mfaKey)
	}
	if level == LevelMaximum && mfaKey == nil && !v.hardwareAvailable() {
		return fmt.Errorf("%w: MAXIMUM requires an mfa secret or hardware", ErrMfaRequired)
	}
	salt, err := randomBytes(saltLen)
	if err != nil {
		return err
	}
	verifier, kek := deriveMaster(password, salt, level.Iterations())
	defer clear(kek)
	header := &Header{
		Version:    headerVersion,
		Level:      level,
		Salt:       salt,
		Iterations: level.Iterations(),
		Verifier:   verifier,
		CreatedAt:  v.now(),
	}
	if mfaKey != nil {
		nonce, ciphertext, err := seal(kek, mfaAAD, mfaKey)
		if err != nil {
			return err
		}
		header.MFASecret = append(nonce, ciphertext...)
	}
	if err := v.store.SaveHeader(ctx, header); err != nil {
		return fmt.Errorf("save vault header: %w", err)
	}
	v.header = header
	v.setStateUnsafe(StateInitializedLocked, "initialized")
	v.logger.Info("vault initialized", "level", level, "mfa", mfaKey != nil)
	return nil
}

// Unlock verifies the master password and starts a session. At MAXIMUM a
// valid MFA code or hardware challenge is also required; at lower levels a
// supplied code is still verified.
func (v *Vault) Unlock(ctx context.Context, password []byte, mfaCode string) (err error) {
	defer v.record(AuditAttempt, "", &err, RequestOptions{}, map[string]string{"operation": "unlock"})
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state == StateUninitialized {
		return ErrVaultNotInitialized
	}
	verifier, kek := deriveMaster(password, v.header.Salt, v.header.Iterations)
	if !verifierMatches(v.header.Verifier, verifier) {
		clear(kek)
		return ErrAuthenticationFailed
	}
	var mfaKey []byte
	if len(v.header.MFASecret) > nonceLen {
		mfaKey, err = unseal(kek, mfaAAD, v.header.MFASecret[:nonceLen], v.header.MFASecret[nonceLen:])
		if err != nil {
			clear(kek)
			return fmt.Errorf("%w: mfa secret", ErrAuthenticationFailed)
		}
	}
	sessionLevel := LevelStandard
	now := v.now()
	if mfaCode != "" {
		if mfaKey == nil || !verifyTOTP(mfaKey, mfaCode, now) {
			clear(kek)
			clear(mfaKey)
			return fmt.Errorf("%w: invalid mfa code", ErrAuthenticationFailed)
		}
		sessionLevel = LevelHigh
	}
	if v.header.Level == LevelMaximum && sessionLevel == LevelStandard {
		if !v.hardwareAvailable() {
			clear(kek)
			clear(mfaKey)
			return ErrMfaRequired
		}
		if err := v.config.Hardware.Authenticate(ctx, "unlock vault"); err != nil {
			clear(kek)
			clear(mfaKey)
			return fmt.Errorf("%w: %w", ErrMfaRequired, err)
		}
		sessionLevel = LevelMaximum
	}
	v.clearSecretsUnsafe()
	v.kek = kek
	v.mfaKey = mfaKey
	v.session = newSession(
		sessionLevel,
		v.sessionTimeout(v.header.Level),
		now,
		sessionLevel != LevelStandard,
	)
	v.setStateUnsafe(StateUnlocked, "unlocked")
	v.logger.Info(
		"vault unlocked",
		"session_level", sessionLevel,
		"expires", v.session.expiresAt,
	)
	return nil
}

// Lock clears the key encryption key, all live decrypted material and the
// session
func (v *Vault) Lock() {
	v.mu.Lock()
	wasUnlocked := v.state == StateUnlocked
	v.lockUnsafe("locked")
	v.mu.Unlock()
	if wasUnlocked {
		var err error
		v.record(AuditAttempt, "", &err, RequestOptions{}, map[string]string{"operation": "lock"})
	}
}

func (v *Vault) lockUnsafe(reason string) {
	v.clearSecretsUnsafe()
	if v.state == StateUnlocked {
		v.setStateUnsafe(StateInitializedLocked, reason)
		v.logger.Info("vault locked", "reason", reason)
	}
}

func (v *Vault) clearSecretsUnsafe() {
	if n := v.arena.wipe(); n > 0 {
		v.logger.Warn("wiped outstanding key material", "buffers", n)
	}
	clear(v.kek)
	v.kek = nil
	clear(v.mfaKey)
	v.mfaKey = nil
	v.session = nil
}

func (v *Vault) setStateUnsafe(state State, reason string) {
	if v.state == state {
		return
	}
	v.state = state
	v.updateStateMetric()
	if v.config.EventBus != nil {
		v.config.EventBus.PublishAsync(event.New(
			event.VaultStateEventType,
			event.VaultStateEvent{State: string(state), Reason: reason},
		))
	}
}

// requireSessionUnsafe enforces an unlocked vault with a live session. An
// expired session locks the vault.
func (v *Vault) requireSessionUnsafe(now time.Time) error {
	switch v.state {
	case StateUninitialized:
		return ErrVaultNotInitialized
	case StateInitializedLocked:
		return ErrVaultLocked
	}
	if v.session == nil || v.session.expired(now) {
		v.expireUnsafe()
		return ErrAuthenticationExpired
	}
	return nil
}

func (v *Vault) expireUnsafe() {
	v.lockUnsafe("session expired")
	if v.config.EventBus != nil {
		v.config.EventBus.PublishAsync(event.New(
			event.VaultSessionExpiredEventType,
			event.VaultStateEvent{State: string(v.state), Reason: "session expired"},
		))
	}
}

// Status reports the vault state. It is available in every state.
func (v *Vault) Status() Status {
	v.mu.Lock()
	defer v.mu.Unlock()
	ret := Status{
		State:           v.state,
		HardwareEnabled: v.hardwareAvailable(),
		AuditEntries:    v.audit.Len(),
	}
	if v.header != nil {
		ret.Level = v.header.Level
		ret.MFAEnabled = len(v.header.MFASecret) > 0
	}
	if v.session != nil {
		ret.SessionLevel = v.session.level
		ret.SessionExpiresAt = v.session.expiresAt
	}
	if v.state == StateUnlocked {
		if keys, err := v.store.ListKeys(context.Background()); err == nil {
			ret.Keys = len(keys)
		}
	}
	return ret
}

// AuditLog returns up to limit of the most recent audit entries
func (v *Vault) AuditLog(limit int) ([]AuditEntry, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	now := v.now()
	if err := v.requireSessionUnsafe(now); err != nil {
		return nil, err
	}
	v.session.touch(now)
	return v.audit.Entries(limit), nil
}

// record appends exactly one audit entry for an operation. It runs
// deferred so failures on every path are captured.
func (v *Vault) record(action AuditAction, keyID string, errp *error, opts RequestOptions, meta map[string]string) {
	var err error
	if errp != nil {
		err = *errp
	}
	if meta == nil {
		meta = make(map[string]string)
	}
	if opts.IP != "" {
		meta["ip"] = opts.IP
	}
	if opts.DeviceID != "" {
		meta["device"] = opts.DeviceID
	}
	if opts.Reason != "" {
		meta["reason"] = opts.Reason
	}
	if err != nil {
		meta["error"] = err.Error()
		if kind := ErrorKind(err); kind != "" {
			meta["kind"] = kind
		}
	}
	v.audit.Append(AuditEntry{
		Timestamp: v.now(),
		Action:    action,
		KeyID:     keyID,
		Success:   err == nil,
		Metadata:  meta,
	})
	if v.metrics != nil {
		result := "success"
		if err != nil {
			result = "failure"
		}
		v.metrics.operations.WithLabelValues(string(action), result).Inc()
	}
	if err != nil {
		v.logger.Debug("vault operation failed", "action", action, "key", keyID, "error", err)
	}
}
