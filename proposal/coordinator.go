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

// Package proposal drives transaction proposals through their lifecycle:
// collecting co-signer signatures, broadcasting once the threshold is met
// and tracking confirmation.
package proposal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/NEILBATCHELOR/wallet-sub001/adapter"
	"github.com/NEILBATCHELOR/wallet-sub001/event"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/NEILBATCHELOR/wallet-sub001/proposal"

// AdapterSource resolves the adapter for a network
type AdapterSource interface {
	Adapter(ctx context.Context, networkID string) (adapter.Adapter, error)
}

type Coordinator struct {
	adapters AdapterSource
	store    Store
	bus      *event.Bus
	logger   *slog.Logger
	metrics  *coordinatorMetrics
	tracer   trace.Tracer
	now      func() time.Time

	locksMu sync.Mutex
	locks   map[string]*proposalLock

	pollMu     sync.Mutex
	pollCancel context.CancelFunc
	pollWg     sync.WaitGroup
}

type OptionFunc func(*Coordinator)

// WithStore specifies the proposal store. The default keeps proposals in
// memory.
func WithStore(store Store) OptionFunc {
	return func(c *Coordinator) {
		c.store = store
	}
}

// WithEventBus specifies the bus lifecycle events are published on
func WithEventBus(bus *event.Bus) OptionFunc {
	return func(c *Coordinator) {
		c.bus = bus
	}
}

// WithLogger specifies the logger
func WithLogger(logger *slog.Logger) OptionFunc {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithPromRegistry specifies the prometheus registerer for metrics
func WithPromRegistry(promRegistry prometheus.Registerer) OptionFunc {
	return func(c *Coordinator) {
		if promRegistry != nil {
			c.initMetrics(promRegistry)
		}
	}
}

// WithTracerProvider overrides the global tracer provider
func WithTracerProvider(tp trace.TracerProvider) OptionFunc {
	return func(c *Coordinator) {
		c.tracer = tp.Tracer(tracerName)
	}
}

// WithClock overrides the time source used for proposal timestamps
func WithClock(now func() time.Time) OptionFunc {
	return func(c *Coordinator) {
		c.now = now
	}
}

func NewCoordinator(adapters AdapterSource, opts ...OptionFunc) *Coordinator {
	c := &Coordinator{
		adapters: adapters,
		locks:    make(map[string]*proposalLock),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.store == nil {
		c.store = NewMemoryStore()
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	c.logger = c.logger.With("component", "proposal")
	if c.tracer == nil {
		c.tracer = otel.Tracer(tracerName)
	}
	return c
}

type proposalLock struct {
	mu   sync.Mutex
	refs int
}

// lock serializes mutations of one proposal. The entry is dropped once no
// caller holds or waits on it.
func (c *Coordinator) lock(id string) func() {
	c.locksMu.Lock()
	l, ok := c.locks[id]
	if !ok {
		l = &proposalLock{}
		c.locks[id] = l
	}
	l.refs++
	c.locksMu.Unlock()
	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		c.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, id)
		}
		c.locksMu.Unlock()
	}
}

func (c *Coordinator) publish(eventType event.Type, p *adapter.Proposal, signer string) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(event.New(eventType, event.ProposalEvent{
		ProposalID:  p.ID,
		Network:     p.Network,
		Status:      string(p.Status),
		Signer:      signer,
		Signatures:  len(p.Signatures),
		NetworkTxID: p.NetworkTxID,
	}))
}

func (c *Coordinator) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Create builds an unsigned proposal on a network and stores it
func (c *Coordinator) Create(ctx context.Context, networkID string, params adapter.CreateParams) (_ *adapter.Proposal, err error) {
	ctx, span := c.startSpan(ctx, "proposal.Create", attribute.String("network", networkID))
	defer func() { endSpan(span, err) }()
	a, err := c.adapters.Adapter(ctx, networkID)
	if err != nil {
		return nil, err
	}
	p, err := a.CreateTransaction(ctx, params)
	if err != nil {
		return nil, err
	}
	p.Network = a.Network().ID
	unlock := c.lock(p.ID)
	defer unlock()
	if err := c.store.Create(ctx, p); err != nil {
		if errors.Is(err, ErrDuplicateProposal) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateProposal, p.ID)
		}
		return nil, fmt.Errorf("save proposal: %w", err)
	}
	span.SetAttributes(attribute.String("proposal", p.ID))
	if c.metrics != nil {
		c.metrics.created.WithLabelValues(p.Network).Inc()
	}
	c.logger.Info(
		"created proposal",
		"proposal", p.ID,
		"network", p.Network,
		"to", p.ToAddress,
		"amount", p.Amount,
	)
	c.publish(event.ProposalCreatedEventType, p, "")
	return p, nil
}

func (c *Coordinator) Get(ctx context.Context, id string) (*adapter.Proposal, error) {
	return c.store.Get(ctx, id)
}

func (c *Coordinator) List(ctx context.Context, filter Filter) ([]*adapter.Proposal, error) {
	return c.store.List(ctx, filter)
}

// AddSignature records one co-signer's signature. A signer may contribute
// at most once and only while the proposal is pending and not yet
// broadcast.
func (c *Coordinator) AddSignature(ctx context.Context, id string, signer string, sig adapter.Signature) (*adapter.Proposal, error) {
	unlock := c.lock(id)
	defer unlock()
	p, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status != adapter.StatusPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotPending, id, p.Status)
	}
	if p.NetworkTxID != "" {
		return nil, fmt.Errorf("%w: %s as %s", ErrBroadcast, id, p.NetworkTxID)
	}
	if sig.Signer == "" {
		sig.Signer = signer
	}
	if sig.Signer != signer {
		return nil, fmt.Errorf("%w: %s", ErrSignerMismatch, signer)
	}
	if !p.Wallet.IsOwner(signer) {
		return nil, fmt.Errorf("%w: %s", ErrNotOwner, signer)
	}
	if p.HasSigner(signer) {
		return nil, &DuplicateSignerError{ProposalID: id, Signer: signer}
	}
	updated := p.Clone()
	updated.Signatures = append(updated.Signatures, adapter.Signature{
		Signer: signer,
		Blob:   append([]byte(nil), sig.Blob...),
	})
	updated.UpdatedAt = c.now().UTC()
	if err := c.store.Save(ctx, updated); err != nil {
		return nil, fmt.Errorf("save proposal: %w", err)
	}
	if c.metrics != nil {
		c.metrics.signatures.WithLabelValues(updated.Network).Inc()
	}
	c.logger.Info(
		"added signature",
		"proposal", id,
		"signer", signer,
		"signatures", len(updated.Signatures),
		"threshold", updated.Wallet.Threshold,
	)
	c.publish(event.ProposalSignedEventType, updated, signer)
	return updated, nil
}

// SignWith asks the adapter to sign the proposal with key and records the
// result
func (c *Coordinator) SignWith(ctx context.Context, id string, key adapter.KeyMaterial) (_ *adapter.Proposal, err error) {
	ctx, span := c.startSpan(ctx, "proposal.SignWith", attribute.String("proposal", id))
	defer func() { endSpan(span, err) }()
	p, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status != adapter.StatusPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotPending, id, p.Status)
	}
	if p.NetworkTxID != "" {
		return nil, fmt.Errorf("%w: %s as %s", ErrBroadcast, id, p.NetworkTxID)
	}
	a, err := c.adapters.Adapter(ctx, p.Network)
	if err != nil {
		return nil, err
	}
	sig, err := a.SignTransaction(ctx, p, key)
	if err != nil {
		return nil, err
	}
	return c.AddSignature(ctx, id, sig.Signer, sig)
}

// ReadyToBroadcast reports whether p is pending and has at least threshold
// signatures
func ReadyToBroadcast(p *adapter.Proposal, threshold int) bool {
	return p != nil &&
		p.Status == adapter.StatusPending &&
		threshold > 0 &&
		len(p.Signatures) >= threshold
}

// Finalize combines the collected signatures and broadcasts the
// transaction. The stored proposal only changes once the network accepted
// the transaction. A network report that the transaction is already known
// counts as success.
func (c *Coordinator) Finalize(ctx context.Context, id string) (_ *adapter.Proposal, err error) {
	ctx, span := c.startSpan(ctx, "proposal.Finalize", attribute.String("proposal", id))
	defer func() { endSpan(span, err) }()
	unlock := c.lock(id)
	defer unlock()
	p, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status != adapter.StatusPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotPending, id, p.Status)
	}
	if !ReadyToBroadcast(p, p.Wallet.Threshold) {
		return nil, fmt.Errorf(
			"%w: %d of %d signatures",
			ErrThresholdNotMet,
			len(p.Signatures),
			p.Wallet.Threshold,
		)
	}
	a, err := c.adapters.Adapter(ctx, p.Network)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("network", p.Network))
	work := p.Clone()
	combined, err := a.CombineSignatures(ctx, work, work.Signatures)
	if err != nil {
		c.countBroadcast(p.Network, "error")
		return nil, err
	}
	txID, err := a.BroadcastTransaction(ctx, combined)
	result := "success"
	if err != nil {
		var already *adapter.AlreadyBroadcastError
		if !errors.As(err, &already) {
			c.countBroadcast(p.Network, "error")
			c.logger.Warn("broadcast failed", "proposal", id, "error", err)
			return nil, err
		}
		result = "already"
		txID = already.TxID
		if txID == "" {
			txID = p.NetworkTxID
		}
	}
	c.countBroadcast(p.Network, result)
	if txID == p.NetworkTxID {
		return p, nil
	}
	now := c.now().UTC()
	updated := p.Clone()
	updated.NetworkTxID = txID
	updated.BroadcastAt = now
	updated.UpdatedAt = now
	// The broadcast already happened, so persisting must not be abandoned
	// just because the caller gave up
	if err := c.store.Save(context.WithoutCancel(ctx), updated); err != nil {
		return nil, fmt.Errorf("save proposal: %w", err)
	}
	c.logger.Info("broadcast proposal", "proposal", id, "network", p.Network, "txid", txID, "result", result)
	c.publish(event.ProposalBroadcastEventType, updated, "")
	return updated, nil
}

func (c *Coordinator) countBroadcast(networkID string, result string) {
	if c.metrics != nil {
		c.metrics.broadcasts.WithLabelValues(networkID, result).Inc()
	}
}

// Poll refreshes the status of a broadcast proposal. Query failures are
// treated as still pending and terminal statuses are never revisited.
func (c *Coordinator) Poll(ctx context.Context, id string) (_ *adapter.Proposal, err error) {
	ctx, span := c.startSpan(ctx, "proposal.Poll", attribute.String("proposal", id))
	defer func() { endSpan(span, err) }()
	unlock := c.lock(id)
	defer unlock()
	p, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status.Terminal() || p.NetworkTxID == "" {
		return p, nil
	}
	a, err := c.adapters.Adapter(ctx, p.Network)
	if err != nil {
		return nil, err
	}
	status, err := a.GetTransactionStatus(ctx, p.NetworkTxID)
	if err != nil {
		if !errors.Is(err, adapter.ErrNetworkQuery) {
			return nil, err
		}
		if c.metrics != nil {
			c.metrics.pollErrors.WithLabelValues(p.Network).Inc()
		}
		c.logger.Debug("status query failed", "proposal", id, "error", err)
		status = adapter.StatusPending
	}
	if status == p.Status {
		return p, nil
	}
	updated := p.Clone()
	updated.Status = status
	updated.UpdatedAt = c.now().UTC()
	if err := c.store.Save(ctx, updated); err != nil {
		return nil, fmt.Errorf("save proposal: %w", err)
	}
	if c.metrics != nil {
		c.metrics.transitions.WithLabelValues(p.Network, string(status)).Inc()
	}
	c.logger.Info("proposal status changed", "proposal", id, "from", p.Status, "to", status)
	c.publish(event.ProposalStatusEventType, updated, "")
	return updated, nil
}
