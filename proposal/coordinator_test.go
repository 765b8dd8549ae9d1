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

package proposal_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/NEILBATCHELOR/wallet-sub001/adapter"
	"github.com/NEILBATCHELOR/wallet-sub001/event"
	"github.com/NEILBATCHELOR/wallet-sub001/network"
	"github.com/NEILBATCHELOR/wallet-sub001/proposal"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeAdapter struct {
	mu           sync.Mutex
	broadcasts   atomic.Int32
	combines     atomic.Int32
	broadcastErr error
	combineErr   error
	status       adapter.Status
	statusErr    error
	seq          int
	// fixedID makes every created proposal share one content id
	fixedID      string
}

func (f *fakeAdapter) Network() network.Info {
	info, _ := network.Known("sepolia")
	return info
}

func (f *fakeAdapter) ValidateAddress(address string) bool {
	return address != ""
}

func (f *fakeAdapter) GenerateMultiSigAddress(ctx context.Context, owners []string, threshold int) (string, error) {
	return "wallet", nil
}

func (f *fakeAdapter) GetBalance(ctx context.Context, address string, token string) (string, error) {
	return "10", nil
}

func (f *fakeAdapter) CreateTransaction(ctx context.Context, params adapter.CreateParams) (*adapter.Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("p%d", f.seq)
	if f.fixedID != "" {
		id = f.fixedID
	}
	now := time.Now().UTC()
	return &adapter.Proposal{
		ID:          id,
		FromAddress: params.Wallet.Address,
		ToAddress:   params.ToAddress,
		Amount:      params.Amount,
		Raw:         []byte("unsigned"),
		Status:      adapter.StatusPending,
		Wallet:      params.Wallet,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (f *fakeAdapter) SignTransaction(ctx context.Context, p *adapter.Proposal, key adapter.KeyMaterial) (adapter.Signature, error) {
	blob, err := key.Sign(ctx, p.Raw)
	if err != nil {
		return adapter.Signature{}, err
	}
	return adapter.Signature{Signer: string(key.PublicKey()), Blob: blob}, nil
}

func (f *fakeAdapter) CombineSignatures(ctx context.Context, p *adapter.Proposal, sigs []adapter.Signature) (*adapter.Proposal, error) {
	f.combines.Add(1)
	if f.combineErr != nil {
		return nil, f.combineErr
	}
	ret := p.Clone()
	ret.Signatures = adapter.OrderByOwners(
		adapter.MergeSignatures(ret.Signatures, sigs),
		ret.Wallet.Owners,
	)
	return ret, nil
}

func (f *fakeAdapter) BroadcastTransaction(ctx context.Context, p *adapter.Proposal) (string, error) {
	f.broadcasts.Add(1)
	if f.broadcastErr != nil {
		return "", f.broadcastErr
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "0xfeed", nil
}

func (f *fakeAdapter) GetTransactionStatus(ctx context.Context, txID string) (adapter.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return "", f.statusErr
	}
	if f.status == "" {
		return adapter.StatusPending, nil
	}
	return f.status, nil
}

func (f *fakeAdapter) setStatus(status adapter.Status, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
	f.statusErr = err
}

type fakeSource struct {
	a adapter.Adapter
}

func (s fakeSource) Adapter(ctx context.Context, id string) (adapter.Adapter, error) {
	if id != "sepolia" {
		return nil, errors.New("unknown network")
	}
	return s.a, nil
}

type namedKey struct {
	name string
}

func (k namedKey) Curve() string     { return network.CurveSecp256k1 }
func (k namedKey) PublicKey() []byte { return []byte(k.name) }
func (k namedKey) Sign(ctx context.Context, payload []byte) ([]byte, error) {
	return append([]byte(k.name+":"), payload...), nil
}

var owners = []string{"alice", "bob", "carol"}

func newCoordinator(t *testing.T, fake *fakeAdapter, opts ...proposal.OptionFunc) *proposal.Coordinator {
	t.Helper()
	c := proposal.NewCoordinator(fakeSource{a: fake}, opts...)
	t.Cleanup(c.Stop)
	return c
}

func create(t *testing.T, c *proposal.Coordinator) *adapter.Proposal {
	t.Helper()
	p, err := c.Create(context.Background(), "sepolia", adapter.CreateParams{
		ToAddress: "dest",
		Amount:    "1",
		Wallet: adapter.WalletInfo{
			Address:   "wallet",
			Owners:    owners,
			Threshold: 2,
		},
	})
	require.NoError(t, err)
	require.Equal(t, adapter.StatusPending, p.Status)
	require.Equal(t, "sepolia", p.Network)
	return p
}

func sig(signer string) adapter.Signature {
	return adapter.Signature{Signer: signer, Blob: []byte(signer)}
}

func TestTwoOfThreeLifecycle(t *testing.T) {
	ctx := context.Background()
	fake := &fakeAdapter{}
	c := newCoordinator(t, fake)
	p := create(t, c)

	p, err := c.AddSignature(ctx, p.ID, "alice", sig("alice"))
	require.NoError(t, err)
	assert.False(t, proposal.ReadyToBroadcast(p, 2))
	p, err = c.AddSignature(ctx, p.ID, "bob", sig("bob"))
	require.NoError(t, err)
	assert.True(t, proposal.ReadyToBroadcast(p, 2))

	p, err = c.Finalize(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "0xfeed", p.NetworkTxID)
	assert.False(t, p.BroadcastAt.IsZero())
	assert.Equal(t, adapter.StatusPending, p.Status)

	fake.setStatus(adapter.StatusConfirmed, nil)
	p, err = c.Poll(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, adapter.StatusConfirmed, p.Status)

	stored, err := c.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, adapter.StatusConfirmed, stored.Status)
	assert.False(t, proposal.ReadyToBroadcast(stored, 2))
}

func TestAddSignatureRejections(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator(t, &fakeAdapter{})
	p := create(t, c)

	_, err := c.AddSignature(ctx, p.ID, "alice", sig("alice"))
	require.NoError(t, err)

	_, err = c.AddSignature(ctx, p.ID, "alice", sig("alice"))
	require.ErrorIs(t, err, proposal.ErrDuplicateSigner)
	var dup *proposal.DuplicateSignerError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "alice", dup.Signer)

	_, err = c.AddSignature(ctx, p.ID, "mallory", sig("mallory"))
	assert.ErrorIs(t, err, proposal.ErrNotOwner)

	_, err = c.AddSignature(ctx, p.ID, "bob", sig("carol"))
	assert.ErrorIs(t, err, proposal.ErrSignerMismatch)

	_, err = c.AddSignature(ctx, "missing", "bob", sig("bob"))
	assert.ErrorIs(t, err, proposal.ErrNotFound)

	stored, err := c.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Signatures, 1)
}

func TestAddSignatureFillsSigner(t *testing.T) {
	c := newCoordinator(t, &fakeAdapter{})
	p := create(t, c)
	p, err := c.AddSignature(context.Background(), p.ID, "carol", adapter.Signature{Blob: []byte{1}})
	require.NoError(t, err)
	require.Len(t, p.Signatures, 1)
	assert.Equal(t, "carol", p.Signatures[0].Signer)
}

func TestConcurrentDuplicateSigner(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator(t, &fakeAdapter{})
	p := create(t, c)

	var wg sync.WaitGroup
	var accepted atomic.Int32
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.AddSignature(ctx, p.ID, "bob", sig("bob")); err == nil {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), accepted.Load())
	stored, err := c.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Signatures, 1)
}

func TestFinalizeBelowThreshold(t *testing.T) {
	ctx := context.Background()
	fake := &fakeAdapter{}
	c := newCoordinator(t, fake)
	p := create(t, c)
	_, err := c.AddSignature(ctx, p.ID, "alice", sig("alice"))
	require.NoError(t, err)

	_, err = c.Finalize(ctx, p.ID)
	require.ErrorIs(t, err, proposal.ErrThresholdNotMet)
	assert.Zero(t, fake.combines.Load())
	assert.Zero(t, fake.broadcasts.Load())
}

func TestFinalizeAlreadyBroadcast(t *testing.T) {
	ctx := context.Background()
	fake := &fakeAdapter{
		broadcastErr: &adapter.AlreadyBroadcastError{Network: "sepolia", TxID: "0xknown"},
	}
	c := newCoordinator(t, fake)
	p := create(t, c)
	for _, s := range []string{"alice", "carol"} {
		_, err := c.AddSignature(ctx, p.ID, s, sig(s))
		require.NoError(t, err)
	}
	p, err := c.Finalize(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "0xknown", p.NetworkTxID)
	assert.Equal(t, adapter.StatusPending, p.Status)
}

func TestCreateRejectsExistingProposal(t *testing.T) {
	ctx := context.Background()
	fake := &fakeAdapter{fixedID: "0xsame"}
	c := newCoordinator(t, fake)
	p := create(t, c)
	for _, s := range []string{"alice", "bob"} {
		_, err := c.AddSignature(ctx, p.ID, s, sig(s))
		require.NoError(t, err)
	}
	_, err := c.Finalize(ctx, p.ID)
	require.NoError(t, err)

	_, err = c.Create(ctx, "sepolia", adapter.CreateParams{
		ToAddress: "dest",
		Amount:    "1",
		Wallet: adapter.WalletInfo{
			Address:   "wallet",
			Owners:    owners,
			Threshold: 2,
		},
	})
	require.ErrorIs(t, err, proposal.ErrDuplicateProposal)

	stored, err := c.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Signatures, 2)
	assert.Equal(t, "0xfeed", stored.NetworkTxID)
	assert.Equal(t, int32(1), fake.broadcasts.Load())
}

func TestAddSignatureAfterBroadcast(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator(t, &fakeAdapter{})
	p := create(t, c)
	for _, s := range []string{"alice", "bob"} {
		_, err := c.AddSignature(ctx, p.ID, s, sig(s))
		require.NoError(t, err)
	}
	p, err := c.Finalize(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, adapter.StatusPending, p.Status)

	_, err = c.AddSignature(ctx, p.ID, "carol", sig("carol"))
	require.ErrorIs(t, err, proposal.ErrBroadcast)
	_, err = c.SignWith(ctx, p.ID, namedKey{name: "carol"})
	require.ErrorIs(t, err, proposal.ErrBroadcast)

	stored, err := c.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Signatures, 2)
}

func TestLocksReleased(t *testing.T) {
	ctx := context.Background()
	fake := &fakeAdapter{}
	c := newCoordinator(t, fake)
	p := create(t, c)

	var wg sync.WaitGroup
	for _, s := range owners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.AddSignature(ctx, p.ID, s, sig(s))
		}()
	}
	wg.Wait()
	_, err := c.Finalize(ctx, p.ID)
	require.NoError(t, err)
	fake.setStatus(adapter.StatusConfirmed, nil)
	p, err = c.Poll(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, adapter.StatusConfirmed, p.Status)

	assert.Zero(t, proposal.LockCount(c))
}

func TestFinalizeFailureLeavesState(t *testing.T) {
	ctx := context.Background()
	fake := &fakeAdapter{
		broadcastErr: adapter.Errorf(adapter.ErrBroadcast, "sepolia", "broadcast", "rejected"),
	}
	c := newCoordinator(t, fake)
	p := create(t, c)
	for _, s := range []string{"alice", "bob"} {
		_, err := c.AddSignature(ctx, p.ID, s, sig(s))
		require.NoError(t, err)
	}
	before, err := c.Get(ctx, p.ID)
	require.NoError(t, err)

	_, err = c.Finalize(ctx, p.ID)
	require.ErrorIs(t, err, adapter.ErrBroadcast)

	after, err := c.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestFinalizeCanceled(t *testing.T) {
	fake := &fakeAdapter{}
	c := newCoordinator(t, fake)
	p := create(t, c)
	for _, s := range []string{"alice", "bob"} {
		_, err := c.AddSignature(context.Background(), p.ID, s, sig(s))
		require.NoError(t, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Finalize(ctx, p.ID)
	require.ErrorIs(t, err, context.Canceled)

	stored, err := c.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.NetworkTxID)
}

func TestPollNeverRegresses(t *testing.T) {
	ctx := context.Background()
	fake := &fakeAdapter{}
	c := newCoordinator(t, fake)
	p := create(t, c)
	for _, s := range []string{"alice", "bob"} {
		_, err := c.AddSignature(ctx, p.ID, s, sig(s))
		require.NoError(t, err)
	}
	_, err := c.Finalize(ctx, p.ID)
	require.NoError(t, err)

	fake.setStatus("", adapter.Errorf(adapter.ErrNetworkQuery, "sepolia", "status", "timeout"))
	p, err = c.Poll(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, adapter.StatusPending, p.Status)

	fake.setStatus(adapter.StatusFailed, nil)
	p, err = c.Poll(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, adapter.StatusFailed, p.Status)

	fake.setStatus(adapter.StatusPending, nil)
	p, err = c.Poll(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, adapter.StatusFailed, p.Status)

	_, err = c.AddSignature(ctx, p.ID, "carol", sig("carol"))
	assert.ErrorIs(t, err, proposal.ErrNotPending)
}

func TestPollSkipsUnbroadcast(t *testing.T) {
	fake := &fakeAdapter{}
	fake.setStatus(adapter.StatusConfirmed, nil)
	c := newCoordinator(t, fake)
	p := create(t, c)
	p, err := c.Poll(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, adapter.StatusPending, p.Status)
}

func TestSignWith(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator(t, &fakeAdapter{})
	p := create(t, c)
	p, err := c.SignWith(ctx, p.ID, namedKey{name: "bob"})
	require.NoError(t, err)
	require.Len(t, p.Signatures, 1)
	assert.Equal(t, "bob", p.Signatures[0].Signer)

	_, err = c.SignWith(ctx, p.ID, namedKey{name: "mallory"})
	assert.ErrorIs(t, err, proposal.ErrNotOwner)
}

func TestBackgroundPolling(t *testing.T) {
	ctx := context.Background()
	fake := &fakeAdapter{}
	reg := prometheus.NewRegistry()
	bus := event.NewBus(nil, nil)
	defer bus.Stop()
	_, statusCh := bus.Subscribe(event.ProposalStatusEventType)

	c := newCoordinator(
		t,
		fake,
		proposal.WithEventBus(bus),
		proposal.WithPromRegistry(reg),
	)
	p := create(t, c)
	for _, s := range []string{"alice", "bob"} {
		_, err := c.AddSignature(ctx, p.ID, s, sig(s))
		require.NoError(t, err)
	}
	_, err := c.Finalize(ctx, p.ID)
	require.NoError(t, err)

	fake.setStatus(adapter.StatusConfirmed, nil)
	require.NoError(t, c.StartPolling(ctx, 10*time.Millisecond))
	require.ErrorIs(t, c.StartPolling(ctx, time.Second), proposal.ErrPollingRunning)

	select {
	case evt := <-statusCh:
		data, ok := evt.Data.(event.ProposalEvent)
		require.True(t, ok)
		assert.Equal(t, p.ID, data.ProposalID)
		assert.Equal(t, string(adapter.StatusConfirmed), data.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for status event")
	}
	c.Stop()
	c.Stop()

	assert.Equal(t, 1.0, counterTotal(t, reg, "multisig_proposal_broadcasts_total"))
	assert.Equal(t, 2.0, counterTotal(t, reg, "multisig_proposal_signatures_total"))
}

func counterTotal(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	total := 0.0
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, m := range family.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}
