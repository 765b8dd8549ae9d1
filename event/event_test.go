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

package event_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/NEILBATCHELOR/wallet-sub001/event"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func receive(t *testing.T, ch <-chan event.Event) event.Event {
	t.Helper()
	select {
	case evt, ok := <-ch:
		require.True(t, ok, "channel closed")
		return evt
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
	return event.Event{}
}

func TestPublishToSubscribers(t *testing.T) {
	bus := event.NewBus(nil, nil)
	defer bus.Stop()
	_, ch1 := bus.Subscribe(event.ProposalCreatedEventType)
	_, ch2 := bus.Subscribe(event.ProposalCreatedEventType)
	_, other := bus.Subscribe(event.ProposalSignedEventType)
	bus.Publish(event.New(event.ProposalCreatedEventType, event.ProposalEvent{ProposalID: "p1"}))
	for _, ch := range []<-chan event.Event{ch1, ch2} {
		evt := receive(t, ch)
		data, ok := evt.Data.(event.ProposalEvent)
		require.True(t, ok)
		assert.Equal(t, "p1", data.ProposalID)
	}
	assert.Empty(t, other)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := event.NewBus(nil, nil)
	defer bus.Stop()
	id, ch := bus.Subscribe(event.VaultStateEventType)
	bus.Unsubscribe(event.VaultStateEventType, id)
	_, ok := <-ch
	assert.False(t, ok)
	// Repeated unsubscribe is a no-op
	bus.Unsubscribe(event.VaultStateEventType, id)
}

func TestSubscribeFuncAndStop(t *testing.T) {
	bus := event.NewBus(nil, nil)
	var mu sync.Mutex
	var got []string
	done := make(chan struct{})
	bus.SubscribeFunc(event.VaultAuditEventType, func(evt event.Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, evt.Data.(event.VaultAuditEvent).Action)
		if len(got) == 2 {
			close(done)
		}
	})
	require.True(t, bus.PublishAsync(event.New(event.VaultAuditEventType, event.VaultAuditEvent{Action: "sign"})))
	bus.Publish(event.New(event.VaultAuditEventType, event.VaultAuditEvent{Action: "export"}))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler not called")
	}
	bus.Stop()
	bus.Stop()
	assert.False(t, bus.PublishAsync(event.New(event.VaultAuditEventType, nil)))
	_, ch := bus.Subscribe(event.VaultAuditEventType)
	_, ok := <-ch
	assert.False(t, ok)
	_, err := bus.RegisterSubscriber(event.VaultAuditEventType, &failingSubscriber{})
	assert.ErrorIs(t, err, event.ErrBusStopped)
	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"sign", "export"}, got)
}

type failingSubscriber struct {
	mu     sync.Mutex
	closed bool
	panics bool
}

func (f *failingSubscriber) Deliver(event.Event) error {
	if f.panics {
		panic("boom")
	}
	return errors.New("deliver failed")
}

func (f *failingSubscriber) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func TestFailingSubscriberRemoved(t *testing.T) {
	reg := prometheus.NewRegistry()
	bus := event.NewBus(reg, nil)
	defer bus.Stop()
	failing := &failingSubscriber{}
	panicking := &failingSubscriber{panics: true}
	_, err := bus.RegisterSubscriber(event.ProposalStatusEventType, failing)
	require.NoError(t, err)
	_, err = bus.RegisterSubscriber(event.ProposalStatusEventType, panicking)
	require.NoError(t, err)
	bus.Publish(event.New(event.ProposalStatusEventType, nil))
	assert.True(t, failing.closed)
	assert.True(t, panicking.closed)
	bus.Publish(event.New(event.ProposalStatusEventType, nil))
	count, err := testutil.GatherAndCount(reg, "multisig_event_delivery_errors_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "multisig_event_published_total" {
			require.Len(t, mf.GetMetric(), 1)
			assert.InDelta(t, 2, mf.GetMetric()[0].GetCounter().GetValue(), 0)
		}
	}
}

func TestSlowSubscriberKeepsSubscription(t *testing.T) {
	bus := event.NewBus(nil, nil)
	defer bus.Stop()
	_, ch := bus.Subscribe(event.ProposalSignedEventType)
	for i := range event.SubscriberQueueSize + 5 {
		bus.Publish(event.New(event.ProposalSignedEventType, i))
	}
	for i := range event.SubscriberQueueSize {
		evt := receive(t, ch)
		assert.Equal(t, i, evt.Data)
	}
	bus.Publish(event.New(event.ProposalSignedEventType, "after"))
	assert.Equal(t, "after", receive(t, ch).Data)
}
