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

// Package event is an in-process publish/subscribe bus for proposal and
// vault lifecycle notifications.
package event

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	SubscriberQueueSize = 64
	AsyncQueueSize      = 1000
	AsyncWorkerPoolSize = 4
)

var (
	// ErrSubscriberFull is returned by Deliver when a subscriber cannot
	// accept more events. The event is dropped for that subscriber only.
	ErrSubscriberFull = errors.New("subscriber queue full")
	ErrBusStopped     = errors.New("event bus stopped")
)

type Type string

type SubscriberID int

type HandlerFunc func(Event)

type Event struct {
	Type      Type
	Timestamp time.Time
	Data      any
}

func New(eventType Type, data any) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// Subscriber receives events from the bus. Close must be idempotent.
type Subscriber interface {
	Deliver(Event) error
	Close()
}

type Bus struct {
	mu          sync.RWMutex
	subscribers map[Type]map[SubscriberID]Subscriber
	lastID      SubscriberID
	logger      *slog.Logger
	metrics     *busMetrics

	stopOnce   sync.Once
	stopCh     chan struct{}
	asyncQueue chan Event
	workerWg   sync.WaitGroup
	handlerWg  sync.WaitGroup
}

// NewBus creates a bus and starts its async delivery workers. A nil
// registerer disables metrics.
func NewBus(promRegistry prometheus.Registerer, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	b := &Bus{
		subscribers: make(map[Type]map[SubscriberID]Subscriber),
		logger:      logger.With("component", "event"),
		stopCh:      make(chan struct{}),
		asyncQueue:  make(chan Event, AsyncQueueSize),
	}
	if promRegistry != nil {
		b.metrics = initMetrics(promRegistry)
	}
	for range AsyncWorkerPoolSize {
		b.workerWg.Add(1)
		go b.asyncWorker()
	}
	return b
}

func (b *Bus) asyncWorker() {
	defer b.workerWg.Done()
	for {
		select {
		case <-b.stopCh:
			return
		case evt := <-b.asyncQueue:
			b.Publish(evt)
		}
	}
}

func (b *Bus) stopped() bool {
	select {
	case <-b.stopCh:
		return true
	default:
		return false
	}
}

// channelSubscriber delivers into a buffered channel without blocking the
// publisher
type channelSubscriber struct {
	mu     sync.RWMutex
	ch     chan Event
	closed bool
}

func newChannelSubscriber(size int) *channelSubscriber {
	return &channelSubscriber{ch: make(chan Event, size)}
}

func (c *channelSubscriber) Deliver(evt Event) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil
	}
	select {
	case c.ch <- evt:
		return nil
	default:
		return ErrSubscriberFull
	}
}

func (c *channelSubscriber) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.ch)
}

func subscriberKind(sub Subscriber) string {
	if _, ok := sub.(*channelSubscriber); ok {
		return "in-memory"
	}
	return "external"
}

// add registers sub, reserving a handler slot when withHandler is set. It
// reports false once the bus is stopped.
func (b *Bus) add(eventType Type, sub Subscriber, withHandler bool) (SubscriberID, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped() {
		return 0, false
	}
	b.lastID++
	if _, ok := b.subscribers[eventType]; !ok {
		b.subscribers[eventType] = make(map[SubscriberID]Subscriber)
	}
	b.subscribers[eventType][b.lastID] = sub
	if withHandler {
		b.handlerWg.Add(1)
	}
	if b.metrics != nil {
		b.metrics.subscribers.WithLabelValues(string(eventType), subscriberKind(sub)).Inc()
	}
	return b.lastID, true
}

// Subscribe returns a channel receiving events of one type. The channel is
// closed by Unsubscribe or Stop.
func (b *Bus) Subscribe(eventType Type) (SubscriberID, <-chan Event) {
	sub := newChannelSubscriber(SubscriberQueueSize)
	id, ok := b.add(eventType, sub, false)
	if !ok {
		sub.Close()
	}
	return id, sub.ch
}

// SubscribeFunc calls handler for every event of one type from a dedicated
// goroutine
func (b *Bus) SubscribeFunc(eventType Type, handler HandlerFunc) SubscriberID {
	sub := newChannelSubscriber(SubscriberQueueSize)
	id, ok := b.add(eventType, sub, true)
	if !ok {
		sub.Close()
		return 0
	}
	go func() {
		defer b.handlerWg.Done()
		for evt := range sub.ch {
			handler(evt)
		}
	}()
	return id
}

// RegisterSubscriber attaches an externally implemented subscriber
func (b *Bus) RegisterSubscriber(eventType Type, sub Subscriber) (SubscriberID, error) {
	id, ok := b.add(eventType, sub, false)
	if !ok {
		return 0, ErrBusStopped
	}
	return id, nil
}

func (b *Bus) Unsubscribe(eventType Type, id SubscriberID) {
	b.mu.Lock()
	sub, ok := b.subscribers[eventType][id]
	if ok {
		delete(b.subscribers[eventType], id)
		if len(b.subscribers[eventType]) == 0 {
			delete(b.subscribers, eventType)
		}
		if b.metrics != nil {
			b.metrics.subscribers.WithLabelValues(string(eventType), subscriberKind(sub)).Dec()
		}
	}
	b.mu.Unlock()
	if ok {
		sub.Close()
	}
}

// Publish delivers an event synchronously to every subscriber of its type.
// Subscribers that fail with anything other than a full queue are removed.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	subs := make(map[SubscriberID]Subscriber, len(b.subscribers[evt.Type]))
	for id, sub := range b.subscribers[evt.Type] {
		subs[id] = sub
	}
	b.mu.RUnlock()
	for id, sub := range subs {
		err := deliver(sub, evt)
		if err == nil {
			continue
		}
		if b.metrics != nil {
			b.metrics.deliveryErrors.WithLabelValues(string(evt.Type), subscriberKind(sub)).Inc()
		}
		if errors.Is(err, ErrSubscriberFull) {
			b.logger.Warn("dropped event for slow subscriber", "type", evt.Type, "subscriber", id)
			continue
		}
		b.logger.Debug("event delivery error", "type", evt.Type, "subscriber", id, "error", err)
		b.Unsubscribe(evt.Type, id)
	}
	if b.metrics != nil {
		b.metrics.eventsTotal.WithLabelValues(string(evt.Type)).Inc()
	}
}

func deliver(sub Subscriber, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	return sub.Deliver(evt)
}

// PublishAsync queues an event for delivery by the worker pool. It reports
// false when the bus is stopped or the queue is full.
func (b *Bus) PublishAsync(evt Event) bool {
	if b.stopped() {
		return false
	}
	select {
	case b.asyncQueue <- evt:
		return true
	default:
		b.logger.Warn("async event queue full, dropping event", "type", evt.Type)
		if b.metrics != nil {
			b.metrics.deliveryErrors.WithLabelValues(string(evt.Type), "async-dropped").Inc()
		}
		return false
	}
}

// Stop halts the workers, closes every subscriber and waits for handler
// goroutines to return. The bus cannot be restarted.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
		b.workerWg.Wait()
		b.mu.Lock()
		subs := b.subscribers
		b.subscribers = make(map[Type]map[SubscriberID]Subscriber)
		b.mu.Unlock()
		for _, byID := range subs {
			for _, sub := range byID {
				sub.Close()
			}
		}
		if b.metrics != nil {
			b.metrics.subscribers.Reset()
		}
		b.handlerWg.Wait()
	})
}
