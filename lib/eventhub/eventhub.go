// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package eventhub is a typed in-process fan-out for events emitted by
// a single producer (a protocol client, a state machine) to any number
// of consumers.
//
// Each [Subscription] owns a buffered channel. [Hub.Publish] never
// blocks: when a subscriber's buffer is full the event is dropped for
// that subscriber and its [Subscription.Dropped] counter increments.
// Consumers that must not miss events drain their channel from a
// dedicated goroutine.
//
// Subscribe before triggering the action whose events you await.
// Events published before Subscribe returns are never delivered to
// that subscription.
package eventhub

import (
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the per-subscription channel capacity used when
// Subscribe is called with a non-positive buffer.
const DefaultBuffer = 64

// Hub fans events out to subscriptions. The zero value is not usable;
// call New.
type Hub[E any] struct {
	mu            sync.Mutex
	subscriptions map[*Subscription[E]]struct{}
	closed        bool
}

// New returns an empty hub.
func New[E any]() *Hub[E] {
	return &Hub[E]{subscriptions: make(map[*Subscription[E]]struct{})}
}

// Subscription receives the events accepted by its filter on C. C is
// closed when the subscription or the hub is closed.
type Subscription[E any] struct {
	C <-chan E

	hub     *Hub[E]
	channel chan E
	filter  func(E) bool
	dropped atomic.Uint64
	closed  bool // guarded by hub.mu
}

// Subscribe registers a subscription. A nil filter accepts every event.
// Subscribing to a closed hub returns a subscription whose channel is
// already closed.
func (h *Hub[E]) Subscribe(filter func(E) bool, buffer int) *Subscription[E] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	channel := make(chan E, buffer)
	subscription := &Subscription[E]{C: channel, hub: h, channel: channel, filter: filter}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		subscription.closed = true
		close(channel)
		return subscription
	}
	h.subscriptions[subscription] = struct{}{}
	return subscription
}

// Publish delivers event to every matching subscription without
// blocking and returns the number of subscriptions that received it.
func (h *Hub[E]) Publish(event E) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for subscription := range h.subscriptions {
		if subscription.filter != nil && !subscription.filter(event) {
			continue
		}
		select {
		case subscription.channel <- event:
			delivered++
		default:
			subscription.dropped.Add(1)
		}
	}
	return delivered
}

// Len returns the number of open subscriptions.
func (h *Hub[E]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscriptions)
}

// Close closes every subscription. Later Publish calls deliver nothing
// and later Subscribe calls return closed subscriptions. Idempotent.
func (h *Hub[E]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for subscription := range h.subscriptions {
		subscription.closed = true
		close(subscription.channel)
	}
	h.subscriptions = nil
}

// Close removes the subscription from its hub and closes C.
// Idempotent and safe to call concurrently with Publish.
func (s *Subscription[E]) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	delete(s.hub.subscriptions, s)
	close(s.channel)
}

// Dropped returns how many events were discarded because C was full.
func (s *Subscription[E]) Dropped() uint64 {
	return s.dropped.Load()
}
