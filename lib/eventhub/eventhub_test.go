// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package eventhub

import (
	"sync"
	"testing"
)

func TestPublishFansOut(t *testing.T) {
	hub := New[int]()
	first := hub.Subscribe(nil, 4)
	second := hub.Subscribe(nil, 4)
	defer first.Close()
	defer second.Close()

	if delivered := hub.Publish(7); delivered != 2 {
		t.Fatalf("Publish delivered to %d subscriptions, want 2", delivered)
	}
	if got := <-first.C; got != 7 {
		t.Errorf("first received %d, want 7", got)
	}
	if got := <-second.C; got != 7 {
		t.Errorf("second received %d, want 7", got)
	}
}

func TestFilter(t *testing.T) {
	hub := New[int]()
	evens := hub.Subscribe(func(n int) bool { return n%2 == 0 }, 4)
	defer evens.Close()

	hub.Publish(1)
	hub.Publish(2)
	hub.Publish(3)

	if got := <-evens.C; got != 2 {
		t.Fatalf("received %d, want 2", got)
	}
	select {
	case extra := <-evens.C:
		t.Fatalf("unexpected event %d passed the filter", extra)
	default:
	}
}

func TestFullBufferDrops(t *testing.T) {
	hub := New[string]()
	subscription := hub.Subscribe(nil, 1)
	defer subscription.Close()

	hub.Publish("kept")
	if delivered := hub.Publish("dropped"); delivered != 0 {
		t.Fatalf("Publish into a full buffer delivered %d, want 0", delivered)
	}
	if subscription.Dropped() != 1 {
		t.Errorf("Dropped = %d, want 1", subscription.Dropped())
	}
	if got := <-subscription.C; got != "kept" {
		t.Errorf("received %q, want %q", got, "kept")
	}
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	hub := New[int]()
	subscription := hub.Subscribe(nil, 0)
	subscription.Close()
	subscription.Close()

	if hub.Len() != 0 {
		t.Fatalf("Len = %d after Close, want 0", hub.Len())
	}
	if _, ok := <-subscription.C; ok {
		t.Fatal("channel still open after Close")
	}
	if delivered := hub.Publish(1); delivered != 0 {
		t.Errorf("Publish after Close delivered %d, want 0", delivered)
	}
}

func TestHubCloseClosesSubscriptions(t *testing.T) {
	hub := New[int]()
	subscription := hub.Subscribe(nil, 0)
	hub.Close()
	hub.Close()

	if _, ok := <-subscription.C; ok {
		t.Fatal("subscription channel still open after hub Close")
	}
	subscription.Close()

	late := hub.Subscribe(nil, 0)
	if _, ok := <-late.C; ok {
		t.Fatal("subscription on closed hub is open")
	}
}

func TestConcurrentPublishAndClose(t *testing.T) {
	hub := New[int]()
	var group sync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		group.Add(1)
		go func() {
			defer group.Done()
			subscription := hub.Subscribe(nil, 1)
			for n := 0; n < 100; n++ {
				hub.Publish(n)
			}
			subscription.Close()
		}()
	}
	group.Wait()
	if hub.Len() != 0 {
		t.Fatalf("Len = %d, want 0", hub.Len())
	}
}
