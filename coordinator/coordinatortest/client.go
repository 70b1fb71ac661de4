// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package coordinatortest provides an in-memory coordinator.Client
// that implements every optional capability, records calls, and lets
// tests inject events.
package coordinatortest

import (
	"context"
	"slices"
	"sync"

	"github.com/bureau-foundation/gcbridge/coordinator"
	"github.com/bureau-foundation/gcbridge/lib/eventhub"
)

// Client is a scriptable coordinator.Client.
type Client struct {
	hub *eventhub.Hub[coordinator.Event]

	// Requests receives every requested identifier. Buffered; tests
	// that issue more than its capacity must drain it.
	Requests chan string

	mu              sync.Mutex
	requested       []string
	connects        int
	launches        int
	sessionRequests int
	onRequest       func(identifier string)
	onConnect       func()
	requestErr      error
	connectErr      error
}

var (
	_ coordinator.Client           = (*Client)(nil)
	_ coordinator.Connector        = (*Client)(nil)
	_ coordinator.Launcher         = (*Client)(nil)
	_ coordinator.SessionRequester = (*Client)(nil)
)

// NewClient returns a client with no scripted behavior.
func NewClient() *Client {
	return &Client{
		hub:      eventhub.New[coordinator.Event](),
		Requests: make(chan string, 64),
	}
}

// OnRequest sets a hook run synchronously inside RequestPlayersProfile.
func (c *Client) OnRequest(hook func(identifier string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRequest = hook
}

// OnConnect sets a hook run synchronously inside Connect.
func (c *Client) OnConnect(hook func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnect = hook
}

// FailRequests makes RequestPlayersProfile return err. Nil clears it.
func (c *Client) FailRequests(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestErr = err
}

// FailConnect makes Connect return err. Nil clears it.
func (c *Client) FailConnect(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectErr = err
}

func (c *Client) RequestPlayersProfile(ctx context.Context, identifier string) error {
	c.mu.Lock()
	c.requested = append(c.requested, identifier)
	hook, err := c.onRequest, c.requestErr
	c.mu.Unlock()

	if err != nil {
		return err
	}
	select {
	case c.Requests <- identifier:
	default:
	}
	if hook != nil {
		hook(identifier)
	}
	return nil
}

func (c *Client) Subscribe() *eventhub.Subscription[coordinator.Event] {
	return c.hub.Subscribe(nil, 0)
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.connects++
	hook, err := c.onConnect, c.connectErr
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if hook != nil {
		hook()
	}
	return nil
}

func (c *Client) Launch(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.launches++
	return nil
}

func (c *Client) RequestSession(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionRequests++
	return nil
}

// Emit publishes an event to every subscriber.
func (c *Client) Emit(event coordinator.Event) {
	c.hub.Publish(event)
}

// EmitConnected reports an established coordinator session.
func (c *Client) EmitConnected() {
	c.Emit(coordinator.Event{Kind: coordinator.EventConnected})
}

// EmitStatus reports a connection status code.
func (c *Client) EmitStatus(status int) {
	c.Emit(coordinator.Event{Kind: coordinator.EventConnectionStatus, Status: status})
}

// EmitDisconnected reports a lost coordinator session.
func (c *Client) EmitDisconnected(reason string) {
	c.Emit(coordinator.Event{Kind: coordinator.EventDisconnected, Reason: reason})
}

// EmitProfile delivers a profile response for identifier.
func (c *Client) EmitProfile(identifier string, profile *coordinator.ProfileResponse) {
	c.Emit(coordinator.Event{Kind: coordinator.EventProfile, Identifier: identifier, Profile: profile})
}

// Requested returns every identifier passed to RequestPlayersProfile,
// including failed calls.
func (c *Client) Requested() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.requested)
}

// Attempts returns the Connect, Launch, and RequestSession call counts.
func (c *Client) Attempts() (connects, launches, sessionRequests int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects, c.launches, c.sessionRequests
}

// Close closes every subscription.
func (c *Client) Close() {
	c.hub.Close()
}

// Profile builds a well-formed profile response.
func Profile(accountID, friendly, teaching, leader uint32, level int32, medals ...any) *coordinator.ProfileResponse {
	return &coordinator.ProfileResponse{
		AccountID: &accountID,
		Commendation: &coordinator.Commendation{
			Friendly: &friendly,
			Teaching: &teaching,
			Leader:   &leader,
		},
		Medals:      &coordinator.Medals{DisplayItems: medals},
		PlayerLevel: &level,
	}
}
