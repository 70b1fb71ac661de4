// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sidecar

import (
	"context"
	"log/slog"

	"github.com/bureau-foundation/gcbridge/coordinator"
	"github.com/bureau-foundation/gcbridge/lib/eventhub"
)

// Coordinator methods. Only MethodRequestPlayersProfile is required.
const (
	MethodRequestPlayersProfile = "coordinator.requestPlayersProfile"
	MethodConnect               = "coordinator.connect"
	MethodLaunch                = "coordinator.launch"
	MethodRequestSession        = "coordinator.requestSession"
)

// Coordinator event names.
const (
	EventConnectedToGC      = "connectedToGC"
	EventConnectionStatus   = "connectionStatus"
	EventDisconnectedFromGC = "disconnectedFromGC"
	EventPlayersProfile     = "playersProfile"
)

type statusPayload struct {
	Status int `cbor:"status"`
}

type profilePayload struct {
	Identifier string                       `cbor:"identifier"`
	Profile    *coordinator.ProfileResponse `cbor:"profile"`
}

type profileRequest struct {
	Identifier string `cbor:"identifier"`
}

// CoordinatorClient adapts the sidecar to coordinator.Client and its
// optional capabilities.
type CoordinatorClient struct {
	conn   *Conn
	hub    *eventhub.Hub[coordinator.Event]
	logger *slog.Logger
}

var (
	_ coordinator.Client           = (*CoordinatorClient)(nil)
	_ coordinator.Connector        = (*CoordinatorClient)(nil)
	_ coordinator.Launcher         = (*CoordinatorClient)(nil)
	_ coordinator.SessionRequester = (*CoordinatorClient)(nil)
)

// NewCoordinatorClient registers for coordinator events on conn.
func NewCoordinatorClient(conn *Conn) *CoordinatorClient {
	client := &CoordinatorClient{
		conn:   conn,
		hub:    eventhub.New[coordinator.Event](),
		logger: conn.logger.With("scope", ScopeCoordinator),
	}
	conn.handle(ScopeCoordinator, client)
	return client
}

func (c *CoordinatorClient) RequestPlayersProfile(ctx context.Context, identifier string) error {
	return c.conn.Call(ctx, MethodRequestPlayersProfile, profileRequest{Identifier: identifier}, nil)
}

func (c *CoordinatorClient) Subscribe() *eventhub.Subscription[coordinator.Event] {
	return c.hub.Subscribe(nil, 0)
}

func (c *CoordinatorClient) Connect(ctx context.Context) error {
	return c.optionalCall(ctx, MethodConnect)
}

func (c *CoordinatorClient) Launch(ctx context.Context) error {
	return c.optionalCall(ctx, MethodLaunch)
}

func (c *CoordinatorClient) RequestSession(ctx context.Context) error {
	return c.optionalCall(ctx, MethodRequestSession)
}

func (c *CoordinatorClient) optionalCall(ctx context.Context, method string) error {
	if !c.conn.Has(method) {
		return ErrCapabilityUnavailable
	}
	return c.conn.Call(ctx, method, nil, nil)
}

func (c *CoordinatorClient) handleEvent(frame Frame) {
	event := coordinator.Event{}
	switch frame.Event {
	case EventConnectedToGC:
		event.Kind = coordinator.EventConnected
	case EventConnectionStatus:
		var payload statusPayload
		if err := decodePayload(frame, &payload); err != nil {
			c.logger.Warn("dropping malformed coordinator event", "event", frame.Event, "error", err)
			return
		}
		event.Kind = coordinator.EventConnectionStatus
		event.Status = payload.Status
	case EventError:
		var payload errorPayload
		if err := decodePayload(frame, &payload); err != nil {
			c.logger.Warn("dropping malformed coordinator event", "event", frame.Event, "error", err)
			return
		}
		event.Kind = coordinator.EventError
		event.Err = &RemoteError{Code: payload.Code, Message: payload.Message}
	case EventDisconnectedFromGC:
		var payload reasonPayload
		if err := decodePayload(frame, &payload); err != nil {
			c.logger.Warn("dropping malformed coordinator event", "event", frame.Event, "error", err)
			return
		}
		event.Kind = coordinator.EventDisconnected
		event.Reason = payload.Reason
	case EventPlayersProfile:
		var payload profilePayload
		if err := decodePayload(frame, &payload); err != nil {
			c.logger.Warn("dropping malformed coordinator event", "event", frame.Event, "error", err)
			return
		}
		event.Kind = coordinator.EventProfile
		event.Identifier = payload.Identifier
		event.Profile = payload.Profile
	default:
		c.logger.Debug("ignoring coordinator event", "event", frame.Event)
		return
	}
	c.hub.Publish(event)
}

func (c *CoordinatorClient) connectionLost(err error) {
	reason := "sidecar connection closed"
	if err != nil && err != ErrClosed {
		reason = err.Error()
	}
	c.hub.Publish(coordinator.Event{Kind: coordinator.EventDisconnected, Reason: reason})
}
