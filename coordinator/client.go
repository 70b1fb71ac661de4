// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/gcbridge/lib/eventhub"
)

// Client is the coordinator protocol collaborator.
type Client interface {
	// RequestPlayersProfile sends a profile request for the 17-digit
	// identifier. The response arrives as an EventProfile.
	RequestPlayersProfile(ctx context.Context, identifier string) error

	// Subscribe returns a subscription to the client's events. The
	// caller closes it.
	Subscribe() *eventhub.Subscription[Event]
}

// Connector is implemented by clients that can open the coordinator
// connection explicitly.
type Connector interface {
	Connect(ctx context.Context) error
}

// Launcher is implemented by clients that can re-announce the running
// game to the coordinator.
type Launcher interface {
	Launch(ctx context.Context) error
}

// SessionRequester is implemented by clients that can ask the
// coordinator to start a session.
type SessionRequester interface {
	RequestSession(ctx context.Context) error
}

// EventKind classifies coordinator events.
type EventKind int

const (
	EventConnected EventKind = iota
	EventConnectionStatus
	EventError
	EventDisconnected
	EventProfile
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connectedToGC"
	case EventConnectionStatus:
		return "connectionStatus"
	case EventError:
		return "error"
	case EventDisconnected:
		return "disconnectedFromGC"
	case EventProfile:
		return "playersProfile"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is one coordinator event. Which fields are set depends on
// Kind.
type Event struct {
	Kind EventKind

	// Status is the reported connection status (EventConnectionStatus).
	Status int

	// Err is the failure (EventError).
	Err error

	// Reason describes a disconnect (EventDisconnected).
	Reason string

	// Identifier and Profile carry a profile response (EventProfile).
	Identifier string
	Profile    *ProfileResponse
}

// ProfileResponse is the coordinator's profile payload. Every field is
// optional on the wire; consumers validate what they need.
type ProfileResponse struct {
	AccountID    *uint32       `cbor:"account_id" json:"account_id"`
	Commendation *Commendation `cbor:"commendation" json:"commendation"`
	Medals       *Medals       `cbor:"medals" json:"medals"`
	PlayerLevel  *int32        `cbor:"player_level" json:"player_level"`
}

// Commendation holds the three commendation counters.
type Commendation struct {
	Friendly *uint32 `cbor:"cmd_friendly" json:"cmd_friendly"`
	Teaching *uint32 `cbor:"cmd_teaching" json:"cmd_teaching"`
	Leader   *uint32 `cbor:"cmd_leader" json:"cmd_leader"`
}

// Medals holds the displayed medal list in service order. Entries are
// untyped: the service has been seen to mix in non-numeric values.
type Medals struct {
	DisplayItems []any `cbor:"display_items_defidx" json:"display_items_defidx"`
}
