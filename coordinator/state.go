// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"fmt"
	"time"
)

// ReadinessState is the coordinator connection state.
type ReadinessState int

const (
	NoSession ReadinessState = iota
	NoUserSession
	NoSessionButUser
	Queued
	Connected
)

func (s ReadinessState) String() string {
	switch s {
	case NoSession:
		return "no_session"
	case NoUserSession:
		return "no_user_session"
	case NoSessionButUser:
		return "no_session_but_user"
	case Queued:
		return "queued"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Connection status codes reported by the coordinator.
const (
	StatusHaveSession           = 0
	StatusGCGoingDown           = 1
	StatusNoSession             = 2
	StatusNoSessionInLogonQueue = 3
	StatusNoSteam               = 4
	StatusSuspended             = 5
	StatusSteamGoingDown        = 6
)

// StateForStatus maps a connection status code to the state it
// implies. ok is false for StatusHaveSession, which never promotes:
// only the connected event does.
func StateForStatus(status int) (state ReadinessState, ok bool) {
	switch status {
	case StatusHaveSession:
		return 0, false
	case StatusNoSession:
		return NoSession, true
	case StatusNoSessionInLogonQueue:
		return Queued, true
	case StatusNoSteam:
		return NoUserSession, true
	default:
		return NoSessionButUser, true
	}
}

// Transition is one state change.
type Transition struct {
	From ReadinessState
	To   ReadinessState
	At   time.Time
}
