// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package presence

import (
	"errors"
	"fmt"
	"time"
)

// SessionState is the presence session state.
type SessionState int

const (
	LoggedOut SessionState = iota
	LoggingIn
	LoggedIn
	Disconnected
)

func (s SessionState) String() string {
	switch s {
	case LoggedOut:
		return "logged_out"
	case LoggingIn:
		return "logging_in"
	case LoggedIn:
		return "logged_in"
	case Disconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Method is the login method an attempt used.
type Method int

const (
	MethodNone Method = iota
	MethodStoredKey
	MethodPassword
)

func (m Method) String() string {
	switch m {
	case MethodStoredKey:
		return "stored_key"
	case MethodPassword:
		return "password"
	default:
		return "none"
	}
}

// Transition is one state change, published in order.
type Transition struct {
	From SessionState
	To   SessionState
	At   time.Time

	// Err is set when the change was caused by an error or disconnect.
	Err error
}

var (
	// ErrGuardCodeRequired means the login is waiting for a one-time
	// code that must be entered by hand (SubmitGuardCode).
	ErrGuardCodeRequired = errors.New("one-time code required")

	// ErrStoredKeyRejected means the service refused the stored session
	// key or refresh token. The key has been deleted.
	ErrStoredKeyRejected = errors.New("stored session key rejected")

	// ErrNoCredentials means there is neither a usable stored key nor a
	// password.
	ErrNoCredentials = errors.New("no usable stored session key and no password")

	// ErrLoginInProgress means another login attempt is still open.
	ErrLoginInProgress = errors.New("login already in progress")

	// ErrNotStarted means Start was not called.
	ErrNotStarted = errors.New("presence manager not started")

	// ErrCredentialRejected marks a LogOn error or error event in which
	// the service refused the credential itself (wrong password, revoked
	// or expired key). Clients wrap it around their own error.
	ErrCredentialRejected = errors.New("credential rejected")
)

// IsCredentialRejection reports whether err is the service refusing
// the credential, as opposed to a transport failure or a transient
// service error. Only a rejection invalidates a stored key.
func IsCredentialRejection(err error) bool {
	return errors.Is(err, ErrCredentialRejected)
}
