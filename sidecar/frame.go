// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sidecar

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/gcbridge/lib/codec"
)

// FrameType discriminates frames.
type FrameType string

const (
	FrameHello  FrameType = "hello"
	FrameCall   FrameType = "call"
	FrameResult FrameType = "result"
	FrameEvent  FrameType = "event"
)

// Event scopes.
const (
	ScopePresence    = "presence"
	ScopeCoordinator = "coordinator"
)

// Frame is one WebSocket message. Which fields are set depends on Type.
type Frame struct {
	Type FrameType `cbor:"type"`

	// Capabilities lists the methods the sidecar implements (hello).
	Capabilities []string `cbor:"capabilities,omitempty"`

	// ID pairs a call with its result.
	ID string `cbor:"id,omitempty"`

	// Method and Params describe a call.
	Method string           `cbor:"method,omitempty"`
	Params codec.RawMessage `cbor:"params,omitempty"`

	// Error is set on a failed result.
	Error *RemoteError `cbor:"error,omitempty"`

	// Payload is the result value or the event body.
	Payload codec.RawMessage `cbor:"payload,omitempty"`

	// Scope and Event name an event.
	Scope string `cbor:"scope,omitempty"`
	Event string `cbor:"event,omitempty"`
}

// ErrCapabilityUnavailable is returned by optional methods the sidecar
// did not advertise in its hello frame.
var ErrCapabilityUnavailable = errors.New("sidecar: capability unavailable")

// RemoteError is a failure reported by the sidecar. Callers can use
// errors.As to inspect it:
//
//	var remoteErr *sidecar.RemoteError
//	if errors.As(err, &remoteErr) && remoteErr.Code == sidecar.CodeNotFound { ... }
type RemoteError struct {
	// Code is a stable machine-readable code (e.g. "not_found").
	Code string `cbor:"code"`
	// Message is the human-readable description.
	Message string `cbor:"message"`
}

func (e *RemoteError) Error() string {
	if e.Code == "" {
		return "sidecar: " + e.Message
	}
	return fmt.Sprintf("sidecar: %s: %s", e.Code, e.Message)
}

// Standard remote error codes.
const (
	CodeNotFound      = "not_found"
	CodeNotLoggedIn   = "not_logged_in"
	CodeInvalidParams = "invalid_params"
	CodeUnknownMethod = "unknown_method"
)

// IsRemoteError reports whether err is a *RemoteError with code.
func IsRemoteError(err error, code string) bool {
	var remoteErr *RemoteError
	if errors.As(err, &remoteErr) {
		return remoteErr.Code == code
	}
	return false
}
