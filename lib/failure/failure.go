// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package failure

import (
	"errors"
	"fmt"
)

// Kind classifies an error for programmatic handling.
type Kind string

const (
	// KindInvalidInput indicates malformed caller input, rejected
	// before any I/O. Retrying with the same input will not help.
	KindInvalidInput Kind = "invalid_input"

	// KindAuth indicates bad credentials or an expired artifact.
	KindAuth Kind = "auth"

	// KindNotReady indicates the coordinator is not connected. The
	// caller should retry later.
	KindNotReady Kind = "not_ready"

	// KindRequestTimeout indicates no response arrived within the
	// request bound. It does not imply the connection was lost.
	KindRequestTimeout Kind = "request_timeout"

	// KindConnectionTimeout indicates a readiness wait expired.
	KindConnectionTimeout Kind = "connection_timeout"

	// KindPersistence indicates a credential read or write failed.
	KindPersistence Kind = "persistence"

	// KindFatalDisconnect indicates the disconnect threshold was
	// reached. The process must exit.
	KindFatalDisconnect Kind = "fatal_disconnect"

	// KindInternal covers everything unclassified.
	KindInternal Kind = "internal"
)

// Error is a classified error. Error() returns the inner message
// unchanged; errors.Is and errors.As see through it via Unwrap.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

// Wrap classifies err. A nil err returns nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Newf builds a classified error from a format string. %w verbs are
// honored.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// InvalidInput creates a KindInvalidInput error.
func InvalidInput(format string, args ...any) *Error {
	return Newf(KindInvalidInput, format, args...)
}

// Auth creates a KindAuth error.
func Auth(format string, args ...any) *Error {
	return Newf(KindAuth, format, args...)
}

// NotReady creates a KindNotReady error.
func NotReady(format string, args ...any) *Error {
	return Newf(KindNotReady, format, args...)
}

// RequestTimeout creates a KindRequestTimeout error.
func RequestTimeout(format string, args ...any) *Error {
	return Newf(KindRequestTimeout, format, args...)
}

// ConnectionTimeout creates a KindConnectionTimeout error.
func ConnectionTimeout(format string, args ...any) *Error {
	return Newf(KindConnectionTimeout, format, args...)
}

// Persistence creates a KindPersistence error.
func Persistence(format string, args ...any) *Error {
	return Newf(KindPersistence, format, args...)
}

// FatalDisconnect creates a KindFatalDisconnect error.
func FatalDisconnect(format string, args ...any) *Error {
	return Newf(KindFatalDisconnect, format, args...)
}

// Internal creates a KindInternal error.
func Internal(format string, args ...any) *Error {
	return Newf(KindInternal, format, args...)
}

// KindOf returns the kind of the outermost *Error in err's chain, or
// KindInternal when there is none. A nil error has no kind and
// returns "".
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return KindInternal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
