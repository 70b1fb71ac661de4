// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/bureau-foundation/gcbridge/credential"
	"github.com/bureau-foundation/gcbridge/lib/eventhub"
)

// Client is the presence protocol collaborator.
type Client interface {
	// LogOn starts a login. The outcome arrives as events.
	LogOn(ctx context.Context, options LogOnOptions) error

	// LogOff ends the session.
	LogOff(ctx context.Context) error

	// SetPersona announces availability.
	SetPersona(ctx context.Context, state PersonaState) error

	// GamesPlayed reports the games being played. The coordinator only
	// answers once its game is reported.
	GamesPlayed(ctx context.Context, appIDs []uint32) error

	// Subscribe returns a subscription to the client's events. The
	// caller closes it.
	Subscribe() *eventhub.Subscription[Event]
}

// ArtifactExtractor is implemented by clients that can recover
// credential artifacts from their internal state when the service did
// not emit them as events. It returns credential.ErrNotFound when the
// artifact is absent.
type ArtifactExtractor interface {
	ExtractArtifact(ctx context.Context, artifactType credential.Type) (credential.Artifact, error)
}

// LogOnOptions are the inputs to one login. Exactly one of Password
// or the token fields is set.
type LogOnOptions struct {
	AccountName string `cbor:"account_name"`

	Password      string `cbor:"password,omitempty"`
	TwoFactorCode string `cbor:"two_factor_code,omitempty"`

	// LoginKey is an opaque session key; RefreshToken a JWT-shaped
	// one.
	LoginKey     string `cbor:"login_key,omitempty"`
	RefreshToken string `cbor:"refresh_token,omitempty"`

	MachineAuthToken string `cbor:"machine_auth_token,omitempty"`
	Sentry           []byte `cbor:"sentry,omitempty"`

	AutoRelogin bool          `cbor:"auto_relogin"`
	RetryDelay  time.Duration `cbor:"retry_delay"`
}

// PersonaState is the announced availability.
type PersonaState int

const (
	PersonaOffline PersonaState = 0
	PersonaOnline  PersonaState = 1
)

// SessionKeyEventNames are the event names different protocol library
// versions use for a fresh session key or refresh token. Clients
// subscribe to all of them and report each as EventSessionKey.
var SessionKeyEventNames = []string{"loginKey", "refreshToken", "sessionKey", "newLoginKey"}

// GuardCodeEventNames are the event names for a one-time-code prompt.
// Clients report each as EventGuardCode.
var GuardCodeEventNames = []string{"steamGuardCode", "steamGuard"}

// EventKind classifies client events.
type EventKind int

const (
	EventLoggedOn EventKind = iota
	EventSessionKey
	EventMachineAuth
	EventSentry
	EventGuardCode
	EventError
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventLoggedOn:
		return "loggedOn"
	case EventSessionKey:
		return "sessionKey"
	case EventMachineAuth:
		return "machineAuthToken"
	case EventSentry:
		return "sentry"
	case EventGuardCode:
		return "steamGuardCode"
	case EventError:
		return "error"
	case EventDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is one client event. Which fields are set depends on Kind.
type Event struct {
	Kind EventKind

	// Name is the raw event name, kept for logging when several names
	// map to one Kind.
	Name string

	// Token is the session key or refresh token (EventSessionKey).
	Token string

	// Payload is the machine auth payload or sentry blob.
	Payload []byte

	// Guard is the pending prompt (EventGuardCode).
	Guard *GuardPrompt

	// Err is the failure (EventError).
	Err error

	// Reason describes a disconnect (EventDisconnected).
	Reason string
}

// GuardPrompt is the service asking for a one-time code. It can be
// answered once per prompt instance.
type GuardPrompt struct {
	// Domain is the e-mail domain the code was sent to. Empty when the
	// code comes from a mobile authenticator.
	Domain string

	// LastCodeWrong is set when the previous answer was rejected.
	LastCodeWrong bool

	answer func(ctx context.Context, code string) error
}

// NewGuardPrompt builds a prompt. answer delivers the code to the
// service.
func NewGuardPrompt(domain string, lastCodeWrong bool, answer func(ctx context.Context, code string) error) *GuardPrompt {
	return &GuardPrompt{Domain: domain, LastCodeWrong: lastCodeWrong, answer: answer}
}

// Answer sends code to the service.
func (p *GuardPrompt) Answer(ctx context.Context, code string) error {
	return p.answer(ctx, code)
}

// GuardPromptInfo describes a prompt awaiting a manually entered code.
type GuardPromptInfo struct {
	Domain        string    `json:"domain,omitempty"`
	LastCodeWrong bool      `json:"last_code_wrong"`
	ReceivedAt    time.Time `json:"received_at"`
}
