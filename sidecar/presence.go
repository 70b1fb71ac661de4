// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sidecar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/bureau-foundation/gcbridge/credential"
	"github.com/bureau-foundation/gcbridge/lib/codec"
	"github.com/bureau-foundation/gcbridge/lib/eventhub"
	"github.com/bureau-foundation/gcbridge/presence"
)

// Presence methods.
const (
	MethodLogOn           = "presence.logOn"
	MethodLogOff          = "presence.logOff"
	MethodSetPersona      = "presence.setPersona"
	MethodGamesPlayed     = "presence.gamesPlayed"
	MethodAnswerGuardCode = "presence.answerGuardCode"
	MethodExtractArtifact = "presence.extractArtifact"
)

// Presence event names.
const (
	EventLoggedOn         = "loggedOn"
	EventMachineAuthToken = "machineAuthToken"
	EventSentry           = "sentry"
	EventError            = "error"
	EventDisconnected     = "disconnected"
)

// Presence error codes meaning the service refused the credential
// itself. Other codes leave a stored session key in place.
const (
	CodeInvalidPassword = "invalid_password"
	CodeAccessDenied    = "access_denied"
	CodeExpired         = "expired"
)

var credentialRejectionCodes = []string{CodeInvalidPassword, CodeAccessDenied, CodeExpired}

// Event payloads.
type (
	tokenPayload struct {
		Token string `cbor:"token"`
	}
	dataPayload struct {
		Data []byte `cbor:"data"`
	}
	guardPayload struct {
		PromptID      string `cbor:"prompt_id"`
		Domain        string `cbor:"domain"`
		LastCodeWrong bool   `cbor:"last_code_wrong"`
	}
	errorPayload struct {
		Code    string `cbor:"code"`
		Message string `cbor:"message"`
	}
	reasonPayload struct {
		Reason string `cbor:"reason"`
	}
)

type guardAnswer struct {
	PromptID string `cbor:"prompt_id"`
	Code     string `cbor:"code"`
}

type extractRequest struct {
	Type string `cbor:"type"`
}

type extractResult struct {
	Token string `cbor:"token,omitempty"`
	Data  []byte `cbor:"data,omitempty"`
}

// PresenceClient adapts the sidecar to presence.Client and
// presence.ArtifactExtractor.
type PresenceClient struct {
	conn   *Conn
	hub    *eventhub.Hub[presence.Event]
	logger *slog.Logger
}

var (
	_ presence.Client            = (*PresenceClient)(nil)
	_ presence.ArtifactExtractor = (*PresenceClient)(nil)
)

// NewPresenceClient registers for presence events on conn.
func NewPresenceClient(conn *Conn) *PresenceClient {
	client := &PresenceClient{
		conn:   conn,
		hub:    eventhub.New[presence.Event](),
		logger: conn.logger.With("scope", ScopePresence),
	}
	conn.handle(ScopePresence, client)
	return client
}

func (p *PresenceClient) LogOn(ctx context.Context, options presence.LogOnOptions) error {
	return presenceError(p.conn.Call(ctx, MethodLogOn, options, nil))
}

func (p *PresenceClient) LogOff(ctx context.Context) error {
	return p.conn.Call(ctx, MethodLogOff, nil, nil)
}

func (p *PresenceClient) SetPersona(ctx context.Context, state presence.PersonaState) error {
	return p.conn.Call(ctx, MethodSetPersona, map[string]int{"state": int(state)}, nil)
}

func (p *PresenceClient) GamesPlayed(ctx context.Context, appIDs []uint32) error {
	return p.conn.Call(ctx, MethodGamesPlayed, map[string][]uint32{"app_ids": appIDs}, nil)
}

func (p *PresenceClient) Subscribe() *eventhub.Subscription[presence.Event] {
	return p.hub.Subscribe(nil, 0)
}

// ExtractArtifact asks the sidecar to read an artifact from the
// protocol library's internal state.
func (p *PresenceClient) ExtractArtifact(ctx context.Context, artifactType credential.Type) (credential.Artifact, error) {
	if !p.conn.Has(MethodExtractArtifact) {
		return credential.Artifact{}, ErrCapabilityUnavailable
	}
	var result extractResult
	err := p.conn.Call(ctx, MethodExtractArtifact, extractRequest{Type: artifactType.String()}, &result)
	if IsRemoteError(err, CodeNotFound) {
		return credential.Artifact{}, credential.ErrNotFound
	}
	if err != nil {
		return credential.Artifact{}, err
	}

	switch artifactType {
	case credential.TypeSessionKey, credential.TypeRefreshToken:
		if result.Token == "" {
			return credential.Artifact{}, credential.ErrNotFound
		}
		return credential.NewToken(result.Token), nil
	case credential.TypeMachineAuthToken:
		if result.Token == "" {
			return credential.Artifact{}, credential.ErrNotFound
		}
		return credential.Artifact{Type: credential.TypeMachineAuthToken, Value: result.Token}, nil
	case credential.TypeSentry:
		if len(result.Data) == 0 {
			return credential.Artifact{}, credential.ErrNotFound
		}
		return credential.Artifact{Type: credential.TypeSentry, Data: result.Data}, nil
	default:
		return credential.Artifact{}, fmt.Errorf("sidecar: cannot extract artifact type %s", artifactType)
	}
}

func (p *PresenceClient) handleEvent(frame Frame) {
	event, err := p.translate(frame)
	if err != nil {
		p.logger.Warn("dropping malformed presence event", "event", frame.Event, "error", err)
		return
	}
	if event == nil {
		p.logger.Debug("ignoring presence event", "event", frame.Event)
		return
	}
	p.hub.Publish(*event)
}

func (p *PresenceClient) translate(frame Frame) (*presence.Event, error) {
	event := &presence.Event{Name: frame.Event}
	switch {
	case frame.Event == EventLoggedOn:
		event.Kind = presence.EventLoggedOn
	case slices.Contains(presence.SessionKeyEventNames, frame.Event):
		var payload tokenPayload
		if err := decodePayload(frame, &payload); err != nil {
			return nil, err
		}
		event.Kind = presence.EventSessionKey
		event.Token = payload.Token
	case frame.Event == EventMachineAuthToken:
		var payload dataPayload
		if err := decodePayload(frame, &payload); err != nil {
			return nil, err
		}
		event.Kind = presence.EventMachineAuth
		event.Payload = payload.Data
	case frame.Event == EventSentry:
		var payload dataPayload
		if err := decodePayload(frame, &payload); err != nil {
			return nil, err
		}
		event.Kind = presence.EventSentry
		event.Payload = payload.Data
	case slices.Contains(presence.GuardCodeEventNames, frame.Event):
		var payload guardPayload
		if err := decodePayload(frame, &payload); err != nil {
			return nil, err
		}
		event.Kind = presence.EventGuardCode
		event.Guard = presence.NewGuardPrompt(payload.Domain, payload.LastCodeWrong, func(ctx context.Context, code string) error {
			return p.conn.Call(ctx, MethodAnswerGuardCode, guardAnswer{PromptID: payload.PromptID, Code: code}, nil)
		})
	case frame.Event == EventError:
		var payload errorPayload
		if err := decodePayload(frame, &payload); err != nil {
			return nil, err
		}
		event.Kind = presence.EventError
		event.Err = presenceError(&RemoteError{Code: payload.Code, Message: payload.Message})
	case frame.Event == EventDisconnected:
		var payload reasonPayload
		if err := decodePayload(frame, &payload); err != nil {
			return nil, err
		}
		event.Kind = presence.EventDisconnected
		event.Reason = payload.Reason
	default:
		return nil, nil
	}
	return event, nil
}

func (p *PresenceClient) connectionLost(err error) {
	reason := "sidecar connection closed"
	if err != nil && err != ErrClosed {
		reason = err.Error()
	}
	p.hub.Publish(presence.Event{Kind: presence.EventDisconnected, Name: "connectionLost", Reason: reason})
}

// presenceError marks a remote credential rejection with
// presence.ErrCredentialRejected. Other errors pass through.
func presenceError(err error) error {
	var remoteErr *RemoteError
	if errors.As(err, &remoteErr) && slices.Contains(credentialRejectionCodes, remoteErr.Code) {
		return fmt.Errorf("%w: %w", presence.ErrCredentialRejected, err)
	}
	return err
}

// decodePayload decodes an event body. An absent body decodes as the
// zero value.
func decodePayload(frame Frame, into any) error {
	if len(frame.Payload) == 0 {
		return nil
	}
	if err := codec.Unmarshal(frame.Payload, into); err != nil {
		return fmt.Errorf("decoding %s payload: %w", frame.Event, err)
	}
	return nil
}
