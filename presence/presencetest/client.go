// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package presencetest provides an in-memory presence.Client for
// tests. Events are injected with Emit and the helpers around it;
// every call the code under test makes is recorded.
package presencetest

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/bureau-foundation/gcbridge/credential"
	"github.com/bureau-foundation/gcbridge/lib/eventhub"
	"github.com/bureau-foundation/gcbridge/presence"
)

// Client is a scriptable presence.Client and presence.ArtifactExtractor.
type Client struct {
	hub *eventhub.Hub[presence.Event]

	mu          sync.Mutex
	logOns      []presence.LogOnOptions
	logOffs     int
	personas    []presence.PersonaState
	games       [][]uint32
	guardCodes  []string
	onLogOn     func(presence.LogOnOptions)
	onGuardCode func(code string)
	onExtract   func(ctx context.Context, artifactType credential.Type)
	logOnErr    error
	artifacts   map[credential.Type]credential.Artifact
	extractErr  error
}

// NewClient returns a client with no scripted behavior.
func NewClient() *Client {
	return &Client{
		hub:       eventhub.New[presence.Event](),
		artifacts: make(map[credential.Type]credential.Artifact),
	}
}

var (
	_ presence.Client            = (*Client)(nil)
	_ presence.ArtifactExtractor = (*Client)(nil)
)

// OnLogOn sets a hook run synchronously inside LogOn, after the call
// is recorded. Hooks typically Emit the outcome.
func (c *Client) OnLogOn(hook func(presence.LogOnOptions)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLogOn = hook
}

// OnGuardCode sets a hook run when a prompt built by GuardPrompt is
// answered.
func (c *Client) OnGuardCode(hook func(code string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onGuardCode = hook
}

// OnExtract sets a hook run at the start of every ExtractArtifact,
// outside the client's lock. A hook that blocks holds the extraction.
func (c *Client) OnExtract(hook func(ctx context.Context, artifactType credential.Type)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onExtract = hook
}

// FailLogOn makes every LogOn return err. Nil clears it.
func (c *Client) FailLogOn(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logOnErr = err
}

// SetArtifact makes ExtractArtifact return artifact for its type.
func (c *Client) SetArtifact(artifact credential.Artifact) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.artifacts[artifact.Type] = artifact
}

// FailExtraction makes every ExtractArtifact return err.
func (c *Client) FailExtraction(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.extractErr = err
}

func (c *Client) LogOn(ctx context.Context, options presence.LogOnOptions) error {
	c.mu.Lock()
	c.logOns = append(c.logOns, options)
	hook, err := c.onLogOn, c.logOnErr
	c.mu.Unlock()

	if err != nil {
		return err
	}
	if hook != nil {
		hook(options)
	}
	return nil
}

func (c *Client) LogOff(ctx context.Context) error {
	c.mu.Lock()
	c.logOffs++
	c.mu.Unlock()
	c.Emit(presence.Event{Kind: presence.EventDisconnected, Reason: "logged off"})
	return nil
}

func (c *Client) SetPersona(ctx context.Context, state presence.PersonaState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.personas = append(c.personas, state)
	return nil
}

func (c *Client) GamesPlayed(ctx context.Context, appIDs []uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.games = append(c.games, slices.Clone(appIDs))
	return nil
}

func (c *Client) Subscribe() *eventhub.Subscription[presence.Event] {
	return c.hub.Subscribe(nil, 0)
}

func (c *Client) ExtractArtifact(ctx context.Context, artifactType credential.Type) (credential.Artifact, error) {
	c.mu.Lock()
	hook := c.onExtract
	c.mu.Unlock()
	if hook != nil {
		hook(ctx, artifactType)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.extractErr != nil {
		return credential.Artifact{}, c.extractErr
	}
	artifact, ok := c.artifacts[artifactType]
	if !ok {
		return credential.Artifact{}, credential.ErrNotFound
	}
	return artifact, nil
}

// Emit publishes an event to every subscriber.
func (c *Client) Emit(event presence.Event) {
	c.hub.Publish(event)
}

// EmitLoggedOn reports a successful login.
func (c *Client) EmitLoggedOn() {
	c.Emit(presence.Event{Kind: presence.EventLoggedOn, Name: "loggedOn"})
}

// EmitError reports a session error.
func (c *Client) EmitError(err error) {
	c.Emit(presence.Event{Kind: presence.EventError, Name: "error", Err: err})
}

// EmitRejected reports that the service refused the credential.
func (c *Client) EmitRejected(reason string) {
	c.EmitError(fmt.Errorf("%w: %s", presence.ErrCredentialRejected, reason))
}

// EmitDisconnected reports a dropped connection.
func (c *Client) EmitDisconnected(reason string) {
	c.Emit(presence.Event{Kind: presence.EventDisconnected, Name: "disconnected", Reason: reason})
}

// EmitSessionKey reports a fresh session key under the given event
// name.
func (c *Client) EmitSessionKey(name, token string) {
	c.Emit(presence.Event{Kind: presence.EventSessionKey, Name: name, Token: token})
}

// EmitGuardCode asks for a one-time code.
func (c *Client) EmitGuardCode(domain string, lastCodeWrong bool) {
	c.Emit(presence.Event{Kind: presence.EventGuardCode, Name: "steamGuardCode", Guard: c.GuardPrompt(domain, lastCodeWrong)})
}

// GuardPrompt builds a prompt whose answers are recorded and passed to
// the OnGuardCode hook.
func (c *Client) GuardPrompt(domain string, lastCodeWrong bool) *presence.GuardPrompt {
	return presence.NewGuardPrompt(domain, lastCodeWrong, func(ctx context.Context, code string) error {
		c.mu.Lock()
		c.guardCodes = append(c.guardCodes, code)
		hook := c.onGuardCode
		c.mu.Unlock()
		if hook != nil {
			hook(code)
		}
		return nil
	})
}

// LogOns returns the recorded LogOn options.
func (c *Client) LogOns() []presence.LogOnOptions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.logOns)
}

// LogOffs returns the number of LogOff calls.
func (c *Client) LogOffs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logOffs
}

// Personas returns the recorded SetPersona states.
func (c *Client) Personas() []presence.PersonaState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.personas)
}

// Games returns the recorded GamesPlayed calls.
func (c *Client) Games() [][]uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.games)
}

// GuardCodes returns the answered one-time codes.
func (c *Client) GuardCodes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.guardCodes)
}

// Close closes every subscription.
func (c *Client) Close() {
	c.hub.Close()
}
