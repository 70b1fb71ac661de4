// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/gcbridge/lib/clock"
	"github.com/bureau-foundation/gcbridge/lib/eventhub"
	"github.com/bureau-foundation/gcbridge/lib/failure"
)

// ErrStopped is returned by WaitForReady when the manager stops while
// waiting.
var ErrStopped = errors.New("coordinator manager stopped")

// Config configures a Manager.
type Config struct {
	// Client is the protocol collaborator. Required.
	Client Client

	// Clock defaults to the real clock.
	Clock clock.Clock

	// Logger is required.
	Logger *slog.Logger
}

// Manager owns the coordinator ReadinessState.
type Manager struct {
	client      Client
	clock       clock.Clock
	logger      *slog.Logger
	transitions *eventhub.Hub[Transition]

	ready atomic.Bool

	mu           sync.Mutex
	state        ReadinessState
	subscription *eventhub.Subscription[Event]
	loopDone     chan struct{}
	stopped      bool
}

// NewManager validates config. The initial state is NoSession.
func NewManager(config Config) (*Manager, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("coordinator: Client is required")
	}
	if config.Logger == nil {
		return nil, fmt.Errorf("coordinator: Logger is required")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	return &Manager{
		client:      config.Client,
		clock:       config.Clock,
		logger:      config.Logger.With("component", "coordinator"),
		transitions: eventhub.New[Transition](),
	}, nil
}

// Start subscribes to client events and starts the event loop.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscription != nil || m.stopped {
		return
	}
	m.subscription = m.client.Subscribe()
	m.loopDone = make(chan struct{})
	go m.run(m.subscription, m.loopDone)
}

// Stop ends the event loop. Pending WaitForReady calls return
// ErrStopped.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	subscription, loopDone := m.subscription, m.loopDone
	m.mu.Unlock()

	if subscription != nil {
		subscription.Close()
		<-loopDone
	}
	m.transitions.Close()
}

// State returns the current readiness state.
func (m *Manager) State() ReadinessState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsReady reports whether the state is Connected.
func (m *Manager) IsReady() bool {
	return m.ready.Load()
}

// Transitions subscribes to state changes. The caller closes the
// subscription.
func (m *Manager) Transitions() *eventhub.Subscription[Transition] {
	return m.transitions.Subscribe(nil, 0)
}

// AttemptConnection asks the client to (re)establish the coordinator
// session through whichever optional capabilities it implements.
// Failures are logged; the outcome is observed through events.
func (m *Manager) AttemptConnection(ctx context.Context) {
	attempted := false
	if connector, ok := m.client.(Connector); ok {
		attempted = true
		m.logCapability("connect", connector.Connect(ctx))
	}
	if launcher, ok := m.client.(Launcher); ok {
		attempted = true
		m.logCapability("launch", launcher.Launch(ctx))
	}
	if requester, ok := m.client.(SessionRequester); ok {
		attempted = true
		m.logCapability("request_session", requester.RequestSession(ctx))
	}
	if !attempted {
		m.logger.Debug("client has no connection capabilities; waiting for events")
	}
}

func (m *Manager) logCapability(name string, err error) {
	if err != nil {
		m.logger.Info("coordinator connection step failed", "step", name, "error", err)
		return
	}
	m.logger.Debug("coordinator connection step sent", "step", name)
}

// WaitForReady returns nil once the state is Connected. It fails with
// failure.KindConnectionTimeout when timeout elapses first.
func (m *Manager) WaitForReady(ctx context.Context, timeout time.Duration) error {
	if m.IsReady() {
		return nil
	}

	subscription := m.transitions.Subscribe(func(transition Transition) bool {
		return transition.To == Connected
	}, 1)
	defer subscription.Close()

	// The state may have changed between the first check and
	// Subscribe.
	if m.IsReady() {
		return nil
	}

	expired := make(chan struct{})
	timer := m.clock.AfterFunc(timeout, func() { close(expired) })
	defer timer.Stop()

	select {
	case _, ok := <-subscription.C:
		if !ok {
			return ErrStopped
		}
		return nil
	case <-expired:
		return failure.ConnectionTimeout("coordinator not ready after %s (state %s)", timeout, m.State())
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) run(subscription *eventhub.Subscription[Event], done chan struct{}) {
	defer close(done)
	for event := range subscription.C {
		m.handle(event)
	}
}

func (m *Manager) handle(event Event) {
	switch event.Kind {
	case EventConnected:
		m.setState(Connected, "connected")
	case EventConnectionStatus:
		state, ok := StateForStatus(event.Status)
		if !ok {
			m.logger.Debug("connection status reports a session", "status", event.Status)
			return
		}
		m.setState(state, fmt.Sprintf("status %d", event.Status))
	case EventError:
		m.logger.Warn("coordinator error", "error", event.Err)
		m.setState(NoSessionButUser, "error")
	case EventDisconnected:
		m.setState(NoSession, "disconnected: "+event.Reason)
	case EventProfile:
		// Profile responses belong to the correlator.
	default:
		m.logger.Debug("ignoring coordinator event", "kind", event.Kind.String())
	}
}

func (m *Manager) setState(to ReadinessState, reason string) {
	m.mu.Lock()
	from := m.state
	if from == to {
		m.mu.Unlock()
		return
	}
	m.state = to
	m.ready.Store(to == Connected)
	transition := Transition{From: from, To: to, At: m.clock.Now()}
	m.transitions.Publish(transition)
	m.mu.Unlock()

	level := slog.LevelInfo
	if from == Connected {
		level = slog.LevelWarn
	}
	m.logger.Log(context.Background(), level, "coordinator state changed",
		"from", from.String(), "to", to.String(), "reason", reason)
}
