// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package presence

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureau-foundation/gcbridge/credential"
	"github.com/bureau-foundation/gcbridge/lib/eventhub"
	"github.com/bureau-foundation/gcbridge/lib/failure"
	"github.com/bureau-foundation/gcbridge/lib/totp"
	"github.com/bureau-foundation/gcbridge/lib/watchdog"
)

// run is the event loop: the only goroutine that reacts to client
// events.
func (m *Manager) run(subscription *eventhub.Subscription[Event], done chan struct{}) {
	defer close(done)
	for event := range subscription.C {
		m.handle(event)
	}
	if dropped := subscription.Dropped(); dropped > 0 {
		m.logger.Warn("presence events were dropped", "count", dropped)
	}
}

func (m *Manager) handle(event Event) {
	switch event.Kind {
	case EventLoggedOn:
		m.onLoggedOn()
	case EventSessionKey:
		m.persist(credential.KindSessionKey, credential.NewToken(event.Token), event.Name)
	case EventMachineAuth:
		artifact, err := credential.ParseMachineAuth(event.Payload, m.account, m.clock.Now())
		if err != nil {
			m.logger.Warn("ignoring malformed machine auth token", "error", err)
			return
		}
		m.persist(credential.KindMachineAuth, artifact, event.Name)
	case EventSentry:
		m.persist(credential.KindSentry, credential.Artifact{Type: credential.TypeSentry, Data: event.Payload}, event.Name)
	case EventGuardCode:
		m.onGuardPrompt(event.Guard)
	case EventError:
		cause := event.Err
		if cause == nil {
			cause = errors.New("unspecified presence error")
		}
		m.onFailure(cause, true)
	case EventDisconnected:
		reason := event.Reason
		if reason == "" {
			reason = "unspecified"
		}
		m.onFailure(fmt.Errorf("disconnected: %s", reason), false)
	default:
		m.logger.Debug("ignoring presence event", "kind", event.Kind.String(), "name", event.Name)
	}
}

// onLoggedOn enters LoggedIn at once. The open attempt resolves after
// artifact extraction, which runs off the event loop so later events
// are handled while it waits on the client.
func (m *Manager) onLoggedOn() {
	m.mu.Lock()
	m.disconnects = 0
	m.prompt = nil
	m.pendingLogoffs = 0
	current := m.attempt
	method := MethodNone
	if current != nil {
		method = current.method
		m.lastMethod = method
	}
	m.setStateLocked(LoggedIn, nil)
	m.mu.Unlock()

	m.logger.Info("logged on", "method", method.String())

	m.workers.Add(1)
	go func() {
		defer m.workers.Done()
		m.extractArtifacts(m.background)

		m.mu.Lock()
		defer m.mu.Unlock()
		if current != nil && m.attempt == current {
			m.finishAttemptLocked(nil)
		}
	}()
}

// extractArtifacts recovers artifacts the service may not have emitted
// as events. Absence and failure are logged only.
func (m *Manager) extractArtifacts(ctx context.Context) {
	extractor, ok := m.client.(ArtifactExtractor)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, m.extraction)
	defer cancel()

	for _, artifactType := range []credential.Type{credential.TypeSessionKey, credential.TypeMachineAuthToken} {
		artifact, err := extractor.ExtractArtifact(ctx, artifactType)
		switch {
		case errors.Is(err, credential.ErrNotFound):
			m.logger.Debug("no artifact to extract", "type", artifactType.String())
			continue
		case err != nil:
			m.logger.Info("artifact extraction failed", "type", artifactType.String(), "error", err)
			continue
		}
		if !artifact.Usable(m.clock.Now()) {
			m.logger.Debug("extracted artifact is not usable", "type", artifactType.String())
			continue
		}
		m.persist(artifact.Type.Kind(), artifact, "extracted")
	}
}

// persist saves an artifact. Failure degrades to a future extra
// prompt, so it is logged and the session continues.
func (m *Manager) persist(kind credential.Kind, artifact credential.Artifact, source string) {
	if err := m.store.Save(kind, artifact); err != nil {
		m.logger.Warn("credential persistence failed",
			"kind", kind.String(),
			"source", source,
			"error_kind", string(failure.KindOf(err)),
			"error", err)
		return
	}
	m.logger.Info("credential saved", "kind", kind.String(), "type", artifact.Type.String(), "source", source)
}

func (m *Manager) onGuardPrompt(prompt *GuardPrompt) {
	if prompt == nil {
		m.logger.Warn("one-time code prompt without a prompt handle")
		return
	}

	m.mu.Lock()
	current := m.attempt
	if current != nil && current.seed != nil {
		if current.guardAnswers >= maxGuardAnswers {
			err := failure.Auth("one-time code rejected %d times", current.guardAnswers)
			m.finishAttemptLocked(err)
			m.setStateLocked(LoggedOut, err)
			m.mu.Unlock()
			m.logger.Warn("giving up on automatic one-time codes", "answers", maxGuardAnswers)
			return
		}
		current.guardAnswers++
		code, err := totp.Code(current.seed.Bytes(), m.clock.Now())
		m.mu.Unlock()
		if err != nil {
			m.failAttempt(current, failure.Auth("computing one-time code: %w", err))
			return
		}
		m.logger.Info("answering one-time code prompt", "last_code_wrong", prompt.LastCodeWrong)
		m.workers.Add(1)
		go func() {
			defer m.workers.Done()
			if err := prompt.Answer(m.background, code); err != nil {
				m.failAttempt(current, failure.Auth("answering one-time code prompt: %w", err))
			}
		}()
		return
	}

	// No seed: hold the prompt for a manual answer and leave the
	// attempt open.
	info := GuardPromptInfo{Domain: prompt.Domain, LastCodeWrong: prompt.LastCodeWrong, ReceivedAt: m.clock.Now()}
	m.prompt = prompt
	m.promptInfo = info
	if current != nil {
		current.guardSignal.Do(func() { close(current.guardPending) })
	}
	handler := m.onPrompt
	m.mu.Unlock()

	m.logger.Warn("one-time code required; waiting for manual entry", "domain", prompt.Domain)
	if handler != nil {
		go handler(info)
	}
}

func (m *Manager) failAttempt(current *attempt, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.attempt != current {
		return
	}
	m.finishAttemptLocked(err)
	m.setStateLocked(LoggedOut, err)
}

// onFailure handles error and disconnect events: it fails any open
// attempt, downgrades the state, and counts toward the fatal
// threshold.
func (m *Manager) onFailure(cause error, isError bool) {
	m.mu.Lock()
	if !isError && m.pendingLogoffs > 0 {
		// The disconnect LogOff asked for. A login begun since then
		// keeps its attempt and state.
		m.pendingLogoffs--
		if m.attempt == nil {
			m.setStateLocked(LoggedOut, nil)
		}
		m.mu.Unlock()
		m.logger.Debug("disconnect after log off")
		return
	}

	current := m.attempt
	m.prompt = nil
	m.disconnects++
	count := m.disconnects
	m.setStateLocked(Disconnected, cause)
	m.mu.Unlock()

	m.logger.Warn("presence session lost", "error", cause, "disconnects", count, "threshold", m.threshold)

	if current != nil {
		var err error
		if isError {
			err = m.attemptFailure(current.method, cause)
		} else {
			err = fmt.Errorf("login interrupted: %w", cause)
		}
		m.mu.Lock()
		if m.attempt == current {
			m.finishAttemptLocked(err)
		}
		m.mu.Unlock()
	}

	if count >= m.threshold {
		m.escalate(count, cause)
	}
}

// escalate runs the fatal path once.
func (m *Manager) escalate(count int, cause error) {
	m.mu.Lock()
	if m.fatal {
		m.mu.Unlock()
		return
	}
	m.fatal = true
	m.mu.Unlock()

	err := failure.FatalDisconnect("presence session lost %d times in a row: %w", count, cause)
	m.logger.Error("disconnect threshold reached", "disconnects", count, "error", cause)

	if m.watchdog != "" {
		state := watchdog.State{
			Component: "presence",
			Account:   m.account,
			Count:     count,
			Reason:    cause.Error(),
			Timestamp: m.clock.Now(),
		}
		if writeErr := watchdog.Write(m.watchdog, state); writeErr != nil {
			m.logger.Error("writing fatal-disconnect record failed", "error", writeErr)
		}
	}
	m.onFatal(err)
}
