// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package presence

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bureau-foundation/gcbridge/credential"
	"github.com/bureau-foundation/gcbridge/lib/clock"
	"github.com/bureau-foundation/gcbridge/lib/eventhub"
	"github.com/bureau-foundation/gcbridge/lib/failure"
	"github.com/bureau-foundation/gcbridge/lib/secret"
	"github.com/bureau-foundation/gcbridge/lib/totp"
)

// CredentialStore is the subset of credential.Store the manager uses.
type CredentialStore interface {
	Load(kind credential.Kind) (credential.Artifact, error)
	Save(kind credential.Kind, artifact credential.Artifact) error
	Delete(kind credential.Kind) error
}

// Defaults for zero Config fields.
const (
	DefaultDisconnectThreshold = 5
	DefaultExtractionTimeout   = 5 * time.Second

	// maxGuardAnswers bounds automatic answers per login attempt.
	maxGuardAnswers = 2
)

// Config configures a Manager.
type Config struct {
	// Client is the protocol collaborator. Required.
	Client Client

	// Store persists credential artifacts. Required.
	Store CredentialStore

	// Account is the login name. Required.
	Account string

	// DisconnectThreshold is the number of consecutive errors or
	// disconnects that triggers OnFatal. Default 5.
	DisconnectThreshold int

	// LogOnMinInterval spaces LogOn calls. Zero disables pacing.
	LogOnMinInterval time.Duration

	// AutoRelogin and RetryDelay are passed to the client with every
	// LogOn.
	AutoRelogin bool
	RetryDelay  time.Duration

	// ExtractionTimeout bounds the post-login artifact scan. Default 5s.
	ExtractionTimeout time.Duration

	// OnFatal is called once, from the event loop, when the disconnect
	// threshold is reached. The error is failure.KindFatalDisconnect.
	OnFatal func(error)

	// WatchdogPath, when set, receives a watchdog record before OnFatal
	// is called.
	WatchdogPath string

	// GuardPromptHandler is called on its own goroutine when a prompt
	// needs a manually entered code.
	GuardPromptHandler func(GuardPromptInfo)

	// Clock defaults to the real clock.
	Clock clock.Clock

	// Logger is required.
	Logger *slog.Logger
}

// LoginRequest carries the secrets for one login. Both are optional
// and borrowed: the manager copies what it needs before returning.
type LoginRequest struct {
	Password *secret.Buffer
	TOTPSeed *secret.Buffer
}

// Manager drives the presence session. Create with NewManager, then
// Start before the first Login.
type Manager struct {
	client      Client
	store       CredentialStore
	account     string
	threshold   int
	autoRelogin bool
	retryDelay  time.Duration
	extraction  time.Duration
	onFatal     func(error)
	watchdog    string
	onPrompt    func(GuardPromptInfo)
	clock       clock.Clock
	logger      *slog.Logger
	limiter     *rate.Limiter
	transitions *eventhub.Hub[Transition]

	mu          sync.Mutex
	state       SessionState
	disconnects int
	attempt     *attempt
	prompt      *GuardPrompt
	promptInfo  GuardPromptInfo
	fatal       bool
	lastMethod  Method

	// pendingLogoffs counts LogOff calls whose disconnect event has
	// not arrived yet. Login does not reset it.
	pendingLogoffs int

	subscription *eventhub.Subscription[Event]
	loopDone     chan struct{}
	background   context.Context
	cancel       context.CancelFunc
	workers      sync.WaitGroup
	stopOnce     sync.Once
}

// attempt is one open login. Its fields other than done are guarded
// by Manager.mu.
type attempt struct {
	method       Method
	seed         *secret.Buffer
	guardAnswers int
	guardPending chan struct{}
	guardSignal  sync.Once
	done         chan struct{}
	err          error
}

// NewManager validates config.
func NewManager(config Config) (*Manager, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("presence: Client is required")
	}
	if config.Store == nil {
		return nil, fmt.Errorf("presence: Store is required")
	}
	if config.Account == "" {
		return nil, fmt.Errorf("presence: Account is required")
	}
	if config.Logger == nil {
		return nil, fmt.Errorf("presence: Logger is required")
	}
	if config.DisconnectThreshold <= 0 {
		config.DisconnectThreshold = DefaultDisconnectThreshold
	}
	if config.ExtractionTimeout <= 0 {
		config.ExtractionTimeout = DefaultExtractionTimeout
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.OnFatal == nil {
		config.OnFatal = func(error) {}
	}

	limit := rate.Inf
	if config.LogOnMinInterval > 0 {
		limit = rate.Every(config.LogOnMinInterval)
	}

	return &Manager{
		client:      config.Client,
		store:       config.Store,
		account:     config.Account,
		threshold:   config.DisconnectThreshold,
		autoRelogin: config.AutoRelogin,
		retryDelay:  config.RetryDelay,
		extraction:  config.ExtractionTimeout,
		onFatal:     config.OnFatal,
		watchdog:    config.WatchdogPath,
		onPrompt:    config.GuardPromptHandler,
		clock:       config.Clock,
		logger:      config.Logger.With("component", "presence", "account", config.Account),
		limiter:     rate.NewLimiter(limit, 1),
		transitions: eventhub.New[Transition](),
	}, nil
}

// Start subscribes to client events and starts the event loop. It
// must be called once, before Login.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscription != nil {
		return
	}
	m.subscription = m.client.Subscribe()
	m.loopDone = make(chan struct{})
	m.background, m.cancel = context.WithCancel(context.Background())
	go m.run(m.subscription, m.loopDone)
}

// Stop ends the event loop and closes every Transitions subscription.
// An open login attempt fails. It does not log off.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		subscription, loopDone, cancel := m.subscription, m.loopDone, m.cancel
		m.mu.Unlock()
		if subscription != nil {
			subscription.Close()
			<-loopDone
			cancel()
			m.workers.Wait()
		}

		m.mu.Lock()
		m.finishAttemptLocked(errors.New("presence manager stopped"))
		m.mu.Unlock()
		m.transitions.Close()
	})
}

// State returns the current session state.
func (m *Manager) State() SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// DisconnectCount returns the consecutive error/disconnect count.
func (m *Manager) DisconnectCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnects
}

// LastMethod returns the method of the most recent successful login.
func (m *Manager) LastMethod() Method {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastMethod
}

// PendingGuardPrompt describes the prompt awaiting SubmitGuardCode.
func (m *Manager) PendingGuardPrompt() (GuardPromptInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.promptInfo, m.prompt != nil
}

// Transitions subscribes to state changes. The caller closes the
// subscription.
func (m *Manager) Transitions() *eventhub.Subscription[Transition] {
	return m.transitions.Subscribe(nil, 0)
}

// Login authenticates, choosing the method as described in the
// package documentation. It returns when the attempt succeeds, fails,
// needs a manual one-time code (ErrGuardCodeRequired), or ctx ends.
// When ctx ends first the attempt stays open; WaitLoggedIn observes
// its outcome.
func (m *Manager) Login(ctx context.Context, request LoginRequest) (Method, error) {
	stored, haveStored := m.usableStoredKey()
	switch {
	case haveStored:
		return m.login(ctx, MethodStoredKey, stored, request)
	case request.Password != nil && request.Password.Len() > 0:
		return m.login(ctx, MethodPassword, credential.Artifact{}, request)
	default:
		return MethodNone, failure.Auth("login: %w", ErrNoCredentials)
	}
}

// LoginWithStoredKey logs in with the stored session key or refresh
// token only. Without a usable one it fails with failure.KindAuth.
func (m *Manager) LoginWithStoredKey(ctx context.Context) error {
	stored, ok := m.usableStoredKey()
	if !ok {
		return failure.Auth("login: %w", ErrNoCredentials)
	}
	_, err := m.login(ctx, MethodStoredKey, stored, LoginRequest{})
	return err
}

func (m *Manager) usableStoredKey() (credential.Artifact, bool) {
	artifact, err := m.store.Load(credential.KindSessionKey)
	if err != nil {
		if !errors.Is(err, credential.ErrNotFound) {
			m.logger.Warn("reading stored session key failed", "error", err)
		}
		return credential.Artifact{}, false
	}
	if !artifact.Usable(m.clock.Now()) {
		m.logger.Info("stored session key is not usable, ignoring it", "type", artifact.Type.String())
		return credential.Artifact{}, false
	}
	return artifact, true
}

func (m *Manager) login(ctx context.Context, method Method, stored credential.Artifact, request LoginRequest) (Method, error) {
	current, err := m.beginAttempt(method, request.TOTPSeed)
	if err != nil {
		return method, err
	}

	if err := m.limiter.Wait(ctx); err != nil {
		m.abandonAttempt(current, fmt.Errorf("waiting to log on: %w", err))
		return method, err
	}

	options, err := m.logOnOptions(method, stored, request, current)
	if err != nil {
		m.abandonAttempt(current, err)
		return method, err
	}

	m.logger.Info("logging on", "method", method.String())
	if err := m.client.LogOn(ctx, options); err != nil {
		err = m.attemptFailure(method, fmt.Errorf("log on: %w", err))
		m.abandonAttempt(current, err)
		return method, err
	}

	select {
	case <-current.done:
		return method, current.err
	case <-current.guardPending:
		return method, ErrGuardCodeRequired
	case <-ctx.Done():
		return method, ctx.Err()
	}
}

// beginAttempt registers the attempt and enters LoggingIn. The attempt
// exists before LogOn is called, so no event can race past it.
func (m *Manager) beginAttempt(method Method, seed *secret.Buffer) (*attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.subscription == nil {
		return nil, ErrNotStarted
	}
	if m.attempt != nil {
		return nil, ErrLoginInProgress
	}

	current := &attempt{
		method:       method,
		guardPending: make(chan struct{}),
		done:         make(chan struct{}),
	}
	if method == MethodPassword && seed != nil && seed.Len() > 0 {
		copied, err := secret.NewFromBytes(bytes.Clone(seed.Bytes()))
		if err != nil {
			return nil, fmt.Errorf("copying one-time-code seed: %w", err)
		}
		current.seed = copied
	}
	m.attempt = current
	m.prompt = nil
	m.setStateLocked(LoggingIn, nil)
	return current, nil
}

// abandonAttempt fails an attempt that never reached the client, and
// returns the state to LoggedOut.
func (m *Manager) abandonAttempt(current *attempt, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.attempt != current {
		return
	}
	m.finishAttemptLocked(err)
	if m.state == LoggingIn {
		m.setStateLocked(LoggedOut, err)
	}
}

func (m *Manager) logOnOptions(method Method, stored credential.Artifact, request LoginRequest, current *attempt) (LogOnOptions, error) {
	options := LogOnOptions{
		AccountName: m.account,
		AutoRelogin: m.autoRelogin,
		RetryDelay:  m.retryDelay,
	}

	if method == MethodStoredKey {
		if stored.Type == credential.TypeRefreshToken {
			options.RefreshToken = stored.Value
		} else {
			options.LoginKey = stored.Value
		}
		return options, nil
	}

	options.Password = request.Password.String()
	if machineAuth, err := m.store.Load(credential.KindMachineAuth); err == nil {
		options.MachineAuthToken = machineAuth.Value
	} else if !errors.Is(err, credential.ErrNotFound) {
		m.logger.Warn("reading machine auth token failed", "error", err)
	}
	if sentry, err := m.store.Load(credential.KindSentry); err == nil {
		options.Sentry = sentry.Data
	} else if !errors.Is(err, credential.ErrNotFound) {
		m.logger.Warn("reading sentry failed", "error", err)
	}
	if current.seed != nil {
		code, err := totp.Code(current.seed.Bytes(), m.clock.Now())
		if err != nil {
			return LogOnOptions{}, failure.Auth("computing one-time code: %w", err)
		}
		options.TwoFactorCode = code
	}
	return options, nil
}

// attemptFailure classifies a failed attempt. A stored key the service
// rejected is deleted so the next Login falls through to the password.
// Any other failure leaves the key in place.
func (m *Manager) attemptFailure(method Method, cause error) error {
	if method != MethodStoredKey {
		return failure.Auth("password login failed: %w", cause)
	}
	if !IsCredentialRejection(cause) {
		m.logger.Info("stored-key login failed; keeping the key", "error", cause)
		return failure.Auth("stored-key login failed: %w", cause)
	}
	if err := m.store.Delete(credential.KindSessionKey); err != nil {
		m.logger.Warn("deleting rejected session key failed", "error", err)
	} else {
		m.logger.Info("deleted rejected session key")
	}
	return &failure.Error{Kind: failure.KindAuth, Err: fmt.Errorf("%w: %w", ErrStoredKeyRejected, cause)}
}

// WaitLoggedIn blocks until the session is LoggedIn, the open attempt
// fails, or ctx ends. With no attempt open and not logged in it
// returns failure.KindAuth.
func (m *Manager) WaitLoggedIn(ctx context.Context) error {
	m.mu.Lock()
	if m.state == LoggedIn {
		m.mu.Unlock()
		return nil
	}
	current := m.attempt
	m.mu.Unlock()

	if current == nil {
		return failure.Auth("not logged in and no login in progress")
	}
	select {
	case <-current.done:
		return current.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitGuardCode answers the pending one-time-code prompt.
func (m *Manager) SubmitGuardCode(ctx context.Context, code string) error {
	if code == "" {
		return failure.InvalidInput("one-time code is empty")
	}

	m.mu.Lock()
	prompt := m.prompt
	m.prompt = nil
	m.mu.Unlock()

	if prompt == nil {
		return failure.InvalidInput("no one-time code is pending")
	}
	m.logger.Info("submitting manually entered one-time code")
	if err := prompt.Answer(ctx, code); err != nil {
		return fmt.Errorf("answering one-time code prompt: %w", err)
	}
	return nil
}

// LogOff ends the session. The disconnect that follows is expected and
// does not count toward the threshold.
func (m *Manager) LogOff(ctx context.Context) error {
	m.mu.Lock()
	connected := m.state == LoggedIn || m.state == LoggingIn
	if connected {
		m.pendingLogoffs++
	}
	m.prompt = nil
	m.finishAttemptLocked(errors.New("logged off"))
	m.setStateLocked(LoggedOut, nil)
	m.mu.Unlock()

	if err := m.client.LogOff(ctx); err != nil {
		m.mu.Lock()
		if connected && m.pendingLogoffs > 0 {
			m.pendingLogoffs--
		}
		m.mu.Unlock()
		return fmt.Errorf("log off: %w", err)
	}
	m.logger.Info("logged off")
	return nil
}

// setStateLocked records and publishes a transition. No-op when the
// state is unchanged.
func (m *Manager) setStateLocked(to SessionState, cause error) {
	if m.state == to {
		return
	}
	transition := Transition{From: m.state, To: to, At: m.clock.Now(), Err: cause}
	m.state = to
	m.transitions.Publish(transition)
	m.logger.Debug("session state changed", "from", transition.From.String(), "to", to.String())
}

// finishAttemptLocked resolves the open attempt, if any.
func (m *Manager) finishAttemptLocked(err error) {
	current := m.attempt
	if current == nil {
		return
	}
	m.attempt = nil
	current.err = err
	current.seed.Close()
	close(current.done)
}
