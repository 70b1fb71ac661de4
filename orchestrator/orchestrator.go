// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/gcbridge/coordinator"
	"github.com/bureau-foundation/gcbridge/lib/clock"
	"github.com/bureau-foundation/gcbridge/lib/config"
	"github.com/bureau-foundation/gcbridge/lib/eventhub"
	"github.com/bureau-foundation/gcbridge/lib/failure"
	"github.com/bureau-foundation/gcbridge/presence"
	"github.com/bureau-foundation/gcbridge/profile"
)

var (
	// ErrNotStarted is returned by operations that need Start to have
	// completed.
	ErrNotStarted = errors.New("orchestrator not started")

	// ErrStopped means Stop ended an in-flight Start.
	ErrStopped = errors.New("orchestrator stopped")
)

// Config configures an Orchestrator.
type Config struct {
	// Presence configures the presence manager the orchestrator
	// creates. Presence.Client is required. OnFatal, when set, is
	// called after the error is delivered on Fatal. Clock and Logger
	// default to the orchestrator's.
	Presence presence.Config

	// Coordinator is the coordinator collaborator. Required.
	Coordinator coordinator.Client

	// Credentials are used by Start and Login. Borrowed: the caller
	// closes them after Stop.
	Credentials presence.LoginRequest

	// AppID is reported via GamesPlayed.
	AppID uint32

	// Readiness and Startup carry the timing constants.
	Readiness config.CoordinatorConfig
	Startup   config.StartupConfig

	// Clock defaults to the real clock.
	Clock clock.Clock

	// Logger is required.
	Logger *slog.Logger
}

// Status is a point-in-time snapshot for health reporting.
type Status struct {
	Presence           string                    `json:"presence"`
	Coordinator        string                    `json:"coordinator"`
	Ready              bool                      `json:"ready"`
	DisconnectCount    int                       `json:"disconnect_count"`
	PendingRequests    int                       `json:"pending_requests"`
	PendingGuardPrompt *presence.GuardPromptInfo `json:"pending_guard_prompt,omitempty"`
}

// Orchestrator owns the component lifecycle.
type Orchestrator struct {
	presence          *presence.Manager
	presenceClient    presence.Client
	coordinatorClient coordinator.Client
	credentials       presence.LoginRequest
	appID             uint32
	readiness         config.CoordinatorConfig
	startup           config.StartupConfig
	clock             clock.Clock
	logger            *slog.Logger

	// background bounds recovery and retry work; Stop cancels it.
	background       context.Context
	cancelBackground context.CancelFunc

	fatal     chan error
	fatalOnce sync.Once

	mu          sync.Mutex
	coordinator *coordinator.Manager
	correlator  *profile.Correlator
	retry       *backgroundRetry
	graceTimer  *clock.Timer
	pastGrace   bool
	started     bool
	stopped     bool
	watcher     *eventhub.Subscription[presence.Transition]
	watcherDone chan struct{}
}

// backgroundRetry is one running retry ticker.
type backgroundRetry struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New validates config and creates the presence manager.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Presence.Client == nil {
		return nil, fmt.Errorf("orchestrator: Presence.Client is required")
	}
	if cfg.Coordinator == nil {
		return nil, fmt.Errorf("orchestrator: Coordinator is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("orchestrator: Logger is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Readiness.ReadyAttempts < 1 {
		cfg.Readiness.ReadyAttempts = 1
	}

	background, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		presenceClient:    cfg.Presence.Client,
		coordinatorClient: cfg.Coordinator,
		credentials:       cfg.Credentials,
		appID:             cfg.AppID,
		readiness:         cfg.Readiness,
		startup:           cfg.Startup,
		clock:             cfg.Clock,
		logger:            cfg.Logger.With("component", "orchestrator"),
		background:        background,
		cancelBackground:  cancel,
		fatal:             make(chan error, 1),
	}

	presenceConfig := cfg.Presence
	if presenceConfig.Clock == nil {
		presenceConfig.Clock = cfg.Clock
	}
	if presenceConfig.Logger == nil {
		presenceConfig.Logger = cfg.Logger
	}
	chained := presenceConfig.OnFatal
	presenceConfig.OnFatal = func(err error) {
		o.reportFatal(err)
		if chained != nil {
			chained(err)
		}
	}
	manager, err := presence.NewManager(presenceConfig)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	o.presence = manager
	return o, nil
}

// Fatal delivers the fatal-disconnect error, at most once. The process
// is expected to exit with process.ExitFatalDisconnect.
func (o *Orchestrator) Fatal() <-chan error {
	return o.fatal
}

func (o *Orchestrator) reportFatal(err error) {
	o.fatalOnce.Do(func() {
		o.logger.Error("fatal presence failure", "error", err)
		o.fatal <- err
	})
}

// Start runs the startup sequence. It returns once the readiness
// retry has either succeeded or been handed to the background ticker;
// only an authentication failure, ctx, or Stop fails it. Stop ends an
// in-flight Start with ErrStopped.
func (o *Orchestrator) Start(ctx context.Context) (err error) {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return ErrStopped
	}
	if o.started {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator: Start called twice")
	}
	o.started = true
	o.presence.Start()
	watcher := o.presence.Transitions()
	watcherDone := make(chan struct{})
	o.watcher, o.watcherDone = watcher, watcherDone
	o.mu.Unlock()
	go o.watchPresence(watcher, watcherDone)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopCancel := context.AfterFunc(o.background, cancel)
	defer stopCancel()
	defer func() {
		if err != nil && o.background.Err() != nil && !errors.Is(err, ErrStopped) {
			err = fmt.Errorf("%w: %w", ErrStopped, err)
		}
	}()

	if err := o.authenticate(ctx); err != nil {
		return err
	}
	if err := o.settle(ctx, "post-login", o.startup.PostLoginSettle); err != nil {
		return err
	}

	o.announce(ctx)
	if err := o.settle(ctx, "persona", o.startup.PersonaSettle); err != nil {
		return err
	}

	manager, err := coordinator.NewManager(coordinator.Config{
		Client: o.coordinatorClient,
		Clock:  o.clock,
		Logger: o.logger,
	})
	if err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	manager.Start()
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		manager.Stop()
		return ErrStopped
	}
	o.coordinator = manager
	o.mu.Unlock()
	if err := o.settle(ctx, "coordinator", o.startup.CoordinatorSettle); err != nil {
		return err
	}

	o.reportGame(ctx)
	if err := o.settle(ctx, "game", o.startup.GameSettle); err != nil {
		return err
	}

	manager.AttemptConnection(ctx)

	correlator, err := profile.NewCorrelator(profile.Config{
		Client:    o.coordinatorClient,
		Readiness: manager,
		Timeout:   o.readiness.RequestTimeout,
		Clock:     o.clock,
		Logger:    o.logger,
	})
	if err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	correlator.Start()
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		correlator.Close()
		return ErrStopped
	}
	o.correlator = correlator
	o.mu.Unlock()

	if err := o.awaitReadiness(ctx, manager); err != nil {
		return err
	}

	o.mu.Lock()
	if !o.stopped {
		o.graceTimer = o.clock.AfterFunc(o.startup.GracePeriod, o.endGracePeriod)
	}
	o.mu.Unlock()
	o.logger.Info("startup complete", "ready", manager.IsReady())
	return nil
}

func (o *Orchestrator) authenticate(ctx context.Context) error {
	method, err := o.presence.Login(ctx, o.credentials)
	if errors.Is(err, presence.ErrGuardCodeRequired) {
		o.logger.Warn("waiting for a one-time code", "method", method.String())
		err = o.presence.WaitLoggedIn(ctx)
	}
	if err != nil {
		return fmt.Errorf("orchestrator: login: %w", err)
	}
	o.logger.Info("authenticated", "method", o.presence.LastMethod().String())
	return nil
}

// settle waits a fixed propagation delay between startup steps. It
// fails once ctx has ended, even for a zero delay.
func (o *Orchestrator) settle(ctx context.Context, step string, delay time.Duration) error {
	if delay > 0 {
		o.logger.Debug("settling", "after", step, "delay", delay)
	}
	return clock.SleepContext(ctx, o.clock, delay)
}

func (o *Orchestrator) announce(ctx context.Context) {
	if err := o.presenceClient.SetPersona(ctx, presence.PersonaOnline); err != nil {
		o.logger.Warn("announcing persona failed", "error", err)
	}
}

func (o *Orchestrator) reportGame(ctx context.Context) {
	if err := o.presenceClient.GamesPlayed(ctx, []uint32{o.appID}); err != nil {
		o.logger.Warn("reporting game failed", "app_id", o.appID, "error", err)
	}
}

// awaitReadiness waits for the coordinator up to ReadyAttempts times,
// nudging the connection before each retry, then hands over to the
// background retry.
func (o *Orchestrator) awaitReadiness(ctx context.Context, manager *coordinator.Manager) error {
	attempts := o.readiness.ReadyAttempts
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			manager.AttemptConnection(ctx)
		}
		err := manager.WaitForReady(ctx, o.readiness.ReadyTimeout)
		if err == nil {
			o.logger.Info("coordinator ready", "attempt", attempt)
			return nil
		}
		if !failure.Is(err, failure.KindConnectionTimeout) {
			return fmt.Errorf("orchestrator: waiting for coordinator: %w", err)
		}
		o.logger.Warn("coordinator not ready", "attempt", attempt, "of", attempts, "state", manager.State().String())
		if attempt < attempts {
			if err := clock.SleepContext(ctx, o.clock, o.readiness.ReadyRetryDelay); err != nil {
				return err
			}
		}
	}
	o.startBackgroundRetry()
	return nil
}

// startBackgroundRetry replaces any running retry with a new one. It
// does nothing when the coordinator is already ready.
func (o *Orchestrator) startBackgroundRetry() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopRetryLocked()
	if o.stopped || o.coordinator == nil || o.coordinator.IsReady() {
		return
	}

	manager := o.coordinator
	ctx, cancel := context.WithCancel(o.background)
	retry := &backgroundRetry{cancel: cancel, done: make(chan struct{})}
	ticker := o.clock.NewTicker(o.readiness.BackgroundRetryInterval)
	o.retry = retry
	o.logger.Info("starting background coordinator retry", "interval", o.readiness.BackgroundRetryInterval)

	go func() {
		defer close(retry.done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			if manager.IsReady() {
				o.logger.Info("coordinator ready; stopping background retry")
				o.mu.Lock()
				if o.retry == retry {
					o.retry = nil
				}
				o.mu.Unlock()
				cancel()
				return
			}
			manager.AttemptConnection(ctx)
		}
	}()
}

// stopRetryLocked cancels the running retry without waiting for it.
func (o *Orchestrator) stopRetryLocked() *backgroundRetry {
	retry := o.retry
	if retry != nil {
		retry.cancel()
		o.retry = nil
	}
	return retry
}

func (o *Orchestrator) endGracePeriod() {
	o.mu.Lock()
	o.pastGrace = true
	o.mu.Unlock()
	o.logger.Debug("startup grace period over")
}

// watchPresence reacts to presence transitions until the subscription
// closes.
func (o *Orchestrator) watchPresence(subscription *eventhub.Subscription[presence.Transition], done chan struct{}) {
	defer close(done)
	for transition := range subscription.C {
		switch transition.To {
		case presence.LoggedIn:
			o.mu.Lock()
			shouldRecover := o.pastGrace && !o.stopped
			o.mu.Unlock()
			if shouldRecover {
				o.recoverSession()
			}
		case presence.Disconnected:
			o.mu.Lock()
			if o.stopRetryLocked() != nil {
				o.logger.Info("presence disconnected; background retry cancelled")
			}
			o.mu.Unlock()
		}
	}
}

// recoverSession re-runs the post-login steps after a reconnect.
func (o *Orchestrator) recoverSession() {
	ctx := o.background
	o.logger.Info("presence session re-established; re-announcing")

	o.announce(ctx)
	if err := o.settle(ctx, "persona", o.startup.PersonaSettle); err != nil {
		return
	}
	o.reportGame(ctx)
	if err := o.settle(ctx, "game", o.startup.GameSettle); err != nil {
		return
	}

	o.mu.Lock()
	manager := o.coordinator
	o.mu.Unlock()
	if manager == nil {
		return
	}
	manager.AttemptConnection(ctx)
	o.startBackgroundRetry()
}

// IsReady reports whether profile requests can be served.
func (o *Orchestrator) IsReady() bool {
	o.mu.Lock()
	manager := o.coordinator
	o.mu.Unlock()
	return manager != nil && manager.IsReady()
}

// Fetch returns the profile record for identifier.
func (o *Orchestrator) Fetch(ctx context.Context, identifier string) (profile.Record, error) {
	o.mu.Lock()
	correlator := o.correlator
	o.mu.Unlock()
	if correlator == nil {
		if !profile.ValidIdentifier(identifier) {
			return profile.Record{}, failure.InvalidInput("invalid profile identifier %q: want 17 digits", identifier)
		}
		return profile.Record{}, failure.NotReady("coordinator is not connected")
	}
	return correlator.Fetch(ctx, identifier)
}

// Login authenticates with the configured credentials unless the
// session is already logged in. presence.ErrGuardCodeRequired means a
// code must be submitted with SubmitGuardCode.
func (o *Orchestrator) Login(ctx context.Context) (presence.Method, error) {
	o.mu.Lock()
	started := o.started
	o.mu.Unlock()
	if !started {
		return presence.MethodNone, ErrNotStarted
	}
	if o.presence.State() == presence.LoggedIn {
		return o.presence.LastMethod(), nil
	}
	return o.presence.Login(ctx, o.credentials)
}

// SubmitGuardCode answers a pending one-time-code prompt.
func (o *Orchestrator) SubmitGuardCode(ctx context.Context, code string) error {
	return o.presence.SubmitGuardCode(ctx, code)
}

// Disconnect logs off the presence session and cancels the background
// retry. The process keeps running; Login reconnects.
func (o *Orchestrator) Disconnect(ctx context.Context) error {
	o.mu.Lock()
	o.stopRetryLocked()
	o.mu.Unlock()
	return o.presence.LogOff(ctx)
}

// Status returns a snapshot of component states.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	manager, correlator := o.coordinator, o.correlator
	o.mu.Unlock()

	status := Status{
		Presence:        o.presence.State().String(),
		Coordinator:     coordinator.NoSession.String(),
		DisconnectCount: o.presence.DisconnectCount(),
	}
	if manager != nil {
		status.Coordinator = manager.State().String()
		status.Ready = manager.IsReady()
	}
	if correlator != nil {
		status.PendingRequests = correlator.Pending()
	}
	if info, pending := o.presence.PendingGuardPrompt(); pending {
		status.PendingGuardPrompt = &info
	}
	return status
}

// Stop cancels timers and retries, closes the correlator, logs off,
// waits the drain interval, and stops the managers. Safe to call
// after a failed Start.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return nil
	}
	o.stopped = true
	if o.graceTimer != nil {
		o.graceTimer.Stop()
	}
	retry := o.stopRetryLocked()
	manager, correlator := o.coordinator, o.correlator
	watcher, watcherDone := o.watcher, o.watcherDone
	o.mu.Unlock()

	o.cancelBackground()
	if retry != nil {
		<-retry.done
	}
	if correlator != nil {
		correlator.Close()
	}

	var logOffErr error
	if state := o.presence.State(); state == presence.LoggedIn || state == presence.LoggingIn {
		logOffErr = o.presence.LogOff(ctx)
		if logOffErr != nil {
			o.logger.Warn("log off during shutdown failed", "error", logOffErr)
		}
		if err := o.settle(ctx, "log off", o.startup.ShutdownDrain); err != nil {
			o.logger.Debug("shutdown drain interrupted", "error", err)
		}
	}

	if manager != nil {
		manager.Stop()
	}
	o.presence.Stop()
	if watcher != nil {
		watcher.Close()
		<-watcherDone
	}
	o.logger.Info("stopped")
	return logOffErr
}
