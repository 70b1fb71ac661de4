// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"testing"
	"time"

	"github.com/bureau-foundation/gcbridge/coordinator"
	"github.com/bureau-foundation/gcbridge/coordinator/coordinatortest"
	"github.com/bureau-foundation/gcbridge/credential"
	"github.com/bureau-foundation/gcbridge/lib/clock"
	"github.com/bureau-foundation/gcbridge/lib/config"
	"github.com/bureau-foundation/gcbridge/lib/failure"
	"github.com/bureau-foundation/gcbridge/lib/secret"
	"github.com/bureau-foundation/gcbridge/lib/testutil"
	"github.com/bureau-foundation/gcbridge/presence"
	"github.com/bureau-foundation/gcbridge/presence/presencetest"
)

var epoch = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	presence     *presencetest.Client
	coordinator  *coordinatortest.Client
	clock        *clock.FakeClock
	orchestrator *Orchestrator
	connects     chan struct{}
	prompts      chan presence.GuardPromptInfo
}

// newHarness builds an orchestrator whose collaborators log in and
// connect immediately, with no settle delays.
func newHarness(t *testing.T, configure func(*Config)) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fakeClock := clock.Fake(epoch)

	store, err := credential.NewStore(credential.StoreConfig{
		Directory: t.TempDir(),
		Account:   "gcbot",
		Clock:     fakeClock,
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	password, err := secret.NewFromBytes([]byte("hunter2"))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	t.Cleanup(func() { password.Close() })

	h := &harness{
		presence:    presencetest.NewClient(),
		coordinator: coordinatortest.NewClient(),
		clock:       fakeClock,
		connects:    make(chan struct{}, 16),
		prompts:     make(chan presence.GuardPromptInfo, 4),
	}
	h.presence.OnLogOn(func(presence.LogOnOptions) { h.presence.EmitLoggedOn() })
	h.coordinator.OnConnect(func() {
		h.coordinator.EmitConnected()
		h.connects <- struct{}{}
	})

	cfg := Config{
		Presence: presence.Config{
			Client:             h.presence,
			Store:              store,
			Account:            "gcbot",
			GuardPromptHandler: func(info presence.GuardPromptInfo) { h.prompts <- info },
		},
		Coordinator: h.coordinator,
		Credentials: presence.LoginRequest{Password: password},
		AppID:       730,
		Readiness: config.CoordinatorConfig{
			ReadyTimeout:            30 * time.Second,
			ReadyAttempts:           3,
			ReadyRetryDelay:         10 * time.Second,
			BackgroundRetryInterval: 60 * time.Second,
			RequestTimeout:          30 * time.Second,
		},
		Startup: config.StartupConfig{GracePeriod: 30 * time.Second},
		Clock:   fakeClock,
		Logger:  logger,
	}
	if configure != nil {
		configure(&cfg)
	}

	h.orchestrator, err = New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		h.orchestrator.Stop(context.Background())
		h.presence.Close()
		h.coordinator.Close()
	})
	return h
}

func (h *harness) startAsync() <-chan error {
	result := make(chan error, 1)
	go func() { result <- h.orchestrator.Start(context.Background()) }()
	return result
}

func (h *harness) coordinatorManager() *coordinator.Manager {
	h.orchestrator.mu.Lock()
	defer h.orchestrator.mu.Unlock()
	return h.orchestrator.coordinator
}

func (h *harness) currentRetry() *backgroundRetry {
	h.orchestrator.mu.Lock()
	defer h.orchestrator.mu.Unlock()
	return h.orchestrator.retry
}

func TestStartReachesReady(t *testing.T) {
	h := newHarness(t, nil)

	if err := h.orchestrator.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !h.orchestrator.IsReady() {
		t.Error("IsReady = false after Start")
	}
	if personas := h.presence.Personas(); !slices.Equal(personas, []presence.PersonaState{presence.PersonaOnline}) {
		t.Errorf("personas = %v, want [online]", personas)
	}
	if games := h.presence.Games(); len(games) != 1 || !slices.Equal(games[0], []uint32{730}) {
		t.Errorf("games = %v, want [[730]]", games)
	}
	if retry := h.currentRetry(); retry != nil {
		t.Error("background retry running although the coordinator is ready")
	}
	if pending := h.clock.PendingCount(); pending != 1 {
		t.Errorf("PendingCount = %d, want 1 (grace timer)", pending)
	}

	status := h.orchestrator.Status()
	if status.Presence != "logged_in" || status.Coordinator != "connected" || !status.Ready || status.PendingGuardPrompt != nil {
		t.Errorf("Status = %+v", status)
	}
}

func TestStartSettlesBetweenSteps(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.Startup.PostLoginSettle = 2 * time.Second
		cfg.Startup.PersonaSettle = time.Second
		cfg.Startup.CoordinatorSettle = time.Second
		cfg.Startup.GameSettle = 3 * time.Second
	})
	result := h.startAsync()

	h.clock.WaitForTimers(1)
	if personas := h.presence.Personas(); len(personas) != 0 {
		t.Fatalf("persona announced before the post-login settle: %v", personas)
	}
	h.clock.Advance(2 * time.Second)

	h.clock.WaitForTimers(1)
	if personas := h.presence.Personas(); len(personas) != 1 {
		t.Fatalf("personas after post-login settle = %v", personas)
	}
	if h.coordinatorManager() != nil {
		t.Fatal("coordinator manager created before the persona settle")
	}
	h.clock.Advance(time.Second)

	h.clock.WaitForTimers(1)
	if h.coordinatorManager() == nil {
		t.Fatal("coordinator manager missing after the persona settle")
	}
	if games := h.presence.Games(); len(games) != 0 {
		t.Fatalf("game reported before the coordinator settle: %v", games)
	}
	h.clock.Advance(time.Second)

	h.clock.WaitForTimers(1)
	if games := h.presence.Games(); len(games) != 1 {
		t.Fatalf("games after coordinator settle = %v", games)
	}
	if connects, _, _ := h.coordinator.Attempts(); connects != 0 {
		t.Fatalf("connection attempted before the game settle")
	}
	h.clock.Advance(3 * time.Second)

	if err := testutil.RequireReceive(t, result, 5*time.Second, "Start"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if connects, _, _ := h.coordinator.Attempts(); connects != 1 {
		t.Errorf("connects = %d, want 1", connects)
	}
}

func TestReadinessRetryFallsBackToBackground(t *testing.T) {
	h := newHarness(t, nil)
	h.coordinator.OnConnect(nil)
	result := h.startAsync()

	for attempt := 1; attempt <= 3; attempt++ {
		h.clock.WaitForTimers(1)
		h.clock.Advance(30 * time.Second)
		if attempt < 3 {
			h.clock.WaitForTimers(1)
			h.clock.Advance(10 * time.Second)
		}
	}
	if err := testutil.RequireReceive(t, result, 5*time.Second, "Start"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if connects, _, _ := h.coordinator.Attempts(); connects != 3 {
		t.Errorf("connects = %d, want 3", connects)
	}
	retry := h.currentRetry()
	if retry == nil {
		t.Fatal("no background retry after exhausting readiness attempts")
	}
	if h.orchestrator.IsReady() {
		t.Fatal("IsReady = true without a connected event")
	}

	transitions := h.coordinatorManager().Transitions()
	defer transitions.Close()
	h.coordinator.OnConnect(func() { h.coordinator.EmitConnected() })

	h.clock.Advance(60 * time.Second)
	for {
		transition := testutil.RequireReceive(t, transitions.C, 5*time.Second, "connected transition")
		if transition.To == coordinator.Connected {
			break
		}
	}

	h.clock.Advance(60 * time.Second)
	testutil.RequireClosed(t, retry.done, 5*time.Second, "background retry stops once ready")
	if h.currentRetry() != nil {
		t.Error("finished retry still registered")
	}
	if connects, _, _ := h.coordinator.Attempts(); connects != 4 {
		t.Errorf("connects = %d, want 4", connects)
	}
}

func TestRecoveryAfterGracePeriod(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.orchestrator.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	testutil.RequireReceive(t, h.connects, 5*time.Second, "startup connect")

	h.clock.Advance(30 * time.Second)

	h.presence.EmitDisconnected("NoConnection")
	h.presence.EmitLoggedOn()
	testutil.RequireReceive(t, h.connects, 5*time.Second, "recovery connect")

	if personas := h.presence.Personas(); len(personas) != 2 {
		t.Errorf("personas = %v, want two announcements", personas)
	}
	if games := h.presence.Games(); len(games) != 2 {
		t.Errorf("games = %v, want two reports", games)
	}
}

func TestFatalDisconnectSurfaces(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.Presence.DisconnectThreshold = 2 })
	if err := h.orchestrator.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	h.presence.EmitDisconnected("NoConnection")
	h.presence.EmitDisconnected("NoConnection")

	err := testutil.RequireReceive(t, h.orchestrator.Fatal(), 5*time.Second, "fatal error")
	if !failure.Is(err, failure.KindFatalDisconnect) {
		t.Errorf("fatal error = %v, want fatal_disconnect", err)
	}
}

func TestStartFailsWithoutCredentials(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.Credentials = presence.LoginRequest{} })

	err := h.orchestrator.Start(context.Background())
	if !failure.Is(err, failure.KindAuth) || !errors.Is(err, presence.ErrNoCredentials) {
		t.Fatalf("Start = %v, want auth error wrapping ErrNoCredentials", err)
	}
	if err := h.orchestrator.Stop(context.Background()); err != nil {
		t.Errorf("Stop after failed Start: %v", err)
	}
}

func TestStartWaitsForManualGuardCode(t *testing.T) {
	h := newHarness(t, nil)
	h.presence.OnLogOn(func(presence.LogOnOptions) { h.presence.EmitGuardCode("example.com", false) })
	h.presence.OnGuardCode(func(string) { h.presence.EmitLoggedOn() })
	result := h.startAsync()

	info := testutil.RequireReceive(t, h.prompts, 5*time.Second, "guard prompt")
	if info.Domain != "example.com" {
		t.Errorf("prompt domain = %q", info.Domain)
	}
	if status := h.orchestrator.Status(); status.PendingGuardPrompt == nil {
		t.Error("Status has no pending prompt while waiting for a code")
	}
	if err := h.orchestrator.SubmitGuardCode(context.Background(), "ABCDE"); err != nil {
		t.Fatalf("SubmitGuardCode: %v", err)
	}
	if err := testutil.RequireReceive(t, result, 5*time.Second, "Start"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if codes := h.presence.GuardCodes(); !slices.Equal(codes, []string{"ABCDE"}) {
		t.Errorf("guard codes = %v", codes)
	}
}

func TestFetch(t *testing.T) {
	h := newHarness(t, nil)
	identifier := testutil.AccountID()

	if _, err := h.orchestrator.Fetch(context.Background(), "bogus"); !failure.Is(err, failure.KindInvalidInput) {
		t.Errorf("Fetch before Start with a bad identifier = %v, want invalid input", err)
	}
	if _, err := h.orchestrator.Fetch(context.Background(), identifier); !failure.Is(err, failure.KindNotReady) {
		t.Errorf("Fetch before Start = %v, want not ready", err)
	}

	if err := h.orchestrator.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.coordinator.OnRequest(func(requested string) {
		h.coordinator.EmitProfile(requested, coordinatortest.Profile(1, 3, 2, 1, 40, uint64(4551)))
	})
	record, err := h.orchestrator.Fetch(context.Background(), identifier)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if record.Identifier() != identifier {
		t.Errorf("Identifier = %q, want %q", record.Identifier(), identifier)
	}
	if level, ok := record.Level(); !ok || level != 40 {
		t.Errorf("Level = %d, %v; want 40", level, ok)
	}
}

func TestDisconnectThenLogin(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.orchestrator.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := h.orchestrator.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if state := h.orchestrator.Status().Presence; state != "logged_out" {
		t.Errorf("presence after Disconnect = %q, want logged_out", state)
	}

	method, err := h.orchestrator.Login(context.Background())
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if method != presence.MethodPassword {
		t.Errorf("method = %v, want password", method)
	}
	if logOns := h.presence.LogOns(); len(logOns) != 2 {
		t.Errorf("LogOn called %d times, want 2", len(logOns))
	}

	// Already logged in: no new LogOn.
	if _, err := h.orchestrator.Login(context.Background()); err != nil {
		t.Fatalf("second Login: %v", err)
	}
	if logOns := h.presence.LogOns(); len(logOns) != 2 {
		t.Errorf("LogOn called %d times after a no-op Login, want 2", len(logOns))
	}
}

func TestStopLogsOffAndReleasesTimers(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.orchestrator.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := h.orchestrator.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if offs := h.presence.LogOffs(); offs != 1 {
		t.Errorf("LogOff called %d times, want 1", offs)
	}
	if pending := h.clock.PendingCount(); pending != 0 {
		t.Errorf("PendingCount after Stop = %d, want 0", pending)
	}
	if _, err := h.orchestrator.Fetch(context.Background(), testutil.AccountID()); !failure.Is(err, failure.KindNotReady) {
		t.Errorf("Fetch after Stop = %v, want not ready", err)
	}
	if err := h.orchestrator.Stop(context.Background()); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestStopEndsStartInProgress(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.Startup.GameSettle = time.Minute
	})
	result := h.startAsync()

	// Start is parked in the game settle: the coordinator manager
	// exists, the correlator does not yet.
	h.clock.WaitForTimers(1)
	if h.coordinatorManager() == nil {
		t.Fatal("coordinator manager missing during the game settle")
	}

	if err := h.orchestrator.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	err := testutil.RequireReceive(t, result, 5*time.Second, "Start")
	if !errors.Is(err, ErrStopped) {
		t.Errorf("Start = %v, want ErrStopped", err)
	}

	h.orchestrator.mu.Lock()
	correlator := h.orchestrator.correlator
	h.orchestrator.mu.Unlock()
	if correlator != nil {
		t.Error("correlator created after Stop")
	}
	if connects, _, _ := h.coordinator.Attempts(); connects != 0 {
		t.Errorf("connects = %d, want 0 after Stop", connects)
	}
	if pending := h.clock.PendingCount(); pending != 0 {
		t.Errorf("PendingCount after Stop = %d, want 0", pending)
	}
	if err := h.orchestrator.Start(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Start after Stop = %v, want ErrStopped", err)
	}
}
