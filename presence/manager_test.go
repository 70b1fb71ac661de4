// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package presence_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/gcbridge/credential"
	"github.com/bureau-foundation/gcbridge/lib/clock"
	"github.com/bureau-foundation/gcbridge/lib/failure"
	"github.com/bureau-foundation/gcbridge/lib/secret"
	"github.com/bureau-foundation/gcbridge/lib/testutil"
	"github.com/bureau-foundation/gcbridge/lib/totp"
	"github.com/bureau-foundation/gcbridge/lib/watchdog"
	"github.com/bureau-foundation/gcbridge/presence"
	"github.com/bureau-foundation/gcbridge/presence/presencetest"
)

var epoch = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

const testSeed = "MTIzNDU2Nzg5MDEyMzQ1Njc4OTA="

type harness struct {
	client      *presencetest.Client
	store       *credential.Store
	clock       *clock.FakeClock
	manager     *presence.Manager
	watchdog    string
	fatal       chan error
	fatalCalls  *atomic.Int32
	promptInfos chan presence.GuardPromptInfo
}

func newHarness(t *testing.T, configure func(*presence.Config)) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fakeClock := clock.Fake(epoch)
	directory := t.TempDir()

	store, err := credential.NewStore(credential.StoreConfig{
		Directory: filepath.Join(directory, "credentials"),
		Account:   "gcbot",
		Clock:     fakeClock,
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	h := &harness{
		client:      presencetest.NewClient(),
		store:       store,
		clock:       fakeClock,
		watchdog:    filepath.Join(directory, "watchdog.json"),
		fatal:       make(chan error, 4),
		fatalCalls:  &atomic.Int32{},
		promptInfos: make(chan presence.GuardPromptInfo, 4),
	}
	config := presence.Config{
		Client:       h.client,
		Store:        store,
		Account:      "gcbot",
		WatchdogPath: h.watchdog,
		OnFatal: func(err error) {
			h.fatalCalls.Add(1)
			h.fatal <- err
		},
		GuardPromptHandler: func(info presence.GuardPromptInfo) { h.promptInfos <- info },
		Clock:              fakeClock,
		Logger:             logger,
	}
	if configure != nil {
		configure(&config)
	}

	h.manager, err = presence.NewManager(config)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	h.manager.Start()
	t.Cleanup(func() {
		h.manager.Stop()
		h.client.Close()
	})
	return h
}

func newSecret(t *testing.T, value string) *secret.Buffer {
	t.Helper()
	buffer, err := secret.NewFromBytes([]byte(value))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	t.Cleanup(func() { buffer.Close() })
	return buffer
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestLoginPrefersStoredKey(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.store.Save(credential.KindSessionKey, credential.NewToken("stored-session-key")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	h.client.OnLogOn(func(presence.LogOnOptions) { h.client.EmitLoggedOn() })

	method, err := h.manager.Login(testContext(t), presence.LoginRequest{Password: newSecret(t, "hunter2")})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if method != presence.MethodStoredKey {
		t.Errorf("method = %v, want %v", method, presence.MethodStoredKey)
	}
	if state := h.manager.State(); state != presence.LoggedIn {
		t.Errorf("state = %v, want logged_in", state)
	}
	if got := h.manager.LastMethod(); got != presence.MethodStoredKey {
		t.Errorf("LastMethod = %v, want stored key", got)
	}

	logOns := h.client.LogOns()
	if len(logOns) != 1 {
		t.Fatalf("LogOn called %d times, want 1", len(logOns))
	}
	if logOns[0].LoginKey != "stored-session-key" {
		t.Errorf("LoginKey = %q, want stored-session-key", logOns[0].LoginKey)
	}
	if logOns[0].Password != "" || logOns[0].TwoFactorCode != "" {
		t.Errorf("stored-key login sent password or code: %+v", logOns[0])
	}
}

func TestLoginRejectedStoredKeyIsDeleted(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.store.Save(credential.KindSessionKey, credential.NewToken("revoked-key")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	h.client.OnLogOn(func(presence.LogOnOptions) { h.client.EmitRejected("InvalidPassword") })

	_, err := h.manager.Login(testContext(t), presence.LoginRequest{})
	if !failure.Is(err, failure.KindAuth) {
		t.Fatalf("Login error kind = %q (%v), want auth", failure.KindOf(err), err)
	}
	if !errors.Is(err, presence.ErrStoredKeyRejected) {
		t.Errorf("Login error = %v, want ErrStoredKeyRejected", err)
	}
	if _, err := h.store.Load(credential.KindSessionKey); !errors.Is(err, credential.ErrNotFound) {
		t.Errorf("stored key after rejection: Load = %v, want ErrNotFound", err)
	}

	_, err = h.manager.Login(testContext(t), presence.LoginRequest{})
	if !errors.Is(err, presence.ErrNoCredentials) {
		t.Errorf("second Login without a password = %v, want ErrNoCredentials", err)
	}
	if len(h.client.LogOns()) != 1 {
		t.Errorf("LogOn called %d times, want 1", len(h.client.LogOns()))
	}
}

func TestLoginRejectedKeyFallsBackToPasswordOnNextCall(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.store.Save(credential.KindSessionKey, credential.NewToken("revoked-key")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	h.client.OnLogOn(func(options presence.LogOnOptions) {
		if options.LoginKey != "" {
			h.client.EmitRejected("InvalidPassword")
			return
		}
		h.client.EmitLoggedOn()
	})

	password := newSecret(t, "hunter2")
	if _, err := h.manager.Login(testContext(t), presence.LoginRequest{Password: password}); err == nil {
		t.Fatal("Login with a revoked key succeeded")
	}
	method, err := h.manager.Login(testContext(t), presence.LoginRequest{Password: password})
	if err != nil {
		t.Fatalf("second Login: %v", err)
	}
	if method != presence.MethodPassword {
		t.Errorf("method = %v, want password", method)
	}
	logOns := h.client.LogOns()
	if len(logOns) != 2 || logOns[1].Password != "hunter2" {
		t.Errorf("LogOn calls = %+v, want a password login second", logOns)
	}
}

func TestStoredKeyKeptOnTransportError(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.store.Save(credential.KindSessionKey, credential.NewToken("valid-key")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	h.client.FailLogOn(context.DeadlineExceeded)

	_, err := h.manager.Login(testContext(t), presence.LoginRequest{})
	if !failure.Is(err, failure.KindAuth) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Login = %v, want auth error wrapping the transport error", err)
	}
	if errors.Is(err, presence.ErrStoredKeyRejected) {
		t.Errorf("transport error reported as a rejected key: %v", err)
	}
	key, err := h.store.Load(credential.KindSessionKey)
	if err != nil || key.Value != "valid-key" {
		t.Errorf("stored key after transport error = %+v, %v; want valid-key", key, err)
	}

	h.client.FailLogOn(nil)
	h.client.OnLogOn(func(presence.LogOnOptions) { h.client.EmitLoggedOn() })
	method, err := h.manager.Login(testContext(t), presence.LoginRequest{})
	if err != nil || method != presence.MethodStoredKey {
		t.Errorf("retry Login = %v, %v; want stored key success", method, err)
	}
}

func TestStoredKeyKeptOnServiceError(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.store.Save(credential.KindSessionKey, credential.NewToken("valid-key")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	h.client.OnLogOn(func(presence.LogOnOptions) { h.client.EmitError(errors.New("ServiceUnavailable")) })

	_, err := h.manager.Login(testContext(t), presence.LoginRequest{})
	if err == nil {
		t.Fatal("Login succeeded despite an error event")
	}
	if errors.Is(err, presence.ErrStoredKeyRejected) {
		t.Errorf("service error reported as a rejected key: %v", err)
	}
	if _, err := h.store.Load(credential.KindSessionKey); err != nil {
		t.Errorf("stored key after service error: Load = %v", err)
	}
}

func TestIsCredentialRejection(t *testing.T) {
	rejected := fmt.Errorf("log on: %w", fmt.Errorf("%w: InvalidPassword", presence.ErrCredentialRejected))
	if !presence.IsCredentialRejection(rejected) {
		t.Errorf("IsCredentialRejection(%v) = false", rejected)
	}
	for _, err := range []error{nil, context.Canceled, errors.New("RateLimitExceeded")} {
		if presence.IsCredentialRejection(err) {
			t.Errorf("IsCredentialRejection(%v) = true", err)
		}
	}
}

func TestLoginWithoutCredentials(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.manager.Login(testContext(t), presence.LoginRequest{})
	if !failure.Is(err, failure.KindAuth) || !errors.Is(err, presence.ErrNoCredentials) {
		t.Errorf("Login = %v, want auth error wrapping ErrNoCredentials", err)
	}
	if err := h.manager.LoginWithStoredKey(testContext(t)); !failure.Is(err, failure.KindAuth) {
		t.Errorf("LoginWithStoredKey = %v, want auth error", err)
	}
}

func TestLoginBeforeStart(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := credential.NewStore(credential.StoreConfig{Directory: t.TempDir(), Account: "gcbot", Logger: logger})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	manager, err := presence.NewManager(presence.Config{
		Client:  presencetest.NewClient(),
		Store:   store,
		Account: "gcbot",
		Logger:  logger,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	password := newSecret(t, "hunter2")
	if _, err := manager.Login(testContext(t), presence.LoginRequest{Password: password}); !errors.Is(err, presence.ErrNotStarted) {
		t.Errorf("Login before Start = %v, want ErrNotStarted", err)
	}
}

func TestPasswordLoginSendsStoredArtifactsAndCode(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.store.Save(credential.KindMachineAuth, credential.Artifact{Type: credential.TypeMachineAuthToken, Value: "machine-token"}); err != nil {
		t.Fatalf("Save machine auth: %v", err)
	}
	if err := h.store.Save(credential.KindSentry, credential.Artifact{Type: credential.TypeSentry, Data: []byte{1, 2, 3}}); err != nil {
		t.Fatalf("Save sentry: %v", err)
	}
	h.client.OnLogOn(func(presence.LogOnOptions) { h.client.EmitLoggedOn() })

	method, err := h.manager.Login(testContext(t), presence.LoginRequest{
		Password: newSecret(t, "hunter2"),
		TOTPSeed: newSecret(t, testSeed),
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if method != presence.MethodPassword {
		t.Errorf("method = %v, want password", method)
	}

	want, err := totp.Code([]byte(testSeed), epoch)
	if err != nil {
		t.Fatalf("totp.Code: %v", err)
	}
	options := h.client.LogOns()[0]
	if options.AccountName != "gcbot" || options.Password != "hunter2" {
		t.Errorf("account/password = %q/%q", options.AccountName, options.Password)
	}
	if options.TwoFactorCode != want {
		t.Errorf("TwoFactorCode = %q, want %q", options.TwoFactorCode, want)
	}
	if options.MachineAuthToken != "machine-token" {
		t.Errorf("MachineAuthToken = %q, want machine-token", options.MachineAuthToken)
	}
	if string(options.Sentry) != "\x01\x02\x03" {
		t.Errorf("Sentry = %v, want [1 2 3]", options.Sentry)
	}
}

func TestGuardPromptAnsweredFromSeed(t *testing.T) {
	h := newHarness(t, nil)
	h.client.OnLogOn(func(presence.LogOnOptions) { h.client.EmitGuardCode("", false) })
	h.client.OnGuardCode(func(string) { h.client.EmitLoggedOn() })

	if _, err := h.manager.Login(testContext(t), presence.LoginRequest{
		Password: newSecret(t, "hunter2"),
		TOTPSeed: newSecret(t, testSeed),
	}); err != nil {
		t.Fatalf("Login: %v", err)
	}

	want, _ := totp.Code([]byte(testSeed), epoch)
	codes := h.client.GuardCodes()
	if len(codes) != 1 || codes[0] != want {
		t.Errorf("answered codes = %v, want [%s]", codes, want)
	}
	if _, pending := h.manager.PendingGuardPrompt(); pending {
		t.Error("prompt still pending after automatic answer")
	}
}

func TestGuardPromptGivesUpAfterRepeatedRejection(t *testing.T) {
	h := newHarness(t, nil)
	h.client.OnLogOn(func(presence.LogOnOptions) { h.client.EmitGuardCode("", false) })
	h.client.OnGuardCode(func(string) { h.client.EmitGuardCode("", true) })

	_, err := h.manager.Login(testContext(t), presence.LoginRequest{
		Password: newSecret(t, "hunter2"),
		TOTPSeed: newSecret(t, testSeed),
	})
	if !failure.Is(err, failure.KindAuth) {
		t.Fatalf("Login = %v, want auth error", err)
	}
	if codes := h.client.GuardCodes(); len(codes) != 2 {
		t.Errorf("answered %d codes, want 2", len(codes))
	}
	if state := h.manager.State(); state != presence.LoggedOut {
		t.Errorf("state = %v, want logged_out", state)
	}
}

func TestGuardPromptWithoutSeedWaitsForManualCode(t *testing.T) {
	h := newHarness(t, nil)
	h.client.OnLogOn(func(presence.LogOnOptions) { h.client.EmitGuardCode("example.com", false) })
	h.client.OnGuardCode(func(string) { h.client.EmitLoggedOn() })

	ctx := testContext(t)
	_, err := h.manager.Login(ctx, presence.LoginRequest{Password: newSecret(t, "hunter2")})
	if !errors.Is(err, presence.ErrGuardCodeRequired) {
		t.Fatalf("Login = %v, want ErrGuardCodeRequired", err)
	}

	info, pending := h.manager.PendingGuardPrompt()
	if !pending || info.Domain != "example.com" {
		t.Errorf("PendingGuardPrompt = %+v, %v", info, pending)
	}
	notified := testutil.RequireReceive(t, h.promptInfos, 5*time.Second, "prompt handler")
	if notified.Domain != "example.com" || !notified.ReceivedAt.Equal(epoch) {
		t.Errorf("handler info = %+v", notified)
	}
	if state := h.manager.State(); state != presence.LoggingIn {
		t.Errorf("state while waiting = %v, want logging_in", state)
	}

	if err := h.manager.SubmitGuardCode(ctx, ""); !failure.Is(err, failure.KindInvalidInput) {
		t.Errorf("SubmitGuardCode(\"\") = %v, want invalid input", err)
	}
	if err := h.manager.SubmitGuardCode(ctx, "F4K3C"); err != nil {
		t.Fatalf("SubmitGuardCode: %v", err)
	}
	if err := h.manager.WaitLoggedIn(ctx); err != nil {
		t.Fatalf("WaitLoggedIn: %v", err)
	}
	if codes := h.client.GuardCodes(); len(codes) != 1 || codes[0] != "F4K3C" {
		t.Errorf("answered codes = %v, want [F4K3C]", codes)
	}
	if err := h.manager.SubmitGuardCode(ctx, "F4K3C"); !failure.Is(err, failure.KindInvalidInput) {
		t.Errorf("SubmitGuardCode without a prompt = %v, want invalid input", err)
	}
}

func TestLoginPersistsEmittedAndExtractedArtifacts(t *testing.T) {
	h := newHarness(t, nil)
	h.client.SetArtifact(credential.Artifact{Type: credential.TypeMachineAuthToken, Value: "extracted-machine-token"})
	h.client.OnLogOn(func(presence.LogOnOptions) {
		h.client.EmitSessionKey("newLoginKey", "fresh-session-key")
		h.client.Emit(presence.Event{Kind: presence.EventSentry, Name: "sentry", Payload: []byte("sentry-blob")})
		h.client.EmitLoggedOn()
	})

	if _, err := h.manager.Login(testContext(t), presence.LoginRequest{Password: newSecret(t, "hunter2")}); err != nil {
		t.Fatalf("Login: %v", err)
	}

	key, err := h.store.Load(credential.KindSessionKey)
	if err != nil || key.Value != "fresh-session-key" {
		t.Errorf("session key = %+v, %v; want fresh-session-key", key, err)
	}
	machineAuth, err := h.store.Load(credential.KindMachineAuth)
	if err != nil || machineAuth.Value != "extracted-machine-token" {
		t.Errorf("machine auth = %+v, %v; want extracted-machine-token", machineAuth, err)
	}
	sentry, err := h.store.Load(credential.KindSentry)
	if err != nil || string(sentry.Data) != "sentry-blob" {
		t.Errorf("sentry = %+v, %v; want sentry-blob", sentry, err)
	}
}

func TestExtractionFailureDoesNotFailLogin(t *testing.T) {
	h := newHarness(t, nil)
	h.client.FailExtraction(errors.New("internal state unavailable"))
	h.client.OnLogOn(func(presence.LogOnOptions) { h.client.EmitLoggedOn() })

	if _, err := h.manager.Login(testContext(t), presence.LoginRequest{Password: newSecret(t, "hunter2")}); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := h.store.Load(credential.KindSessionKey); !errors.Is(err, credential.ErrNotFound) {
		t.Errorf("Load after failed extraction = %v, want ErrNotFound", err)
	}
}

func TestLoginClientError(t *testing.T) {
	h := newHarness(t, nil)
	h.client.FailLogOn(errors.New("socket closed"))

	_, err := h.manager.Login(testContext(t), presence.LoginRequest{Password: newSecret(t, "hunter2")})
	if !failure.Is(err, failure.KindAuth) {
		t.Errorf("Login = %v, want auth error", err)
	}
	if state := h.manager.State(); state != presence.LoggedOut {
		t.Errorf("state = %v, want logged_out", state)
	}
}

func TestDisconnectThresholdIsFatal(t *testing.T) {
	h := newHarness(t, nil)
	h.client.OnLogOn(func(presence.LogOnOptions) { h.client.EmitLoggedOn() })
	if _, err := h.manager.Login(testContext(t), presence.LoginRequest{Password: newSecret(t, "hunter2")}); err != nil {
		t.Fatalf("Login: %v", err)
	}

	for range presence.DefaultDisconnectThreshold + 1 {
		h.client.EmitDisconnected("connection reset")
	}

	err := testutil.RequireReceive(t, h.fatal, 5*time.Second, "fatal callback")
	if !failure.Is(err, failure.KindFatalDisconnect) {
		t.Errorf("fatal error kind = %q, want fatal_disconnect", failure.KindOf(err))
	}
	state, err := watchdog.Read(h.watchdog)
	if err != nil {
		t.Fatalf("watchdog.Read: %v", err)
	}
	if state.Component != "presence" || state.Account != "gcbot" || state.Count != presence.DefaultDisconnectThreshold {
		t.Errorf("watchdog state = %+v", state)
	}

	h.manager.Stop()
	if calls := h.fatalCalls.Load(); calls != 1 {
		t.Errorf("OnFatal called %d times, want 1", calls)
	}
	if count := h.manager.DisconnectCount(); count != presence.DefaultDisconnectThreshold+1 {
		t.Errorf("DisconnectCount = %d, want %d", count, presence.DefaultDisconnectThreshold+1)
	}
}

func TestSuccessfulLoginResetsDisconnectCount(t *testing.T) {
	h := newHarness(t, func(config *presence.Config) { config.DisconnectThreshold = 2 })
	h.client.OnLogOn(func(presence.LogOnOptions) { h.client.EmitLoggedOn() })
	password := newSecret(t, "hunter2")

	transitions := h.manager.Transitions()
	defer transitions.Close()

	for cycle := range 3 {
		if _, err := h.manager.Login(testContext(t), presence.LoginRequest{Password: password}); err != nil {
			t.Fatalf("cycle %d: Login: %v", cycle, err)
		}
		if count := h.manager.DisconnectCount(); count != 0 {
			t.Fatalf("cycle %d: DisconnectCount after login = %d, want 0", cycle, count)
		}
		h.client.EmitDisconnected("connection reset")
		for {
			transition := testutil.RequireReceive(t, transitions.C, 5*time.Second, "transition")
			if transition.To == presence.Disconnected {
				break
			}
		}
		if count := h.manager.DisconnectCount(); count != 1 {
			t.Fatalf("cycle %d: DisconnectCount = %d, want 1", cycle, count)
		}
	}

	h.manager.Stop()
	if calls := h.fatalCalls.Load(); calls != 0 {
		t.Errorf("OnFatal called %d times, want 0", calls)
	}
}

func TestLogOffDisconnectIsNotCounted(t *testing.T) {
	h := newHarness(t, nil)
	h.client.OnLogOn(func(presence.LogOnOptions) { h.client.EmitLoggedOn() })
	if _, err := h.manager.Login(testContext(t), presence.LoginRequest{Password: newSecret(t, "hunter2")}); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := h.manager.LogOff(testContext(t)); err != nil {
		t.Fatalf("LogOff: %v", err)
	}

	h.manager.Stop()
	if state := h.manager.State(); state != presence.LoggedOut {
		t.Errorf("state = %v, want logged_out", state)
	}
	if count := h.manager.DisconnectCount(); count != 0 {
		t.Errorf("DisconnectCount = %d, want 0", count)
	}
	if h.client.LogOffs() != 1 {
		t.Errorf("LogOff called %d times, want 1", h.client.LogOffs())
	}
}

func TestLogOffThenLoginWithPassword(t *testing.T) {
	h := newHarness(t, nil)
	h.client.OnLogOn(func(presence.LogOnOptions) { h.client.EmitLoggedOn() })
	password := newSecret(t, "hunter2")
	if _, err := h.manager.Login(testContext(t), presence.LoginRequest{Password: password}); err != nil {
		t.Fatalf("Login: %v", err)
	}

	// The disconnect LogOff causes may be handled before or after the
	// next Login begins; enough cycles cover both orders.
	const cycles = 2 * presence.DefaultDisconnectThreshold
	for cycle := range cycles {
		if err := h.manager.LogOff(testContext(t)); err != nil {
			t.Fatalf("cycle %d: LogOff: %v", cycle, err)
		}
		method, err := h.manager.Login(testContext(t), presence.LoginRequest{Password: password})
		if err != nil {
			t.Fatalf("cycle %d: Login after LogOff: %v", cycle, err)
		}
		if method != presence.MethodPassword {
			t.Errorf("cycle %d: method = %v, want password", cycle, method)
		}
		if state := h.manager.State(); state != presence.LoggedIn {
			t.Errorf("cycle %d: state = %v, want logged_in", cycle, state)
		}
	}

	h.manager.Stop()
	if count := h.manager.DisconnectCount(); count != 0 {
		t.Errorf("DisconnectCount = %d, want 0", count)
	}
	if calls := h.fatalCalls.Load(); calls != 0 {
		t.Errorf("OnFatal called %d times, want 0", calls)
	}
	if h.client.LogOffs() != cycles {
		t.Errorf("LogOff called %d times, want %d", h.client.LogOffs(), cycles)
	}
}

func TestDisconnectHandledDuringExtraction(t *testing.T) {
	h := newHarness(t, nil)
	extracting := make(chan struct{}, 2)
	release := make(chan struct{})
	h.client.OnExtract(func(ctx context.Context, _ credential.Type) {
		extracting <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
		}
	})
	h.client.OnLogOn(func(presence.LogOnOptions) { h.client.EmitLoggedOn() })

	transitions := h.manager.Transitions()
	defer transitions.Close()

	ctx := testContext(t)
	password := newSecret(t, "hunter2")
	result := make(chan error, 1)
	go func() {
		_, err := h.manager.Login(ctx, presence.LoginRequest{Password: password})
		result <- err
	}()

	testutil.RequireReceive(t, extracting, 5*time.Second, "extraction start")
	h.client.EmitDisconnected("connection reset")
	for {
		transition := testutil.RequireReceive(t, transitions.C, 5*time.Second, "transition")
		if transition.To == presence.Disconnected {
			break
		}
	}
	close(release)

	if err := testutil.RequireReceive(t, result, 5*time.Second, "Login"); err == nil {
		t.Error("Login succeeded although the session dropped during extraction")
	}
	if count := h.manager.DisconnectCount(); count != 1 {
		t.Errorf("DisconnectCount = %d, want 1", count)
	}
}
