// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package presence owns the authenticated session to the presence
// service.
//
// A [Manager] wraps a protocol [Client] and is the single writer of the
// [SessionState] and of the disconnect counter. All client events are
// handled by one goroutine, in order. Callers observe state through
// [Manager.State] and through [Manager.Transitions] subscriptions.
//
// # Login method selection
//
// [Manager.Login] tries, in order:
//
//  1. The stored session key or refresh token, when one is usable
//     (credential.Artifact.Usable). The password is not touched.
//  2. The password, with any stored machine auth token and sentry blob,
//     plus a freshly computed one-time code when a seed is supplied.
//
// A stored key that the service rejects ([IsCredentialRejection]) is
// deleted and reported as a failure.KindAuth error wrapping
// [ErrStoredKeyRejected]. The manager never falls back to the password
// within the same call; the next Login will, because the key is gone.
// Transport failures and other service errors leave the key in place.
//
// # One-time codes
//
// When the service asks for a code during a login that has a seed, the
// manager answers it (at most twice per attempt). Without a seed the
// prompt is held as pending, the configured GuardPromptHandler is
// invoked, and Login returns [ErrGuardCodeRequired] while the attempt
// stays open. [Manager.SubmitGuardCode] answers it later and
// [Manager.WaitLoggedIn] waits for the outcome.
//
// # Disconnect watchdog
//
// Every error or disconnect event bumps the counter; every successful
// login resets it. At the threshold the manager writes a watchdog
// record and calls OnFatal exactly once. Restarting the process is a
// supervisor's job.
package presence
