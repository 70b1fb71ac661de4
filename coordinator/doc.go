// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package coordinator tracks readiness of the game coordinator
// connection that rides on an authenticated presence session.
//
// A [Manager] consumes the events of a coordinator [Client] on a single
// goroutine and owns the [ReadinessState]. Only [Connected] permits
// profile requests. Any error or disconnect downgrades immediately;
// a connection status report can downgrade but never promotes to
// Connected.
//
// [Manager.AttemptConnection] pokes the optional [Connector],
// [Launcher], and [SessionRequester] capabilities of the client.
// [Manager.WaitForReady] bounds the wait for the Connected transition
// with a clock timer, so callers layer their own retry policy on top.
package coordinator
