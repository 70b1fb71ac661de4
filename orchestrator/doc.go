// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator sequences gcbridge's startup, recovery, and
// shutdown on top of the presence, coordinator, and profile packages.
//
// [Orchestrator.Start] authenticates, announces the persona, starts the
// coordinator manager, reports the game, and asks for a coordinator
// connection, with a fixed settle delay after each step. It then waits
// for readiness a bounded number of times and falls back to a
// low-frequency background retry that stops itself once the
// coordinator is connected.
//
// After the grace period, every presence transition into LoggedIn
// (a reconnect by the protocol library) re-runs the announce, report,
// and connect steps. A presence disconnect cancels the background
// retry. The fatal-disconnect path surfaces on [Orchestrator.Fatal];
// exiting is the caller's job.
package orchestrator
