// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time so that every timeout, settle delay and
// retry ticker in gcbridge can be driven deterministically in tests.
//
// Production code holds a [Clock] (usually [Real]) instead of calling
// time.Now, time.After, time.AfterFunc, time.NewTicker or time.Sleep.
// Tests construct a [FakeClock] with [Fake] and move it forward with
// [FakeClock.Advance]:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	manager := coordinator.NewManager(coordinator.ManagerConfig{Clock: fake, ...})
//	go manager.WaitForReady(ctx, 30*time.Second)
//	fake.WaitForTimers(1)
//	fake.Advance(30 * time.Second)
//
// [SleepContext] is the cancellable sleep used for fixed settle delays.
// It arms an AfterFunc timer and stops it when the context ends first,
// so no waiter outlives the call.
package clock
