// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package profile fetches player profile records through the
// coordinator and normalizes them.
//
// The coordinator answers profile requests asynchronously, as events
// keyed by identifier. A [Correlator] pairs each [Correlator.Fetch]
// with its response: concurrent fetches for the same identifier queue
// in order and each response settles exactly one of them. Every exit
// path (response, timeout, send failure, cancellation, Close) removes
// the pending entry exactly once, and a response that arrives with
// nothing pending is dropped.
package profile
