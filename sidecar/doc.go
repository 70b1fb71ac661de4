// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sidecar connects gcbridge to the protocol sidecar: the
// process that speaks the presence and coordinator wire protocols.
//
// One WebSocket carries binary CBOR frames in both directions:
//
//   - hello (sidecar to gcbridge, first frame): the capabilities the
//     sidecar implements, as method names.
//   - call (gcbridge to sidecar): a method invocation with a UUID id and
//     CBOR params.
//   - result (sidecar to gcbridge): the outcome of the call with the same
//     id, either a payload or a [RemoteError].
//   - event (sidecar to gcbridge): an asynchronous protocol event,
//     scoped to "presence" or "coordinator".
//
// [Conn] owns the socket, matches results to calls, and routes events
// to the scope handlers registered by [NewPresenceClient] and
// [NewCoordinatorClient]. Those adapt the sidecar to presence.Client
// and coordinator.Client. Optional methods the sidecar did not
// advertise fail with [ErrCapabilityUnavailable].
package sidecar
