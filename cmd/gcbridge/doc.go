// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// gcbridge keeps a presence session and a game coordinator connection
// alive and serves player profile lookups over HTTP.
//
// Usage:
//
//	gcbridge --config /etc/gcbridge/gcbridge.yaml [--env-file .env] [--log-level debug]
//
// The protocol itself is spoken by a sidecar process reached over a
// WebSocket (sidecar.url in the config). gcbridge owns login, credential
// persistence, readiness, and request correlation.
//
// Exit status 75 means the presence session was lost too many times in
// a row. A fatal-disconnect record is left in the state directory and
// reported by the next run. Any other failure exits 1.
//
// When stdin is a terminal and no authenticator seed is configured,
// one-time-code prompts are read from the terminal. They can always be
// answered with POST /v1/login/code.
package main
