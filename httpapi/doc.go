// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package httpapi is the HTTP routing surface over an orchestrator:
// health and readiness probes, profile lookup, and the manual login
// controls.
//
// Errors are JSON objects {"error": message, "kind": kind}. Kinds map
// to status codes as follows: not_ready is 503, invalid_input is 400,
// anything else is 500.
package httpapi
