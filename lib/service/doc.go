// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service runs gcbridge's HTTP listener with a context-driven
// lifecycle.
//
// [HTTPServer] binds its TCP listener up front, closes [HTTPServer.Ready]
// once it accepts connections, and on context cancellation stops
// accepting and drains in-flight requests for at most the configured
// shutdown timeout. The caller supplies the http.Handler.
package service
