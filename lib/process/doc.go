// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the binary's exit paths: reporting an error to
// stderr before the structured logger exists, and the exit codes a
// supervisor uses to tell a deliberate fail-fast from a crash.
package process
