// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds login secrets (account password, one-time-code
// seed) in memory the garbage collector never sees.
//
// A [Buffer] is an anonymous mmap region locked into RAM (no swap) and
// excluded from core dumps. Close zeroes and unmaps it; any access
// after Close panics.
//
// Secrets enter the process through [ReadFromPath] (a file, or stdin
// for "-") or [FromEnv] (an environment variable, which is unset after
// reading). [Zero] scrubs transient heap copies.
//
// Depends on golang.org/x/sys/unix.
package secret
