// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"sync/atomic"
)

var uniqueCounter atomic.Uint64

// UniqueID returns "prefix-N" with N increasing across the test binary.
//
//	callID := testutil.UniqueID("call") // "call-1", "call-2", ...
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, uniqueCounter.Add(1))
}

// AccountID returns a distinct 17-digit identifier in the individual
// account range (7656119...).
func AccountID() string {
	return fmt.Sprintf("7656119%010d", uniqueCounter.Add(1))
}
