// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive], [RequireSend], and [RequireClosed] wrap the
// select-with-timeout safety valve so individual tests never call
// time.After themselves. They are the only place tests use real
// wall-clock timeouts; everything else runs on clock.Fake.
//
// [UniqueID] generates monotonically increasing identifiers, and
// [AccountID] generates distinct valid 17-digit profile identifiers.
//
// All helpers call t.Fatalf on failure.
package testutil
