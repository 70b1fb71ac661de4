// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package failure classifies errors so that callers (the HTTP surface,
// the orchestrator, the binary's exit path) can make programmatic
// decisions without parsing message text.
//
// An [*Error] wraps an inner error with a [Kind]. The message is the
// inner error's message; the kind travels alongside it. Use the
// kind-specific constructors rather than building Error directly:
//
//	return failure.InvalidInput("identifier %q is not 17 digits", id)
//	return failure.Wrap(failure.KindPersistence, err)
//
// [KindOf] walks the error chain and returns the first kind found, or
// [KindInternal] for unclassified errors. [Is] is shorthand for
// comparing KindOf against one kind.
package failure
