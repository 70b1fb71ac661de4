// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"os"

	"github.com/bureau-foundation/gcbridge/lib/failure"
)

// Exit codes.
const (
	ExitOK    = 0
	ExitError = 1

	// ExitFatalDisconnect (EX_TEMPFAIL) means the presence session was
	// lost too many times in a row. A supervisor should restart the
	// process after a delay.
	ExitFatalDisconnect = 75
)

// ExitCode maps err to an exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case failure.Is(err, failure.KindFatalDisconnect):
		return ExitFatalDisconnect
	default:
		return ExitError
	}
}

// Fatal writes "error: err" to stderr and exits with ExitCode(err).
// Use it in main() for errors from run(), where the structured logger
// may not be initialized.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(ExitCode(err))
}

