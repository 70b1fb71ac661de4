// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"testing"

	"github.com/bureau-foundation/gcbridge/lib/failure"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"plain", errors.New("boom"), ExitError},
		{"auth", failure.Auth("bad password"), ExitError},
		{"fatal disconnect", fmt.Errorf("presence: %w", failure.FatalDisconnect("5 disconnects")), ExitFatalDisconnect},
	}
	for _, test := range tests {
		if got := ExitCode(test.err); got != test.want {
			t.Errorf("%s: ExitCode = %d, want %d", test.name, got, test.want)
		}
	}
}
