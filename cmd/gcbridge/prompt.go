// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/bureau-foundation/gcbridge/presence"
)

// terminalPrompter reads one-time codes typed at the terminal. Prompts
// are serialized so two never share the input.
type terminalPrompter struct {
	mu     sync.Mutex
	input  *bufio.Reader
	output io.Writer
	logger *slog.Logger
}

func newTerminalPrompter(input io.Reader, output io.Writer, logger *slog.Logger) *terminalPrompter {
	return &terminalPrompter{input: bufio.NewReader(input), output: output, logger: logger}
}

// prompt asks for a code and passes it to submit. A prompt answered
// meanwhile over HTTP makes submit fail; that is logged and ignored.
func (p *terminalPrompter) prompt(ctx context.Context, info presence.GuardPromptInfo, submit func(context.Context, string) error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if info.LastCodeWrong {
		fmt.Fprintln(p.output, "The previous one-time code was rejected.")
	}
	if info.Domain != "" {
		fmt.Fprintf(p.output, "One-time code sent to your %s address: ", info.Domain)
	} else {
		fmt.Fprint(p.output, "One-time code from your authenticator: ")
	}

	line, err := p.input.ReadString('\n')
	if err != nil && line == "" {
		p.logger.Warn("reading one-time code from terminal failed", "error", err)
		return
	}
	code := strings.TrimSpace(line)
	if code == "" {
		p.logger.Warn("empty one-time code entered; submit one with POST /v1/login/code")
		return
	}
	if err := submit(ctx, code); err != nil {
		p.logger.Warn("submitting one-time code failed", "error", err)
	}
}
