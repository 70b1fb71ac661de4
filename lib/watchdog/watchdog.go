// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package watchdog records a process's terminal failure so the next
// run can report it.
//
// Before exiting on an unrecoverable condition (the presence session
// dropping too many times in a row), the process writes a [State].
// On startup, the supervisor-restarted process calls [Check]; a recent
// record means the previous run died on purpose, and the caller logs
// it and calls [Clear]. Records older than maxAge are ignored as
// leftovers from unrelated restarts.
//
// [WriteFile] is the atomic write primitive (temporary file, fsync,
// rename, fsync of the parent directory). Readers never see a partial
// file. The credential store uses it for every artifact write.
package watchdog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// State describes why a previous run terminated.
type State struct {
	// Component names the failing subsystem (for example "presence").
	Component string `json:"component"`

	// Account is the presence account the process was serving.
	Account string `json:"account,omitempty"`

	// Count is the failure counter value that triggered the exit.
	Count int `json:"count"`

	// Reason is the last error or disconnect message observed.
	Reason string `json:"reason,omitempty"`

	// Timestamp is when the record was written. Check compares it
	// against maxAge.
	Timestamp time.Time `json:"timestamp"`
}

// WriteFile atomically replaces path with data. The parent directory
// must exist. The temporary file lives next to path so the rename
// never crosses a filesystem.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	temporaryPath := path + ".tmp"

	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("creating temporary file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary file: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming into place: %w", err)
	}

	if parent, err := os.Open(filepath.Dir(path)); err == nil {
		parent.Sync()
		parent.Close()
	}
	return nil
}

// Write atomically writes state to path with mode 0600.
func Write(path string, state State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling watchdog state: %w", err)
	}
	data = append(data, '\n')
	if err := WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing watchdog %s: %w", path, err)
	}
	return nil
}

// Read parses the record at path. A missing file yields an error
// wrapping os.ErrNotExist.
func Read(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return State{}, err
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("parsing watchdog %s: %w", path, err)
	}
	return state, nil
}

// Check returns the record at path and true when it exists and was
// written no more than maxAge before now. A missing or stale record
// returns false with a nil error; other failures (permissions, corrupt
// JSON) are returned so the caller can tell them apart.
func Check(path string, maxAge time.Duration, now time.Time) (State, bool, error) {
	state, err := Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return State{}, false, nil
		}
		return State{}, false, err
	}
	if now.Sub(state.Timestamp) > maxAge {
		return State{}, false, nil
	}
	return state, true, nil
}

// Clear removes the record. Idempotent.
func Clear(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing watchdog %s: %w", path, err)
	}
	return nil
}
