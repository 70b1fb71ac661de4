// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package credential

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/gcbridge/lib/clock"
	"github.com/bureau-foundation/gcbridge/lib/failure"
	"github.com/bureau-foundation/gcbridge/lib/sealed"
	"github.com/bureau-foundation/gcbridge/lib/watchdog"
)

// ErrNotFound is returned by Load when the slot is empty.
var ErrNotFound = errors.New("credential not found")

// StoreConfig configures a Store.
type StoreConfig struct {
	// Directory holds the artifact files. Created (0700) on first
	// write. Required.
	Directory string

	// Account names the files. Characters outside [A-Za-z0-9._-] are
	// replaced. Required.
	Account string

	// Sealer, when set, encrypts every file at rest.
	Sealer *sealed.Sealer

	// Clock stamps machine auth saves. Defaults to the real clock.
	Clock clock.Clock

	// Logger is required.
	Logger *slog.Logger
}

// Store reads and writes one account's artifacts. Safe for concurrent
// use across distinct kinds; concurrent saves to one kind race like
// any two renames and the last one wins.
type Store struct {
	directory string
	account   string
	sealer    *sealed.Sealer
	clock     clock.Clock
	logger    *slog.Logger
}

// NewStore validates config.
func NewStore(config StoreConfig) (*Store, error) {
	if config.Directory == "" {
		return nil, fmt.Errorf("credential: Directory is required")
	}
	if config.Logger == nil {
		return nil, fmt.Errorf("credential: Logger is required")
	}
	account := SanitizeAccount(config.Account)
	if account == "" {
		return nil, fmt.Errorf("credential: account name %q is empty after sanitizing", config.Account)
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	return &Store{
		directory: config.Directory,
		account:   account,
		sealer:    config.Sealer,
		clock:     config.Clock,
		logger:    config.Logger.With("account", account),
	}, nil
}

// SanitizeAccount maps an account name to the file-name-safe form used
// in artifact paths.
func SanitizeAccount(account string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, strings.TrimSpace(account))
}

// Account returns the sanitized account name.
func (s *Store) Account() string {
	return s.account
}

// Path returns the file backing kind.
func (s *Store) Path(kind Kind) string {
	var name string
	switch kind {
	case KindSessionKey:
		name = "session-key-" + s.account + ".txt"
	case KindMachineAuth:
		name = "machine-auth-" + s.account + ".json"
	case KindSentry:
		name = "sentry-" + s.account + ".bin"
	default:
		name = kind.String() + "-" + s.account
	}
	if s.sealer != nil {
		name += ".age"
	}
	return filepath.Join(s.directory, name)
}

// Load reads the artifact in kind's slot.
func (s *Store) Load(kind Kind) (Artifact, error) {
	path := s.Path(kind)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Artifact{}, ErrNotFound
		}
		return Artifact{}, failure.Persistence("reading %s: %w", kind, err)
	}
	if s.sealer != nil {
		data, err = s.sealer.Open(data)
		if err != nil {
			return Artifact{}, failure.Persistence("unsealing %s: %w", kind, err)
		}
	}

	switch kind {
	case KindSessionKey:
		artifact := NewToken(string(data))
		if artifact.Value == "" {
			return Artifact{}, ErrNotFound
		}
		return artifact, nil
	case KindMachineAuth:
		artifact, err := ParseMachineAuth(data, s.account, s.clock.Now())
		if err != nil {
			return Artifact{}, failure.Persistence("parsing %s: %w", path, err)
		}
		return artifact, nil
	case KindSentry:
		if len(data) == 0 {
			return Artifact{}, ErrNotFound
		}
		return Artifact{Type: TypeSentry, Data: data}, nil
	default:
		return Artifact{}, failure.Internal("unknown credential kind %d", int(kind))
	}
}

// Save replaces kind's slot with artifact. The artifact's type must
// belong to kind. The write is verified by reading it back.
func (s *Store) Save(kind Kind, artifact Artifact) error {
	if artifact.Type.Kind() != kind {
		return failure.Internal("cannot store %s in the %s slot", artifact.Type, kind)
	}

	var content []byte
	switch kind {
	case KindSessionKey:
		value := strings.TrimSpace(artifact.Value)
		if value == "" {
			return failure.InvalidInput("refusing to save an empty %s", artifact.Type)
		}
		content = []byte(value + "\n")
	case KindMachineAuth:
		if artifact.Value == "" {
			return failure.InvalidInput("refusing to save an empty machine auth token")
		}
		if artifact.AccountName == "" {
			artifact.AccountName = s.account
		}
		if artifact.SavedAt.IsZero() {
			artifact.SavedAt = s.clock.Now()
		}
		var err error
		content, err = marshalMachineAuth(artifact)
		if err != nil {
			return failure.Persistence("encoding machine auth: %w", err)
		}
	case KindSentry:
		if len(artifact.Data) == 0 {
			return failure.InvalidInput("refusing to save an empty sentry blob")
		}
		content = artifact.Data
	}

	if s.sealer != nil {
		sealedContent, err := s.sealer.Seal(content)
		if err != nil {
			return failure.Persistence("sealing %s: %w", kind, err)
		}
		content = sealedContent
	}

	if err := s.write(s.Path(kind), content); err != nil {
		return failure.Persistence("saving %s: %w", kind, err)
	}
	s.logger.Debug("credential saved", "kind", kind.String(), "type", artifact.Type.String())
	return nil
}

func (s *Store) write(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	if err := watchdog.WriteFile(path, content, 0600); err != nil {
		return err
	}

	readBack, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading back: %w", err)
	}
	written, stored := blake3.Sum256(content), blake3.Sum256(readBack)
	if !bytes.Equal(written[:], stored[:]) {
		return fmt.Errorf("read-back digest mismatch for %s", path)
	}
	return nil
}

// Delete empties kind's slot. Deleting an empty slot is not an error.
func (s *Store) Delete(kind Kind) error {
	if err := os.Remove(s.Path(kind)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return failure.Persistence("deleting %s: %w", kind, err)
	}
	s.logger.Debug("credential deleted", "kind", kind.String())
	return nil
}
