// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed encrypts credential artifacts at rest with age
// (filippo.io/age) x25519 keys.
//
// A [Sealer] is built from one private identity and seals to that
// identity's own recipient, so the same key both writes and reads the
// credential directory. Sealed bytes are the base64 text of the age
// ciphertext, one line, so sealed files stay printable.
//
// Private keys travel in *secret.Buffer values and are never written
// to the heap longer than age's parser needs them.
package sealed

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"

	"filippo.io/age"

	"github.com/bureau-foundation/gcbridge/lib/secret"
)

// Keypair is a freshly generated identity. PrivateKey is in
// AGE-SECRET-KEY-1... form; PublicKey in age1... form.
type Keypair struct {
	PrivateKey *secret.Buffer
	PublicKey  string
}

// Close releases the private key memory. Idempotent.
func (k *Keypair) Close() error {
	return k.PrivateKey.Close()
}

// GenerateKeypair creates a new x25519 identity.
func GenerateKeypair() (*Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age identity: %w", err)
	}
	privateKey, err := secret.NewFromBytes([]byte(identity.String()))
	if err != nil {
		return nil, fmt.Errorf("protecting private key: %w", err)
	}
	return &Keypair{PrivateKey: privateKey, PublicKey: identity.Recipient().String()}, nil
}

// Sealer seals and opens data for a single identity. Safe for
// concurrent use.
type Sealer struct {
	identity  *age.X25519Identity
	recipient *age.X25519Recipient
}

// NewSealer parses privateKey. The buffer is borrowed, not closed.
func NewSealer(privateKey *secret.Buffer) (*Sealer, error) {
	identity, err := age.ParseX25519Identity(privateKey.String())
	if err != nil {
		return nil, fmt.Errorf("invalid age private key: %w", err)
	}
	return &Sealer{identity: identity, recipient: identity.Recipient()}, nil
}

// LoadSealer reads a private key file (surrounding whitespace ignored)
// and returns a Sealer for it.
func LoadSealer(path string) (*Sealer, error) {
	privateKey, err := secret.ReadFromPath(path)
	if err != nil {
		return nil, fmt.Errorf("reading age identity %s: %w", path, err)
	}
	defer privateKey.Close()
	return NewSealer(privateKey)
}

// Recipient returns the public key data is sealed to.
func (s *Sealer) Recipient() string {
	return s.recipient.String()
}

// Seal encrypts plaintext and returns base64 ciphertext.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, s.recipient)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return nil, fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalizing age encryption: %w", err)
	}

	encoded := make([]byte, base64.StdEncoding.EncodedLen(ciphertext.Len()))
	base64.StdEncoding.Encode(encoded, ciphertext.Bytes())
	return encoded, nil
}

// Open reverses Seal. Surrounding whitespace in sealed is ignored.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace(sealed)))
	if err != nil {
		return nil, fmt.Errorf("decoding base64 ciphertext: %w", err)
	}
	reader, err := age.Decrypt(bytes.NewReader(raw), s.identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted plaintext: %w", err)
	}
	return plaintext, nil
}
