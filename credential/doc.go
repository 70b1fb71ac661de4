// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package credential persists the artifacts that let the presence
// session log in again without the password or a one-time code.
//
// A [Store] keeps three slots per account, one file each:
//
//   - [KindSessionKey]: session-key-<account>.txt, plain text holding
//     either a short-lived session key or a JWT-shaped refresh token
//     (distinguished by [ClassifyToken]).
//   - [KindMachineAuth]: machine-auth-<account>.json, the device-trust
//     token as {"token","account_name","saved_at"} plus any fields the
//     service sent alongside it.
//   - [KindSentry]: sentry-<account>.bin, the legacy raw blob.
//
// Writes are atomic (temporary file, fsync, rename) and verified by
// reading the file back and comparing BLAKE3 digests, so a write that
// silently failed is reported rather than discovered at the next
// login. When a [sealed.Sealer] is configured, every file is
// age-encrypted and carries an extra ".age" suffix.
//
// Missing slots load as [ErrNotFound]. Every other failure is a
// failure.KindPersistence error.
package credential
