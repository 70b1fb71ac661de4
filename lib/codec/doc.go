// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the shared CBOR configuration for gcbridge's
// sidecar protocol.
//
// JSON is used at the edges a human or an HTTP client sees (the
// routing surface, credential files, the watchdog record). CBOR is used
// on the WebSocket link to the protocol sidecar, where frames carry
// nested payloads that are decoded lazily.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2). The
// decoder turns untyped maps into map[string]any so profile payloads
// can be walked with ordinary type switches.
//
//	data, err := codec.Marshal(frame)
//	err = codec.Unmarshal(data, &frame)
//
// Struct tags: types that only travel on the sidecar link use `cbor`
// tags. Types that are also rendered as JSON use `json` tags, which
// fxamacker/cbor reads as a fallback. Never put both on one field.
package codec
