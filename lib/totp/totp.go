// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package totp computes the five-character one-time codes the presence
// service asks for during password login when the account has a
// mobile authenticator.
//
// The algorithm is RFC 6238 TOTP (HMAC-SHA1, 30 second step, dynamic
// truncation) with a different final encoding: instead of decimal
// digits, the truncated value is rendered as five characters from a
// 26-symbol alphabet that omits look-alike letters and digits.
//
// The seed is the authenticator's shared secret in standard base64,
// exactly as authenticator exports store it.
package totp

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

// Step is the code validity window.
const Step = 30 * time.Second

// CodeLength is the number of characters in a code.
const CodeLength = 5

const alphabet = "23456789BCDFGHJKMNPQRTVWXY"

// Code returns the code for seed at time at.
func Code(seed []byte, at time.Time) (string, error) {
	key, err := decodeSeed(seed)
	if err != nil {
		return "", err
	}
	defer clear(key)
	return codeForCounter(key, uint64(at.Unix())/uint64(Step/time.Second)), nil
}

// Remaining returns how long the code for at stays valid. Callers that
// are close to a step boundary may prefer to wait for a fresh code.
func Remaining(at time.Time) time.Duration {
	elapsed := time.Duration(at.Unix()%int64(Step/time.Second)) * time.Second
	return Step - elapsed
}

func decodeSeed(seed []byte) ([]byte, error) {
	trimmed := strings.TrimSpace(string(seed))
	if trimmed == "" {
		return nil, fmt.Errorf("totp: empty seed")
	}
	key, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("totp: seed is not base64: %w", err)
	}
	return key, nil
}

func codeForCounter(key []byte, counter uint64) string {
	var message [8]byte
	binary.BigEndian.PutUint64(message[:], counter)

	mac := hmac.New(sha1.New, key)
	mac.Write(message[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	value := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	var code strings.Builder
	code.Grow(CodeLength)
	for range CodeLength {
		code.WriteByte(alphabet[value%uint32(len(alphabet))])
		value /= uint32(len(alphabet))
	}
	return code.String()
}
