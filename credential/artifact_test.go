// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package credential

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var epoch = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

func signedToken(t *testing.T, expiresAt *time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{Subject: "76561199441016438"}
	if expiresAt != nil {
		claims.ExpiresAt = jwt.NewNumericDate(*expiresAt)
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return token
}

func TestClassifyToken(t *testing.T) {
	tests := []struct {
		text string
		want Type
	}{
		{"eyJhbGciOiJIUzI1NiJ9.e30.sig", TypeRefreshToken},
		{"eyAiYWxnIjogIkVkRFNBIiB9.e30.sig", TypeRefreshToken},
		{"  eyJhbGciOiJIUzI1NiJ9.e30.sig\n", TypeRefreshToken},
		{"1234567890abcdef", TypeSessionKey},
		{"ey", TypeSessionKey},
		{"", TypeSessionKey},
	}
	for _, test := range tests {
		if got := ClassifyToken(test.text); got != test.want {
			t.Errorf("ClassifyToken(%q) = %v, want %v", test.text, got, test.want)
		}
	}
}

func TestUsable(t *testing.T) {
	future := epoch.Add(time.Hour)
	past := epoch.Add(-time.Hour)

	tests := []struct {
		name     string
		artifact Artifact
		want     bool
	}{
		{"session key", NewToken("abcdef0123456789"), true},
		{"empty session key", Artifact{Type: TypeSessionKey}, false},
		{"session key with space", Artifact{Type: TypeSessionKey, Value: "abc def"}, false},
		{"refresh token without exp", NewToken(signedToken(t, nil)), true},
		{"refresh token expiring later", NewToken(signedToken(t, &future)), true},
		{"expired refresh token", NewToken(signedToken(t, &past)), false},
		{"malformed refresh token", Artifact{Type: TypeRefreshToken, Value: "eyJnot-a-jwt"}, false},
		{"machine auth", Artifact{Type: TypeMachineAuthToken, Value: "tok"}, true},
		{"empty sentry", Artifact{Type: TypeSentry}, false},
		{"sentry", Artifact{Type: TypeSentry, Data: []byte{1, 2}}, true},
	}
	for _, test := range tests {
		if got := test.artifact.Usable(epoch); got != test.want {
			t.Errorf("%s: Usable = %v, want %v", test.name, got, test.want)
		}
	}
}

func TestExpiresAt(t *testing.T) {
	future := epoch.Add(24 * time.Hour)
	expiresAt, ok := NewToken(signedToken(t, &future)).ExpiresAt()
	if !ok || !expiresAt.Equal(future) {
		t.Fatalf("ExpiresAt = (%v, %v), want (%v, true)", expiresAt, ok, future)
	}
	if _, ok := NewToken("opaque").ExpiresAt(); ok {
		t.Error("session key reported an expiry")
	}
}

func TestParseMachineAuthForms(t *testing.T) {
	tests := []struct {
		name        string
		payload     string
		wantToken   string
		wantAccount string
		wantExtra   bool
	}{
		{"bare JSON string", `"abc123"`, "abc123", "gcbot", false},
		{"bare text", "abc123\n", "abc123", "gcbot", false},
		{"structured", `{"token":"abc123","account_name":"other","saved_at":"2026-01-02T03:04:05Z"}`, "abc123", "other", false},
		{"structured with extra", `{"token":"abc123","steamid":"76561199441016438"}`, "abc123", "gcbot", true},
		{"arbitrary object", `{ "guard": { "data": 1 } }`, `{"guard":{"data":1}}`, "gcbot", false},
		{"with comments", "{\n  // written by hand\n  \"token\": \"abc123\",\n}", "abc123", "gcbot", false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			artifact, err := ParseMachineAuth([]byte(test.payload), "gcbot", epoch)
			if err != nil {
				t.Fatalf("ParseMachineAuth: %v", err)
			}
			if artifact.Type != TypeMachineAuthToken {
				t.Errorf("Type = %v", artifact.Type)
			}
			if artifact.Value != test.wantToken {
				t.Errorf("Value = %q, want %q", artifact.Value, test.wantToken)
			}
			if artifact.AccountName != test.wantAccount {
				t.Errorf("AccountName = %q, want %q", artifact.AccountName, test.wantAccount)
			}
			if (artifact.Extra != nil) != test.wantExtra {
				t.Errorf("Extra = %v, want present=%v", artifact.Extra, test.wantExtra)
			}
		})
	}
}

func TestParseMachineAuthStructuredTimestamp(t *testing.T) {
	artifact, err := ParseMachineAuth([]byte(`{"token":"t","saved_at":"2026-01-02T03:04:05Z"}`), "gcbot", epoch)
	if err != nil {
		t.Fatalf("ParseMachineAuth: %v", err)
	}
	want := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if !artifact.SavedAt.Equal(want) {
		t.Errorf("SavedAt = %v, want %v", artifact.SavedAt, want)
	}
}

func TestParseMachineAuthRejects(t *testing.T) {
	for _, payload := range []string{"", "   ", "two words", "42", `""`, `{"token":""}`} {
		if _, err := ParseMachineAuth([]byte(payload), "gcbot", epoch); err == nil {
			t.Errorf("ParseMachineAuth(%q) succeeded, want error", payload)
		}
	}
}
