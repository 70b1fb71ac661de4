// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package credential

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"time"
	"unicode"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tidwall/jsonc"
)

// Kind names a storage slot.
type Kind int

const (
	KindSessionKey Kind = iota
	KindMachineAuth
	KindSentry
)

func (k Kind) String() string {
	switch k {
	case KindSessionKey:
		return "session-key"
	case KindMachineAuth:
		return "machine-auth"
	case KindSentry:
		return "sentry"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Type is what an artifact actually is. The session-key slot holds
// either TypeSessionKey or TypeRefreshToken.
type Type int

const (
	TypeSessionKey Type = iota
	TypeRefreshToken
	TypeMachineAuthToken
	TypeSentry
)

func (t Type) String() string {
	switch t {
	case TypeSessionKey:
		return "session_key"
	case TypeRefreshToken:
		return "refresh_token"
	case TypeMachineAuthToken:
		return "machine_auth_token"
	case TypeSentry:
		return "sentry"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// Kind returns the slot an artifact of this type is stored in.
func (t Type) Kind() Kind {
	switch t {
	case TypeMachineAuthToken:
		return KindMachineAuth
	case TypeSentry:
		return KindSentry
	default:
		return KindSessionKey
	}
}

// Artifact is one stored credential. Value carries the token text for
// every type except TypeSentry, which uses Data.
type Artifact struct {
	Type  Type
	Value string
	Data  []byte

	// AccountName and SavedAt are set for machine auth tokens.
	AccountName string
	SavedAt     time.Time

	// Extra holds machine auth fields other than token, account_name
	// and saved_at. They are written back unchanged.
	Extra map[string]any
}

// jwtPrefixes are the base64url encodings of `{"` and `{ "`, the two
// ways a JWT header begins in practice.
var jwtPrefixes = []string{"eyJ", "eyAi"}

// ClassifyToken reports whether session-key slot text is a refresh
// token (JWT-shaped) or an opaque session key. text is trimmed first.
func ClassifyToken(text string) Type {
	trimmed := strings.TrimSpace(text)
	for _, prefix := range jwtPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return TypeRefreshToken
		}
	}
	return TypeSessionKey
}

// NewToken builds a session-key slot artifact from raw text.
func NewToken(text string) Artifact {
	trimmed := strings.TrimSpace(text)
	return Artifact{Type: ClassifyToken(trimmed), Value: trimmed}
}

// Usable reports whether the artifact is well-formed enough to attempt
// a login with. Refresh tokens must parse as a JWT and, when they carry
// an exp claim, expire after now. The signature is not checked; only
// the service can do that.
func (a Artifact) Usable(now time.Time) bool {
	switch a.Type {
	case TypeSessionKey:
		return a.Value != "" && !strings.ContainsFunc(a.Value, unicode.IsSpace)
	case TypeRefreshToken:
		if a.Value == "" || strings.ContainsFunc(a.Value, unicode.IsSpace) {
			return false
		}
		claims := &jwt.RegisteredClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(a.Value, claims); err != nil {
			return false
		}
		return claims.ExpiresAt == nil || claims.ExpiresAt.After(now)
	case TypeMachineAuthToken:
		return a.Value != ""
	case TypeSentry:
		return len(a.Data) > 0
	default:
		return false
	}
}

// ExpiresAt returns a refresh token's exp claim, if it has one.
func (a Artifact) ExpiresAt() (time.Time, bool) {
	if a.Type != TypeRefreshToken {
		return time.Time{}, false
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(a.Value, claims); err != nil || claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// Field names of the on-disk machine auth document.
const (
	fieldToken       = "token"
	fieldAccountName = "account_name"
	fieldSavedAt     = "saved_at"
)

// ParseMachineAuth interprets a machine auth payload as the service or
// an older file emitted it. Accepted forms:
//
//   - a JSON string, which becomes the token;
//   - a JSON object with a string "token" field, whose account_name
//     and saved_at are honored and whose other fields are kept;
//   - any other JSON object, whose compact encoding becomes the token;
//   - non-JSON text without interior whitespace, taken as the token.
//
// Comments and trailing commas are tolerated. Missing account and
// timestamp are filled from account and now.
func ParseMachineAuth(data []byte, account string, now time.Time) (Artifact, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Artifact{}, fmt.Errorf("machine auth payload is empty")
	}
	artifact := Artifact{Type: TypeMachineAuthToken, AccountName: account, SavedAt: now}

	cleaned := bytes.TrimSpace(jsonc.ToJSON(trimmed))
	if !json.Valid(cleaned) {
		text := string(trimmed)
		if strings.ContainsFunc(text, unicode.IsSpace) {
			return Artifact{}, fmt.Errorf("machine auth payload is neither JSON nor a bare token")
		}
		artifact.Value = text
		return artifact, nil
	}

	var decoded any
	if err := json.Unmarshal(cleaned, &decoded); err != nil {
		return Artifact{}, fmt.Errorf("decoding machine auth payload: %w", err)
	}

	switch value := decoded.(type) {
	case string:
		artifact.Value = value
	case map[string]any:
		token, ok := value[fieldToken].(string)
		if !ok {
			compact := new(bytes.Buffer)
			if err := json.Compact(compact, cleaned); err != nil {
				return Artifact{}, fmt.Errorf("compacting machine auth payload: %w", err)
			}
			artifact.Value = compact.String()
			break
		}
		artifact.Value = token
		if name, ok := value[fieldAccountName].(string); ok && name != "" {
			artifact.AccountName = name
		}
		if saved, ok := value[fieldSavedAt].(string); ok {
			if parsed, err := time.Parse(time.RFC3339Nano, saved); err == nil {
				artifact.SavedAt = parsed
			}
		}
		extra := maps.Clone(value)
		delete(extra, fieldToken)
		delete(extra, fieldAccountName)
		delete(extra, fieldSavedAt)
		if len(extra) > 0 {
			artifact.Extra = extra
		}
	default:
		return Artifact{}, fmt.Errorf("machine auth payload is a JSON %T, want string or object", decoded)
	}

	if artifact.Value == "" {
		return Artifact{}, fmt.Errorf("machine auth token is empty")
	}
	return artifact, nil
}

// marshalMachineAuth renders the structured on-disk form.
func marshalMachineAuth(artifact Artifact) ([]byte, error) {
	document := make(map[string]any, len(artifact.Extra)+3)
	maps.Copy(document, artifact.Extra)
	document[fieldToken] = artifact.Value
	document[fieldAccountName] = artifact.AccountName
	document[fieldSavedAt] = artifact.SavedAt.UTC().Format(time.RFC3339Nano)

	data, err := json.MarshalIndent(document, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
