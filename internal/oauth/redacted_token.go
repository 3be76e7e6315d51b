package oauth

import (
	"crypto/sha256"
	"encoding/hex"
)

// RedactedToken wraps a bearer credential so it cannot end up in logs.
//
// String, GoString and the marshalers all return "[REDACTED]". Fingerprint
// gives a short stable identifier for correlating log lines that refer to
// the same credential.
type RedactedToken struct {
	value string
}

// NewRedactedToken creates a new RedactedToken wrapping the given value.
func NewRedactedToken(value string) RedactedToken {
	return RedactedToken{value: value}
}

// Value returns the actual token value.
// Only use it to build an Authorization header. Never log the result.
func (t RedactedToken) Value() string {
	return t.value
}

// Fingerprint returns the first 8 hex characters of the SHA-256 of the value,
// or "none" for an empty token.
func (t RedactedToken) Fingerprint() string {
	if t.value == "" {
		return "none"
	}
	sum := sha256.Sum256([]byte(t.value))
	return hex.EncodeToString(sum[:4])
}

func (t RedactedToken) String() string {
	return "[REDACTED]"
}

func (t RedactedToken) GoString() string {
	return "oauth.RedactedToken{[REDACTED]}"
}

// IsEmpty returns true if the token value is empty.
func (t RedactedToken) IsEmpty() bool {
	return t.value == ""
}

func (t RedactedToken) MarshalText() ([]byte, error) {
	return []byte("[REDACTED]"), nil
}

func (t RedactedToken) MarshalJSON() ([]byte, error) {
	return []byte(`"[REDACTED]"`), nil
}
