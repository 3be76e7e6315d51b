package oauth

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
)

var (
	// ErrCredentialsInvalid is returned when the client credentials file is
	// missing, unreadable or lacks a required field. It is fatal at startup.
	ErrCredentialsInvalid = errors.New("credentials invalid")

	// ErrTokenFileCorrupt is returned when the token file exists but cannot
	// be read or does not hold a JSON object. Callers treat it as an absent
	// token.
	ErrTokenFileCorrupt = errors.New("token file corrupt")

	// ErrAuthorizationTimeout is returned when no authorization redirect
	// arrived before the deadline.
	ErrAuthorizationTimeout = errors.New("authorization timed out")

	// ErrAuthorizationExchange is returned when the token endpoint rejected
	// an authorization code or a refresh token.
	ErrAuthorizationExchange = errors.New("authorization exchange failed")

	// ErrFilesystem is returned when the token file could not be written,
	// renamed or removed.
	ErrFilesystem = errors.New("filesystem error")

	// ErrNoToken is returned by providers that have no way to obtain a token.
	ErrNoToken = errors.New("no token available")
)

// AuthorizationDeniedError is returned when the provider redirected back with
// an error parameter instead of an authorization code, for example when the
// user clicked "deny".
type AuthorizationDeniedError struct {
	Code        string
	Description string
}

// Error implements the error interface.
func (e *AuthorizationDeniedError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("authorization denied: %s (%s)", e.Code, e.Description)
	}
	return "authorization denied: " + e.Code
}

// Unwrap makes errors.Is(err, ErrAuthorizationExchange) hold.
func (e *AuthorizationDeniedError) Unwrap() error {
	return ErrAuthorizationExchange
}

// IsInvalidGrant reports whether err carries an OAuth "invalid_grant" answer
// from the token endpoint, i.e. the refresh token was revoked or expired.
func IsInvalidGrant(err error) bool {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return false
	}
	if re.ErrorCode != "" {
		return re.ErrorCode == "invalid_grant"
	}
	return strings.Contains(string(re.Body), "invalid_grant")
}
