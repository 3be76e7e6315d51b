package oauth

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"golang.org/x/oauth2"
)

// Token is an OAuth2 token document as stored in the token file.
//
// The document is kept as raw JSON values so keys this program does not know
// about survive a load/save cycle unchanged. Only access_token,
// refresh_token, token_type, expiry and expires_at are interpreted.
type Token map[string]json.RawMessage

// Well-known token document keys.
const (
	keyAccessToken  = "access_token"
	keyRefreshToken = "refresh_token"
	keyTokenType    = "token_type"
	keyExpiry       = "expiry"
	keyExpiresAt    = "expires_at"
)

// extraKeys are copied from a token endpoint answer in addition to the
// standard fields.
var extraKeys = []string{"scope", "id_token", "expires_in"}

// ParseToken decodes a token document. The document must be a JSON object.
func ParseToken(data []byte) (Token, error) {
	var t Token
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenFileCorrupt, err)
	}
	if t == nil {
		return nil, fmt.Errorf("%w: document is not a JSON object", ErrTokenFileCorrupt)
	}
	return t, nil
}

func (t Token) str(key string) string {
	raw, ok := t[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// AccessToken returns the bearer credential, or "" when absent.
func (t Token) AccessToken() string { return t.str(keyAccessToken) }

// RefreshToken returns the refresh credential, or "" when absent.
func (t Token) RefreshToken() string { return t.str(keyRefreshToken) }

// TokenType returns the token type, defaulting to "Bearer".
func (t Token) TokenType() string {
	if tt := t.str(keyTokenType); tt != "" {
		return tt
	}
	return "Bearer"
}

// Expiry returns when the access token expires. The zero time means the
// document carries no expiry.
//
// Both the RFC 3339 "expiry" field and the epoch-seconds "expires_at" field
// are understood; "expiry" wins when both are present.
func (t Token) Expiry() time.Time {
	if s := t.str(keyExpiry); s != "" {
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts
		}
	}
	if raw, ok := t[keyExpiresAt]; ok {
		var f float64
		if err := json.Unmarshal(raw, &f); err == nil && f > 0 {
			sec, frac := math.Modf(f)
			return time.Unix(int64(sec), int64(frac*1e9))
		}
	}
	return time.Time{}
}

// Valid reports whether the token carries an access token that does not
// expire within margin of now. A token without expiry is valid.
func (t Token) Valid(now time.Time, margin time.Duration) bool {
	if t.AccessToken() == "" {
		return false
	}
	exp := t.Expiry()
	if exp.IsZero() {
		return true
	}
	return now.Add(margin).Before(exp)
}

// Clone returns a shallow copy of the document.
func (t Token) Clone() Token {
	if t == nil {
		return nil
	}
	c := make(Token, len(t))
	for k, v := range t {
		c[k] = v
	}
	return c
}

// Merge returns a copy of t with every key of update written over it.
// Keys only present in t are preserved.
func (t Token) Merge(update Token) Token {
	out := t.Clone()
	if out == nil {
		out = make(Token, len(update))
	}
	for k, v := range update {
		out[k] = v
	}
	return out
}

// Expire returns a copy of t whose expiry lies in the past, so the next
// validity check fails and a refresh is attempted.
func (t Token) Expire(now time.Time) Token {
	out := t.Clone()
	past := now.Add(-time.Second).UTC()
	out.set(keyExpiry, past.Format(time.RFC3339Nano))
	out.set(keyExpiresAt, float64(past.Unix()))
	return out
}

func (t Token) set(key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	t[key] = raw
}

// OAuth2 converts the document into an *oauth2.Token.
func (t Token) OAuth2() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken(),
		RefreshToken: t.RefreshToken(),
		TokenType:    t.TokenType(),
		Expiry:       t.Expiry(),
	}
}

// Redacted wraps the access token for logging.
func (t Token) Redacted() RedactedToken {
	return NewRedactedToken(t.AccessToken())
}

// TokenFromOAuth2 converts a token endpoint answer into a document.
// Empty fields are omitted so that merging it over a previous document
// keeps, for example, a refresh token the provider did not repeat.
func TokenFromOAuth2(tok *oauth2.Token) Token {
	t := make(Token)
	if tok == nil {
		return t
	}
	if tok.AccessToken != "" {
		t.set(keyAccessToken, tok.AccessToken)
	}
	if tok.RefreshToken != "" {
		t.set(keyRefreshToken, tok.RefreshToken)
	}
	if tok.TokenType != "" {
		t.set(keyTokenType, tok.TokenType)
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry.UTC()
		t.set(keyExpiry, exp.Format(time.RFC3339Nano))
		t.set(keyExpiresAt, float64(exp.UnixNano())/1e9)
	}
	for _, k := range extraKeys {
		if v := tok.Extra(k); v != nil {
			t.set(k, v)
		}
	}
	return t
}
