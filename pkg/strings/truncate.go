package strings

import (
	"strings"
)

// DefaultErrorBodyMaxLen is the default maximum length of a provider error
// body quoted in an error message or log line.
const DefaultErrorBodyMaxLen = 200

// MinTruncateLen is the minimum maxLen value for Truncate.
// Values smaller than this would not leave room for meaningful content plus "...".
const MinTruncateLen = 4

// Truncate shortens s to maxLen runes and flattens it to a single line.
// Runs of whitespace (including newlines) collapse into single spaces and
// "..." is appended when the string was cut.
//
// If maxLen is less than MinTruncateLen it is clamped to MinTruncateLen.
func Truncate(s string, maxLen int) string {
	if maxLen < MinTruncateLen {
		maxLen = MinTruncateLen
	}

	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return s
}

// ErrorBody renders a raw HTTP error body for inclusion in an error message.
// An empty body is rendered as "<empty body>".
func ErrorBody(body []byte) string {
	s := Truncate(string(body), DefaultErrorBodyMaxLen)
	if s == "" {
		return "<empty body>"
	}
	return s
}
