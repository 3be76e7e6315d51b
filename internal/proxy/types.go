package proxy

import (
	"errors"
	"net/http"
	"strings"
)

var (
	// ErrUpstreamRequest is returned when the upstream could not be reached
	// or its response could not be read.
	ErrUpstreamRequest = errors.New("upstream request failed")

	// ErrTokenUnavailable is returned when no access token could be
	// obtained for the request.
	ErrTokenUnavailable = errors.New("access token unavailable")
)

// QueryParam is one key/value pair of a query string, kept in its raw
// (still percent-encoded) form.
type QueryParam struct {
	Key   string
	Value string
}

// Request is an inbound request to forward.
type Request struct {
	Method string
	// Path is the escaped request path, e.g. "/caldav/v2/user%40example.com/events/".
	Path   string
	Query  []QueryParam
	Header http.Header
	Body   []byte
}

// Response is the upstream answer, passed back unchanged apart from the
// header names, which are lower-cased.
type Response struct {
	StatusCode int
	Header     map[string][]string
	Body       []byte
}

// ParseQuery splits a raw query string into ordered pairs without decoding
// them. A segment without "=" becomes a pair with an empty value.
func ParseQuery(rawQuery string) []QueryParam {
	if rawQuery == "" {
		return nil
	}
	var params []QueryParam
	for _, seg := range strings.Split(rawQuery, "&") {
		if seg == "" {
			continue
		}
		k, v, _ := strings.Cut(seg, "=")
		params = append(params, QueryParam{Key: k, Value: v})
	}
	return params
}

// EncodeQuery joins params as k=v pairs separated by "&", in order and
// without re-encoding.
func EncodeQuery(params []QueryParam) string {
	parts := make([]string, 0, len(params))
	for _, p := range params {
		parts = append(parts, p.Key+"="+p.Value)
	}
	return strings.Join(parts, "&")
}
