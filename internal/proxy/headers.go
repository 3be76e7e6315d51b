package proxy

import (
	"net/http"
	"strings"
)

// DefaultContentType is sent when the client did not set a Content-Type.
const DefaultContentType = "application/xml; charset=UTF-8"

// hopByHopHeaders are meaningful only for a single connection and are never
// forwarded (RFC 9110 section 7.6.1).
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// removeHopByHop deletes hop-by-hop headers from h, including any header
// named in Connection.
func removeHopByHop(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

// buildUpstreamHeader merges headers for the upstream request. Precedence,
// lowest first: defaults, inbound headers, the injected Authorization.
func buildUpstreamHeader(inbound http.Header, userAgent, authorization string) http.Header {
	out := make(http.Header, len(inbound)+3)
	out.Set("User-Agent", userAgent)
	out.Set("Content-Type", DefaultContentType)

	in := canonical(inbound)
	removeHopByHop(in)
	in.Del("Host")
	in.Del("Content-Length")

	for k, vs := range in {
		out[k] = vs
	}

	out.Set("Authorization", authorization)
	return out
}

// canonical copies h with canonical header names, merging keys that only
// differ in case.
func canonical(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vs := range h {
		ck := http.CanonicalHeaderKey(k)
		out[ck] = append(out[ck], vs...)
	}
	return out
}

// lowerCaseHeader copies h with every name lower-cased, dropping hop-by-hop
// headers.
func lowerCaseHeader(h http.Header) map[string][]string {
	in := canonical(h)
	removeHopByHop(in)

	out := make(map[string][]string, len(in))
	for k, vs := range in {
		lk := strings.ToLower(k)
		out[lk] = append(out[lk], vs...)
	}
	return out
}
