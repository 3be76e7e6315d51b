package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/giantswarm/dav-proxy/internal/oauth"
	"github.com/giantswarm/dav-proxy/pkg/logging"
)

const (
	// DefaultUpstream is the Google DAV API base.
	DefaultUpstream = "https://apidata.googleusercontent.com/"

	// DefaultTimeout bounds one upstream round trip.
	DefaultTimeout = 2 * time.Minute
)

// Config configures a Forwarder.
type Config struct {
	// Upstream is the base URL requests are forwarded to.
	Upstream string

	// UserAgent is sent unless the client sets its own.
	UserAgent string

	// Timeout bounds each upstream round trip, including reading the body.
	Timeout time.Duration

	// Transport overrides the upstream transport. Compression must be left
	// to the client; the default transport has DisableCompression set.
	Transport http.RoundTripper
}

// Forwarder relays requests to the upstream with a bearer token added.
// Paths, query strings, bodies and response bodies pass through unchanged.
type Forwarder struct {
	base      string
	userAgent string
	tokens    oauth.TokenProvider
	client    *http.Client
}

// NewForwarder creates a Forwarder that takes tokens from tokens.
func NewForwarder(cfg Config, tokens oauth.TokenProvider) (*Forwarder, error) {
	if tokens == nil {
		return nil, errors.New("token provider is required")
	}
	if cfg.Upstream == "" {
		cfg.Upstream = DefaultUpstream
	}
	u, err := url.Parse(cfg.Upstream)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid upstream URL %q", cfg.Upstream)
	}
	base := cfg.Upstream
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "dav-proxy"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	transport := cfg.Transport
	if transport == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.DisableCompression = true
		transport = t
	}

	return &Forwarder{
		base:      base,
		userAgent: cfg.UserAgent,
		tokens:    tokens,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
			// Redirects go back to the client untouched.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}, nil
}

// Target returns the upstream URL for path and query.
func (f *Forwarder) Target(path string, query []QueryParam) string {
	target := f.base + strings.TrimPrefix(path, "/")
	if len(query) > 0 {
		target += "?" + EncodeQuery(query)
	}
	return target
}

// Forward sends req upstream and returns the raw response. It does not
// retry. An upstream 401 invalidates the token that was used.
func (f *Forwarder) Forward(ctx context.Context, req *Request) (*Response, error) {
	tok, err := f.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenUnavailable, err)
	}
	accessToken := tok.AccessToken()

	target := f.Target(req.Path, req.Query)
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	upstreamReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %w", ErrUpstreamRequest, err)
	}
	upstreamReq.Header = buildUpstreamHeader(req.Header, f.userAgent, "Bearer "+accessToken)

	resp, err := f.client.Do(upstreamReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstreamRequest, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", ErrUpstreamRequest, err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		upstreamUnauthorized.Inc()
		f.tokens.Invalidate(accessToken)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     lowerCaseHeader(resp.Header),
		Body:       respBody,
	}, nil
}

// ServeHTTP forwards r and writes the upstream response to w.
func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := uuid.NewString()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		logging.Warn("Proxy", "[%s] Failed to read request body: %v", requestID, err)
		f.writeError(w, r, start, http.StatusBadRequest, "failed to read request body")
		return
	}

	resp, err := f.Forward(r.Context(), &Request{
		Method: r.Method,
		Path:   r.URL.EscapedPath(),
		Query:  ParseQuery(r.URL.RawQuery),
		Header: r.Header,
		Body:   body,
	})
	if err != nil {
		status, cause := statusForError(err)
		upstreamErrors.WithLabelValues(cause).Inc()
		logging.Error("Proxy", err, "[%s] %s %s failed", requestID, r.Method, r.URL.Path)
		f.writeError(w, r, start, status, http.StatusText(status)+": "+cause)
		return
	}

	// net/http looks response headers up by canonical key; a lower-case
	// Content-Type or Date would be sent alongside a generated one.
	h := w.Header()
	for k, vs := range resp.Header {
		h[http.CanonicalHeaderKey(k)] = vs
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(resp.Body); err != nil {
		logging.Debug("Proxy", "[%s] Client went away while writing response: %v", requestID, err)
	}

	f.observe(r.Method, resp.StatusCode, start)
	logging.Debug("Proxy", "[%s] %s %s -> %d (%d bytes, %s)",
		requestID, r.Method, r.URL.Path, resp.StatusCode, len(resp.Body), time.Since(start).Round(time.Millisecond))
}

func (f *Forwarder) writeError(w http.ResponseWriter, r *http.Request, start time.Time, status int, msg string) {
	http.Error(w, msg, status)
	f.observe(r.Method, status, start)
}

func (f *Forwarder) observe(method string, status int, start time.Time) {
	requestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	requestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

// statusForError maps a Forward error to the status returned to the client.
func statusForError(err error) (int, string) {
	if errors.Is(err, ErrTokenUnavailable) {
		if errors.Is(err, oauth.ErrAuthorizationTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout, "token acquisition timed out"
		}
		return http.StatusServiceUnavailable, "no access token"
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return http.StatusGatewayTimeout, "upstream timed out"
	}
	return http.StatusBadGateway, "upstream unreachable"
}
