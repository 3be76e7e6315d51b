package oauth

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeProvider is an OAuth token endpoint.
type fakeProvider struct {
	server *httptest.Server

	mu           sync.Mutex
	code         string
	refreshToken string
	rejectAll    bool
	omitExpiry   bool
	delay        time.Duration

	exchanges atomic.Int32
	refreshes atomic.Int32
	issued    atomic.Int32
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{code: "good-code", refreshToken: "refresh-1"}
	p.server = httptest.NewServer(http.HandlerFunc(p.handle))
	t.Cleanup(p.server.Close)
	return p
}

func (p *fakeProvider) tokenURL() string { return p.server.URL + "/token" }

func (p *fakeProvider) credentials() *Credentials {
	return &Credentials{
		ProjectID:    "test",
		AuthURI:      p.server.URL + "/auth",
		TokenURI:     p.tokenURL(),
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		Scopes:       []string{"https://www.googleapis.com/auth/calendar"},
	}
}

func (p *fakeProvider) setRejectAll(v bool) {
	p.mu.Lock()
	p.rejectAll = v
	p.mu.Unlock()
}

func (p *fakeProvider) setOmitExpiry(v bool) {
	p.mu.Lock()
	p.omitExpiry = v
	p.mu.Unlock()
}

func (p *fakeProvider) setDelay(d time.Duration) {
	p.mu.Lock()
	p.delay = d
	p.mu.Unlock()
}

func (p *fakeProvider) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/token" {
		http.NotFound(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p.mu.Lock()
	code, rt, reject, delay := p.code, p.refreshToken, p.rejectAll, p.delay
	p.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	if r.PostForm.Get("client_id") != "client-id" || r.PostForm.Get("client_secret") != "client-secret" {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client")
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		p.exchanges.Add(1)
		if reject || r.PostForm.Get("code") != code {
			writeOAuthError(w, http.StatusBadRequest, "invalid_grant")
			return
		}
		p.writeToken(w, rt)
	case "refresh_token":
		p.refreshes.Add(1)
		if reject || r.PostForm.Get("refresh_token") != rt {
			writeOAuthError(w, http.StatusBadRequest, "invalid_grant")
			return
		}
		// like Google, a refresh answer does not repeat the refresh token
		p.writeToken(w, "")
	default:
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type")
	}
}

func (p *fakeProvider) writeToken(w http.ResponseWriter, refreshToken string) {
	n := p.issued.Add(1)
	body := map[string]any{
		"access_token": fmt.Sprintf("access-%d", n),
		"token_type":   "Bearer",
		"expires_in":   3600,
		"scope":        "https://www.googleapis.com/auth/calendar",
	}
	p.mu.Lock()
	if p.omitExpiry {
		delete(body, "expires_in")
	}
	p.mu.Unlock()
	if refreshToken != "" {
		body["refresh_token"] = refreshToken
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func writeOAuthError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "error_description": "test rejection"})
}

// fakeBrowser plays the user: it follows the authorization URL back to the
// loopback redirect with the given query parameters added to state.
type fakeBrowser struct {
	t      *testing.T
	params url.Values

	mu     sync.Mutex
	opened []string
}

func newFakeBrowser(t *testing.T, params url.Values) *fakeBrowser {
	return &fakeBrowser{t: t, params: params}
}

func (b *fakeBrowser) Open(authURL string) error {
	b.mu.Lock()
	b.opened = append(b.opened, authURL)
	b.mu.Unlock()

	u, err := url.Parse(authURL)
	if err != nil {
		return err
	}
	q := u.Query()
	redirect, err := url.Parse(q.Get("redirect_uri"))
	if err != nil {
		return err
	}
	rq := url.Values{}
	rq.Set("state", q.Get("state"))
	for k, vs := range b.params {
		rq[k] = vs
	}
	redirect.Path = "/"
	redirect.RawQuery = rq.Encode()

	go func() {
		resp, err := http.Get(redirect.String())
		if err != nil {
			b.t.Logf("fake browser: %v", err)
			return
		}
		resp.Body.Close()
	}()
	return nil
}

func (b *fakeBrowser) Opened() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.opened...)
}

func codeParams(code string) url.Values {
	return url.Values{"code": {code}, "scope": {"https://www.googleapis.com/auth/calendar"}}
}
