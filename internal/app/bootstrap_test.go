package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/dav-proxy/internal/config"
	"github.com/giantswarm/dav-proxy/internal/oauth"
)

// googleStub issues one token pair for the code "good-code".
func googleStub(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/token" || r.ParseForm() != nil || r.PostForm.Get("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":"invalid_grant"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"access-1","token_type":"Bearer","expires_in":3600,"refresh_token":"refresh-1"}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

type upstreamRecord struct {
	Method        string
	RequestURI    string
	Authorization string
	UserAgent     string
	Body          string
}

type upstreamStub struct {
	*httptest.Server
	mu   sync.Mutex
	seen []upstreamRecord
}

func newUpstreamStub(t *testing.T) *upstreamStub {
	t.Helper()
	u := &upstreamStub{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		u.mu.Lock()
		u.seen = append(u.seen, upstreamRecord{
			Method:        r.Method,
			RequestURI:    r.RequestURI,
			Authorization: r.Header.Get("Authorization"),
			UserAgent:     r.Header.Get("User-Agent"),
			Body:          string(body),
		})
		u.mu.Unlock()
		w.Header().Set("Content-Type", "application/xml; charset=utf-8")
		w.WriteHeader(207)
		_, _ = io.WriteString(w, "<multistatus/>")
	}))
	t.Cleanup(u.Server.Close)
	return u
}

func (u *upstreamStub) records() []upstreamRecord {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]upstreamRecord(nil), u.seen...)
}

// approve follows the authorization URL back to the loopback redirect the
// way a browser would after the user consents.
func approve(authURL string) error {
	u, err := url.Parse(authURL)
	if err != nil {
		return err
	}
	q := u.Query()
	redirect := q.Get("redirect_uri") + "/?" + url.Values{
		"code":  {"good-code"},
		"state": {q.Get("state")},
	}.Encode()
	go func() {
		resp, err := http.Get(redirect)
		if err == nil {
			resp.Body.Close()
		}
	}()
	return nil
}

func writeCredentials(t *testing.T, dir, providerURL string) string {
	t.Helper()
	doc := map[string]any{
		"installed": map[string]any{
			"project_id":    "dav-proxy-test",
			"auth_uri":      providerURL + "/auth",
			"token_uri":     providerURL + "/token",
			"client_id":     "client-id",
			"client_secret": "client-secret",
			"redirect_uris": []string{"http://localhost"},
		},
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	path := filepath.Join(dir, "credentials.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func testSettings(t *testing.T, upstream string) config.Config {
	t.Helper()
	dir := t.TempDir()
	s := config.Default()
	s.Listen = config.ListenConfig{Bind: "127.0.0.1", Port: 0}
	s.Upstream = upstream + "/"
	s.TokenFile = filepath.Join(dir, "token.json")
	s.CredentialsFile = filepath.Join(dir, "credentials.json")
	s.AuthTimeout = 10 * time.Second
	s.Log.Level = "debug"
	return s
}

func startApp(t *testing.T, cfg *Config) (*Application, string) {
	t.Helper()
	cfg.LogOutput = io.Discard
	cfg.Prompt = io.Discard

	application, err := NewApplication(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- application.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("application did not stop")
		}
	})

	require.Eventually(t, func() bool { return len(application.Addrs()) > 0 }, 5*time.Second, 10*time.Millisecond)
	return application, "http://" + application.Addrs()[0].String()
}

func propfind(t *testing.T, base, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest("PROPFIND", base+path, strings.NewReader(`<propfind xmlns="DAV:"><allprop/></propfind>`))
	require.NoError(t, err)
	req.Header.Set("Depth", "1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestApplication_AuthorizesOnFirstRequestAndForwards(t *testing.T) {
	provider := googleStub(t)
	upstream := newUpstreamStub(t)

	settings := testSettings(t, upstream.URL)
	writeCredentials(t, filepath.Dir(settings.CredentialsFile), provider.URL)

	cfg := NewConfig(settings, "1.2.3")
	cfg.BrowserOpener = approve
	application, base := startApp(t, cfg)

	resp := propfind(t, base, "/caldav/v2/user%40example.com/events/?sync=1")
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	assert.Equal(t, 207, resp.StatusCode)
	assert.Equal(t, "<multistatus/>", string(body))

	recs := upstream.records()
	require.Len(t, recs, 1)
	assert.Equal(t, "PROPFIND", recs[0].Method)
	assert.Equal(t, "/caldav/v2/user%40example.com/events/?sync=1", recs[0].RequestURI)
	assert.Equal(t, "Bearer access-1", recs[0].Authorization)
	assert.Equal(t, "dav-proxy/1.2.3", recs[0].UserAgent)
	assert.Contains(t, recs[0].Body, "allprop")

	data, err := os.ReadFile(settings.TokenFile)
	require.NoError(t, err)
	tok, err := oauth.ParseToken(data)
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok.AccessToken())
	assert.Equal(t, "refresh-1", tok.RefreshToken())

	// The second request reuses the cached token.
	resp = propfind(t, base, "/caldav/v2/")
	resp.Body.Close()
	assert.Equal(t, 207, resp.StatusCode)
	assert.Len(t, upstream.records(), 2)

	st := application.Services().Manager.Status()
	assert.True(t, st.Valid)
	assert.True(t, st.Persisted)
}

func TestApplication_StaticToken(t *testing.T) {
	upstream := newUpstreamStub(t)

	settings := testSettings(t, upstream.URL)
	settings.Token = "static-token"

	application, base := startApp(t, NewConfig(settings, ""))
	assert.Nil(t, application.Services().Manager)
	assert.Nil(t, application.Services().Watcher)

	resp := propfind(t, base, "/carddav/v1/principals/")
	resp.Body.Close()
	assert.Equal(t, 207, resp.StatusCode)

	recs := upstream.records()
	require.Len(t, recs, 1)
	assert.Equal(t, "Bearer static-token", recs[0].Authorization)
	assert.Equal(t, "dav-proxy/dev", recs[0].UserAgent)
}

func TestNewApplication_InvalidCredentials(t *testing.T) {
	settings := testSettings(t, "https://example.com")
	require.NoError(t, os.WriteFile(settings.CredentialsFile, []byte(`{"installed": {"client_id": "x"}}`), 0o600))

	_, err := NewApplication(&Config{Settings: settings, LogOutput: io.Discard})
	require.Error(t, err)
	assert.True(t, errors.Is(err, oauth.ErrCredentialsInvalid), "got %v", err)
}

func TestNewApplication_MissingCredentials(t *testing.T) {
	settings := testSettings(t, "https://example.com")

	_, err := NewApplication(&Config{Settings: settings, LogOutput: io.Discard})
	assert.ErrorIs(t, err, oauth.ErrCredentialsInvalid)
}

func TestNewApplication_InvalidConfig(t *testing.T) {
	settings := testSettings(t, "https://example.com")
	settings.Upstream = "not a url"
	settings.Token = "x"

	_, err := NewApplication(&Config{Settings: settings, LogOutput: io.Discard})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream")
}

func TestUserAgent(t *testing.T) {
	assert.Equal(t, "dav-proxy/dev", userAgent(""))
	assert.Equal(t, fmt.Sprintf("dav-proxy/%s", "v1.0.0"), userAgent("v1.0.0"))
}
