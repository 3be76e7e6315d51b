package oauth

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type fakeAuthorizer struct {
	calls   atomic.Int32
	release chan struct{}
	token   Token
	err     error
}

func (a *fakeAuthorizer) Run(ctx context.Context) (Token, error) {
	a.calls.Add(1)
	if a.release != nil {
		select {
		case <-a.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return a.token, a.err
}

func interactiveToken() Token {
	return TokenFromOAuth2(&oauth2.Token{
		AccessToken:  "interactive",
		RefreshToken: "refresh-1",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour),
	})
}

func newTestManager(t *testing.T, p *fakeProvider, auth Authorizer) (*Manager, *TokenStore) {
	t.Helper()
	store, err := NewTokenStore(TokenStoreConfig{Path: filepath.Join(t.TempDir(), "token.json")})
	require.NoError(t, err)

	cfg := ManagerConfig{Store: store, Authorizer: auth, AuthTimeout: 10 * time.Second}
	if p != nil {
		cfg.Credentials = p.credentials()
	}
	m, err := NewManager(cfg)
	require.NoError(t, err)
	return m, store
}

func writeTokenFile(t *testing.T, store *TokenStore, doc string) {
	t.Helper()
	require.NoError(t, os.WriteFile(store.Path(), []byte(doc), 0600))
}

func expiredDoc(extra string) string {
	exp := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	return `{"access_token":"stale","refresh_token":"refresh-1","token_type":"Bearer","expiry":"` + exp + `"` + extra + `}`
}

func validDoc(access string) string {
	exp := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	return `{"access_token":"` + access + `","refresh_token":"refresh-1","token_type":"Bearer","expiry":"` + exp + `"}`
}

func TestNewManager_RequiresStore(t *testing.T) {
	_, err := NewManager(ManagerConfig{})
	assert.Error(t, err)
}

func TestManager_CacheHitDoesNoIO(t *testing.T) {
	p := newFakeProvider(t)
	auth := &fakeAuthorizer{token: interactiveToken()}
	m, store := newTestManager(t, p, auth)
	writeTokenFile(t, store, validDoc("from-file"))

	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "from-file", tok.AccessToken())

	// With the file gone only the cache can answer.
	require.NoError(t, os.Remove(store.Path()))

	tok, err = m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "from-file", tok.AccessToken())
	assert.Equal(t, int32(0), p.refreshes.Load())
	assert.Equal(t, int32(0), auth.calls.Load())
}

func TestManager_NoTokenRunsAuthorizationAndPersists(t *testing.T) {
	auth := &fakeAuthorizer{token: interactiveToken()}
	m, store := newTestManager(t, newFakeProvider(t), auth)

	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "interactive", tok.AccessToken())
	assert.Equal(t, int32(1), auth.calls.Load())

	saved, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "interactive", saved.AccessToken())
	assert.Equal(t, "refresh-1", saved.RefreshToken())
}

func TestManager_SingleFlight(t *testing.T) {
	auth := &fakeAuthorizer{token: interactiveToken(), release: make(chan struct{})}
	m, _ := newTestManager(t, newFakeProvider(t), auth)

	const callers = 20
	var wg sync.WaitGroup
	results := make(chan string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := m.Token(context.Background())
			if assert.NoError(t, err) {
				results <- tok.AccessToken()
			}
		}()
	}

	// let every caller join the flight before it completes
	require.Eventually(t, func() bool { return auth.calls.Load() == 1 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	close(auth.release)
	wg.Wait()
	close(results)

	assert.Equal(t, int32(1), auth.calls.Load())
	n := 0
	for at := range results {
		assert.Equal(t, "interactive", at)
		n++
	}
	assert.Equal(t, callers, n)
}

func TestManager_RefreshPath(t *testing.T) {
	p := newFakeProvider(t)
	auth := &fakeAuthorizer{token: interactiveToken()}
	m, store := newTestManager(t, p, auth)
	writeTokenFile(t, store, expiredDoc(`,"vendor_field":"keep-me"`))

	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok.AccessToken())
	assert.Equal(t, int32(1), p.refreshes.Load())
	assert.Equal(t, int32(0), auth.calls.Load())

	saved, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "access-1", saved.AccessToken())
	assert.Equal(t, "refresh-1", saved.RefreshToken())
	assert.JSONEq(t, `"keep-me"`, string(saved["vendor_field"]))
	assert.True(t, saved.Valid(time.Now(), DefaultExpiryMargin))

	// the refreshed token is cached
	_, err = m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), p.refreshes.Load())
}

func TestManager_RefreshWithoutExpiryDropsStaleExpiry(t *testing.T) {
	p := newFakeProvider(t)
	p.setOmitExpiry(true)
	auth := &fakeAuthorizer{token: interactiveToken()}
	m, store := newTestManager(t, p, auth)
	writeTokenFile(t, store, expiredDoc(`,"expires_at":1`))

	for i := 0; i < 3; i++ {
		tok, err := m.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "access-1", tok.AccessToken())
		assert.True(t, tok.Valid(time.Now(), DefaultExpiryMargin))
	}
	assert.Equal(t, int32(1), p.refreshes.Load())
	assert.Equal(t, int32(0), auth.calls.Load())

	saved, err := store.Load()
	require.NoError(t, err)
	assert.True(t, saved.Expiry().IsZero())
	assert.NotContains(t, saved, "expiry")
	assert.NotContains(t, saved, "expires_at")
	assert.Equal(t, "refresh-1", saved.RefreshToken())
}

func TestManager_ExpiryMargin(t *testing.T) {
	p := newFakeProvider(t)
	m, store := newTestManager(t, p, nil)
	exp := time.Now().Add(30 * time.Second).UTC().Format(time.RFC3339)
	writeTokenFile(t, store, `{"access_token":"almost","refresh_token":"refresh-1","expiry":"`+exp+`"}`)

	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok.AccessToken(), "token inside the margin is refreshed")
}

func TestManager_InvalidGrantFallsBackToAuthorization(t *testing.T) {
	p := newFakeProvider(t)
	p.setRejectAll(true)
	auth := &fakeAuthorizer{token: interactiveToken()}
	m, store := newTestManager(t, p, auth)
	writeTokenFile(t, store, expiredDoc(""))

	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "interactive", tok.AccessToken())
	assert.Equal(t, int32(1), p.refreshes.Load())
	assert.Equal(t, int32(1), auth.calls.Load())
}

func TestManager_RefreshNetworkErrorIsReturned(t *testing.T) {
	p := newFakeProvider(t)
	auth := &fakeAuthorizer{token: interactiveToken()}
	m, store := newTestManager(t, p, auth)
	writeTokenFile(t, store, expiredDoc(""))
	p.server.Close()

	_, err := m.Token(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthorizationExchange)
	assert.Equal(t, int32(0), auth.calls.Load())
}

func TestManager_CorruptFileTreatedAsAbsent(t *testing.T) {
	auth := &fakeAuthorizer{token: interactiveToken()}
	m, store := newTestManager(t, newFakeProvider(t), auth)
	writeTokenFile(t, store, `{"access_token": "trunc`)

	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "interactive", tok.AccessToken())

	saved, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "interactive", saved.AccessToken())
}

func TestManager_UnreadableFileTreatedAsAbsent(t *testing.T) {
	auth := &fakeAuthorizer{token: interactiveToken()}
	m, store := newTestManager(t, newFakeProvider(t), auth)
	// A non-empty directory at the token path can be neither read nor replaced.
	require.NoError(t, os.MkdirAll(filepath.Join(store.Path(), "occupied"), 0700))

	_, err := m.Token(context.Background())
	assert.ErrorIs(t, err, ErrFilesystem)
	assert.Equal(t, int32(1), auth.calls.Load())

	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "interactive", tok.AccessToken())
	assert.Equal(t, int32(1), auth.calls.Load())
}

func TestManager_NoAuthorizer(t *testing.T) {
	m, _ := newTestManager(t, newFakeProvider(t), nil)

	_, err := m.Token(context.Background())
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestManager_CallerCanAbandonWait(t *testing.T) {
	auth := &fakeAuthorizer{token: interactiveToken(), release: make(chan struct{})}
	m, _ := newTestManager(t, newFakeProvider(t), auth)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := m.Token(ctx)
		errCh <- err
	}()

	require.Eventually(t, func() bool { return auth.calls.Load() == 1 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	// the flight carries on for the next caller
	done := make(chan Token, 1)
	go func() {
		tok, err := m.Token(context.Background())
		assert.NoError(t, err)
		done <- tok
	}()
	close(auth.release)

	select {
	case tok := <-done:
		assert.Equal(t, "interactive", tok.AccessToken())
	case <-time.After(5 * time.Second):
		t.Fatal("second caller did not get a token")
	}
	assert.Equal(t, int32(1), auth.calls.Load())
}

func TestManager_SaveFailureKeepsTokenInMemory(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("not a directory"), 0600))

	store, err := NewTokenStore(TokenStoreConfig{Path: filepath.Join(blocker, "token.json")})
	require.NoError(t, err)
	auth := &fakeAuthorizer{token: interactiveToken()}
	m, err := NewManager(ManagerConfig{Store: store, Authorizer: auth})
	require.NoError(t, err)

	_, err = m.Token(context.Background())
	assert.ErrorIs(t, err, ErrFilesystem)
	assert.False(t, m.Status().Persisted)

	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "interactive", tok.AccessToken())
	assert.Equal(t, int32(1), auth.calls.Load())

	// once the directory can be created the pending save goes through
	require.NoError(t, os.Remove(blocker))
	_, err = m.Token(context.Background())
	require.NoError(t, err)
	assert.True(t, m.Status().Persisted)

	saved, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "interactive", saved.AccessToken())
}

func TestManager_InvalidateForcesRefresh(t *testing.T) {
	p := newFakeProvider(t)
	m, store := newTestManager(t, p, nil)
	writeTokenFile(t, store, validDoc("rejected"))

	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "rejected", tok.AccessToken())

	m.Invalidate("some-other-token")
	tok, err = m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "rejected", tok.AccessToken(), "unrelated invalidation ignored")

	m.Invalidate("rejected")
	tok, err = m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok.AccessToken())
	assert.Equal(t, int32(1), p.refreshes.Load())
}

func TestManager_Reload(t *testing.T) {
	m, store := newTestManager(t, newFakeProvider(t), nil)
	writeTokenFile(t, store, validDoc("first"))

	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", tok.AccessToken())

	writeTokenFile(t, store, validDoc("second"))
	require.NoError(t, m.Reload())

	tok, err = m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "second", tok.AccessToken())

	require.NoError(t, store.Remove())
	require.NoError(t, m.Reload())
	_, err = m.Token(context.Background())
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestManager_ReloadNeverRegressesPublishedToken(t *testing.T) {
	p := newFakeProvider(t)
	m, store := newTestManager(t, p, nil)
	writeTokenFile(t, store, expiredDoc(""))

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				assert.NoError(t, m.Reload())
			}
		}
	}()

	for i := 0; i < 30; i++ {
		tok, err := m.Token(context.Background())
		require.NoError(t, err)
		m.Invalidate(tok.AccessToken())
	}
	close(stop)
	wg.Wait()

	saved, err := store.Load()
	require.NoError(t, err)
	m.mu.RLock()
	cached := m.token
	m.mu.RUnlock()
	assert.Equal(t, saved.AccessToken(), cached.AccessToken())
}

func TestManager_Status(t *testing.T) {
	m, store := newTestManager(t, newFakeProvider(t), nil)

	st := m.Status()
	assert.False(t, st.Present)
	assert.Equal(t, store.Path(), st.TokenFile)

	writeTokenFile(t, store, validDoc("present"))
	require.NoError(t, m.Reload())

	st = m.Status()
	assert.True(t, st.Present)
	assert.True(t, st.Valid)
	assert.True(t, st.HasRefreshToken)
	assert.True(t, st.Persisted)
	assert.False(t, st.Expiry.IsZero())
}
