package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/giantswarm/dav-proxy/pkg/logging"
)

// DefaultExpiryMargin is how long before its expiry a token is already
// treated as expired.
const DefaultExpiryMargin = 60 * time.Second

// TokenProvider supplies bearer tokens to the forwarder.
type TokenProvider interface {
	// Token returns a currently valid token.
	Token(ctx context.Context) (Token, error)

	// Invalidate reports that the upstream rejected accessToken.
	Invalidate(accessToken string)
}

// Authorizer runs an interactive authorization. *AuthorizationFlow is the
// production implementation.
type Authorizer interface {
	Run(ctx context.Context) (Token, error)
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Store *TokenStore

	// Credentials are needed to refresh. Without them an expired token can
	// only be replaced through the Authorizer.
	Credentials *Credentials

	// Authorizer obtains a token when none can be loaded or refreshed.
	// nil makes Token fail with ErrNoToken in that case.
	Authorizer Authorizer

	// HTTPClient is used for refresh grants.
	HTTPClient *http.Client

	// ExpiryMargin defaults to DefaultExpiryMargin.
	ExpiryMargin time.Duration

	// AuthTimeout bounds one acquisition, including an interactive
	// authorization. Defaults to DefaultAuthTimeout.
	AuthTimeout time.Duration

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// Status is a point-in-time view of the managed token.
type Status struct {
	TokenFile       string
	Present         bool
	Valid           bool
	Expiry          time.Time
	HasRefreshToken bool
	Persisted       bool
	LastRefresh     time.Time
	LastError       error
}

// Manager hands out valid access tokens. It loads the token file on first
// use, refreshes expired tokens and falls back to the Authorizer when no
// usable refresh token exists.
//
// Acquisition is single-flight: concurrent callers that find no valid
// token share one load, refresh or authorization.
type Manager struct {
	cfg   ManagerConfig
	group singleflight.Group

	mu          sync.RWMutex
	token       Token
	loaded      bool
	unpersisted bool
	lastRefresh time.Time
	lastErr     error
}

// NewManager creates a Manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errors.New("token store is required")
	}
	if cfg.ExpiryMargin <= 0 {
		cfg.ExpiryMargin = DefaultExpiryMargin
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = DefaultAuthTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{cfg: cfg}, nil
}

// Token returns a valid token. A cached token is returned without I/O.
//
// Otherwise the caller joins the acquisition in flight, or starts one. The
// acquisition runs detached from ctx; cancelling ctx only abandons this
// caller's wait.
func (m *Manager) Token(ctx context.Context) (Token, error) {
	if tok, ok := m.cached(); ok {
		tokenRequests.WithLabelValues("cache").Inc()
		return tok, nil
	}

	ch := m.group.DoChan("token", func() (interface{}, error) {
		return m.acquire()
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			tokenRequests.WithLabelValues("error").Inc()
			return nil, res.Err
		}
		tokenRequests.WithLabelValues("flight").Inc()
		return res.Val.(Token), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) cached() (Token, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.unpersisted || !m.token.Valid(m.cfg.Now(), m.cfg.ExpiryMargin) {
		return nil, false
	}
	return m.token, true
}

// acquire runs inside the flight.
func (m *Manager) acquire() (Token, error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.AuthTimeout)
	defer cancel()

	tok, err := m.acquireToken(ctx)

	m.mu.Lock()
	m.lastErr = err
	boolGauge(tokenValid, m.token.Valid(m.cfg.Now(), m.cfg.ExpiryMargin))
	boolGauge(tokenPersisted, m.token != nil && !m.unpersisted)
	m.mu.Unlock()

	return tok, err
}

func (m *Manager) acquireToken(ctx context.Context) (Token, error) {
	m.mu.RLock()
	current, loaded, unpersisted := m.token, m.loaded, m.unpersisted
	m.mu.RUnlock()

	if current.Valid(m.cfg.Now(), m.cfg.ExpiryMargin) {
		if unpersisted {
			m.retrySave(current)
		}
		return current, nil
	}

	if !loaded {
		tok, err := m.load()
		if err != nil {
			return nil, err
		}
		current = tok
		if current.Valid(m.cfg.Now(), m.cfg.ExpiryMargin) {
			logging.Debug("OAuth", "Using token from %s", m.cfg.Store.Path())
			return current, nil
		}
	}

	if current.RefreshToken() != "" && m.cfg.Credentials != nil {
		refreshed, err := m.refresh(ctx, current)
		switch {
		case err == nil:
			return m.publish(refreshed)
		case IsInvalidGrant(err):
			logging.Warn("OAuth", "Refresh token rejected, starting a new authorization")
		default:
			return nil, err
		}
	}

	if m.cfg.Authorizer == nil {
		return nil, fmt.Errorf("%w: run \"dav-proxy auth login\" to authorize", ErrNoToken)
	}

	logging.Info("OAuth", "No usable token, starting interactive authorization")
	tok, err := m.cfg.Authorizer.Run(ctx)
	if err != nil {
		return nil, err
	}
	return m.publish(tok)
}

// load reads the token file into the cache. A corrupt or unreadable file
// counts as absent. The file is read under m.mu so a token published in the
// meantime is never replaced by older file content.
func (m *Manager) load() (Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loaded {
		return m.token, nil
	}

	tok, err := m.cfg.Store.Load()
	if errors.Is(err, ErrTokenFileCorrupt) {
		logging.Warn("OAuth", "Ignoring unreadable token file: %v", err)
		tok, err = nil, nil
	}
	if err != nil {
		return nil, err
	}

	m.token = tok
	m.loaded = true
	m.unpersisted = false
	return tok, nil
}

// refresh performs exactly one refresh grant for current.
func (m *Manager) refresh(ctx context.Context, current Token) (Token, error) {
	oc, err := m.cfg.Credentials.OAuth2Config("")
	if err != nil {
		return nil, err
	}
	if m.cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, m.cfg.HTTPClient)
	}

	// A token with only a refresh token is never valid, so the source
	// performs one refresh grant.
	t, err := oc.TokenSource(ctx, &oauth2.Token{RefreshToken: current.RefreshToken()}).Token()
	refreshTotal.WithLabelValues(outcome(err)).Inc()
	logging.Audit(logging.AuditEvent{
		Action:  "token_refresh",
		Outcome: outcome(err),
		Target:  m.cfg.Store.Path(),
		Err:     err,
	})
	if err != nil {
		return nil, exchangeError("refresh", err)
	}

	m.mu.Lock()
	m.lastRefresh = m.cfg.Now()
	m.mu.Unlock()

	merged := current.Merge(TokenFromOAuth2(t))
	if t.Expiry.IsZero() {
		// The old expiry no longer describes the new access token.
		delete(merged, keyExpiry)
		delete(merged, keyExpiresAt)
		logging.Info("OAuth", "Access token refreshed, no expiry")
	} else {
		logging.Info("OAuth", "Access token refreshed, expires %s", t.Expiry.Format(time.RFC3339))
	}
	return merged, nil
}

// publish persists tok and then makes it the cached token. When saving
// fails the token is still cached, flagged for another save attempt.
func (m *Manager) publish(tok Token) (Token, error) {
	err := m.cfg.Store.Save(tok)

	m.mu.Lock()
	m.token = tok
	m.loaded = true
	m.unpersisted = err != nil
	m.mu.Unlock()

	if err != nil {
		logging.Error("OAuth", err, "Token obtained but not saved to %s", m.cfg.Store.Path())
		return nil, err
	}
	return tok, nil
}

func (m *Manager) retrySave(tok Token) {
	if err := m.cfg.Store.Save(tok); err != nil {
		logging.Warn("OAuth", "Token still not saved to %s: %v", m.cfg.Store.Path(), err)
		return
	}
	m.mu.Lock()
	m.unpersisted = false
	m.mu.Unlock()
	logging.Info("OAuth", "Token saved to %s", m.cfg.Store.Path())
}

// Invalidate marks the cached token expired if it still carries
// accessToken, so the next Token call refreshes.
func (m *Manager) Invalidate(accessToken string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token == nil || accessToken == "" || m.token.AccessToken() != accessToken {
		return
	}
	m.token = m.token.Expire(m.cfg.Now())
	invalidations.Inc()
	tokenValid.Set(0)
	logging.Info("OAuth", "Access token %s rejected upstream, will refresh", NewRedactedToken(accessToken).Fingerprint())
}

// Reload re-reads the token file, picking up a token written by another
// process. A token that could not be saved is kept over the file content.
// The file is read under m.mu: publish saves before caching, so the file is
// never older than a token cached before the read.
func (m *Manager) Reload() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tok, err := m.cfg.Store.Load()
	if err != nil {
		return err
	}
	if m.unpersisted {
		logging.Debug("OAuth", "Keeping unsaved token over %s", m.cfg.Store.Path())
		return nil
	}
	if tok == nil && m.token != nil {
		logging.Info("OAuth", "Token file %s removed, dropping cached token", m.cfg.Store.Path())
	}
	m.token = tok
	m.loaded = true
	boolGauge(tokenValid, tok.Valid(m.cfg.Now(), m.cfg.ExpiryMargin))
	return nil
}

// Status returns the current token state. The token file is read if it has
// not been loaded yet.
func (m *Manager) Status() Status {
	m.mu.RLock()
	loaded := m.loaded
	m.mu.RUnlock()
	if !loaded {
		if _, err := m.load(); err != nil {
			m.mu.Lock()
			m.lastErr = err
			m.mu.Unlock()
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return Status{
		TokenFile:       m.cfg.Store.Path(),
		Present:         m.token != nil,
		Valid:           m.token.Valid(m.cfg.Now(), m.cfg.ExpiryMargin),
		Expiry:          m.token.Expiry(),
		HasRefreshToken: m.token.RefreshToken() != "",
		Persisted:       m.token != nil && !m.unpersisted,
		LastRefresh:     m.lastRefresh,
		LastError:       m.lastErr,
	}
}
