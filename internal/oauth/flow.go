package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/dav-proxy/pkg/logging"
	pkgstrings "github.com/giantswarm/dav-proxy/pkg/strings"
)

// DefaultAuthTimeout bounds an interactive authorization when the caller's
// context carries no deadline.
const DefaultAuthTimeout = 5 * time.Minute

// FlowState is the progress of an AuthorizationFlow.
type FlowState int

const (
	FlowNoToken FlowState = iota
	FlowAwaitingRedirect
	FlowCodeReceived
	FlowExchanging
	FlowReady
	FlowFailed
)

func (s FlowState) String() string {
	switch s {
	case FlowNoToken:
		return "NO_TOKEN"
	case FlowAwaitingRedirect:
		return "AWAITING_REDIRECT"
	case FlowCodeReceived:
		return "CODE_RECEIVED"
	case FlowExchanging:
		return "EXCHANGING"
	case FlowReady:
		return "READY"
	case FlowFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// FlowConfig configures an AuthorizationFlow.
type FlowConfig struct {
	Credentials *Credentials

	// CallbackPort pins the loopback port. 0 picks a free one.
	CallbackPort int

	// OpenBrowser launches the authorization URL. nil only prints it.
	OpenBrowser BrowserOpener

	// Prompt receives the user-facing instructions. Defaults to os.Stderr.
	Prompt io.Writer

	// HTTPClient is used for the code exchange.
	HTTPClient *http.Client

	// Timeout bounds Run. Defaults to DefaultAuthTimeout.
	Timeout time.Duration
}

// AuthorizationFlow obtains a token through the OAuth2 authorization code
// grant with a loopback redirect.
type AuthorizationFlow struct {
	cfg FlowConfig

	mu    sync.RWMutex
	state FlowState
}

// NewAuthorizationFlow creates a flow. Credentials are required.
func NewAuthorizationFlow(cfg FlowConfig) (*AuthorizationFlow, error) {
	if cfg.Credentials == nil {
		return nil, fmt.Errorf("%w: no client credentials configured", ErrCredentialsInvalid)
	}
	if cfg.Prompt == nil {
		cfg.Prompt = os.Stderr
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultAuthTimeout
	}
	return &AuthorizationFlow{cfg: cfg}, nil
}

// State returns the current state.
func (f *AuthorizationFlow) State() FlowState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

func (f *AuthorizationFlow) setState(s FlowState) {
	f.mu.Lock()
	prev := f.state
	f.state = s
	f.mu.Unlock()
	if prev != s {
		logging.Debug("OAuth", "Authorization flow %s -> %s", prev, s)
	}
}

// Run performs one interactive authorization and returns the new token.
// The loopback listener is always released before Run returns. The token is
// not persisted.
func (f *AuthorizationFlow) Run(ctx context.Context) (tok Token, err error) {
	f.setState(FlowNoToken)

	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	logging.Audit(logging.AuditEvent{Action: "authorization", Outcome: "started"})
	defer func() {
		if err != nil {
			f.setState(FlowFailed)
		}
		authorizationTotal.WithLabelValues(outcome(err)).Inc()
		logging.Audit(logging.AuditEvent{Action: "authorization", Outcome: outcome(err), Err: err})
	}()

	srv, err := StartCaptureServer(ctx, CaptureServerConfig{Port: f.cfg.CallbackPort})
	if err != nil {
		return nil, err
	}
	defer srv.Close()

	oc, err := f.cfg.Credentials.OAuth2Config(srv.BaseURL())
	if err != nil {
		return nil, err
	}

	state, err := newState()
	if err != nil {
		return nil, err
	}

	authURL := oc.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("approval_prompt", "force"),
	)

	// A spare waiter stays queued behind the current one, so a redirect
	// following a stray request is captured while the stray is inspected.
	pending, spare := srv.Arm(), srv.Arm()
	f.setState(FlowAwaitingRedirect)
	f.announce(authURL)

	var code string
	for {
		captured, err := pending.Wait(ctx)
		if err != nil {
			spare.Cancel()
			return nil, waitError(ctx, err)
		}

		code, err = parseAuthorizationResponse(captured, state)
		if errors.Is(err, errStrayRequest) {
			logging.Debug("OAuth", "Ignoring request on redirect listener: %v", err)
			pending, spare = spare, srv.Arm()
			continue
		}
		spare.Cancel()
		if err != nil {
			return nil, err
		}
		break
	}
	f.setState(FlowCodeReceived)

	if f.cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, f.cfg.HTTPClient)
	}

	f.setState(FlowExchanging)
	t, err := oc.Exchange(ctx, code)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: code exchange did not finish in time", ErrAuthorizationTimeout)
		}
		return nil, exchangeError("code exchange", err)
	}

	f.setState(FlowReady)
	return TokenFromOAuth2(t), nil
}

func (f *AuthorizationFlow) announce(authURL string) {
	if f.cfg.OpenBrowser == nil {
		fmt.Fprintf(f.cfg.Prompt, "Visit %s\n", authURL)
		fmt.Fprintln(f.cfg.Prompt, "Follow the instructions on the page.")
		return
	}

	fmt.Fprintf(f.cfg.Prompt, "Opening %s ...\n", authURL)
	fmt.Fprintln(f.cfg.Prompt, "Follow the instructions on the page.")
	if err := f.cfg.OpenBrowser(authURL); err != nil {
		logging.Warn("OAuth", "Could not open a browser, open the URL above manually: %v", err)
	}
}

func waitError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: no redirect received", ErrAuthorizationTimeout)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// exchangeError wraps a token endpoint failure with the provider's answer.
func exchangeError(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		return fmt.Errorf("%w: %s rejected (status %d): %s: %w",
			ErrAuthorizationExchange, op, status, pkgstrings.ErrorBody(re.Body), err)
	}
	return fmt.Errorf("%w: %s: %w", ErrAuthorizationExchange, op, err)
}

var errStrayRequest = errors.New("not an authorization response")

// parseAuthorizationResponse extracts the code from a captured redirect URL.
// Requests that are not the provider's answer for this flow return an error
// wrapping errStrayRequest.
func parseAuthorizationResponse(captured, state string) (string, error) {
	// The provider answers on the plain-http loopback; present it as the
	// https authorization response OAuth libraries expect.
	captured = strings.Replace(captured, "http", "https", 1)

	u, err := url.Parse(captured)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errStrayRequest, err)
	}
	if u.Path == "/favicon.ico" {
		return "", fmt.Errorf("%w: %s", errStrayRequest, u.Path)
	}

	q := u.Query()
	code, denied := q.Get("code"), q.Get("error")
	if code == "" && denied == "" {
		return "", fmt.Errorf("%w: no code or error parameter on %s", errStrayRequest, u.Path)
	}
	if q.Get("state") != state {
		logging.Warn("OAuth", "Ignoring authorization response with mismatched state")
		return "", fmt.Errorf("%w: state mismatch", errStrayRequest)
	}
	if denied != "" {
		return "", &AuthorizationDeniedError{Code: denied, Description: q.Get("error_description")}
	}
	return code, nil
}

// newState returns 32 random bytes, base64url encoded.
func newState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
