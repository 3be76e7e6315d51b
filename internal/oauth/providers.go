package oauth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/giantswarm/dav-proxy/pkg/logging"
	pkgstrings "github.com/giantswarm/dav-proxy/pkg/strings"
)

// StaticTokenProvider always hands out the same externally obtained access
// token. It cannot refresh; an upstream rejection is only logged.
type StaticTokenProvider struct {
	token Token
}

// NewStaticTokenProvider wraps accessToken.
func NewStaticTokenProvider(accessToken string) (*StaticTokenProvider, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return nil, fmt.Errorf("%w: empty static token", ErrNoToken)
	}
	return &StaticTokenProvider{
		token: TokenFromOAuth2(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}),
	}, nil
}

func (p *StaticTokenProvider) Token(context.Context) (Token, error) {
	return p.token, nil
}

func (p *StaticTokenProvider) Invalidate(accessToken string) {
	if accessToken == p.token.AccessToken() {
		logging.Warn("OAuth", "Upstream rejected the configured static token")
	}
}

// DefaultCommandTimeout bounds one run of a token command.
const DefaultCommandTimeout = 30 * time.Second

// CommandTokenProvider obtains tokens from an external helper command.
//
// The command's standard output is either a bare access token or a JSON
// token document. The result is cached until it expires or the upstream
// rejects it.
type CommandTokenProvider struct {
	command      string
	timeout      time.Duration
	expiryMargin time.Duration
	now          func() time.Time

	group singleflight.Group

	mu    sync.RWMutex
	token Token
}

// NewCommandTokenProvider runs command through the system shell.
func NewCommandTokenProvider(command string, timeout time.Duration) (*CommandTokenProvider, error) {
	if strings.TrimSpace(command) == "" {
		return nil, errors.New("token command is empty")
	}
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &CommandTokenProvider{
		command:      command,
		timeout:      timeout,
		expiryMargin: DefaultExpiryMargin,
		now:          time.Now,
	}, nil
}

func (p *CommandTokenProvider) Token(ctx context.Context) (Token, error) {
	p.mu.RLock()
	tok := p.token
	p.mu.RUnlock()
	if tok.Valid(p.now(), p.expiryMargin) {
		return tok, nil
	}

	ch := p.group.DoChan("token", func() (interface{}, error) {
		return p.run()
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Token), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *CommandTokenProvider) run() (Token, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "cmd", "/c", p.command)
	} else {
		cmd = exec.CommandContext(ctx, "/bin/sh", "-c", p.command)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logging.Debug("OAuth", "Running token command")
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: token command failed: %w: %s", ErrNoToken, err, pkgstrings.ErrorBody(stderr.Bytes()))
	}

	tok, err := parseCommandOutput(stdout.Bytes())
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.token = tok
	p.mu.Unlock()
	return tok, nil
}

func parseCommandOutput(out []byte) (Token, error) {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: token command printed nothing", ErrNoToken)
	}
	if trimmed[0] == '{' {
		tok, err := ParseToken(trimmed)
		if err != nil {
			return nil, fmt.Errorf("%w: token command output: %w", ErrNoToken, err)
		}
		if tok.AccessToken() == "" {
			return nil, fmt.Errorf("%w: token command output has no access_token", ErrNoToken)
		}
		return tok, nil
	}
	return TokenFromOAuth2(&oauth2.Token{AccessToken: string(trimmed), TokenType: "Bearer"}), nil
}

func (p *CommandTokenProvider) Invalidate(accessToken string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token != nil && p.token.AccessToken() == accessToken {
		p.token = nil
		invalidations.Inc()
	}
}

var (
	_ TokenProvider = (*Manager)(nil)
	_ TokenProvider = (*StaticTokenProvider)(nil)
	_ TokenProvider = (*CommandTokenProvider)(nil)
)
