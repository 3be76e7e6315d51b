package app

import (
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/giantswarm/dav-proxy/internal/config"
	"github.com/giantswarm/dav-proxy/internal/oauth"
	"github.com/giantswarm/dav-proxy/internal/proxy"
	"github.com/giantswarm/dav-proxy/internal/server"
	"github.com/giantswarm/dav-proxy/pkg/logging"
)

// Services holds the components wired together for serving.
type Services struct {
	// Tokens supplies bearer tokens to the forwarder.
	Tokens oauth.TokenProvider

	// Manager is set when tokens come from the OAuth flow.
	Manager *oauth.Manager

	Forwarder *proxy.Forwarder
	Server    *server.Server

	// Watcher reloads the token file written by another process. It is
	// nil unless the OAuth flow is used and watching is enabled.
	Watcher *oauth.TokenWatcher
}

// InitializeServices builds every component from cfg.
func InitializeServices(cfg *Config) (*Services, error) {
	s := cfg.Settings
	services := &Services{}

	switch {
	case s.Token != "":
		p, err := oauth.NewStaticTokenProvider(s.Token)
		if err != nil {
			return nil, err
		}
		logging.Info("Bootstrap", "Using a static access token")
		services.Tokens = p
	case s.TokenCommand != "":
		p, err := oauth.NewCommandTokenProvider(s.TokenCommand, oauth.DefaultCommandTimeout)
		if err != nil {
			return nil, err
		}
		logging.Info("Bootstrap", "Using access tokens from a command")
		services.Tokens = p
	default:
		mgr, err := NewManager(s, FlowOptions{
			Interactive: true,
			Prompt:      cfg.Prompt,
			Browser:     cfg.BrowserOpener,
		})
		if err != nil {
			return nil, err
		}
		services.Manager = mgr
		services.Tokens = mgr

		if s.WatchTokenFile {
			services.Watcher = oauth.NewTokenWatcher(oauth.TokenWatcherConfig{
				Path: s.TokenFile,
				OnChange: func() {
					if err := mgr.Reload(); err != nil {
						logging.Warn("Bootstrap", "Failed to reload token file: %v", err)
					}
				},
			})
		}
	}

	fwd, err := proxy.NewForwarder(proxy.Config{
		Upstream:  s.Upstream,
		UserAgent: userAgent(cfg.Version),
		Timeout:   s.UpstreamTimeout,
	}, services.Tokens)
	if err != nil {
		return nil, fmt.Errorf("failed to create forwarder: %w", err)
	}
	services.Forwarder = fwd

	var collectors []prometheus.Collector
	collectors = append(collectors, oauth.MetricsCollectors()...)
	collectors = append(collectors, proxy.MetricsCollectors()...)
	registry, err := server.NewRegistry(collectors...)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	services.Server = server.New(server.Config{
		Listen: server.ListenConfig{
			Bind:    s.Listen.Bind,
			Port:    s.Listen.Port,
			Socket:  s.Listen.Socket,
			Systemd: s.Listen.Systemd,
		},
		MetricsAddr: s.MetricsAddr,
		Registry:    registry,
	}, fwd)

	return services, nil
}

// FlowOptions controls the interactive part of a Manager built by
// NewManager.
type FlowOptions struct {
	// Interactive enables the browser authorization fallback.
	Interactive bool

	Prompt  io.Writer
	Browser oauth.BrowserOpener
}

// NewManager builds a token manager for the OAuth settings in s. The
// credentials file is read and validated here, so a bad file fails fast
// with oauth.ErrCredentialsInvalid.
func NewManager(s config.Config, opts FlowOptions) (*oauth.Manager, error) {
	creds, err := oauth.LoadCredentials(s.CredentialsFile, s.Scopes)
	if err != nil {
		return nil, err
	}

	store, err := oauth.NewTokenStore(oauth.TokenStoreConfig{Path: s.TokenFile})
	if err != nil {
		return nil, err
	}

	var authorizer oauth.Authorizer
	if opts.Interactive {
		flow, err := NewFlow(s, creds, opts)
		if err != nil {
			return nil, err
		}
		authorizer = flow
	}

	return oauth.NewManager(oauth.ManagerConfig{
		Store:        store,
		Credentials:  creds,
		Authorizer:   authorizer,
		ExpiryMargin: s.ExpiryMargin,
		AuthTimeout:  s.AuthTimeout,
	})
}

// NewFlow builds the browser authorization flow for s.
func NewFlow(s config.Config, creds *oauth.Credentials, opts FlowOptions) (*oauth.AuthorizationFlow, error) {
	prompt := opts.Prompt
	if prompt == nil {
		prompt = os.Stderr
	}

	var opener oauth.BrowserOpener
	if s.OpenBrowser {
		opener = opts.Browser
		if opener == nil {
			opener = oauth.OpenBrowser
		}
	}

	return oauth.NewAuthorizationFlow(oauth.FlowConfig{
		Credentials:  creds,
		CallbackPort: s.CallbackPort,
		OpenBrowser:  opener,
		Prompt:       prompt,
		Timeout:      s.AuthTimeout,
	})
}

func userAgent(version string) string {
	if version == "" {
		version = "dev"
	}
	return "dav-proxy/" + version
}
