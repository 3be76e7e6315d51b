package app

import (
	"io"

	"github.com/giantswarm/dav-proxy/internal/config"
	"github.com/giantswarm/dav-proxy/internal/oauth"
)

// Config holds the application configuration
type Config struct {
	// Settings is the loaded and flag-merged proxy configuration.
	Settings config.Config

	// Version is reported in the upstream User-Agent.
	Version string

	// LogOutput receives log output. Defaults to stderr.
	LogOutput io.Writer

	// Prompt receives the authorization instructions. Defaults to stderr.
	Prompt io.Writer

	// BrowserOpener overrides how the authorization URL is opened when
	// Settings.OpenBrowser is set.
	BrowserOpener oauth.BrowserOpener
}

// NewConfig creates a new application configuration
func NewConfig(settings config.Config, version string) *Config {
	return &Config{
		Settings: settings,
		Version:  version,
	}
}
