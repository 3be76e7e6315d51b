package config

import "time"

// Config is the complete dav-proxy configuration.
type Config struct {
	Listen ListenConfig `yaml:"listen"`

	// CredentialsFile is the OAuth client secrets file.
	CredentialsFile string `yaml:"credentialsFile"`

	// TokenFile is where the token document is persisted.
	TokenFile string `yaml:"tokenFile"`

	// Upstream is the base URL requests are forwarded to.
	Upstream string `yaml:"upstream"`

	// Scopes requested during authorization.
	Scopes []string `yaml:"scopes"`

	AuthTimeout     time.Duration `yaml:"authTimeout"`
	ExpiryMargin    time.Duration `yaml:"expiryMargin"`
	UpstreamTimeout time.Duration `yaml:"upstreamTimeout"`

	// CallbackPort pins the loopback redirect port; 0 picks a free one.
	CallbackPort int `yaml:"callbackPort"`

	// OpenBrowser launches the authorization URL automatically.
	OpenBrowser bool `yaml:"openBrowser"`

	// WatchTokenFile reloads the token when another process rewrites it.
	WatchTokenFile bool `yaml:"watchTokenFile"`

	// MetricsAddr enables a Prometheus listener, e.g. "127.0.0.1:9090".
	MetricsAddr string `yaml:"metricsAddr"`

	// Token is a static access token used instead of the OAuth flow.
	Token string `yaml:"token"`

	// TokenCommand prints an access token; used instead of the OAuth flow.
	TokenCommand string `yaml:"tokenCommand"`

	Log LogConfig `yaml:"log"`
}

// ListenConfig selects where the proxy accepts connections.
type ListenConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`

	// Socket listens on a unix socket instead of TCP.
	Socket string `yaml:"socket"`

	// Systemd uses sockets passed by systemd socket activation.
	Systemd bool `yaml:"systemd"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// UsesOAuth reports whether tokens come from the OAuth flow rather than a
// static token or a token command.
func (c Config) UsesOAuth() bool {
	return c.Token == "" && c.TokenCommand == ""
}
