package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// DefaultBind keeps the unauthenticated proxy off the network.
	DefaultBind = "127.0.0.1"
	DefaultPort = 8080

	DefaultUpstream = "https://apidata.googleusercontent.com/"
	DefaultScope    = "https://www.googleapis.com/auth/calendar"

	DefaultAuthTimeout     = 5 * time.Minute
	DefaultExpiryMargin    = 60 * time.Second
	DefaultUpstreamTimeout = 2 * time.Minute

	userConfigDir       = ".config/dav-proxy"
	configFileName      = "config.yaml"
	credentialsFileName = "credentials.json"
	tokenFileName       = "token.json"
)

// osUserHomeDir is replaced in tests.
var osUserHomeDir = os.UserHomeDir

// ConfigDir returns ~/.config/dav-proxy.
func ConfigDir() string {
	home, err := osUserHomeDir()
	if err != nil {
		return userConfigDir
	}
	return filepath.Join(home, userConfigDir)
}

// DefaultConfigPath returns ~/.config/dav-proxy/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), configFileName)
}

// Default returns the configuration used when no file and no flags are
// given.
func Default() Config {
	dir := ConfigDir()
	return Config{
		Listen: ListenConfig{
			Bind: DefaultBind,
			Port: DefaultPort,
		},
		CredentialsFile: filepath.Join(dir, credentialsFileName),
		TokenFile:       filepath.Join(dir, tokenFileName),
		Upstream:        DefaultUpstream,
		Scopes:          []string{DefaultScope},
		AuthTimeout:     DefaultAuthTimeout,
		ExpiryMargin:    DefaultExpiryMargin,
		UpstreamTimeout: DefaultUpstreamTimeout,
		OpenBrowser:     true,
		WatchTokenFile:  true,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := osUserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
