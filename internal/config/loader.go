package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/giantswarm/dav-proxy/pkg/logging"
)

// Load reads the YAML file at path over Default(). An empty path means
// DefaultConfigPath(), which may be absent; an explicitly given file must
// exist.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}
	path = ExpandHome(path)

	// #nosec G304 -- the config path is chosen by the user
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			logging.Debug("ConfigLoader", "No config file at %s, using defaults", path)
			return cfg, nil
		}
		return Config{}, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("error loading config from %s: %w", path, err)
	}

	cfg.CredentialsFile = ExpandHome(cfg.CredentialsFile)
	cfg.TokenFile = ExpandHome(cfg.TokenFile)
	cfg.Listen.Socket = ExpandHome(cfg.Listen.Socket)

	logging.Debug("ConfigLoader", "Loaded configuration from %s", path)
	return cfg, nil
}
