package app

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/giantswarm/dav-proxy/pkg/logging"
)

// Application wires the configuration, token provider, forwarder and
// listeners together.
//
// Example usage:
//
//	application, err := app.NewApplication(app.NewConfig(settings, version))
//	if err != nil {
//	    return err
//	}
//	return application.Run(ctx)
type Application struct {
	config   *Config
	services *Services
}

// NewApplication initializes logging, validates the configuration and
// builds all services. Nothing is listening until Run.
//
// Client credentials are loaded here, so a missing or malformed credentials
// file is reported before the proxy starts.
func NewApplication(cfg *Config) (*Application, error) {
	if err := initLogging(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	services, err := InitializeServices(cfg)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, err
	}

	return &Application{
		config:   cfg,
		services: services,
	}, nil
}

func initLogging(cfg *Config) error {
	level, err := logging.ParseLevel(cfg.Settings.Log.Level)
	if err != nil {
		return err
	}
	format, err := logging.ParseFormat(cfg.Settings.Log.Format)
	if err != nil {
		return err
	}
	output := cfg.LogOutput
	if output == nil {
		output = os.Stderr
	}
	logging.Init(level, format, output)
	return nil
}

// Run serves until ctx is cancelled or SIGINT/SIGTERM is received.
func (a *Application) Run(ctx context.Context) error {
	return runServe(ctx, a.config, a.services)
}

// Services exposes the wired components.
func (a *Application) Services() *Services {
	return a.services
}

// Addrs returns the proxy listener addresses once Run has started them.
func (a *Application) Addrs() []net.Addr {
	return a.services.Server.Addrs()
}
