package app

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/giantswarm/dav-proxy/pkg/logging"
)

// runServe starts the token file watcher and the listeners, then blocks
// until ctx is cancelled or SIGINT/SIGTERM arrives. Listeners are shut down
// gracefully.
func runServe(ctx context.Context, cfg *Config, services *Services) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if services.Watcher != nil {
		if err := services.Watcher.Start(); err != nil {
			logging.Warn("Serve", "Token file watcher not started: %v", err)
		} else {
			defer services.Watcher.Stop()
		}
	}

	if services.Manager != nil {
		st := services.Manager.Status()
		switch {
		case st.Valid:
			logging.Info("Serve", "Token from %s valid until %s", st.TokenFile, st.Expiry.Format("2006-01-02 15:04:05"))
		case st.HasRefreshToken:
			logging.Info("Serve", "Token from %s expired, it will be refreshed on first use", st.TokenFile)
		default:
			logging.Info("Serve", "No token yet, authorization starts on the first request")
		}
	}

	logging.Info("Serve", "Forwarding to %s", cfg.Settings.Upstream)
	if err := services.Server.Run(ctx); err != nil {
		return err
	}
	logging.Info("Serve", "Stopped")
	return nil
}
