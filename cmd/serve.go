package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/giantswarm/dav-proxy/internal/app"
	"github.com/giantswarm/dav-proxy/internal/config"
)

// serveOptions holds the serve command flags.
type serveOptions struct {
	oauth oauthFlags

	bind         string
	port         int
	socket       string
	systemd      bool
	upstream     string
	metricsAddr  string
	token        string
	tokenCommand string
	authTimeout  time.Duration
	noWatch      bool
}

var serveOpts serveOptions

// serveCmd starts the proxy.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the proxy",
	Long: `Runs the proxy in the foreground until interrupted.

Every request received is forwarded to the upstream with the same method,
path, query string, headers and body, plus an Authorization header carrying
a valid access token. The response is returned unchanged.

When no token is stored yet, the first request starts the browser
authorization and waits for it to complete.

Examples:
  dav-proxy serve
  dav-proxy serve --port 8081 --no-browser
  dav-proxy serve --socket /run/user/1000/dav-proxy.sock
  dav-proxy serve --token-command "pass show google/caldav-token"`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

// runServe is the main entry point for the serve command
func runServe(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	serveOpts.apply(cmd, &settings)

	application, err := app.NewApplication(app.NewConfig(settings, GetVersion()))
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return application.Run(ctx)
}

func (o *serveOptions) apply(cmd *cobra.Command, s *config.Config) {
	o.oauth.apply(cmd, s)

	flags := cmd.Flags()
	if flags.Changed("bind") {
		s.Listen.Bind = o.bind
	}
	if flags.Changed("port") {
		s.Listen.Port = o.port
	}
	if flags.Changed("socket") {
		s.Listen.Socket = config.ExpandHome(o.socket)
	}
	if flags.Changed("systemd") {
		s.Listen.Systemd = o.systemd
	}
	if flags.Changed("upstream") {
		s.Upstream = o.upstream
	}
	if flags.Changed("metrics-addr") {
		s.MetricsAddr = o.metricsAddr
	}
	if flags.Changed("token") {
		s.Token = o.token
	}
	if flags.Changed("token-command") {
		s.TokenCommand = o.tokenCommand
	}
	if flags.Changed("auth-timeout") {
		s.AuthTimeout = o.authTimeout
	}
	if flags.Changed("no-watch") {
		s.WatchTokenFile = !o.noWatch
	}
}

func (o *serveOptions) register(cmd *cobra.Command) {
	o.oauth.register(cmd)
	cmd.Flags().StringVar(&o.bind, "bind", config.DefaultBind, "Address to listen on")
	cmd.Flags().IntVarP(&o.port, "port", "p", config.DefaultPort, "Port to listen on")
	cmd.Flags().StringVar(&o.socket, "socket", "", "Listen on a unix socket instead of TCP")
	cmd.Flags().BoolVar(&o.systemd, "systemd", false, "Use sockets passed by systemd socket activation")
	cmd.Flags().StringVar(&o.upstream, "upstream", config.DefaultUpstream, "Upstream base URL")
	cmd.Flags().StringVar(&o.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. 127.0.0.1:9090")
	cmd.Flags().StringVar(&o.token, "token", "", "Use this access token instead of the OAuth flow")
	cmd.Flags().StringVar(&o.tokenCommand, "token-command", "", "Run this command to obtain access tokens instead of the OAuth flow")
	cmd.Flags().DurationVar(&o.authTimeout, "auth-timeout", config.DefaultAuthTimeout, "How long to wait for the browser authorization")
	cmd.Flags().BoolVar(&o.noWatch, "no-watch", false, "Do not reload the token file when it changes on disk")
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveOpts.register(serveCmd)
}
