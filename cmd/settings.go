package cmd

import (
	"github.com/spf13/cobra"

	"github.com/giantswarm/dav-proxy/internal/config"
	"github.com/giantswarm/dav-proxy/pkg/logging"
)

// oauthFlags are the flags shared by serve and auth login.
type oauthFlags struct {
	credentialsFile string
	tokenFile       string
	scopes          []string
	noBrowser       bool
	callbackPort    int
}

func (f *oauthFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.credentialsFile, "credentials-file", "", "OAuth client secrets file (default is $HOME/.config/dav-proxy/credentials.json)")
	cmd.Flags().StringVar(&f.tokenFile, "token-file", "", "Token file (default is $HOME/.config/dav-proxy/token.json)")
	cmd.Flags().StringSliceVar(&f.scopes, "scopes", nil, "OAuth scopes to request")
	cmd.Flags().BoolVar(&f.noBrowser, "no-browser", false, "Print the authorization URL instead of opening a browser")
	cmd.Flags().IntVar(&f.callbackPort, "callback-port", 0, "Port of the local OAuth redirect listener (default picks a free port)")
}

func (f *oauthFlags) apply(cmd *cobra.Command, s *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("credentials-file") {
		s.CredentialsFile = config.ExpandHome(f.credentialsFile)
	}
	if flags.Changed("token-file") {
		s.TokenFile = config.ExpandHome(f.tokenFile)
	}
	if flags.Changed("scopes") {
		s.Scopes = f.scopes
	}
	if flags.Changed("no-browser") {
		s.OpenBrowser = !f.noBrowser
	}
	if flags.Changed("callback-port") {
		s.CallbackPort = f.callbackPort
	}
}

// loadSettings loads the config file and applies the global flags.
func loadSettings(cmd *cobra.Command) (config.Config, error) {
	s, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if verbose {
		s.Log.Level = "debug"
	}
	if cmd.Flags().Changed("log-format") {
		s.Log.Format = logFormat
	}
	return s, nil
}

// initCLILogging sets up logging for the short-lived auth commands.
func initCLILogging(cmd *cobra.Command, s config.Config) {
	level, err := logging.ParseLevel(s.Log.Level)
	if err != nil {
		level = logging.LevelInfo
	}
	format, err := logging.ParseFormat(s.Log.Format)
	if err != nil {
		format = logging.FormatText
	}
	logging.Init(level, format, cmd.ErrOrStderr())
}
