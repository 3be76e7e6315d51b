package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/giantswarm/dav-proxy/internal/oauth"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeCredentialsInvalid indicates the client credentials file is missing or malformed.
	ExitCodeCredentialsInvalid = 2
	// ExitCodeAuthFailed indicates the OAuth flow failed or no token is available.
	ExitCodeAuthFailed = 3
)

// Global flags shared by all commands.
var (
	configPath string
	verbose    bool
	logFormat  string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "dav-proxy",
	Short: "Local CalDAV/CardDAV proxy that handles Google OAuth for you",
	Long: `dav-proxy listens on a local port and forwards every WebDAV request
to the Google CalDAV/CardDAV API, adding a valid OAuth bearer token.

Point a calendar or contacts client that cannot do OAuth at the proxy and
it will see a plain, unauthenticated DAV server. Tokens are obtained once
through the browser, stored on disk and refreshed automatically.`,
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
// This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "dav-proxy version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
// This provides semantic exit codes for scripting and automation.
func getExitCode(err error) int {
	switch {
	case err == nil:
		return ExitCodeSuccess
	case errors.Is(err, oauth.ErrCredentialsInvalid):
		return ExitCodeCredentialsInvalid
	case errors.Is(err, oauth.ErrAuthorizationTimeout),
		errors.Is(err, oauth.ErrAuthorizationExchange),
		errors.Is(err, oauth.ErrNoToken):
		return ExitCodeAuthFailed
	default:
		return ExitCodeError
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default is $HOME/.config/dav-proxy/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text or json")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())
}
