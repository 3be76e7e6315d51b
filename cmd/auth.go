package cmd

import (
	"github.com/spf13/cobra"
)

// authCmd groups the token management commands.
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the stored OAuth token",
	Long: `Manage the OAuth token used to talk to the upstream.

Examples:
  dav-proxy auth login    # Authorize in the browser and store a token
  dav-proxy auth status   # Show the stored token state
  dav-proxy auth logout   # Delete the stored token`,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authLogoutCmd)
}
