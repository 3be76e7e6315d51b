package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/giantswarm/dav-proxy/internal/oauth"
)

var logoutFlags oauthFlags

// authLogoutCmd represents the auth logout command
var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Delete the stored token",
	Long: `Deletes the stored token file. The next request through the proxy
starts a new browser authorization.`,
	Args: cobra.NoArgs,
	RunE: runAuthLogout,
}

func init() {
	logoutFlags.register(authLogoutCmd)
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	logoutFlags.apply(cmd, &settings)
	initCLILogging(cmd, settings)

	store, err := oauth.NewTokenStore(oauth.TokenStoreConfig{Path: settings.TokenFile})
	if err != nil {
		return err
	}
	tok, err := store.Load()
	if err == nil && tok == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "No token stored in %s\n", store.Path())
		return nil
	}

	if err := store.Remove(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", store.Path())
	return nil
}
