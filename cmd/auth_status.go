package cmd

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/giantswarm/dav-proxy/internal/config"
	"github.com/giantswarm/dav-proxy/internal/oauth"
)

var statusFlags oauthFlags

// authStatusCmd represents the auth status command
var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored token state",
	Long: `Shows whether a token is stored, when it expires and whether it can be
refreshed without the browser. Token values are never printed.`,
	Args: cobra.NoArgs,
	RunE: runAuthStatus,
}

func init() {
	statusFlags.register(authStatusCmd)
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	statusFlags.apply(cmd, &settings)
	initCLILogging(cmd, settings)

	store, err := oauth.NewTokenStore(oauth.TokenStoreConfig{Path: settings.TokenFile})
	if err != nil {
		return err
	}
	tok, loadErr := store.Load()

	renderStatus(cmd, settings, store.Path(), tok, loadErr, time.Now())
	return nil
}

func renderStatus(cmd *cobra.Command, settings config.Config, path string, tok oauth.Token, loadErr error, now time.Time) {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Property", "Value"})

	t.AppendRow(table.Row{"Token file", path})
	switch {
	case loadErr != nil:
		t.AppendRow(table.Row{"Status", text.FgRed.Sprintf("Unreadable: %v", loadErr)})
	case tok == nil:
		t.AppendRow(table.Row{"Status", text.FgYellow.Sprint("No token")})
		t.AppendRow(table.Row{"", "Run: dav-proxy auth login"})
	default:
		if tok.Valid(now, settings.ExpiryMargin) {
			t.AppendRow(table.Row{"Status", text.FgGreen.Sprint("Valid")})
		} else {
			t.AppendRow(table.Row{"Status", text.FgYellow.Sprint("Expired")})
		}
		if exp := tok.Expiry(); !exp.IsZero() {
			t.AppendRow(table.Row{"Expires", fmt.Sprintf("%s (%s)", exp.Local().Format(time.RFC3339), formatExpiryWithDirection(exp))})
		}
		if tok.RefreshToken() != "" {
			t.AppendRow(table.Row{"Refresh", text.FgGreen.Sprint("Available")})
		} else {
			t.AppendRow(table.Row{"Refresh", text.FgYellow.Sprint("Not available")})
		}
		t.AppendRow(table.Row{"Access token", oauth.NewRedactedToken(tok.AccessToken()).Fingerprint()})
	}

	if settings.UsesOAuth() {
		if _, err := oauth.LoadCredentials(settings.CredentialsFile, settings.Scopes); err != nil {
			t.AppendRow(table.Row{"Credentials", text.FgRed.Sprint(err.Error())})
		} else {
			t.AppendRow(table.Row{"Credentials", settings.CredentialsFile})
		}
	}

	t.Render()
}
