package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/giantswarm/dav-proxy/internal/app"
	"github.com/giantswarm/dav-proxy/internal/oauth"
	"github.com/giantswarm/dav-proxy/pkg/logging"
)

var loginFlags oauthFlags

// loginBrowser overrides the browser launcher. Replaced in tests.
var loginBrowser oauth.BrowserOpener

// authLoginCmd represents the auth login command
var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authorize in the browser and store a token",
	Long: `Runs the browser authorization now and stores the resulting token,
replacing any token already stored. A running proxy picks up the new
token automatically.

Examples:
  dav-proxy auth login
  dav-proxy auth login --no-browser`,
	Args: cobra.NoArgs,
	RunE: runAuthLogin,
}

func init() {
	loginFlags.register(authLoginCmd)
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	loginFlags.apply(cmd, &settings)
	initCLILogging(cmd, settings)

	creds, err := oauth.LoadCredentials(settings.CredentialsFile, settings.Scopes)
	if err != nil {
		return err
	}
	store, err := oauth.NewTokenStore(oauth.TokenStoreConfig{Path: settings.TokenFile})
	if err != nil {
		return err
	}

	out := cmd.ErrOrStderr()
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(out))
	s.Suffix = " Waiting for authorization in the browser..."

	flow, err := app.NewFlow(settings, creds, app.FlowOptions{
		Prompt:  &spinnerPrompt{s: s, w: out},
		Browser: loginBrowser,
	})
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s.Start()
	tok, err := flow.Run(ctx)
	s.Stop()
	if err != nil {
		fmt.Fprintln(out, text.FgRed.Sprint("Authorization failed"))
		return err
	}

	if err := store.Save(tok); err != nil {
		return err
	}
	logging.Debug("CLI", "Token stored in %s", store.Path())

	fmt.Fprintln(cmd.OutOrStdout(), text.FgGreen.Sprint("Successfully obtained token."))
	if exp := tok.Expiry(); !exp.IsZero() {
		fmt.Fprintf(cmd.OutOrStdout(), "Token stored in %s, expires %s\n", store.Path(), formatExpiryWithDirection(exp))
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Token stored in %s\n", store.Path())
	}
	return nil
}

// spinnerPrompt pauses the spinner while the flow prints its instructions,
// so they are not overwritten.
type spinnerPrompt struct {
	s *spinner.Spinner
	w io.Writer
}

func (p *spinnerPrompt) Write(b []byte) (int, error) {
	p.s.Stop()
	defer p.s.Start()
	return p.w.Write(b)
}
