package main

import (
	"fmt"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/sheetsync/internal/sheets"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authorize access to Google Sheets in the browser",
		Long: `Run the OAuth authorization code flow in the browser and save the token
at sheets.token_file. Needs sheets.client_id (and usually client_secret) of a
Google "Desktop app" OAuth client. Not needed with a service-account key.`,
		Args: cobra.NoArgs,
		RunE: runLogin,
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved Google token",
		Args:  cobra.NoArgs,
		RunE:  runLogout,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	cfg := cc.Cfg

	if cfg.Sheets.ClientID == "" {
		return fmt.Errorf("sheets.client_id is not set; login needs an OAuth client")
	}

	if cfg.Sheets.CredentialsFile != "" {
		cc.Logger.Warn("sheets.credentials_file is set and takes precedence over the login token")
	}

	ctx := shutdownContext(cmd.Context(), cc.Logger)

	if _, err := sheets.LoginWithBrowser(ctx, cfg.Sheets.TokenFile, oauthClient(cfg), openBrowser, cc.Logger); err != nil {
		return err
	}

	cc.Statusf("Login successful. Token saved to %s\n", cfg.Sheets.TokenFile)

	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if err := sheets.Logout(cc.Cfg.Sheets.TokenFile, cc.Logger); err != nil {
		return err
	}

	cc.Statusf("Logged out.\n")

	return nil
}

// openBrowser opens url with the platform's default handler.
func openBrowser(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}

	return cmd.Start()
}
