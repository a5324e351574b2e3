package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/sheetsync/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigInitCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if cc.Flags.JSON {
				return printJSON(cc.Stdout, redactedConfig(cc.Cfg))
			}

			return config.RenderEffective(cc.Cfg, cc.CfgPath, cc.Stdout)
		},
	}
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a commented config file",
		Long: `Create the config file (--config, SHEETSYNC_CONFIG or the platform default)
with every option listed. An existing file is never overwritten.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if cc.CfgPath == "" {
				return errors.New("cannot determine config path; pass --config")
			}

			id := cc.Flags.Spreadsheet
			if id == "" {
				id = cc.Env.SpreadsheetID
			}

			if err := config.WriteDefault(cc.CfgPath, id); err != nil {
				return err
			}

			cc.Statusf("Wrote %s\n", cc.CfgPath)

			return nil
		},
	}
}

// redactedConfig copies cfg with secrets masked for JSON output.
func redactedConfig(cfg *config.Config) *config.Config {
	c := *cfg

	if c.Sheets.ClientSecret != "" {
		c.Sheets.ClientSecret = "xxxxx"
	}

	c.Database.DSN = config.RedactURL(c.Database.DSN)
	c.Sync.LockURL = config.RedactURL(c.Sync.LockURL)

	return &c
}
