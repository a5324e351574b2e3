package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/sheetsync/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// CLIFlags holds the persistent flags of the root command.
type CLIFlags struct {
	ConfigPath  string
	Spreadsheet string
	Sheet       string
	JSON        bool
	Verbose     bool
	Quiet       bool
}

// CLIContext is built once per invocation by the root pre-run and carried
// on the command context.
type CLIContext struct {
	Flags   CLIFlags
	Env     config.EnvOverrides
	CLI     config.CLIOverrides
	Cfg     *config.Config
	CfgPath string
	Logger  *slog.Logger
	Stdout  io.Writer

	logCloser io.Closer
}

type cliContextKey struct{}

// mustCLIContext returns the CLIContext installed by the root pre-run.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("BUG: CLIContext missing from command context")
	}

	return cc
}

// skipConfigCommands bootstrap the config file themselves.
var skipConfigCommands = map[string]bool{
	"sheetsync config init": true,
}

// newRootCmd builds the root command with all subcommands registered.
func newRootCmd() *cobra.Command {
	flags := &CLIFlags{}

	cmd := &cobra.Command{
		Use:   "sheetsync",
		Short: "Letters database <-> Google Sheets synchronization",
		Long: `Keep the letters database and the tracking spreadsheet in sync.

Export pushes database changes into the sheet, import pulls sheet edits back
into the database, and sync runs both. The daemon repeats sync on an interval.`,
		Version: version,
		// Errors are printed once by main.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := newCLIContext(cmd, flags)
			if err != nil {
				return err
			}

			cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, cc))

			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if cc, ok := cmd.Context().Value(cliContextKey{}).(*CLIContext); ok && cc.logCloser != nil {
				return cc.logCloser.Close()
			}

			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.ConfigPath, "config", "", "config file path")
	pf.StringVar(&flags.Spreadsheet, "spreadsheet", "", "spreadsheet id (overrides config)")
	pf.StringVar(&flags.Sheet, "sheet", "", "sheet (tab) name (overrides config)")
	pf.BoolVar(&flags.JSON, "json", false, "output in JSON format")
	pf.BoolVarP(&flags.Verbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVarP(&flags.Quiet, "quiet", "q", false, "suppress informational output")
	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(newExportCmd())
	cmd.AddCommand(newImportCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newDaemonCmd())
	cmd.AddCommand(newTriggerCmd())
	cmd.AddCommand(newReloadCmd())
	cmd.AddCommand(newRunsCmd())
	cmd.AddCommand(newConflictsCmd())
	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// newCLIContext resolves configuration and logging for one invocation.
func newCLIContext(cmd *cobra.Command, flags *CLIFlags) (*CLIContext, error) {
	cc := &CLIContext{
		Flags:  *flags,
		Env:    config.ReadEnvOverrides(),
		Stdout: cmd.OutOrStdout(),
	}

	cc.CLI = config.CLIOverrides{ConfigPath: flags.ConfigPath}

	// Only pass overrides the user explicitly set.
	if cmd.Flags().Changed("spreadsheet") {
		cc.CLI.SpreadsheetID = &cc.Flags.Spreadsheet
	}

	if cmd.Flags().Changed("sheet") {
		cc.CLI.SheetName = &cc.Flags.Sheet
	}

	cc.CfgPath = config.ResolvePath(cc.Env, cc.CLI)

	if skipConfigCommands[cmd.CommandPath()] {
		cc.Logger = bootstrapLogger(flags, cmd.ErrOrStderr())
		return cc, nil
	}

	cfg, err := config.Resolve(cc.Env, cc.CLI)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	cc.Cfg = cfg

	logger, closer, err := buildLogger(&cfg.Logging, flags, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}

	cc.Logger = logger
	cc.logCloser = closer

	return cc, nil
}
