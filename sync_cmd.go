package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/sheetsync/internal/sync"
)

func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Push database changes into the spreadsheet",
		Long: `Write every letter changed since its last sync into the spreadsheet:
rows already in the sheet are updated in place, new letters are appended
after the last used row, and deletions are marked in the DELETED_AT column.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCycleCmd(cmd, sync.SyncExportOnly)
		},
	}
}

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import",
		Short: "Pull spreadsheet edits into the database",
		Long: `Read every spreadsheet row and reconcile it with the database. When both
sides changed since the last sync and the sheet is not newer, the database
wins and the row is flagged CONFLICT.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCycleCmd(cmd, sync.SyncImportOnly)
		},
	}
}

func newSyncCmd() *cobra.Command {
	var exportOnly, importOnly bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run export then import once",
		Long: `Run one synchronization cycle: export first, so the sheet reflects
database edits, then import. Use --export-only or --import-only for one
direction. Without either flag the cycle follows sync.mode.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			mode := syncMode(cc.Cfg.Sync.Mode)

			switch {
			case exportOnly:
				mode = sync.SyncExportOnly
			case importOnly:
				mode = sync.SyncImportOnly
			}

			return runCycleCmd(cmd, mode)
		},
	}

	cmd.Flags().BoolVar(&exportOnly, "export-only", false, "only push database changes")
	cmd.Flags().BoolVar(&importOnly, "import-only", false, "only pull sheet edits")
	cmd.MarkFlagsMutuallyExclusive("export-only", "import-only")

	return cmd
}

// runCycleCmd runs one cycle under the configured run timeout and prints
// its report.
func runCycleCmd(cmd *cobra.Command, mode sync.SyncMode) error {
	cc := mustCLIContext(cmd.Context())

	ctx := shutdownContext(cmd.Context(), cc.Logger)

	ctx, cancel := context.WithTimeout(ctx, cc.Cfg.Sync.RunTimeoutDuration())
	defer cancel()

	a, err := newApp(ctx, cc.Cfg, cc.Logger)
	if err != nil {
		return err
	}
	defer a.close(cc.Logger)

	report, err := a.engine.RunCycle(ctx, mode)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		return printJSON(cc.Stdout, newCycleJSON(report))
	}

	if !cc.Flags.Quiet {
		printCycleReport(cc.Stdout, report)
	}

	return nil
}

// cycleJSON is the JSON schema for export/import/sync --json.
type cycleJSON struct {
	Mode       string      `json:"mode"`
	DurationMS int64       `json:"duration_ms"`
	Export     *exportJSON `json:"export,omitempty"`
	Import     *importJSON `json:"import,omitempty"`
}

type exportJSON struct {
	RunID       string `json:"run_id"`
	Updated     int    `json:"updated"`
	Appended    int    `json:"appended"`
	Deleted     int    `json:"deleted"`
	OwnerValues int    `json:"owner_values"`
}

type importJSON struct {
	RunID      string         `json:"run_id"`
	Imported   int            `json:"imported"`
	Created    int            `json:"created"`
	Updated    int            `json:"updated"`
	Deleted    int            `json:"deleted"`
	Healed     int            `json:"healed"`
	Duplicates int            `json:"duplicates"`
	Conflicts  []int          `json:"conflict_rows"`
	Outcomes   map[string]int `json:"outcomes"`
}

func newCycleJSON(r *sync.CycleReport) cycleJSON {
	out := cycleJSON{
		Mode:       r.Mode.String(),
		DurationMS: r.Duration.Milliseconds(),
	}

	if e := r.Export; e != nil {
		out.Export = &exportJSON{
			RunID:       e.RunID,
			Updated:     e.Updated,
			Appended:    e.Appended,
			Deleted:     e.Deleted,
			OwnerValues: e.OwnerValues,
		}
	}

	if i := r.Import; i != nil {
		outcomes := make(map[string]int, len(i.Outcomes))
		for o, n := range i.Outcomes {
			outcomes[o.String()] = n
		}

		conflicts := i.Conflicts
		if conflicts == nil {
			conflicts = []int{}
		}

		out.Import = &importJSON{
			RunID:      i.RunID,
			Imported:   i.Imported,
			Created:    i.Created,
			Updated:    i.Updated,
			Deleted:    i.Deleted,
			Healed:     i.Healed,
			Duplicates: i.Duplicates,
			Conflicts:  conflicts,
			Outcomes:   outcomes,
		}
	}

	return out
}

func printCycleReport(w io.Writer, r *sync.CycleReport) {
	if e := r.Export; e != nil {
		fmt.Fprintf(w, "Export: %d updated, %d appended, %d deleted (%s)\n",
			e.Updated, e.Appended, e.Deleted, e.Duration.Round(time.Millisecond))
	}

	if i := r.Import; i != nil {
		fmt.Fprintf(w, "Import: %d created, %d updated, %d deleted, %d healed (%s)\n",
			i.Created, i.Updated, i.Deleted, i.Healed, i.Duration.Round(time.Millisecond))

		if i.Duplicates > 0 {
			fmt.Fprintf(w, "  %d duplicate rows skipped\n", i.Duplicates)
		}

		if len(i.Conflicts) > 0 {
			fmt.Fprintf(w, "  %s (database kept)\n", sync.ConflictSummary(i.Conflicts))
		}
	}
}
