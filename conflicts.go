package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/sheetsync/internal/store"
)

func newConflictsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "conflicts",
		Short: "Show the rows flagged CONFLICT by the last import",
		Long: `List the spreadsheet rows the most recent import flagged as conflicts.

For those rows the database version was kept and written back to the sheet;
re-apply the sheet-side edit if it should win.`,
		Args: cobra.NoArgs,
		RunE: runConflicts,
	}
}

// conflictsJSON is the JSON schema for `conflicts --json`.
type conflictsJSON struct {
	RunID     string         `json:"run_id"`
	StartedAt string         `json:"started_at"`
	Rows      []conflictJSON `json:"rows"`
}

type conflictJSON struct {
	Row      int    `json:"row"`
	LetterID string `json:"letter_id,omitempty"`
	Number   string `json:"number,omitempty"`
	Org      string `json:"org,omitempty"`
}

func runConflicts(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	st, err := openStore(ctx, cc.Cfg, cc.Logger)
	if err != nil {
		return err
	}
	defer st.Close()

	run, err := st.LastRun(ctx, store.DirectionImport)
	if errors.Is(err, store.ErrNotFound) {
		fmt.Fprintln(cc.Stdout, "No import has run yet.")
		return nil
	}

	if err != nil {
		return err
	}

	// Conflict rewrites repair sheet_row_num, so live letters map back to
	// the flagged rows.
	letters, err := st.ListLive(ctx)
	if err != nil {
		return err
	}

	byRow := make(map[int]*store.Letter, len(letters))
	for _, l := range letters {
		if l.SheetRowNum > 0 {
			byRow[l.SheetRowNum] = l
		}
	}

	out := conflictsJSON{
		RunID:     run.ID,
		StartedAt: run.StartedAt.UTC().Format(time.RFC3339),
		Rows:      make([]conflictJSON, len(run.ConflictRows)),
	}

	for i, row := range run.ConflictRows {
		out.Rows[i] = conflictJSON{Row: row}

		if l := byRow[row]; l != nil {
			out.Rows[i].LetterID = l.ID
			out.Rows[i].Number = l.Number
			out.Rows[i].Org = l.Org
		}
	}

	if cc.Flags.JSON {
		return printJSON(cc.Stdout, out)
	}

	if len(out.Rows) == 0 {
		fmt.Fprintf(cc.Stdout, "No conflicts in the last import (run %s, %s).\n", run.ID, formatTime(run.StartedAt))
		return nil
	}

	fmt.Fprintf(cc.Stdout, "Import %s (%s) kept the database version for %d rows:\n\n",
		run.ID, formatTime(run.StartedAt), len(out.Rows))

	rows := make([][]string, len(out.Rows))
	for i, c := range out.Rows {
		rows[i] = []string{strconv.Itoa(c.Row), c.Number, c.Org}
	}

	printTable(cc.Stdout, []string{"ROW", "NUMBER", "ORG"}, rows)

	return nil
}
