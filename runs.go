package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/sheetsync/internal/store"
)

const defaultRunsLimit = 20

// messageWidth truncates the MESSAGE column in table output.
const messageWidth = 60

func newRunsCmd() *cobra.Command {
	var (
		limit     int
		direction string
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent sync runs from the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := parseDirection(direction)
			if err != nil {
				return err
			}

			if limit <= 0 {
				return fmt.Errorf("--limit must be positive, got %d", limit)
			}

			cc := mustCLIContext(cmd.Context())
			ctx := cmd.Context()

			st, err := openStore(ctx, cc.Cfg, cc.Logger)
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := st.ListRuns(ctx, dir, limit)
			if err != nil {
				return err
			}

			if cc.Flags.JSON {
				return printJSON(cc.Stdout, newRunsJSON(runs))
			}

			if len(runs) == 0 {
				fmt.Fprintln(cc.Stdout, "No runs recorded.")
				return nil
			}

			printRunsTable(cc, runs)

			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", defaultRunsLimit, "maximum number of runs to show")
	cmd.Flags().StringVar(&direction, "direction", "", "only show export or import runs")

	return cmd
}

func parseDirection(s string) (store.RunDirection, error) {
	switch s {
	case "":
		return "", nil
	case string(store.DirectionExport):
		return store.DirectionExport, nil
	case string(store.DirectionImport):
		return store.DirectionImport, nil
	default:
		return "", fmt.Errorf("--direction must be %q or %q, got %q",
			store.DirectionExport, store.DirectionImport, s)
	}
}

// runJSON is the JSON schema for `runs --json`.
type runJSON struct {
	ID           string `json:"id"`
	Direction    string `json:"direction"`
	Status       string `json:"status"`
	RowsAffected int    `json:"rows_affected"`
	Error        string `json:"error,omitempty"`
	ConflictRows []int  `json:"conflict_rows,omitempty"`
	StartedAt    string `json:"started_at"`
	FinishedAt   string `json:"finished_at,omitempty"`
}

func newRunsJSON(runs []*store.Run) []runJSON {
	out := make([]runJSON, len(runs))

	for i, r := range runs {
		out[i] = runJSON{
			ID:           r.ID,
			Direction:    string(r.Direction),
			Status:       string(r.Status),
			RowsAffected: r.RowsAffected,
			Error:        r.Error,
			ConflictRows: r.ConflictRows,
			StartedAt:    r.StartedAt.UTC().Format(time.RFC3339Nano),
		}

		if r.FinishedAt != nil {
			out[i].FinishedAt = r.FinishedAt.UTC().Format(time.RFC3339Nano)
		}
	}

	return out
}

func printRunsTable(cc *CLIContext, runs []*store.Run) {
	headers := []string{"ID", "DIRECTION", "STATUS", "ROWS", "STARTED", "DURATION", "MESSAGE"}
	rows := make([][]string, len(runs))

	for i, r := range runs {
		rows[i] = []string{
			r.ID,
			string(r.Direction),
			string(r.Status),
			strconv.Itoa(r.RowsAffected),
			formatTime(r.StartedAt),
			formatDuration(r.StartedAt, r.FinishedAt),
			truncate(r.Error, messageWidth),
		}
	}

	printTable(cc.Stdout, headers, rows)
}

// truncate shortens s to n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}

	return string(r[:n-1]) + "…"
}
