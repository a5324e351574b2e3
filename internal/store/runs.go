package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/oklog/ulid/v2"
)

// Run ledger: one row per reconciliation run. The lifecycle is
//
//	StartRun (IN_PROGRESS) → FinishRun (COMPLETED | FAILED)
//
// Nothing retries automatically; a failed run is re-triggered from outside.

const sqlSelectRuns = `SELECT id, direction, status, rows_affected, error,
	conflict_rows, started_at, finished_at FROM sync_runs `

// StartRun opens a ledger entry for a run in the given direction.
func (s *Store) StartRun(ctx context.Context, direction RunDirection) (*Run, error) {
	run := &Run{
		ID:        ulid.Make().String(),
		Direction: direction,
		Status:    RunInProgress,
		StartedAt: s.now(),
	}

	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO sync_runs (id, direction, status, started_at)
		VALUES (?, ?, ?, ?)`),
		run.ID, string(direction), string(RunInProgress), toMillis(run.StartedAt))
	if err != nil {
		return nil, fmt.Errorf("store: starting %s run: %w", direction, err)
	}

	s.logger.Debug("run started", slog.String("run_id", run.ID), slog.String("direction", string(direction)))

	return run, nil
}

// FinishRun moves an in-progress run to its terminal status.
func (s *Store) FinishRun(ctx context.Context, id string, result RunResult) error {
	if result.Status != RunCompleted && result.Status != RunFailed {
		return fmt.Errorf("store: finishing run %s: invalid terminal status %q", id, result.Status)
	}

	var conflicts sql.NullString

	if len(result.ConflictRows) > 0 {
		b, err := json.Marshal(result.ConflictRows)
		if err != nil {
			return fmt.Errorf("store: encoding conflict rows for run %s: %w", id, err)
		}

		conflicts = sql.NullString{String: string(b), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, s.q(`UPDATE sync_runs
		SET status = ?, rows_affected = ?, error = ?, conflict_rows = ?, finished_at = ?
		WHERE id = ? AND status = ?`),
		string(result.Status), result.RowsAffected, nullString(result.Error), conflicts,
		toMillis(s.now()), id, string(RunInProgress),
	)
	if err != nil {
		return fmt.Errorf("store: finishing run %s: %w", id, err)
	}

	if err := expectOneRow(res, "finish run", id); err != nil {
		return fmt.Errorf("store: run %s is not %s: %w", id, RunInProgress, err)
	}

	return nil
}

// ListRuns returns the most recent runs, newest first. An empty direction
// lists both directions.
func (s *Store) ListRuns(ctx context.Context, direction RunDirection, limit int) ([]*Run, error) {
	query := sqlSelectRuns
	args := []any{}

	if direction != "" {
		query += `WHERE direction = ? `
		args = append(args, string(direction))
	}

	query += `ORDER BY started_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("store: listing runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run

	for rows.Next() {
		r, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, scanErr
		}

		runs = append(runs, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating runs: %w", err)
	}

	return runs, nil
}

// LastRun returns the newest run in a direction, or ErrNotFound.
func (s *Store) LastRun(ctx context.Context, direction RunDirection) (*Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx,
		s.q(sqlSelectRuns+`WHERE direction = ? ORDER BY started_at DESC, id DESC LIMIT 1`),
		string(direction)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	return r, nil
}

func scanRun(sc rowScanner) (*Run, error) {
	var (
		r          Run
		direction  string
		status     string
		errMsg     sql.NullString
		conflicts  sql.NullString
		startedAt  int64
		finishedAt sql.NullInt64
	)

	err := sc.Scan(&r.ID, &direction, &status, &r.RowsAffected, &errMsg,
		&conflicts, &startedAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	if err != nil {
		return nil, fmt.Errorf("store: scanning run: %w", err)
	}

	r.Direction = RunDirection(direction)
	r.Status = RunStatus(status)
	r.Error = errMsg.String
	r.StartedAt = fromMillis(startedAt)
	r.FinishedAt = timePtr(finishedAt)

	if conflicts.Valid && conflicts.String != "" {
		if err := json.Unmarshal([]byte(conflicts.String), &r.ConflictRows); err != nil {
			return nil, fmt.Errorf("store: parsing conflict rows for run %s: %w", r.ID, err)
		}
	}

	return &r, nil
}
