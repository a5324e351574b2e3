package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/tonimelisma/sheetsync/internal/sheets"
	"github.com/tonimelisma/sheetsync/internal/store"
)

// DefaultDeadlineWorkingDays is the deadline offset applied when a sheet row
// has no parseable deadline.
const DefaultDeadlineWorkingDays = 10

// templateRow is the one-based row whose formatting and validation new rows
// inherit (the first data row under the header).
const templateRow = 2

// finishTimeout bounds the ledger write that closes a run; it runs on a
// context detached from the run's own cancellation.
const finishTimeout = 10 * time.Second

// EngineConfig holds the options for NewEngine.
type EngineConfig struct {
	Letters   LetterStore
	Directory Directory
	Ledger    RunLedger
	Sheet     SheetGateway
	Lock      Locker // optional; nil runs without cross-host locking

	SheetName           string
	FormulaSeparator    string // ";" or ","; empty means ";"
	DeadlineWorkingDays int    // <= 0 means DefaultDeadlineWorkingDays

	Logger *slog.Logger
}

// Engine runs export and import reconciliations against one sheet.
type Engine struct {
	letters LetterStore
	dir     Directory
	ledger  RunLedger
	sheet   SheetGateway
	lock    Locker
	codec   *Codec

	sheetName    string
	deadlineDays int
	logger       *slog.Logger
	nowFunc      func() time.Time // injectable for tests
}

// NewEngine validates cfg and builds an Engine.
func NewEngine(cfg *EngineConfig) (*Engine, error) {
	var errs []error

	if cfg.Letters == nil {
		errs = append(errs, errors.New("letter store is required"))
	}

	if cfg.Directory == nil {
		errs = append(errs, errors.New("directory is required"))
	}

	if cfg.Ledger == nil {
		errs = append(errs, errors.New("run ledger is required"))
	}

	if cfg.Sheet == nil {
		errs = append(errs, errors.New("sheet gateway is required"))
	}

	if strings.TrimSpace(cfg.SheetName) == "" {
		errs = append(errs, errors.New("sheet name is required"))
	}

	codec, err := NewCodec(cfg.FormulaSeparator)
	if err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("sync: invalid engine config: %w", errors.Join(errs...))
	}

	days := cfg.DeadlineWorkingDays
	if days <= 0 {
		days = DefaultDeadlineWorkingDays
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		letters:      cfg.Letters,
		dir:          cfg.Directory,
		ledger:       cfg.Ledger,
		sheet:        cfg.Sheet,
		lock:         cfg.Lock,
		codec:        codec,
		sheetName:    cfg.SheetName,
		deadlineDays: days,
		logger:       logger.With(slog.String("sheet", cfg.SheetName)),
		nowFunc:      time.Now,
	}, nil
}

func (e *Engine) now() time.Time {
	return e.nowFunc().UTC().Truncate(time.Millisecond)
}

// rng builds an A1 range on the engine's sheet.
func (e *Engine) rng(from, to string) string {
	return sheets.A1(e.sheetName, from, to)
}

// Export pushes database state to the sheet as one ledgered run.
func (e *Engine) Export(ctx context.Context) (*ExportReport, error) {
	run, err := e.ledger.StartRun(ctx, store.DirectionExport)
	if err != nil {
		return nil, fmt.Errorf("sync: starting export run: %w", err)
	}

	start := time.Now()
	e.logger.Info("export starting", slog.String("run_id", run.ID))

	report, err := e.export(ctx)
	if err != nil {
		e.finish(ctx, run.ID, store.RunResult{Status: store.RunFailed, Error: err.Error()})
		e.logger.Error("export failed", slog.String("run_id", run.ID), slog.String("error", err.Error()))

		return nil, err
	}

	report.RunID = run.ID
	report.Duration = time.Since(start)

	if err := e.finish(ctx, run.ID, store.RunResult{
		Status:       store.RunCompleted,
		RowsAffected: report.RowsAffected(),
	}); err != nil {
		return report, err
	}

	e.logger.Info("export complete",
		slog.String("run_id", run.ID),
		slog.Int("updated", report.Updated),
		slog.Int("appended", report.Appended),
		slog.Int("deleted", report.Deleted),
		slog.Duration("duration", report.Duration),
	)

	return report, nil
}

// Import pulls sheet edits into the database as one ledgered run. Conflicts
// do not fail the run; they are listed in the report and the ledger entry.
func (e *Engine) Import(ctx context.Context) (*ImportReport, error) {
	run, err := e.ledger.StartRun(ctx, store.DirectionImport)
	if err != nil {
		return nil, fmt.Errorf("sync: starting import run: %w", err)
	}

	start := time.Now()
	e.logger.Info("import starting", slog.String("run_id", run.ID))

	report, err := e.importSheet(ctx)
	if err != nil {
		e.finish(ctx, run.ID, store.RunResult{Status: store.RunFailed, Error: err.Error()})
		e.logger.Error("import failed", slog.String("run_id", run.ID), slog.String("error", err.Error()))

		return nil, err
	}

	report.RunID = run.ID
	report.Duration = time.Since(start)

	if err := e.finish(ctx, run.ID, store.RunResult{
		Status:       store.RunCompleted,
		RowsAffected: report.Imported,
		Error:        ConflictSummary(report.Conflicts),
		ConflictRows: report.Conflicts,
	}); err != nil {
		return report, err
	}

	e.logger.Info("import complete",
		slog.String("run_id", run.ID),
		slog.Int("created", report.Created),
		slog.Int("updated", report.Updated),
		slog.Int("deleted", report.Deleted),
		slog.Int("healed", report.Healed),
		slog.Int("conflicts", len(report.Conflicts)),
		slog.Duration("duration", report.Duration),
	)

	return report, nil
}

// finish closes a ledger entry even when ctx is already canceled, so a
// timed-out run is still recorded as failed.
func (e *Engine) finish(ctx context.Context, runID string, result store.RunResult) error {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	if err := e.ledger.FinishRun(fctx, runID, result); err != nil {
		e.logger.Error("failed to close run ledger entry",
			slog.String("run_id", runID),
			slog.String("status", string(result.Status)),
			slog.String("error", err.Error()),
		)

		return fmt.Errorf("sync: finishing run %s: %w", runID, err)
	}

	return nil
}

// ConflictSummary renders conflicted rows for the ledger's message field,
// e.g. "conflicts in rows: 5, 9". Empty when there are none.
func ConflictSummary(rows []int) string {
	if len(rows) == 0 {
		return ""
	}

	parts := make([]string, len(rows))
	for i, r := range rows {
		parts[i] = strconv.Itoa(r)
	}

	return "conflicts in rows: " + strings.Join(parts, ", ")
}

// RunCycle runs the reconcilers selected by mode: export first so the sheet
// reflects database edits before sheet edits are judged against it. A held
// lock or a failed export stops the cycle.
func (e *Engine) RunCycle(ctx context.Context, mode SyncMode) (*CycleReport, error) {
	start := time.Now()
	report := &CycleReport{Mode: mode}

	if e.lock != nil {
		release, err := e.lock.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("sync: acquiring run lock: %w", err)
		}

		defer func() {
			if relErr := release(context.WithoutCancel(ctx)); relErr != nil {
				e.logger.Warn("releasing run lock failed", slog.String("error", relErr.Error()))
			}
		}()
	}

	e.logger.Info("sync cycle starting", slog.String("mode", mode.String()))

	if mode != SyncImportOnly {
		exp, err := e.Export(ctx)
		if err != nil {
			return report, err
		}

		report.Export = exp
	}

	if mode != SyncExportOnly {
		imp, err := e.Import(ctx)
		if err != nil {
			return report, err
		}

		report.Import = imp
	}

	report.Duration = time.Since(start)

	e.logger.Info("sync cycle complete",
		slog.String("mode", mode.String()),
		slog.Duration("duration", report.Duration),
	)

	return report, nil
}
