// Package sync reconciles the letters store with the tracking spreadsheet.
//
// Export pushes database state into the sheet, import pulls sheet edits back
// into the database, and both share one field table (fields.go) that
// defines how a letter maps onto the 21 spreadsheet columns.
package sync

import (
	"context"
	"time"

	"github.com/tonimelisma/sheetsync/internal/sheets"
	"github.com/tonimelisma/sheetsync/internal/store"
)

// --- Consumer-defined interfaces ---
// internal/store and internal/sheets satisfy these; tests use in-memory fakes.

// LetterStore is the record store as seen by the reconcilers.
type LetterStore interface {
	ListLive(ctx context.Context) ([]*store.Letter, error)
	ListDeletedUnsynced(ctx context.Context) ([]*store.Letter, error)
	FindByID(ctx context.Context, id string) (*store.Letter, error)
	FindLiveByNumber(ctx context.Context, number string) (*store.Letter, error)
	Create(ctx context.Context, f store.LetterFields) (*store.Letter, error)
	Update(ctx context.Context, id string, f store.LetterFields) (*store.Letter, error)
	SoftDelete(ctx context.Context, id string, at time.Time) (*store.Letter, error)
	MarkSynced(ctx context.Context, ids []string, at time.Time) error
	SetSheetRows(ctx context.Context, rows map[string]int) error
}

// Directory is the user directory that owner cells resolve against.
type Directory interface {
	ListUsers(ctx context.Context) ([]*store.User, error)
	CreateUser(ctx context.Context, u store.User) (*store.User, error)
	SetCanLogin(ctx context.Context, id string, canLogin bool) error
	DisableLoginExcept(ctx context.Context, keep []string) (int, error)
}

// RunLedger records one entry per reconciliation run.
type RunLedger interface {
	StartRun(ctx context.Context, direction store.RunDirection) (*store.Run, error)
	FinishRun(ctx context.Context, id string, result store.RunResult) error
}

// SheetGateway is the subset of the Sheets API the reconcilers use.
type SheetGateway interface {
	ReadRange(ctx context.Context, rng string) ([][]string, error)
	BatchWrite(ctx context.Context, ranges []sheets.ValueRange) error
	WriteRange(ctx context.Context, vr sheets.ValueRange) error
	CopyFormat(ctx context.Context, sheet string, srcRow, dstFirst, dstLast, cols int) error
	SetListValidation(ctx context.Context, sheet string, col, firstRow, lastRow int, values []string) error
}

// Locker serializes reconciliation cycles. Acquire returns a release
// function or an error when the lock is held elsewhere.
type Locker interface {
	Acquire(ctx context.Context) (release func(context.Context) error, err error)
}

// SyncMode selects which reconcilers a cycle runs.
type SyncMode int

// Cycle modes.
const (
	SyncBidirectional SyncMode = iota
	SyncExportOnly
	SyncImportOnly
)

func (m SyncMode) String() string {
	switch m {
	case SyncBidirectional:
		return "bidirectional"
	case SyncExportOnly:
		return "export-only"
	case SyncImportOnly:
		return "import-only"
	default:
		return "unknown"
	}
}

// ExportReport summarizes one export run.
type ExportReport struct {
	RunID       string
	Updated     int // existing rows rewritten in place
	Appended    int // new rows added after the last used row
	Deleted     int // database deletions written to the sheet
	OwnerValues int // size of the owner dropdown list
	Duration    time.Duration
}

// RowsAffected is the count recorded in the run ledger.
func (r *ExportReport) RowsAffected() int {
	return r.Updated + r.Appended + r.Deleted
}

// RowOutcome is the single resolution applied to one sheet row in an import.
type RowOutcome int

// Row outcomes. OutcomeHealed means the row was rewritten without any change
// to the database record.
const (
	OutcomeNoop RowOutcome = iota
	OutcomeCreated
	OutcomeDeleted
	OutcomeUpdated
	OutcomeConflict
	OutcomeHealed
)

func (o RowOutcome) String() string {
	switch o {
	case OutcomeNoop:
		return "no-op"
	case OutcomeCreated:
		return "created"
	case OutcomeDeleted:
		return "deletion-propagated"
	case OutcomeUpdated:
		return "updated-from-sheet"
	case OutcomeConflict:
		return "conflict-kept-db"
	case OutcomeHealed:
		return "row-healed"
	default:
		return "unknown"
	}
}

// ImportReport summarizes one import run.
type ImportReport struct {
	RunID      string
	Imported   int // created + updated + deleted
	Created    int
	Updated    int
	Deleted    int
	Healed     int
	Conflicts  []int // 1-based sheet rows flagged CONFLICT
	Duplicates int   // rows skipped because another row already claimed the record
	Outcomes   map[RowOutcome]int
	Duration   time.Duration
}

// CycleReport is the result of RunCycle. A reconciler that did not run
// leaves its report nil.
type CycleReport struct {
	Mode     SyncMode
	Export   *ExportReport
	Import   *ImportReport
	Duration time.Duration
}
