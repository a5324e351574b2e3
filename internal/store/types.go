// Package store is the relational side of sheetsync: tracked letters, the
// user directory that letter owners resolve to, and the ledger of sync runs.
// It speaks database/sql against either SQLite or PostgreSQL and owns the
// schema through embedded goose migrations.
package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = errors.New("store: not found")

// LetterStatus is the review state of a letter as stored in letters.status.
type LetterStatus string

// Letter statuses.
const (
	StatusNotReviewed   LetterStatus = "NOT_REVIEWED"
	StatusInProgress    LetterStatus = "IN_PROGRESS"
	StatusClarification LetterStatus = "CLARIFICATION"
	StatusFrozen        LetterStatus = "FROZEN"
	StatusRejected      LetterStatus = "REJECTED"
	StatusDone          LetterStatus = "DONE"
)

// Valid reports whether s is one of the known statuses.
func (s LetterStatus) Valid() bool {
	switch s {
	case StatusNotReviewed, StatusInProgress, StatusClarification,
		StatusFrozen, StatusRejected, StatusDone:
		return true
	default:
		return false
	}
}

// Attachment is a file attached to a letter. URL is the retrievable
// location rendered into the spreadsheet as a hyperlink.
type Attachment struct {
	Name string
	URL  string
}

// Letter is a tracked piece of correspondence.
//
// Calendar dates (Date, DeadlineDate, IjroDate, CloseDate) carry no
// meaningful time of day and are normalized to UTC midnight. System
// timestamps have millisecond precision.
type Letter struct {
	ID           string
	Number       string
	Org          string
	Date         time.Time
	DeadlineDate time.Time
	Status       LetterStatus
	Type         string
	Content      string
	JiraLink     string
	Zordoc       string
	Answer       string
	SendStatus   string
	Comment      string
	Contacts     string
	IjroDate     *time.Time
	CloseDate    *time.Time
	OwnerID      string // empty when unassigned
	Owner        *User  // populated on reads when OwnerID is set
	Files        []Attachment

	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time
	LastSyncedAt *time.Time
	SheetRowNum  int // 1-based spreadsheet row, 0 when unknown
}

// Live reports whether the letter is not soft-deleted.
func (l *Letter) Live() bool {
	return l.DeletedAt == nil
}

// ChangedSinceSync reports whether the letter was modified after its state
// was last confirmed in the spreadsheet (or was never synced at all).
func (l *Letter) ChangedSinceSync() bool {
	return l.LastSyncedAt == nil || l.UpdatedAt.After(*l.LastSyncedAt)
}

// LetterFields is the set of business fields written by Create and Update.
// Contacts and Files are owned by the application and are not touched here.
type LetterFields struct {
	Number       string
	Org          string
	Date         time.Time
	DeadlineDate time.Time
	Status       LetterStatus
	Type         string
	Content      string
	JiraLink     string
	Zordoc       string
	Answer       string
	SendStatus   string
	Comment      string
	IjroDate     *time.Time
	CloseDate    *time.Time
	OwnerID      string
}

// Role is a directory role.
type Role string

// Directory roles. Elevated roles are never toggled by sheet membership.
const (
	RoleSuperAdmin Role = "superadmin"
	RoleAdmin      Role = "admin"
	RoleEmployee   Role = "employee"
)

// Elevated reports whether the role is exempt from automatic login toggling.
func (r Role) Elevated() bool {
	return r == RoleSuperAdmin || r == RoleAdmin
}

// User is a directory identity. At least one of Email and Name is set.
type User struct {
	ID       string
	Email    string
	Name     string
	Role     Role
	CanLogin bool
}

// Display returns the label used in the spreadsheet owner column: the email
// when present, otherwise the name.
func (u *User) Display() string {
	if u == nil {
		return ""
	}

	if u.Email != "" {
		return u.Email
	}

	return u.Name
}

// RunDirection is the direction of a reconciliation run.
type RunDirection string

// Run directions.
const (
	DirectionExport RunDirection = "export"
	DirectionImport RunDirection = "import"
)

// RunStatus is the lifecycle state of a ledger entry.
type RunStatus string

// Run statuses.
const (
	RunInProgress RunStatus = "IN_PROGRESS"
	RunCompleted  RunStatus = "COMPLETED"
	RunFailed     RunStatus = "FAILED"
)

// Run is one entry of the sync run ledger.
type Run struct {
	ID           string
	Direction    RunDirection
	Status       RunStatus
	RowsAffected int
	Error        string
	ConflictRows []int
	StartedAt    time.Time
	FinishedAt   *time.Time
}

// RunResult is the terminal state written by FinishRun.
type RunResult struct {
	Status       RunStatus
	RowsAffected int
	Error        string
	ConflictRows []int
}
