package sync

import (
	"strings"
	"time"

	"github.com/tonimelisma/sheetsync/internal/store"
)

// fieldTableVersion changes whenever a column is added, moved or changes
// meaning. Both reconcilers derive their notion of "changed" from fieldTable.
const fieldTableVersion = 1

// Spreadsheet columns, zero-based (A = 0).
const (
	colNumber         = iota // A
	colOrg                   // B
	colDate                  // C
	colDeadlineStatus        // D, spreadsheet formula, never written
	colDeadline              // E
	colStatus                // F
	colType                  // G
	colContent               // H
	colOwner                 // I
	colJira                  // J
	colZordoc                // K
	colAnswer                // L
	colSendStatus            // M
	colIjroDate              // N
	colCloseDate             // O
	colComment               // P
	colFiles                 // Q
	colID                    // R
	colUpdatedAt             // S
	colDeletedAt             // T
	colConflict              // U

	rowWidth
)

// BookkeepingHeader is the required content of R1:U1.
var BookkeepingHeader = []string{"ID", "UPDATED_AT", "DELETED_AT", "CONFLICT"}

const conflictMarker = "CONFLICT"

// field maps one letter attribute onto one column.
type field struct {
	name string
	col  int

	// encode renders the cell as written to the sheet.
	encode func(c *Codec, l *store.Letter) string

	// display is the formatted value expected on read-back when it differs
	// from what encode writes (formulas). nil means same as encode.
	display func(l *store.Letter) string

	// decode copies a trimmed cell into the decoded row. nil for
	// export-only columns.
	decode func(cell string, d *DecodedRow)

	// business fields take part in the sheet-vs-database comparison.
	// Files are compared by name list instead (filesDiffer).
	business bool
}

func (f *field) displayed(c *Codec, l *store.Letter) string {
	if f.display != nil {
		return f.display(l)
	}

	return f.encode(c, l)
}

// fieldTable is ordered by column. Column D has no entry.
var fieldTable = []field{
	{
		name: "number", col: colNumber, business: true,
		encode: func(_ *Codec, l *store.Letter) string { return l.Number },
		decode: func(s string, d *DecodedRow) { d.Number = s },
	},
	{
		name: "org", col: colOrg, business: true,
		encode: func(_ *Codec, l *store.Letter) string { return l.Org },
		decode: func(s string, d *DecodedRow) { d.Org = s },
	},
	{
		name: "date", col: colDate, business: true,
		encode: func(_ *Codec, l *store.Letter) string { return FormatDate(l.Date) },
		decode: func(s string, d *DecodedRow) { d.Date = parseDateCell(s) },
	},
	{
		name: "deadlineDate", col: colDeadline, business: true,
		encode: func(_ *Codec, l *store.Letter) string { return FormatDate(l.DeadlineDate) },
		decode: func(s string, d *DecodedRow) { d.Deadline = parseDateCell(s) },
	},
	{
		name: "status", col: colStatus, business: true,
		encode: func(_ *Codec, l *store.Letter) string { return StatusLabel(l.Status) },
		decode: func(s string, d *DecodedRow) { d.Status = ParseStatus(s) },
	},
	{
		name: "type", col: colType, business: true,
		encode: func(_ *Codec, l *store.Letter) string { return l.Type },
		decode: func(s string, d *DecodedRow) { d.Type = s },
	},
	{
		name: "content", col: colContent, business: true,
		encode: func(_ *Codec, l *store.Letter) string { return l.Content },
		decode: func(s string, d *DecodedRow) { d.Content = s },
	},
	{
		name: "owner", col: colOwner, business: true,
		encode: func(_ *Codec, l *store.Letter) string { return l.Owner.Display() },
		decode: func(s string, d *DecodedRow) { d.Owner = s },
	},
	{
		name: "jiraLink", col: colJira, business: true,
		encode: func(_ *Codec, l *store.Letter) string { return l.JiraLink },
		decode: func(s string, d *DecodedRow) { d.JiraLink = s },
	},
	{
		name: "zordoc", col: colZordoc, business: true,
		encode: func(_ *Codec, l *store.Letter) string { return l.Zordoc },
		decode: func(s string, d *DecodedRow) { d.Zordoc = s },
	},
	{
		name: "answer", col: colAnswer, business: true,
		encode: func(_ *Codec, l *store.Letter) string { return l.Answer },
		decode: func(s string, d *DecodedRow) { d.Answer = s },
	},
	{
		name: "sendStatus", col: colSendStatus, business: true,
		encode: func(_ *Codec, l *store.Letter) string { return l.SendStatus },
		decode: func(s string, d *DecodedRow) { d.SendStatus = s },
	},
	{
		name: "ijroDate", col: colIjroDate, business: true,
		encode: func(_ *Codec, l *store.Letter) string { return formatDatePtr(l.IjroDate) },
		decode: func(s string, d *DecodedRow) { d.IjroDate = parseDateCell(s) },
	},
	{
		name: "closeDate", col: colCloseDate, business: true,
		encode: func(_ *Codec, l *store.Letter) string { return formatDatePtr(l.CloseDate) },
		decode: func(s string, d *DecodedRow) { d.CloseDate = parseDateCell(s) },
	},
	{
		name: "comment", col: colComment, business: true,
		encode: func(_ *Codec, l *store.Letter) string { return l.Comment },
		decode: func(s string, d *DecodedRow) { d.Comment = s },
	},
	{
		name: "files", col: colFiles,
		encode:  func(c *Codec, l *store.Letter) string { return c.filesFormula(l.Files) },
		display: func(l *store.Letter) string { return strings.Join(attachmentNames(l), "\n") },
		decode: func(s string, d *DecodedRow) {
			for _, name := range strings.Split(s, "\n") {
				if name = strings.TrimSpace(name); name != "" {
					d.Files = append(d.Files, name)
				}
			}
		},
	},
	{
		name: "id", col: colID,
		encode: func(_ *Codec, l *store.Letter) string { return l.ID },
		decode: func(s string, d *DecodedRow) { d.ID = s },
	},
	{
		name: "updatedAt", col: colUpdatedAt,
		encode: func(_ *Codec, l *store.Letter) string { return FormatTimestamp(&l.UpdatedAt) },
		decode: func(s string, d *DecodedRow) { d.UpdatedAt = parseTimestampCell(s) },
	},
	{
		name: "deletedAt", col: colDeletedAt,
		encode: func(_ *Codec, l *store.Letter) string { return FormatTimestamp(l.DeletedAt) },
		decode: func(s string, d *DecodedRow) { d.DeletedAt = parseTimestampCell(s) },
	},
	{
		// The marker is decided per run, not stored; Encode fills it in.
		name: "conflict", col: colConflict,
		encode: func(_ *Codec, _ *store.Letter) string { return "" },
		decode: func(s string, d *DecodedRow) { d.Conflict = strings.EqualFold(s, conflictMarker) },
	},
}

// DateCell is a decoded calendar-date cell. Raw is kept so an unparseable
// value can be told apart from an empty one.
type DateCell struct {
	Raw string
	T   time.Time
	OK  bool
}

// Invalid reports a non-empty cell that did not parse.
func (d DateCell) Invalid() bool {
	return d.Raw != "" && !d.OK
}

// Ptr returns the parsed date or nil.
func (d DateCell) Ptr() *time.Time {
	if !d.OK {
		return nil
	}

	t := d.T

	return &t
}

func parseDateCell(s string) DateCell {
	t, ok := ParseSheetDate(s)

	return DateCell{Raw: s, T: t, OK: ok}
}

func parseTimestampCell(s string) *time.Time {
	t, ok := ParseTimestamp(s)
	if !ok {
		return nil
	}

	return &t
}
