package sync

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/tonimelisma/sheetsync/internal/store"
)

// Formula argument separators. Locales with a decimal comma expect ";".
const (
	SeparatorSemicolon = ";"
	SeparatorComma     = ","
)

// Row is one spreadsheet row, always rowWidth cells wide.
type Row []string

// statusLabels is the fixed status → label table.
var statusLabels = map[store.LetterStatus]string{
	store.StatusNotReviewed:   "Не рассмотрено",
	store.StatusInProgress:    "В работе",
	store.StatusClarification: "На уточнении",
	store.StatusFrozen:        "Заморожено",
	store.StatusRejected:      "Отклонено",
	store.StatusDone:          "Выполнено",
}

// StatusLabel renders a status; unknown statuses render as not reviewed.
func StatusLabel(s store.LetterStatus) string {
	if label, ok := statusLabels[s]; ok {
		return label
	}

	return statusLabels[store.StatusNotReviewed]
}

// ParseStatus maps a label (case-insensitive, trimmed) back to its status.
// The enum name itself is accepted too. Anything else is not reviewed.
func ParseStatus(label string) store.LetterStatus {
	s := strings.TrimSpace(label)

	for status, l := range statusLabels {
		if strings.EqualFold(s, l) || strings.EqualFold(s, string(status)) {
			return status
		}
	}

	return store.StatusNotReviewed
}

// DecodedRow is a tolerant parse of one spreadsheet row. Nothing in it is
// validated beyond cell-level parsing; the import reconciler decides what to
// do with missing or unparseable values.
type DecodedRow struct {
	Number     string
	Org        string
	Date       DateCell
	Deadline   DateCell
	Status     store.LetterStatus
	Type       string
	Content    string
	Owner      string // raw owner cell
	JiraLink   string
	Zordoc     string
	Answer     string
	SendStatus string
	IjroDate   DateCell
	CloseDate  DateCell
	Comment    string
	Files      []string // attachment names, one per line of the Q cell

	ID        string
	UpdatedAt *time.Time
	DeletedAt *time.Time
	Conflict  bool
}

// Blank reports a row with neither a bookkeeping id nor a business number.
func (d *DecodedRow) Blank() bool {
	return d.ID == "" && d.Number == ""
}

// Codec converts between letters and spreadsheet rows.
type Codec struct {
	sep string
}

// NewCodec returns a codec using the given formula argument separator.
// An empty separator defaults to ";".
func NewCodec(separator string) (*Codec, error) {
	switch separator {
	case "":
		separator = SeparatorSemicolon
	case SeparatorSemicolon, SeparatorComma:
	default:
		return nil, fmt.Errorf("sync: formula separator must be %q or %q, got %q",
			SeparatorSemicolon, SeparatorComma, separator)
	}

	return &Codec{sep: separator}, nil
}

// Encode renders the full row as written to the sheet. Column D is left
// empty; callers never send it on updates.
func (c *Codec) Encode(l *store.Letter, conflict bool) Row {
	row := make(Row, rowWidth)

	for i := range fieldTable {
		f := &fieldTable[i]
		row[f.col] = f.encode(c, l)
	}

	if conflict {
		row[colConflict] = conflictMarker
	}

	return row
}

// Display renders the row as the sheet shows it after Encode was written
// (formulas replaced by their formatted result).
func (c *Codec) Display(l *store.Letter, conflict bool) Row {
	row := make(Row, rowWidth)

	for i := range fieldTable {
		f := &fieldTable[i]
		row[f.col] = f.displayed(c, l)
	}

	if conflict {
		row[colConflict] = conflictMarker
	}

	return row
}

// Decode parses a raw row. Short rows are padded and cells trimmed.
func (c *Codec) Decode(cells []string) DecodedRow {
	row := normalizeRow(cells)

	var d DecodedRow

	for i := range fieldTable {
		f := &fieldTable[i]
		if f.decode != nil {
			f.decode(row[f.col], &d)
		}
	}

	return d
}

// BusinessDiff returns the names of business fields whose encoded cells
// differ between a and b.
func (c *Codec) BusinessDiff(a, b *store.Letter) []string {
	var diff []string

	for i := range fieldTable {
		f := &fieldTable[i]
		if f.business && f.encode(c, a) != f.encode(c, b) {
			diff = append(diff, f.name)
		}
	}

	return diff
}

// normalizeRow pads to rowWidth and trims every cell. Line endings inside
// cells are normalized to "\n".
func normalizeRow(cells []string) Row {
	row := make(Row, rowWidth)

	for i := 0; i < rowWidth && i < len(cells); i++ {
		row[i] = strings.TrimSpace(strings.ReplaceAll(cells[i], "\r\n", "\n"))
	}

	return row
}

// compareRows reports whether current already shows expected in every
// engine-written column, and whether the conflict cell is the only
// difference.
func compareRows(current, expected Row) (same, onlyConflict bool) {
	conflictDiffers := false
	otherDiffers := false

	for col := range rowWidth {
		if col == colDeadlineStatus || current[col] == expected[col] {
			continue
		}

		if col == colConflict {
			conflictDiffers = true
		} else {
			otherDiffers = true
		}
	}

	return !conflictDiffers && !otherDiffers, conflictDiffers && !otherDiffers
}

// filesFormula renders attachments as HYPERLINK formulas joined by forced
// line breaks.
func (c *Codec) filesFormula(files []store.Attachment) string {
	if len(files) == 0 {
		return ""
	}

	parts := make([]string, len(files))
	for i, f := range files {
		parts[i] = fmt.Sprintf("HYPERLINK(%s%s%s)", formulaString(f.URL), c.sep, formulaString(attachmentLabel(f)))
	}

	return "=" + strings.Join(parts, "&CHAR(10)&")
}

// attachmentNames is the name list a letter's Q cell displays.
func attachmentNames(l *store.Letter) []string {
	names := make([]string, len(l.Files))
	for i, f := range l.Files {
		names[i] = attachmentLabel(f)
	}

	return names
}

// filesDiffer reports whether the row's attachment names differ from the
// letter's, in order.
func filesDiffer(d *DecodedRow, l *store.Letter) bool {
	return !slices.Equal(d.Files, attachmentNames(l))
}

func attachmentLabel(a store.Attachment) string {
	if a.Name != "" {
		return a.Name
	}

	return a.URL
}

// formulaString quotes s as a formula string literal.
func formulaString(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
