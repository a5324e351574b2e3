package sheets

import (
	"fmt"
	"strings"
)

// ColumnLetter converts a zero-based column index to its A1 letters
// (0 → "A", 25 → "Z", 26 → "AA").
func ColumnLetter(index int) string {
	if index < 0 {
		return ""
	}

	var b []byte

	for n := index + 1; n > 0; n = (n - 1) / 26 {
		b = append(b, byte('A'+(n-1)%26))
	}

	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}

	return string(b)
}

// QuoteSheet wraps a sheet title in single quotes for use in an A1 range,
// doubling any embedded quotes.
func QuoteSheet(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}

// A1 builds a range such as 'Letters'!A2:U. Either bound may be empty.
func A1(sheet, from, to string) string {
	rng := QuoteSheet(sheet)

	switch {
	case from == "":
		return rng
	case to == "":
		return rng + "!" + from
	default:
		return rng + "!" + from + ":" + to
	}
}

// Cell returns the A1 reference for a zero-based column and one-based row.
func Cell(col, row int) string {
	return fmt.Sprintf("%s%d", ColumnLetter(col), row)
}
