package sync

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the locale format of calendar-date cells.
const DateLayout = "02.01.2006"

// TimestampLayout is the format of the UPDATED_AT and DELETED_AT cells.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Explicit date layouts, tried before the generic fallback. Single-digit
// layout elements accept one or two digits; time.Parse rejects dates that do
// not exist on the calendar (31.02.2024).
var explicitDateLayouts = []string{
	"2.1.2006",
	"2/1/2006",
	"2006-1-2",
}

// fallbackLayouts are accepted for cells a human typed or a locale reformatted.
var fallbackLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2.1.2006 15:04:05",
	"2.1.2006 15:04",
	"2006/1/2",
}

// Spreadsheet serial dates count days from this epoch.
var serialEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// maxSerialDay is 9999-12-31.
const maxSerialDay = 2958465

// ParseSheetDate parses a calendar-date cell and returns it as UTC midnight.
// ok is false for empty or unparseable input.
func ParseSheetDate(cell string) (t time.Time, ok bool) {
	s := strings.TrimSpace(cell)
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range explicitDateLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			return dateOnly(parsed), true
		}
	}

	return parseGenericDate(s)
}

func parseGenericDate(s string) (time.Time, bool) {
	for _, layout := range fallbackLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			return dateOnly(parsed), true
		}
	}

	if serial, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64); err == nil {
		if serial >= 1 && serial <= maxSerialDay {
			return serialEpoch.AddDate(0, 0, int(math.Floor(serial))), true
		}
	}

	return time.Time{}, false
}

// ParseTimestamp parses a bookkeeping datetime cell. Values without a zone
// are taken as UTC; the result is UTC with millisecond precision.
func ParseTimestamp(cell string) (t time.Time, ok bool) {
	s := strings.TrimSpace(cell)
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			return parsed.UTC().Truncate(time.Millisecond), true
		}
	}

	return ParseSheetDate(s)
}

// FormatDate renders a calendar date; the zero time renders empty.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	return t.UTC().Format(DateLayout)
}

func formatDatePtr(t *time.Time) string {
	if t == nil {
		return ""
	}

	return FormatDate(*t)
}

// FormatTimestamp renders a bookkeeping datetime; nil renders empty.
func FormatTimestamp(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}

	return t.UTC().Format(TimestampLayout)
}

// AddWorkingDays returns the date n working days after start, skipping
// Saturdays and Sundays.
func AddWorkingDays(start time.Time, n int) time.Time {
	d := dateOnly(start)

	for added := 0; added < n; {
		d = d.AddDate(0, 0, 1)

		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			added++
		}
	}

	return d
}

// dateOnly keeps the calendar date of t (in t's own zone) at UTC midnight.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()

	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
