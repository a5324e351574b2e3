package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPrintTable_AlignsRunes(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	printTable(&buf, []string{"ROW", "STATUS", "ORG"}, [][]string{
		{"2", "В работе", "Ministry"},
		{"10", "DONE", "X"},
	})

	want := "" +
		"ROW  STATUS    ORG\n" +
		"2    В работе  Ministry\n" +
		"10   DONE      X\n"
	assert.Equal(t, want, buf.String())
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC)
	end := start.Add(1500 * time.Millisecond)

	assert.Equal(t, "1.5s", formatDuration(start, &end))
	assert.Equal(t, "-", formatDuration(start, nil))
}

func TestFormatTime(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "-", formatTime(time.Time{}))

	old := time.Date(2001, 2, 3, 4, 5, 6, 0, time.Local)
	assert.Equal(t, "Feb  3  2001", formatTime(old))
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "конфл…", truncate("конфликт", 6))
}
