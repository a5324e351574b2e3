package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/tonimelisma/sheetsync/internal/sheets"
	"github.com/tonimelisma/sheetsync/internal/store"
)

// sheetIndex locates rows of the existing data range (row 2 onward).
type sheetIndex struct {
	lastUsed int            // last occupied one-based row; 1 when only the header exists
	byID     map[string]int // bookkeeping id → first row carrying it
	byNumber map[string]int // number → first row without an id (legacy rows)
	rows     []Row          // normalized cells, rows[0] is sheet row 2
}

func newSheetIndex(values [][]string) *sheetIndex {
	ix := &sheetIndex{
		lastUsed: 1 + len(values),
		byID:     make(map[string]int),
		byNumber: make(map[string]int),
		rows:     make([]Row, len(values)),
	}

	for i, cells := range values {
		row := normalizeRow(cells)
		ix.rows[i] = row
		rowNum := i + 2

		id := row[colID]
		if id != "" {
			if _, dup := ix.byID[id]; !dup {
				ix.byID[id] = rowNum
			}

			continue
		}

		if n := row[colNumber]; n != "" {
			if _, dup := ix.byNumber[n]; !dup {
				ix.byNumber[n] = rowNum
			}
		}
	}

	return ix
}

// at returns the normalized cells of a one-based row inside the range.
func (ix *sheetIndex) at(rowNum int) Row {
	return ix.rows[rowNum-2]
}

func (ix *sheetIndex) inRange(rowNum int) bool {
	return rowNum >= 2 && rowNum <= ix.lastUsed
}

// resolveRow finds the row a live letter occupies: by id, then by its stored
// row number when that row is in range and not owned by another record, then
// by number among legacy rows. Zero means the letter needs a new row.
func (ix *sheetIndex) resolveRow(l *store.Letter, claimed map[int]bool) int {
	if r, ok := ix.byID[l.ID]; ok && !claimed[r] {
		return r
	}

	if r := l.SheetRowNum; ix.inRange(r) && !claimed[r] {
		row := ix.at(r)
		if row[colID] == "" && (row[colNumber] == "" || row[colNumber] == l.Number) {
			return r
		}
	}

	if r, ok := ix.byNumber[l.Number]; ok && !claimed[r] {
		return r
	}

	return 0
}

// export implements one export pass. Writes are ordered: in-place updates,
// then the append block, then template formatting, then the owner list.
func (e *Engine) export(ctx context.Context) (*ExportReport, error) {
	if err := e.ensureHeader(ctx); err != nil {
		return nil, err
	}

	values, err := e.sheet.ReadRange(ctx, e.rng("A2", "U"))
	if err != nil {
		return nil, fmt.Errorf("sync: reading sheet: %w", err)
	}

	ix := newSheetIndex(values)

	live, err := e.letters.ListLive(ctx)
	if err != nil {
		return nil, fmt.Errorf("sync: listing live letters: %w", err)
	}

	deleted, err := e.letters.ListDeletedUnsynced(ctx)
	if err != nil {
		return nil, fmt.Errorf("sync: listing deleted letters: %w", err)
	}

	report := &ExportReport{}

	var (
		updates    []sheets.ValueRange
		appendRows []Row
		synced     []string
	)

	rowFixes := make(map[string]int)
	claimed := make(map[int]bool)

	var pending []*store.Letter

	for _, l := range live {
		row := ix.resolveRow(l, claimed)
		if row == 0 {
			pending = append(pending, l)
			continue
		}

		claimed[row] = true

		if l.SheetRowNum != row {
			rowFixes[l.ID] = row
		}

		if !l.ChangedSinceSync() {
			continue
		}

		updates = append(updates, e.rowWrites(row, e.codec.Encode(l, false))...)
		synced = append(synced, l.ID)
		report.Updated++
	}

	for _, l := range deleted {
		row, ok := ix.byID[l.ID]
		if !ok || claimed[row] {
			// The row is gone; forget the stale position.
			rowFixes[l.ID] = 0
			continue
		}

		claimed[row] = true
		updates = append(updates, e.rowWrites(row, e.codec.Encode(l, false))...)
		synced = append(synced, l.ID)
		report.Deleted++

		if l.SheetRowNum != row {
			rowFixes[l.ID] = row
		}
	}

	firstNew := ix.lastUsed + 1

	for i, l := range pending {
		appendRows = append(appendRows, e.codec.Encode(l, false))
		rowFixes[l.ID] = firstNew + i
		synced = append(synced, l.ID)
	}

	report.Appended = len(appendRows)
	lastRow := ix.lastUsed + len(appendRows)

	// Updates first: the append block lands after the pre-run last row and
	// must not shift the rows the updates address.
	if err := e.sheet.BatchWrite(ctx, updates); err != nil {
		return nil, fmt.Errorf("sync: writing %d row updates: %w", len(updates), err)
	}

	if len(appendRows) > 0 {
		if err := e.sheet.BatchWrite(ctx, e.blockWrites(firstNew, appendRows)); err != nil {
			return nil, fmt.Errorf("sync: appending %d rows: %w", len(appendRows), err)
		}

		if err := e.copyTemplate(ctx, firstNew, lastRow); err != nil {
			return nil, err
		}
	}

	// Recomputed every run: a directory change (say a new email) alters
	// the labels even when no letter changed.
	n, err := e.pushOwnerValidation(ctx, live, lastRow)
	if err != nil {
		return nil, err
	}

	report.OwnerValues = n

	if err := e.letters.MarkSynced(ctx, synced, e.now()); err != nil {
		return nil, fmt.Errorf("sync: stamping exported letters: %w", err)
	}

	if err := e.letters.SetSheetRows(ctx, rowFixes); err != nil {
		return nil, fmt.Errorf("sync: recording sheet rows: %w", err)
	}

	return report, nil
}

// ensureHeader (re)writes R1:U1 unless all four cells are already right.
func (e *Engine) ensureHeader(ctx context.Context) error {
	values, err := e.sheet.ReadRange(ctx, e.rng("R1", "U1"))
	if err != nil {
		return fmt.Errorf("sync: reading bookkeeping header: %w", err)
	}

	if len(values) == 1 && len(values[0]) >= len(BookkeepingHeader) {
		ok := true

		for i, want := range BookkeepingHeader {
			if values[0][i] != want {
				ok = false
				break
			}
		}

		if ok {
			return nil
		}
	}

	e.logger.Info("writing bookkeeping header")

	err = e.sheet.WriteRange(ctx, sheets.ValueRange{
		Range:  e.rng("R1", "U1"),
		Values: [][]string{BookkeepingHeader},
	})
	if err != nil {
		return fmt.Errorf("sync: writing bookkeeping header: %w", err)
	}

	return nil
}

// columnSpans are the column runs written for a row. D is a sheet formula
// and is skipped. Only Q, which carries HYPERLINK formulas, is sent as
// user-entered input; everything else goes RAW so the API cannot turn
// "007" into 7 or a DD.MM.YYYY string into a native date.
var columnSpans = []struct {
	from, to int
	input    sheets.InputOption
}{
	{colNumber, colDate, sheets.InputRaw},
	{colDeadline, colComment, sheets.InputRaw},
	{colFiles, colFiles, sheets.InputUserEntered},
	{colID, colConflict, sheets.InputRaw},
}

// blockWrites splits consecutive full rows starting at first into one
// range per column span.
func (e *Engine) blockWrites(first int, rows []Row) []sheets.ValueRange {
	last := first + len(rows) - 1
	out := make([]sheets.ValueRange, 0, len(columnSpans))

	for _, span := range columnSpans {
		values := make([][]string, len(rows))
		for i, row := range rows {
			values[i] = row[span.from : span.to+1]
		}

		to := ""
		if span.from != span.to || first != last {
			to = sheets.Cell(span.to, last)
		}

		out = append(out, sheets.ValueRange{
			Range:  e.rng(sheets.Cell(span.from, first), to),
			Values: values,
			Input:  span.input,
		})
	}

	return out
}

func (e *Engine) rowWrites(rowNum int, row Row) []sheets.ValueRange {
	return e.blockWrites(rowNum, []Row{row})
}

// copyTemplate gives appended rows the template row's formatting and
// validation. The template row itself is never a target.
func (e *Engine) copyTemplate(ctx context.Context, first, last int) error {
	first = max(first, templateRow+1)
	if last < first {
		return nil
	}

	if err := e.sheet.CopyFormat(ctx, e.sheetName, templateRow, first, last, rowWidth); err != nil {
		return fmt.Errorf("sync: copying template formatting: %w", err)
	}

	return nil
}

// pushOwnerValidation installs the distinct owner labels of all live letters
// as the owner column's dropdown. Rejections caused by typed columns are
// logged and ignored.
func (e *Engine) pushOwnerValidation(ctx context.Context, live []*store.Letter, lastRow int) (int, error) {
	seen := make(map[string]bool)

	var values []string

	for _, l := range live {
		if label := l.Owner.Display(); label != "" && !seen[label] {
			seen[label] = true
			values = append(values, label)
		}
	}

	if len(values) == 0 || lastRow < templateRow {
		return 0, nil
	}

	sort.Strings(values)

	err := e.sheet.SetListValidation(ctx, e.sheetName, colOwner, templateRow, lastRow, values)
	if sheets.IsTypedColumnError(err) {
		e.logger.Warn("owner column has typed validation, skipping owner list",
			slog.String("error", err.Error()),
		)

		return 0, nil
	}

	if err != nil {
		return 0, fmt.Errorf("sync: setting owner validation: %w", err)
	}

	return len(values), nil
}
