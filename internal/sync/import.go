package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tonimelisma/sheetsync/internal/sheets"
	"github.com/tonimelisma/sheetsync/internal/store"
)

// match is the result of looking a sheet row up in the store: noMatch or
// found. Consumers switch on the concrete type.
type match interface {
	isMatch()
}

type noMatch struct{}

type found struct {
	letter *store.Letter
}

func (noMatch) isMatch() {}
func (found) isMatch()   {}

// importState accumulates one run's deferred work. Database mutations are
// applied as rows are processed; sheet writes wait for the final batch.
type importState struct {
	report   *ImportReport
	owners   *ownerIndex
	writes   []sheets.ValueRange
	stamp    []string       // letters whose full row is rewritten
	rowFixes map[string]int // letter id → actual row
	claimed  map[string]int // letter id → first row that matched it
}

// importSheet implements one import pass.
func (e *Engine) importSheet(ctx context.Context) (*ImportReport, error) {
	values, err := e.sheet.ReadRange(ctx, e.rng("A2", "U"))
	if err != nil {
		return nil, fmt.Errorf("sync: reading sheet: %w", err)
	}

	current := make([]Row, len(values))
	decoded := make([]DecodedRow, len(values))

	for i, cells := range values {
		current[i] = normalizeRow(cells)
		decoded[i] = e.codec.Decode(cells)
	}

	// Every owner is resolved before any letter is touched.
	owners, err := e.resolveOwners(ctx, decoded)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("owners resolved",
		slog.Int("distinct", owners.distinct),
		slog.Int("created", owners.created),
		slog.Int("enabled", owners.enabled),
		slog.Int("disabled", owners.disabled),
	)

	st := &importState{
		report:   &ImportReport{Outcomes: make(map[RowOutcome]int)},
		owners:   owners.index,
		rowFixes: make(map[string]int),
		claimed:  make(map[string]int),
	}

	for i := range decoded {
		rowNum := i + 2

		outcome, err := e.importRow(ctx, st, rowNum, &decoded[i], current[i])
		if err != nil {
			return nil, fmt.Errorf("sync: importing row %d: %w", rowNum, err)
		}

		st.report.Outcomes[outcome]++

		switch outcome {
		case OutcomeCreated:
			st.report.Created++
		case OutcomeUpdated:
			st.report.Updated++
		case OutcomeDeleted:
			st.report.Deleted++
		case OutcomeHealed:
			st.report.Healed++
		case OutcomeConflict:
			st.report.Conflicts = append(st.report.Conflicts, rowNum)
		case OutcomeNoop:
		}
	}

	st.report.Imported = st.report.Created + st.report.Updated + st.report.Deleted

	if err := e.letters.SetSheetRows(ctx, st.rowFixes); err != nil {
		return nil, fmt.Errorf("sync: recording sheet rows: %w", err)
	}

	if err := e.sheet.BatchWrite(ctx, st.writes); err != nil {
		return nil, fmt.Errorf("sync: writing %d row updates: %w", len(st.writes), err)
	}

	if err := e.letters.MarkSynced(ctx, st.stamp, e.now()); err != nil {
		return nil, fmt.Errorf("sync: stamping imported letters: %w", err)
	}

	return st.report, nil
}

// importRow resolves one row to exactly one outcome.
func (e *Engine) importRow(ctx context.Context, st *importState, rowNum int, d *DecodedRow, current Row) (RowOutcome, error) {
	if d.Blank() {
		return OutcomeNoop, nil
	}

	if d.Number == "" {
		return e.healPlaceholder(ctx, st, rowNum, d, current)
	}

	m, err := e.findRecord(ctx, d)
	if err != nil {
		return OutcomeNoop, err
	}

	switch m := m.(type) {
	case noMatch:
		return e.createFromRow(ctx, st, rowNum, d)
	case found:
		return e.reconcileRow(ctx, st, rowNum, d, current, m.letter)
	default:
		panic(fmt.Sprintf("sync: unhandled match type %T", m))
	}
}

// findRecord looks a row up by bookkeeping id, then by number among live
// letters.
func (e *Engine) findRecord(ctx context.Context, d *DecodedRow) (match, error) {
	if d.ID != "" {
		l, err := e.letters.FindByID(ctx, d.ID)
		if err == nil {
			return found{letter: l}, nil
		}

		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("finding letter %s: %w", d.ID, err)
		}
	}

	l, err := e.letters.FindLiveByNumber(ctx, d.Number)
	if errors.Is(err, store.ErrNotFound) {
		return noMatch{}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("finding letter number %q: %w", d.Number, err)
	}

	return found{letter: l}, nil
}

// healPlaceholder handles a row that kept its id but lost its business
// cells: the row is rewritten from the database, nothing is imported.
func (e *Engine) healPlaceholder(ctx context.Context, st *importState, rowNum int, d *DecodedRow, current Row) (RowOutcome, error) {
	l, err := e.letters.FindByID(ctx, d.ID)
	if errors.Is(err, store.ErrNotFound) {
		e.logger.Warn("row references unknown letter id, skipping",
			slog.Int("row", rowNum),
			slog.String("id", d.ID),
		)

		return OutcomeNoop, nil
	}

	if err != nil {
		return OutcomeNoop, fmt.Errorf("finding letter %s: %w", d.ID, err)
	}

	if !e.claim(st, rowNum, l) {
		return OutcomeNoop, nil
	}

	if e.queueRewrite(st, rowNum, l, false, current) {
		return OutcomeHealed, nil
	}

	return OutcomeNoop, nil
}

// createFromRow imports a row no letter matches.
func (e *Engine) createFromRow(ctx context.Context, st *importState, rowNum int, d *DecodedRow) (RowOutcome, error) {
	if d.DeletedAt != nil {
		e.logger.Warn("row is marked deleted but has no letter, skipping",
			slog.Int("row", rowNum),
			slog.String("number", d.Number),
		)

		return OutcomeNoop, nil
	}

	fields := e.rowFields(rowNum, d, nil, st.owners.lookup(d.Owner))

	l, err := e.letters.Create(ctx, fields)
	if err != nil {
		return OutcomeNoop, err
	}

	st.claimed[l.ID] = rowNum
	st.rowFixes[l.ID] = rowNum
	e.queueFullRewrite(st, rowNum, l, false)

	e.logger.Info("letter created from sheet",
		slog.Int("row", rowNum),
		slog.String("id", l.ID),
		slog.String("number", l.Number),
	)

	return OutcomeCreated, nil
}

// reconcileRow handles a row matched to an existing letter: deletion in
// either direction, sheet edits, and conflicts.
func (e *Engine) reconcileRow(
	ctx context.Context, st *importState, rowNum int, d *DecodedRow, current Row, l *store.Letter,
) (RowOutcome, error) {
	if !e.claim(st, rowNum, l) {
		return OutcomeNoop, nil
	}

	// Deleted in the sheet only: propagate to the database.
	if d.DeletedAt != nil && l.Live() {
		deleted, err := e.letters.SoftDelete(ctx, l.ID, *d.DeletedAt)
		if err != nil {
			return OutcomeNoop, err
		}

		e.queueFullRewrite(st, rowNum, deleted, false)

		e.logger.Info("deletion propagated from sheet",
			slog.Int("row", rowNum),
			slog.String("id", l.ID),
		)

		return OutcomeDeleted, nil
	}

	// Deleted in the database: the sheet never undeletes.
	if !l.Live() {
		if e.queueRewrite(st, rowNum, l, false, current) {
			return OutcomeHealed, nil
		}

		return OutcomeNoop, nil
	}

	fields := e.rowFields(rowNum, d, l, st.owners.lookup(d.Owner))
	candidate := withFields(l, fields, st.owners.lookup(d.Owner))

	diff := e.codec.BusinessDiff(candidate, l)

	filesEdited := filesDiffer(d, l)
	if filesEdited {
		diff = append(diff, "files")
	}

	if len(diff) == 0 {
		if e.queueRewrite(st, rowNum, l, false, current) {
			return OutcomeHealed, nil
		}

		return OutcomeNoop, nil
	}

	sheetNewer := d.UpdatedAt != nil && d.UpdatedAt.After(l.UpdatedAt)

	if l.ChangedSinceSync() && !sheetNewer {
		e.logger.Warn("conflict: letter changed in both places, keeping database version",
			slog.Int("row", rowNum),
			slog.String("id", l.ID),
			slog.Any("fields", diff),
		)

		e.queueRewrite(st, rowNum, l, true, current)

		return OutcomeConflict, nil
	}

	// Attachments are uploaded in the portal and the sheet only carries
	// their names, so an edited list cannot be imported. Restore it.
	if filesEdited && len(diff) == 1 {
		e.logger.Warn("attachment list edited in the sheet, restoring it",
			slog.Int("row", rowNum),
			slog.String("id", l.ID),
		)

		e.queueFullRewrite(st, rowNum, l, false)

		return OutcomeHealed, nil
	}

	updated, err := e.letters.Update(ctx, l.ID, fields)
	if err != nil {
		return OutcomeNoop, err
	}

	e.queueFullRewrite(st, rowNum, updated, false)

	e.logger.Info("letter updated from sheet",
		slog.Int("row", rowNum),
		slog.String("id", l.ID),
		slog.Any("fields", diff),
	)

	return OutcomeUpdated, nil
}

// claim records that rowNum matched l. A second row matching the same
// letter is a duplicate and is left alone.
func (e *Engine) claim(st *importState, rowNum int, l *store.Letter) bool {
	if first, dup := st.claimed[l.ID]; dup {
		st.report.Duplicates++

		e.logger.Warn("duplicate row for letter, skipping",
			slog.Int("row", rowNum),
			slog.Int("first_row", first),
			slog.String("id", l.ID),
		)

		return false
	}

	st.claimed[l.ID] = rowNum

	if l.SheetRowNum != rowNum {
		st.rowFixes[l.ID] = rowNum
	}

	return true
}

// queueRewrite schedules the writes that make the row show l, skipping them
// when it already does. When only the conflict cell is off, only that cell
// is written. Reports whether anything was queued.
func (e *Engine) queueRewrite(st *importState, rowNum int, l *store.Letter, conflict bool, current Row) bool {
	same, onlyConflict := compareRows(current, e.codec.Display(l, conflict))

	switch {
	case same:
		return false
	case onlyConflict:
		marker := ""
		if conflict {
			marker = conflictMarker
		}

		st.writes = append(st.writes, sheets.ValueRange{
			Range:  e.rng(sheets.Cell(colConflict, rowNum), ""),
			Values: [][]string{{marker}},
		})

		return true
	default:
		e.queueFullRewrite(st, rowNum, l, conflict)
		return true
	}
}

func (e *Engine) queueFullRewrite(st *importState, rowNum int, l *store.Letter, conflict bool) {
	st.writes = append(st.writes, e.rowWrites(rowNum, e.codec.Encode(l, conflict))...)
	st.stamp = append(st.stamp, l.ID)
}

// rowFields builds the business fields a row asks for. base is the matched
// letter (nil for new rows) and supplies values for cells that do not parse.
func (e *Engine) rowFields(rowNum int, d *DecodedRow, base *store.Letter, owner *store.User) store.LetterFields {
	f := store.LetterFields{
		Number:     d.Number,
		Org:        d.Org,
		Status:     d.Status,
		Type:       d.Type,
		Content:    d.Content,
		JiraLink:   d.JiraLink,
		Zordoc:     d.Zordoc,
		Answer:     d.Answer,
		SendStatus: d.SendStatus,
		Comment:    d.Comment,
	}

	if owner != nil {
		f.OwnerID = owner.ID
	}

	switch {
	case d.Date.OK:
		f.Date = d.Date.T
	case base != nil:
		f.Date = base.Date
	default:
		f.Date = dateOnly(e.now())
	}

	if d.Date.Invalid() {
		e.logger.Warn("unparseable letter date", slog.Int("row", rowNum), slog.String("value", d.Date.Raw))
	}

	if d.Deadline.OK {
		f.DeadlineDate = d.Deadline.T
	} else {
		f.DeadlineDate = AddWorkingDays(f.Date, e.deadlineDays)
	}

	f.IjroDate = optionalDate(d.IjroDate, base, func(l *store.Letter) *time.Time { return l.IjroDate })
	f.CloseDate = optionalDate(d.CloseDate, base, func(l *store.Letter) *time.Time { return l.CloseDate })

	return f
}

// optionalDate keeps the stored value when the cell holds something that
// does not parse; an empty cell clears it.
func optionalDate(c DateCell, base *store.Letter, stored func(*store.Letter) *time.Time) *time.Time {
	if c.OK {
		return c.Ptr()
	}

	if c.Invalid() && base != nil {
		return stored(base)
	}

	return nil
}

// withFields returns a copy of l carrying f, for comparison only.
func withFields(l *store.Letter, f store.LetterFields, owner *store.User) *store.Letter {
	c := *l
	c.Number = f.Number
	c.Org = f.Org
	c.Date = f.Date
	c.DeadlineDate = f.DeadlineDate
	c.Status = f.Status
	c.Type = f.Type
	c.Content = f.Content
	c.JiraLink = f.JiraLink
	c.Zordoc = f.Zordoc
	c.Answer = f.Answer
	c.SendStatus = f.SendStatus
	c.Comment = f.Comment
	c.IjroDate = f.IjroDate
	c.CloseDate = f.CloseDate
	c.OwnerID = f.OwnerID
	c.Owner = owner

	return &c
}
