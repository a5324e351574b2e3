package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/sheetsync/internal/sheets"
	"github.com/tonimelisma/sheetsync/internal/store"
)

const testSheet = "Letters"

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// testLogWriter adapts testing.T to io.Writer for slog.
type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))

	return len(p), nil
}

// testClock hands out strictly increasing instants one second apart. The
// store and the engine share one so timestamps from both sides order.
type testClock struct {
	mu stdsync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.t = c.t.Add(time.Second)

	return c.t
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ---------------------------------------------------------------------------
// fakeSheet: an in-memory grid behind SheetGateway
// ---------------------------------------------------------------------------

type copyCall struct {
	src, first, last, cols int
}

type validationCall struct {
	col, first, last int
	values           []string
}

type fakeSheet struct {
	mu    stdsync.Mutex
	cells map[int]map[int]string // row (1-based) → col (0-based) → value

	readErr       error
	batchErr      error
	validationErr error

	batchRanges []string                      // every range written via BatchWrite, in order
	writeRanges []string                      // every range written via WriteRange, in order
	inputs      map[string]sheets.InputOption // last input option per written range
	copies      []copyCall
	validations []validationCall
}

func newFakeSheet() *fakeSheet {
	return &fakeSheet{
		cells:  make(map[int]map[int]string),
		inputs: make(map[string]sheets.InputOption),
	}
}

// seed writes rows starting at sheet row 1.
func (f *fakeSheet) seed(rows ...[]string) {
	for i, row := range rows {
		for c, v := range row {
			f.set(i+1, c, v)
		}
	}
}

func (f *fakeSheet) set(row, col int, v string) {
	if f.cells[row] == nil {
		f.cells[row] = make(map[int]string)
	}

	f.cells[row][col] = v
}

// setCell is the test-side edit of a single cell, e.g. setCell(2, colOrg, "x").
func (f *fakeSheet) setCell(row, col int, v string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.set(row, col, v)
}

func (f *fakeSheet) cell(row, col int) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.cells[row][col]
}

func (f *fakeSheet) maxRow() int {
	last := 0

	for r, cols := range f.cells {
		for _, v := range cols {
			if v != "" && r > last {
				last = r
			}
		}
	}

	return last
}

func (f *fakeSheet) resetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.batchRanges = nil
	f.writeRanges = nil
	f.copies = nil
	f.validations = nil
}

// parseA1 parses "'Letters'!A2:U" into zero-based columns and one-based
// rows. An open end row is returned as 0.
func parseA1(rng string) (c1, r1, c2, r2 int, err error) {
	_, ref, ok := strings.Cut(rng, "!")
	if !ok {
		return 0, 0, 0, 0, fmt.Errorf("range %q has no sheet", rng)
	}

	from, to, hasTo := strings.Cut(ref, ":")

	if c1, r1, err = parseCellRef(from); err != nil {
		return 0, 0, 0, 0, err
	}

	if !hasTo {
		return c1, r1, c1, r1, nil
	}

	if c2, r2, err = parseCellRef(to); err != nil {
		return 0, 0, 0, 0, err
	}

	return c1, r1, c2, r2, nil
}

func parseCellRef(ref string) (col, row int, err error) {
	i := 0
	for i < len(ref) && ref[i] >= 'A' && ref[i] <= 'Z' {
		col = col*26 + int(ref[i]-'A') + 1
		i++
	}

	if i < len(ref) {
		if row, err = strconv.Atoi(ref[i:]); err != nil {
			return 0, 0, fmt.Errorf("bad cell ref %q: %w", ref, err)
		}
	}

	return col - 1, row, nil
}

func (f *fakeSheet) ReadRange(_ context.Context, rng string) ([][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.readErr != nil {
		return nil, f.readErr
	}

	c1, r1, c2, r2, err := parseA1(rng)
	if err != nil {
		return nil, err
	}

	if r2 == 0 {
		r2 = f.maxRow()
	}

	var out [][]string

	for r := r1; r <= r2; r++ {
		var row []string

		for c := c1; c <= c2; c++ {
			row = append(row, f.cells[r][c])
		}

		// The API drops trailing empty cells and trailing empty rows.
		for len(row) > 0 && row[len(row)-1] == "" {
			row = row[:len(row)-1]
		}

		out = append(out, row)
	}

	for len(out) > 0 && len(out[len(out)-1]) == 0 {
		out = out[:len(out)-1]
	}

	return out, nil
}

var hyperlinkLabel = regexp.MustCompile(`HYPERLINK\("(?:[^"]|"")*"[;,]"((?:[^"]|"")*)"\)`)

// userEntered mimics what the API stores and shows back for a USER_ENTERED
// cell: HYPERLINK formulas display their labels, digit strings become
// numbers (losing leading zeros).
func userEntered(v string) string {
	if strings.HasPrefix(v, "=") {
		var labels []string
		for _, m := range hyperlinkLabel.FindAllStringSubmatch(v, -1) {
			labels = append(labels, strings.ReplaceAll(m[1], `""`, `"`))
		}

		return strings.Join(labels, "\n")
	}

	if n, err := strconv.Atoi(v); err == nil {
		return strconv.Itoa(n)
	}

	return v
}

func (f *fakeSheet) writeLocked(vr sheets.ValueRange) error {
	c1, r1, _, _, err := parseA1(vr.Range)
	if err != nil {
		return err
	}

	input := vr.Input
	if input == "" {
		input = sheets.InputRaw
	}

	f.inputs[vr.Range] = input

	for i, row := range vr.Values {
		for j, v := range row {
			if input == sheets.InputUserEntered {
				v = userEntered(v)
			}

			f.set(r1+i, c1+j, v)
		}
	}

	return nil
}

func (f *fakeSheet) inputOf(rng string) sheets.InputOption {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.inputs[rng]
}

func (f *fakeSheet) BatchWrite(_ context.Context, ranges []sheets.ValueRange) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.batchErr != nil {
		return f.batchErr
	}

	for _, vr := range ranges {
		f.batchRanges = append(f.batchRanges, vr.Range)

		if err := f.writeLocked(vr); err != nil {
			return err
		}
	}

	return nil
}

func (f *fakeSheet) WriteRange(_ context.Context, vr sheets.ValueRange) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.writeRanges = append(f.writeRanges, vr.Range)

	return f.writeLocked(vr)
}

func (f *fakeSheet) CopyFormat(_ context.Context, _ string, src, first, last, cols int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.copies = append(f.copies, copyCall{src: src, first: first, last: last, cols: cols})

	return nil
}

func (f *fakeSheet) SetListValidation(_ context.Context, _ string, col, first, last int, values []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.validationErr != nil {
		return f.validationErr
	}

	f.validations = append(f.validations, validationCall{col: col, first: first, last: last, values: values})

	return nil
}

// ---------------------------------------------------------------------------
// fakeLocker
// ---------------------------------------------------------------------------

type fakeLocker struct {
	mu       stdsync.Mutex
	held     bool
	acquired int
	released int
	err      error
}

var errLockHeld = errors.New("lock held")

func (l *fakeLocker) Acquire(_ context.Context) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.err != nil {
		return nil, l.err
	}

	if l.held {
		return nil, errLockHeld
	}

	l.held = true
	l.acquired++

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()

		l.held = false
		l.released++

		return nil
	}, nil
}

// ---------------------------------------------------------------------------
// fixture
// ---------------------------------------------------------------------------

type fixture struct {
	store  *store.Store
	sheet  *fakeSheet
	engine *Engine
	clock  *testClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st, err := store.Open(context.Background(), store.Options{
		Driver: store.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "sheetsync.db"),
	}, testLogger(t))
	require.NoError(t, err)

	t.Cleanup(func() { st.Close() })

	clock := &testClock{t: time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC)}
	st.SetNowFunc(clock.now)

	sheet := newFakeSheet()

	eng, err := NewEngine(&EngineConfig{
		Letters:   st,
		Directory: st,
		Ledger:    st,
		Sheet:     sheet,
		SheetName: testSheet,
		Logger:    testLogger(t),
	})
	require.NoError(t, err)

	eng.nowFunc = clock.now

	return &fixture{store: st, sheet: sheet, engine: eng, clock: clock}
}

func (fx *fixture) createUser(t *testing.T, u store.User) *store.User {
	t.Helper()

	created, err := fx.store.CreateUser(context.Background(), u)
	require.NoError(t, err)

	return created
}

func (fx *fixture) createLetter(t *testing.T, number string, mutate ...func(*store.LetterFields)) *store.Letter {
	t.Helper()

	f := store.LetterFields{
		Number:       number,
		Org:          "Ministry of Roads",
		Date:         day(2024, 3, 10),
		DeadlineDate: day(2024, 3, 22),
		Status:       store.StatusInProgress,
		Type:         "request",
		Content:      "Repair the bridge",
	}

	for _, m := range mutate {
		m(&f)
	}

	l, err := fx.store.Create(context.Background(), f)
	require.NoError(t, err)

	return l
}

func (fx *fixture) letter(t *testing.T, id string) *store.Letter {
	t.Helper()

	l, err := fx.store.FindByID(context.Background(), id)
	require.NoError(t, err)

	return l
}

func (fx *fixture) letterByNumber(t *testing.T, number string) *store.Letter {
	t.Helper()

	l, err := fx.store.FindLiveByNumber(context.Background(), number)
	require.NoError(t, err)

	return l
}

// fieldsOf copies a stored letter's business fields for Update.
func fieldsOf(l *store.Letter) store.LetterFields {
	return store.LetterFields{
		Number:       l.Number,
		Org:          l.Org,
		Date:         l.Date,
		DeadlineDate: l.DeadlineDate,
		Status:       l.Status,
		Type:         l.Type,
		Content:      l.Content,
		JiraLink:     l.JiraLink,
		Zordoc:       l.Zordoc,
		Answer:       l.Answer,
		SendStatus:   l.SendStatus,
		Comment:      l.Comment,
		IjroDate:     l.IjroDate,
		CloseDate:    l.CloseDate,
		OwnerID:      l.OwnerID,
	}
}

// sheetRow builds a full A–U row from column → value pairs.
func sheetRow(cells map[int]string) []string {
	row := make([]string, rowWidth)
	for c, v := range cells {
		row[c] = v
	}

	return row
}

func headerRow() []string {
	row := make([]string, rowWidth)
	row[colNumber] = "Number"
	row[colOrg] = "Organization"
	copy(row[colID:], BookkeepingHeader)

	return row
}
