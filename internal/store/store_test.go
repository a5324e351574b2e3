package store

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

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

// testClock hands out strictly increasing instants one second apart.
type testClock struct {
	t time.Time
}

func (c *testClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestStore(t *testing.T) (*Store, *testClock) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "sheetsync.db")

	s, err := Open(context.Background(), Options{Driver: DriverSQLite, DSN: dbPath}, testLogger(t))
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })

	clock := &testClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	s.SetNowFunc(clock.now)

	return s, clock
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sampleFields(number string) LetterFields {
	return LetterFields{
		Number:       number,
		Org:          "Ministry of Roads",
		Date:         day(2024, 3, 10),
		DeadlineDate: day(2024, 3, 22),
		Status:       StatusInProgress,
		Type:         "request",
		Content:      "Repair the bridge",
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Options{Driver: "oracle", DSN: "x"}, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported driver")
}

func TestOpen_ReopenKeepsData(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()

	s, err := Open(ctx, Options{DSN: dbPath}, testLogger(t))
	require.NoError(t, err)

	created, err := s.Create(ctx, sampleFields("A-1"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := Open(ctx, Options{DSN: dbPath}, testLogger(t))
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "A-1", got.Number)
}

func TestCreateAndFind(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()

	ijro := day(2024, 3, 12)
	f := sampleFields("12/34")
	f.IjroDate = &ijro

	created, err := s.Create(ctx, f)
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "12/34", created.Number)
	assert.Equal(t, day(2024, 3, 10), created.Date)
	assert.Equal(t, StatusInProgress, created.Status)
	require.NotNil(t, created.IjroDate)
	assert.Equal(t, ijro, *created.IjroDate)
	assert.Nil(t, created.CloseDate)
	assert.Nil(t, created.LastSyncedAt)
	assert.Nil(t, created.DeletedAt)
	assert.Zero(t, created.SheetRowNum)
	assert.Equal(t, created.CreatedAt, created.UpdatedAt)

	byNumber, err := s.FindLiveByNumber(ctx, "12/34")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byNumber.ID)

	_, err = s.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.FindLiveByNumber(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreate_DefaultsStatus(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)

	f := sampleFields("N-1")
	f.Status = ""

	created, err := s.Create(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, StatusNotReviewed, created.Status)
}

func TestUpdate_BumpsUpdatedAt(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, sampleFields("U-1"))
	require.NoError(t, err)

	f := sampleFields("U-1")
	f.Answer = "done"
	f.Status = StatusDone

	updated, err := s.Update(ctx, created.ID, f)
	require.NoError(t, err)

	assert.Equal(t, "done", updated.Answer)
	assert.Equal(t, StatusDone, updated.Status)
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt))
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)

	_, err = s.Update(ctx, "missing", f)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkSyncedAndSheetRows_DoNotBumpUpdatedAt(t *testing.T) {
	t.Parallel()

	s, clock := newTestStore(t)
	ctx := context.Background()

	a, err := s.Create(ctx, sampleFields("S-1"))
	require.NoError(t, err)
	b, err := s.Create(ctx, sampleFields("S-2"))
	require.NoError(t, err)

	syncedAt := clock.now()
	require.NoError(t, s.MarkSynced(ctx, []string{a.ID, b.ID}, syncedAt))
	require.NoError(t, s.SetSheetRows(ctx, map[string]int{a.ID: 2, b.ID: 3}))

	gotA, err := s.FindByID(ctx, a.ID)
	require.NoError(t, err)

	assert.Equal(t, a.UpdatedAt, gotA.UpdatedAt)
	require.NotNil(t, gotA.LastSyncedAt)
	assert.Equal(t, syncedAt.Truncate(time.Millisecond), *gotA.LastSyncedAt)
	assert.False(t, gotA.ChangedSinceSync())
	assert.Equal(t, 2, gotA.SheetRowNum)

	gotB, err := s.FindByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, gotB.SheetRowNum)
}

func TestSoftDelete(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()

	a, err := s.Create(ctx, sampleFields("D-1"))
	require.NoError(t, err)
	_, err = s.Create(ctx, sampleFields("D-2"))
	require.NoError(t, err)

	require.NoError(t, s.SetSheetRows(ctx, map[string]int{a.ID: 2}))
	require.NoError(t, s.MarkSynced(ctx, []string{a.ID}, a.UpdatedAt))

	at := time.Date(2024, 3, 15, 10, 30, 0, 123_000_000, time.UTC)

	deleted, err := s.SoftDelete(ctx, a.ID, at)
	require.NoError(t, err)
	require.NotNil(t, deleted.DeletedAt)
	assert.Equal(t, at, *deleted.DeletedAt)
	assert.False(t, deleted.Live())

	live, err := s.ListLive(ctx)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "D-2", live[0].Number)

	_, err = s.FindLiveByNumber(ctx, "D-1")
	assert.ErrorIs(t, err, ErrNotFound)

	pending, err := s.ListDeletedUnsynced(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, a.ID, pending[0].ID)

	require.NoError(t, s.MarkSynced(ctx, []string{a.ID}, deleted.UpdatedAt))

	pending, err = s.ListDeletedUnsynced(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestOwnerAndFiles(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()

	owner, err := s.CreateUser(ctx, User{Email: "Ivan@Example.com", Name: "Ivan", CanLogin: true})
	require.NoError(t, err)
	assert.Equal(t, "ivan@example.com", owner.Email)
	assert.Equal(t, RoleEmployee, owner.Role)

	f := sampleFields("F-1")
	f.OwnerID = owner.ID

	l, err := s.Create(ctx, f)
	require.NoError(t, err)

	require.NoError(t, s.AddFile(ctx, l.ID, Attachment{Name: "scan.pdf", URL: "https://files/1"}))
	require.NoError(t, s.AddFile(ctx, l.ID, Attachment{Name: "reply.docx", URL: "https://files/2"}))

	got, err := s.FindByID(ctx, l.ID)
	require.NoError(t, err)

	require.NotNil(t, got.Owner)
	assert.Equal(t, "ivan@example.com", got.Owner.Display())
	assert.Equal(t, []Attachment{
		{Name: "scan.pdf", URL: "https://files/1"},
		{Name: "reply.docx", URL: "https://files/2"},
	}, got.Files)

	live, err := s.ListLive(ctx)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Len(t, live[0].Files, 2)
	assert.Equal(t, owner.ID, live[0].OwnerID)
}

func TestDirectory_LoginToggling(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()

	kept, err := s.CreateUser(ctx, User{Name: "Kept", CanLogin: true})
	require.NoError(t, err)
	dropped, err := s.CreateUser(ctx, User{Email: "gone@example.com", CanLogin: true})
	require.NoError(t, err)
	admin, err := s.CreateUser(ctx, User{Email: "boss@example.com", Role: RoleAdmin, CanLogin: true})
	require.NoError(t, err)

	n, err := s.DisableLoginExcept(ctx, []string{kept.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetUser(ctx, dropped.ID)
	require.NoError(t, err)
	assert.False(t, got.CanLogin)

	got, err = s.GetUser(ctx, admin.ID)
	require.NoError(t, err)
	assert.True(t, got.CanLogin, "elevated roles are never toggled")

	require.NoError(t, s.SetCanLogin(ctx, dropped.ID, true))

	got, err = s.GetUser(ctx, dropped.ID)
	require.NoError(t, err)
	assert.True(t, got.CanLogin)

	assert.ErrorIs(t, s.SetCanLogin(ctx, "missing", true), ErrNotFound)

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 3)
}

func TestCreateUser_RequiresLabel(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)

	_, err := s.CreateUser(context.Background(), User{Name: "  "})
	require.Error(t, err)
}

func TestRuns_Lifecycle(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := context.Background()

	exp, err := s.StartRun(ctx, DirectionExport)
	require.NoError(t, err)
	assert.Equal(t, RunInProgress, exp.Status)

	imp, err := s.StartRun(ctx, DirectionImport)
	require.NoError(t, err)

	require.NoError(t, s.FinishRun(ctx, exp.ID, RunResult{Status: RunCompleted, RowsAffected: 7}))
	require.NoError(t, s.FinishRun(ctx, imp.ID, RunResult{
		Status:       RunCompleted,
		RowsAffected: 3,
		Error:        "conflicts in rows: 5, 9",
		ConflictRows: []int{5, 9},
	}))

	// Terminal runs cannot be finished twice.
	require.Error(t, s.FinishRun(ctx, exp.ID, RunResult{Status: RunFailed, Error: "late"}))
	require.Error(t, s.FinishRun(ctx, imp.ID, RunResult{Status: RunInProgress}))

	last, err := s.LastRun(ctx, DirectionImport)
	require.NoError(t, err)
	assert.Equal(t, imp.ID, last.ID)
	assert.Equal(t, []int{5, 9}, last.ConflictRows)
	assert.Equal(t, 3, last.RowsAffected)
	require.NotNil(t, last.FinishedAt)

	all, err := s.ListRuns(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, imp.ID, all[0].ID, "newest first")

	exports, err := s.ListRuns(ctx, DirectionExport, 10)
	require.NoError(t, err)
	require.Len(t, exports, 1)
	assert.Equal(t, 7, exports[0].RowsAffected)
}

func TestLastRun_Empty(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)

	_, err := s.LastRun(context.Background(), DirectionExport)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRebindDollar(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"SELECT 1", "SELECT 1"},
		{"WHERE a = ? AND b = ?", "WHERE a = $1 AND b = $2"},
		{"WHERE a = '?' AND b = ?", "WHERE a = '?' AND b = $1"},
		{"IN (?, ?, ?)", "IN ($1, $2, $3)"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, rebindDollar(tt.in), tt.in)
	}
}

func TestPlaceholders(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", placeholders(0))
	assert.Equal(t, "?", placeholders(1))
	assert.Equal(t, "?, ?, ?", placeholders(3))
}

// TestPostgres_Smoke runs the basic lifecycle against a real PostgreSQL
// database when SHEETSYNC_TEST_POSTGRES_DSN is set.
func TestPostgres_Smoke(t *testing.T) {
	dsn := os.Getenv("SHEETSYNC_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SHEETSYNC_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()

	s, err := Open(ctx, Options{Driver: DriverPostgres, DSN: dsn}, testLogger(t))
	require.NoError(t, err)
	defer s.Close()

	created, err := s.Create(ctx, sampleFields("PG-"+time.Now().Format("150405.000")))
	require.NoError(t, err)

	require.NoError(t, s.MarkSynced(ctx, []string{created.ID}, time.Now()))
	require.NoError(t, s.SetSheetRows(ctx, map[string]int{created.ID: 42}))

	got, err := s.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 42, got.SheetRowNum)

	run, err := s.StartRun(ctx, DirectionExport)
	require.NoError(t, err)
	require.NoError(t, s.FinishRun(ctx, run.ID, RunResult{Status: RunCompleted, RowsAffected: 1}))
}
