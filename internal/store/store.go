package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	// PostgreSQL driver registered as "pgx".
	_ "github.com/jackc/pgx/v5/stdlib"
	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Postgres pool sizing.
const (
	pgMaxOpenConns    = 10
	pgMaxIdleConns    = 5
	pgConnMaxIdleTime = 5 * time.Minute
	pgConnMaxLifetime = 30 * time.Minute
)

// Options selects the backing database.
type Options struct {
	Driver string // DriverSQLite or DriverPostgres
	DSN    string // SQLite file path, or a postgres:// URL
}

// Store is the database handle shared by the letter, directory and run
// ledger operations.
type Store struct {
	db      *sql.DB
	driver  string
	logger  *slog.Logger
	nowFunc func() time.Time // injectable for deterministic tests
}

// Open connects to the configured database, runs migrations and returns a
// ready Store. SQLite uses WAL with a single writer connection.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		db  *sql.DB
		err error
	)

	switch opts.Driver {
	case DriverSQLite, "":
		db, err = openSQLite(opts.DSN)
	case DriverPostgres:
		db, err = openPostgres(ctx, opts.DSN)
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", opts.Driver)
	}

	if err != nil {
		return nil, err
	}

	driver := opts.Driver
	if driver == "" {
		driver = DriverSQLite
	}

	if err := runMigrations(ctx, db, driver, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("store initialized", slog.String("driver", driver))

	return &Store{
		db:      db,
		driver:  driver,
		logger:  logger,
		nowFunc: defaultNow,
	}, nil
}

func openSQLite(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("store: sqlite database path is empty")
	}

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening database %s: %w", path, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	return db, nil
}

func openPostgres(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("store: opening postgres: %w", err)
	}

	db.SetMaxOpenConns(pgMaxOpenConns)
	db.SetMaxIdleConns(pgMaxIdleConns)
	db.SetConnMaxIdleTime(pgConnMaxIdleTime)
	db.SetConnMaxLifetime(pgConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}

	return db, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for tests and maintenance commands.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Driver returns the active driver name.
func (s *Store) Driver() string {
	return s.driver
}

// SetNowFunc replaces the clock used for created_at/updated_at stamps.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.nowFunc = fn
}

func (s *Store) now() time.Time {
	return s.nowFunc().UTC().Truncate(time.Millisecond)
}

func defaultNow() time.Time {
	return time.Now()
}

// q rebinds a query written with ? placeholders for the active driver.
func (s *Store) q(query string) string {
	if s.driver != DriverPostgres {
		return query
	}

	return rebindDollar(query)
}

// rebindDollar rewrites ? placeholders to $1, $2, ... Question marks inside
// single-quoted literals are left alone.
func rebindDollar(query string) string {
	var (
		b       strings.Builder
		n       int
		inQuote bool
	)

	b.Grow(len(query) + 8)

	for i := 0; i < len(query); i++ {
		c := query[i]

		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}

	return b.String()
}

// placeholders returns "?, ?, ?" with n markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}

	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// ---------------------------------------------------------------------------
// Nullable helpers. Times are stored as Unix milliseconds.
// ---------------------------------------------------------------------------

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}

	t := fromMillis(n.Int64)

	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}

	return sql.NullString{String: s, Valid: true}
}

func nullInt(n int) sql.NullInt64 {
	if n == 0 {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: int64(n), Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}

	return 0
}
