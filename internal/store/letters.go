package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// markSyncedChunk bounds the IN (...) list of a single MarkSynced statement.
const markSyncedChunk = 500

const sqlSelectLetter = `SELECT l.id, l.number, l.org, l.date, l.deadline_date, l.status,
	l.type, l.content, l.jira_link, l.zordoc, l.answer, l.send_status, l.comment,
	l.contacts, l.ijro_date, l.close_date, l.owner_id, l.created_at, l.updated_at,
	l.deleted_at, l.last_synced_at, l.sheet_row_num,
	u.email, u.name, u.role, u.can_login
 FROM letters l LEFT JOIN users u ON u.id = l.owner_id `

const sqlSelectFiles = `SELECT f.letter_id, f.name, f.url
 FROM letter_files f JOIN letters l ON l.id = f.letter_id `

const (
	sqlInsertLetter = `INSERT INTO letters
		(id, number, org, date, deadline_date, status, type, content, jira_link,
		 zordoc, answer, send_status, comment, ijro_date, close_date, owner_id,
		 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlUpdateLetter = `UPDATE letters SET
		number = ?, org = ?, date = ?, deadline_date = ?, status = ?, type = ?,
		content = ?, jira_link = ?, zordoc = ?, answer = ?, send_status = ?,
		comment = ?, ijro_date = ?, close_date = ?, owner_id = ?, updated_at = ?
		WHERE id = ?`

	sqlSoftDeleteLetter = `UPDATE letters SET deleted_at = ?, updated_at = ? WHERE id = ?`

	sqlSetSheetRow = `UPDATE letters SET sheet_row_num = ? WHERE id = ?`

	sqlInsertFile = `INSERT INTO letter_files (id, letter_id, name, url, position)
		VALUES (?, ?, ?, ?, (SELECT COUNT(*) FROM letter_files WHERE letter_id = ?))`

	sqlSetContacts = `UPDATE letters SET contacts = ?, updated_at = ? WHERE id = ?`
)

// ListLive returns every letter that is not soft-deleted, with owner and
// attachments populated, ordered by creation time.
func (s *Store) ListLive(ctx context.Context) ([]*Letter, error) {
	letters, err := s.queryLetters(ctx, "list live",
		`WHERE l.deleted_at IS NULL ORDER BY l.created_at, l.id`)
	if err != nil {
		return nil, err
	}

	if err := s.attachFiles(ctx, letters, `WHERE l.deleted_at IS NULL`); err != nil {
		return nil, err
	}

	return letters, nil
}

// ListDeletedUnsynced returns soft-deleted letters that still occupy a
// spreadsheet row and whose deletion has not been written to it yet.
func (s *Store) ListDeletedUnsynced(ctx context.Context) ([]*Letter, error) {
	const where = `WHERE l.deleted_at IS NOT NULL AND l.sheet_row_num IS NOT NULL
		AND (l.last_synced_at IS NULL OR l.updated_at > l.last_synced_at)`

	letters, err := s.queryLetters(ctx, "list deleted unsynced", where+` ORDER BY l.sheet_row_num`)
	if err != nil {
		return nil, err
	}

	if err := s.attachFiles(ctx, letters, where); err != nil {
		return nil, err
	}

	return letters, nil
}

// FindByID returns the letter with the given id, deleted or not.
// Returns ErrNotFound when no such letter exists.
func (s *Store) FindByID(ctx context.Context, id string) (*Letter, error) {
	return s.findOne(ctx, "find by id", `WHERE l.id = ?`, id)
}

// FindLiveByNumber returns the oldest live letter carrying the given natural
// key. Returns ErrNotFound when none matches.
func (s *Store) FindLiveByNumber(ctx context.Context, number string) (*Letter, error) {
	return s.findOne(ctx, "find by number",
		`WHERE l.number = ? AND l.deleted_at IS NULL ORDER BY l.created_at, l.id LIMIT 1`, number)
}

// Create inserts a new letter and returns it as stored.
func (s *Store) Create(ctx context.Context, f LetterFields) (*Letter, error) {
	id := uuid.New().String()
	now := toMillis(s.now())

	_, err := s.db.ExecContext(ctx, s.q(sqlInsertLetter),
		id, f.Number, f.Org, toMillis(f.Date), toMillis(f.DeadlineDate),
		string(defaultStatus(f.Status)), f.Type, f.Content, f.JiraLink, f.Zordoc,
		f.Answer, f.SendStatus, f.Comment, nullTime(f.IjroDate), nullTime(f.CloseDate),
		nullString(f.OwnerID), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("store: creating letter %q: %w", f.Number, err)
	}

	s.logger.Debug("letter created", slog.String("id", id), slog.String("number", f.Number))

	return s.FindByID(ctx, id)
}

// Update overwrites the business fields of a letter and bumps updated_at.
func (s *Store) Update(ctx context.Context, id string, f LetterFields) (*Letter, error) {
	res, err := s.db.ExecContext(ctx, s.q(sqlUpdateLetter),
		f.Number, f.Org, toMillis(f.Date), toMillis(f.DeadlineDate),
		string(defaultStatus(f.Status)), f.Type, f.Content, f.JiraLink, f.Zordoc,
		f.Answer, f.SendStatus, f.Comment, nullTime(f.IjroDate), nullTime(f.CloseDate),
		nullString(f.OwnerID), toMillis(s.now()), id,
	)
	if err != nil {
		return nil, fmt.Errorf("store: updating letter %s: %w", id, err)
	}

	if err := expectOneRow(res, "update letter", id); err != nil {
		return nil, err
	}

	return s.FindByID(ctx, id)
}

// SoftDelete marks a letter deleted at the given instant.
func (s *Store) SoftDelete(ctx context.Context, id string, at time.Time) (*Letter, error) {
	at = at.UTC().Truncate(time.Millisecond)

	res, err := s.db.ExecContext(ctx, s.q(sqlSoftDeleteLetter), toMillis(at), toMillis(s.now()), id)
	if err != nil {
		return nil, fmt.Errorf("store: soft-deleting letter %s: %w", id, err)
	}

	if err := expectOneRow(res, "soft-delete letter", id); err != nil {
		return nil, err
	}

	return s.FindByID(ctx, id)
}

// SetContacts updates the portal-only contacts field.
func (s *Store) SetContacts(ctx context.Context, id, contacts string) error {
	res, err := s.db.ExecContext(ctx, s.q(sqlSetContacts), contacts, toMillis(s.now()), id)
	if err != nil {
		return fmt.Errorf("store: setting contacts on %s: %w", id, err)
	}

	return expectOneRow(res, "set contacts", id)
}

// AddFile appends an attachment to a letter and bumps its updated_at.
func (s *Store) AddFile(ctx context.Context, letterID string, a Attachment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: beginning add-file transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.q(sqlInsertFile),
		uuid.New().String(), letterID, a.Name, a.URL, letterID); err != nil {
		return fmt.Errorf("store: adding file to %s: %w", letterID, err)
	}

	if _, err := tx.ExecContext(ctx, s.q(`UPDATE letters SET updated_at = ? WHERE id = ?`),
		toMillis(s.now()), letterID); err != nil {
		return fmt.Errorf("store: touching letter %s: %w", letterID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: committing add-file: %w", err)
	}

	return nil
}

// MarkSynced stamps last_synced_at on the given letters without touching
// updated_at.
func (s *Store) MarkSynced(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	stamp := toMillis(at.UTC().Truncate(time.Millisecond))

	for start := 0; start < len(ids); start += markSyncedChunk {
		end := min(start+markSyncedChunk, len(ids))
		chunk := ids[start:end]

		args := make([]any, 0, len(chunk)+1)
		args = append(args, stamp)

		for _, id := range chunk {
			args = append(args, id)
		}

		query := `UPDATE letters SET last_synced_at = ? WHERE id IN (` + placeholders(len(chunk)) + `)`
		if _, err := s.db.ExecContext(ctx, s.q(query), args...); err != nil {
			return fmt.Errorf("store: marking %d letters synced: %w", len(chunk), err)
		}
	}

	s.logger.Debug("letters marked synced", slog.Int("count", len(ids)))

	return nil
}

// SetSheetRows records spreadsheet row positions (letter id → 1-based row)
// in one transaction, without touching updated_at. A zero row clears the
// position.
func (s *Store) SetSheetRows(ctx context.Context, rows map[string]int) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: beginning sheet-row transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.q(sqlSetSheetRow))
	if err != nil {
		return fmt.Errorf("store: preparing sheet-row update: %w", err)
	}
	defer stmt.Close()

	for id, row := range rows {
		if _, err := stmt.ExecContext(ctx, nullInt(row), id); err != nil {
			return fmt.Errorf("store: setting sheet row for %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: committing sheet rows: %w", err)
	}

	return nil
}

func (s *Store) findOne(ctx context.Context, desc, where string, args ...any) (*Letter, error) {
	row := s.db.QueryRowContext(ctx, s.q(sqlSelectLetter+where), args...)

	l, err := scanLetter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("store: %s: %w", desc, err)
	}

	if err := s.attachFiles(ctx, []*Letter{l}, `WHERE l.id = ?`, l.ID); err != nil {
		return nil, err
	}

	return l, nil
}

func (s *Store) queryLetters(ctx context.Context, desc, where string, args ...any) ([]*Letter, error) {
	rows, err := s.db.QueryContext(ctx, s.q(sqlSelectLetter+where), args...) //nolint:gosec // where is always a compile-time constant
	if err != nil {
		return nil, fmt.Errorf("store: %s: %w", desc, err)
	}
	defer rows.Close()

	var result []*Letter

	for rows.Next() {
		l, scanErr := scanLetter(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("store: %s: %w", desc, scanErr)
		}

		result = append(result, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating %s rows: %w", desc, err)
	}

	return result, nil
}

// attachFiles loads attachments for the letters selected by where (applied
// to the joined letters table) and assigns them in position order.
func (s *Store) attachFiles(ctx context.Context, letters []*Letter, where string, args ...any) error {
	if len(letters) == 0 {
		return nil
	}

	byID := make(map[string]*Letter, len(letters))
	for _, l := range letters {
		byID[l.ID] = l
	}

	rows, err := s.db.QueryContext(ctx, s.q(sqlSelectFiles+where+` ORDER BY f.letter_id, f.position`), args...)
	if err != nil {
		return fmt.Errorf("store: loading attachments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			letterID string
			a        Attachment
		)

		if err := rows.Scan(&letterID, &a.Name, &a.URL); err != nil {
			return fmt.Errorf("store: scanning attachment: %w", err)
		}

		if l, ok := byID[letterID]; ok {
			l.Files = append(l.Files, a)
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("store: iterating attachments: %w", err)
	}

	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanLetter(sc rowScanner) (*Letter, error) {
	var (
		l            Letter
		date         int64
		deadline     int64
		status       string
		ijroDate     sql.NullInt64
		closeDate    sql.NullInt64
		ownerID      sql.NullString
		createdAt    int64
		updatedAt    int64
		deletedAt    sql.NullInt64
		lastSyncedAt sql.NullInt64
		sheetRow     sql.NullInt64
		ownerEmail   sql.NullString
		ownerName    sql.NullString
		ownerRole    sql.NullString
		ownerLogin   sql.NullInt64
	)

	err := sc.Scan(
		&l.ID, &l.Number, &l.Org, &date, &deadline, &status,
		&l.Type, &l.Content, &l.JiraLink, &l.Zordoc, &l.Answer, &l.SendStatus, &l.Comment,
		&l.Contacts, &ijroDate, &closeDate, &ownerID, &createdAt, &updatedAt,
		&deletedAt, &lastSyncedAt, &sheetRow,
		&ownerEmail, &ownerName, &ownerRole, &ownerLogin,
	)
	if err != nil {
		return nil, err
	}

	l.Date = fromMillis(date)
	l.DeadlineDate = fromMillis(deadline)
	l.Status = LetterStatus(status)
	l.IjroDate = timePtr(ijroDate)
	l.CloseDate = timePtr(closeDate)
	l.CreatedAt = fromMillis(createdAt)
	l.UpdatedAt = fromMillis(updatedAt)
	l.DeletedAt = timePtr(deletedAt)
	l.LastSyncedAt = timePtr(lastSyncedAt)

	if sheetRow.Valid {
		l.SheetRowNum = int(sheetRow.Int64)
	}

	if ownerID.Valid {
		l.OwnerID = ownerID.String
		l.Owner = &User{
			ID:       ownerID.String,
			Email:    ownerEmail.String,
			Name:     ownerName.String,
			Role:     Role(ownerRole.String),
			CanLogin: ownerLogin.Int64 != 0,
		}
	}

	return &l, nil
}

func expectOneRow(res sql.Result, desc, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: %s %s rows affected: %w", desc, id, err)
	}

	if n == 0 {
		return fmt.Errorf("store: %s %s: %w", desc, id, ErrNotFound)
	}

	return nil
}

func defaultStatus(s LetterStatus) LetterStatus {
	if s == "" {
		return StatusNotReviewed
	}

	return s
}
