package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

const (
	sqlSelectUsers = `SELECT id, email, name, role, can_login FROM users `

	sqlInsertUser = `INSERT INTO users (id, email, name, role, can_login, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	sqlSetCanLogin = `UPDATE users SET can_login = ? WHERE id = ?`
)

// ListUsers returns the whole directory ordered by id.
func (s *Store) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, s.q(sqlSelectUsers+`ORDER BY id`))
	if err != nil {
		return nil, fmt.Errorf("store: listing users: %w", err)
	}
	defer rows.Close()

	var users []*User

	for rows.Next() {
		u, scanErr := scanUser(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("store: scanning user: %w", scanErr)
		}

		users = append(users, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating users: %w", err)
	}

	return users, nil
}

// GetUser returns the user with the given id or ErrNotFound.
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, s.q(sqlSelectUsers+`WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("store: getting user %s: %w", id, err)
	}

	return u, nil
}

// CreateUser inserts a directory identity. Emails are stored lower-cased;
// an empty role defaults to RoleEmployee.
func (s *Store) CreateUser(ctx context.Context, u User) (*User, error) {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	u.Name = strings.TrimSpace(u.Name)

	if u.Email == "" && u.Name == "" {
		return nil, fmt.Errorf("store: user needs an email or a name")
	}

	if u.Role == "" {
		u.Role = RoleEmployee
	}

	u.ID = uuid.New().String()

	_, err := s.db.ExecContext(ctx, s.q(sqlInsertUser),
		u.ID, nullString(u.Email), nullString(u.Name), string(u.Role),
		boolInt(u.CanLogin), toMillis(s.now()),
	)
	if err != nil {
		return nil, fmt.Errorf("store: creating user %q: %w", u.Display(), err)
	}

	s.logger.Info("user created",
		slog.String("id", u.ID),
		slog.String("label", u.Display()),
	)

	return &u, nil
}

// SetCanLogin enables or disables login for one identity.
func (s *Store) SetCanLogin(ctx context.Context, id string, canLogin bool) error {
	res, err := s.db.ExecContext(ctx, s.q(sqlSetCanLogin), boolInt(canLogin), id)
	if err != nil {
		return fmt.Errorf("store: setting can_login on %s: %w", id, err)
	}

	return expectOneRow(res, "set can_login", id)
}

// DisableLoginExcept disables login for every non-elevated identity whose id
// is not in keep and which can currently log in. Returns the number of
// identities disabled.
func (s *Store) DisableLoginExcept(ctx context.Context, keep []string) (int, error) {
	query := `UPDATE users SET can_login = 0
		WHERE can_login = 1 AND role NOT IN (?, ?)`

	args := []any{string(RoleSuperAdmin), string(RoleAdmin)}

	if len(keep) > 0 {
		query += ` AND id NOT IN (` + placeholders(len(keep)) + `)`

		for _, id := range keep {
			args = append(args, id)
		}
	}

	res, err := s.db.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return 0, fmt.Errorf("store: disabling unreferenced logins: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: disabling unreferenced logins rows affected: %w", err)
	}

	if n > 0 {
		s.logger.Info("disabled login for identities missing from sheet", slog.Int64("count", n))
	}

	return int(n), nil
}

// SetRole changes a user's role.
func (s *Store) SetRole(ctx context.Context, id string, role Role) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE users SET role = ? WHERE id = ?`), string(role), id)
	if err != nil {
		return fmt.Errorf("store: setting role on %s: %w", id, err)
	}

	return expectOneRow(res, "set role", id)
}

func scanUser(sc rowScanner) (*User, error) {
	var (
		u        User
		email    sql.NullString
		name     sql.NullString
		role     string
		canLogin int64
	)

	if err := sc.Scan(&u.ID, &email, &name, &role, &canLogin); err != nil {
		return nil, err
	}

	u.Email = email.String
	u.Name = name.String
	u.Role = Role(role)
	u.CanLogin = canLogin != 0

	return &u, nil
}
