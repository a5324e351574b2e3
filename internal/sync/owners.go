package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/sheetsync/internal/store"
)

// ownerIndex maps normalized owner-cell values to directory identities for
// the duration of one import run. It is built by resolveOwners and passed
// explicitly into the row loop.
type ownerIndex struct {
	byKey map[string]*store.User
}

// lookup returns the identity for a raw owner cell, or nil for an empty cell.
func (ix *ownerIndex) lookup(cell string) *store.User {
	key := ownerKey(cell)
	if key == "" {
		return nil
	}

	return ix.byKey[key]
}

// ownerResolution is the result of the owner pre-pass.
type ownerResolution struct {
	index     *ownerIndex
	created   int
	enabled   int
	disabled  int
	distinct  int
	skippedAC bool // access-control disabling skipped (no data rows)
}

// ownerKey normalizes an owner cell. Values containing "@" are emails and
// are lower-cased verbatim; anything else is a name, compared after NFC
// normalization, whitespace collapsing and Unicode case folding.
func ownerKey(cell string) string {
	s := strings.TrimSpace(cell)
	if s == "" {
		return ""
	}

	if isEmailStyle(s) {
		return strings.ToLower(s)
	}

	// A Caser is stateful; never share one across goroutines.
	return cases.Fold().String(cleanName(s))
}

// cleanName is the display form of a name-style owner: NFC with internal
// whitespace collapsed to single spaces.
func cleanName(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}

func isEmailStyle(s string) bool {
	return strings.Contains(s, "@")
}

// resolveOwners runs the owner pre-pass over every data row: each distinct
// owner value is matched to an identity (created on demand), disabled
// ordinary identities that are referenced get login back, and ordinary
// identities that no row references lose it. Elevated roles are never
// toggled.
func (e *Engine) resolveOwners(ctx context.Context, rows []DecodedRow) (*ownerResolution, error) {
	// Distinct keys in first-seen order, with the first raw spelling kept
	// for identity creation.
	var keys []string

	raw := make(map[string]string)
	dataRows := 0

	for i := range rows {
		if rows[i].Number == "" {
			continue
		}

		dataRows++

		key := ownerKey(rows[i].Owner)
		if key == "" {
			continue
		}

		if _, seen := raw[key]; !seen {
			raw[key] = strings.TrimSpace(rows[i].Owner)
			keys = append(keys, key)
		}
	}

	users, err := e.dir.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("sync: loading directory: %w", err)
	}

	byEmail := make(map[string]*store.User, len(users))
	byName := make(map[string]*store.User, len(users))

	for _, u := range users {
		if u.Email != "" {
			byEmail[strings.ToLower(u.Email)] = u
		}

		if u.Name != "" {
			if _, dup := byName[ownerKey(u.Name)]; !dup {
				byName[ownerKey(u.Name)] = u
			}
		}
	}

	res := &ownerResolution{
		index:    &ownerIndex{byKey: make(map[string]*store.User, len(keys))},
		distinct: len(keys),
	}

	referenced := make([]string, 0, len(keys))

	for _, key := range keys {
		u := byEmail[key]
		if u == nil {
			u = byName[key]
		}

		if u == nil {
			u, err = e.createOwner(ctx, raw[key])
			if err != nil {
				return nil, err
			}

			res.created++
		} else if !u.CanLogin && !u.Role.Elevated() {
			if err := e.dir.SetCanLogin(ctx, u.ID, true); err != nil {
				return nil, fmt.Errorf("sync: re-enabling login for %s: %w", u.Display(), err)
			}

			u.CanLogin = true
			res.enabled++

			e.logger.Info("re-enabled login for owner referenced by sheet",
				slog.String("user_id", u.ID),
				slog.String("owner", u.Display()),
			)
		}

		res.index.byKey[key] = u
		referenced = append(referenced, u.ID)
	}

	if dataRows == 0 {
		// An empty or unreadable sheet must not lock everybody out.
		res.skippedAC = true
		e.logger.Warn("sheet has no data rows, skipping login disabling")

		return res, nil
	}

	sort.Strings(referenced)

	n, err := e.dir.DisableLoginExcept(ctx, referenced)
	if err != nil {
		return nil, fmt.Errorf("sync: disabling unreferenced logins: %w", err)
	}

	res.disabled = n

	return res, nil
}

// createOwner adds a directory identity for an owner cell nobody matched.
func (e *Engine) createOwner(ctx context.Context, cell string) (*store.User, error) {
	u := store.User{Role: store.RoleEmployee, CanLogin: true}

	if isEmailStyle(cell) {
		u.Email = strings.ToLower(cell)
		u.Name = cell[:strings.Index(cell, "@")]
	} else {
		u.Name = cleanName(cell)
	}

	created, err := e.dir.CreateUser(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("sync: creating owner %q: %w", cell, err)
	}

	e.logger.Info("created directory identity for sheet owner",
		slog.String("user_id", created.ID),
		slog.String("owner", created.Display()),
	)

	return created, nil
}
