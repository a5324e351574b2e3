package sync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/sheetsync/internal/store"
)

func TestOwnerKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ivan@example.com", ownerKey("  Ivan@Example.COM "))
	assert.Equal(t, "ivan petrov", ownerKey("Ivan   Petrov"))
	assert.Equal(t, ownerKey("ИВАН ПЕТРОВ"), ownerKey("иван петров"))
	assert.Equal(t, ownerKey("Jos\u00e9"), ownerKey("Jose\u0301"), "NFC-equivalent spellings match")
	assert.Empty(t, ownerKey("   "))
}

func TestResolveOwners_NoDuplicateIdentities(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	ctx := context.Background()

	fx.sheet.seed(headerRow(),
		sheetRow(map[int]string{colNumber: "A-1", colOwner: "Ivan Petrov"}),
		sheetRow(map[int]string{colNumber: "A-2", colOwner: "ivan  PETROV"}),
		sheetRow(map[int]string{colNumber: "A-3", colOwner: "anna@example.com"}),
		sheetRow(map[int]string{colNumber: "A-4", colOwner: "ANNA@example.com"}),
	)

	_, err := fx.engine.Import(ctx)
	require.NoError(t, err)

	users, err := fx.store.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)

	a1 := fx.letterByNumber(t, "A-1")
	a2 := fx.letterByNumber(t, "A-2")
	assert.Equal(t, a1.OwnerID, a2.OwnerID)
	assert.Equal(t, "Ivan Petrov", a1.Owner.Name)

	a3 := fx.letterByNumber(t, "A-3")
	a4 := fx.letterByNumber(t, "A-4")
	assert.Equal(t, a3.OwnerID, a4.OwnerID)

	// A second import creates nobody new.
	_, err = fx.engine.Import(ctx)
	require.NoError(t, err)

	users, err = fx.store.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 2)
}

func TestResolveOwners_AccessControl(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	ctx := context.Background()

	kept := fx.createUser(t, store.User{Email: "kept@example.com", CanLogin: false})
	dropped := fx.createUser(t, store.User{Email: "dropped@example.com", CanLogin: true})
	admin := fx.createUser(t, store.User{Email: "admin@example.com", Role: store.RoleAdmin, CanLogin: true})
	super := fx.createUser(t, store.User{Email: "root@example.com", Role: store.RoleSuperAdmin, CanLogin: false})

	rows := []DecodedRow{
		fx.engine.codec.Decode(sheetRow(map[int]string{colNumber: "A-1", colOwner: "kept@example.com"})),
		fx.engine.codec.Decode(sheetRow(map[int]string{colNumber: "A-2", colOwner: "root@example.com"})),
	}

	res, err := fx.engine.resolveOwners(ctx, rows)
	require.NoError(t, err)

	assert.Equal(t, 2, res.distinct)
	assert.Equal(t, 0, res.created)
	assert.Equal(t, 1, res.enabled)
	assert.Equal(t, 1, res.disabled)
	assert.False(t, res.skippedAC)

	get := func(id string) *store.User {
		u, err := fx.store.GetUser(ctx, id)
		require.NoError(t, err)

		return u
	}

	assert.True(t, get(kept.ID).CanLogin, "referenced employee regains login")
	assert.False(t, get(dropped.ID).CanLogin, "unreferenced employee loses login")
	assert.True(t, get(admin.ID).CanLogin, "admins are never toggled")
	assert.False(t, get(super.ID).CanLogin, "superadmins are never toggled")

	assert.Equal(t, kept.ID, res.index.lookup("KEPT@example.com").ID)
	assert.Nil(t, res.index.lookup(""))
}

func TestResolveOwners_EmptySheetKeepsLogins(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	ctx := context.Background()

	u := fx.createUser(t, store.User{Email: "someone@example.com", CanLogin: true})

	res, err := fx.engine.resolveOwners(ctx, nil)
	require.NoError(t, err)
	assert.True(t, res.skippedAC)

	got, err := fx.store.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.CanLogin)
}

func TestResolveOwners_IgnoresRowsWithoutNumber(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	ctx := context.Background()

	rows := []DecodedRow{{ID: "orphan", Owner: "ghost@example.com"}}

	res, err := fx.engine.resolveOwners(ctx, rows)
	require.NoError(t, err)

	assert.Zero(t, res.created)
	assert.True(t, res.skippedAC)

	users, err := fx.store.ListUsers(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)
}
