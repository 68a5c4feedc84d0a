package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"oidc-linker/internal/db"
)

func addLegacyColumns(t *testing.T, gdb *gorm.DB) {
	t.Helper()
	require.NoError(t, gdb.Exec("ALTER TABLE users ADD COLUMN \"subject\" TEXT").Error)
	require.NoError(t, gdb.Exec("ALTER TABLE users ADD COLUMN \"issuer\" TEXT").Error)
}

func TestMigrateLegacyColumnsWithoutColumnsIsNoop(t *testing.T) {
	s, gdb := setup(t)
	ctx := context.Background()

	assert.False(t, s.HasLegacyColumns())

	n, err := s.MigrateLegacyColumns(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	applied, err := db.Applied(ctx, gdb, LegacyUpdate)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestMigrateLegacyColumnsCopiesOnce(t *testing.T) {
	s, gdb := setup(t)
	ctx := context.Background()

	jane := addUser(t, gdb, "Jane", "", epoch)
	john := addUser(t, gdb, "John", "", epoch)
	addUser(t, gdb, "Local", "", epoch)
	addLegacyColumns(t, gdb)

	require.NoError(t, gdb.Exec("UPDATE users SET subject = ?, issuer = ? WHERE id = ?", "sub-jane", issuer, jane).Error)
	require.NoError(t, gdb.Exec("UPDATE users SET subject = ?, issuer = ? WHERE id = ?", "sub-john-old", issuer, john).Error)

	// John already has a link; it must survive.
	require.NoError(t, s.SaveLink(ctx, john, "sub-john", issuer))

	n, err := s.MigrateLegacyColumns(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	id, _, err := s.FindUserByIdentity(ctx, "sub-jane", issuer)
	require.NoError(t, err)
	assert.Equal(t, jane, id)

	id, _, err = s.FindUserByIdentity(ctx, "sub-john", issuer)
	require.NoError(t, err)
	assert.Equal(t, john, id)

	n, err = s.MigrateLegacyColumns(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	var count int64
	require.NoError(t, gdb.Model(&Link{}).Count(&count).Error)
	assert.EqualValues(t, 2, count)
}

func TestDropLegacyColumns(t *testing.T) {
	s, gdb := setup(t)
	ctx := context.Background()
	addLegacyColumns(t, gdb)

	require.Error(t, s.DropLegacyColumns(ctx))

	_, err := s.MigrateLegacyColumns(ctx)
	require.NoError(t, err)
	require.NoError(t, s.DropLegacyColumns(ctx))
	assert.False(t, s.HasLegacyColumns())
}
