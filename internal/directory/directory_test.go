package directory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oidc-linker/internal/db/dbtest"
)

func newDirectory(t *testing.T) *Directory {
	t.Helper()
	d, err := New(dbtest.Open(t, Models()...))
	require.NoError(t, err)
	return d
}

func TestNewRejectsNilDB(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrNilDB)
}

func TestCreateUserCanonicalizesAndRejectsDuplicates(t *testing.T) {
	d := newDirectory(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return at }

	u, err := d.CreateUser(ctx, "jane_smith", "Jane Smith", "jane@example.com")
	require.NoError(t, err)
	assert.NotZero(t, u.ID)
	assert.Equal(t, "Jane smith", u.Name)
	assert.True(t, u.RegisteredAt.Equal(at))

	_, err = d.CreateUser(ctx, "Jane smith", "", "")
	assert.ErrorIs(t, err, ErrNameTaken)

	_, err = d.CreateUser(ctx, "bad#name", "", "")
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestLookups(t *testing.T) {
	d := newDirectory(t)
	ctx := context.Background()

	created, err := d.CreateUser(ctx, "John", "John Doe", "john@example.com")
	require.NoError(t, err)

	byName, err := d.UserByName(ctx, "john")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byName.ID)

	byID, err := d.UserByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "John", byID.Name)

	_, err = d.UserByName(ctx, "Nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)
	_, err = d.UserByName(ctx, "in|valid")
	assert.ErrorIs(t, err, ErrUserNotFound)
	_, err = d.UserByID(ctx, created.ID+100)
	assert.ErrorIs(t, err, ErrUserNotFound)

	ok, err := d.IsRegistered(ctx, "John")
	require.NoError(t, err)
	assert.True(t, ok)

	// IsRegistered compares the exact stored form.
	ok, err = d.IsRegistered(ctx, "john")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSyncProfile(t *testing.T) {
	d := newDirectory(t)
	ctx := context.Background()

	u, err := d.CreateUser(ctx, "Jane", "Jane", "old@example.com")
	require.NoError(t, err)

	require.NoError(t, d.SyncProfile(ctx, u.ID, "Jane Smith", ""))

	got, err := d.UserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jane Smith", got.RealName)
	assert.Equal(t, "old@example.com", got.Email)

	assert.NoError(t, d.SyncProfile(ctx, u.ID, "", ""))
	assert.ErrorIs(t, d.SyncProfile(ctx, u.ID+100, "X", ""), ErrUserNotFound)
}

func TestGroupMembership(t *testing.T) {
	d := newDirectory(t)
	ctx := context.Background()

	u, err := d.CreateUser(ctx, "Jane", "", "")
	require.NoError(t, err)

	require.NoError(t, d.AddToGroup(ctx, u.ID, "sysop"))
	require.NoError(t, d.AddToGroup(ctx, u.ID, "oidc_admin"))
	require.NoError(t, d.AddToGroup(ctx, u.ID, "oidc_admin"))

	groups, err := d.Groups(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"oidc_admin", "sysop"}, groups)

	require.NoError(t, d.RemoveFromGroup(ctx, u.ID, "oidc_admin"))
	require.NoError(t, d.RemoveFromGroup(ctx, u.ID, "never_joined"))

	groups, err = d.Groups(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"sysop"}, groups)
}
