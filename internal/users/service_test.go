package users

import (
	"context"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/mthorsen/playlistwatch/internal/db"
)

func setupService(t *testing.T) *Service {
	t.Helper()
	dbs, err := db.Init(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { dbs.Close() })
	return NewService(NewRepository(dbs), nil)
}

func TestRegisterAndAuthenticate(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "alice", "correct-horse")
	require.NoError(t, err)
	require.NotZero(t, user.ID)
	require.Equal(t, "alice", user.Username)
	require.NotEqual(t, "correct-horse", user.PasswordHash)

	got, err := svc.Authenticate(ctx, "alice", "correct-horse")
	require.NoError(t, err)
	require.Equal(t, user.ID, got.ID)

	_, err = svc.Authenticate(ctx, "alice", "wrong-password")
	require.ErrorIs(t, err, ErrInvalidLogin)

	_, err = svc.Authenticate(ctx, "nobody", "correct-horse")
	require.ErrorIs(t, err, ErrInvalidLogin)
}

func TestRegisterDuplicateUsername(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice", "correct-horse")
	require.NoError(t, err)

	_, err = svc.Register(ctx, "alice", "another-pass")
	require.ErrorIs(t, err, ErrUsernameTaken)
}

func TestRegisterValidation(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "ab", "correct-horse")
	require.ErrorContains(t, err, "between")

	_, err = svc.Register(ctx, "has space", "correct-horse")
	require.ErrorContains(t, err, "may only contain")

	_, err = svc.Register(ctx, "alice", "short")
	require.ErrorContains(t, err, "at least")

	// Trimmed before validation.
	user, err := svc.Register(ctx, "  bob.smith_01  ", "correct-horse")
	require.NoError(t, err)
	require.Equal(t, "bob.smith_01", user.Username)
}

func TestGetByID(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "alice", "correct-horse")
	require.NoError(t, err)

	got, err := svc.Get(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, "alice", got.Username)

	_, err = svc.Get(ctx, 999)
	require.ErrorIs(t, err, ErrNotFound)
}
