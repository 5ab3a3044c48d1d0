package watcher

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/mthorsen/playlistwatch/internal/db"
	"github.com/mthorsen/playlistwatch/internal/provider"
)

func setupRepo(t *testing.T) *Repository {
	t.Helper()
	dbs, err := db.Init(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { dbs.Close() })

	now := db.NowISO()
	_, err = dbs.Writer().Exec(
		`INSERT INTO users (username, password_hash, created_at, updated_at) VALUES ('tester', 'x', ?, ?)`, now, now)
	require.NoError(t, err)
	return NewRepository(dbs)
}

func sampleWatcher(name string) *Watcher {
	return &Watcher{
		UserID:           1,
		Name:             name,
		SourceService:    provider.ServiceSpotify,
		SourcePlaylistID: "src-1",
		TargetService:    provider.ServiceTidal,
		SyncFrequencySec: 600,
	}
}

func TestCreateAndGet(t *testing.T) {
	repo := setupRepo(t)

	created, err := repo.Create(context.Background(), sampleWatcher("mirror"))
	require.NoError(t, err)
	require.NotZero(t, created.ID)
	require.True(t, created.IsActive)
	require.Empty(t, created.TargetPlaylistID)
	require.Empty(t, created.DeactivationReason)
	require.Nil(t, created.LastSyncAt)
	require.Equal(t, 600, created.SyncFrequencySec)

	got, err := repo.GetForUser(context.Background(), created.ID, 1)
	require.NoError(t, err)
	require.Equal(t, created.Name, got.Name)

	_, err = repo.GetForUser(context.Background(), created.ID, 2)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCreateDuplicateName(t *testing.T) {
	repo := setupRepo(t)

	_, err := repo.Create(context.Background(), sampleWatcher("mirror"))
	require.NoError(t, err)

	_, err = repo.Create(context.Background(), sampleWatcher("mirror"))
	require.ErrorIs(t, err, ErrNameTaken)
}

func TestUpdatePartialFields(t *testing.T) {
	repo := setupRepo(t)
	created, err := repo.Create(context.Background(), sampleWatcher("mirror"))
	require.NoError(t, err)

	freq := 900
	updated, err := repo.Update(context.Background(), created.ID, 1, UpdateInput{SyncFrequencySec: &freq})
	require.NoError(t, err)
	require.Equal(t, 900, updated.SyncFrequencySec)
	require.Equal(t, "mirror", updated.Name)

	name := "renamed"
	target := "dst-1"
	updated, err = repo.Update(context.Background(), created.ID, 1, UpdateInput{Name: &name, TargetPlaylistID: &target})
	require.NoError(t, err)
	require.Equal(t, "renamed", updated.Name)
	require.Equal(t, "dst-1", updated.TargetPlaylistID)
	require.Equal(t, 900, updated.SyncFrequencySec)

	_, err = repo.Update(context.Background(), 999, 1, UpdateInput{Name: &name})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSetActiveRecordsAndClearsReason(t *testing.T) {
	repo := setupRepo(t)
	created, err := repo.Create(context.Background(), sampleWatcher("mirror"))
	require.NoError(t, err)

	require.NoError(t, repo.SetActive(context.Background(), created.ID, false, ReasonQuarantined))
	got, err := repo.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	require.False(t, got.IsActive)
	require.Equal(t, ReasonQuarantined, got.DeactivationReason)

	require.NoError(t, repo.SetActive(context.Background(), created.ID, true, ""))
	got, err = repo.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	require.True(t, got.IsActive)
	require.Empty(t, got.DeactivationReason)
}

func TestListActiveFiltersDeactivated(t *testing.T) {
	repo := setupRepo(t)
	first, err := repo.Create(context.Background(), sampleWatcher("one"))
	require.NoError(t, err)
	second, err := repo.Create(context.Background(), sampleWatcher("two"))
	require.NoError(t, err)

	require.NoError(t, repo.SetActive(context.Background(), first.ID, false, "user"))

	active, err := repo.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, second.ID, active[0].ID)

	all, err := repo.ListByUser(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestTouchLastSync(t *testing.T) {
	repo := setupRepo(t)
	created, err := repo.Create(context.Background(), sampleWatcher("mirror"))
	require.NoError(t, err)

	at := time.Date(2026, 3, 4, 12, 30, 45, 123456789, time.UTC)
	require.NoError(t, repo.TouchLastSync(context.Background(), created.ID, at))

	got, err := repo.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastSyncAt)
	require.True(t, got.LastSyncAt.Equal(at))
}

func TestDelete(t *testing.T) {
	repo := setupRepo(t)
	created, err := repo.Create(context.Background(), sampleWatcher("mirror"))
	require.NoError(t, err)

	require.NoError(t, repo.Delete(context.Background(), created.ID, 1))
	_, err = repo.GetByID(context.Background(), created.ID)
	require.ErrorIs(t, err, ErrNotFound)

	require.ErrorIs(t, repo.Delete(context.Background(), created.ID, 1), ErrNotFound)
}
