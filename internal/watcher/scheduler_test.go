package watcher

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/mthorsen/playlistwatch/internal/catalog"
	"github.com/mthorsen/playlistwatch/internal/credentials"
	"github.com/mthorsen/playlistwatch/internal/db"
	"github.com/mthorsen/playlistwatch/internal/journal"
	"github.com/mthorsen/playlistwatch/internal/provider"
	"github.com/mthorsen/playlistwatch/internal/songlink"
	"github.com/mthorsen/playlistwatch/internal/syncengine"
)

// stubAdapter serves a fixed track list, or fails every call. When block is
// set, GetPlaylistTracks parks until the channel is closed or the context
// ends, signalling entered on the way in.
type stubAdapter struct {
	service  provider.Service
	tracks   []provider.Track
	failWith error
	block    chan struct{}
	entered  chan struct{}
}

func (a *stubAdapter) Service() provider.Service { return a.service }

func (a *stubAdapter) ListPlaylists(context.Context, int64) ([]provider.Playlist, error) {
	return nil, a.failWith
}

func (a *stubAdapter) GetPlaylist(_ context.Context, _ int64, id string) (*provider.Playlist, error) {
	if a.failWith != nil {
		return nil, a.failWith
	}
	return &provider.Playlist{Service: a.service, ExternalID: id, Name: "stub"}, nil
}

func (a *stubAdapter) GetPlaylistTracks(ctx context.Context, _ int64, _ string) ([]provider.Track, error) {
	if a.entered != nil {
		a.entered <- struct{}{}
	}
	if a.block != nil {
		select {
		case <-a.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if a.failWith != nil {
		return nil, a.failWith
	}
	return a.tracks, nil
}

func (a *stubAdapter) CreatePlaylist(_ context.Context, _ int64, name, _ string, _ bool) (*provider.Playlist, error) {
	if a.failWith != nil {
		return nil, a.failWith
	}
	return &provider.Playlist{Service: a.service, ExternalID: "created-1", Name: name}, nil
}

func (a *stubAdapter) AddTracks(context.Context, int64, string, []string) error {
	return a.failWith
}

func (a *stubAdapter) RemoveTracks(context.Context, int64, string, []string) error {
	return a.failWith
}

type stubResolver struct{}

func (stubResolver) Resolve(_ context.Context, track provider.Track, target provider.Service) (*songlink.Match, error) {
	return &songlink.Match{Service: target, ExternalID: "x-" + track.ExternalID}, nil
}

type schedulerFixture struct {
	dbs       *db.DBPair
	repo      *Repository
	scheduler *Scheduler
	service   *Service
	source    *stubAdapter
}

func setupScheduler(t *testing.T, opts Options) *schedulerFixture {
	t.Helper()
	dbs, err := db.Init(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { dbs.Close() })

	now := db.NowISO()
	_, err = dbs.Writer().Exec(
		`INSERT INTO users (username, password_hash, created_at, updated_at) VALUES ('tester', 'x', ?, ?)`, now, now)
	require.NoError(t, err)

	source := &stubAdapter{service: provider.ServiceSpotify, tracks: []provider.Track{
		{Service: provider.ServiceSpotify, ExternalID: "s1", Title: "One", Artist: "Artist", DurationMS: 200000},
	}}
	target := &stubAdapter{service: provider.ServiceTidal}

	journalRepo := journal.NewRepository(dbs)
	engine := syncengine.NewEngine(
		provider.NewRegistry(source, target), stubResolver{}, catalog.NewRepository(dbs), journalRepo, nil, nil)

	repo := NewRepository(dbs)
	scheduler := NewScheduler(repo, engine, opts, nil)
	service := NewService(repo, journalRepo, scheduler, nil)
	return &schedulerFixture{dbs: dbs, repo: repo, scheduler: scheduler, service: service, source: source}
}

func pendingCount(t *testing.T, fx *schedulerFixture, watcherID int64) int {
	t.Helper()
	var n int
	err := fx.dbs.Reader().QueryRow(
		`SELECT COUNT(*) FROM sync_operations WHERE watcher_id = ? AND status = 'pending'`, watcherID).Scan(&n)
	require.NoError(t, err)
	return n
}

func TestCreateValidation(t *testing.T) {
	fx := setupScheduler(t, Options{})
	ctx := context.Background()

	_, err := fx.service.Create(ctx, 1, CreateInput{
		SourceService: provider.ServiceSpotify, SourcePlaylistID: "a", TargetService: provider.ServiceTidal})
	require.ErrorContains(t, err, "name")

	_, err = fx.service.Create(ctx, 1, CreateInput{
		Name: "w", SourceService: "napster", SourcePlaylistID: "a", TargetService: provider.ServiceTidal})
	require.ErrorContains(t, err, "unknown source service")

	_, err = fx.service.Create(ctx, 1, CreateInput{
		Name: "w", SourceService: provider.ServiceSpotify, TargetService: provider.ServiceTidal})
	require.ErrorContains(t, err, "source_playlist_id")

	_, err = fx.service.Create(ctx, 1, CreateInput{
		Name: "w", SourceService: provider.ServiceSpotify, SourcePlaylistID: "a",
		TargetService: provider.ServiceSpotify, TargetPlaylistID: "b"})
	require.ErrorContains(t, err, "different services")
}

func TestCreateClampsFrequency(t *testing.T) {
	fx := setupScheduler(t, Options{MinPeriodSec: 60})

	created, err := fx.service.Create(context.Background(), 1, CreateInput{
		Name: "fast", SourceService: provider.ServiceSpotify, SourcePlaylistID: "src",
		TargetService: provider.ServiceTidal, SyncFrequencySec: 5})
	require.NoError(t, err)
	require.Equal(t, 60, created.SyncFrequencySec)
}

func TestSyncNowSuccess(t *testing.T) {
	fx := setupScheduler(t, Options{})
	created, err := fx.service.Create(context.Background(), 1, CreateInput{
		Name: "mirror", SourceService: provider.ServiceSpotify, SourcePlaylistID: "src",
		TargetService: provider.ServiceTidal})
	require.NoError(t, err)

	result, err := fx.service.SyncNow(context.Background(), created.ID, 1)
	require.NoError(t, err)
	require.Equal(t, journal.StatusCompleted, result.Operation.Status)
	require.Equal(t, 1, result.Operation.SongsAdded)

	// The run created the target playlist and persisted its id.
	got, err := fx.repo.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, "created-1", got.TargetPlaylistID)
	require.NotNil(t, got.LastSyncAt)
	require.WithinDuration(t, time.Now(), *got.LastSyncAt, time.Minute)
}

func TestQuarantineAfterConsecutiveFailures(t *testing.T) {
	fx := setupScheduler(t, Options{FailureThreshold: 2})
	created, err := fx.service.Create(context.Background(), 1, CreateInput{
		Name: "mirror", SourceService: provider.ServiceSpotify, SourcePlaylistID: "src",
		TargetService: provider.ServiceTidal})
	require.NoError(t, err)

	fx.source.failWith = &provider.UpstreamError{StatusCode: 404, Message: "gone"}

	_, err = fx.service.SyncNow(context.Background(), created.ID, 1)
	require.Error(t, err)
	got, err := fx.repo.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	require.True(t, got.IsActive)

	_, err = fx.service.SyncNow(context.Background(), created.ID, 1)
	require.Error(t, err)
	got, err = fx.repo.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	require.False(t, got.IsActive)
	require.Equal(t, ReasonQuarantined, got.DeactivationReason)
	require.False(t, fx.scheduler.Watching(created.ID))
}

func TestSuccessResetsFailureCount(t *testing.T) {
	fx := setupScheduler(t, Options{FailureThreshold: 2})
	created, err := fx.service.Create(context.Background(), 1, CreateInput{
		Name: "mirror", SourceService: provider.ServiceSpotify, SourcePlaylistID: "src",
		TargetService: provider.ServiceTidal})
	require.NoError(t, err)

	fx.source.failWith = &provider.UpstreamError{StatusCode: 500, Message: "flaky"}
	_, err = fx.service.SyncNow(context.Background(), created.ID, 1)
	require.Error(t, err)

	fx.source.failWith = nil
	_, err = fx.service.SyncNow(context.Background(), created.ID, 1)
	require.NoError(t, err)

	fx.source.failWith = &provider.UpstreamError{StatusCode: 500, Message: "flaky"}
	_, err = fx.service.SyncNow(context.Background(), created.ID, 1)
	require.Error(t, err)

	got, err := fx.repo.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	require.True(t, got.IsActive)
}

func TestCredentialFailureDeactivatesImmediately(t *testing.T) {
	fx := setupScheduler(t, Options{FailureThreshold: 5})
	created, err := fx.service.Create(context.Background(), 1, CreateInput{
		Name: "mirror", SourceService: provider.ServiceSpotify, SourcePlaylistID: "src",
		TargetService: provider.ServiceTidal})
	require.NoError(t, err)

	fx.source.failWith = credentials.ErrNotLinked
	_, err = fx.service.SyncNow(context.Background(), created.ID, 1)
	require.Error(t, err)

	got, err := fx.repo.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	require.False(t, got.IsActive)
	require.Equal(t, ReasonCredentials, got.DeactivationReason)
}

func TestActivateClearsQuarantine(t *testing.T) {
	fx := setupScheduler(t, Options{FailureThreshold: 1})
	created, err := fx.service.Create(context.Background(), 1, CreateInput{
		Name: "mirror", SourceService: provider.ServiceSpotify, SourcePlaylistID: "src",
		TargetService: provider.ServiceTidal})
	require.NoError(t, err)

	fx.source.failWith = &provider.UpstreamError{StatusCode: 500, Message: "down"}
	_, err = fx.service.SyncNow(context.Background(), created.ID, 1)
	require.Error(t, err)

	got, err := fx.repo.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, ReasonQuarantined, got.DeactivationReason)

	fx.source.failWith = nil
	reactivated, err := fx.service.Activate(context.Background(), created.ID, 1)
	require.NoError(t, err)
	require.True(t, reactivated.IsActive)
	require.Empty(t, reactivated.DeactivationReason)
}

func TestSchedulerStartAndShutdown(t *testing.T) {
	fx := setupScheduler(t, Options{})
	created, err := fx.service.Create(context.Background(), 1, CreateInput{
		Name: "mirror", SourceService: provider.ServiceSpotify, SourcePlaylistID: "src",
		TargetService: provider.ServiceTidal})
	require.NoError(t, err)

	require.NoError(t, fx.scheduler.Start(context.Background()))
	require.True(t, fx.scheduler.Watching(created.ID))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, fx.scheduler.Shutdown(ctx))
	require.False(t, fx.scheduler.Watching(created.ID))
}

func TestManualRunsSerializePerWatcher(t *testing.T) {
	fx := setupScheduler(t, Options{})
	created, err := fx.service.Create(context.Background(), 1, CreateInput{
		Name: "mirror", SourceService: provider.ServiceSpotify, SourcePlaylistID: "src",
		TargetService: provider.ServiceTidal})
	require.NoError(t, err)

	fx.source.block = make(chan struct{})
	fx.source.entered = make(chan struct{}, 4)

	first, err := fx.repo.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	second, err := fx.repo.GetByID(context.Background(), created.ID)
	require.NoError(t, err)

	results := make(chan error, 2)
	go func() {
		_, runErr := fx.scheduler.RunNow(context.Background(), first)
		results <- runErr
	}()
	<-fx.source.entered

	go func() {
		_, runErr := fx.scheduler.RunNow(context.Background(), second)
		results <- runErr
	}()
	time.Sleep(50 * time.Millisecond)

	// The second run is queued behind the run lock, so only the first has
	// opened a journal row.
	require.Equal(t, 1, pendingCount(t, fx, created.ID))

	close(fx.source.block)
	require.NoError(t, <-results)
	require.NoError(t, <-results)
	require.Zero(t, pendingCount(t, fx, created.ID))
}

func TestStopWatcherWaitsForInFlightSync(t *testing.T) {
	fx := setupScheduler(t, Options{})
	created, err := fx.service.Create(context.Background(), 1, CreateInput{
		Name: "mirror", SourceService: provider.ServiceSpotify, SourcePlaylistID: "src",
		TargetService: provider.ServiceTidal})
	require.NoError(t, err)

	fx.source.block = make(chan struct{})
	fx.source.entered = make(chan struct{}, 1)

	require.NoError(t, fx.scheduler.Start(context.Background()))
	<-fx.source.entered

	// The loop's immediate sync is parked inside the source read; stopping
	// cancels it and returns only after the loop has wound down.
	fx.scheduler.StopWatcher(created.ID)
	require.False(t, fx.scheduler.Watching(created.ID))
	require.Zero(t, pendingCount(t, fx, created.ID))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, fx.scheduler.Shutdown(ctx))
}

func TestOperationsRequiresOwnership(t *testing.T) {
	fx := setupScheduler(t, Options{})
	created, err := fx.service.Create(context.Background(), 1, CreateInput{
		Name: "mirror", SourceService: provider.ServiceSpotify, SourcePlaylistID: "src",
		TargetService: provider.ServiceTidal})
	require.NoError(t, err)

	_, err = fx.service.SyncNow(context.Background(), created.ID, 1)
	require.NoError(t, err)

	ops, err := fx.service.Operations(context.Background(), created.ID, 1, 10, 0)
	require.NoError(t, err)
	require.Len(t, ops, 1)

	_, err = fx.service.Operations(context.Background(), created.ID, 99, 10, 0)
	require.ErrorIs(t, err, ErrNotFound)
}
