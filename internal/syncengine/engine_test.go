package syncengine

import (
	"context"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/mthorsen/playlistwatch/internal/catalog"
	"github.com/mthorsen/playlistwatch/internal/db"
	"github.com/mthorsen/playlistwatch/internal/journal"
	"github.com/mthorsen/playlistwatch/internal/provider"
	"github.com/mthorsen/playlistwatch/internal/songlink"
)

// fakeAdapter is an in-memory provider for engine tests.
type fakeAdapter struct {
	service   provider.Service
	playlists map[string][]provider.Track
	meta      map[string]provider.Playlist
	added     [][]string
	removed   [][]string
	failWith  error
}

func newFakeAdapter(service provider.Service) *fakeAdapter {
	return &fakeAdapter{
		service:   service,
		playlists: make(map[string][]provider.Track),
		meta:      make(map[string]provider.Playlist),
	}
}

func (f *fakeAdapter) Service() provider.Service { return f.service }

func (f *fakeAdapter) ListPlaylists(context.Context, int64) ([]provider.Playlist, error) {
	var out []provider.Playlist
	for _, meta := range f.meta {
		out = append(out, meta)
	}
	return out, nil
}

func (f *fakeAdapter) GetPlaylist(_ context.Context, _ int64, id string) (*provider.Playlist, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	meta, ok := f.meta[id]
	if !ok {
		meta = provider.Playlist{Service: f.service, ExternalID: id, Name: "playlist " + id}
	}
	return &meta, nil
}

func (f *fakeAdapter) GetPlaylistTracks(_ context.Context, _ int64, id string) ([]provider.Track, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	return f.playlists[id], nil
}

func (f *fakeAdapter) CreatePlaylist(_ context.Context, _ int64, name, _ string, _ bool) (*provider.Playlist, error) {
	created := provider.Playlist{Service: f.service, ExternalID: "created-1", Name: name}
	f.meta[created.ExternalID] = created
	return &created, nil
}

func (f *fakeAdapter) AddTracks(_ context.Context, _ int64, id string, trackIDs []string) error {
	f.added = append(f.added, trackIDs)
	for _, trackID := range trackIDs {
		f.playlists[id] = append(f.playlists[id], provider.Track{Service: f.service, ExternalID: trackID})
	}
	return nil
}

func (f *fakeAdapter) RemoveTracks(_ context.Context, _ int64, id string, trackIDs []string) error {
	f.removed = append(f.removed, trackIDs)
	drop := make(map[string]struct{}, len(trackIDs))
	for _, trackID := range trackIDs {
		drop[trackID] = struct{}{}
	}
	var kept []provider.Track
	for _, track := range f.playlists[id] {
		if _, gone := drop[track.ExternalID]; !gone {
			kept = append(kept, track)
		}
	}
	f.playlists[id] = kept
	return nil
}

// mapResolver resolves from a fixed table; absent keys are no-matches and
// keys in failures return that error.
type mapResolver struct {
	matches  map[string]string // source external id -> target external id
	failures map[string]error
}

func (m *mapResolver) Resolve(_ context.Context, track provider.Track, target provider.Service) (*songlink.Match, error) {
	if err, ok := m.failures[track.ExternalID]; ok {
		return nil, err
	}
	id, ok := m.matches[track.ExternalID]
	if !ok {
		return nil, songlink.ErrNoMatch
	}
	return &songlink.Match{Service: target, ExternalID: id}, nil
}

func setupEngine(t *testing.T, source, target *fakeAdapter, resolver Resolver) (*Engine, *journal.Repository) {
	t.Helper()
	dbs, err := db.Init(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { dbs.Close() })

	now := db.NowISO()
	_, err = dbs.Writer().Exec(
		`INSERT INTO users (username, password_hash, created_at, updated_at) VALUES ('tester', 'x', ?, ?)`, now, now)
	require.NoError(t, err)
	_, err = dbs.Writer().Exec(`
		INSERT INTO watchers (user_id, name, source_service, source_playlist_id, target_service, sync_frequency, created_at, updated_at)
		VALUES (1, 'mirror', ?, 'src', ?, 300, ?, ?)`,
		string(source.service), string(target.service), now, now)
	require.NoError(t, err)

	journalRepo := journal.NewRepository(dbs)
	engine := NewEngine(provider.NewRegistry(source, target), resolver, catalog.NewRepository(dbs), journalRepo, nil, nil)
	return engine, journalRepo
}

func track(svc provider.Service, id, title, artist string, durationMS int) provider.Track {
	return provider.Track{Service: svc, ExternalID: id, Title: title, Artist: artist, DurationMS: durationMS}
}

func baseRequest() Request {
	return Request{
		WatcherID:        1,
		UserID:           1,
		SourceService:    provider.ServiceSpotify,
		SourcePlaylistID: "src",
		TargetService:    provider.ServiceTidal,
		TargetPlaylistID: "dst",
		OpType:           journal.OpTypeManual,
	}
}

func TestRunAddsResolvedTracks(t *testing.T) {
	source := newFakeAdapter(provider.ServiceSpotify)
	source.playlists["src"] = []provider.Track{
		track(provider.ServiceSpotify, "s1", "One", "Artist", 201000),
		track(provider.ServiceSpotify, "s2", "Two", "Artist", 202000),
	}
	target := newFakeAdapter(provider.ServiceTidal)
	resolver := &mapResolver{matches: map[string]string{"s1": "t1", "s2": "t2"}}

	engine, _ := setupEngine(t, source, target, resolver)
	result, err := engine.Run(context.Background(), baseRequest())
	require.NoError(t, err)

	op := result.Operation
	require.Equal(t, journal.StatusCompleted, op.Status)
	require.Equal(t, 2, op.SongsAdded)
	require.Zero(t, op.SongsRemoved)
	require.Zero(t, op.SongsFailed)
	require.Equal(t, [][]string{{"t1", "t2"}}, target.added)
}

func TestRunIsIdempotent(t *testing.T) {
	source := newFakeAdapter(provider.ServiceSpotify)
	source.playlists["src"] = []provider.Track{
		track(provider.ServiceSpotify, "s1", "One", "Artist", 201000),
	}
	target := newFakeAdapter(provider.ServiceTidal)
	resolver := &mapResolver{matches: map[string]string{"s1": "t1"}}

	engine, _ := setupEngine(t, source, target, resolver)
	_, err := engine.Run(context.Background(), baseRequest())
	require.NoError(t, err)

	result, err := engine.Run(context.Background(), baseRequest())
	require.NoError(t, err)
	require.Equal(t, journal.StatusCompleted, result.Operation.Status)
	require.Zero(t, result.Operation.SongsAdded)
	require.Zero(t, result.Operation.SongsRemoved)
	require.Len(t, target.added, 1)
}

func TestRunRemovesVanishedTracks(t *testing.T) {
	source := newFakeAdapter(provider.ServiceSpotify)
	source.playlists["src"] = []provider.Track{
		track(provider.ServiceSpotify, "s1", "One", "Artist", 201000),
	}
	target := newFakeAdapter(provider.ServiceTidal)
	target.playlists["dst"] = []provider.Track{
		track(provider.ServiceTidal, "t1", "One", "Artist", 201000),
		track(provider.ServiceTidal, "t9", "Gone", "Artist", 180000),
	}
	resolver := &mapResolver{matches: map[string]string{"s1": "t1"}}

	engine, _ := setupEngine(t, source, target, resolver)
	result, err := engine.Run(context.Background(), baseRequest())
	require.NoError(t, err)

	require.Equal(t, 1, result.Operation.SongsRemoved)
	require.Equal(t, [][]string{{"t9"}}, target.removed)
	require.Zero(t, result.Operation.SongsAdded)
}

func TestRunCountsUnresolved(t *testing.T) {
	source := newFakeAdapter(provider.ServiceSpotify)
	source.playlists["src"] = []provider.Track{
		track(provider.ServiceSpotify, "s1", "One", "Artist", 201000),
		track(provider.ServiceSpotify, "s2", "Obscure", "Artist", 150000),
	}
	target := newFakeAdapter(provider.ServiceTidal)
	resolver := &mapResolver{matches: map[string]string{"s1": "t1"}}

	engine, _ := setupEngine(t, source, target, resolver)
	result, err := engine.Run(context.Background(), baseRequest())
	require.NoError(t, err)

	op := result.Operation
	require.Equal(t, journal.StatusCompletedWithErrors, op.Status)
	require.Equal(t, 1, op.SongsAdded)
	require.Equal(t, 1, op.SongsFailed)
	require.Contains(t, op.ErrorMessage, "Obscure")
}

func TestRunResolverOutageCostsTrackNotSync(t *testing.T) {
	source := newFakeAdapter(provider.ServiceSpotify)
	source.playlists["src"] = []provider.Track{
		track(provider.ServiceSpotify, "s1", "One", "Artist", 201000),
		track(provider.ServiceSpotify, "s2", "Two", "Artist", 202000),
	}
	target := newFakeAdapter(provider.ServiceTidal)
	resolver := &mapResolver{
		matches:  map[string]string{"s1": "t1"},
		failures: map[string]error{"s2": &provider.UpstreamError{StatusCode: 502, Message: "links API down"}},
	}

	engine, _ := setupEngine(t, source, target, resolver)
	result, err := engine.Run(context.Background(), baseRequest())
	require.NoError(t, err)

	op := result.Operation
	require.Equal(t, journal.StatusCompletedWithErrors, op.Status)
	require.Equal(t, 1, op.SongsAdded)
	require.Equal(t, 1, op.SongsFailed)
	require.Equal(t, [][]string{{"t1"}}, target.added)
}

func TestRunMetadataFallbackPreventsReadd(t *testing.T) {
	source := newFakeAdapter(provider.ServiceSpotify)
	source.playlists["src"] = []provider.Track{
		track(provider.ServiceSpotify, "s2", "Obscure", "Artist", 150000),
	}
	target := newFakeAdapter(provider.ServiceTidal)
	target.playlists["dst"] = []provider.Track{
		// Same song, slightly different duration, already on the target.
		track(provider.ServiceTidal, "t2", "obscure", "ARTIST", 150400),
	}
	resolver := &mapResolver{matches: map[string]string{}}

	engine, _ := setupEngine(t, source, target, resolver)
	result, err := engine.Run(context.Background(), baseRequest())
	require.NoError(t, err)

	op := result.Operation
	require.Equal(t, journal.StatusCompleted, op.Status)
	require.Zero(t, op.SongsAdded)
	require.Zero(t, op.SongsRemoved)
	require.Zero(t, op.SongsFailed)
}

func TestRunCreatesTargetPlaylist(t *testing.T) {
	source := newFakeAdapter(provider.ServiceSpotify)
	source.playlists["src"] = []provider.Track{
		track(provider.ServiceSpotify, "s1", "One", "Artist", 201000),
	}
	source.meta["src"] = provider.Playlist{Service: provider.ServiceSpotify, ExternalID: "src", Name: "Road Trip"}
	target := newFakeAdapter(provider.ServiceTidal)
	resolver := &mapResolver{matches: map[string]string{"s1": "t1"}}

	engine, _ := setupEngine(t, source, target, resolver)
	req := baseRequest()
	req.TargetPlaylistID = ""
	req.TargetName = ""

	result, err := engine.Run(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "created-1", result.CreatedTargetPlaylistID)
	require.Equal(t, "Road Trip", target.meta["created-1"].Name)
	require.Equal(t, 1, result.Operation.SongsAdded)
}

func TestRunHardFailureFailsOperation(t *testing.T) {
	source := newFakeAdapter(provider.ServiceSpotify)
	source.failWith = &provider.UpstreamError{StatusCode: 500, Message: "boom"}
	target := newFakeAdapter(provider.ServiceTidal)

	engine, journalRepo := setupEngine(t, source, target, &mapResolver{})
	result, err := engine.Run(context.Background(), baseRequest())
	require.Error(t, err)
	require.Equal(t, journal.StatusFailed, result.Operation.Status)

	latest, lookupErr := journalRepo.LatestForWatcher(context.Background(), 1)
	require.NoError(t, lookupErr)
	require.Equal(t, journal.StatusFailed, latest.Status)
	require.Contains(t, latest.ErrorMessage, "boom")
}

func TestDedupeFirstOccurrenceWins(t *testing.T) {
	tracks := []provider.Track{
		track(provider.ServiceSpotify, "s1", "One", "A", 1000),
		track(provider.ServiceSpotify, "s1", "One dup", "A", 1000),
		track(provider.ServiceSpotify, "", "Two", "B", 2000),
		track(provider.ServiceSpotify, "", "two", "b", 2400),
	}
	out := dedupe(tracks)
	require.Len(t, out, 2)
	require.Equal(t, "One", out[0].Title)
	require.Equal(t, "Two", out[1].Title)
}

func TestMetadataKeyFoldsCaseAndRoundsDuration(t *testing.T) {
	a := track(provider.ServiceSpotify, "x", "Song Title", "The Artist", 201400)
	b := track(provider.ServiceTidal, "y", "song title", "the artist", 201000)
	require.Equal(t, metadataKey(a), metadataKey(b))

	c := track(provider.ServiceTidal, "z", "song title", "the artist", 203000)
	require.NotEqual(t, metadataKey(a), metadataKey(c))
}

func TestMetadataKeyCollapsesWhitespace(t *testing.T) {
	a := track(provider.ServiceSpotify, "x", "Song  A", " The   Artist ", 201000)
	b := track(provider.ServiceTidal, "y", "Song A", "The Artist", 201000)
	require.Equal(t, metadataKey(a), metadataKey(b))
}
