package spotify

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/mthorsen/playlistwatch/internal/credentials"
	"github.com/mthorsen/playlistwatch/internal/provider"
)

const (
	// pageLimit is Spotify's maximum page size for playlist reads.
	pageLimit = 100

	// playlistCacheTTL bounds how stale a cached playlist listing may be.
	playlistCacheTTL = 5 * time.Minute
)

// Adapter implements provider.Adapter against the Spotify Web API.
type Adapter struct {
	client *client
	logger *log.Logger

	mu            sync.Mutex
	playlistCache map[int64]cachedPlaylists
}

type cachedPlaylists struct {
	playlists []provider.Playlist
	fetchedAt time.Time
}

// New creates the Spotify adapter over the credential store.
func New(store *credentials.Store, timeout time.Duration, logger *log.Logger) *Adapter {
	if logger == nil {
		logger = log.Default()
	}
	return &Adapter{
		client:        newClient(store, timeout, logger),
		logger:        logger,
		playlistCache: make(map[int64]cachedPlaylists),
	}
}

// Service returns the adapter's service tag.
func (a *Adapter) Service() provider.Service {
	return provider.ServiceSpotify
}

// SetAPIBase overrides the API endpoint, used by tests.
func (a *Adapter) SetAPIBase(base string) {
	a.client.apiBase = base
}

// ListPlaylists returns the user's playlists, cached briefly per user so
// interactive listing does not hammer the API.
func (a *Adapter) ListPlaylists(ctx context.Context, userID int64) ([]provider.Playlist, error) {
	a.mu.Lock()
	if cached, ok := a.playlistCache[userID]; ok && time.Since(cached.fetchedAt) < playlistCacheTTL {
		playlists := cached.playlists
		a.mu.Unlock()
		return playlists, nil
	}
	a.mu.Unlock()

	var playlists []provider.Playlist
	path := fmt.Sprintf("/me/playlists?limit=%d", 50)
	for path != "" {
		var page playlistPage
		if err := a.client.doJSON(ctx, userID, "GET", path, nil, &page); err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			playlists = append(playlists, item.toPlaylist())
		}
		path = page.Next
	}

	a.mu.Lock()
	a.playlistCache[userID] = cachedPlaylists{playlists: playlists, fetchedAt: time.Now()}
	a.mu.Unlock()
	return playlists, nil
}

// GetPlaylist returns one playlist's metadata.
func (a *Adapter) GetPlaylist(ctx context.Context, userID int64, playlistID string) (*provider.Playlist, error) {
	if err := validateID("playlist", playlistID); err != nil {
		return nil, err
	}
	var item playlistItem
	if err := a.client.doJSON(ctx, userID, "GET", "/playlists/"+url.PathEscape(playlistID), nil, &item); err != nil {
		return nil, err
	}
	playlist := item.toPlaylist()
	return &playlist, nil
}

// GetPlaylistTracks reads the whole playlist in pages of 100.
func (a *Adapter) GetPlaylistTracks(ctx context.Context, userID int64, playlistID string) ([]provider.Track, error) {
	if err := validateID("playlist", playlistID); err != nil {
		return nil, err
	}
	var tracks []provider.Track
	path := fmt.Sprintf("/playlists/%s/tracks?limit=%d", url.PathEscape(playlistID), pageLimit)
	for path != "" {
		var page trackPage
		if err := a.client.doJSON(ctx, userID, "GET", path, nil, &page); err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			if item.Track.ID == "" {
				// Local files and removed episodes come back without ids.
				continue
			}
			tracks = append(tracks, item.Track.toTrack())
		}
		path = page.Next
	}
	return tracks, nil
}

// CreatePlaylist creates a playlist owned by the user.
func (a *Adapter) CreatePlaylist(ctx context.Context, userID int64, name, description string, public bool) (*provider.Playlist, error) {
	var profile struct {
		ID string `json:"id"`
	}
	if err := a.client.doJSON(ctx, userID, "GET", "/me", nil, &profile); err != nil {
		return nil, err
	}

	var item playlistItem
	body := map[string]any{
		"name":        name,
		"description": description,
		"public":      public,
	}
	if err := a.client.doJSON(ctx, userID, "POST", "/users/"+url.PathEscape(profile.ID)+"/playlists", body, &item); err != nil {
		return nil, err
	}
	a.invalidate(userID)
	playlist := item.toPlaylist()
	return &playlist, nil
}

// AddTracks appends tracks to the playlist. Callers chunk to 100; the
// adapter enforces it anyway.
func (a *Adapter) AddTracks(ctx context.Context, userID int64, playlistID string, trackIDs []string) error {
	if err := validateID("playlist", playlistID); err != nil {
		return err
	}
	for start := 0; start < len(trackIDs); start += pageLimit {
		end := start + pageLimit
		if end > len(trackIDs) {
			end = len(trackIDs)
		}
		body := map[string]any{"uris": trackURIs(trackIDs[start:end])}
		if err := a.client.doJSON(ctx, userID, "POST", "/playlists/"+url.PathEscape(playlistID)+"/tracks", body, nil); err != nil {
			return err
		}
	}
	return nil
}

// RemoveTracks removes all occurrences of the given tracks.
func (a *Adapter) RemoveTracks(ctx context.Context, userID int64, playlistID string, trackIDs []string) error {
	if err := validateID("playlist", playlistID); err != nil {
		return err
	}
	for start := 0; start < len(trackIDs); start += pageLimit {
		end := start + pageLimit
		if end > len(trackIDs) {
			end = len(trackIDs)
		}
		uris := trackURIs(trackIDs[start:end])
		items := make([]map[string]string, len(uris))
		for i, uri := range uris {
			items[i] = map[string]string{"uri": uri}
		}
		body := map[string]any{"tracks": items}
		if err := a.client.doJSON(ctx, userID, "DELETE", "/playlists/"+url.PathEscape(playlistID)+"/tracks", body, nil); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) invalidate(userID int64) {
	a.mu.Lock()
	delete(a.playlistCache, userID)
	a.mu.Unlock()
}

func trackURIs(ids []string) []string {
	uris := make([]string, len(ids))
	for i, id := range ids {
		uris[i] = "spotify:track:" + id
	}
	return uris
}

// validateID rejects ids that are not Spotify base62 before any API call.
func validateID(kind, id string) error {
	if id == "" || len(id) > 64 {
		return &provider.InvalidIDError{Kind: kind, ID: id}
	}
	for _, r := range id {
		if (r < '0' || r > '9') && (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return &provider.InvalidIDError{Kind: kind, ID: id}
		}
	}
	return nil
}
