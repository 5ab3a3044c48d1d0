// Package catalog persists every song and playlist the service encounters,
// keyed by (service, external_id). Rows are upserted as syncs observe them,
// so the tables grow into a cross-service index over time.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mthorsen/playlistwatch/internal/db"
	"github.com/mthorsen/playlistwatch/internal/provider"
)

// Song is a catalog row for one track on one service.
type Song struct {
	ID           int64            `json:"id"`
	Service      provider.Service `json:"service"`
	ExternalID   string           `json:"external_id"`
	Title        string           `json:"title"`
	Artist       string           `json:"artist,omitempty"`
	Album        string           `json:"album,omitempty"`
	DurationMS   int              `json:"duration_ms,omitempty"`
	SonglinkData json.RawMessage  `json:"songlink_data,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// Playlist is a catalog row for one playlist on one service.
type Playlist struct {
	ID          int64            `json:"id"`
	Service     provider.Service `json:"service"`
	ExternalID  string           `json:"external_id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	TotalTracks int              `json:"total_tracks"`
	Public      bool             `json:"public"`
	OwnerID     string           `json:"owner_id,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Repository persists catalog rows.
type Repository struct {
	dbs *db.DBPair
}

// NewRepository creates a catalog repository.
func NewRepository(dbs *db.DBPair) *Repository {
	return &Repository{dbs: dbs}
}

// UpsertSong inserts or refreshes a song row and returns its catalog id.
func (r *Repository) UpsertSong(ctx context.Context, track provider.Track) (int64, error) {
	now := db.NowISO()
	_, err := r.dbs.Writer().ExecContext(ctx, `
		INSERT INTO songs (service, external_id, title, artist, album, duration_ms, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(service, external_id) DO UPDATE SET
			title = excluded.title,
			artist = excluded.artist,
			album = excluded.album,
			duration_ms = excluded.duration_ms,
			updated_at = excluded.updated_at`,
		string(track.Service), track.ExternalID, track.Title, track.Artist, track.Album, track.DurationMS, now, now)
	if err != nil {
		return 0, fmt.Errorf("upsert song: %w", err)
	}
	var id int64
	err = r.dbs.Writer().QueryRowContext(ctx,
		`SELECT id FROM songs WHERE service = ? AND external_id = ?`,
		string(track.Service), track.ExternalID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("read song id: %w", err)
	}
	return id, nil
}

// SetSonglinkData attaches the raw links payload to a song row.
func (r *Repository) SetSonglinkData(ctx context.Context, songID int64, data json.RawMessage) error {
	_, err := r.dbs.Writer().ExecContext(ctx,
		`UPDATE songs SET songlink_data = ?, updated_at = ? WHERE id = ?`,
		string(data), db.NowISO(), songID)
	if err != nil {
		return fmt.Errorf("set songlink data: %w", err)
	}
	return nil
}

// GetSong returns a song by (service, external_id), or nil when unknown.
func (r *Repository) GetSong(ctx context.Context, service provider.Service, externalID string) (*Song, error) {
	row := r.dbs.Reader().QueryRowContext(ctx, `
		SELECT id, service, external_id, title, artist, album, duration_ms, COALESCE(songlink_data, ''), created_at
		FROM songs WHERE service = ? AND external_id = ?`,
		string(service), externalID)

	var song Song
	var svc, data, created string
	err := row.Scan(&song.ID, &svc, &song.ExternalID, &song.Title, &song.Artist, &song.Album, &song.DurationMS, &data, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan song: %w", err)
	}
	song.Service = provider.Service(svc)
	if data != "" {
		song.SonglinkData = json.RawMessage(data)
	}
	if t, err := time.Parse(time.RFC3339, created); err == nil {
		song.CreatedAt = t
	}
	return &song, nil
}

// UpsertPlaylist inserts or refreshes a playlist row and returns its id.
func (r *Repository) UpsertPlaylist(ctx context.Context, pl provider.Playlist) (int64, error) {
	now := db.NowISO()
	public := 0
	if pl.Public {
		public = 1
	}
	_, err := r.dbs.Writer().ExecContext(ctx, `
		INSERT INTO playlists (service, external_id, name, description, total_tracks, is_public, owner_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(service, external_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			total_tracks = excluded.total_tracks,
			is_public = excluded.is_public,
			owner_id = excluded.owner_id,
			updated_at = excluded.updated_at`,
		string(pl.Service), pl.ExternalID, pl.Name, pl.Description, pl.TotalTracks, public, pl.OwnerID, now, now)
	if err != nil {
		return 0, fmt.Errorf("upsert playlist: %w", err)
	}
	var id int64
	err = r.dbs.Writer().QueryRowContext(ctx,
		`SELECT id FROM playlists WHERE service = ? AND external_id = ?`,
		string(pl.Service), pl.ExternalID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("read playlist id: %w", err)
	}
	return id, nil
}

// ReplacePlaylistTracks rewrites a playlist's membership rows to match the
// given catalog song ids, in order.
func (r *Repository) ReplacePlaylistTracks(ctx context.Context, playlistID int64, songIDs []int64) error {
	tx, err := r.dbs.Writer().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin membership rewrite: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM playlist_songs WHERE playlist_id = ?`, playlistID); err != nil {
		return fmt.Errorf("clear playlist membership: %w", err)
	}
	now := db.NowISO()
	for position, songID := range songIDs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO playlist_songs (playlist_id, song_id, position, added_at) VALUES (?, ?, ?, ?)`,
			playlistID, songID, position, now)
		if err != nil {
			return fmt.Errorf("insert playlist membership: %w", err)
		}
	}
	return tx.Commit()
}

// PlaylistSongs returns a playlist's catalog songs in position order.
func (r *Repository) PlaylistSongs(ctx context.Context, playlistID int64) ([]*Song, error) {
	rows, err := r.dbs.Reader().QueryContext(ctx, `
		SELECT s.id, s.service, s.external_id, s.title, s.artist, s.album, s.duration_ms, COALESCE(s.songlink_data, ''), s.created_at
		FROM playlist_songs ps
		JOIN songs s ON s.id = ps.song_id
		WHERE ps.playlist_id = ?
		ORDER BY ps.position`,
		playlistID)
	if err != nil {
		return nil, fmt.Errorf("list playlist songs: %w", err)
	}
	defer rows.Close()

	var songs []*Song
	for rows.Next() {
		var song Song
		var svc, data, created string
		if err := rows.Scan(&song.ID, &svc, &song.ExternalID, &song.Title, &song.Artist, &song.Album, &song.DurationMS, &data, &created); err != nil {
			return nil, fmt.Errorf("scan playlist song: %w", err)
		}
		song.Service = provider.Service(svc)
		if data != "" {
			song.SonglinkData = json.RawMessage(data)
		}
		if t, err := time.Parse(time.RFC3339, created); err == nil {
			song.CreatedAt = t
		}
		songs = append(songs, &song)
	}
	return songs, rows.Err()
}
