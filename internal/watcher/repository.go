package watcher

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mthorsen/playlistwatch/internal/db"
	"github.com/mthorsen/playlistwatch/internal/provider"
)

const watcherColumns = `id, user_id, name, source_service, source_playlist_id, target_service,
	COALESCE(target_playlist_id, ''), is_active, sync_frequency, COALESCE(deactivation_reason, ''),
	last_sync_at, created_at, updated_at`

// Repository persists watcher rows.
type Repository struct {
	dbs *db.DBPair
}

// NewRepository creates a watcher repository.
func NewRepository(dbs *db.DBPair) *Repository {
	return &Repository{dbs: dbs}
}

// Create inserts a watcher and returns the stored row.
func (r *Repository) Create(ctx context.Context, w *Watcher) (*Watcher, error) {
	now := db.NowISO()
	result, err := r.dbs.Writer().ExecContext(ctx, `
		INSERT INTO watchers (user_id, name, source_service, source_playlist_id, target_service,
			target_playlist_id, is_active, sync_frequency, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?, ?)`,
		w.UserID, w.Name, string(w.SourceService), w.SourcePlaylistID, string(w.TargetService),
		nullableStr(w.TargetPlaylistID), w.SyncFrequencySec, now, now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, ErrNameTaken
		}
		return nil, fmt.Errorf("insert watcher: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert watcher: %w", err)
	}
	return r.GetByID(ctx, id)
}

// GetByID returns a watcher or ErrNotFound.
func (r *Repository) GetByID(ctx context.Context, id int64) (*Watcher, error) {
	row := r.dbs.Reader().QueryRowContext(ctx,
		`SELECT `+watcherColumns+` FROM watchers WHERE id = ?`, id)
	return scanWatcher(row)
}

// GetForUser returns a watcher only when it belongs to the user.
func (r *Repository) GetForUser(ctx context.Context, id, userID int64) (*Watcher, error) {
	row := r.dbs.Reader().QueryRowContext(ctx,
		`SELECT `+watcherColumns+` FROM watchers WHERE id = ? AND user_id = ?`, id, userID)
	return scanWatcher(row)
}

// ListByUser returns the user's watchers, oldest first.
func (r *Repository) ListByUser(ctx context.Context, userID int64) ([]*Watcher, error) {
	return r.list(ctx, `SELECT `+watcherColumns+` FROM watchers WHERE user_id = ? ORDER BY id`, userID)
}

// ListActive returns every active watcher across all users.
func (r *Repository) ListActive(ctx context.Context) ([]*Watcher, error) {
	return r.list(ctx, `SELECT `+watcherColumns+` FROM watchers WHERE is_active = 1 ORDER BY id`)
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]*Watcher, error) {
	rows, err := r.dbs.Reader().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list watchers: %w", err)
	}
	defer rows.Close()

	var watchers []*Watcher
	for rows.Next() {
		w, err := scanWatcher(rows)
		if err != nil {
			return nil, err
		}
		watchers = append(watchers, w)
	}
	return watchers, rows.Err()
}

// Update applies the non-nil fields and returns the fresh row.
func (r *Repository) Update(ctx context.Context, id, userID int64, input UpdateInput) (*Watcher, error) {
	sets := []string{"updated_at = ?"}
	args := []any{db.NowISO()}
	if input.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *input.Name)
	}
	if input.SyncFrequencySec != nil {
		sets = append(sets, "sync_frequency = ?")
		args = append(args, *input.SyncFrequencySec)
	}
	if input.TargetPlaylistID != nil {
		sets = append(sets, "target_playlist_id = ?")
		args = append(args, nullableStr(*input.TargetPlaylistID))
	}
	args = append(args, id, userID)

	result, err := r.dbs.Writer().ExecContext(ctx,
		`UPDATE watchers SET `+strings.Join(sets, ", ")+` WHERE id = ? AND user_id = ?`, args...)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, ErrNameTaken
		}
		return nil, fmt.Errorf("update watcher: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update watcher: %w", err)
	}
	if affected == 0 {
		return nil, ErrNotFound
	}
	return r.GetForUser(ctx, id, userID)
}

// SetActive flips activation. The reason is recorded on deactivation and
// cleared on reactivation.
func (r *Repository) SetActive(ctx context.Context, id int64, active bool, reason string) error {
	activeVal := 0
	if active {
		activeVal = 1
		reason = ""
	}
	result, err := r.dbs.Writer().ExecContext(ctx,
		`UPDATE watchers SET is_active = ?, deactivation_reason = ?, updated_at = ? WHERE id = ?`,
		activeVal, nullableStr(reason), db.NowISO(), id)
	if err != nil {
		return fmt.Errorf("set watcher active: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set watcher active: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetTargetPlaylistID records a target playlist created during a sync.
func (r *Repository) SetTargetPlaylistID(ctx context.Context, id int64, playlistID string) error {
	_, err := r.dbs.Writer().ExecContext(ctx,
		`UPDATE watchers SET target_playlist_id = ?, updated_at = ? WHERE id = ?`,
		playlistID, db.NowISO(), id)
	if err != nil {
		return fmt.Errorf("set target playlist: %w", err)
	}
	return nil
}

// TouchLastSync records a completed sync at full timestamp precision.
func (r *Repository) TouchLastSync(ctx context.Context, id int64, at time.Time) error {
	_, err := r.dbs.Writer().ExecContext(ctx,
		`UPDATE watchers SET last_sync_at = ?, updated_at = ? WHERE id = ?`,
		at.UTC().Format(time.RFC3339Nano), db.NowISO(), id)
	if err != nil {
		return fmt.Errorf("touch last sync: %w", err)
	}
	return nil
}

// Delete removes the watcher and, through foreign keys, its journal rows.
func (r *Repository) Delete(ctx context.Context, id, userID int64) error {
	result, err := r.dbs.Writer().ExecContext(ctx,
		`DELETE FROM watchers WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete watcher: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete watcher: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWatcher(row rowScanner) (*Watcher, error) {
	var w Watcher
	var sourceSvc, targetSvc string
	var isActive int
	var lastSync sql.NullString
	var created, updated string
	err := row.Scan(&w.ID, &w.UserID, &w.Name, &sourceSvc, &w.SourcePlaylistID, &targetSvc,
		&w.TargetPlaylistID, &isActive, &w.SyncFrequencySec, &w.DeactivationReason,
		&lastSync, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan watcher: %w", err)
	}
	w.SourceService = provider.Service(sourceSvc)
	w.TargetService = provider.Service(targetSvc)
	w.IsActive = isActive != 0
	if lastSync.Valid && lastSync.String != "" {
		if t, err := time.Parse(time.RFC3339Nano, lastSync.String); err == nil {
			w.LastSyncAt = &t
		}
	}
	if t, err := time.Parse(time.RFC3339, created); err == nil {
		w.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updated); err == nil {
		w.UpdatedAt = t
	}
	return &w, nil
}

func nullableStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
