package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mthorsen/playlistwatch/internal/db"
)

// Repository persists journal rows.
type Repository struct {
	dbs *db.DBPair
}

// NewRepository creates a journal repository.
func NewRepository(dbs *db.DBPair) *Repository {
	return &Repository{dbs: dbs}
}

// Begin inserts a pending operation and returns it.
func (r *Repository) Begin(ctx context.Context, watcherID int64, opType OperationType) (*Operation, error) {
	started := db.NowISO()
	result, err := r.dbs.Writer().ExecContext(ctx,
		`INSERT INTO sync_operations (watcher_id, operation_type, status, started_at) VALUES (?, ?, ?, ?)`,
		watcherID, string(opType), string(StatusPending), started)
	if err != nil {
		return nil, fmt.Errorf("begin operation: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("begin operation: %w", err)
	}
	return r.GetByID(ctx, id)
}

// Finish writes the terminal status and counts for a pending operation.
// A row that is already terminal is left untouched and ErrAlreadyFinished
// is returned, so history cannot be rewritten.
func (r *Repository) Finish(ctx context.Context, id int64, status Status, outcome Outcome) error {
	if !status.Terminal() {
		return fmt.Errorf("finish requires a terminal status, got %q", status)
	}
	result, err := r.dbs.Writer().ExecContext(ctx, `
		UPDATE sync_operations
		SET status = ?, songs_added = ?, songs_removed = ?, songs_failed = ?, error_message = ?, completed_at = ?
		WHERE id = ? AND status = ?`,
		string(status), outcome.SongsAdded, outcome.SongsRemoved, outcome.SongsFailed,
		nullable(outcome.ErrorMessage), db.NowISO(), id, string(StatusPending))
	if err != nil {
		return fmt.Errorf("finish operation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish operation: %w", err)
	}
	if affected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrAlreadyFinished
	}
	return nil
}

// GetByID returns one operation or ErrNotFound.
func (r *Repository) GetByID(ctx context.Context, id int64) (*Operation, error) {
	row := r.dbs.Reader().QueryRowContext(ctx, `
		SELECT id, watcher_id, operation_type, status, songs_added, songs_removed, songs_failed,
		       COALESCE(error_message, ''), started_at, completed_at
		FROM sync_operations WHERE id = ?`, id)
	op, err := scanOperation(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return op, err
}

// ListByWatcher returns a watcher's operations, newest first.
func (r *Repository) ListByWatcher(ctx context.Context, watcherID int64, limit, offset int) ([]*Operation, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.dbs.Reader().QueryContext(ctx, `
		SELECT id, watcher_id, operation_type, status, songs_added, songs_removed, songs_failed,
		       COALESCE(error_message, ''), started_at, completed_at
		FROM sync_operations
		WHERE watcher_id = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ? OFFSET ?`,
		watcherID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()

	var ops []*Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// LatestForWatcher returns the most recent operation, or nil when the
// watcher has never synced.
func (r *Repository) LatestForWatcher(ctx context.Context, watcherID int64) (*Operation, error) {
	ops, err := r.ListByWatcher(ctx, watcherID, 1, 0)
	if err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, nil
	}
	return ops[0], nil
}

// ReapOrphans marks every pending row as failed with an interrupted
// message. Called once at boot; any pending row at that point belonged to
// a previous process.
func (r *Repository) ReapOrphans(ctx context.Context) (int64, error) {
	result, err := r.dbs.Writer().ExecContext(ctx, `
		UPDATE sync_operations
		SET status = ?, error_message = ?, completed_at = ?
		WHERE status = ?`,
		string(StatusFailed), "interrupted", db.NowISO(), string(StatusPending))
	if err != nil {
		return 0, fmt.Errorf("reap orphans: %w", err)
	}
	return result.RowsAffected()
}

// Prune deletes terminal rows older than the cutoff and returns how many
// were removed. Pending rows are never pruned.
func (r *Repository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.dbs.Writer().ExecContext(ctx, `
		DELETE FROM sync_operations
		WHERE status != ? AND started_at < ?`,
		string(StatusPending), cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("prune operations: %w", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperation(row rowScanner) (*Operation, error) {
	var op Operation
	var opType, status, started string
	var completed sql.NullString
	err := row.Scan(&op.ID, &op.WatcherID, &opType, &status, &op.SongsAdded, &op.SongsRemoved,
		&op.SongsFailed, &op.ErrorMessage, &started, &completed)
	if err != nil {
		return nil, err
	}
	op.Type = OperationType(opType)
	op.Status = Status(status)
	if t, err := time.Parse(time.RFC3339, started); err == nil {
		op.StartedAt = t
	}
	if completed.Valid && completed.String != "" {
		if t, err := time.Parse(time.RFC3339, completed.String); err == nil {
			op.CompletedAt = &t
		}
	}
	return &op, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
