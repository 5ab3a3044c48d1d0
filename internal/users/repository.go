package users

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mthorsen/playlistwatch/internal/db"
)

// Repository persists user accounts.
type Repository struct {
	dbs *db.DBPair
}

// NewRepository creates a user repository.
func NewRepository(dbs *db.DBPair) *Repository {
	return &Repository{dbs: dbs}
}

// Create inserts a new user and returns the stored row.
func (r *Repository) Create(ctx context.Context, username, passwordHash string) (*User, error) {
	now := db.NowISO()
	result, err := r.dbs.Writer().ExecContext(ctx,
		`INSERT INTO users (username, password_hash, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		username, passwordHash, now, now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return r.GetByID(ctx, id)
}

// GetByID returns a user by id or ErrNotFound.
func (r *Repository) GetByID(ctx context.Context, id int64) (*User, error) {
	row := r.dbs.Reader().QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at, updated_at FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetByUsername returns a user by username or ErrNotFound.
func (r *Repository) GetByUsername(ctx context.Context, username string) (*User, error) {
	row := r.dbs.Reader().QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at, updated_at FROM users WHERE username = ?`, username)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*User, error) {
	var user User
	var created, updated string
	err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	if t, err := time.Parse(time.RFC3339, created); err == nil {
		user.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updated); err == nil {
		user.UpdatedAt = t
	}
	return &user, nil
}
