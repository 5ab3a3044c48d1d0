package credentials

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mthorsen/playlistwatch/internal/db"
	"github.com/mthorsen/playlistwatch/internal/provider"
)

// Repository persists credential rows. Token columns hold sealed values;
// the store seals on the way in and opens on the way out.
type Repository struct {
	dbs *db.DBPair
}

// NewRepository creates a credential repository.
func NewRepository(dbs *db.DBPair) *Repository {
	return &Repository{dbs: dbs}
}

// Upsert inserts or replaces the credential for (user, service).
func (r *Repository) Upsert(ctx context.Context, cred *Credential) error {
	now := db.NowISO()
	expires := ""
	if !cred.ExpiresAt.IsZero() {
		expires = cred.ExpiresAt.UTC().Format(time.RFC3339)
	}
	result, err := r.dbs.Writer().ExecContext(ctx, `
		INSERT INTO user_credentials (user_id, service, access_token, refresh_token, expires_at, token_scope, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, service) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			token_scope = excluded.token_scope,
			updated_at = excluded.updated_at`,
		cred.UserID, string(cred.Service), cred.AccessToken, cred.RefreshToken, expires, cred.Scope, now, now)
	if err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		cred.ID = id
	}
	return nil
}

// UpdateTokens replaces only the token fields after a refresh.
func (r *Repository) UpdateTokens(ctx context.Context, userID int64, service provider.Service, accessToken, refreshToken string, expiresAt time.Time) error {
	expires := ""
	if !expiresAt.IsZero() {
		expires = expiresAt.UTC().Format(time.RFC3339)
	}
	_, err := r.dbs.Writer().ExecContext(ctx, `
		UPDATE user_credentials
		SET access_token = ?, refresh_token = ?, expires_at = ?, updated_at = ?
		WHERE user_id = ? AND service = ?`,
		accessToken, refreshToken, expires, db.NowISO(), userID, string(service))
	if err != nil {
		return fmt.Errorf("update tokens: %w", err)
	}
	return nil
}

// Get returns the stored credential or ErrNotLinked.
func (r *Repository) Get(ctx context.Context, userID int64, service provider.Service) (*Credential, error) {
	row := r.dbs.Reader().QueryRowContext(ctx, `
		SELECT id, user_id, service, access_token, refresh_token, expires_at, token_scope, created_at, updated_at
		FROM user_credentials
		WHERE user_id = ? AND service = ?`,
		userID, string(service))
	return scanCredential(row)
}

// ListForUser returns all credentials for a user, token fields included
// still sealed.
func (r *Repository) ListForUser(ctx context.Context, userID int64) ([]*Credential, error) {
	rows, err := r.dbs.Reader().QueryContext(ctx, `
		SELECT id, user_id, service, access_token, refresh_token, expires_at, token_scope, created_at, updated_at
		FROM user_credentials
		WHERE user_id = ?
		ORDER BY service`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var creds []*Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	return creds, rows.Err()
}

// Delete removes the credential for (user, service).
func (r *Repository) Delete(ctx context.Context, userID int64, service provider.Service) error {
	result, err := r.dbs.Writer().ExecContext(ctx,
		`DELETE FROM user_credentials WHERE user_id = ? AND service = ?`,
		userID, string(service))
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if affected == 0 {
		return ErrNotLinked
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (*Credential, error) {
	var cred Credential
	var service, expires, created, updated string
	err := row.Scan(&cred.ID, &cred.UserID, &service, &cred.AccessToken, &cred.RefreshToken, &expires, &cred.Scope, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, ErrNotLinked
	}
	if err != nil {
		return nil, fmt.Errorf("scan credential: %w", err)
	}
	cred.Service = provider.Service(service)
	if expires != "" {
		if t, err := time.Parse(time.RFC3339, expires); err == nil {
			cred.ExpiresAt = t
		}
	}
	if t, err := time.Parse(time.RFC3339, created); err == nil {
		cred.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updated); err == nil {
		cred.UpdatedAt = t
	}
	return &cred, nil
}
