// Package watcher owns playlist watchers: the per-user records that pair a
// source playlist with a target, and the scheduler that keeps each active
// watcher syncing on its period.
package watcher

import (
	"errors"
	"time"

	"github.com/mthorsen/playlistwatch/internal/provider"
)

var (
	// ErrNotFound means no watcher matched the id for that user.
	ErrNotFound = errors.New("watcher not found")

	// ErrNameTaken means the user already has a watcher with that name.
	ErrNameTaken = errors.New("watcher name already in use")
)

// Deactivation reasons written to the row when the scheduler turns a
// watcher off on its own.
const (
	ReasonQuarantined = "quarantined"
	ReasonCredentials = "credentials"
)

// Watcher is one configured playlist mirror.
type Watcher struct {
	ID                 int64            `json:"id"`
	UserID             int64            `json:"user_id"`
	Name               string           `json:"name"`
	SourceService      provider.Service `json:"source_service"`
	SourcePlaylistID   string           `json:"source_playlist_id"`
	TargetService      provider.Service `json:"target_service"`
	TargetPlaylistID   string           `json:"target_playlist_id,omitempty"`
	IsActive           bool             `json:"is_active"`
	SyncFrequencySec   int              `json:"sync_frequency_sec"`
	DeactivationReason string           `json:"deactivation_reason,omitempty"`
	LastSyncAt         *time.Time       `json:"last_sync_at,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// Period returns the sync interval, clamped to the configured floor.
func (w *Watcher) Period(minSec int) time.Duration {
	sec := w.SyncFrequencySec
	if sec < minSec {
		sec = minSec
	}
	return time.Duration(sec) * time.Second
}

// CreateInput is the payload for creating a watcher.
type CreateInput struct {
	Name             string           `json:"name"`
	SourceService    provider.Service `json:"source_service"`
	SourcePlaylistID string           `json:"source_playlist_id"`
	TargetService    provider.Service `json:"target_service"`
	TargetPlaylistID string           `json:"target_playlist_id,omitempty"`
	SyncFrequencySec int              `json:"sync_frequency_sec,omitempty"`
}

// UpdateInput is the payload for updating a watcher; nil fields keep their
// current value.
type UpdateInput struct {
	Name             *string `json:"name,omitempty"`
	SyncFrequencySec *int    `json:"sync_frequency_sec,omitempty"`
	TargetPlaylistID *string `json:"target_playlist_id,omitempty"`
}
