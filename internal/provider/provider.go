// Package provider defines the capability contract every music service
// adapter implements, plus the canonical track and playlist shapes the sync
// engine works with. Spotify is the reference adapter; the interface is what
// keeps the engine free of any one provider's types.
package provider

import (
	"context"
	"fmt"
	"time"
)

// Service identifies a streaming provider.
type Service string

const (
	ServiceSpotify      Service = "spotify"
	ServiceAppleMusic   Service = "apple_music"
	ServiceYouTubeMusic Service = "youtube_music"
	ServiceDeezer       Service = "deezer"
	ServiceTidal        Service = "tidal"
	ServiceAmazonMusic  Service = "amazon_music"
)

// Known reports whether the tag names a service this build understands.
func (s Service) Known() bool {
	switch s {
	case ServiceSpotify, ServiceAppleMusic, ServiceYouTubeMusic, ServiceDeezer, ServiceTidal, ServiceAmazonMusic:
		return true
	}
	return false
}

// Track is the canonical record of a song as seen on one service.
type Track struct {
	Service    Service `json:"service"`
	ExternalID string  `json:"external_id"`
	Title      string  `json:"title"`
	Artist     string  `json:"artist,omitempty"`
	Album      string  `json:"album,omitempty"`
	DurationMS int     `json:"duration_ms,omitempty"`
	URL        string  `json:"url,omitempty"` // canonical page URL on the service
}

// Playlist is a provider playlist's metadata.
type Playlist struct {
	Service     Service `json:"service"`
	ExternalID  string  `json:"external_id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	TotalTracks int     `json:"total_tracks"`
	Public      bool    `json:"public"`
	OwnerID     string  `json:"owner_id,omitempty"`
}

// Adapter is the per-service capability contract. Implementations pull the
// owning user's token from the credential store on every call, refresh once
// on an auth-expiry error, and retry exactly once before surfacing failure.
type Adapter interface {
	Service() Service

	// ListPlaylists returns the user's playlists, paginating internally.
	ListPlaylists(ctx context.Context, userID int64) ([]Playlist, error)

	// GetPlaylist returns playlist metadata.
	GetPlaylist(ctx context.Context, userID int64, playlistID string) (*Playlist, error)

	// GetPlaylistTracks returns the playlist's tracks in order, paginating
	// internally until the playlist is fully read.
	GetPlaylistTracks(ctx context.Context, userID int64, playlistID string) ([]Track, error)

	// CreatePlaylist creates a new playlist owned by the user.
	CreatePlaylist(ctx context.Context, userID int64, name, description string, public bool) (*Playlist, error)

	// AddTracks adds tracks by external id, chunking to the provider's batch
	// limit internally.
	AddTracks(ctx context.Context, userID int64, playlistID string, trackIDs []string) error

	// RemoveTracks removes all occurrences of the given tracks, chunked the
	// same way as AddTracks.
	RemoveTracks(ctx context.Context, userID int64, playlistID string, trackIDs []string) error
}

// Registry maps service tags to adapters.
type Registry struct {
	adapters map[Service]Adapter
}

// NewRegistry builds a registry from the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	reg := &Registry{adapters: make(map[Service]Adapter, len(adapters))}
	for _, a := range adapters {
		reg.adapters[a.Service()] = a
	}
	return reg
}

// Lookup returns the adapter for a service.
func (r *Registry) Lookup(service Service) (Adapter, error) {
	adapter, ok := r.adapters[service]
	if !ok {
		return nil, &UnsupportedServiceError{Service: service}
	}
	return adapter, nil
}

// Services returns the registered service tags.
func (r *Registry) Services() []Service {
	services := make([]Service, 0, len(r.adapters))
	for s := range r.adapters {
		services = append(services, s)
	}
	return services
}

// ==========================================================================
// Error Types
// ==========================================================================

// RateLimitedError is returned when the provider asks the caller to back off.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// UpstreamError wraps a non-auth provider API failure.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error (status %d): %s", e.StatusCode, e.Message)
}

// Transient reports whether the failure is worth retrying with backoff.
func (e *UpstreamError) Transient() bool {
	return e.StatusCode >= 500
}

// InvalidIDError is returned for malformed playlist or track ids.
type InvalidIDError struct {
	Kind string
	ID   string
}

func (e *InvalidIDError) Error() string {
	return fmt.Sprintf("invalid %s id: %s", e.Kind, e.ID)
}

// UnsupportedServiceError is returned when no adapter is registered for a tag.
type UnsupportedServiceError struct {
	Service Service
}

func (e *UnsupportedServiceError) Error() string {
	return fmt.Sprintf("unsupported service: %s", e.Service)
}
