package songlink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mthorsen/playlistwatch/internal/provider"
)

// ErrNoMatch means the links API has no entry for the song on the requested
// service.
var ErrNoMatch = errors.New("no match on target service")

// Match is a successful cross-service resolution.
type Match struct {
	Service    provider.Service `json:"service"`
	ExternalID string           `json:"external_id"`
	URL        string           `json:"url"`
	Title      string           `json:"title,omitempty"`
	Artist     string           `json:"artist,omitempty"`
	PageURL    string           `json:"page_url,omitempty"`
	// Raw is the full links payload, kept so the catalog can store it.
	Raw json.RawMessage `json:"-"`
}

// trackURLs builds the canonical track page URL per service. The links API
// accepts any of these as the lookup url.
var trackURLs = map[provider.Service]string{
	provider.ServiceSpotify:      "https://open.spotify.com/track/%s",
	provider.ServiceAppleMusic:   "https://music.apple.com/us/song/%s",
	provider.ServiceYouTubeMusic: "https://music.youtube.com/watch?v=%s",
	provider.ServiceDeezer:       "https://www.deezer.com/track/%s",
	provider.ServiceTidal:        "https://tidal.com/browse/track/%s",
	provider.ServiceAmazonMusic:  "https://music.amazon.com/albums/%s",
}

// TrackURL returns the track's page URL on its home service.
func TrackURL(svc provider.Service, externalID string) (string, bool) {
	format, ok := trackURLs[svc]
	if !ok {
		return "", false
	}
	return fmt.Sprintf(format, externalID), true
}

type cacheEntry struct {
	match     *Match // nil for a cached miss
	expiresAt time.Time
}

// Resolver answers "what is this track's id on that service", caching
// positives for positiveTTL and misses for negativeTTL.
type Resolver struct {
	client      *Client
	logger      *log.Logger
	positiveTTL time.Duration
	negativeTTL time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewResolver creates a resolver over the links client.
func NewResolver(client *Client, positiveTTL, negativeTTL time.Duration, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.Default()
	}
	return &Resolver{
		client:      client,
		logger:      logger,
		positiveTTL: positiveTTL,
		negativeTTL: negativeTTL,
		cache:       make(map[string]cacheEntry),
	}
}

// Resolve maps a track to its identity on the target service. ErrNoMatch
// means the song does not exist there; that answer is cached too, with the
// shorter TTL so late catalog additions get picked up.
func (r *Resolver) Resolve(ctx context.Context, track provider.Track, target provider.Service) (*Match, error) {
	sourceURL := track.URL
	if sourceURL == "" {
		url, ok := TrackURL(track.Service, track.ExternalID)
		if !ok {
			return nil, fmt.Errorf("no track URL format for service %s", track.Service)
		}
		sourceURL = url
	}

	key := sourceURL + "|" + string(target)
	if match, found, hit := r.lookup(key); hit {
		if !found {
			return nil, ErrNoMatch
		}
		return match, nil
	}

	links, err := r.client.Links(ctx, sourceURL)
	if err == ErrNoMatch {
		r.store(key, nil, r.negativeTTL)
		return nil, ErrNoMatch
	}
	if err != nil {
		// Transient failures are not cached; the next sync retries.
		return nil, err
	}

	entity, link, ok := links.Entity(target)
	if !ok || entity == nil || entity.ID == "" {
		r.store(key, nil, r.negativeTTL)
		return nil, ErrNoMatch
	}

	raw, _ := json.Marshal(links)
	match := &Match{
		Service:    target,
		ExternalID: entity.ID,
		URL:        string(link.URL),
		Title:      entity.Title,
		Artist:     entity.ArtistName,
		PageURL:    string(links.PageURL),
		Raw:        raw,
	}
	r.store(key, match, r.positiveTTL)
	return match, nil
}

// Sweep drops expired entries; the maintenance scheduler calls it
// periodically.
func (r *Resolver) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	removed := 0
	for key, entry := range r.cache {
		if now.After(entry.expiresAt) {
			delete(r.cache, key)
			removed++
		}
	}
	return removed
}

// CacheSize returns the number of live entries, expired ones included.
func (r *Resolver) CacheSize() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

func (r *Resolver) lookup(key string) (match *Match, found, hit bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false, false
	}
	return entry.match, entry.match != nil, true
}

func (r *Resolver) store(key string, match *Match, ttl time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[key] = cacheEntry{match: match, expiresAt: time.Now().Add(ttl)}
}
