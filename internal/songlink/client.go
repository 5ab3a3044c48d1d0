// Package songlink resolves a track's identity on other streaming services
// through the song.link (Odesli) links API, with an in-memory cache in
// front of it.
package songlink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/mthorsen/playlistwatch/internal/provider"
)

const defaultBaseURL = "https://api.song.link/v1-alpha.1"

// defaultCountry is sent as userCountry on every lookup.
const defaultCountry = "US"

// APIURL wraps a URL string whose JSON form is sometimes wrapped in angle
// brackets by the upstream API.
type APIURL string

func (u *APIURL) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "<")
	raw = strings.TrimSuffix(raw, ">")
	*u = APIURL(raw)
	return nil
}

// LinksResponse is the links API payload, camelCase as the API sends it.
type LinksResponse struct {
	EntityUniqueID     string                    `json:"entityUniqueId"`
	UserCountry        string                    `json:"userCountry"`
	PageURL            APIURL                    `json:"pageUrl"`
	LinksByPlatform    map[string]PlatformLink   `json:"linksByPlatform"`
	EntitiesByUniqueID map[string]PlatformEntity `json:"entitiesByUniqueId"`
}

// PlatformLink is one platform's entry in linksByPlatform.
type PlatformLink struct {
	EntityUniqueID      string `json:"entityUniqueId"`
	URL                 APIURL `json:"url"`
	NativeAppURIMobile  APIURL `json:"nativeAppUriMobile,omitempty"`
	NativeAppURIDesktop APIURL `json:"nativeAppUriDesktop,omitempty"`
}

// PlatformEntity is one entry in entitiesByUniqueId.
type PlatformEntity struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Title        string `json:"title"`
	ArtistName   string `json:"artistName"`
	ThumbnailURL APIURL `json:"thumbnailUrl"`
	APIProvider  string `json:"apiProvider"`
	Platforms    []string `json:"platforms"`
}

// platformNames maps service tags to the API's platform keys.
var platformNames = map[provider.Service]string{
	provider.ServiceSpotify:      "spotify",
	provider.ServiceAppleMusic:   "appleMusic",
	provider.ServiceYouTubeMusic: "youtubeMusic",
	provider.ServiceDeezer:       "deezer",
	provider.ServiceTidal:        "tidal",
	provider.ServiceAmazonMusic:  "amazonMusic",
}

// PlatformName returns the API's key for a service tag.
func PlatformName(svc provider.Service) (string, bool) {
	name, ok := platformNames[svc]
	return name, ok
}

// Client calls the links API. An API key is optional; without one the API
// allows roughly 10 requests a minute, so the limiter defaults accordingly.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *log.Logger
}

// NewClient creates a links API client.
func NewClient(apiKey string, timeout time.Duration, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.Default()
	}
	// Keyed access gets a comfortable margin; anonymous access stays under
	// the documented 10/minute.
	limit := rate.Every(6 * time.Second)
	burst := 1
	if apiKey != "" {
		limit = rate.Every(100 * time.Millisecond)
		burst = 10
	}
	return &Client{
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger,
	}
}

// SetBaseURL overrides the API endpoint, used by tests.
func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = strings.TrimRight(baseURL, "/")
}

// Links looks up every known platform's identity for the song at sourceURL.
func (c *Client) Links(ctx context.Context, sourceURL string) (*LinksResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("url", sourceURL)
	params.Set("userCountry", defaultCountry)
	params.Set("songIfSingle", "true")
	if c.apiKey != "" {
		params.Set("key", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/links?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build links request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("links request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read links response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := time.Minute
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, err := strconv.Atoi(v); err == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return nil, &provider.RateLimitedError{RetryAfter: retryAfter}
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNoMatch
	case resp.StatusCode != http.StatusOK:
		return nil, &provider.UpstreamError{
			StatusCode: resp.StatusCode,
			Message:    "links API: " + strings.TrimSpace(string(body)),
		}
	}

	var links LinksResponse
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&links); err != nil {
		return nil, fmt.Errorf("decode links response: %w", err)
	}
	return &links, nil
}

// Entity returns the platform entity a service resolves to, if the song
// exists there.
func (r *LinksResponse) Entity(svc provider.Service) (*PlatformEntity, *PlatformLink, bool) {
	name, ok := platformNames[svc]
	if !ok {
		return nil, nil, false
	}
	link, ok := r.LinksByPlatform[name]
	if !ok {
		return nil, nil, false
	}
	entity, ok := r.EntitiesByUniqueID[link.EntityUniqueID]
	if !ok {
		return nil, &link, true
	}
	return &entity, &link, true
}
