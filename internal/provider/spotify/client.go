// Package spotify is the reference provider adapter, built on the Spotify
// Web API.
package spotify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/mthorsen/playlistwatch/internal/credentials"
	"github.com/mthorsen/playlistwatch/internal/provider"
)

const defaultAPIBase = "https://api.spotify.com/v1"

// client owns HTTP plumbing: bearer auth, the shared rate limiter, 429
// handling, and a single forced-refresh retry on 401.
type client struct {
	apiBase    string
	store      *credentials.Store
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *log.Logger
}

func newClient(store *credentials.Store, timeout time.Duration, logger *log.Logger) *client {
	return &client{
		apiBase:    defaultAPIBase,
		store:      store,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Every(100*time.Millisecond), 10),
		logger:     logger,
	}
}

// doJSON performs one authenticated API call and decodes the response into
// out (which may be nil). A 401 forces a token refresh and retries exactly
// once.
func (c *client) doJSON(ctx context.Context, userID int64, method, path string, body any, out any) error {
	token, err := c.store.AccessToken(ctx, userID, provider.ServiceSpotify)
	if err != nil {
		return err
	}

	status, respBody, err := c.doOnce(ctx, token, method, path, body)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized {
		token, err = c.store.ForceRefresh(ctx, userID, provider.ServiceSpotify, token)
		if err != nil {
			return err
		}
		status, respBody, err = c.doOnce(ctx, token, method, path, body)
		if err != nil {
			return err
		}
		if status == http.StatusUnauthorized {
			return credentials.ErrTokenExpired
		}
	}

	if err := c.checkStatus(status, respBody); err != nil {
		return err
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode spotify response: %w", err)
		}
	}
	return nil
}

func (c *client) doOnce(ctx context.Context, token, method, path string, body any) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, err
	}

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("encode spotify request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	url := path
	if !strings.HasPrefix(path, "http") {
		url = c.apiBase + path
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("build spotify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("spotify request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("read spotify response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := 5 * time.Second
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, err := strconv.Atoi(v); err == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return resp.StatusCode, respBody, &provider.RateLimitedError{RetryAfter: retryAfter}
	}
	return resp.StatusCode, respBody, nil
}

func (c *client) checkStatus(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	return &provider.UpstreamError{StatusCode: status, Message: apiErrorMessage(body)}
}

func apiErrorMessage(body []byte) string {
	var wrapper struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapper); err == nil && wrapper.Error.Message != "" {
		return wrapper.Error.Message
	}
	return strings.TrimSpace(string(body))
}
