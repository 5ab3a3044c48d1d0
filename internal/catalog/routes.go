package catalog

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mthorsen/playlistwatch/internal/api"
	"github.com/mthorsen/playlistwatch/internal/apperrors"
	"github.com/mthorsen/playlistwatch/internal/auth"
	"github.com/mthorsen/playlistwatch/internal/credentials"
	"github.com/mthorsen/playlistwatch/internal/provider"
)

// RegisterRoutes wires playlist browsing (live, through the adapters) and
// catalog lookups.
func RegisterRoutes(router chi.Router, registry *provider.Registry, repo *Repository) {
	router.Method(http.MethodGet, "/v1/services/{service}/playlists", api.Handler(handleListPlaylists(registry)))
	router.Method(http.MethodGet, "/v1/services/{service}/playlists/{playlistID}/tracks", api.Handler(handleListTracks(registry)))
	router.Method(http.MethodGet, "/v1/catalog/playlists/{id}/songs", api.Handler(handleCatalogSongs(repo)))
}

func adapterFor(r *http.Request, registry *provider.Registry) (provider.Adapter, int64, error) {
	actor, ok := auth.UserFromContext(r.Context())
	if !ok {
		return nil, 0, apperrors.NewUnauthorizedError("Missing authentication")
	}
	svc := provider.Service(chi.URLParam(r, "service"))
	adapter, err := registry.Lookup(svc)
	if err != nil {
		return nil, 0, apperrors.NewValidationError("unsupported service", map[string]any{"service": string(svc)})
	}
	return adapter, actor.ID, nil
}

func mapProviderError(r *http.Request, err error) error {
	svc := chi.URLParam(r, "service")
	switch {
	case errors.Is(err, credentials.ErrNotLinked):
		return apperrors.NewNotLinkedError(svc)
	case errors.Is(err, credentials.ErrTokenExpired), errors.Is(err, credentials.ErrAuthenticationFailed):
		return apperrors.NewUnauthorizedError("Stored credentials are no longer valid; reconnect the service", apperrors.ErrorCodeTokenExpired)
	}
	var rateErr *provider.RateLimitedError
	if errors.As(err, &rateErr) {
		return apperrors.NewRateLimitError("The streaming service is rate limiting; try again later")
	}
	var upstreamErr *provider.UpstreamError
	if errors.As(err, &upstreamErr) {
		return apperrors.NewUpstreamUnavailableError("The streaming service returned an error: " + upstreamErr.Message)
	}
	var idErr *provider.InvalidIDError
	if errors.As(err, &idErr) {
		return apperrors.NewValidationError(idErr.Error(), nil)
	}
	return err
}

func handleListPlaylists(registry *provider.Registry) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		adapter, userID, err := adapterFor(r, registry)
		if err != nil {
			return err
		}
		playlists, err := adapter.ListPlaylists(r.Context(), userID)
		if err != nil {
			return mapProviderError(r, err)
		}
		return api.WriteList(w, r.URL.Path, playlists, false)
	}
}

func handleListTracks(registry *provider.Registry) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		adapter, userID, err := adapterFor(r, registry)
		if err != nil {
			return err
		}
		tracks, err := adapter.GetPlaylistTracks(r.Context(), userID, chi.URLParam(r, "playlistID"))
		if err != nil {
			return mapProviderError(r, err)
		}
		return api.WriteList(w, r.URL.Path, tracks, false)
	}
}

func handleCatalogSongs(repo *Repository) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		if _, ok := auth.UserFromContext(r.Context()); !ok {
			return apperrors.NewUnauthorizedError("Missing authentication")
		}
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil || id <= 0 {
			return apperrors.NewValidationError("invalid playlist id", nil)
		}
		songs, listErr := repo.PlaylistSongs(r.Context(), id)
		if listErr != nil {
			return apperrors.NewInternalError("Failed to read catalog")
		}
		return api.WriteList(w, r.URL.Path, songs, false)
	}
}
