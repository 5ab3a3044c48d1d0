package oauthflow

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mthorsen/playlistwatch/internal/api"
	"github.com/mthorsen/playlistwatch/internal/apperrors"
	"github.com/mthorsen/playlistwatch/internal/auth"
	"github.com/mthorsen/playlistwatch/internal/credentials"
	"github.com/mthorsen/playlistwatch/internal/provider"
)

// RegisterRoutes wires service-linking routes. The callback route is public;
// everything else requires a session.
func RegisterRoutes(router chi.Router, service *Service, store *credentials.Store) {
	router.Method(http.MethodGet, "/v1/services", api.Handler(handleListServices(service, store)))
	router.Method(http.MethodPost, "/v1/services/{service}/connect", api.Handler(handleConnect(service)))
	router.Method(http.MethodGet, "/v1/services/callback", api.Handler(handleCallback(service)))
	router.Method(http.MethodDelete, "/v1/services/{service}", api.Handler(handleDisconnect(store)))
}

func handleListServices(service *Service, store *credentials.Store) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		actor, ok := auth.UserFromContext(r.Context())
		if !ok {
			return apperrors.NewUnauthorizedError("Missing authentication")
		}
		var linkable []provider.Service
		for _, svc := range []provider.Service{
			provider.ServiceSpotify,
			provider.ServiceAppleMusic,
			provider.ServiceYouTubeMusic,
			provider.ServiceDeezer,
			provider.ServiceTidal,
			provider.ServiceAmazonMusic,
		} {
			if service.Linkable(svc) {
				linkable = append(linkable, svc)
			}
		}
		statuses, err := store.StatusForUser(r.Context(), actor.ID, linkable)
		if err != nil {
			return apperrors.NewInternalError("Failed to load service status")
		}
		return api.WriteList(w, r.URL.Path, statuses, false)
	}
}

func handleConnect(service *Service) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		actor, ok := auth.UserFromContext(r.Context())
		if !ok {
			return apperrors.NewUnauthorizedError("Missing authentication")
		}
		svc := provider.Service(chi.URLParam(r, "service"))
		if !svc.Known() {
			return apperrors.NewValidationError("unknown service", map[string]any{"service": string(svc)})
		}
		authURL, err := service.Begin(actor.ID, svc)
		if err != nil {
			return err
		}
		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":            "authorization_request",
			"service":           svc,
			"authorization_url": authURL,
		})
	}
}

func handleCallback(service *Service) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		query := r.URL.Query()
		if upstreamErr := query.Get("error"); upstreamErr != "" {
			return apperrors.NewUnauthorizedError("Authorization was denied: "+upstreamErr, apperrors.ErrorCodeAuthFailed)
		}
		state := query.Get("state")
		code := query.Get("code")
		if state == "" || code == "" {
			return apperrors.NewValidationError("state and code are required", nil)
		}
		svc, err := service.Complete(r.Context(), state, code)
		if err != nil {
			return err
		}
		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":  "service_connection",
			"service": svc,
			"status":  "connected",
		})
	}
}

func handleDisconnect(store *credentials.Store) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		actor, ok := auth.UserFromContext(r.Context())
		if !ok {
			return apperrors.NewUnauthorizedError("Missing authentication")
		}
		svc := provider.Service(chi.URLParam(r, "service"))
		if !svc.Known() {
			return apperrors.NewValidationError("unknown service", map[string]any{"service": string(svc)})
		}
		if err := store.Disconnect(r.Context(), actor.ID, svc); err != nil {
			if err == credentials.ErrNotLinked {
				return apperrors.NewNotLinkedError(string(svc))
			}
			return apperrors.NewInternalError("Failed to disconnect service")
		}
		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":  "service_connection",
			"service": svc,
			"status":  "disconnected",
		})
	}
}
