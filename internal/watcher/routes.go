package watcher

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mthorsen/playlistwatch/internal/api"
	"github.com/mthorsen/playlistwatch/internal/apperrors"
	"github.com/mthorsen/playlistwatch/internal/auth"
	"github.com/mthorsen/playlistwatch/internal/provider"
	"github.com/mthorsen/playlistwatch/internal/syncengine"
)

// RegisterRoutes wires watcher CRUD and sync routes. All of them require a
// session.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodPost, "/v1/watchers", api.Handler(handleCreate(service)))
	router.Method(http.MethodGet, "/v1/watchers", api.Handler(handleList(service)))
	router.Method(http.MethodGet, "/v1/watchers/{id}", api.Handler(handleGet(service)))
	router.Method(http.MethodPatch, "/v1/watchers/{id}", api.Handler(handleUpdate(service)))
	router.Method(http.MethodDelete, "/v1/watchers/{id}", api.Handler(handleDelete(service)))
	router.Method(http.MethodPost, "/v1/watchers/{id}/activate", api.Handler(handleActivate(service)))
	router.Method(http.MethodPost, "/v1/watchers/{id}/deactivate", api.Handler(handleDeactivate(service)))
	router.Method(http.MethodPost, "/v1/watchers/{id}/sync", api.Handler(handleSyncNow(service)))
	router.Method(http.MethodGet, "/v1/watchers/{id}/preview", api.Handler(handlePreview(service)))
	router.Method(http.MethodGet, "/v1/watchers/{id}/operations", api.Handler(handleOperations(service)))
}

func actorAndID(r *http.Request) (userID, watcherID int64, err error) {
	actor, ok := auth.UserFromContext(r.Context())
	if !ok {
		return 0, 0, apperrors.NewUnauthorizedError("Missing authentication")
	}
	watcherID, parseErr := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if parseErr != nil || watcherID <= 0 {
		return 0, 0, apperrors.NewValidationError("invalid watcher id", nil)
	}
	return actor.ID, watcherID, nil
}

// mapError translates domain and provider errors into API errors.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return apperrors.NewNotFoundResource("watcher", "")
	case errors.Is(err, ErrNameTaken):
		return apperrors.NewConflictError("A watcher with that name already exists", nil)
	case syncengine.IsAuthError(err):
		return apperrors.NewUnauthorizedError("Service credentials are missing or expired", apperrors.ErrorCodeTokenExpired)
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

func handleCreate(service *Service) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		actor, ok := auth.UserFromContext(r.Context())
		if !ok {
			return apperrors.NewUnauthorizedError("Missing authentication")
		}
		var input CreateInput
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			return apperrors.NewValidationError("invalid request body", nil)
		}
		created, err := service.Create(r.Context(), actor.ID, input)
		if err != nil {
			if errors.Is(err, ErrNameTaken) {
				return mapError(err)
			}
			return apperrors.NewValidationError(err.Error(), nil)
		}
		return api.WriteResource(w, http.StatusCreated, created)
	}
}

func handleList(service *Service) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		actor, ok := auth.UserFromContext(r.Context())
		if !ok {
			return apperrors.NewUnauthorizedError("Missing authentication")
		}
		watchers, err := service.List(r.Context(), actor.ID)
		if err != nil {
			return mapError(err)
		}
		return api.WriteList(w, r.URL.Path, watchers, false)
	}
}

func handleGet(service *Service) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		userID, watcherID, err := actorAndID(r)
		if err != nil {
			return err
		}
		watcher, err := service.Get(r.Context(), watcherID, userID)
		if err != nil {
			return mapError(err)
		}
		return api.WriteResource(w, http.StatusOK, watcher)
	}
}

func handleUpdate(service *Service) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		userID, watcherID, err := actorAndID(r)
		if err != nil {
			return err
		}
		var input UpdateInput
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			return apperrors.NewValidationError("invalid request body", nil)
		}
		updated, err := service.Update(r.Context(), watcherID, userID, input)
		if err != nil {
			if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNameTaken) {
				return mapError(err)
			}
			return apperrors.NewValidationError(err.Error(), nil)
		}
		return api.WriteResource(w, http.StatusOK, updated)
	}
}

func handleDelete(service *Service) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		userID, watcherID, err := actorAndID(r)
		if err != nil {
			return err
		}
		if err := service.Delete(r.Context(), watcherID, userID); err != nil {
			return mapError(err)
		}
		return api.WriteJSON(w, http.StatusOK, map[string]any{
			"object":  "watcher",
			"id":      watcherID,
			"deleted": true,
		})
	}
}

func handleActivate(service *Service) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		userID, watcherID, err := actorAndID(r)
		if err != nil {
			return err
		}
		watcher, err := service.Activate(r.Context(), watcherID, userID)
		if err != nil {
			return mapError(err)
		}
		return api.WriteResource(w, http.StatusOK, watcher)
	}
}

func handleDeactivate(service *Service) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		userID, watcherID, err := actorAndID(r)
		if err != nil {
			return err
		}
		watcher, err := service.Deactivate(r.Context(), watcherID, userID)
		if err != nil {
			return mapError(err)
		}
		return api.WriteResource(w, http.StatusOK, watcher)
	}
}

func handleSyncNow(service *Service) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		userID, watcherID, err := actorAndID(r)
		if err != nil {
			return err
		}
		result, err := service.SyncNow(r.Context(), watcherID, userID)
		if err != nil {
			// The journal row still carries the failure; surface the API
			// error and let the client fetch the operation for detail.
			return mapError(err)
		}
		return api.WriteResource(w, http.StatusOK, result.Operation)
	}
}

func handlePreview(service *Service) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		userID, watcherID, err := actorAndID(r)
		if err != nil {
			return err
		}
		plan, err := service.Preview(r.Context(), watcherID, userID)
		if err != nil {
			return mapError(err)
		}
		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":       "sync_preview",
			"watcher_id":   watcherID,
			"source_total": plan.SourceTotal,
			"target_total": plan.TargetTotal,
			"to_add":       plan.ToAdd,
			"to_remove":    plan.ToRemove,
			"unresolved":   plan.Unresolved,
		})
	}
}

func handleOperations(service *Service) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		userID, watcherID, err := actorAndID(r)
		if err != nil {
			return err
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		ops, err := service.Operations(r.Context(), watcherID, userID, limit, offset)
		if err != nil {
			return mapError(err)
		}
		return api.WriteList(w, r.URL.Path, ops, len(ops) == limit && limit > 0)
	}
}
