package users

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mthorsen/playlistwatch/internal/api"
	"github.com/mthorsen/playlistwatch/internal/apperrors"
	"github.com/mthorsen/playlistwatch/internal/auth"
	"github.com/mthorsen/playlistwatch/internal/config"
)

// RegisterRoutes wires account routes to the router.
func RegisterRoutes(router chi.Router, service *Service, cfg config.Config) {
	router.Method(http.MethodPost, "/v1/auth/register", api.Handler(handleRegister(service, cfg)))
	router.Method(http.MethodPost, "/v1/auth/login", api.Handler(handleLogin(service, cfg)))
	router.Method(http.MethodGet, "/v1/me", api.Handler(handleMe(service)))
}

type credentialsBody struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func decodeCredentials(r *http.Request) (credentialsBody, error) {
	var body credentialsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return body, apperrors.NewValidationError("username and password are required", nil)
	}
	if body.Username == "" || body.Password == "" {
		return body, apperrors.NewValidationError("username and password are required", nil)
	}
	return body, nil
}

func handleRegister(service *Service, cfg config.Config) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		body, err := decodeCredentials(r)
		if err != nil {
			return err
		}

		user, err := service.Register(r.Context(), body.Username, body.Password)
		if err == ErrUsernameTaken {
			return apperrors.NewAppError(apperrors.ErrorCodeUsernameTaken, "Username is already taken", 409, nil, nil)
		}
		if err != nil {
			return apperrors.NewValidationError(err.Error(), nil)
		}

		tokens, err := auth.GenerateTokenPair(cfg, auth.TokenPayload{UserID: user.ID, Username: user.Username})
		if err != nil {
			return apperrors.NewInternalError("Internal server error")
		}
		return api.WriteResource(w, http.StatusCreated, tokenResponse(user, tokens))
	}
}

func handleLogin(service *Service, cfg config.Config) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		body, err := decodeCredentials(r)
		if err != nil {
			return err
		}

		user, err := service.Authenticate(r.Context(), body.Username, body.Password)
		if err == ErrInvalidLogin {
			return apperrors.NewUnauthorizedError("Invalid username or password")
		}
		if err != nil {
			return apperrors.NewInternalError("Internal server error")
		}

		tokens, err := auth.GenerateTokenPair(cfg, auth.TokenPayload{UserID: user.ID, Username: user.Username})
		if err != nil {
			return apperrors.NewInternalError("Internal server error")
		}
		return api.WriteResource(w, http.StatusOK, tokenResponse(user, tokens))
	}
}

func handleMe(service *Service) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		actor, ok := auth.UserFromContext(r.Context())
		if !ok {
			return apperrors.NewUnauthorizedError("Missing authentication")
		}
		user, err := service.Get(r.Context(), actor.ID)
		if err == ErrNotFound {
			return apperrors.NewNotFoundResource("user", "")
		}
		if err != nil {
			return apperrors.NewInternalError("Internal server error")
		}
		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":     "user",
			"id":         user.ID,
			"username":   user.Username,
			"created_at": user.CreatedAt,
		})
	}
}

func tokenResponse(user *User, tokens auth.TokenPair) map[string]any {
	return map[string]any{
		"object":         "session",
		"user_id":        user.ID,
		"username":       user.Username,
		"access_token":   tokens.AccessToken,
		"refresh_token":  tokens.RefreshToken,
		"expires_in_sec": tokens.ExpiresInSec,
	}
}
