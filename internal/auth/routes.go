package auth

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mthorsen/playlistwatch/internal/api"
	"github.com/mthorsen/playlistwatch/internal/apperrors"
	"github.com/mthorsen/playlistwatch/internal/config"
)

// RegisterRoutes wires the token refresh route. Register and login live in
// the users package; refresh needs nothing but the signing secret.
func RegisterRoutes(router chi.Router, cfg config.Config) {
	router.Method(http.MethodPost, "/v1/auth/refresh", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return apperrors.NewValidationError("refresh_token is required", nil)
		}
		if body.RefreshToken == "" {
			return apperrors.NewValidationError("refresh_token is required", nil)
		}

		accessToken, expiresIn, err := RefreshAccessToken(cfg, body.RefreshToken)
		if err != nil {
			switch err {
			case ErrTokenExpired:
				return apperrors.NewUnauthorizedError("Refresh token has expired", apperrors.ErrorCodeAuthTokenExpired)
			case ErrTokenType:
				return apperrors.NewUnauthorizedError("Invalid token: expected refresh token")
			default:
				return apperrors.NewUnauthorizedError("Invalid refresh token")
			}
		}

		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":         "token_refresh",
			"access_token":   accessToken,
			"expires_in_sec": expiresIn,
		})
	}))
}
