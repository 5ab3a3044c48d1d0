package auth

import (
	"net/http"
	"strings"

	"github.com/mthorsen/playlistwatch/internal/api"
	"github.com/mthorsen/playlistwatch/internal/apperrors"
	"github.com/mthorsen/playlistwatch/internal/config"
)

var publicRoutes = map[string]struct{}{
	"/v1/auth/register": {},
	"/v1/auth/login":    {},
	"/v1/auth/refresh":  {},
	"/v1/health":        {},
	"/v1/health/live":   {},
	"/v1/health/ready":  {},
}

// The OAuth callback arrives from the provider's redirect, so it cannot
// carry a bearer token; the state parameter ties it back to the user.
var publicPrefixes = []string{
	"/v1/health",
	"/v1/openapi",
	"/v1/services/callback",
}

// Middleware validates JWT tokens for protected routes.
func Middleware(cfg config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicRoute(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			token, tokenErr := bearerToken(r)
			if tokenErr != nil {
				api.WriteError(w, r, tokenErr)
				return
			}

			payload, err := VerifyToken(cfg, token)
			if err != nil {
				if err == ErrTokenExpired {
					api.WriteError(w, r, apperrors.NewUnauthorizedError("Token has expired", apperrors.ErrorCodeAuthTokenExpired))
					return
				}
				api.WriteError(w, r, apperrors.NewUnauthorizedError("Invalid token", apperrors.ErrorCodeAuthTokenInvalid))
				return
			}

			if payload.Type != TokenTypeAccess {
				api.WriteError(w, r, apperrors.NewUnauthorizedError("Invalid token type", apperrors.ErrorCodeAuthTokenInvalid))
				return
			}

			user := User{
				ID:       payload.UserID,
				Username: payload.Username,
				Type:     payload.Type,
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// bearerToken extracts the access token from the Authorization header, or
// from the access_token query parameter for websocket clients that cannot
// set headers.
func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if token := r.URL.Query().Get("access_token"); token != "" {
			return token, nil
		}
		return "", apperrors.NewUnauthorizedError("Missing Authorization header")
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", apperrors.NewUnauthorizedError("Invalid Authorization header format")
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", apperrors.NewUnauthorizedError("Invalid Authorization header format")
	}
	return token, nil
}

func isPublicRoute(path string) bool {
	if _, ok := publicRoutes[path]; ok {
		return true
	}
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
