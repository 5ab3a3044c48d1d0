package api

import (
	"log"
	"net/http"

	"github.com/mthorsen/playlistwatch/internal/apperrors"
)

// Handler is an http.Handler that returns errors instead of writing them;
// failures are rendered through WriteError so every route shares one error
// envelope.
type Handler func(w http.ResponseWriter, r *http.Request) error

// ServeHTTP implements http.Handler.
func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h(w, r); err != nil {
		WriteError(w, r, err)
	}
}

// RecovererMiddleware turns handler panics into 500 responses.
func RecovererMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovered := recover(); recovered != nil {
				log.Printf("panic recovered on %s %s: %v", r.Method, r.URL.Path, recovered)
				WriteError(w, r, apperrors.NewInternalError("Internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
