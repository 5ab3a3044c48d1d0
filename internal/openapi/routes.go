package openapi

import (
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-chi/chi/v5"
	"gopkg.in/yaml.v3"

	"github.com/mthorsen/playlistwatch/internal/api"
	"github.com/mthorsen/playlistwatch/internal/apperrors"
)

// specPaths are tried in order when OPENAPI_SPEC_PATH is unset.
var specPaths = []string{
	"assets/openapi/playlistwatch.v1.yaml",
	"../assets/openapi/playlistwatch.v1.yaml",
}

// document holds the spec bytes and their parsed form. The file never
// changes while the process runs, so it is loaded once.
type document struct {
	raw    []byte
	parsed any
}

var (
	loadOnce sync.Once
	doc      *document
	loadErr  error
)

func load() (*document, error) {
	loadOnce.Do(func() {
		path := resolvePath()
		if path == "" {
			loadErr = apperrors.NewInternalError("OpenAPI specification file not found")
			return
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			loadErr = apperrors.NewInternalError("Failed to read OpenAPI specification")
			return
		}
		var parsed any
		if err := yaml.Unmarshal(raw, &parsed); err != nil {
			loadErr = apperrors.NewInternalError("Failed to parse OpenAPI specification")
			return
		}
		doc = &document{raw: raw, parsed: parsed}
	})
	return doc, loadErr
}

func resolvePath() string {
	candidates := specPaths
	if env := os.Getenv("OPENAPI_SPEC_PATH"); env != "" {
		candidates = append([]string{env}, candidates...)
	}
	for _, candidate := range candidates {
		abs, err := filepath.Abs(candidate)
		if err != nil {
			continue
		}
		if _, err := os.Stat(abs); err == nil {
			return abs
		}
	}
	return ""
}

// RegisterRoutes serves the API description in both YAML and JSON forms.
func RegisterRoutes(router chi.Router) {
	router.Method(http.MethodGet, "/v1/openapi", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		d, err := load()
		if err != nil {
			return err
		}
		w.Header().Set("Content-Type", "text/yaml; charset=utf-8")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(d.raw)
		return nil
	}))
	router.Method(http.MethodGet, "/v1/openapi.json", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		d, err := load()
		if err != nil {
			return err
		}
		w.Header().Set("Access-Control-Allow-Origin", "*")
		return api.WriteJSON(w, http.StatusOK, d.parsed)
	}))
}
