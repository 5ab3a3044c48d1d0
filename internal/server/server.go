package server

import (
	"context"
	"log"
	"net/http"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mthorsen/playlistwatch/internal/api"
	"github.com/mthorsen/playlistwatch/internal/auth"
	"github.com/mthorsen/playlistwatch/internal/catalog"
	"github.com/mthorsen/playlistwatch/internal/config"
	"github.com/mthorsen/playlistwatch/internal/credentials"
	"github.com/mthorsen/playlistwatch/internal/db"
	"github.com/mthorsen/playlistwatch/internal/events"
	"github.com/mthorsen/playlistwatch/internal/journal"
	"github.com/mthorsen/playlistwatch/internal/maintenance"
	"github.com/mthorsen/playlistwatch/internal/oauthflow"
	"github.com/mthorsen/playlistwatch/internal/openapi"
	"github.com/mthorsen/playlistwatch/internal/provider"
	"github.com/mthorsen/playlistwatch/internal/provider/spotify"
	"github.com/mthorsen/playlistwatch/internal/songlink"
	"github.com/mthorsen/playlistwatch/internal/syncengine"
	"github.com/mthorsen/playlistwatch/internal/users"
	"github.com/mthorsen/playlistwatch/internal/watcher"
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// requestLoggerMiddleware logs all incoming HTTP requests
func requestLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		log.Printf("%s %s %d %s", r.Method, r.URL.Path, wrapped.status, time.Since(start).Round(time.Millisecond))
	})
}

// Options controls server wiring.
type Options struct {
	// DisableScheduler skips starting watcher loops and cron jobs (tests).
	DisableScheduler bool
}

// NewHandler builds the HTTP handler and returns a shutdown function.
func NewHandler(cfg config.Config, options Options) (http.Handler, func(context.Context) error, error) {
	log.Printf("Using database: %s", cfg.SQLiteDBPath)
	dbPair, err := db.Init(cfg.SQLiteDBPath)
	if err != nil {
		return nil, nil, err
	}

	router := chi.NewRouter()
	router.Use(middleware.StripSlashes)
	router.Use(requestLoggerMiddleware)
	router.Use(api.RequestIDMiddleware)
	router.Use(api.RecovererMiddleware)
	router.Use(auth.Middleware(cfg))

	registerHealthRoutes(router)
	openapi.RegisterRoutes(router)
	auth.RegisterRoutes(router, cfg)

	userService := users.NewService(users.NewRepository(dbPair), nil)
	users.RegisterRoutes(router, userService, cfg)

	crypter, err := credentials.NewCrypter(cfg.TokenEncryptionKey)
	if err != nil {
		dbPair.Close()
		return nil, nil, err
	}
	credentialStore := credentials.NewStore(credentials.NewRepository(dbPair), crypter, nil)

	flowService := oauthflow.NewService(cfg, credentialStore, nil)
	oauthflow.RegisterRoutes(router, flowService, credentialStore)

	upstreamTimeout := time.Duration(cfg.UpstreamTimeoutSec) * time.Second
	spotifyAdapter := spotify.New(credentialStore, upstreamTimeout, nil)
	registry := provider.NewRegistry(spotifyAdapter)

	catalogRepo := catalog.NewRepository(dbPair)
	catalog.RegisterRoutes(router, registry, catalogRepo)

	linksClient := songlink.NewClient(cfg.SonglinkAPIKey, time.Duration(cfg.SonglinkTimeoutSec)*time.Second, nil)
	resolver := songlink.NewResolver(linksClient,
		time.Duration(cfg.ResolverCacheTTLSec)*time.Second,
		time.Duration(cfg.ResolverNegativeTTLSec)*time.Second, nil)

	journalRepo := journal.NewRepository(dbPair)

	hub := events.NewHub(nil)
	hub.RegisterRoutes(router)

	engine := syncengine.NewEngine(registry, resolver, catalogRepo, journalRepo, hub, nil)

	watcherRepo := watcher.NewRepository(dbPair)
	scheduler := watcher.NewScheduler(watcherRepo, engine, watcher.Options{
		MinPeriodSec:     cfg.SyncMinPeriodSec,
		FailureThreshold: cfg.SyncFailureThreshold,
		Concurrency:      cfg.SyncConcurrency,
	}, nil)
	watcherService := watcher.NewService(watcherRepo, journalRepo, scheduler, nil)
	watcher.RegisterRoutes(router, watcherService)

	jobs := maintenance.New(journalRepo, resolver, cfg.JournalRetentionDays, nil)

	if !options.DisableScheduler {
		bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer bootCancel()

		// Any pending journal row at boot belonged to a dead process.
		if reaped, err := journalRepo.ReapOrphans(bootCtx); err != nil {
			log.Printf("server: reap orphaned operations: %v", err)
		} else if reaped > 0 {
			log.Printf("server: marked %d orphaned operation(s) as interrupted", reaped)
		}

		if err := scheduler.Start(bootCtx); err != nil {
			dbPair.Close()
			return nil, nil, err
		}
		if err := jobs.Start(); err != nil {
			dbPair.Close()
			return nil, nil, err
		}
	}

	shutdown := func(ctx context.Context) error {
		if ctx == nil {
			ctx = context.Background()
		}
		if !options.DisableScheduler {
			jobs.Stop()
			if err := scheduler.Shutdown(ctx); err != nil {
				log.Printf("server: scheduler shutdown: %v", err)
			}
		}
		hub.Close()
		flowService.Close()
		return dbPair.Close()
	}

	return router, shutdown, nil
}

func registerHealthRoutes(router chi.Router) {
	router.Method(http.MethodGet, "/v1/health", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		response := map[string]any{
			"status":    "healthy",
			"service":   "playlistwatch",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}
		return api.WriteJSON(w, http.StatusOK, response)
	}))
	router.Method(http.MethodGet, "/v1/health/live", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}))
	router.Method(http.MethodGet, "/v1/health/ready", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	}))
}
