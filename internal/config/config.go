package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds the base server configuration.
type Config struct {
	Host         string
	Port         string
	SQLiteDBPath string
	LogLevel     string

	JWTSecret                string
	JWTAccessTokenExpirySec  int
	JWTRefreshTokenExpirySec int

	// Spotify OAuth app settings. ClientID and RedirectURI are required for the
	// Spotify adapter; the PKCE flow uses no client secret.
	SpotifyClientID    string
	SpotifyRedirectURI string

	// SonglinkAPIKey is optional; when set it is sent as key= to the
	// link-matching API.
	SonglinkAPIKey     string
	SonglinkTimeoutSec int

	// TokenEncryptionKey keys the AES-GCM envelope around stored OAuth tokens.
	// Base64 of 32 raw bytes, or any passphrase (hashed to 32 bytes).
	TokenEncryptionKey string

	// Sync runtime settings.
	SyncConcurrency      int // cap on simultaneous sync executions
	SyncMinPeriodSec     int // watcher periods below this are clamped
	SyncFailureThreshold int // consecutive failures before quarantine
	UpstreamTimeoutSec   int // deadline for provider HTTP calls

	// ResolverCacheTTLSec is the TTL for positive resolver cache entries;
	// unmatched results use ResolverNegativeTTLSec.
	ResolverCacheTTLSec    int
	ResolverNegativeTTLSec int

	// JournalRetentionDays bounds how long terminal sync operations are kept.
	JournalRetentionDays int

	ShutdownGraceSec int
}

// Load reads configuration from environment variables with defaults.
func Load() (Config, error) {
	cfg := Config{
		Host:                     envString("HOST", "0.0.0.0"),
		Port:                     envString("PORT", "8080"),
		SQLiteDBPath:             envString("DB_PATH", "./data/playlistwatch.db"),
		LogLevel:                 envString("LOG_LEVEL", "info"),
		JWTSecret:                envString("JWT_SECRET", ""),
		JWTAccessTokenExpirySec:  envInt("JWT_ACCESS_TOKEN_EXPIRY", 3600),
		JWTRefreshTokenExpirySec: envInt("JWT_REFRESH_TOKEN_EXPIRY", 2592000),
		SpotifyClientID:          envString("SPOTIFY_CLIENT_ID", ""),
		SpotifyRedirectURI:       envString("SPOTIFY_REDIRECT_URI", ""),
		SonglinkAPIKey:           envString("SONGLINK_API_KEY", ""),
		SonglinkTimeoutSec:       envInt("SONGLINK_TIMEOUT_SECONDS", 10),
		TokenEncryptionKey:       envString("TOKEN_ENCRYPTION_KEY", ""),
		SyncConcurrency:          envInt("SYNC_CONCURRENCY", 16),
		SyncMinPeriodSec:         envInt("SYNC_MIN_PERIOD_SECONDS", 300),
		SyncFailureThreshold:     envInt("SYNC_FAILURE_THRESHOLD", 5),
		UpstreamTimeoutSec:       envInt("UPSTREAM_TIMEOUT_SECONDS", 30),
		ResolverCacheTTLSec:      envInt("RESOLVER_CACHE_TTL_SECONDS", 86400),
		ResolverNegativeTTLSec:   envInt("RESOLVER_NEGATIVE_TTL_SECONDS", 3600),
		JournalRetentionDays:     envInt("JOURNAL_RETENTION_DAYS", 90),
		ShutdownGraceSec:         envInt("SHUTDOWN_GRACE_SECONDS", 30),
	}

	if len(strings.TrimSpace(cfg.JWTSecret)) < 32 {
		return Config{}, fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	if strings.TrimSpace(cfg.TokenEncryptionKey) == "" {
		return Config{}, fmt.Errorf("TOKEN_ENCRYPTION_KEY is required")
	}
	if cfg.SyncMinPeriodSec < 1 {
		cfg.SyncMinPeriodSec = 300
	}
	if cfg.SyncConcurrency < 1 {
		cfg.SyncConcurrency = 16
	}

	return cfg, nil
}

func envString(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func envInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}
