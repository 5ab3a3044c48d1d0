package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret-that-is-long-enough-0123")
	t.Setenv("TOKEN_ENCRYPTION_KEY", "test-encryption-passphrase")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, 16, cfg.SyncConcurrency)
	require.Equal(t, 300, cfg.SyncMinPeriodSec)
	require.Equal(t, 5, cfg.SyncFailureThreshold)
	require.Equal(t, 86400, cfg.ResolverCacheTTLSec)
	require.Equal(t, 3600, cfg.ResolverNegativeTTLSec)
	require.Equal(t, 90, cfg.JournalRetentionDays)
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "9090")
	t.Setenv("SYNC_CONCURRENCY", "4")
	t.Setenv("SYNC_MIN_PERIOD_SECONDS", "600")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "9090", cfg.Port)
	require.Equal(t, 4, cfg.SyncConcurrency)
	require.Equal(t, 600, cfg.SyncMinPeriodSec)
}

func TestLoadRejectsWeakSecrets(t *testing.T) {
	t.Setenv("JWT_SECRET", "short")
	t.Setenv("TOKEN_ENCRYPTION_KEY", "key")
	_, err := Load()
	require.ErrorContains(t, err, "JWT_SECRET")

	t.Setenv("JWT_SECRET", "test-secret-that-is-long-enough-0123")
	t.Setenv("TOKEN_ENCRYPTION_KEY", "")
	_, err = Load()
	require.ErrorContains(t, err, "TOKEN_ENCRYPTION_KEY")
}

func TestLoadMalformedIntFallsBack(t *testing.T) {
	setRequired(t)
	t.Setenv("SYNC_CONCURRENCY", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 16, cfg.SyncConcurrency)
}
