package oauthflow

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGenerateVerifier(t *testing.T) {
	verifier, err := generateVerifier()
	require.NoError(t, err)
	require.Len(t, verifier, 128)
	for _, r := range verifier {
		require.True(t, strings.ContainsRune(verifierAlphabet, r), "unexpected rune %q", r)
	}

	other, err := generateVerifier()
	require.NoError(t, err)
	require.NotEqual(t, verifier, other)
}

func TestChallengeS256(t *testing.T) {
	// RFC 7636 appendix B test vector.
	challenge := challengeS256("dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk")
	require.Equal(t, "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM", challenge)
}

func TestChallengeHasNoPadding(t *testing.T) {
	verifier, err := generateVerifier()
	require.NoError(t, err)
	challenge := challengeS256(verifier)
	require.NotContains(t, challenge, "=")
	require.NotContains(t, challenge, "+")
	require.NotContains(t, challenge, "/")
}

func TestStateStoreOneShot(t *testing.T) {
	store := NewStateStore()
	defer store.Close()

	store.Put("state-1", 42, "spotify", "verifier-1")

	userID, service, verifier, ok := store.Consume("state-1")
	require.True(t, ok)
	require.EqualValues(t, 42, userID)
	require.Equal(t, "spotify", service)
	require.Equal(t, "verifier-1", verifier)

	_, _, _, ok = store.Consume("state-1")
	require.False(t, ok)
}

func TestStateStoreUnknownState(t *testing.T) {
	store := NewStateStore()
	defer store.Close()

	_, _, _, ok := store.Consume("never-put")
	require.False(t, ok)
}

func TestStateStoreExpiry(t *testing.T) {
	store := NewStateStore()
	defer store.Close()

	store.Put("state-1", 42, "spotify", "verifier-1")
	store.mu.Lock()
	flow := store.pending["state-1"]
	flow.createdAt = flow.createdAt.Add(-stateTTL - time.Minute)
	store.pending["state-1"] = flow
	store.mu.Unlock()

	_, _, _, ok := store.Consume("state-1")
	require.False(t, ok)
}
