package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/mthorsen/playlistwatch/internal/config"
)

func testConfig() config.Config {
	return config.Config{
		JWTSecret:                "test-secret-at-least-32-bytes-long!",
		JWTAccessTokenExpirySec:  900,
		JWTRefreshTokenExpirySec: 86400,
	}
}

func TestTokenPairRoundTrip(t *testing.T) {
	cfg := testConfig()
	pair, err := GenerateTokenPair(cfg, TokenPayload{UserID: 42, Username: "alice"})
	require.NoError(t, err)
	require.Equal(t, 900, pair.ExpiresInSec)

	access, err := VerifyToken(cfg, pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, int64(42), access.UserID)
	require.Equal(t, "alice", access.Username)
	require.Equal(t, TokenTypeAccess, access.Type)

	refresh, err := VerifyToken(cfg, pair.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, TokenTypeRefresh, refresh.Type)
}

func TestRefreshAccessToken(t *testing.T) {
	cfg := testConfig()
	pair, err := GenerateTokenPair(cfg, TokenPayload{UserID: 42, Username: "alice"})
	require.NoError(t, err)

	token, expiresIn, err := RefreshAccessToken(cfg, pair.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, 900, expiresIn)

	payload, err := VerifyToken(cfg, token)
	require.NoError(t, err)
	require.Equal(t, TokenTypeAccess, payload.Type)
	require.Equal(t, int64(42), payload.UserID)
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	cfg := testConfig()
	pair, err := GenerateTokenPair(cfg, TokenPayload{UserID: 42, Username: "alice"})
	require.NoError(t, err)

	_, _, err = RefreshAccessToken(cfg, pair.AccessToken)
	require.ErrorIs(t, err, ErrTokenType)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	cfg := testConfig()
	pair, err := GenerateTokenPair(cfg, TokenPayload{UserID: 42, Username: "alice"})
	require.NoError(t, err)

	other := cfg
	other.JWTSecret = "a-completely-different-secret-value"
	_, err = VerifyToken(other, pair.AccessToken)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyRejectsExpired(t *testing.T) {
	cfg := testConfig()
	cfg.JWTAccessTokenExpirySec = -10
	pair, err := GenerateTokenPair(cfg, TokenPayload{UserID: 42, Username: "alice"})
	require.NoError(t, err)

	_, err = VerifyToken(cfg, pair.AccessToken)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerifyRejectsForgedClaims(t *testing.T) {
	cfg := testConfig()

	// Unsigned token with the right claim shape.
	claims := tokenClaims{
		Username: "mallory",
		Type:     TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "42",
			Issuer:    "playlistwatch",
			Audience:  []string{"playlistwatch-client"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = VerifyToken(cfg, token)
	require.ErrorIs(t, err, ErrTokenInvalid)

	// Signed, but subject is not a positive integer.
	bad := tokenClaims{
		Username: "mallory",
		Type:     TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "not-a-number",
			Issuer:    "playlistwatch",
			Audience:  []string{"playlistwatch-client"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, bad).SignedString([]byte(cfg.JWTSecret))
	require.NoError(t, err)

	_, err = VerifyToken(cfg, signed)
	require.ErrorIs(t, err, ErrTokenInvalid)
}
