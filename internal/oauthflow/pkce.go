// Package oauthflow runs the OAuth 2.0 authorization-code flow with PKCE
// for linking streaming services to user accounts. It owns the in-flight
// state table and the per-service authorization endpoints.
package oauthflow

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// verifierAlphabet is the RFC 7636 unreserved character set.
const verifierAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

// verifierLength is the maximum RFC 7636 allows.
const verifierLength = 128

// generateVerifier returns a random 128-character PKCE code verifier.
func generateVerifier() (string, error) {
	raw := make([]byte, verifierLength)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate verifier: %w", err)
	}
	out := make([]byte, verifierLength)
	for i, b := range raw {
		out[i] = verifierAlphabet[int(b)%len(verifierAlphabet)]
	}
	return string(out), nil
}

// challengeS256 derives the S256 code challenge for a verifier.
func challengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// generateState returns a random opaque state parameter.
func generateState() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
