package oauthflow

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/spotify"

	"github.com/mthorsen/playlistwatch/internal/apperrors"
	"github.com/mthorsen/playlistwatch/internal/config"
	"github.com/mthorsen/playlistwatch/internal/credentials"
	"github.com/mthorsen/playlistwatch/internal/provider"
)

// spotifyScopes is everything the sync engine needs: read private and
// collaborative playlists, write both private and public ones, and read the
// profile to resolve the user's market.
var spotifyScopes = []string{
	"playlist-read-private",
	"playlist-read-collaborative",
	"playlist-modify-private",
	"playlist-modify-public",
	"user-read-private",
}

// Service runs authorization flows and lands the resulting tokens in the
// credential store. One oauth2.Config per linkable provider.
type Service struct {
	states  *StateStore
	store   *credentials.Store
	logger  *log.Logger
	configs map[provider.Service]*oauth2.Config
}

// NewService wires the flow service and registers token refreshers with the
// credential store for every provider it can link.
func NewService(cfg config.Config, store *credentials.Store, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	s := &Service{
		states: NewStateStore(),
		store:  store,
		logger: logger,
		configs: map[provider.Service]*oauth2.Config{
			provider.ServiceSpotify: {
				ClientID:    cfg.SpotifyClientID,
				RedirectURL: cfg.SpotifyRedirectURI,
				Scopes:      spotifyScopes,
				Endpoint:    spotify.Endpoint,
			},
		},
	}
	for svc, conf := range s.configs {
		store.RegisterRefresher(svc, &refresher{conf: conf})
	}
	return s
}

// Close stops the state store's sweeper.
func (s *Service) Close() {
	s.states.Close()
}

// Linkable reports whether a provider has an authorization config.
func (s *Service) Linkable(svc provider.Service) bool {
	_, ok := s.configs[svc]
	return ok
}

// Begin starts a PKCE flow for the user and returns the authorization URL
// to send them to.
func (s *Service) Begin(userID int64, svc provider.Service) (string, error) {
	conf, ok := s.configs[svc]
	if !ok {
		return "", apperrors.NewValidationError(fmt.Sprintf("service %q cannot be linked", svc), nil)
	}
	verifier, err := generateVerifier()
	if err != nil {
		return "", apperrors.NewInternalError("Failed to generate code verifier")
	}
	state, err := generateState()
	if err != nil {
		return "", apperrors.NewInternalError("Failed to generate state")
	}
	s.states.Put(state, userID, string(svc), verifier)
	url := conf.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", challengeS256(verifier)),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
	return url, nil
}

// Complete redeems the provider callback. The state must match a pending
// flow; it is consumed whether or not the exchange succeeds.
func (s *Service) Complete(ctx context.Context, state, code string) (provider.Service, error) {
	userID, svcName, verifier, ok := s.states.Consume(state)
	if !ok {
		return "", apperrors.NewUnauthorizedError("authorization state is invalid or expired", apperrors.ErrorCodeInvalidOAuthState)
	}
	svc := provider.Service(svcName)
	conf := s.configs[svc]

	token, err := conf.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		s.logger.Printf("oauthflow: code exchange failed for user %d service %s: %v", userID, svc, err)
		return svc, apperrors.NewUnauthorizedError("authorization code exchange failed", apperrors.ErrorCodeAuthFailed)
	}

	tokens := &credentials.TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}
	if scope, ok := token.Extra("scope").(string); ok {
		tokens.Scope = scope
	}
	if err := s.store.Save(ctx, userID, svc, tokens); err != nil {
		s.logger.Printf("oauthflow: save credentials failed for user %d service %s: %v", userID, svc, err)
		return svc, apperrors.NewInternalError("Failed to store credentials")
	}
	s.logger.Printf("oauthflow: linked service %s for user %d", svc, userID)
	return svc, nil
}

// refresher adapts an oauth2.Config to the credential store's refresh hook.
type refresher struct {
	conf *oauth2.Config
}

func (r *refresher) Refresh(ctx context.Context, refreshToken string) (*credentials.TokenSet, error) {
	src := r.conf.TokenSource(ctx, &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(-time.Minute),
	})
	token, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	set := &credentials.TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}
	if scope, ok := token.Extra("scope").(string); ok {
		set.Scope = scope
	}
	return set, nil
}
