package credentials

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mthorsen/playlistwatch/internal/provider"
)

// expirySkew is how far before actual expiry a token is treated as expired,
// so a token does not die mid-request.
const expirySkew = 30 * time.Second

// Store is the credential manager. It seals tokens before they touch the
// database and serializes refreshes per (user, service) so concurrent syncs
// trigger at most one upstream refresh.
type Store struct {
	repo       *Repository
	crypter    *Crypter
	logger     *log.Logger
	refreshers map[provider.Service]Refresher

	mu      sync.Mutex
	latches map[latchKey]*sync.Mutex
}

type latchKey struct {
	userID  int64
	service provider.Service
}

// NewStore creates the credential store.
func NewStore(repo *Repository, crypter *Crypter, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{
		repo:       repo,
		crypter:    crypter,
		logger:     logger,
		refreshers: make(map[provider.Service]Refresher),
		latches:    make(map[latchKey]*sync.Mutex),
	}
}

// RegisterRefresher wires a service's token refresh implementation.
func (s *Store) RegisterRefresher(service provider.Service, r Refresher) {
	s.refreshers[service] = r
}

// Save seals and persists a token set after an OAuth exchange.
func (s *Store) Save(ctx context.Context, userID int64, service provider.Service, tokens *TokenSet) error {
	sealedAccess, err := s.crypter.Seal(tokens.AccessToken)
	if err != nil {
		return fmt.Errorf("seal access token: %w", err)
	}
	sealedRefresh, err := s.crypter.Seal(tokens.RefreshToken)
	if err != nil {
		return fmt.Errorf("seal refresh token: %w", err)
	}
	return s.repo.Upsert(ctx, &Credential{
		UserID:       userID,
		Service:      service,
		AccessToken:  sealedAccess,
		RefreshToken: sealedRefresh,
		ExpiresAt:    tokens.ExpiresAt,
		Scope:        tokens.Scope,
	})
}

// AccessToken returns a valid access token for (user, service), refreshing
// first if the stored one is expired or within the skew window.
func (s *Store) AccessToken(ctx context.Context, userID int64, service provider.Service) (string, error) {
	cred, err := s.get(ctx, userID, service)
	if err != nil {
		return "", err
	}
	if !cred.Expired(expirySkew) {
		return cred.AccessToken, nil
	}
	refreshed, err := s.refresh(ctx, userID, service)
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

// Status reports the user's connection for one service without exposing
// token material.
type Status struct {
	Service   provider.Service `json:"service"`
	Connected bool             `json:"connected"`
	ExpiresAt *time.Time       `json:"expires_at,omitempty"`
	Scope     string           `json:"scope,omitempty"`
}

// StatusForUser returns one entry per known service.
func (s *Store) StatusForUser(ctx context.Context, userID int64, services []provider.Service) ([]Status, error) {
	creds, err := s.repo.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	linked := make(map[provider.Service]*Credential, len(creds))
	for _, c := range creds {
		linked[c.Service] = c
	}
	statuses := make([]Status, 0, len(services))
	for _, svc := range services {
		st := Status{Service: svc}
		if c, ok := linked[svc]; ok {
			st.Connected = true
			st.Scope = c.Scope
			if !c.ExpiresAt.IsZero() {
				expires := c.ExpiresAt
				st.ExpiresAt = &expires
			}
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

// HasValidCredentials reports whether the stored access token is usable
// right now. An expired token reports false even when a refresh token is
// present; the next adapter call refreshes it.
func (s *Store) HasValidCredentials(ctx context.Context, userID int64, service provider.Service) (bool, error) {
	cred, err := s.get(ctx, userID, service)
	if err == ErrNotLinked {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !cred.Expired(expirySkew), nil
}

// Disconnect removes the stored credential.
func (s *Store) Disconnect(ctx context.Context, userID int64, service provider.Service) error {
	return s.repo.Delete(ctx, userID, service)
}

// get loads and unseals the credential row.
func (s *Store) get(ctx context.Context, userID int64, service provider.Service) (*Credential, error) {
	cred, err := s.repo.Get(ctx, userID, service)
	if err != nil {
		return nil, err
	}
	if cred.AccessToken, err = s.crypter.Open(cred.AccessToken); err != nil {
		return nil, fmt.Errorf("open access token: %w", err)
	}
	if cred.RefreshToken, err = s.crypter.Open(cred.RefreshToken); err != nil {
		return nil, fmt.Errorf("open refresh token: %w", err)
	}
	return cred, nil
}

// ForceRefresh refreshes even an unexpired token. Adapters call it after a
// 401 with staleToken set to the rejected token; if another caller already
// replaced it, the stored token is returned without a second upstream call.
func (s *Store) ForceRefresh(ctx context.Context, userID int64, service provider.Service, staleToken string) (string, error) {
	cred, err := s.refreshLocked(ctx, userID, service, staleToken)
	if err != nil {
		return "", err
	}
	return cred.AccessToken, nil
}

// refresh performs a single-flight token refresh for (user, service).
// Callers that lose the race re-read the row the winner wrote instead of
// hitting the provider again.
func (s *Store) refresh(ctx context.Context, userID int64, service provider.Service) (*Credential, error) {
	return s.refreshLocked(ctx, userID, service, "")
}

func (s *Store) refreshLocked(ctx context.Context, userID int64, service provider.Service, staleToken string) (*Credential, error) {
	latch := s.latch(userID, service)
	latch.Lock()
	defer latch.Unlock()

	// Re-check under the latch; another caller may have refreshed already.
	cred, err := s.get(ctx, userID, service)
	if err != nil {
		return nil, err
	}
	if staleToken != "" {
		if cred.AccessToken != staleToken {
			return cred, nil
		}
	} else if !cred.Expired(expirySkew) {
		return cred, nil
	}
	if cred.RefreshToken == "" {
		return nil, ErrTokenExpired
	}
	refresher, ok := s.refreshers[service]
	if !ok {
		return nil, ErrTokenExpired
	}

	tokens, err := refresher.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		s.logger.Printf("credentials: refresh failed for user %d service %s: %v", userID, service, err)
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	// Providers that rotate refresh tokens return a new one; keep the old
	// one when they do not.
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = cred.RefreshToken
	}

	sealedAccess, err := s.crypter.Seal(tokens.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("seal access token: %w", err)
	}
	sealedRefresh, err := s.crypter.Seal(tokens.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("seal refresh token: %w", err)
	}
	if err := s.repo.UpdateTokens(ctx, userID, service, sealedAccess, sealedRefresh, tokens.ExpiresAt); err != nil {
		return nil, err
	}

	cred.AccessToken = tokens.AccessToken
	cred.RefreshToken = tokens.RefreshToken
	cred.ExpiresAt = tokens.ExpiresAt
	return cred, nil
}

func (s *Store) latch(userID int64, service provider.Service) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := latchKey{userID: userID, service: service}
	latch, ok := s.latches[key]
	if !ok {
		latch = &sync.Mutex{}
		s.latches[key] = latch
	}
	return latch
}
