package oauthflow

import (
	"sync"
	"time"
)

// stateTTL is how long a begun flow stays redeemable.
const stateTTL = 10 * time.Minute

// pendingFlow is one begun-but-uncompleted authorization.
type pendingFlow struct {
	userID    int64
	service   string
	verifier  string
	createdAt time.Time
}

// StateStore holds in-flight PKCE flows keyed by the state parameter.
// Consume is one-shot: a state validates once and is gone, expired or not.
type StateStore struct {
	mu      sync.Mutex
	pending map[string]pendingFlow
	stopCh  chan struct{}
}

// NewStateStore creates the store and starts its expiry sweeper.
func NewStateStore() *StateStore {
	s := &StateStore{
		pending: make(map[string]pendingFlow),
		stopCh:  make(chan struct{}),
	}
	go s.sweep()
	return s
}

// Put records a begun flow under its state parameter.
func (s *StateStore) Put(state string, userID int64, service, verifier string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[state] = pendingFlow{
		userID:    userID,
		service:   service,
		verifier:  verifier,
		createdAt: time.Now(),
	}
}

// Consume removes and returns the flow for a state. The second return is
// false when the state is unknown or expired. Either way the state cannot
// be redeemed again.
func (s *StateStore) Consume(state string) (userID int64, service, verifier string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	flow, found := s.pending[state]
	if !found {
		return 0, "", "", false
	}
	delete(s.pending, state)
	if time.Since(flow.createdAt) > stateTTL {
		return 0, "", "", false
	}
	return flow.userID, flow.service, flow.verifier, true
}

// Close stops the expiry sweeper.
func (s *StateStore) Close() {
	close(s.stopCh)
}

func (s *StateStore) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.Lock()
			for state, flow := range s.pending {
				if time.Since(flow.createdAt) > stateTTL {
					delete(s.pending, state)
				}
			}
			s.mu.Unlock()
		}
	}
}
