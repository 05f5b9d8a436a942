package session

import (
	"io"
	"sync"
	"time"
)

const defaultStateTTL = 10 * time.Minute

// StateStore issues one-time OAuth state nonces. A nonce is accepted at most
// once and only within its TTL.
type StateStore struct {
	ttl    time.Duration
	now    func() time.Time
	random io.Reader

	mu     sync.Mutex
	issued map[string]time.Time
}

// NewStateStore creates a StateStore. A non-positive ttl falls back to ten minutes.
func NewStateStore(ttl time.Duration, opts ...Option) *StateStore {
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	// Reuse the MemoryStore options for clock and entropy injection.
	cfg := NewMemoryStore(opts...)
	return &StateStore{
		ttl:    ttl,
		now:    cfg.now,
		random: cfg.random,
		issued: make(map[string]time.Time),
	}
}

// Issue mints a new nonce. Expired nonces are pruned on the way.
func (s *StateStore) Issue() (string, error) {
	nonce, err := newToken(s.random)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, issuedAt := range s.issued {
		if now.Sub(issuedAt) > s.ttl {
			delete(s.issued, key)
		}
	}
	s.issued[digest(nonce)] = now
	return nonce, nil
}

// Consume validates and deletes nonce. Missing, reused and expired nonces
// return ErrNotFound.
func (s *StateStore) Consume(nonce string) error {
	if nonce == "" {
		return ErrNotFound
	}
	key := digest(nonce)

	s.mu.Lock()
	defer s.mu.Unlock()

	issuedAt, ok := s.issued[key]
	if !ok {
		return ErrNotFound
	}
	delete(s.issued, key)
	if s.now().Sub(issuedAt) > s.ttl {
		return ErrNotFound
	}
	return nil
}

// Pending reports how many nonces are outstanding.
func (s *StateStore) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.issued)
}
