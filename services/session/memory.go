package session

import (
	"io"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded in-memory Repository.
type MemoryStore struct {
	now    func() time.Time
	random io.Reader

	mu       sync.RWMutex
	sessions map[string]Session
}

// Option customises a MemoryStore.
type Option func(*MemoryStore)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRandom overrides the entropy source used for identifiers.
func WithRandom(r io.Reader) Option {
	return func(s *MemoryStore) {
		if r != nil {
			s.random = r
		}
	}
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		now:      time.Now,
		sessions: make(map[string]Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Create(owner Identity, credential string) (string, error) {
	token, err := newToken(s.random)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[digest(token)] = Session{
		ID:         token,
		Owner:      owner,
		Credential: credential,
		CreatedAt:  s.now().UTC(),
	}
	return token, nil
}

func (s *MemoryStore) Lookup(id string) (Session, error) {
	if id == "" {
		return Session{}, ErrNotFound
	}
	key := digest(id)

	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[key]
	if !ok {
		return Session{}, ErrNotFound
	}
	return sess, nil
}

func (s *MemoryStore) Delete(id string) {
	if id == "" {
		return
	}
	key := digest(id)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, key)
}

func (s *MemoryStore) Sweep(maxAge time.Duration) int {
	cutoff := s.now().UTC().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, sess := range s.sessions {
		if sess.CreatedAt.Before(cutoff) {
			delete(s.sessions, key)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.sessions)
	s.sessions = make(map[string]Session)
	return n
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

var _ Repository = (*MemoryStore)(nil)
