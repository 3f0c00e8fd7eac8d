package tokens

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps tokens in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]Token
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]Token)}
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, t Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[t.Value] = t
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, value string) (Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[value]
	if !ok {
		return Token{}, ErrNotFound
	}
	return t, nil
}

// DeleteExpired implements Store.
func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for value, t := range s.tokens {
		if !t.ValidAt(now) {
			delete(s.tokens, value)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored tokens.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}
