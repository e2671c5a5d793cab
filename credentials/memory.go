package credentials

import (
	"context"
	"sync"
)

// MemoryStore keeps credentials in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	creds    Credentials
	identity Identity
}

// NewMemoryStore returns an empty [MemoryStore].
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Get(context.Context) (Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds, nil
}

func (s *MemoryStore) Set(_ context.Context, creds Credentials) error {
	s.mu.Lock()
	s.creds = creds
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear(context.Context) error {
	s.mu.Lock()
	s.creds = Credentials{}
	s.identity = nil
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Identity(context.Context) (Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity.Empty() {
		return nil, nil
	}
	out := make(Identity, len(s.identity))
	copy(out, s.identity)
	return out, nil
}

func (s *MemoryStore) SetIdentity(_ context.Context, id Identity) error {
	var cp Identity
	if !id.Empty() {
		cp = make(Identity, len(id))
		copy(cp, id)
	}
	s.mu.Lock()
	s.identity = cp
	s.mu.Unlock()
	return nil
}
