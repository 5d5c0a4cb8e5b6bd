package sessionclient

import "sync"

// TokenStore holds the access credential. Implementations must be safe for
// concurrent use.
type TokenStore interface {
	Get() string
	Set(token string)
	Clear()
}

// MemoryStore keeps the access credential in process memory only, so it
// never outlives the Client that owns it.
type MemoryStore struct {
	mu    sync.RWMutex
	token string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Get() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *MemoryStore) Set(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

func (s *MemoryStore) Clear() {
	s.Set("")
}
