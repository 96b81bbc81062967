package repository

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemorySessionStore is an in-process SessionStore. It is the default when no
// external store is configured and only works for a single server instance.
type MemorySessionStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

var _ SessionStore = (*MemorySessionStore)(nil)

// NewMemorySessionStore creates a MemorySessionStore and starts a janitor that
// purges expired entries every cleanupInterval. Call Close to stop it.
func NewMemorySessionStore(ttl, cleanupInterval time.Duration) *MemorySessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	s := &MemorySessionStore{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go s.janitor(cleanupInterval)
	}
	return s
}

func (s *MemorySessionStore) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.deleteExpired()
		case <-s.stop:
			return
		}
	}
}

func (s *MemorySessionStore) deleteExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, k)
		}
	}
}

// Close stops the janitor. It is safe to call more than once.
func (s *MemorySessionStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

func (s *MemorySessionStore) Get(_ context.Context, sessionID, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[sessionKey(sessionID, key)]
	if !ok || s.now().After(e.expiresAt) {
		return "", ErrNotFound
	}
	return e.value, nil
}

func (s *MemorySessionStore) Set(_ context.Context, sessionID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[sessionKey(sessionID, key)] = memoryEntry{value: value, expiresAt: s.now().Add(s.ttl)}
	return nil
}

func (s *MemorySessionStore) Take(_ context.Context, sessionID, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := sessionKey(sessionID, key)
	e, ok := s.entries[k]
	if !ok {
		return "", ErrNotFound
	}
	delete(s.entries, k)
	if s.now().After(e.expiresAt) {
		return "", ErrNotFound
	}
	return e.value, nil
}

func (s *MemorySessionStore) Ping(context.Context) error { return nil }

// Len reports the number of stored entries, expired ones included.
func (s *MemorySessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
