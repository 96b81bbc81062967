package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// MemcachedSessionStore keeps session values in memcached.
type MemcachedSessionStore struct {
	client *memcache.Client
	ttl    time.Duration
}

var _ SessionStore = (*MemcachedSessionStore)(nil)

// NewMemcachedSessionStore creates a store talking to the given servers.
func NewMemcachedSessionStore(ttl time.Duration, servers ...string) *MemcachedSessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	client := memcache.New(servers...)
	client.Timeout = 2 * time.Second
	return &MemcachedSessionStore{client: client, ttl: ttl}
}

func (s *MemcachedSessionStore) Get(_ context.Context, sessionID, key string) (string, error) {
	item, err := s.client.Get(sessionKey(sessionID, key))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return string(item.Value), nil
}

func (s *MemcachedSessionStore) Set(_ context.Context, sessionID, key, value string) error {
	return s.client.Set(&memcache.Item{
		Key:        sessionKey(sessionID, key),
		Value:      []byte(value),
		Expiration: int32(s.ttl / time.Second),
	})
}

// Take reads the value and then deletes it. Only the caller whose delete
// succeeds gets the value; a concurrent caller sees a cache miss on delete.
func (s *MemcachedSessionStore) Take(_ context.Context, sessionID, key string) (string, error) {
	k := sessionKey(sessionID, key)
	item, err := s.client.Get(k)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if err := s.client.Delete(k); err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return "", ErrNotFound
		}
		return "", err
	}
	return string(item.Value), nil
}

func (s *MemcachedSessionStore) Ping(context.Context) error {
	return s.client.Ping()
}
