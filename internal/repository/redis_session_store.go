package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSessionStore keeps session values in Redis with a per-key TTL.
type RedisSessionStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

var _ SessionStore = (*RedisSessionStore)(nil)

// NewRedisSessionStore wraps an existing client.
func NewRedisSessionStore(client redis.UniversalClient, ttl time.Duration) *RedisSessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &RedisSessionStore{client: client, ttl: ttl}
}

// DialRedis creates a client for addr and verifies the connection.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func (s *RedisSessionStore) Get(ctx context.Context, sessionID, key string) (string, error) {
	v, err := s.client.Get(ctx, sessionKey(sessionID, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return v, err
}

func (s *RedisSessionStore) Set(ctx context.Context, sessionID, key, value string) error {
	return s.client.Set(ctx, sessionKey(sessionID, key), value, s.ttl).Err()
}

// Take uses GETDEL, so concurrent consumers cannot both observe the value.
func (s *RedisSessionStore) Take(ctx context.Context, sessionID, key string) (string, error) {
	v, err := s.client.GetDel(ctx, sessionKey(sessionID, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return v, err
}

func (s *RedisSessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
