package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// MemorySessionStore
// ---------------------------------------------------------------------------

func newTestMemoryStore(t *testing.T, ttl time.Duration) (*MemorySessionStore, *time.Time) {
	t.Helper()
	s := NewMemorySessionStore(ttl, 0)
	t.Cleanup(func() { _ = s.Close() })
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	return s, &now
}

func TestMemorySessionStore_SetGetTake(t *testing.T) {
	s, _ := newTestMemoryStore(t, time.Minute)
	ctx := context.Background()

	if err := s.Set(ctx, "sid", "k", "v1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, "sid", "k", "v2"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(ctx, "sid", "k")
	if err != nil || got != "v2" {
		t.Fatalf("Get = %q, %v; want v2", got, err)
	}

	got, err = s.Take(ctx, "sid", "k")
	if err != nil || got != "v2" {
		t.Fatalf("Take = %q, %v; want v2", got, err)
	}
	if _, err := s.Take(ctx, "sid", "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Take: expected ErrNotFound, got %v", err)
	}
	if _, err := s.Get(ctx, "sid", "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Take: expected ErrNotFound, got %v", err)
	}
}

func TestMemorySessionStore_SessionsAreIsolated(t *testing.T) {
	s, _ := newTestMemoryStore(t, time.Minute)
	ctx := context.Background()

	_ = s.Set(ctx, "a", "k", "1")
	_ = s.Set(ctx, "b", "k", "2")

	if v, _ := s.Take(ctx, "a", "k"); v != "1" {
		t.Errorf("session a: got %q", v)
	}
	if v, _ := s.Get(ctx, "b", "k"); v != "2" {
		t.Errorf("session b: got %q", v)
	}
}

func TestMemorySessionStore_Expiry(t *testing.T) {
	s, now := newTestMemoryStore(t, time.Minute)
	ctx := context.Background()
	_ = s.Set(ctx, "sid", "k", "v")

	*now = now.Add(2 * time.Minute)

	if _, err := s.Get(ctx, "sid", "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get expired: expected ErrNotFound, got %v", err)
	}
	if _, err := s.Take(ctx, "sid", "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Take expired: expected ErrNotFound, got %v", err)
	}
}

func TestMemorySessionStore_DeleteExpired(t *testing.T) {
	s, now := newTestMemoryStore(t, time.Minute)
	ctx := context.Background()
	_ = s.Set(ctx, "old", "k", "v")
	*now = now.Add(30 * time.Second)
	_ = s.Set(ctx, "new", "k", "v")
	*now = now.Add(45 * time.Second)

	s.deleteExpired()

	if s.Len() != 1 {
		t.Fatalf("expected 1 entry after purge, got %d", s.Len())
	}
	if _, err := s.Get(ctx, "new", "k"); err != nil {
		t.Errorf("fresh entry purged: %v", err)
	}
}

func TestMemorySessionStore_ConcurrentTakeSingleWinner(t *testing.T) {
	s := NewMemorySessionStore(time.Minute, 0)
	defer s.Close()
	ctx := context.Background()
	_ = s.Set(ctx, "sid", "k", "v")

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Take(ctx, "sid", "k"); err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("expected exactly one successful Take, got %d", wins)
	}
}

func TestMemorySessionStore_CloseIdempotent(t *testing.T) {
	s := NewMemorySessionStore(time.Minute, time.Millisecond)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
}
