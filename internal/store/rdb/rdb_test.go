package rdb

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"tessera.org/internal/auth"
	"tessera.org/internal/store/memory"
)

type fakeRedis struct {
	mu   sync.Mutex
	keys map[string]time.Duration
	err  error
	hits int
}

func newFakeRedis() *fakeRedis { return &fakeRedis{keys: map[string]time.Duration{}} }

func (f *fakeRedis) Exists(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	var n int64
	for _, k := range keys {
		if _, ok := f.keys[k]; ok {
			n++
		}
	}
	f.hits += int(n)
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, _ any, ttl time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.keys[key] = ttl
	return redis.NewStatusResult("OK", nil)
}

func TestCacheWritesThrough(t *testing.T) {
	backing := memory.New().InvalidTokens()
	fake := newFakeRedis()
	cache := NewInvalidTokenCache(backing, fake, time.Hour)
	ctx := context.Background()

	if err := cache.SaveAll(ctx, []auth.InvalidToken{{TokenID: "jti-1", CreatedAt: time.Now()}}); err != nil {
		t.Fatalf("SaveAll: %v", err)
	}
	if ttl, ok := fake.keys[keyPrefix+"jti-1"]; !ok || ttl != time.Hour {
		t.Fatalf("key not cached with ttl: %v %v", ttl, ok)
	}
	if _, err := backing.FindByTokenID(ctx, "jti-1"); err != nil {
		t.Fatalf("backing store must hold the record: %v", err)
	}
	if _, err := cache.FindByTokenID(ctx, "jti-1"); err != nil {
		t.Fatalf("FindByTokenID: %v", err)
	}
	if fake.hits != 1 {
		t.Fatalf("expected a cache hit, got %d", fake.hits)
	}
	if _, err := cache.FindByTokenID(ctx, "jti-2"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCacheBackfillsFromStore(t *testing.T) {
	backing := memory.New().InvalidTokens()
	ctx := context.Background()
	_ = backing.SaveAll(ctx, []auth.InvalidToken{{TokenID: "jti-1", CreatedAt: time.Now()}})
	fake := newFakeRedis()
	cache := NewInvalidTokenCache(backing, fake, time.Hour)

	if _, err := cache.FindByTokenID(ctx, "jti-1"); err != nil {
		t.Fatalf("FindByTokenID: %v", err)
	}
	if _, ok := fake.keys[keyPrefix+"jti-1"]; !ok {
		t.Fatal("miss must backfill the cache")
	}
}

func TestCacheDegradesWhenRedisFails(t *testing.T) {
	backing := memory.New().InvalidTokens()
	fake := newFakeRedis()
	fake.err = errors.New("connection refused")
	cache := NewInvalidTokenCache(backing, fake, 0)
	ctx := context.Background()

	if err := cache.SaveAll(ctx, []auth.InvalidToken{{TokenID: "jti-1", CreatedAt: time.Now()}}); err != nil {
		t.Fatalf("SaveAll must succeed without redis: %v", err)
	}
	if _, err := cache.FindByTokenID(ctx, "jti-1"); err != nil {
		t.Fatalf("lookup must fall back to the store: %v", err)
	}
	n, err := cache.DeleteAllCreatedBefore(ctx, time.Now().Add(time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("DeleteAllCreatedBefore = %d, %v", n, err)
	}
}
