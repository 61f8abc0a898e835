// Package rdb puts Redis in front of the invalidation ledger so the bearer
// filter does not hit PostgreSQL for every revoked-token lookup.
package rdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"tessera.org/internal/auth"
	"tessera.org/internal/config"
	"tessera.org/internal/obs"
)

const keyPrefix = "tessera:invalid_token:"

// NewClient connects and pings with a short timeout.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// commands is the part of *redis.Client the cache uses.
type commands interface {
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// InvalidTokenCache is a write-through cache over an auth.InvalidTokenStore.
// Entries expire after ttl, which should cover the refresh token lifetime.
// Redis failures degrade to the backing store.
type InvalidTokenCache struct {
	next  auth.InvalidTokenStore
	redis commands
	ttl   time.Duration
}

var _ auth.InvalidTokenStore = (*InvalidTokenCache)(nil)

func NewInvalidTokenCache(next auth.InvalidTokenStore, client commands, ttl time.Duration) *InvalidTokenCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &InvalidTokenCache{next: next, redis: client, ttl: ttl}
}

// TTL reports how long cached entries live.
func (c *InvalidTokenCache) TTL() time.Duration { return c.ttl }

func (c *InvalidTokenCache) FindByTokenID(ctx context.Context, tokenID string) (*auth.InvalidToken, error) {
	n, err := c.redis.Exists(ctx, keyPrefix+tokenID).Result()
	if err != nil {
		logFailure("exists", err)
	} else if n > 0 {
		return &auth.InvalidToken{TokenID: tokenID}, nil
	}

	tok, err := c.next.FindByTokenID(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	c.remember(ctx, tok.TokenID)
	return tok, nil
}

func (c *InvalidTokenCache) SaveAll(ctx context.Context, tokens []auth.InvalidToken) error {
	if err := c.next.SaveAll(ctx, tokens); err != nil {
		return err
	}
	for _, t := range tokens {
		c.remember(ctx, t.TokenID)
	}
	return nil
}

// DeleteAllCreatedBefore only touches the backing store; cached keys expire on their own.
func (c *InvalidTokenCache) DeleteAllCreatedBefore(ctx context.Context, threshold time.Time) (int64, error) {
	return c.next.DeleteAllCreatedBefore(ctx, threshold)
}

func (c *InvalidTokenCache) remember(ctx context.Context, tokenID string) {
	if err := c.redis.Set(ctx, keyPrefix+tokenID, "1", c.ttl).Err(); err != nil {
		logFailure("set", err)
	}
}

func logFailure(op string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	obs.Logger().Warn("invalid_token_cache_error",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
}
