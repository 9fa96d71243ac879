// Package cache keeps read-through copies of server-side collections.
package cache

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/basket-sync/internal/model"
)

// DefaultTTL is the base lifetime of a cached collection.
const DefaultTTL = 15 * time.Minute

// ErrCacheMiss is returned when no entry exists for a key.
var ErrCacheMiss = errors.New("cache miss")

// CollectionCache stores encoded collections per user and kind.
type CollectionCache interface {
	Get(ctx context.Context, kind model.Kind, userID string) ([]byte, error)
	Set(ctx context.Context, kind model.Kind, userID string, data []byte) error
	Delete(ctx context.Context, kind model.Kind, userID string) error
}

// RedisCache implements CollectionCache on Redis strings.
type RedisCache struct {
	client  *redis.Client
	baseTTL time.Duration
}

// NewRedisCache creates a cache over client. A non-positive ttl uses DefaultTTL.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &RedisCache{
		client:  client,
		baseTTL: ttl,
	}
}

// Get returns the cached collection or ErrCacheMiss.
func (r *RedisCache) Get(ctx context.Context, kind model.Kind, userID string) ([]byte, error) {
	data, err := r.client.Get(ctx, Key(kind, userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	return data, nil
}

// Set stores data with the base TTL plus up to a fifth of it as jitter, so
// entries written together do not expire together.
func (r *RedisCache) Set(ctx context.Context, kind model.Kind, userID string, data []byte) error {
	ttl := r.baseTTL + time.Duration(rand.Int63n(int64(r.baseTTL/5)+1))

	if err := r.client.Set(ctx, Key(kind, userID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete drops the cached collection.
func (r *RedisCache) Delete(ctx context.Context, kind model.Kind, userID string) error {
	if err := r.client.Del(ctx, Key(kind, userID)).Err(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// Key returns the Redis key for a user's collection.
func Key(kind model.Kind, userID string) string {
	return fmt.Sprintf("basket:%s:%s", kind, userID)
}
