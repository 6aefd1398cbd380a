package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/redis/go-redis/v9"
)

// redisKeyPrefix namespaces gateway cache entries inside a shared Redis.
const redisKeyPrefix = "mcpgate:cache:"

// RedisStore is a Redis-backed [Store] for sharing cached results across
// gateway instances. Canonical keys are hashed before use so arbitrarily
// large argument payloads stay within Redis key limits.
//
// The gateway treats custom stores as unbounded: no FIFO eviction is
// attempted, expiry is delegated to Redis TTLs.
type RedisStore struct {
	client *redis.Client
}

// Compile-time check: RedisStore must implement Store.
var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a RedisStore talking to the Redis instance at addr
// (e.g. "localhost:6379").
func NewRedisStore(addr string) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{Addr: addr}),
	}
}

// NewRedisStoreFromClient wraps an existing client. Useful in tests.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Get returns the stored result for key, or (nil, nil) when absent or
// expired. Redis handles expiry; an expired key is simply absent.
func (s *RedisStore) Get(ctx context.Context, key string) (*mcp.CallToolResult, error) {
	b, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache: redis get: %w", err)
	}

	var result mcp.CallToolResult
	if err := json.Unmarshal(b, &result); err != nil {
		return nil, fmt.Errorf("cache: decode cached result: %w", err)
	}
	return &result, nil
}

// Set stores result under key with the given ttl. A zero or negative ttl
// means "already expired": the key is removed instead of stored, matching
// the in-memory store's read-side behaviour.
func (s *RedisStore) Set(ctx context.Context, key string, result *mcp.CallToolResult, ttl time.Duration) error {
	if ttl <= 0 {
		return s.Delete(ctx, key)
	}

	b, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("cache: encode result: %w", err)
	}
	if err := s.client.Set(ctx, s.redisKey(key), b, ttl).Err(); err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is a no-op.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("cache: redis delete: %w", err)
	}
	return nil
}

// Close releases the underlying Redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// redisKey hashes the canonical key into a fixed-length namespaced key.
func (*RedisStore) redisKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return redisKeyPrefix + hex.EncodeToString(sum[:])
}
