// Package cache provides pluggable result caching for gateway tool calls.
//
// The central contract is [Store], a three-operation key/value interface
// (Get/Set/Delete) that middleware awaits on every call, so implementations
// may be network-backed. Two implementations ship with the gateway:
//
//   - [MemoryStore] — insertion-ordered in-memory store with TTL expiry and
//     FIFO eviction at a configurable capacity.
//   - [RedisStore] — Redis-backed store for deployments that share a cache
//     across gateway instances.
//
// Cache keys are produced by [Key], a canonical JSON encoding of the tool
// name and arguments that is byte-stable under map key reordering.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Store is the pluggable cache backend contract. All implementations must be
// safe for concurrent use.
//
// Get returns (nil, nil) on a miss; an entry whose TTL has elapsed counts as
// a miss. Set with a zero or negative ttl stores an entry that is already
// expired and therefore unusable on any subsequent read.
type Store interface {
	Get(ctx context.Context, key string) (*mcp.CallToolResult, error)
	Set(ctx context.Context, key string, result *mcp.CallToolResult, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Key builds the canonical cache key for a tool call. The key is a JSON
// encoding of {tool, args} in which every object level has its keys sorted
// ascending by Unicode code point, arrays keep their order, and scalars are
// unchanged. Two argument maps that differ only in key order produce
// byte-equal keys.
func Key(tool string, args any) (string, error) {
	norm, err := normalize(args)
	if err != nil {
		return "", fmt.Errorf("cache: canonicalize args for tool %q: %w", tool, err)
	}

	payload := struct {
		Tool string `json:"tool"`
		Args any    `json:"args"`
	}{Tool: tool, Args: norm}

	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("cache: encode key for tool %q: %w", tool, err)
	}
	return string(b), nil
}

// normalize round-trips v through JSON so that every object becomes a
// map[string]any, which encoding/json serializes with sorted keys.
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
