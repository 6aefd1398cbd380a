package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcpgate/mcpgate/internal/cache"
	"github.com/mcpgate/mcpgate/internal/observe"
)

// CacheConfig tunes a [NewCache] middleware.
type CacheConfig struct {
	// TTL is how long a stored result stays usable.
	TTL time.Duration

	// Store is the backend to cache into. When nil, an in-process
	// [cache.MemoryStore] with MaxSize capacity is used.
	Store cache.Store

	// MaxSize bounds the default in-memory store. Ignored when Store is set;
	// custom stores manage their own capacity.
	MaxSize int
}

// NewCache builds a middleware that serves repeated tool calls from cfg.Store.
// Hits short-circuit the chain. Misses run the chain and store the result,
// but only when the result is not an error. A failing store fails the call:
// Get and Set errors propagate out of the chain so the gateway surfaces them
// as backend errors.
func NewCache(cfg CacheConfig) Middleware {
	store := cfg.Store
	if store == nil {
		store = cache.NewMemoryStore(cfg.MaxSize)
	}
	metrics := observe.DefaultMetrics()

	return func(ctx context.Context, call *Call, next Next) (*mcp.CallToolResult, error) {
		key, err := cache.Key(call.Tool, call.Arguments)
		if err != nil {
			// Unkeyable arguments bypass the cache.
			slog.Warn("cache middleware: unkeyable call, bypassing",
				"tool", call.Tool,
				"error", err)
			return next(ctx)
		}

		hit, err := store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("middleware: cache lookup for tool %q: %w", call.Tool, err)
		}
		if hit != nil {
			metrics.RecordCacheEvent(ctx, "hit")
			return hit, nil
		}
		metrics.RecordCacheEvent(ctx, "miss")

		result, err := next(ctx)
		if err != nil {
			return result, err
		}

		if result != nil && !result.IsError {
			if err := store.Set(ctx, key, result, cfg.TTL); err != nil {
				return nil, fmt.Errorf("middleware: cache store for tool %q: %w", call.Tool, err)
			}
		}
		return result, nil
	}
}
