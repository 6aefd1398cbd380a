package middleware

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcpgate/mcpgate/internal/resilience"
)

// NewBreaker builds a middleware that guards the downstream chain with cb.
// Transport-level failures (a non-nil error from the chain) count against
// the breaker; tool results flagged IsError do not, since the backend is
// reachable and answering.
//
// While the breaker is open, calls fail fast with [resilience.ErrCircuitOpen]
// and never reach the backend.
func NewBreaker(cb *resilience.CircuitBreaker) Middleware {
	return func(ctx context.Context, call *Call, next Next) (*mcp.CallToolResult, error) {
		var result *mcp.CallToolResult
		err := cb.Execute(func() error {
			var callErr error
			result, callErr = next(ctx)
			return callErr
		})
		if err != nil {
			return nil, err
		}
		return result, nil
	}
}
