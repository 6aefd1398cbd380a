package middleware

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// TransformConfig holds the optional hooks of a [NewTransform] middleware.
type TransformConfig struct {
	// Before runs ahead of the rest of the chain and may mutate the call in
	// place; downstream middlewares and the handler see the mutations.
	Before func(call *Call)

	// After runs once the chain returns successfully and may replace the
	// result. Returning nil keeps the original result.
	After func(result *mcp.CallToolResult) *mcp.CallToolResult
}

// NewTransform builds a middleware applying cfg's hooks around the chain.
// Either hook may be absent.
func NewTransform(cfg TransformConfig) Middleware {
	return func(ctx context.Context, call *Call, next Next) (*mcp.CallToolResult, error) {
		if cfg.Before != nil {
			cfg.Before(call)
		}

		result, err := next(ctx)
		if err != nil {
			return result, err
		}

		if cfg.After != nil {
			if rewritten := cfg.After(result); rewritten != nil {
				result = rewritten
			}
		}
		return result, nil
	}
}
