// Package middleware implements the ordered interception chain applied to
// every gateway tool call.
//
// A [Middleware] wraps the dispatch of one call: it may inspect or mutate the
// shared [Call], invoke next to continue the chain, or return a result
// without calling next to short-circuit. Chains compose onion-style, so for
// middlewares [A, B] around handler H the observable order is
// A.pre, B.pre, H, B.post, A.post.
//
// Built-in middlewares:
//
//   - [NewFilter] — allow/deny glob policy.
//   - [NewCache] — result caching over a [cache.Store].
//   - [NewTransform] — before/after hooks on call and result.
//   - [NewBreaker] — circuit breaker around the downstream handler.
package middleware

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Call is the mutable per-call context shared by every middleware in a chain
// and by the final handler. Middlewares that change Arguments do so in place,
// so later stages observe the updates.
type Call struct {
	// Tool is the aggregated tool name as requested by the client.
	Tool string

	// Arguments are the decoded tool arguments.
	Arguments map[string]any

	// Server is the backend name the router resolved the call to.
	Server string
}

// Handler runs the terminal stage of a chain, typically the backend call.
type Handler func(ctx context.Context, call *Call) (*mcp.CallToolResult, error)

// Next re-enters the chain from inside a middleware. The shared [Call] is
// carried implicitly; mutations made before calling Next are visible
// downstream.
type Next func(ctx context.Context) (*mcp.CallToolResult, error)

// Middleware wraps one stage of call dispatch. Returning without invoking
// next short-circuits the remainder of the chain, including the handler.
type Middleware func(ctx context.Context, call *Call, next Next) (*mcp.CallToolResult, error)

// Run executes mws in index order around final. An index cursor drives the
// recursion so that a short-circuiting middleware never pays for building
// closures it will not call.
func Run(ctx context.Context, mws []Middleware, call *Call, final Handler) (*mcp.CallToolResult, error) {
	var step func(ctx context.Context, i int) (*mcp.CallToolResult, error)
	step = func(ctx context.Context, i int) (*mcp.CallToolResult, error) {
		if i >= len(mws) {
			return final(ctx, call)
		}
		return mws[i](ctx, call, func(ctx context.Context) (*mcp.CallToolResult, error) {
			return step(ctx, i+1)
		})
	}
	return step(ctx, 0)
}

// errorResult synthesizes an MCP error result with a single text block.
func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}
