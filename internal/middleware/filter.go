package middleware

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcpgate/mcpgate/internal/routing"
)

// FilterConfig declares which tools a [NewFilter] middleware lets through.
// Both lists hold glob patterns in the router syntax.
type FilterConfig struct {
	// Allow, when non-empty, requires every tool name to match at least one
	// pattern. An empty list allows everything not denied.
	Allow []string `yaml:"allow"`

	// Deny rejects any tool name matching one of its patterns. Deny wins
	// over Allow.
	Deny []string `yaml:"deny"`
}

// NewFilter builds a middleware enforcing cfg. A denied call returns a
// synthesized error result without reaching the backend. Pattern compilation
// errors are reported up front.
func NewFilter(cfg FilterConfig) (Middleware, error) {
	allow, err := compileGlobs(cfg.Allow)
	if err != nil {
		return nil, fmt.Errorf("middleware: filter allow: %w", err)
	}
	deny, err := compileGlobs(cfg.Deny)
	if err != nil {
		return nil, fmt.Errorf("middleware: filter deny: %w", err)
	}

	return func(ctx context.Context, call *Call, next Next) (*mcp.CallToolResult, error) {
		if anyMatch(deny, call.Tool) {
			return errorResult(fmt.Sprintf("Tool %q is denied by filter policy", call.Tool)), nil
		}
		if len(allow) > 0 && !anyMatch(allow, call.Tool) {
			return errorResult(fmt.Sprintf("Tool %q is denied by filter policy", call.Tool)), nil
		}
		return next(ctx)
	}, nil
}

func compileGlobs(patterns []string) ([]*routing.Matcher, error) {
	matchers := make([]*routing.Matcher, 0, len(patterns))
	for _, p := range patterns {
		m, err := routing.CompileGlob(p)
		if err != nil {
			return nil, err
		}
		matchers = append(matchers, m)
	}
	return matchers, nil
}

func anyMatch(matchers []*routing.Matcher, name string) bool {
	for _, m := range matchers {
		if m.Match(name) {
			return true
		}
	}
	return false
}
