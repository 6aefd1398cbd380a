package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcpgate/mcpgate/internal/resilience"
)

// TestBreakerOpensAfterFailures verifies that repeated transport failures
// trip the breaker and subsequent calls fail fast without reaching the
// handler.
func TestBreakerOpensAfterFailures(t *testing.T) {
	t.Parallel()

	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "test",
		MaxFailures:  2,
		ResetTimeout: time.Hour,
	})
	mw := NewBreaker(cb)

	calls := 0
	failing := func(context.Context, *Call) (*mcp.CallToolResult, error) {
		calls++
		return nil, errors.New("backend unreachable")
	}

	for i := 0; i < 2; i++ {
		if _, err := Run(context.Background(), []Middleware{mw}, &Call{Tool: "t"}, failing); err == nil {
			t.Fatal("expected failure")
		}
	}

	_, err := Run(context.Background(), []Middleware{mw}, &Call{Tool: "t"}, failing)
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("error = %v, want ErrCircuitOpen", err)
	}
	if calls != 2 {
		t.Errorf("handler invoked %d times, want 2 (open breaker must fail fast)", calls)
	}
}

// TestBreakerIgnoresToolErrors verifies that results flagged IsError do not
// count as breaker failures.
func TestBreakerIgnoresToolErrors(t *testing.T) {
	t.Parallel()

	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:        "test",
		MaxFailures: 1,
	})
	mw := NewBreaker(cb)

	toolError := func(context.Context, *Call) (*mcp.CallToolResult, error) {
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{&mcp.TextContent{Text: "bad arguments"}},
		}, nil
	}

	for i := 0; i < 3; i++ {
		result, err := Run(context.Background(), []Middleware{mw}, &Call{Tool: "t"}, toolError)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if !result.IsError {
			t.Fatal("lost IsError flag through breaker")
		}
	}
	if got := cb.State(); got != resilience.StateClosed {
		t.Errorf("breaker state = %v, want closed", got)
	}
}

// TestBreakerPassesResults verifies the happy path is a transparent wrap.
func TestBreakerPassesResults(t *testing.T) {
	t.Parallel()

	mw := NewBreaker(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "test"}))
	result, err := Run(context.Background(), []Middleware{mw}, &Call{Tool: "t"},
		func(context.Context, *Call) (*mcp.CallToolResult, error) {
			return textResult("ok"), nil
		})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := resultText(t, result); got != "ok" {
		t.Errorf("result = %q, want %q", got, "ok")
	}
}
