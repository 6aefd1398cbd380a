package gateway

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcpgate/mcpgate/internal/config"
	"github.com/mcpgate/mcpgate/internal/middleware"
	"github.com/mcpgate/mcpgate/internal/routing"
)

// fakeBackend is an in-memory backendClient for gateway tests.
type fakeBackend struct {
	name      string
	tools     []ToolInfo
	connected bool

	connectErr error
	listErr    error
	callErr    error

	calls []string // tool names in call order
}

func (f *fakeBackend) Name() string    { return f.name }
func (f *fakeBackend) Connected() bool { return f.connected }

func (f *fakeBackend) Connect(context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeBackend) ListTools(context.Context) ([]ToolInfo, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.tools, nil
}

func (f *fakeBackend) InvalidateToolCache() {}

func (f *fakeBackend) CallTool(_ context.Context, name string, _ map[string]any) (*mcp.CallToolResult, error) {
	f.calls = append(f.calls, name)
	if f.callErr != nil {
		return nil, f.callErr
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: f.name + ":" + name}},
	}, nil
}

func (f *fakeBackend) Close() error {
	f.connected = false
	return nil
}

func tool(name, backend string) ToolInfo {
	return ToolInfo{Name: name, Backend: backend}
}

// newTestGateway builds a gateway over fake backends and connects it.
func newTestGateway(t *testing.T, rules []routing.Rule, mws []middleware.Middleware, backends ...*fakeBackend) *Gateway {
	t.Helper()

	m := make(map[string]backendClient, len(backends))
	for _, b := range backends {
		m[b.name] = b
	}
	g, err := newGateway(config.GatewayConfig{Name: "test", Version: "0.0.1", Routing: rules}, m, mws)
	if err != nil {
		t.Fatalf("newGateway: %v", err)
	}
	if err := g.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return g
}

func callText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil || len(result.Content) == 0 {
		t.Fatal("result has no content")
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("content[0] is %T, want *mcp.TextContent", result.Content[0])
	}
	return tc.Text
}

func TestAggregateFirstWins(t *testing.T) {
	t.Parallel()

	byBackend := map[string][]ToolInfo{
		"a": {tool("shared", "a"), tool("a_only", "a")},
		"b": {tool("shared", "b"), tool("b_only", "b")},
	}

	merged := aggregateTools([]string{"a", "b"}, byBackend)
	if len(merged) != 3 {
		t.Fatalf("len(merged) = %d, want 3", len(merged))
	}
	for _, tl := range merged {
		if tl.Name == "shared" && tl.Backend != "a" {
			t.Errorf("shared tool resolved to %q, want first backend a", tl.Backend)
		}
	}

	// Reversed order flips the winner.
	merged = aggregateTools([]string{"b", "a"}, byBackend)
	for _, tl := range merged {
		if tl.Name == "shared" && tl.Backend != "b" {
			t.Errorf("shared tool resolved to %q, want b", tl.Backend)
		}
	}
}

func TestConnectBuildsIndex(t *testing.T) {
	t.Parallel()

	g := newTestGateway(t,
		[]routing.Rule{{Pattern: "*", Server: "a"}},
		nil,
		&fakeBackend{name: "a", tools: []ToolInfo{tool("ping", "a"), tool("echo", "a")}},
	)

	tools := g.Tools()
	if len(tools) != 2 {
		t.Fatalf("len(Tools()) = %d, want 2", len(tools))
	}
	if _, ok := g.Tool("ping"); !ok {
		t.Error("tool ping missing from index")
	}
}

func TestConnectFailsWhole(t *testing.T) {
	t.Parallel()

	m := map[string]backendClient{
		"good": &fakeBackend{name: "good"},
		"bad":  &fakeBackend{name: "bad", connectErr: errors.New("refused")},
	}
	g, err := newGateway(config.GatewayConfig{}, m, nil)
	if err != nil {
		t.Fatalf("newGateway: %v", err)
	}
	if err := g.Connect(context.Background()); err == nil {
		t.Fatal("Connect succeeded despite failing backend")
	}
}

// TestCallToolRouting verifies pattern dispatch with a wildcard fallback.
func TestCallToolRouting(t *testing.T) {
	t.Parallel()

	a := &fakeBackend{name: "a", tools: []ToolInfo{tool("a_ping", "a")}}
	b := &fakeBackend{name: "b", tools: []ToolInfo{tool("other", "b")}}
	g := newTestGateway(t, []routing.Rule{
		{Pattern: "a_*", Server: "a"},
		{Pattern: "*", Server: "b"},
	}, nil, a, b)

	result, err := g.CallTool(context.Background(), "a_ping", nil)
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if got := callText(t, result); got != "a:a_ping" {
		t.Errorf("result = %q, want %q", got, "a:a_ping")
	}

	result, _ = g.CallTool(context.Background(), "other", nil)
	if got := callText(t, result); got != "b:other" {
		t.Errorf("fallback result = %q, want %q", got, "b:other")
	}
}

func TestCallToolNoRoute(t *testing.T) {
	t.Parallel()

	g := newTestGateway(t,
		[]routing.Rule{{Pattern: "a_*", Server: "a"}},
		nil,
		&fakeBackend{name: "a"},
	)

	result, err := g.CallTool(context.Background(), "unrouted", nil)
	if err != nil {
		t.Fatalf("CallTool returned raw error: %v", err)
	}
	if !result.IsError {
		t.Fatal("missing route not flagged IsError")
	}
	if got := callText(t, result); !strings.Contains(got, "No routing rule matches") {
		t.Errorf("result text = %q", got)
	}
}

func TestCallToolBackendNotFound(t *testing.T) {
	t.Parallel()

	// Rule points at a backend that was never constructed. Router compilation
	// is bypassed by building the gateway directly.
	m := map[string]backendClient{"a": &fakeBackend{name: "a"}}
	g, err := newGateway(config.GatewayConfig{
		Routing: []routing.Rule{{Pattern: "*", Server: "ghost"}},
	}, m, nil)
	if err != nil {
		t.Fatalf("newGateway: %v", err)
	}

	result, err := g.CallTool(context.Background(), "anything", nil)
	if err != nil {
		t.Fatalf("CallTool returned raw error: %v", err)
	}
	if !result.IsError {
		t.Fatal("missing backend not flagged IsError")
	}
	if got := callText(t, result); !strings.Contains(got, "Backend not found") {
		t.Errorf("result text = %q", got)
	}
}

// TestCallToolBackendErrorConversion verifies transport failures become
// structured error results rather than raw errors.
func TestCallToolBackendErrorConversion(t *testing.T) {
	t.Parallel()

	a := &fakeBackend{name: "a", callErr: errors.New("connection reset")}
	g := newTestGateway(t, []routing.Rule{{Pattern: "*", Server: "a"}}, nil, a)

	result, err := g.CallTool(context.Background(), "t", nil)
	if err != nil {
		t.Fatalf("CallTool returned raw error: %v", err)
	}
	if !result.IsError {
		t.Fatal("backend failure not flagged IsError")
	}
	got := callText(t, result)
	if !strings.HasPrefix(got, "Backend error: ") || !strings.Contains(got, "connection reset") {
		t.Errorf("result text = %q", got)
	}
}

// TestCallToolFilterShortCircuits verifies a deny filter stops the call
// before the backend.
func TestCallToolFilterShortCircuits(t *testing.T) {
	t.Parallel()

	filter, err := middleware.NewFilter(middleware.FilterConfig{Deny: []string{"danger*"}})
	if err != nil {
		t.Fatalf("NewFilter: %v", err)
	}
	a := &fakeBackend{name: "a"}
	g := newTestGateway(t, []routing.Rule{{Pattern: "*", Server: "a"}},
		[]middleware.Middleware{filter}, a)

	result, err := g.CallTool(context.Background(), "danger_rm", map[string]any{})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !result.IsError {
		t.Fatal("denied call not flagged IsError")
	}
	if len(a.calls) != 0 {
		t.Errorf("backend invoked %d times, want 0", len(a.calls))
	}
}

func TestBackendsSnapshot(t *testing.T) {
	t.Parallel()

	a := &fakeBackend{name: "a", tools: []ToolInfo{tool("ping", "a")}}
	b := &fakeBackend{name: "b", tools: []ToolInfo{tool("echo", "b")}}
	g := newTestGateway(t, nil, nil, a, b)

	infos := g.Backends()
	if len(infos) != 2 {
		t.Fatalf("len(Backends()) = %d, want 2", len(infos))
	}
	// Sorted by name.
	if infos[0].Name != "a" || infos[1].Name != "b" {
		t.Errorf("backend order = %s, %s", infos[0].Name, infos[1].Name)
	}
	if !infos[0].Connected {
		t.Error("connected backend reported as disconnected")
	}
	if len(infos[0].Tools) != 1 || infos[0].Tools[0] != "ping" {
		t.Errorf("backend a tools = %v", infos[0].Tools)
	}
}

// TestBackendsSnapshotCarriesConfig verifies the snapshot exposes each
// backend's loaded configuration alongside its runtime state.
func TestBackendsSnapshotCarriesConfig(t *testing.T) {
	t.Parallel()

	cfg := config.GatewayConfig{
		Name:    "test",
		Version: "0.0.1",
		Servers: map[string]config.BackendConfig{
			"docs": {
				URL:     "http://127.0.0.1:9/mcp",
				Headers: map[string]string{"Authorization": "Bearer t0ken"},
			},
		},
	}
	m := map[string]backendClient{"docs": &fakeBackend{name: "docs"}}
	g, err := newGateway(cfg, m, nil)
	if err != nil {
		t.Fatalf("newGateway: %v", err)
	}

	infos := g.Backends()
	if len(infos) != 1 {
		t.Fatalf("len(Backends()) = %d, want 1", len(infos))
	}
	if infos[0].Config.URL != cfg.Servers["docs"].URL {
		t.Errorf("Config.URL = %q, want %q", infos[0].Config.URL, cfg.Servers["docs"].URL)
	}
	if infos[0].Config.Headers["Authorization"] != "Bearer t0ken" {
		t.Errorf("Config.Headers = %v, want the configured headers", infos[0].Config.Headers)
	}
}

// TestCloseClearsIndex verifies connect → close → connect round-trips.
func TestCloseClearsIndex(t *testing.T) {
	t.Parallel()

	a := &fakeBackend{name: "a", tools: []ToolInfo{tool("ping", "a")}}
	g := newTestGateway(t, nil, nil, a)

	if err := g.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(g.Tools()) != 0 {
		t.Error("tool index not cleared by Close")
	}
	if a.connected {
		t.Error("backend still connected after Close")
	}

	if err := g.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if len(g.Tools()) != 1 {
		t.Error("index not rebuilt after reconnect")
	}
}
