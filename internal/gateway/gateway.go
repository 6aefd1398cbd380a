// Package gateway implements the aggregating MCP gateway core: it owns the
// backend clients, the router, the middleware chain, and the merged tool
// index, and orchestrates every tool call from routing to backend dispatch.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/mcpgate/mcpgate/internal/config"
	"github.com/mcpgate/mcpgate/internal/middleware"
	"github.com/mcpgate/mcpgate/internal/observe"
	"github.com/mcpgate/mcpgate/internal/routing"
)

// backendClient is the contract the gateway core needs from a backend.
// [*Backend] is the production implementation.
type backendClient interface {
	Name() string
	Connect(ctx context.Context) error
	ListTools(ctx context.Context) ([]ToolInfo, error)
	InvalidateToolCache()
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
	Close() error
	Connected() bool
}

var _ backendClient = (*Backend)(nil)

// Gateway multiplexes tool calls across the configured backends. Construct
// with [New], establish sessions with [Gateway.Connect], and expose the
// aggregated surface to clients via [Gateway.NewServer].
type Gateway struct {
	cfg      config.GatewayConfig
	router   *routing.Router
	backends map[string]backendClient
	order    []string // backend names, sorted; fixes first-wins tie-breaking
	mws      []middleware.Middleware
	metrics  *observe.Metrics

	mu    sync.RWMutex
	index map[string]ToolInfo
}

// Option customises gateway construction.
type Option func(*gatewayOptions)

type gatewayOptions struct {
	wrapTransport func(mcp.Transport) mcp.Transport
}

// WithTransportWrapper wraps every backend transport with fn at connect
// time, typically to intercept traffic for analytics.
func WithTransportWrapper(fn func(mcp.Transport) mcp.Transport) Option {
	return func(o *gatewayOptions) { o.wrapTransport = fn }
}

// New builds a Gateway from cfg with the given middleware chain. Backends
// are created but not connected; routing rules are compiled eagerly so
// configuration errors surface here.
func New(cfg config.GatewayConfig, mws []middleware.Middleware, opts ...Option) (*Gateway, error) {
	var o gatewayOptions
	for _, opt := range opts {
		opt(&o)
	}

	backends := make(map[string]backendClient, len(cfg.Servers))
	for name, backendCfg := range cfg.Servers {
		b := NewBackend(name, backendCfg)
		if o.wrapTransport != nil {
			b.WrapTransport(o.wrapTransport)
		}
		backends[name] = b
	}
	return newGateway(cfg, backends, mws)
}

func newGateway(cfg config.GatewayConfig, backends map[string]backendClient, mws []middleware.Middleware) (*Gateway, error) {
	router, err := routing.NewRouter(cfg.Routing)
	if err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}

	order := slices.Sorted(maps.Keys(backends))

	return &Gateway{
		cfg:      cfg,
		router:   router,
		backends: backends,
		order:    order,
		mws:      mws,
		metrics:  observe.DefaultMetrics(),
		index:    make(map[string]ToolInfo),
	}, nil
}

// Connect establishes sessions to all backends concurrently, then builds the
// initial tool index. Failure of any backend fails the whole call; backends
// that did connect stay connected and are reported by [Gateway.Backends].
func (g *Gateway) Connect(ctx context.Context) error {
	eg, egCtx := errgroup.WithContext(ctx)
	for _, backend := range g.backends {
		eg.Go(func() error {
			return backend.Connect(egCtx)
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	slog.Info("all backends connected", "count", len(g.backends))
	return g.RefreshToolIndex(ctx)
}

// RefreshToolIndex re-lists every backend's tools, aggregates them with
// first-wins deduplication, and atomically replaces the index.
func (g *Gateway) RefreshToolIndex(ctx context.Context) error {
	var (
		listsMu   sync.Mutex
		byBackend = make(map[string][]ToolInfo, len(g.backends))
	)

	eg, egCtx := errgroup.WithContext(ctx)
	for name, backend := range g.backends {
		eg.Go(func() error {
			tools, err := backend.ListTools(egCtx)
			if err != nil {
				return err
			}
			listsMu.Lock()
			byBackend[name] = tools
			listsMu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	merged := aggregateTools(g.order, byBackend)
	index := make(map[string]ToolInfo, len(merged))
	for _, tool := range merged {
		index[tool.Name] = tool
	}

	g.mu.Lock()
	g.index = index
	g.mu.Unlock()

	slog.Info("tool index refreshed", "tools", len(index))
	return nil
}

// Tools returns a snapshot of the aggregated index sorted by tool name.
func (g *Gateway) Tools() []ToolInfo {
	g.mu.RLock()
	defer g.mu.RUnlock()

	tools := make([]ToolInfo, 0, len(g.index))
	for _, name := range slices.Sorted(maps.Keys(g.index)) {
		tools = append(tools, g.index[name])
	}
	return tools
}

// Tool looks up one tool by name in the aggregated index.
func (g *Gateway) Tool(name string) (ToolInfo, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	tool, ok := g.index[name]
	return tool, ok
}

// CallTool routes the named call to its backend through the middleware
// chain. Every failure mode is converted into a structured MCP error result;
// the returned error is always nil so callers never see raw failures.
func (g *Gateway) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	server, ok := g.router.Resolve(name)
	if !ok {
		return callError(fmt.Sprintf("No routing rule matches tool %q", name)), nil
	}
	backend, ok := g.backends[server]
	if !ok {
		return callError(fmt.Sprintf("Backend not found: %q", server)), nil
	}

	if args == nil {
		args = map[string]any{}
	}
	call := &middleware.Call{Tool: name, Arguments: args, Server: server}

	start := time.Now()
	result, err := middleware.Run(ctx, g.mws, call, func(ctx context.Context, call *middleware.Call) (*mcp.CallToolResult, error) {
		backendStart := time.Now()
		res, callErr := backend.CallTool(ctx, call.Tool, call.Arguments)
		g.metrics.BackendCallDuration.Record(ctx, time.Since(backendStart).Seconds())
		if callErr != nil {
			g.metrics.RecordBackendError(ctx, call.Server)
		}
		return res, callErr
	})
	g.metrics.ToolCallDuration.Record(ctx, time.Since(start).Seconds())

	if err != nil {
		g.metrics.RecordToolCall(ctx, name, server, "error")
		slog.Warn("tool call failed",
			"tool", name,
			"backend", server,
			"error", err)
		return callError("Backend error: " + err.Error()), nil
	}
	g.metrics.RecordToolCall(ctx, name, server, "ok")
	return result, nil
}

// Backends returns a snapshot of every backend's state, sorted by name.
func (g *Gateway) Backends() []BackendInfo {
	g.mu.RLock()
	toolsByBackend := make(map[string][]string)
	for name, tool := range g.index {
		toolsByBackend[tool.Backend] = append(toolsByBackend[tool.Backend], name)
	}
	g.mu.RUnlock()

	infos := make([]BackendInfo, 0, len(g.order))
	for _, name := range g.order {
		tools := toolsByBackend[name]
		slices.Sort(tools)
		infos = append(infos, BackendInfo{
			Name:      name,
			Config:    g.cfg.Servers[name],
			Connected: g.backends[name].Connected(),
			Tools:     tools,
		})
	}
	return infos
}

// Close shuts down all backends and clears the tool index. Errors are
// collected; Close attempts every backend regardless of individual failures.
func (g *Gateway) Close() error {
	var errs []error
	for _, backend := range g.backends {
		if err := backend.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	g.mu.Lock()
	g.index = make(map[string]ToolInfo)
	g.mu.Unlock()

	return errors.Join(errs...)
}

// callError synthesizes the structured MCP error result the gateway returns
// in place of raw failures.
func callError(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}
