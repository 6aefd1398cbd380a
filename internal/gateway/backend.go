package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"slices"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcpgate/mcpgate/internal/config"
	"github.com/mcpgate/mcpgate/internal/observe"
)

// ErrNotConnected is returned by backend operations invoked before Connect
// or after Close.
var ErrNotConnected = errors.New("gateway: backend not connected")

// Backend is a client for one upstream MCP server, reached over streamable
// HTTP or a stdio child process depending on its configuration. Tool listings
// are memoized until [Backend.InvalidateToolCache].
//
// Safe for concurrent use. Reconnection is not automatic: after a failed or
// closed session the backend stays disconnected until Connect is called
// again.
type Backend struct {
	name    string
	cfg     config.BackendConfig
	wrap    func(mcp.Transport) mcp.Transport
	metrics *observe.Metrics

	mu      sync.Mutex
	session *mcp.ClientSession
	tools   []ToolInfo
}

// NewBackend creates an unconnected backend for cfg.
func NewBackend(name string, cfg config.BackendConfig) *Backend {
	return &Backend{name: name, cfg: cfg, metrics: observe.DefaultMetrics()}
}

// Name returns the backend's configured name.
func (b *Backend) Name() string { return b.name }

// WrapTransport installs fn to wrap the transport built at Connect time.
// Used to layer call interception onto backend traffic. Must be called
// before Connect.
func (b *Backend) WrapTransport(fn func(mcp.Transport) mcp.Transport) {
	b.wrap = fn
}

// Connected reports whether the backend holds a live session.
func (b *Backend) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session != nil
}

// Connect establishes the MCP session. Connecting an already-connected
// backend is a no-op.
func (b *Backend) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session != nil {
		return nil
	}

	transport, err := b.transport(ctx)
	if err != nil {
		return err
	}
	if b.wrap != nil {
		transport = b.wrap(transport)
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "mcpgate", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("gateway: connect backend %q: %w", b.name, err)
	}
	b.session = session
	b.metrics.ConnectedBackends.Add(ctx, 1)
	return nil
}

// transport builds the SDK transport for the configured variant.
func (b *Backend) transport(ctx context.Context) (mcp.Transport, error) {
	switch {
	case b.cfg.IsStdio():
		cmd := exec.CommandContext(ctx, b.cfg.Command, b.cfg.Args...)
		cmd.Env = os.Environ()
		for k, v := range b.cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		return &mcp.CommandTransport{Command: cmd}, nil

	case b.cfg.IsHTTP():
		httpClient := http.DefaultClient
		if len(b.cfg.Headers) > 0 {
			httpClient = &http.Client{
				Transport: &headerRoundTripper{
					base:    http.DefaultTransport,
					headers: b.cfg.Headers,
				},
			}
		}
		return &mcp.StreamableClientTransport{Endpoint: b.cfg.URL, HTTPClient: httpClient}, nil

	default:
		return nil, fmt.Errorf("gateway: backend %q has neither url nor command", b.name)
	}
}

// ListTools returns the backend's tool catalogue. The first successful call
// queries the server; subsequent calls return the memoized list until
// [Backend.InvalidateToolCache].
func (b *Backend) ListTools(ctx context.Context) ([]ToolInfo, error) {
	b.mu.Lock()
	session := b.session
	cached := b.tools
	b.mu.Unlock()

	if session == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, b.name)
	}
	if cached != nil {
		return slices.Clone(cached), nil
	}

	tools := []ToolInfo{}
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("gateway: list tools for backend %q: %w", b.name, err)
		}
		schema, err := toolSchema(tool.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("gateway: list tools for backend %q: %w", b.name, err)
		}
		tools = append(tools, ToolInfo{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
			Backend:     b.name,
		})
	}

	b.mu.Lock()
	b.tools = tools
	b.mu.Unlock()

	return slices.Clone(tools), nil
}

// toolSchema converts the SDK's untyped inputSchema value into the typed
// schema carried by [ToolInfo].
func toolSchema(v any) (*jsonschema.Schema, error) {
	switch s := v.(type) {
	case nil:
		return nil, nil
	case *jsonschema.Schema:
		return s, nil
	default:
		data, err := json.Marshal(s)
		if err != nil {
			return nil, err
		}
		schema := new(jsonschema.Schema)
		if err := json.Unmarshal(data, schema); err != nil {
			return nil, err
		}
		return schema, nil
	}
}

// InvalidateToolCache drops the memoized tool list so the next ListTools
// queries the server again.
func (b *Backend) InvalidateToolCache() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tools = nil
}

// CallTool invokes the named tool on the backend. A non-nil result with
// IsError set represents an application-level tool failure; a Go error means
// the transport or protocol failed.
func (b *Backend) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	b.mu.Lock()
	session := b.session
	b.mu.Unlock()

	if session == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, b.name)
	}

	result, err := session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("gateway: call tool %q on backend %q: %w", name, b.name, err)
	}
	return result, nil
}

// Close terminates the session and drops the memoized tool list. Closing an
// unconnected backend is a no-op.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session == nil {
		return nil
	}
	err := b.session.Close()
	b.session = nil
	b.tools = nil
	b.metrics.ConnectedBackends.Add(context.Background(), -1)
	if err != nil {
		return fmt.Errorf("gateway: close backend %q: %w", b.name, err)
	}
	return nil
}

// headerRoundTripper injects static headers into every request, used for
// backend authentication.
type headerRoundTripper struct {
	base    http.RoundTripper
	headers map[string]string
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}
	return h.base.RoundTrip(req)
}
