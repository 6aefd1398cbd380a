// Package intercept instruments MCP traffic for analytics. [NewTransport]
// wraps any [mcp.Transport] and pairs tools/call requests with their
// responses by JSON-RPC id; [WrapHandler] instruments a single tool handler
// directly. Both emit [analytics.ToolCallEvent] records through a
// [Recorder], subject to sampling.
package intercept

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mcpgate/mcpgate/internal/analytics"
	"github.com/mcpgate/mcpgate/internal/config"
	"github.com/mcpgate/mcpgate/internal/observe"
)

// closedEventMessage is recorded for calls still pending when the transport
// shuts down.
const closedEventMessage = "Transport closed before tool response"

// unknownSessionKey is the per-session sampling key used when the underlying
// connection reports no session id.
const unknownSessionKey = "unknown"

// Recorder receives the events the interceptor emits. *analytics.Collector
// satisfies it.
type Recorder interface {
	Record(analytics.ToolCallEvent)
}

// Config controls sampling, tracing, and event enrichment for both the
// transport interceptor and the handler wrapper.
type Config struct {
	// Recorder receives emitted events. Required.
	Recorder Recorder

	// SampleRate is the probability in [0, 1] that a call is observed.
	SampleRate float64

	// Strategy selects per-call or per-session sampling. The handler
	// wrapper always samples per call.
	Strategy config.SamplingStrategy

	// Tracing starts a span per observed call when true.
	Tracing bool

	// Metadata is copied onto every emitted event.
	Metadata map[string]string

	// randFloat overrides the sampling source in tests.
	randFloat func() float64
}

func (c Config) rand() float64 {
	if c.randFloat != nil {
		return c.randFloat()
	}
	return rand.Float64()
}

// NewTransport wraps inner so that every connection it yields observes
// tools/call traffic per cfg.
func NewTransport(inner mcp.Transport, cfg Config) mcp.Transport {
	return &interceptTransport{inner: inner, cfg: cfg}
}

type interceptTransport struct {
	inner mcp.Transport
	cfg   Config
}

func (t *interceptTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	conn, err := t.inner.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &interceptConn{
		Connection: conn,
		cfg:        t.cfg,
		pending:    make(map[jsonrpc.ID]*pendingCall),
		sampled:    make(map[string]bool),
	}, nil
}

// pendingCall is the bookkeeping for one observed tools/call awaiting its
// response.
type pendingCall struct {
	toolName  string
	start     time.Time
	inputSize int
	span      trace.Span
}

// interceptConn observes tools/call requests on Write and matches their
// responses on Read. All other messages pass through untouched.
type interceptConn struct {
	mcp.Connection
	cfg Config

	mu      sync.Mutex
	pending map[jsonrpc.ID]*pendingCall
	sampled map[string]bool
	closed  bool
}

// callParams is the subset of tools/call params the interceptor needs.
type callParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (c *interceptConn) Write(ctx context.Context, msg jsonrpc.Message) error {
	req, ok := msg.(*jsonrpc.Request)
	if ok && req.Method == "tools/call" && req.ID.IsValid() {
		c.observeCall(ctx, req)
	}
	return c.Connection.Write(ctx, msg)
}

func (c *interceptConn) observeCall(ctx context.Context, req *jsonrpc.Request) {
	var params callParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return
	}

	c.mu.Lock()
	if c.closed || !c.shouldSampleLocked() {
		c.mu.Unlock()
		return
	}
	call := &pendingCall{
		toolName:  params.Name,
		start:     time.Now(),
		inputSize: len(params.Arguments),
	}
	if c.cfg.Tracing {
		_, call.span = observe.StartSpan(ctx, "tools/call "+params.Name,
			trace.WithAttributes(attribute.String("mcp.tool.name", params.Name)))
	}
	c.pending[req.ID] = call
	c.mu.Unlock()
}

// shouldSampleLocked applies the configured strategy. c.mu must be held.
func (c *interceptConn) shouldSampleLocked() bool {
	if c.cfg.Strategy != config.SamplePerSession {
		return c.cfg.rand() < c.cfg.SampleRate
	}
	key := c.Connection.SessionID()
	if key == "" {
		key = unknownSessionKey
	}
	decision, ok := c.sampled[key]
	if !ok {
		decision = c.cfg.rand() < c.cfg.SampleRate
		c.sampled[key] = decision
	}
	return decision
}

func (c *interceptConn) Read(ctx context.Context) (jsonrpc.Message, error) {
	msg, err := c.Connection.Read(ctx)
	if err != nil {
		return msg, err
	}
	if resp, ok := msg.(*jsonrpc.Response); ok {
		c.observeResponse(resp)
	}
	return msg, nil
}

func (c *interceptConn) observeResponse(resp *jsonrpc.Response) {
	c.mu.Lock()
	call, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	e := c.newEvent(call)
	if resp.Error != nil {
		e.ErrorMessage = resp.Error.Error()
		e.ErrorCode, e.OutputSize = decodeWireError(resp.Error)
	} else {
		e.Success = true
		e.OutputSize = len(resp.Result)
	}
	c.finish(call, e)
}

// decodeWireError recovers the JSON-RPC error code and encoded size from the
// SDK's wire error, which only surfaces as a plain error value.
func decodeWireError(rpcErr error) (code int64, size int) {
	encoded, err := json.Marshal(rpcErr)
	if err != nil {
		return 0, 0
	}
	var wire struct {
		Code int64 `json:"code"`
	}
	if err := json.Unmarshal(encoded, &wire); err != nil {
		return 0, len(encoded)
	}
	return wire.Code, len(encoded)
}

// newEvent builds the common part of an event for a finished call.
func (c *interceptConn) newEvent(call *pendingCall) analytics.ToolCallEvent {
	return analytics.ToolCallEvent{
		ToolName:   call.toolName,
		SessionID:  c.Connection.SessionID(),
		Timestamp:  call.start.UnixMilli(),
		DurationMs: float64(time.Since(call.start)) / float64(time.Millisecond),
		InputSize:  call.inputSize,
		Metadata:   c.cfg.Metadata,
	}
}

func (c *interceptConn) finish(call *pendingCall, e analytics.ToolCallEvent) {
	if call.span != nil {
		if !e.Success {
			call.span.SetStatus(codes.Error, e.ErrorMessage)
		}
		call.span.End()
	}
	c.cfg.Recorder.Record(e)
}

// Close drains every pending call as a failure, then closes the underlying
// connection. Subsequent calls are no-ops for the drain.
func (c *interceptConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return c.Connection.Close()
	}
	c.closed = true
	drained := c.pending
	c.pending = make(map[jsonrpc.ID]*pendingCall)
	c.sampled = make(map[string]bool)
	c.mu.Unlock()

	for _, call := range drained {
		e := c.newEvent(call)
		e.Success = false
		e.ErrorMessage = closedEventMessage
		c.finish(call, e)
	}
	return c.Connection.Close()
}

var _ mcp.Transport = (*interceptTransport)(nil)

// errNilRecorder reports a misconfigured interceptor early instead of
// panicking mid-call.
var errNilRecorder = errors.New("intercept: recorder must not be nil")

// Validate checks that cfg can actually emit events.
func (c Config) Validate() error {
	if c.Recorder == nil {
		return errNilRecorder
	}
	return nil
}
