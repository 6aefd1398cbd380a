package intercept

import (
	"context"
	"encoding/json"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mcpgate/mcpgate/internal/analytics"
	"github.com/mcpgate/mcpgate/internal/observe"
)

// ToolHandler is the call shape instrumented by [WrapHandler].
type ToolHandler func(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error)

// WrapHandler instruments a single tool handler. Each invocation is sampled
// per call; when observed, the handler runs inside a span (if tracing is
// enabled) so downstream traced work nests under it, and an event without a
// session id is recorded. Handler errors are returned unchanged after
// recording.
func WrapHandler(toolName string, handler ToolHandler, cfg Config) ToolHandler {
	return func(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error) {
		if cfg.rand() >= cfg.SampleRate {
			return handler(ctx, args)
		}

		var span trace.Span
		if cfg.Tracing {
			ctx, span = observe.StartSpan(ctx, "tools/call "+toolName,
				trace.WithAttributes(attribute.String("mcp.tool.name", toolName)))
		}

		start := time.Now()
		result, err := handler(ctx, args)

		e := analytics.ToolCallEvent{
			ToolName:   toolName,
			Timestamp:  start.UnixMilli(),
			DurationMs: float64(time.Since(start)) / float64(time.Millisecond),
			InputSize:  encodedSize(args),
			Metadata:   cfg.Metadata,
		}
		switch {
		case err != nil:
			e.ErrorMessage = err.Error()
		case result != nil && result.IsError:
			e.ErrorMessage = textContent(result)
		default:
			e.Success = true
			e.OutputSize = encodedSize(result)
		}

		if span != nil {
			if !e.Success {
				span.SetStatus(codes.Error, e.ErrorMessage)
			}
			span.End()
		}
		cfg.Recorder.Record(e)
		return result, err
	}
}

func encodedSize(v any) int {
	if v == nil {
		return 0
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return len(encoded)
}

func textContent(result *mcp.CallToolResult) string {
	for _, content := range result.Content {
		if text, ok := content.(*mcp.TextContent); ok {
			return text.Text
		}
	}
	return "tool reported an error"
}
