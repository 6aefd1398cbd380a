package export

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mcpgate/mcpgate/internal/analytics"
)

// otlpScopeName is the instrumentation scope for replayed call spans.
const otlpScopeName = "github.com/mcpgate/mcpgate/pkg/export"

// OTLP replays each event as a finished span on the globally registered
// tracer provider, backdated to the event's own timestamps. The provider's
// exporter (typically otlptracehttp) ships them onward.
type OTLP struct {
	tracer   trace.Tracer
	metadata map[string]string
}

// NewOTLP returns an OTLP exporter using the global tracer provider.
func NewOTLP(metadata map[string]string) *OTLP {
	return &OTLP{
		tracer:   otel.Tracer(otlpScopeName),
		metadata: metadata,
	}
}

// Export emits one span per event.
func (o *OTLP) Export(ctx context.Context, events []analytics.ToolCallEvent) error {
	for _, e := range events {
		start := time.UnixMilli(e.Timestamp)
		end := start.Add(time.Duration(e.DurationMs * float64(time.Millisecond)))

		attrs := []attribute.KeyValue{
			attribute.String("mcp.tool.name", e.ToolName),
			attribute.Int("mcp.request.size", e.InputSize),
			attribute.Int("mcp.response.size", e.OutputSize),
		}
		if e.SessionID != "" {
			attrs = append(attrs, attribute.String("mcp.session.id", e.SessionID))
		}
		for k, v := range o.metadata {
			attrs = append(attrs, attribute.String(k, v))
		}

		_, span := o.tracer.Start(ctx, "tools/call "+e.ToolName,
			trace.WithTimestamp(start),
			trace.WithAttributes(attrs...))
		if !e.Success {
			span.SetStatus(codes.Error, e.ErrorMessage)
			if e.ErrorCode != 0 {
				span.SetAttributes(attribute.Int64("rpc.jsonrpc.error_code", e.ErrorCode))
			}
		}
		span.End(trace.WithTimestamp(end))
	}
	return nil
}

var _ analytics.Exporter = (*OTLP)(nil)
