package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// spanRecorder returns a TracerProvider backed by an in-memory exporter so
// tests can inspect finished spans.
func spanRecorder(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, exp
}

// captureLogs points slog's default logger at a buffer for the test's
// duration.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestCorrelationID_NoActiveSpan(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}
}

func TestCorrelationID_IsHexTraceID(t *testing.T) {
	tp, _ := spanRecorder(t)

	ctx, span := tp.Tracer("test").Start(context.Background(), "gateway.call_tool")
	defer span.End()

	cid := CorrelationID(ctx)
	if len(cid) != 32 {
		t.Fatalf("correlation ID length = %d, want 32", len(cid))
	}
	for _, c := range cid {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			t.Fatalf("correlation ID %q contains non-hex character %q", cid, c)
		}
	}
}

func TestCorrelationID_DistinctPerTrace(t *testing.T) {
	tp, _ := spanRecorder(t)
	tracer := tp.Tracer("test")

	seen := make(map[string]struct{}, 100)
	for range 100 {
		ctx, span := tracer.Start(context.Background(), "gateway.call_tool")
		cid := CorrelationID(ctx)
		span.End()
		if _, dup := seen[cid]; dup {
			t.Fatalf("duplicate correlation ID %s", cid)
		}
		seen[cid] = struct{}{}
	}
}

func TestStartSpan_UsesGlobalProvider(t *testing.T) {
	tp, exp := spanRecorder(t)

	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	ctx, span := StartSpan(context.Background(), "gateway.call_tool")
	if CorrelationID(ctx) == "" {
		t.Error("StartSpan did not put a recording span into the context")
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "gateway.call_tool" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "gateway.call_tool")
	}
}

func TestLogger_AddsTraceFields(t *testing.T) {
	tp, _ := spanRecorder(t)
	buf := captureLogs(t)

	ctx, span := tp.Tracer("test").Start(context.Background(), "gateway.call_tool")
	defer span.End()

	Logger(ctx).Info("backend connected")

	out := buf.String()
	if !strings.Contains(out, "trace_id=") {
		t.Errorf("log line missing trace_id: %s", out)
	}
	if !strings.Contains(out, "span_id=") {
		t.Errorf("log line missing span_id: %s", out)
	}
}

func TestLogger_PlainWithoutSpan(t *testing.T) {
	buf := captureLogs(t)

	Logger(context.Background()).Info("backend connected")

	if out := buf.String(); strings.Contains(out, "trace_id") {
		t.Errorf("log line should not carry trace_id without a span: %s", out)
	}
}

func TestTracer_NotNil(t *testing.T) {
	if Tracer() == nil {
		t.Fatal("Tracer() returned nil")
	}
}
