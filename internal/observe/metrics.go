// Package observe provides application-wide observability primitives for the
// gateway: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all gateway metrics.
const meterName = "github.com/mcpgate/mcpgate"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ToolCallDuration tracks end-to-end aggregated tool-call latency,
	// including the middleware chain.
	ToolCallDuration metric.Float64Histogram

	// BackendCallDuration tracks raw upstream backend call latency.
	BackendCallDuration metric.Float64Histogram

	// --- Counters ---

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("backend", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// CacheEvents counts cache middleware lookups. Use with attribute:
	//   attribute.String("result", "hit"|"miss")
	CacheEvents metric.Int64Counter

	// --- Error counters ---

	// BackendErrors counts upstream failures. Use with attribute:
	//   attribute.String("backend", ...)
	BackendErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live MCP sessions on the listener.
	ActiveSessions metric.Int64UpDownCounter

	// ConnectedBackends tracks the number of currently connected backends.
	ConnectedBackends metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// tool-call latencies, from sub-10ms cache hits to multi-second backends.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ToolCallDuration, err = m.Float64Histogram("mcpgate.tool_call.duration",
		metric.WithDescription("End-to-end aggregated tool-call latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.BackendCallDuration, err = m.Float64Histogram("mcpgate.backend.duration",
		metric.WithDescription("Upstream backend call latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ToolCalls, err = m.Int64Counter("mcpgate.tool.calls",
		metric.WithDescription("Total tool invocations by tool, backend, and status."),
	); err != nil {
		return nil, err
	}
	if met.CacheEvents, err = m.Int64Counter("mcpgate.cache.events",
		metric.WithDescription("Cache middleware lookups by result."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.BackendErrors, err = m.Int64Counter("mcpgate.backend.errors",
		metric.WithDescription("Total upstream failures by backend."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("mcpgate.active_sessions",
		metric.WithDescription("Number of live MCP sessions."),
	); err != nil {
		return nil, err
	}
	if met.ConnectedBackends, err = m.Int64UpDownCounter("mcpgate.connected_backends",
		metric.WithDescription("Number of currently connected backends."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("mcpgate.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordToolCall is a convenience method that records a tool call counter
// increment with the standard attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, backend, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("backend", backend),
			attribute.String("status", status),
		),
	)
}

// RecordCacheEvent is a convenience method that records a cache lookup
// counter increment. result is "hit" or "miss".
func (m *Metrics) RecordCacheEvent(ctx context.Context, result string) {
	m.CacheEvents.Add(ctx, 1,
		metric.WithAttributes(attribute.String("result", result)),
	)
}

// RecordBackendError is a convenience method that records a backend error
// counter increment.
func (m *Metrics) RecordBackendError(ctx context.Context, backend string) {
	m.BackendErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("backend", backend)),
	)
}
