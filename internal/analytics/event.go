// Package analytics collects tool-call telemetry: immutable per-call events,
// lock-disciplined per-tool and per-session accumulators with bounded
// percentile windows, and a single-flight batch flusher feeding a pluggable
// [Exporter].
package analytics

import "time"

// ToolCallEvent is one recorded tool invocation. Immutable once recorded.
type ToolCallEvent struct {
	// ToolName is the aggregated tool name as invoked by the client.
	ToolName string `json:"toolName"`

	// SessionID identifies the client session, when known.
	SessionID string `json:"sessionId,omitempty"`

	// Timestamp is the invocation time in Unix milliseconds.
	Timestamp int64 `json:"timestamp"`

	// DurationMs is the wall-clock call duration. Never negative.
	DurationMs float64 `json:"durationMs"`

	// Success reports whether the call completed without error.
	Success bool `json:"success"`

	// ErrorMessage describes the failure. Set only when Success is false.
	ErrorMessage string `json:"errorMessage,omitempty"`

	// ErrorCode is the JSON-RPC error code, when the failure carried one.
	// Set only when Success is false.
	ErrorCode int64 `json:"errorCode,omitempty"`

	// InputSize is the encoded byte size of the call arguments.
	InputSize int `json:"inputSize"`

	// OutputSize is the encoded byte size of the response payload.
	OutputSize int `json:"outputSize"`

	// Metadata carries operator-configured labels.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ToolStats is the derived read model for one tool.
type ToolStats struct {
	Count        int64     `json:"count"`
	ErrorCount   int64     `json:"errorCount"`
	ErrorRate    float64   `json:"errorRate"`
	P50Ms        float64   `json:"p50Ms"`
	P95Ms        float64   `json:"p95Ms"`
	P99Ms        float64   `json:"p99Ms"`
	AvgMs        float64   `json:"avgMs"`
	LastCalledAt time.Time `json:"lastCalledAt"`
}

// SessionStats aggregates one session's calls, with a per-tool breakdown.
type SessionStats struct {
	ToolStats
	Tools map[string]ToolStats `json:"tools"`
}

// Snapshot is a consistent point-in-time view of everything the collector
// has accumulated.
type Snapshot struct {
	TotalCalls  int64                   `json:"totalCalls"`
	TotalErrors int64                   `json:"totalErrors"`
	ErrorRate   float64                 `json:"errorRate"`
	UptimeMs    int64                   `json:"uptimeMs"`
	Tools       map[string]ToolStats    `json:"tools"`
	Sessions    map[string]SessionStats `json:"sessions"`
}

// SessionRank is one entry of a top-sessions listing.
type SessionRank struct {
	SessionID string    `json:"sessionId"`
	Count     int64     `json:"count"`
	LastAt    time.Time `json:"lastCalledAt"`
}
