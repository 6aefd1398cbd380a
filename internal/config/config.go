// Package config provides the configuration schema and loader for the
// mcpgate gateway.
package config

import (
	"time"

	"github.com/mcpgate/mcpgate/internal/routing"
)

// LogLevel controls log verbosity for the gateway process.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// ExporterKind selects a built-in analytics exporter.
type ExporterKind string

const (
	// ExporterConsole writes one structured log line per event batch.
	ExporterConsole ExporterKind = "console"

	// ExporterJSON appends events as JSON lines to a file.
	ExporterJSON ExporterKind = "json"

	// ExporterOTLP forwards events as OpenTelemetry spans.
	ExporterOTLP ExporterKind = "otlp"
)

// IsValid reports whether e is a recognised exporter kind.
func (e ExporterKind) IsValid() bool {
	switch e {
	case ExporterConsole, ExporterJSON, ExporterOTLP:
		return true
	}
	return false
}

// SamplingStrategy selects how the interceptor applies its sample rate.
type SamplingStrategy string

const (
	// SamplePerCall draws an independent sampling decision for every call.
	SamplePerCall SamplingStrategy = "per_call"

	// SamplePerSession draws one decision per session id; all calls sharing
	// a session are sampled identically.
	SamplePerSession SamplingStrategy = "per_session"
)

// IsValid reports whether s is a recognised sampling strategy.
func (s SamplingStrategy) IsValid() bool {
	return s == SamplePerCall || s == SamplePerSession
}

// Config is the root configuration structure for mcpgate.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Redis     RedisConfig     `yaml:"redis"`
	Observe   ObserveConfig   `yaml:"observe"`
}

// ServerConfig holds network and logging settings for the gateway server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// GatewayConfig describes the aggregated MCP surface: which backends exist,
// how tool names route to them, and which middlewares wrap every call.
type GatewayConfig struct {
	// Name is the server name advertised to MCP clients. Default: "mcp-proxy".
	Name string `yaml:"name"`

	// Version is the server version advertised to MCP clients. Default: "1.0.0".
	Version string `yaml:"version"`

	// Servers maps backend names to their connection settings. Names must be
	// unique; they are the targets of routing rules.
	Servers map[string]BackendConfig `yaml:"servers"`

	// Routing is the ordered rule list. Lower index wins.
	Routing []routing.Rule `yaml:"routing"`

	// Middleware is the ordered interception chain applied to every call.
	Middleware []MiddlewareConfig `yaml:"middleware"`
}

// BackendConfig describes how to reach one upstream MCP server. It is a
// tagged variant: exactly one of URL (streamable HTTP) or Command (stdio
// child process) must be set.
type BackendConfig struct {
	// URL is the streamable-HTTP MCP endpoint (e.g., "https://mcp.example.com/mcp").
	URL string `yaml:"url"`

	// Headers are added to every HTTP request to this backend. Ignored for
	// stdio backends.
	Headers map[string]string `yaml:"headers"`

	// Command is the executable spawned for a stdio backend.
	Command string `yaml:"command"`

	// Args are the arguments passed to Command.
	Args []string `yaml:"args"`

	// Env holds additional environment variables injected into the
	// subprocess, on top of the gateway's own environment.
	Env map[string]string `yaml:"env"`
}

// IsHTTP reports whether the backend uses the streamable-HTTP transport.
func (b BackendConfig) IsHTTP() bool { return b.URL != "" }

// IsStdio reports whether the backend runs as a stdio child process.
func (b BackendConfig) IsStdio() bool { return b.Command != "" }

// MiddlewareConfig is one entry of the gateway's middleware chain. Exactly
// one of its fields must be set; the field determines the middleware kind.
type MiddlewareConfig struct {
	Filter  *FilterConfig  `yaml:"filter"`
	Cache   *CacheConfig   `yaml:"cache"`
	Breaker *BreakerConfig `yaml:"breaker"`
}

// FilterConfig declares allow/deny glob patterns for the filter middleware.
type FilterConfig struct {
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

// CacheConfig tunes the cache middleware.
type CacheConfig struct {
	// TTL is how long cached results stay usable.
	TTL time.Duration `yaml:"ttl"`

	// MaxSize bounds the in-memory store. Ignored for the redis store.
	MaxSize int `yaml:"max_size"`

	// Store selects the backing store: "memory" (default) or "redis".
	Store string `yaml:"store"`
}

// BreakerConfig tunes the circuit breaker middleware.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive transport failures before the
	// breaker opens.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long the breaker stays open before probing.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// AnalyticsConfig configures the tool-call observability collector.
type AnalyticsConfig struct {
	// Enabled turns call interception and collection on.
	Enabled bool `yaml:"enabled"`

	// Exporter selects where flushed batches go. Default: "console".
	Exporter ExporterKind `yaml:"exporter"`

	// JSONPath is the output file for the "json" exporter.
	JSONPath string `yaml:"json_path"`

	// SampleRate is the fraction of calls recorded, in [0, 1]. Default: 1.
	SampleRate *float64 `yaml:"sample_rate"`

	// SamplingStrategy is "per_call" (default) or "per_session".
	SamplingStrategy SamplingStrategy `yaml:"sampling_strategy"`

	// FlushInterval is the period of the background flush timer.
	// Default: 5s. Zero disables the timer; flushes then happen only on
	// demand and at shutdown.
	FlushInterval *time.Duration `yaml:"flush_interval"`

	// MaxBufferSize bounds the in-memory ring of recent events.
	// Default: 10000.
	MaxBufferSize int `yaml:"max_buffer_size"`

	// ToolWindowSize bounds the per-tool duration window used for
	// percentiles. Default: 2048, minimum 1.
	ToolWindowSize int `yaml:"tool_window_size"`

	// Tracing emits one OpenTelemetry span per observed call.
	Tracing bool `yaml:"tracing"`

	// Metadata is attached to every recorded event.
	Metadata map[string]string `yaml:"metadata"`
}

// RedisConfig holds the connection settings for the optional Redis cache
// store.
type RedisConfig struct {
	// Addr is the Redis host:port (e.g., "localhost:6379").
	Addr string `yaml:"addr"`
}

// ObserveConfig configures the OpenTelemetry providers.
type ObserveConfig struct {
	// OTLPEndpoint is the OTLP/HTTP collector endpoint for span export
	// (e.g., "localhost:4318"). Empty disables span export; spans are still
	// recorded in-process.
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// OTLPInsecure selects plain HTTP for the OTLP endpoint.
	OTLPInsecure bool `yaml:"otlp_insecure"`
}
