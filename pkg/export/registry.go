// Package export provides the built-in analytics exporters and a registry
// that instantiates them by configured name. Console logs batches through
// slog, jsonl appends newline-delimited JSON to a file, and otlp replays
// events as OpenTelemetry spans.
package export

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mcpgate/mcpgate/internal/analytics"
	"github.com/mcpgate/mcpgate/internal/config"
)

// ErrExporterNotRegistered is returned by [Registry.Create] when no factory
// has been registered under the requested name.
var ErrExporterNotRegistered = errors.New("export: exporter not registered")

// Options carries the exporter settings from the analytics config section.
type Options struct {
	// JSONPath is the target file for the jsonl exporter.
	JSONPath string

	// Metadata is attached to console log lines and otlp span attributes.
	Metadata map[string]string
}

// Factory builds an exporter from options.
type Factory func(Options) (analytics.Exporter, error)

// Registry maps exporter names to their factories. It is safe for
// concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[config.ExporterKind]Factory
}

// NewRegistry returns a registry with the built-in exporters registered.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[config.ExporterKind]Factory)}
	r.Register(config.ExporterConsole, func(opts Options) (analytics.Exporter, error) {
		return NewConsole(opts.Metadata), nil
	})
	r.Register(config.ExporterJSON, func(opts Options) (analytics.Exporter, error) {
		return NewJSONL(opts.JSONPath)
	})
	r.Register(config.ExporterOTLP, func(opts Options) (analytics.Exporter, error) {
		return NewOTLP(opts.Metadata), nil
	})
	return r
}

// Register adds a factory under name. Subsequent calls with the same name
// overwrite the previous registration.
func (r *Registry) Register(name config.ExporterKind, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Create instantiates the exporter registered under name. Returns
// [ErrExporterNotRegistered] for unknown names.
func (r *Registry) Create(name config.ExporterKind, opts Options) (analytics.Exporter, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrExporterNotRegistered, name)
	}
	return factory(opts)
}
