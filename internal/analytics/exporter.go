package analytics

import (
	"context"
	"log/slog"
)

// Exporter receives flushed event batches. An error return is treated as a
// transient failure: the collector re-queues the batch and retries on the
// next flush.
type Exporter interface {
	Export(ctx context.Context, events []ToolCallEvent) error
}

// ExporterFunc adapts a function to the [Exporter] interface.
type ExporterFunc func(ctx context.Context, events []ToolCallEvent) error

// Export calls f.
func (f ExporterFunc) Export(ctx context.Context, events []ToolCallEvent) error {
	return f(ctx, events)
}

// NewCustomExporter wraps a user-supplied export function so that its errors
// are logged and swallowed. A buggy user exporter therefore drops its batch
// instead of stalling the flush pipeline with endless retries.
func NewCustomExporter(fn ExporterFunc) Exporter {
	return ExporterFunc(func(ctx context.Context, events []ToolCallEvent) error {
		if err := fn(ctx, events); err != nil {
			slog.Error("custom analytics exporter failed; dropping batch",
				"events", len(events),
				"error", err)
		}
		return nil
	})
}
