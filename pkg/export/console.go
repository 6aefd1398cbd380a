package export

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/mcpgate/mcpgate/internal/analytics"
)

// Console logs one slog line per event plus a batch summary. Intended for
// development and smoke tests.
type Console struct {
	metadata map[string]string
}

// NewConsole returns a console exporter. metadata is repeated on the batch
// summary line.
func NewConsole(metadata map[string]string) *Console {
	return &Console{metadata: metadata}
}

// Export logs the batch. It never fails.
func (c *Console) Export(_ context.Context, events []analytics.ToolCallEvent) error {
	batchID := uuid.NewString()
	for _, e := range events {
		attrs := []any{
			"batch_id", batchID,
			"tool", e.ToolName,
			"duration_ms", e.DurationMs,
			"success", e.Success,
		}
		if e.SessionID != "" {
			attrs = append(attrs, "session_id", e.SessionID)
		}
		if !e.Success {
			attrs = append(attrs, "error", e.ErrorMessage)
		}
		slog.Info("tool call", attrs...)
	}
	summary := []any{"batch_id", batchID, "events", len(events)}
	for k, v := range c.metadata {
		summary = append(summary, k, v)
	}
	slog.Info("analytics batch exported", summary...)
	return nil
}

var _ analytics.Exporter = (*Console)(nil)
