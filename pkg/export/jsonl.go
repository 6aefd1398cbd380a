package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/mcpgate/mcpgate/internal/analytics"
)

// JSONL appends events to a file as newline-delimited JSON, one event per
// line. Writes are serialized; the file is synced after every batch so a
// crash loses at most the in-flight batch.
type JSONL struct {
	mu   sync.Mutex
	file *os.File
}

// NewJSONL opens (or creates) path in append mode.
func NewJSONL(path string) (*JSONL, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("export: open %s: %w", path, err)
	}
	return &JSONL{file: file}, nil
}

// Export writes one JSON line per event.
func (j *JSONL) Export(_ context.Context, events []analytics.ToolCallEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	enc := json.NewEncoder(j.file)
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("export: write event: %w", err)
		}
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("export: sync: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (j *JSONL) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}

var _ analytics.Exporter = (*JSONL)(nil)
