package gateway

import (
	"github.com/google/jsonschema-go/jsonschema"

	"github.com/mcpgate/mcpgate/internal/config"
)

// ToolInfo describes one tool in the aggregated index and the backend that
// serves it.
type ToolInfo struct {
	// Name is the tool name, unique across the index.
	Name string

	// Description is the backend's tool description, possibly empty.
	Description string

	// InputSchema is the backend's declared input schema.
	InputSchema *jsonschema.Schema

	// Backend is the name of the backend serving this tool.
	Backend string
}

// BackendInfo is a point-in-time snapshot of one backend's state.
type BackendInfo struct {
	// Name is the backend's configured name.
	Name string

	// Config is the backend's configuration as loaded.
	Config config.BackendConfig

	// Connected reports whether the backend currently holds a live session.
	Connected bool

	// Tools lists the names this backend contributes to the aggregated
	// index. Tools shadowed by another backend are not included.
	Tools []string
}
