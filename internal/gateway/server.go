package gateway

import (
	"context"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// NewServer produces an MCP server re-exporting every tool currently in the
// aggregated index under its original name. The advertised input schema is
// deliberately permissive (any object); the backend's own validation stays
// authoritative.
//
// The server snapshots the index at creation time: one instance is created
// per client session, so a refreshed index is picked up by new sessions.
func (g *Gateway) NewServer() *mcp.Server {
	srv := mcp.NewServer(
		&mcp.Implementation{Name: g.cfg.Name, Version: g.cfg.Version},
		nil,
	)

	for _, tool := range g.Tools() {
		mcp.AddTool(srv,
			&mcp.Tool{
				Name:        tool.Name,
				Description: tool.Description,
				InputSchema: &jsonschema.Schema{Type: "object"},
			},
			func(ctx context.Context, req *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, any, error) {
				result, err := g.CallTool(ctx, req.Params.Name, args)
				return result, nil, err
			},
		)
	}
	return srv
}
