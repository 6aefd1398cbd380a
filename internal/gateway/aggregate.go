package gateway

// aggregateTools merges per-backend tool lists into a single deduplicated
// list. Backends are visited in the given order; the first backend to claim
// a tool name wins, later occurrences are dropped.
func aggregateTools(order []string, byBackend map[string][]ToolInfo) []ToolInfo {
	seen := make(map[string]struct{})
	var merged []ToolInfo

	for _, backend := range order {
		for _, tool := range byBackend[backend] {
			if _, dup := seen[tool.Name]; dup {
				continue
			}
			seen[tool.Name] = struct{}{}
			merged = append(merged, tool)
		}
	}
	return merged
}
