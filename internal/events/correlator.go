package events

// Correlator matches tool results back to their starting invocation so that
// result events carry a tool name. It runs between the parser and the filter;
// the filter's per-tool rules need the name on result events.
type Correlator struct {
	pending map[string]string // tool_use_id -> tool name
}

// NewCorrelator creates an empty correlator. One instance serves one job's
// ordered output stream; no locking is needed.
func NewCorrelator() *Correlator {
	return &Correlator{pending: make(map[string]string)}
}

// Observe records tool starts and enriches tool results in place.
func (c *Correlator) Observe(e *Event) {
	switch e.Category {
	case CategoryToolStart:
		if e.ToolUseID != "" {
			c.pending[e.ToolUseID] = e.ToolName
		}
	case CategoryToolResult, CategoryToolError:
		if name, ok := c.pending[e.ToolUseID]; ok {
			e.ToolName = name
			delete(c.pending, e.ToolUseID)
		}
	}
}
