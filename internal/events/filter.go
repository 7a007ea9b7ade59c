package events

import "slices"

// FilterConfig decides which events are observable on a display.
type FilterConfig struct {
	ShowAISpeech   bool
	ShowAIThinking bool
	ShowToolStart  bool
	ShowToolResult bool
	ShowApprovals  bool

	// ToolAllowlist limits tool events to the listed tools. Empty = all.
	ToolAllowlist []string
	// ToolDenylist hides tool events for the listed tools.
	ToolDenylist []string
	// ShowResultForTools shows results for these tools even when
	// ShowToolResult is off.
	ShowResultForTools []string

	// Per-category truncation lengths for the renderer. 0 = unlimited.
	SpeechMaxLen  int
	ResultMaxLen  int
	CommandMaxLen int
	PathMaxLen    int

	// WindowSize is the number of recent events kept on the display.
	WindowSize int
}

// DefaultFilterConfig returns the "normal" preset.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		ShowAISpeech:       true,
		ShowToolStart:      true,
		ShowApprovals:      true,
		ShowResultForTools: []string{"Bash"},
		SpeechMaxLen:       150,
		ResultMaxLen:       100,
		CommandMaxLen:      50,
		PathMaxLen:         40,
		WindowSize:         10,
	}
}

// Presets keyed by name. Unknown names fall back to the default.
func Preset(name string) FilterConfig {
	switch name {
	case "minimal":
		c := DefaultFilterConfig()
		c.ShowAISpeech = false
		c.ShowResultForTools = nil
		c.WindowSize = 5
		return c
	case "verbose":
		c := DefaultFilterConfig()
		c.ShowToolResult = true
		c.SpeechMaxLen = 200
		c.WindowSize = 15
		return c
	case "debug":
		c := DefaultFilterConfig()
		c.ShowAIThinking = true
		c.ShowToolResult = true
		c.SpeechMaxLen = 0
		c.WindowSize = 20
		return c
	}
	return DefaultFilterConfig()
}

// Include reports whether the event is observable under this config.
// It is a pure function of (config, event). Errors and terminal events
// always pass regardless of other settings.
func (c FilterConfig) Include(e Event) bool {
	switch e.Category {
	case CategoryToolError, CategorySystemInit, CategorySystemResult:
		return true

	case CategoryAISpeech:
		return c.ShowAISpeech

	case CategoryAIThinking:
		return c.ShowAIThinking

	case CategoryToolStart:
		if !c.ShowToolStart {
			return false
		}
		return c.toolVisible(e.ToolName)

	case CategoryToolResult:
		if c.ShowToolResult {
			return c.toolVisible(e.ToolName)
		}
		return slices.Contains(c.ShowResultForTools, e.ToolName)

	case CategoryApproval:
		return c.ShowApprovals
	}

	return true
}

func (c FilterConfig) toolVisible(tool string) bool {
	if len(c.ToolAllowlist) > 0 && !slices.Contains(c.ToolAllowlist, tool) {
		return false
	}
	return !slices.Contains(c.ToolDenylist, tool)
}
