package events

import "encoding/json"

// streamLine is the wire shape of one stream-json line from the agent.
type streamLine struct {
	Type         string          `json:"type"`
	Subtype      string          `json:"subtype"`
	SessionID    string          `json:"session_id"`
	Tools        []string        `json:"tools"`
	Cwd          string          `json:"cwd"`
	IsError      bool            `json:"is_error"`
	ErrorMessage string          `json:"error_message"`
	CostUSD      float64         `json:"cost_usd"`
	NumTurns     int             `json:"num_turns"`
	DurationMs   int             `json:"duration_ms"`
	Usage        streamUsage     `json:"usage"`
	Message      streamMessage   `json:"message"`
	Scope        string          `json:"scope"`
	Description  string          `json:"description"`
	ToolName     string          `json:"tool_name"`
	ToolInput    map[string]any  `json:"tool_input"`
	Raw          json.RawMessage `json:"-"`
}

type streamUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type streamMessage struct {
	Content []streamContent `json:"content"`
}

type streamContent struct {
	Type      string         `json:"type"`
	Text      string         `json:"text"`
	Thinking  string         `json:"thinking"`
	Name      string         `json:"name"`
	ID        string         `json:"id"`
	Input     map[string]any `json:"input"`
	ToolUseID string         `json:"tool_use_id"`
	Content   string         `json:"content"`
	IsError   bool           `json:"is_error"`
}

// ParseLine converts one raw agent output line into zero or more typed events.
// A line may carry multiple events (text + tool_use in the same assistant
// message). Unparseable lines yield no events; the caller logs them raw.
func ParseLine(line, jobID string) []Event {
	var data streamLine
	if err := json.Unmarshal([]byte(line), &data); err != nil {
		return nil
	}

	var out []Event

	switch data.Type {
	case "system":
		if data.Subtype == "init" {
			e := newEvent(CategorySystemInit, data.SessionID, jobID)
			e.Tools = data.Tools
			e.Cwd = data.Cwd
			out = append(out, e)
		}

	case "result":
		e := newEvent(CategorySystemResult, data.SessionID, jobID)
		e.IsError = data.IsError
		e.ErrorMessage = data.ErrorMessage
		e.CostUSD = data.CostUSD
		e.NumTurns = data.NumTurns
		e.DurationMs = data.DurationMs
		e.InputTokens = data.Usage.InputTokens
		e.OutputTokens = data.Usage.OutputTokens
		out = append(out, e)

	case "assistant":
		for _, content := range data.Message.Content {
			switch content.Type {
			case "text":
				e := newEvent(CategoryAISpeech, data.SessionID, jobID)
				e.Text = content.Text
				out = append(out, e)
			case "thinking":
				e := newEvent(CategoryAIThinking, data.SessionID, jobID)
				e.Text = content.Thinking
				out = append(out, e)
			case "tool_use":
				e := newEvent(CategoryToolStart, data.SessionID, jobID)
				e.ToolName = content.Name
				e.ToolUseID = content.ID
				e.ToolInput = content.Input
				out = append(out, e)
			}
		}

	case "user":
		for _, content := range data.Message.Content {
			if content.Type != "tool_result" {
				continue
			}
			category := CategoryToolResult
			if content.IsError {
				category = CategoryToolError
			}
			e := newEvent(category, data.SessionID, jobID)
			e.ToolUseID = content.ToolUseID
			e.Result = content.Content
			e.IsError = content.IsError
			out = append(out, e)
		}

	case "approval_needed":
		e := newEvent(CategoryApproval, data.SessionID, jobID)
		e.Scope = data.Scope
		e.ActionDescription = data.Description
		e.ToolName = data.ToolName
		e.ToolInput = data.ToolInput
		out = append(out, e)
	}

	return out
}
