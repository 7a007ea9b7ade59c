// Package events defines the typed session events derived from agent output
// and the parse/filter/buffer stages of the delivery pipeline.
package events

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Category is the high-level event category used for filtering.
type Category string

const (
	CategorySystemInit   Category = "system_init"
	CategorySystemResult Category = "system_result"
	CategoryAISpeech     Category = "ai_speech"
	CategoryAIThinking   Category = "ai_thinking"
	CategoryToolStart    Category = "tool_start"
	CategoryToolResult   Category = "tool_result"
	CategoryToolError    Category = "tool_error"
	CategoryApproval     Category = "approval"
)

// Event is an immutable unit derived from one piece of agent output.
// Which payload fields are set depends on the category.
type Event struct {
	ID        string
	Category  Category
	Timestamp time.Time
	SessionID string
	JobID     string

	// ai_speech / ai_thinking
	Text string

	// tool_start / tool_result / tool_error
	ToolName  string
	ToolUseID string
	ToolInput map[string]any
	Result    string

	// system_init
	Tools []string
	Cwd   string

	// system_result
	IsError      bool
	ErrorMessage string
	NumTurns     int
	DurationMs   int
	CostUSD      float64
	InputTokens  int
	OutputTokens int

	// approval
	Scope             string
	ActionDescription string
}

// Shared entropy keeps ids unique and ordered even when many events land
// within the same clock tick.
var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

func newEventID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

func newEvent(category Category, sessionID, jobID string) Event {
	return Event{
		ID:        newEventID(),
		Category:  category,
		Timestamp: time.Now().UTC(),
		SessionID: sessionID,
		JobID:     jobID,
	}
}

// Terminal reports whether the event ends the job's output stream.
func (e Event) Terminal() bool {
	return e.Category == CategorySystemResult
}

// FilePath extracts the file path for file-operation tools.
func (e Event) FilePath() string {
	if v, ok := e.ToolInput["file_path"].(string); ok {
		return v
	}
	return ""
}

// Command extracts the command for shell tools.
func (e Event) Command() string {
	if v, ok := e.ToolInput["command"].(string); ok {
		return v
	}
	return ""
}

// Tool display verbs, used by the tracker renderer.
var toolVerbs = map[string]string{
	"Read":      "Reading",
	"Write":     "Creating",
	"Edit":      "Editing",
	"MultiEdit": "Editing",
	"Bash":      "Running",
	"Grep":      "Searching",
	"Glob":      "Finding",
	"WebFetch":  "Fetching",
	"WebSearch": "Searching",
	"TodoWrite": "Updating tasks",
	"Task":      "Spawning agent",
}

// ToolVerb returns a display verb for a tool name.
func ToolVerb(name string) string {
	if v, ok := toolVerbs[name]; ok {
		return v
	}
	return name
}

// WriteTools are the tools whose invocations touch files.
var WriteTools = map[string]bool{
	"Write":     true,
	"Edit":      true,
	"MultiEdit": true,
}
