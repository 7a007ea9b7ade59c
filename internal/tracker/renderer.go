package tracker

import (
	"fmt"
	"strings"

	"github.com/mroche14/televibecode/internal/events"
	"github.com/mroche14/televibecode/internal/models"
)

// Renderer turns a State into a display payload. Render is a pure function of
// (config, state); identical inputs produce identical payloads.
type Renderer struct {
	config events.FilterConfig
}

// NewRenderer creates a renderer with the given display config.
func NewRenderer(config events.FilterConfig) *Renderer {
	return &Renderer{config: config}
}

var statusLabels = map[models.JobStatus]string{
	models.JobStatusQueued:          "queued",
	models.JobStatusRunning:         "running",
	models.JobStatusWaitingApproval: "waiting for approval",
	models.JobStatusDone:            "done",
	models.JobStatusFailed:          "failed",
	models.JobStatusCanceled:        "canceled",
}

// Render builds the text block and controls for the current state.
func (r *Renderer) Render(s *State) Payload {
	var b strings.Builder

	label := statusLabels[s.Status]
	if label == "" {
		label = string(s.Status)
	}
	fmt.Fprintf(&b, "[%s] job %s", label, s.JobID)
	if s.WorkspaceRef != "" {
		fmt.Fprintf(&b, " @ %s", s.WorkspaceRef)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "%q\n", truncate(s.Instruction, 60))

	if s.Dropped > 0 {
		fmt.Fprintf(&b, "\n(+%d earlier)\n", s.Dropped)
	} else if len(s.Window) > 0 {
		b.WriteString("\n")
	}
	for _, e := range s.Window {
		if line := r.formatEvent(e); line != "" {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	if stats := r.formatStats(s); stats != "" {
		b.WriteString("\n")
		b.WriteString(stats)
		b.WriteString("\n")
	}

	switch s.Status {
	case models.JobStatusDone:
		if s.FinalResult != "" {
			fmt.Fprintf(&b, "\n%s\n", truncate(s.FinalResult, 200))
		}
	case models.JobStatusFailed, models.JobStatusCanceled:
		if s.Error != "" {
			fmt.Fprintf(&b, "\nerror: %s\n", truncate(s.Error, 200))
		}
	}

	return Payload{
		Text:     strings.TrimRight(b.String(), "\n"),
		Controls: r.controls(s),
	}
}

func (r *Renderer) formatEvent(e events.Event) string {
	switch e.Category {
	case events.CategorySystemInit:
		return "* session started"

	case events.CategorySystemResult:
		if e.IsError {
			return "* finished with error"
		}
		return "* finished"

	case events.CategoryAISpeech:
		return "AI: " + truncate(oneLine(e.Text), r.config.SpeechMaxLen)

	case events.CategoryAIThinking:
		return "thinking: " + truncate(oneLine(e.Text), r.config.SpeechMaxLen)

	case events.CategoryToolStart:
		target := ""
		if p := e.FilePath(); p != "" {
			target = truncatePath(p, r.config.PathMaxLen)
		} else if c := e.Command(); c != "" {
			target = "`" + truncate(oneLine(c), r.config.CommandMaxLen) + "`"
		}
		if target == "" {
			return "> " + events.ToolVerb(e.ToolName)
		}
		return fmt.Sprintf("> %s %s", events.ToolVerb(e.ToolName), target)

	case events.CategoryToolResult:
		return fmt.Sprintf("  %s: %s", e.ToolName, truncate(oneLine(e.Result), r.config.ResultMaxLen))

	case events.CategoryToolError:
		return fmt.Sprintf("! %s failed: %s", e.ToolName, truncate(oneLine(e.Result), r.config.ResultMaxLen))

	case events.CategoryApproval:
		desc := e.ActionDescription
		if desc == "" {
			desc = e.Scope
		}
		return fmt.Sprintf("? approval needed (%s): %s", e.Scope, truncate(oneLine(desc), 80))
	}
	return ""
}

func (r *Renderer) formatStats(s *State) string {
	var parts []string
	parts = append(parts, formatElapsed(s.ElapsedSeconds))
	if n := len(s.FilesTouched); n > 0 {
		parts = append(parts, fmt.Sprintf("%d file%s", n, plural(n)))
	}
	if s.TurnCount > 0 {
		parts = append(parts, fmt.Sprintf("%d turn%s", s.TurnCount, plural(s.TurnCount)))
	}
	return strings.Join(parts, " | ")
}

func (r *Renderer) controls(s *State) []Control {
	switch s.Status {
	case models.JobStatusRunning:
		if s.Paused {
			return []Control{
				{Label: "Resume", Callback: "resume:" + s.JobID},
				{Label: "Cancel", Callback: "cancel:" + s.JobID},
			}
		}
		return []Control{
			{Label: "Pause", Callback: "pause:" + s.JobID},
			{Label: "Cancel", Callback: "cancel:" + s.JobID},
		}
	case models.JobStatusWaitingApproval:
		return []Control{
			{Label: "Approve", Callback: "approve:" + s.JobID},
			{Label: "Deny", Callback: "deny:" + s.JobID},
		}
	case models.JobStatusDone, models.JobStatusFailed, models.JobStatusCanceled:
		return []Control{
			{Label: "Summary", Callback: "summary:" + s.JobID},
			{Label: "Logs", Callback: "logs:" + s.JobID},
		}
	}
	return nil
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func truncatePath(p string, max int) string {
	if max <= 0 || len(p) <= max {
		return p
	}
	return "..." + p[len(p)-(max-3):]
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func formatElapsed(seconds int) string {
	mins, secs := seconds/60, seconds%60
	if mins > 0 {
		return fmt.Sprintf("%dm %ds", mins, secs)
	}
	return fmt.Sprintf("%ds", secs)
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
