package executor

import (
	"fmt"
	"strings"
	"sync"

	"github.com/mroche14/televibecode/internal/approval"
	"github.com/mroche14/televibecode/internal/events"
	"github.com/mroche14/televibecode/internal/models"
)

// jobRun holds the per-job stream pipeline and accumulated outcome state.
type jobRun struct {
	correlator *events.Correlator
	filter     events.FilterConfig
	buffer     *events.Buffer

	summaryLines  []string
	filesChanged  map[string]struct{}
	lastToolError string
	rawLines      int
}

func newJobRun(filter events.FilterConfig, flushFn func([]events.Event)) *jobRun {
	return &jobRun{
		correlator:   events.NewCorrelator(),
		filter:       filter,
		buffer:       events.NewBuffer(0, 0, flushFn),
		filesChanged: make(map[string]struct{}),
	}
}

// observe routes one parsed event through correlation, outcome tracking,
// filtering, and buffering.
func (r *jobRun) observe(e *events.Event) {
	r.correlator.Observe(e)

	switch e.Category {
	case events.CategoryAISpeech:
		if t := strings.TrimSpace(e.Text); t != "" {
			r.summaryLines = append(r.summaryLines, t)
		}
	case events.CategoryToolStart:
		if events.WriteTools[e.ToolName] {
			if p := e.FilePath(); p != "" {
				r.filesChanged[p] = struct{}{}
			}
		}
	case events.CategoryToolError:
		if e.Result != "" {
			r.lastToolError = fmt.Sprintf("%s: %s", e.ToolName, firstLines(e.Result, 2))
		}
	case events.CategorySystemResult:
		if e.IsError && e.ErrorMessage != "" {
			r.lastToolError = e.ErrorMessage
		}
	}

	if r.filter.Include(*e) {
		r.buffer.Add(*e)
	}
}

// observeRaw counts stream lines that carried no structured payload.
func (r *jobRun) observeRaw(line string) {
	if strings.TrimSpace(line) != "" {
		r.rawLines++
	}
}

// gatedAction classifies an event as a gate-relevant action. Explicit
// approval events name their scope; tool starts are classified by tool
// name and input.
func (r *jobRun) gatedAction(e events.Event) (models.ApprovalScope, string, bool) {
	switch e.Category {
	case events.CategoryApproval:
		scope := models.ApprovalScope(e.Scope)
		if !models.ValidScope(e.Scope) {
			scope = models.ScopeShell
		}
		return scope, e.ActionDescription, true

	case events.CategoryToolStart:
		scope, gated := approval.ScopeForTool(e.ToolName, e.ToolInput)
		if !gated {
			return "", "", false
		}
		desc := e.Command()
		if desc == "" {
			desc = e.FilePath()
		}
		if desc == "" {
			desc = e.ToolName
		}
		return scope, fmt.Sprintf("%s: %s", e.ToolName, desc), true
	}
	return "", "", false
}

// summary joins the trailing agent narration into a short result summary.
func (r *jobRun) summary() string {
	if len(r.summaryLines) == 0 {
		return ""
	}
	lines := r.summaryLines
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	s := strings.Join(lines, "\n")
	if len(s) > maxSummaryLen {
		s = s[:maxSummaryLen-3] + "..."
	}
	return s
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.max {
		b.buf = b.buf[len(b.buf)-b.max:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
