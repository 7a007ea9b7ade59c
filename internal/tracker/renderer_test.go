package tracker

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mroche14/televibecode/internal/events"
	"github.com/mroche14/televibecode/internal/models"
)

func testState(status models.JobStatus) *State {
	return &State{
		JobID:        "job1",
		SessionID:    "sess1",
		WorkspaceRef: "myproj/feature-x",
		Instruction:  "fix the login bug",
		WindowSize:   10,
		FilesTouched: map[string]struct{}{},
		Status:       status,
	}
}

func TestRender_Header(t *testing.T) {
	r := NewRenderer(events.DefaultFilterConfig())
	p := r.Render(testState(models.JobStatusRunning))

	assert.Contains(t, p.Text, "[running] job job1 @ myproj/feature-x")
	assert.Contains(t, p.Text, `"fix the login bug"`)
}

func TestRender_EventWindow(t *testing.T) {
	r := NewRenderer(events.DefaultFilterConfig())
	s := testState(models.JobStatusRunning)

	s.Apply(events.Event{Category: events.CategoryToolStart, ToolName: "Edit",
		ToolInput: map[string]any{"file_path": "auth/login.go"}})
	s.Apply(events.Event{Category: events.CategoryAISpeech, Text: "Fixing the nil check."})

	p := r.Render(s)
	assert.Contains(t, p.Text, "> Editing auth/login.go")
	assert.Contains(t, p.Text, "AI: Fixing the nil check.")
}

func TestRender_OlderEventsSummarized(t *testing.T) {
	r := NewRenderer(events.DefaultFilterConfig())
	s := testState(models.JobStatusRunning)
	s.WindowSize = 3

	for i := 0; i < 8; i++ {
		s.Apply(events.Event{Category: events.CategoryAISpeech, Text: "step"})
	}

	p := r.Render(s)
	assert.Contains(t, p.Text, "(+5 earlier)")
	assert.Equal(t, 3, strings.Count(p.Text, "AI: step"))
}

func TestRender_ControlsPerStatus(t *testing.T) {
	r := NewRenderer(events.DefaultFilterConfig())

	p := r.Render(testState(models.JobStatusRunning))
	require.Len(t, p.Controls, 2)
	assert.Equal(t, "pause:job1", p.Controls[0].Callback)
	assert.Equal(t, "cancel:job1", p.Controls[1].Callback)

	paused := testState(models.JobStatusRunning)
	paused.Paused = true
	p = r.Render(paused)
	require.Len(t, p.Controls, 2)
	assert.Equal(t, "resume:job1", p.Controls[0].Callback)

	p = r.Render(testState(models.JobStatusWaitingApproval))
	require.Len(t, p.Controls, 2)
	assert.Equal(t, "approve:job1", p.Controls[0].Callback)
	assert.Equal(t, "deny:job1", p.Controls[1].Callback)

	p = r.Render(testState(models.JobStatusDone))
	require.Len(t, p.Controls, 2)
	assert.Equal(t, "summary:job1", p.Controls[0].Callback)
	assert.Equal(t, "logs:job1", p.Controls[1].Callback)
}

func TestRender_FailureShowsError(t *testing.T) {
	r := NewRenderer(events.DefaultFilterConfig())
	s := testState(models.JobStatusFailed)
	s.Error = "process exited with code 2"

	p := r.Render(s)
	assert.Contains(t, p.Text, "error: process exited with code 2")
}

func TestRender_Deterministic(t *testing.T) {
	lines := []string{
		`{"type":"system","subtype":"init","session_id":"s1","cwd":"/work"}`,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"Working on it."},{"type":"tool_use","name":"Edit","id":"t1","input":{"file_path":"a.go"}}]}}`,
		`{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"t1","content":"ok"}]}}`,
		`{"type":"result","num_turns":2,"usage":{"input_tokens":10,"output_tokens":5}}`,
	}

	render := func() string {
		config := events.DefaultFilterConfig()
		corr := events.NewCorrelator()
		s := testState(models.JobStatusRunning)
		s.StartedAt = time.Time{} // fixed clock input
		for _, line := range lines {
			for _, e := range events.ParseLine(line, "job1") {
				corr.Observe(&e)
				if config.Include(e) {
					s.Apply(e)
				}
			}
		}
		return NewRenderer(config).Render(s).Text
	}

	first := render()
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, render(), "pipeline must be deterministic")
	}
}
