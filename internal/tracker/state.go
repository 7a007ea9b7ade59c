package tracker

import (
	"time"

	"github.com/mroche14/televibecode/internal/events"
	"github.com/mroche14/televibecode/internal/models"
)

// State is the mutable renderable projection for one job. It is owned by the
// manager and mutated only from its flush path; once the status turns
// terminal it is frozen and rendered one last time.
type State struct {
	JobID        string
	SessionID    string
	WorkspaceRef string
	Instruction  string

	// Window holds the most recent accepted events; older ones are counted
	// in Dropped and summarized by the renderer.
	Window     []events.Event
	WindowSize int
	Dropped    int

	StartedAt      time.Time
	ElapsedSeconds int
	FilesTouched   map[string]struct{}
	TurnCount      int
	InputTokens    int
	OutputTokens   int
	CostUSD        float64

	Status      models.JobStatus
	FinalResult string
	Error       string

	// Paused suppresses routine display updates; system and error events
	// still come through.
	Paused bool
}

// NewState creates the projection for a job that just started.
func NewState(job *models.Job, workspaceRef string, windowSize int) *State {
	if windowSize <= 0 {
		windowSize = 10
	}
	return &State{
		JobID:        job.ID,
		SessionID:    job.SessionID,
		WorkspaceRef: workspaceRef,
		Instruction:  job.Instruction,
		WindowSize:   windowSize,
		StartedAt:    time.Now().UTC(),
		FilesTouched: make(map[string]struct{}),
		Status:       models.JobStatusRunning,
	}
}

// Apply folds one accepted event into the state.
func (s *State) Apply(e events.Event) {
	s.Window = append(s.Window, e)
	if len(s.Window) > s.WindowSize {
		s.Window = s.Window[1:]
		s.Dropped++
	}

	switch e.Category {
	case events.CategoryToolStart:
		if p := e.FilePath(); p != "" && events.WriteTools[e.ToolName] {
			s.FilesTouched[p] = struct{}{}
		}
	case events.CategorySystemResult:
		s.TurnCount = e.NumTurns
		s.CostUSD = e.CostUSD
		s.InputTokens = e.InputTokens
		s.OutputTokens = e.OutputTokens
	}

	if !s.StartedAt.IsZero() {
		s.ElapsedSeconds = int(time.Since(s.StartedAt).Seconds())
	}
}
