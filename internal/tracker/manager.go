package tracker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mroche14/televibecode/internal/events"
	"github.com/mroche14/televibecode/internal/models"
)

// Manager owns one renderable state per job and wires flushed event batches
// through the renderer and rate limiter into the display.
type Manager struct {
	display  Display
	limiter  *RateLimiter
	renderer *Renderer
	config   events.FilterConfig
	logger   *slog.Logger

	mu       sync.Mutex
	trackers map[string]*entry
}

type entry struct {
	state  *State
	target string
	handle string
}

// NewManager creates a tracker manager pushing to the given display.
func NewManager(display Display, limiter *RateLimiter, config events.FilterConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		display:  display,
		limiter:  limiter,
		renderer: NewRenderer(config),
		config:   config,
		logger:   logger,
	}
}

// Create sets up the tracker and initial display message for a starting job.
func (m *Manager) Create(ctx context.Context, target string, job *models.Job, workspaceRef string) error {
	state := NewState(job, workspaceRef, m.config.WindowSize)

	handle, err := m.display.Create(ctx, target, m.renderer.Render(state))
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.trackers == nil {
		m.trackers = make(map[string]*entry)
	}
	m.trackers[job.ID] = &entry{state: state, target: target, handle: handle}
	m.mu.Unlock()

	m.logger.Info("tracker created", "job_id", job.ID, "target", target)
	return nil
}

func (m *Manager) entryFor(jobID string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trackers[jobID]
}

// Apply folds a flushed batch of accepted events into the job's state and
// pushes a rate-limited display update. While paused, only system and error
// events get through.
func (m *Manager) Apply(ctx context.Context, jobID string, batch []events.Event) {
	ent := m.entryFor(jobID)
	if ent == nil {
		return
	}
	applied := 0
	for _, e := range batch {
		if ent.state.Paused &&
			e.Category != events.CategorySystemInit &&
			e.Category != events.CategorySystemResult &&
			e.Category != events.CategoryToolError {
			continue
		}
		ent.state.Apply(e)
		applied++
	}
	if applied == 0 {
		return
	}
	m.push(ctx, jobID, ent)
}

// SetStatus updates the job's displayed status (e.g. waiting_approval).
func (m *Manager) SetStatus(ctx context.Context, jobID string, status models.JobStatus) {
	ent := m.entryFor(jobID)
	if ent == nil {
		return
	}
	ent.state.Status = status
	m.push(ctx, jobID, ent)
}

func (m *Manager) push(ctx context.Context, jobID string, ent *entry) {
	if err := m.limiter.Wait(ctx, ent.target); err != nil {
		return
	}
	if err := m.display.Update(ctx, ent.handle, m.renderer.Render(ent.state)); err != nil {
		m.logger.Warn("tracker update failed", "job_id", jobID, "error", err)
	}
}

// Pause suppresses routine display updates for the job's tracker and pushes
// one update so the display reflects the paused state.
func (m *Manager) Pause(ctx context.Context, jobID string) bool {
	return m.setPaused(ctx, jobID, true)
}

// Resume re-enables display updates for the job's tracker.
func (m *Manager) Resume(ctx context.Context, jobID string) bool {
	return m.setPaused(ctx, jobID, false)
}

func (m *Manager) setPaused(ctx context.Context, jobID string, paused bool) bool {
	ent := m.entryFor(jobID)
	if ent == nil {
		return false
	}
	ent.state.Paused = paused
	m.push(ctx, jobID, ent)
	m.logger.Info("tracker pause toggled", "job_id", jobID, "paused", paused)
	return true
}

// Finalize freezes the state, pushes the terminal update bypassing the rate
// limiter, and drops the tracker.
func (m *Manager) Finalize(ctx context.Context, job *models.Job) {
	m.mu.Lock()
	ent := m.trackers[job.ID]
	delete(m.trackers, job.ID)
	m.mu.Unlock()
	if ent == nil {
		return
	}

	ent.state.Status = job.Status
	ent.state.FinalResult = job.ResultSummary
	ent.state.Error = job.Error

	if err := m.display.Finalize(ctx, ent.handle, m.renderer.Render(ent.state)); err != nil {
		m.logger.Warn("tracker finalize failed", "job_id", job.ID, "error", err)
	}
	m.limiter.Forget(ent.target)

	m.logger.Info("tracker finalized", "job_id", job.ID, "status", job.Status)
}

// Get returns the live state for a job, or nil if no tracker exists.
func (m *Manager) Get(jobID string) *State {
	ent := m.entryFor(jobID)
	if ent == nil {
		return nil
	}
	return ent.state
}
