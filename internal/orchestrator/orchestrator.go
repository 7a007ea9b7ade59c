// Package orchestrator is the facade over sessions, scheduling, execution,
// approvals, and job logs. Transport layers (HTTP, CLI) talk only to it.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mroche14/televibecode/internal/approval"
	"github.com/mroche14/televibecode/internal/executor"
	"github.com/mroche14/televibecode/internal/joblog"
	"github.com/mroche14/televibecode/internal/models"
	"github.com/mroche14/televibecode/internal/scheduler"
	"github.com/mroche14/televibecode/internal/store"
	"github.com/mroche14/televibecode/internal/tracker"
	"github.com/mroche14/televibecode/internal/workspace"
)

// DefaultMaxInstructionLen bounds a single job instruction unless the
// config overrides it.
const DefaultMaxInstructionLen = 4000

// Config tunes the facade.
type Config struct {
	MaxConcurrent int
	MaxQueued     int
	// MaxInstructionLen caps instruction length; zero means the default.
	MaxInstructionLen int
	// DefaultTarget is the display target used when a submission names none.
	DefaultTarget string
}

// SubmitRequest describes one job submission.
type SubmitRequest struct {
	// WorkspaceRef identifies (and auto-creates) the session. SessionID may
	// be given instead to address an existing session directly.
	WorkspaceRef string
	SessionID    string
	Branch       string
	Instruction  string
	RawInput     string
	// Target is where progress updates are displayed.
	Target string
}

// Facade wires the store, scheduler, executor, gate, and trackers together.
type Facade struct {
	cfg       Config
	store     store.Store
	exec      *executor.Executor
	sched     *scheduler.Scheduler
	gate      *approval.Gate
	logs      *joblog.Dir
	trackers  *tracker.Manager
	allocator workspace.Allocator
	logger    *slog.Logger
}

// New creates the facade and its scheduler. The scheduler's run function
// loads the job and session and hands them to the executor.
func New(cfg Config, st store.Store, exec *executor.Executor, gate *approval.Gate, logs *joblog.Dir, trackers *tracker.Manager, alloc workspace.Allocator, logger *slog.Logger) *Facade {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Facade{
		cfg:       cfg,
		store:     st,
		exec:      exec,
		gate:      gate,
		logs:      logs,
		trackers:  trackers,
		allocator: alloc,
		logger:    logger,
	}
	f.sched = scheduler.New(cfg.MaxConcurrent, cfg.MaxQueued, f.runJob, logger)
	return f
}

// runJob is the scheduler's admission callback.
func (f *Facade) runJob(sessionID, jobID string) {
	defer f.sched.Complete(sessionID)
	ctx := context.Background()

	job, err := f.store.GetJob(ctx, jobID)
	if err != nil {
		f.logger.Error("admitted job load failed", "job_id", jobID, "error", err)
		return
	}
	if job.Status.Terminal() {
		// Canceled between admission and dispatch.
		return
	}
	sess, err := f.store.GetSession(ctx, sessionID)
	if err != nil {
		f.logger.Error("admitted session load failed", "session_id", sessionID, "error", err)
		return
	}

	job = f.exec.Execute(ctx, job, sess)
	f.trackers.Finalize(ctx, job)
}

// SubmitJob validates and enqueues a job, returning it along with its
// 0-based queue position in the session.
func (f *Facade) SubmitJob(ctx context.Context, req SubmitRequest) (*models.Job, int, error) {
	instruction := strings.TrimSpace(req.Instruction)
	if instruction == "" {
		return nil, 0, fmt.Errorf("instruction is empty: %w", ErrValidation)
	}
	maxLen := f.cfg.MaxInstructionLen
	if maxLen <= 0 {
		maxLen = DefaultMaxInstructionLen
	}
	if len(instruction) > maxLen {
		return nil, 0, fmt.Errorf("instruction exceeds %d characters: %w", maxLen, ErrValidation)
	}

	sess, err := f.resolveSession(ctx, req)
	if err != nil {
		return nil, 0, err
	}
	if sess.State == models.SessionStateClosing {
		return nil, 0, fmt.Errorf("session %s is closing: %w", sess.ID, ErrConflict)
	}
	if f.sched.QueueLength(sess.ID) >= f.queueCap() {
		return nil, 0, fmt.Errorf("session %s queue is full: %w", sess.ID, ErrConflict)
	}

	job := &models.Job{
		ID:          store.NewULID(),
		SessionID:   sess.ID,
		Instruction: instruction,
		RawInput:    req.RawInput,
		Status:      models.JobStatusQueued,
	}
	if err := f.store.CreateJob(ctx, job); err != nil {
		return nil, 0, fmt.Errorf("persist job: %w", errors.Join(ErrStore, err))
	}

	target := req.Target
	if target == "" {
		target = f.cfg.DefaultTarget
	}
	if target != "" {
		if err := f.trackers.Create(ctx, target, job, sess.WorkspaceRef); err != nil {
			f.logger.Warn("tracker create failed", "job_id", job.ID, "error", err)
		}
	}

	pos, err := f.sched.Submit(sess.ID, job.ID)
	if err != nil {
		job.Status = models.JobStatusCanceled
		job.Error = "session queue full"
		_ = f.store.UpdateJob(ctx, job)
		return nil, 0, fmt.Errorf("session %s queue is full: %w", sess.ID, ErrConflict)
	}

	sess.LastActivityAt = time.Now().UTC()
	_ = f.store.UpdateSession(ctx, sess)

	f.logger.Info("job submitted", "job_id", job.ID, "session_id", sess.ID, "position", pos)
	return job, pos, nil
}

func (f *Facade) queueCap() int {
	if f.cfg.MaxQueued > 0 {
		return f.cfg.MaxQueued
	}
	return scheduler.DefaultMaxQueued
}

// resolveSession finds the session by id or workspace ref, creating one for
// an unknown ref.
func (f *Facade) resolveSession(ctx context.Context, req SubmitRequest) (*models.Session, error) {
	if req.SessionID != "" {
		sess, err := f.store.GetSession(ctx, req.SessionID)
		if err != nil {
			return nil, mapStoreErr(err)
		}
		return sess, nil
	}
	if req.WorkspaceRef == "" {
		return nil, fmt.Errorf("workspace ref or session id required: %w", ErrValidation)
	}

	sessions, err := f.store.ListSessions(ctx)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	for _, s := range sessions {
		if s.WorkspaceRef == req.WorkspaceRef {
			return s, nil
		}
	}

	path, err := f.allocator.Allocate(ctx, req.WorkspaceRef, req.Branch)
	if err != nil {
		return nil, fmt.Errorf("allocate workspace: %w", errors.Join(ErrProcess, err))
	}
	sess := &models.Session{
		ID:            store.NewULID(),
		WorkspaceRef:  req.WorkspaceRef,
		WorkspacePath: path,
		Branch:        req.Branch,
		State:         models.SessionStateIdle,
	}
	if err := f.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("persist session: %w", errors.Join(ErrStore, err))
	}
	f.logger.Info("session created", "session_id", sess.ID, "workspace_ref", sess.WorkspaceRef)
	return sess, nil
}

// GetJob returns one job by id.
func (f *Facade) GetJob(ctx context.Context, id string) (*models.Job, error) {
	job, err := f.store.GetJob(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return job, nil
}

// ListJobs returns jobs matching the filter, newest first.
func (f *Facade) ListJobs(ctx context.Context, filter store.JobListFilter) ([]*models.Job, error) {
	jobs, err := f.store.ListJobs(ctx, filter)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return jobs, nil
}

// CancelJob stops a job in any non-terminal state. Canceling a terminal job
// is a no-op returning the job as-is.
func (f *Facade) CancelJob(ctx context.Context, id string) (*models.Job, error) {
	job, err := f.store.GetJob(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if job.Status.Terminal() {
		return job, nil
	}

	switch job.Status {
	case models.JobStatusQueued:
		if !f.sched.Remove(job.SessionID, job.ID) {
			// Admitted between the store read and now; the executor owns it.
			f.exec.Cancel(job.ID)
			break
		}
		now := time.Now().UTC()
		job.Status = models.JobStatusCanceled
		job.Error = "job was canceled"
		job.FinishedAt = &now
		if err := f.store.UpdateJob(ctx, job); err != nil {
			return nil, mapStoreErr(err)
		}
		f.trackers.Finalize(ctx, job)

	case models.JobStatusWaitingApproval:
		// Denying the pending approval tears the process down.
		if err := f.gate.Resolve(ctx, job.ID, models.ApprovalStateDenied, "job was canceled"); err != nil {
			f.exec.Cancel(job.ID)
		}

	case models.JobStatusRunning:
		f.exec.Cancel(job.ID)
	}

	f.logger.Info("job cancel requested", "job_id", job.ID, "was", job.Status)
	return job, nil
}

// GetJobLogs returns the last n log lines for a job and whether older output
// was cut off.
func (f *Facade) GetJobLogs(ctx context.Context, id string, n int) (string, bool, error) {
	if _, err := f.store.GetJob(ctx, id); err != nil {
		return "", false, mapStoreErr(err)
	}
	return f.logs.Tail(id, n)
}

// ListPendingApprovals returns all undecided approval requests.
func (f *Facade) ListPendingApprovals(ctx context.Context) ([]*models.ApprovalRequest, error) {
	reqs, err := f.store.ListPendingApprovals(ctx)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return reqs, nil
}

// ApproveJob resolves the job's pending approval as approved.
func (f *Facade) ApproveJob(ctx context.Context, jobID string) error {
	if err := f.gate.Resolve(ctx, jobID, models.ApprovalStateApproved, ""); err != nil {
		return f.classifyResolveErr(ctx, jobID, err)
	}
	return nil
}

// DenyJob resolves the job's pending approval as denied with a reason.
func (f *Facade) DenyJob(ctx context.Context, jobID, reason string) error {
	if err := f.gate.Resolve(ctx, jobID, models.ApprovalStateDenied, reason); err != nil {
		return f.classifyResolveErr(ctx, jobID, err)
	}
	return nil
}

// classifyResolveErr distinguishes a decision that raced an earlier one from a
// genuinely unknown job. A request already denied or expired reports that
// outcome rather than a bare not-found.
func (f *Facade) classifyResolveErr(ctx context.Context, jobID string, err error) error {
	job, jerr := f.store.GetJob(ctx, jobID)
	if jerr != nil {
		return mapStoreErr(jerr)
	}
	switch job.ApprovalState {
	case models.ApprovalStateDenied:
		return fmt.Errorf("job %s: %w", jobID, ErrApprovalDenied)
	case models.ApprovalStateExpired:
		return fmt.Errorf("job %s: %w", jobID, ErrApprovalExpired)
	}
	return mapStoreErr(err)
}

// PauseTracker suppresses routine progress updates for a running job's
// display. The job itself keeps executing.
func (f *Facade) PauseTracker(ctx context.Context, jobID string) error {
	if _, err := f.store.GetJob(ctx, jobID); err != nil {
		return mapStoreErr(err)
	}
	if !f.trackers.Pause(ctx, jobID) {
		return fmt.Errorf("job %s has no active tracker: %w", jobID, ErrNotFound)
	}
	return nil
}

// ResumeTracker re-enables progress updates for a paused display.
func (f *Facade) ResumeTracker(ctx context.Context, jobID string) error {
	if _, err := f.store.GetJob(ctx, jobID); err != nil {
		return mapStoreErr(err)
	}
	if !f.trackers.Resume(ctx, jobID) {
		return fmt.Errorf("job %s has no active tracker: %w", jobID, ErrNotFound)
	}
	return nil
}

// GetSession returns one session by id.
func (f *Facade) GetSession(ctx context.Context, id string) (*models.Session, error) {
	sess, err := f.store.GetSession(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return sess, nil
}

// ListSessions returns all sessions.
func (f *Facade) ListSessions(ctx context.Context) ([]*models.Session, error) {
	sessions, err := f.store.ListSessions(ctx)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return sessions, nil
}

// CloseSession moves the session to closing, cancels its current job, and
// rejects further submissions. The workspace directory is left in place for
// inspection.
func (f *Facade) CloseSession(ctx context.Context, id string) (*models.Session, error) {
	sess, err := f.store.GetSession(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if sess.State == models.SessionStateClosing {
		return sess, nil
	}

	sess.State = models.SessionStateClosing
	if err := f.store.UpdateSession(ctx, sess); err != nil {
		return nil, mapStoreErr(err)
	}

	if sess.CurrentJobID != "" {
		if _, err := f.CancelJob(ctx, sess.CurrentJobID); err != nil && !errors.Is(err, ErrNotFound) {
			f.logger.Warn("cancel on close failed", "session_id", id, "job_id", sess.CurrentJobID, "error", err)
		}
	}

	f.logger.Info("session closing", "session_id", id)
	return sess, nil
}

// Recover marks jobs that were running when the process died. Called once at
// startup, before the scheduler accepts work: any stored running or
// waiting-approval job without a live process was orphaned by a crash.
func (f *Facade) Recover(ctx context.Context) (int, error) {
	jobs, err := f.store.ListJobs(ctx, store.JobListFilter{
		Statuses: []models.JobStatus{models.JobStatusRunning, models.JobStatusWaitingApproval},
	})
	if err != nil {
		return 0, mapStoreErr(err)
	}

	recovered := 0
	for _, job := range jobs {
		if f.exec.Running(job.ID) {
			continue
		}
		now := time.Now().UTC()
		job.Status = models.JobStatusFailed
		job.Error = "job process lost during restart"
		job.ErrorType = models.ErrorTypeOrphaned
		job.FinishedAt = &now
		if err := f.store.UpdateJob(ctx, job); err != nil {
			f.logger.Error("orphan recovery write failed", "job_id", job.ID, "error", err)
			continue
		}

		sess, err := f.store.GetSession(ctx, job.SessionID)
		if err == nil && sess.CurrentJobID == job.ID {
			sess.State = models.SessionStateIdle
			sess.CurrentJobID = ""
			_ = f.store.UpdateSession(ctx, sess)
		}

		recovered++
		f.logger.Warn("orphaned job failed", "job_id", job.ID, "session_id", job.SessionID)
	}
	return recovered, nil
}

// QueueLength reports how many jobs wait in a session's queue.
func (f *Facade) QueueLength(sessionID string) int {
	return f.sched.QueueLength(sessionID)
}

func mapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return errors.Join(ErrNotFound, err)
	}
	return err
}
