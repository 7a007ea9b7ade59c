// Package executor spawns and supervises agent processes, streaming their
// output through the event pipeline and enforcing timeouts, cancellation,
// and the approval gate.
package executor

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mroche14/televibecode/internal/approval"
	"github.com/mroche14/televibecode/internal/events"
	"github.com/mroche14/televibecode/internal/joblog"
	"github.com/mroche14/televibecode/internal/models"
	"github.com/mroche14/televibecode/internal/store"
	"github.com/mroche14/televibecode/internal/tracker"
	"github.com/mroche14/televibecode/internal/workspace"
)

const (
	// DefaultTimeout bounds one agent execution.
	DefaultTimeout = time.Hour
	// MaxTimeout is the operator-configurable ceiling.
	MaxTimeout = 4 * time.Hour
	// DefaultGracePeriod is the SIGTERM to SIGKILL window.
	DefaultGracePeriod = 30 * time.Second

	maxSummaryLen = 500
)

// Config tunes one executor instance.
type Config struct {
	// AgentCommand is the agent binary and its leading arguments. The
	// instruction and stream-output flags are appended per job.
	AgentCommand []string
	Timeout      time.Duration
	GracePeriod  time.Duration
}

func (c Config) withDefaults() Config {
	if len(c.AgentCommand) == 0 {
		c.AgentCommand = []string{"claude", "-p"}
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Timeout > MaxTimeout {
		c.Timeout = MaxTimeout
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	return c
}

// terminate reasons, recorded before signaling so Wait can classify the exit.
const (
	reasonTimeout = "timeout"
	reasonCancel  = "cancel"
	reasonDenied  = "denied"
	reasonExpired = "expired"
	reasonStore   = "store"
)

type runningProc struct {
	cmd  *exec.Cmd
	done chan struct{} // closed once the process is reaped

	mu     sync.Mutex
	reason string
}

func (p *runningProc) setReason(r string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reason == "" {
		p.reason = r
	}
}

func (p *runningProc) getReason() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reason
}

// Executor runs jobs against their session workspaces.
type Executor struct {
	cfg       Config
	store     store.Store
	logs      *joblog.Dir
	gate      *approval.Gate
	trackers  *tracker.Manager
	allocator workspace.Allocator
	filter    events.FilterConfig
	logger    *slog.Logger

	mu    sync.Mutex
	procs map[string]*runningProc // by job id
	// pendingCancel marks jobs canceled while admitted but not yet
	// registered in procs; Execute honors the mark when it gets there.
	pendingCancel map[string]bool
}

// New creates an executor.
func New(cfg Config, st store.Store, logs *joblog.Dir, gate *approval.Gate, trackers *tracker.Manager, alloc workspace.Allocator, filter events.FilterConfig, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		cfg:           cfg.withDefaults(),
		store:         st,
		logs:          logs,
		gate:          gate,
		trackers:      trackers,
		allocator:     alloc,
		filter:        filter,
		logger:        logger,
		procs:         make(map[string]*runningProc),
		pendingCancel: make(map[string]bool),
	}
}

// takePendingCancel consumes a cancel mark left before process registration.
func (x *Executor) takePendingCancel(jobID string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	canceled := x.pendingCancel[jobID]
	delete(x.pendingCancel, jobID)
	return canceled
}

// Running reports whether the job has a live process.
func (x *Executor) Running(jobID string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	_, ok := x.procs[jobID]
	return ok
}

// Cancel terminates the job's process with the SIGTERM/grace/SIGKILL path.
// Returns false if the job has no live process.
func (x *Executor) Cancel(jobID string) bool {
	x.mu.Lock()
	p := x.procs[jobID]
	if p == nil {
		// The job may be mid-admission with no process registered yet.
		// Leave a mark so Execute cancels it when it gets there.
		x.pendingCancel[jobID] = true
		x.mu.Unlock()
		return false
	}
	x.mu.Unlock()
	p.setReason(reasonCancel)
	x.terminate(p)
	return true
}

// Execute runs one admitted job to a terminal status. It owns all job and
// session store writes for the duration of the run.
func (x *Executor) Execute(ctx context.Context, job *models.Job, sess *models.Session) *models.Job {
	log := x.logger.With("job_id", job.ID, "session_id", sess.ID)

	if x.takePendingCancel(job.ID) {
		log.Info("job canceled before start")
		return x.finishJob(ctx, job, sess, models.JobStatusCanceled, "job was canceled", "")
	}

	now := time.Now().UTC()
	job.Status = models.JobStatusRunning
	job.StartedAt = &now
	job.LogPath = x.logs.Path(job.ID)
	if err := x.store.UpdateJob(ctx, job); err != nil {
		return x.finishJob(ctx, job, sess, models.JobStatusFailed,
			"recording job start failed", models.ErrorTypeStore)
	}

	sess.State = models.SessionStateRunning
	sess.CurrentJobID = job.ID
	if err := x.store.UpdateSession(ctx, sess); err != nil {
		return x.finishJob(ctx, job, sess, models.JobStatusFailed,
			"recording session state failed", models.ErrorTypeStore)
	}

	logw, err := x.logs.Open(job.ID)
	if err != nil {
		return x.finishJob(ctx, job, sess, models.JobStatusFailed,
			err.Error(), models.ErrorTypeProcess)
	}
	defer logw.Close()

	args := append(append([]string(nil), x.cfg.AgentCommand[1:]...),
		job.Instruction, "--output-format", "stream-json")
	cmd := exec.Command(x.cfg.AgentCommand[0], args...)
	cmd.Dir = sess.WorkspacePath
	cmd.Env = append(os.Environ(),
		"TELEVIBE_JOB_ID="+job.ID,
		"TELEVIBE_SESSION_ID="+sess.ID,
	)

	stderr := newTailBuffer(4096)
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return x.finishJob(ctx, job, sess, models.JobStatusFailed,
			fmt.Sprintf("stdout pipe: %v", err), models.ErrorTypeProcess)
	}

	if err := cmd.Start(); err != nil {
		return x.finishJob(ctx, job, sess, models.JobStatusFailed,
			fmt.Sprintf("spawn agent: %v", err), models.ErrorTypeProcess)
	}
	log.Info("agent started", "pid", cmd.Process.Pid, "workspace", sess.WorkspacePath)

	proc := &runningProc{cmd: cmd, done: make(chan struct{})}
	x.mu.Lock()
	x.procs[job.ID] = proc
	canceled := x.pendingCancel[job.ID]
	delete(x.pendingCancel, job.ID)
	x.mu.Unlock()
	defer func() {
		x.mu.Lock()
		delete(x.procs, job.ID)
		x.mu.Unlock()
	}()
	if canceled {
		// Canceled between the store-state writes above and registration.
		proc.setReason(reasonCancel)
		x.terminate(proc)
	}

	deadline := time.AfterFunc(x.cfg.Timeout, func() {
		log.Warn("execution deadline exceeded")
		proc.setReason(reasonTimeout)
		x.terminate(proc)
	})
	defer deadline.Stop()

	run := newJobRun(x.filter, func(batch []events.Event) {
		x.trackers.Apply(ctx, job.ID, batch)
	})

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if err := logw.WriteLine(line); err != nil {
			log.Warn("job log write failed", "error", err)
		}

		parsed := events.ParseLine(line, job.ID)
		if len(parsed) == 0 {
			run.observeRaw(line)
			continue
		}
		for i := range parsed {
			run.observe(&parsed[i])

			if scope, desc, gated := run.gatedAction(parsed[i]); gated && x.gate.Gated(scope) {
				if !x.awaitApproval(ctx, job, sess, proc, scope, desc) {
					// Denied or expired; the process is being torn
					// down, keep draining output until EOF.
					continue
				}
			}
		}
	}

	run.buffer.Close()
	werr := cmd.Wait()
	close(proc.done)

	return x.conclude(ctx, job, sess, run, proc.getReason(), werr, stderr.String(), logw)
}

// awaitApproval suspends the job on a gated action. Returns true when the
// decision allows execution to proceed.
func (x *Executor) awaitApproval(ctx context.Context, job *models.Job, sess *models.Session, proc *runningProc, scope models.ApprovalScope, desc string) bool {
	log := x.logger.With("job_id", job.ID)

	req, decisionCh, err := x.gate.Request(ctx, job, scope, desc)
	if err != nil {
		// Proceeding without a recorded approval would let the gated
		// action run unchecked, so the job dies instead.
		log.Error("approval request failed", "error", err)
		proc.setReason(reasonStore)
		x.terminate(proc)
		return false
	}

	job.Status = models.JobStatusWaitingApproval
	job.ApprovalScope = string(scope)
	job.ApprovalState = models.ApprovalStatePending
	if err := x.store.UpdateJob(ctx, job); err != nil {
		log.Error("suspend write failed", "error", err)
		proc.setReason(reasonStore)
		x.terminate(proc)
		return false
	}
	sess.State = models.SessionStateBlocked
	_ = x.store.UpdateSession(ctx, sess)

	x.trackers.SetStatus(ctx, job.ID, models.JobStatusWaitingApproval)
	log.Info("job suspended for approval", "approval_id", req.ID, "scope", scope)

	decision := <-decisionCh

	switch decision.State {
	case models.ApprovalStateApproved:
		job.Status = models.JobStatusRunning
		job.ApprovalState = models.ApprovalStateApproved
		_ = x.store.UpdateJob(ctx, job)
		sess.State = models.SessionStateRunning
		_ = x.store.UpdateSession(ctx, sess)
		x.trackers.SetStatus(ctx, job.ID, models.JobStatusRunning)
		log.Info("job resumed", "approval_id", req.ID)
		return true

	case models.ApprovalStateDenied:
		job.ApprovalState = models.ApprovalStateDenied
		proc.setReason(reasonDenied)
	default:
		job.ApprovalState = models.ApprovalStateExpired
		proc.setReason(reasonExpired)
	}

	x.terminate(proc)
	return false
}

// conclude classifies the exit and writes the terminal job/session state.
func (x *Executor) conclude(ctx context.Context, job *models.Job, sess *models.Session, run *jobRun, reason string, werr error, stderrTail string, logw *joblog.Writer) *models.Job {
	var status models.JobStatus
	var errMsg, errType string

	switch {
	case reason == reasonCancel:
		status = models.JobStatusCanceled
		errMsg = "job was canceled"

	case reason == reasonDenied:
		status = models.JobStatusCanceled
		errMsg = "approval denied"

	case reason == reasonExpired:
		status = models.JobStatusCanceled
		errMsg = "approval timed out"

	case reason == reasonTimeout:
		status = models.JobStatusFailed
		errMsg = fmt.Sprintf("execution exceeded %s deadline", x.cfg.Timeout)
		errType = models.ErrorTypeTimeout

	case reason == reasonStore:
		status = models.JobStatusFailed
		errMsg = "durable state write failed"
		errType = models.ErrorTypeStore

	case werr != nil:
		status = models.JobStatusFailed
		errType = models.ErrorTypeProcess
		if run.lastToolError != "" {
			errMsg = run.lastToolError
		} else if stderrTail != "" {
			errMsg = firstLines(stderrTail, 3)
		} else {
			errMsg = werr.Error()
		}

	default:
		status = models.JobStatusDone
	}

	job.ResultSummary = run.summary()
	job.FilesChanged = x.filesChanged(ctx, sess, run)

	return x.finishJob(ctx, job, sess, status, errMsg, errType)
}

// finishJob writes the terminal job state and returns the session to idle.
func (x *Executor) finishJob(ctx context.Context, job *models.Job, sess *models.Session, status models.JobStatus, errMsg, errType string) *models.Job {
	now := time.Now().UTC()
	job.Status = status
	job.Error = errMsg
	job.ErrorType = errType
	job.FinishedAt = &now
	if err := x.store.UpdateJob(ctx, job); err != nil {
		x.logger.Error("terminal job write failed", "job_id", job.ID, "error", err)
	}

	sess.State = models.SessionStateIdle
	sess.CurrentJobID = ""
	if status == models.JobStatusDone {
		sess.LastSummary = job.ResultSummary
	}
	if err := x.store.UpdateSession(ctx, sess); err != nil {
		x.logger.Error("terminal session write failed", "session_id", sess.ID, "error", err)
	}

	x.logger.Info("job finished", "job_id", job.ID, "status", status, "error_type", errType)
	return job
}

// filesChanged merges files seen in write-tool events with the workspace diff.
func (x *Executor) filesChanged(ctx context.Context, sess *models.Session, run *jobRun) []string {
	set := make(map[string]struct{}, len(run.filesChanged))
	for f := range run.filesChanged {
		set[f] = struct{}{}
	}
	if x.allocator != nil {
		diff, err := x.allocator.ChangedFiles(ctx, sess.WorkspacePath)
		if err == nil {
			for _, f := range diff {
				set[f] = struct{}{}
			}
		}
	}
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// terminate sends SIGTERM, waits out the grace period, then SIGKILLs.
// Wait() in Execute reaps the process; this only signals.
func (x *Executor) terminate(p *runningProc) {
	if p.cmd.Process == nil {
		return
	}
	_ = p.cmd.Process.Signal(syscall.SIGTERM)

	go func() {
		timer := time.NewTimer(x.cfg.GracePeriod)
		defer timer.Stop()
		select {
		case <-p.done:
		case <-timer.C:
			_ = p.cmd.Process.Kill()
		}
	}()
}

func firstLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}
