// Package scheduler admits jobs under two independent constraints: one
// running job per session, and a global cap across all sessions.
package scheduler

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultMaxConcurrent caps jobs running across all sessions.
	DefaultMaxConcurrent = 3
	// DefaultMaxQueued caps jobs waiting in one session's queue.
	DefaultMaxQueued = 10
)

// ErrQueueFull is returned when a session's queue is at capacity.
var ErrQueueFull = errors.New("session queue full")

// RunFunc is invoked (on its own goroutine) for each admitted job.
type RunFunc func(sessionID, jobID string)

type queuedJob struct {
	jobID      string
	enqueuedAt time.Time
}

type sessionQueue struct {
	jobs []queuedJob
	busy bool
}

// Scheduler holds every session's FIFO and the global running counter. All
// admission decisions flow through one mutex-guarded path; nothing else
// moves a job from queued to running.
type Scheduler struct {
	maxConcurrent int
	maxQueued     int
	run           RunFunc
	logger        *slog.Logger

	mu       sync.Mutex
	running  int
	sessions map[string]*sessionQueue
}

// New creates a scheduler. Zero limits select the defaults.
func New(maxConcurrent, maxQueued int, run RunFunc, logger *slog.Logger) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	if maxQueued <= 0 {
		maxQueued = DefaultMaxQueued
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		maxConcurrent: maxConcurrent,
		maxQueued:     maxQueued,
		run:           run,
		logger:        logger,
		sessions:      make(map[string]*sessionQueue),
	}
}

// Submit enqueues a job and returns its 0-based queue position. Position 0
// with an empty error means the job is next; it may already have been
// admitted. Admission is re-evaluated immediately.
func (s *Scheduler) Submit(sessionID, jobID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.sessions[sessionID]
	if q == nil {
		q = &sessionQueue{}
		s.sessions[sessionID] = q
	}
	if len(q.jobs) >= s.maxQueued {
		return 0, ErrQueueFull
	}

	q.jobs = append(q.jobs, queuedJob{jobID: jobID, enqueuedAt: time.Now()})
	pos := len(q.jobs) - 1

	s.admitLocked()
	return pos, nil
}

// Complete releases the session's running slot and the global counter, then
// re-scans all session heads.
func (s *Scheduler) Complete(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.sessions[sessionID]
	if q == nil || !q.busy {
		return
	}
	q.busy = false
	s.running--

	s.admitLocked()
}

// admitLocked dispatches eligible head-of-queue jobs, oldest submission
// first, while the global cap has headroom. Callers must hold s.mu.
func (s *Scheduler) admitLocked() {
	for s.running < s.maxConcurrent {
		var bestID string
		var best *sessionQueue
		for id, q := range s.sessions {
			if q.busy || len(q.jobs) == 0 {
				continue
			}
			if best == nil || q.jobs[0].enqueuedAt.Before(best.jobs[0].enqueuedAt) {
				bestID, best = id, q
			}
		}
		if best == nil {
			return
		}

		job := best.jobs[0]
		best.jobs = best.jobs[1:]
		best.busy = true
		s.running++

		s.logger.Debug("job admitted", "session_id", bestID, "job_id", job.jobID)
		go s.run(bestID, job.jobID)
	}
}

// Remove drops a still-queued job, e.g. on cancellation before admission.
func (s *Scheduler) Remove(sessionID, jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.sessions[sessionID]
	if q == nil {
		return false
	}
	for i, job := range q.jobs {
		if job.jobID == jobID {
			q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
			return true
		}
	}
	return false
}

// QueueLength returns the number of jobs waiting in a session's queue.
func (s *Scheduler) QueueLength(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q := s.sessions[sessionID]; q != nil {
		return len(q.jobs)
	}
	return 0
}

// RunningCount returns the number of currently admitted jobs.
func (s *Scheduler) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
