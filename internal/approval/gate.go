package approval

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mroche14/televibecode/internal/models"
	"github.com/mroche14/televibecode/internal/store"
)

const (
	// DefaultTimeout expires an undecided approval after one hour.
	DefaultTimeout = time.Hour
	// MaxTimeout is the operator-configurable upper bound.
	MaxTimeout = 24 * time.Hour
)

// Decision resolves a pending approval request.
type Decision struct {
	State  models.ApprovalState
	Reason string
}

// Gate holds pending approval requests and their expiry timers. A request is
// created when the executor detects a gated action; the executor parks on
// the returned channel until a decision or the timeout arrives. Decisions may
// come from either signal transport (stream event reply or hook callback);
// both end up at Resolve.
type Gate struct {
	store   store.Store
	timeout time.Duration
	logger  *slog.Logger

	// GatedScopes limits gating to the configured scopes. Empty = all.
	gatedScopes map[models.ApprovalScope]bool

	mu      sync.Mutex
	pending map[string]*pendingRequest // by job id
}

type pendingRequest struct {
	req   *models.ApprovalRequest
	ch    chan Decision
	timer *time.Timer
}

// NewGate creates a gate persisting requests to the store.
func NewGate(st store.Store, timeout time.Duration, scopes []models.ApprovalScope, logger *slog.Logger) *Gate {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if timeout > MaxTimeout {
		timeout = MaxTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	gated := make(map[models.ApprovalScope]bool, len(scopes))
	for _, s := range scopes {
		gated[s] = true
	}
	return &Gate{
		store:       st,
		timeout:     timeout,
		logger:      logger,
		gatedScopes: gated,
		pending:     make(map[string]*pendingRequest),
	}
}

// Gated reports whether the scope is configured to require approval.
func (g *Gate) Gated(scope models.ApprovalScope) bool {
	if len(g.gatedScopes) == 0 {
		return true
	}
	return g.gatedScopes[scope]
}

// Request persists an approval request for the job and returns a channel that
// yields exactly one Decision: an explicit approve/deny or the expiry.
func (g *Gate) Request(ctx context.Context, job *models.Job, scope models.ApprovalScope, description string) (*models.ApprovalRequest, <-chan Decision, error) {
	g.mu.Lock()
	if _, exists := g.pending[job.ID]; exists {
		g.mu.Unlock()
		return nil, nil, fmt.Errorf("job %s already has a pending approval", job.ID)
	}
	g.mu.Unlock()

	req := &models.ApprovalRequest{
		JobID:             job.ID,
		SessionID:         job.SessionID,
		Scope:             scope,
		ActionDescription: description,
	}
	if err := g.store.CreateApproval(ctx, req); err != nil {
		return nil, nil, fmt.Errorf("persist approval: %w", err)
	}

	ch := make(chan Decision, 1)
	p := &pendingRequest{req: req, ch: ch}
	p.timer = time.AfterFunc(g.timeout, func() { g.expire(req.JobID) })

	g.mu.Lock()
	g.pending[job.ID] = p
	g.mu.Unlock()

	g.logger.Info("approval requested",
		"job_id", job.ID, "approval_id", req.ID, "scope", scope)
	return req, ch, nil
}

// Resolve applies an approve or deny decision to the job's pending request.
// Returns store.ErrNotFound if nothing is pending for the job.
func (g *Gate) Resolve(ctx context.Context, jobID string, state models.ApprovalState, reason string) error {
	if state != models.ApprovalStateApproved && state != models.ApprovalStateDenied {
		return fmt.Errorf("invalid decision %q", state)
	}

	p := g.take(jobID)
	if p == nil {
		return fmt.Errorf("pending approval for job %s: %w", jobID, store.ErrNotFound)
	}
	p.timer.Stop()

	now := time.Now().UTC()
	p.req.Decision = state
	p.req.DecidedAt = &now
	if err := g.store.UpdateApproval(ctx, p.req); err != nil {
		g.logger.Error("approval update failed", "job_id", jobID, "error", err)
	}

	p.ch <- Decision{State: state, Reason: reason}
	g.logger.Info("approval resolved", "job_id", jobID, "decision", state)
	return nil
}

// expire fires from the timer. Removing the entry under the lock makes
// expiry and explicit resolution mutually exclusive, so it happens once.
func (g *Gate) expire(jobID string) {
	p := g.take(jobID)
	if p == nil {
		return
	}

	now := time.Now().UTC()
	p.req.Decision = models.ApprovalStateExpired
	p.req.DecidedAt = &now

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := g.store.UpdateApproval(ctx, p.req); err != nil {
		g.logger.Error("approval expiry update failed", "job_id", jobID, "error", err)
	}

	p.ch <- Decision{State: models.ApprovalStateExpired, Reason: "approval timed out"}
	g.logger.Info("approval expired", "job_id", jobID, "approval_id", p.req.ID)
}

func (g *Gate) take(jobID string) *pendingRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	p := g.pending[jobID]
	delete(g.pending, jobID)
	return p
}

// HasPending reports whether the job has an undecided request.
func (g *Gate) HasPending(jobID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.pending[jobID]
	return ok
}
