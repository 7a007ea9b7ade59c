package store

import (
	"context"
	"errors"

	"github.com/mroche14/televibecode/internal/models"
)

// ErrNotFound is returned when a session, job, or approval id cannot be resolved.
var ErrNotFound = errors.New("not found")

// JobListFilter specifies filters for listing jobs.
type JobListFilter struct {
	SessionID string
	Statuses  []models.JobStatus
	Limit     int
}

// Store defines the persistence interface. The store is the single source of
// truth for session/job/approval state; in-memory queues and trackers are a
// cache reconstructable from it.
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	ListSessions(ctx context.Context) ([]*models.Session, error)
	UpdateSession(ctx context.Context, s *models.Session) error
	DeleteSession(ctx context.Context, id string) error

	// Jobs
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListJobs(ctx context.Context, filter JobListFilter) ([]*models.Job, error)
	UpdateJob(ctx context.Context, job *models.Job) error

	// Approvals
	CreateApproval(ctx context.Context, a *models.ApprovalRequest) error
	GetApproval(ctx context.Context, id string) (*models.ApprovalRequest, error)
	GetPendingApprovalByJob(ctx context.Context, jobID string) (*models.ApprovalRequest, error)
	ListPendingApprovals(ctx context.Context) ([]*models.ApprovalRequest, error)
	UpdateApproval(ctx context.Context, a *models.ApprovalRequest) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
