package models

import "time"

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	JobStatusQueued          JobStatus = "queued"
	JobStatusRunning         JobStatus = "running"
	JobStatusWaitingApproval JobStatus = "waiting_approval"
	JobStatusDone            JobStatus = "done"
	JobStatusFailed          JobStatus = "failed"
	JobStatusCanceled        JobStatus = "canceled"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusDone, JobStatusFailed, JobStatusCanceled:
		return true
	}
	return false
}

// ApprovalState represents the approval decision attached to a job.
type ApprovalState string

const (
	ApprovalStatePending  ApprovalState = "pending"
	ApprovalStateApproved ApprovalState = "approved"
	ApprovalStateDenied   ApprovalState = "denied"
	ApprovalStateExpired  ApprovalState = "expired"
)

// Error types recorded on failed jobs so callers can distinguish failure modes.
const (
	ErrorTypeTimeout  = "timeout"
	ErrorTypeProcess  = "process"
	ErrorTypeStore    = "store"
	ErrorTypeOrphaned = "orphaned"
)

// Job is one execution attempt of an instruction against a session's workspace.
type Job struct {
	ID            string
	SessionID     string
	Instruction   string
	RawInput      string
	Status        JobStatus
	ApprovalScope string
	ApprovalState ApprovalState
	LogPath       string
	ResultSummary string
	FilesChanged  []string
	Error         string
	ErrorType     string
	CreatedAt     time.Time
	StartedAt     *time.Time
	FinishedAt    *time.Time
}
