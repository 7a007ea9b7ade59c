package models

import "time"

// SessionState represents the state of a workspace session.
type SessionState string

const (
	SessionStateIdle    SessionState = "idle"
	SessionStateRunning SessionState = "running"
	SessionStateBlocked SessionState = "blocked"
	SessionStateClosing SessionState = "closing"
)

// Session binds a workspace to a sequence of jobs. At most one non-terminal
// job is associated with a session at a time.
type Session struct {
	ID             string
	WorkspaceRef   string
	WorkspacePath  string
	Branch         string
	State          SessionState
	CurrentJobID   string
	LastSummary    string
	CreatedAt      time.Time
	LastActivityAt time.Time
}

// Active reports whether the session currently holds a non-terminal job.
func (s *Session) Active() bool {
	return s.State == SessionStateRunning || s.State == SessionStateBlocked
}
