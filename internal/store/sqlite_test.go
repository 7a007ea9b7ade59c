package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mroche14/televibecode/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	err = s.Migrate(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })
	return s
}

func newTestSession(t *testing.T, s *SQLiteStore) *models.Session {
	t.Helper()
	sess := &models.Session{
		WorkspaceRef:  "ws-" + NewULID(),
		WorkspacePath: "/tmp/ws",
		Branch:        "feature/x",
	}
	require.NoError(t, s.CreateSession(context.Background(), sess))
	return sess
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "subdir", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Join(dir, "subdir"))
	assert.NoError(t, err, "should create parent directory")
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Migrate(context.Background()))
}

func TestSessionCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := &models.Session{
		WorkspaceRef:  "myproj/feature-auth",
		WorkspacePath: "/tmp/workspaces/feature-auth",
		Branch:        "feature-auth",
	}
	require.NoError(t, s.CreateSession(ctx, sess))
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, models.SessionStateIdle, sess.State)
	assert.False(t, sess.CreatedAt.IsZero())

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.WorkspaceRef, got.WorkspaceRef)
	assert.Equal(t, sess.Branch, got.Branch)

	got.State = models.SessionStateRunning
	got.CurrentJobID = "job1"
	require.NoError(t, s.UpdateSession(ctx, got))

	got2, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStateRunning, got2.State)
	assert.Equal(t, "job1", got2.CurrentJobID)

	all, err := s.ListSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, s.DeleteSession(ctx, sess.ID))
	_, err = s.GetSession(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJobCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := newTestSession(t, s)

	job := &models.Job{
		SessionID:   sess.ID,
		Instruction: "fix the login bug",
		RawInput:    "fix the login bug",
	}
	require.NoError(t, s.CreateJob(ctx, job))
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, models.JobStatusQueued, job.Status)

	now := time.Now().UTC()
	job.Status = models.JobStatusDone
	job.ResultSummary = "fixed"
	job.FilesChanged = []string{"auth/login.go", "auth/login_test.go"}
	job.StartedAt = &now
	job.FinishedAt = &now
	require.NoError(t, s.UpdateJob(ctx, job))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusDone, got.Status)
	assert.Equal(t, []string{"auth/login.go", "auth/login_test.go"}, got.FilesChanged)
	require.NotNil(t, got.FinishedAt)

	_, err = s.GetJob(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListJobs_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s1 := newTestSession(t, s)
	s2 := newTestSession(t, s)

	mk := func(sessID string, status models.JobStatus) *models.Job {
		job := &models.Job{SessionID: sessID, Instruction: "x", Status: status}
		require.NoError(t, s.CreateJob(ctx, job))
		return job
	}
	mk(s1.ID, models.JobStatusQueued)
	mk(s1.ID, models.JobStatusDone)
	mk(s2.ID, models.JobStatusRunning)
	mk(s2.ID, models.JobStatusFailed)

	jobs, err := s.ListJobs(ctx, JobListFilter{SessionID: s1.ID})
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	jobs, err = s.ListJobs(ctx, JobListFilter{
		Statuses: []models.JobStatus{models.JobStatusRunning, models.JobStatusQueued},
	})
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	jobs, err = s.ListJobs(ctx, JobListFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestApprovalLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := newTestSession(t, s)

	job := &models.Job{SessionID: sess.ID, Instruction: "push the branch"}
	require.NoError(t, s.CreateJob(ctx, job))

	a := &models.ApprovalRequest{
		JobID:             job.ID,
		SessionID:         sess.ID,
		Scope:             models.ScopePush,
		ActionDescription: "git push origin feature-auth",
	}
	require.NoError(t, s.CreateApproval(ctx, a))
	assert.Equal(t, models.ApprovalStatePending, a.Decision)

	pending, err := s.ListPendingApprovals(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	byJob, err := s.GetPendingApprovalByJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, byJob.ID)

	now := time.Now().UTC()
	a.Decision = models.ApprovalStateApproved
	a.DecidedAt = &now
	require.NoError(t, s.UpdateApproval(ctx, a))

	pending, err = s.ListPendingApprovals(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = s.GetPendingApprovalByJob(ctx, job.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewULID_UniqueAndOrdered(t *testing.T) {
	ids := make([]string, 1000)
	seen := make(map[string]bool, len(ids))
	for i := range ids {
		ids[i] = NewULID()
		seen[ids[i]] = true
	}
	assert.Len(t, seen, len(ids))
	for i := 1; i < len(ids); i++ {
		assert.Less(t, ids[i-1], ids[i])
	}
}
