package api

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mroche14/televibecode/internal/approval"
	"github.com/mroche14/televibecode/internal/events"
	"github.com/mroche14/televibecode/internal/executor"
	"github.com/mroche14/televibecode/internal/joblog"
	"github.com/mroche14/televibecode/internal/models"
	"github.com/mroche14/televibecode/internal/orchestrator"
	"github.com/mroche14/televibecode/internal/store"
	"github.com/mroche14/televibecode/internal/tracker"
	"github.com/mroche14/televibecode/internal/workspace"
)

type nopDisplay struct{}

func (nopDisplay) Create(ctx context.Context, target string, p tracker.Payload) (string, error) {
	return "h", nil
}
func (nopDisplay) Update(ctx context.Context, handle string, p tracker.Payload) error   { return nil }
func (nopDisplay) Finalize(ctx context.Context, handle string, p tracker.Payload) error { return nil }

func newTestServer(t *testing.T, script string) *Client {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "televibe.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	logs, err := joblog.NewDir(t.TempDir(), 0)
	require.NoError(t, err)
	alloc, err := workspace.NewDirAllocator(t.TempDir())
	require.NoError(t, err)

	scriptPath := filepath.Join(t.TempDir(), "agent.sh")
	require.NoError(t, os.WriteFile(scriptPath, []byte("#!/bin/sh\n"+script), 0o755))

	gate := approval.NewGate(st, time.Minute, nil, logger)
	trackers := tracker.NewManager(nopDisplay{},
		tracker.NewRateLimiter(time.Millisecond, 100, time.Second),
		events.DefaultFilterConfig(), logger)
	exec := executor.New(executor.Config{AgentCommand: []string{"/bin/sh", scriptPath}},
		st, logs, gate, trackers, alloc, events.DefaultFilterConfig(), logger)
	facade := orchestrator.New(orchestrator.Config{DefaultTarget: "chat-1"},
		st, exec, gate, logs, trackers, alloc, logger)

	srv := httptest.NewServer(NewServer(facade).Router())
	t.Cleanup(srv.Close)
	return NewClient(srv.URL)
}

const doneScript = `
echo '{"type":"assistant","message":{"content":[{"type":"text","text":"all set"}]}}'
echo '{"type":"result","num_turns":1}'
exit 0
`

func waitJob(t *testing.T, c *Client, id string, want models.JobStatus) *models.Job {
	t.Helper()
	var got *models.Job
	require.Eventually(t, func() bool {
		job, err := c.GetJob(context.Background(), id)
		if err != nil {
			return false
		}
		got = job
		return job.Status == want
	}, 10*time.Second, 20*time.Millisecond)
	return got
}

func TestSubmitAndGetJob(t *testing.T) {
	c := newTestServer(t, doneScript)
	ctx := context.Background()

	job, pos, err := c.SubmitJob(ctx, SubmitJobRequest{
		WorkspaceRef: "acme/api",
		Instruction:  "fix the bug",
	})
	require.NoError(t, err)
	require.Equal(t, 0, pos)
	require.NotEmpty(t, job.ID)

	got := waitJob(t, c, job.ID, models.JobStatusDone)
	require.Equal(t, "all set", got.ResultSummary)

	jobs, err := c.ListJobs(ctx, job.SessionID, nil, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	filtered, err := c.ListJobs(ctx, "", []string{"done"}, 10)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
}

func TestSubmitJob_ValidationError(t *testing.T) {
	c := newTestServer(t, doneScript)

	_, _, err := c.SubmitJob(context.Background(), SubmitJobRequest{
		WorkspaceRef: "acme/api",
		Instruction:  "",
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "HTTP 400")
}

func TestGetJob_NotFound(t *testing.T) {
	c := newTestServer(t, doneScript)

	_, err := c.GetJob(context.Background(), "missing")
	require.Error(t, err)
	require.Contains(t, err.Error(), "HTTP 404")
}

func TestCancelJob(t *testing.T) {
	c := newTestServer(t, `exec sleep 30`)
	ctx := context.Background()

	job, _, err := c.SubmitJob(ctx, SubmitJobRequest{
		WorkspaceRef: "acme/api",
		Instruction:  "long task",
	})
	require.NoError(t, err)
	waitJob(t, c, job.ID, models.JobStatusRunning)

	_, err = c.CancelJob(ctx, job.ID)
	require.NoError(t, err)
	waitJob(t, c, job.ID, models.JobStatusCanceled)
}

func TestPauseAndResumeTracker(t *testing.T) {
	c := newTestServer(t, `exec sleep 30`)
	ctx := context.Background()

	job, _, err := c.SubmitJob(ctx, SubmitJobRequest{
		WorkspaceRef: "acme/api",
		Instruction:  "long task",
	})
	require.NoError(t, err)
	waitJob(t, c, job.ID, models.JobStatusRunning)

	require.NoError(t, c.PauseTracker(ctx, job.ID))
	require.NoError(t, c.ResumeTracker(ctx, job.ID))

	err = c.PauseTracker(ctx, "no-such-job")
	require.ErrorContains(t, err, "404")

	_, err = c.CancelJob(ctx, job.ID)
	require.NoError(t, err)
	waitJob(t, c, job.ID, models.JobStatusCanceled)
}

func TestJobLogs(t *testing.T) {
	c := newTestServer(t, doneScript)
	ctx := context.Background()

	job, _, err := c.SubmitJob(ctx, SubmitJobRequest{
		WorkspaceRef: "acme/api",
		Instruction:  "go",
	})
	require.NoError(t, err)
	waitJob(t, c, job.ID, models.JobStatusDone)

	logs, err := c.GetJobLogs(ctx, job.ID, 0)
	require.NoError(t, err)
	require.False(t, logs.Truncated)
	require.Contains(t, logs.Content, `"type":"result"`)
}

func TestApprovalOverHook(t *testing.T) {
	script := `
echo '{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Bash","id":"b1","input":{"command":"git push origin main"}}]}}'
echo '{"type":"assistant","message":{"content":[{"type":"text","text":"pushed"}]}}'
exit 0
`
	c := newTestServer(t, script)
	ctx := context.Background()

	job, _, err := c.SubmitJob(ctx, SubmitJobRequest{
		WorkspaceRef: "acme/api",
		Instruction:  "push it",
	})
	require.NoError(t, err)
	waitJob(t, c, job.ID, models.JobStatusWaitingApproval)

	pending, err := c.ListPendingApprovals(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, job.ID, pending[0].JobID)

	require.NoError(t, c.ApproveJob(ctx, job.ID))
	got := waitJob(t, c, job.ID, models.JobStatusDone)
	require.Equal(t, models.ApprovalStateApproved, got.ApprovalState)

	// No pending request left to approve.
	err = c.ApproveJob(ctx, job.ID)
	require.Error(t, err)
	require.Contains(t, err.Error(), "HTTP 404")
}

func TestDenyJob(t *testing.T) {
	script := `
echo '{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Bash","id":"b1","input":{"command":"rm -rf build"}}]}}'
exec sleep 30
`
	c := newTestServer(t, script)
	ctx := context.Background()

	job, _, err := c.SubmitJob(ctx, SubmitJobRequest{
		WorkspaceRef: "acme/api",
		Instruction:  "clean",
	})
	require.NoError(t, err)
	waitJob(t, c, job.ID, models.JobStatusWaitingApproval)

	require.NoError(t, c.DenyJob(ctx, job.ID, "not here"))
	got := waitJob(t, c, job.ID, models.JobStatusCanceled)
	require.Equal(t, models.ApprovalStateDenied, got.ApprovalState)
}

func TestSessionLifecycle(t *testing.T) {
	c := newTestServer(t, doneScript)
	ctx := context.Background()

	job, _, err := c.SubmitJob(ctx, SubmitJobRequest{
		WorkspaceRef: "acme/api",
		Instruction:  "one",
	})
	require.NoError(t, err)
	waitJob(t, c, job.ID, models.JobStatusDone)

	sessions, err := c.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, "acme/api", sessions[0].WorkspaceRef)

	sess, err := c.GetSession(ctx, sessions[0].ID)
	require.NoError(t, err)
	require.Equal(t, job.SessionID, sess.ID)

	closed, err := c.CloseSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, models.SessionStateClosing, closed.State)

	// Submissions to a closing session conflict.
	_, _, err = c.SubmitJob(ctx, SubmitJobRequest{
		WorkspaceRef: "acme/api",
		Instruction:  "two",
	})
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "HTTP 409"), err.Error())
}
