package tracker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mroche14/televibecode/internal/events"
	"github.com/mroche14/televibecode/internal/models"
)

// fakeDisplay records every display call.
type fakeDisplay struct {
	mu        sync.Mutex
	created   int
	updates   []Payload
	finalized []Payload
}

func (d *fakeDisplay) Create(ctx context.Context, target string, p Payload) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.created++
	return fmt.Sprintf("handle-%d", d.created), nil
}

func (d *fakeDisplay) Update(ctx context.Context, handle string, p Payload) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updates = append(d.updates, p)
	return nil
}

func (d *fakeDisplay) Finalize(ctx context.Context, handle string, p Payload) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.finalized = append(d.finalized, p)
	return nil
}

func newTestManager(d *fakeDisplay) *Manager {
	limiter := NewRateLimiter(time.Millisecond, 100, time.Second)
	return NewManager(d, limiter, events.DefaultFilterConfig(), nil)
}

func TestManager_CreateApplyFinalize(t *testing.T) {
	d := &fakeDisplay{}
	m := newTestManager(d)
	ctx := context.Background()

	job := &models.Job{ID: "job1", SessionID: "s1", Instruction: "do the thing"}
	require.NoError(t, m.Create(ctx, "chat1", job, "myproj/x"))
	assert.Equal(t, 1, d.created)

	m.Apply(ctx, "job1", []events.Event{
		{Category: events.CategoryAISpeech, Text: "starting"},
	})
	require.Len(t, d.updates, 1)
	assert.Contains(t, d.updates[0].Text, "AI: starting")

	job.Status = models.JobStatusDone
	job.ResultSummary = "all fixed"
	m.Finalize(ctx, job)
	require.Len(t, d.finalized, 1)
	assert.Contains(t, d.finalized[0].Text, "[done]")
	assert.Contains(t, d.finalized[0].Text, "all fixed")

	assert.Nil(t, m.Get("job1"), "tracker dropped after finalize")
}

func TestManager_SetStatus(t *testing.T) {
	d := &fakeDisplay{}
	m := newTestManager(d)
	ctx := context.Background()

	job := &models.Job{ID: "job1", SessionID: "s1", Instruction: "x"}
	require.NoError(t, m.Create(ctx, "chat1", job, ""))

	m.SetStatus(ctx, "job1", models.JobStatusWaitingApproval)
	require.Len(t, d.updates, 1)
	assert.Contains(t, d.updates[0].Text, "[waiting for approval]")
}

func TestManager_UnknownJobIgnored(t *testing.T) {
	d := &fakeDisplay{}
	m := newTestManager(d)
	ctx := context.Background()

	m.Apply(ctx, "ghost", []events.Event{{Category: events.CategoryAISpeech}})
	m.SetStatus(ctx, "ghost", models.JobStatusRunning)
	m.Finalize(ctx, &models.Job{ID: "ghost"})
	assert.Empty(t, d.updates)
	assert.Empty(t, d.finalized)
}

func TestManager_PauseSuppressesRoutineUpdates(t *testing.T) {
	d := &fakeDisplay{}
	m := newTestManager(d)
	ctx := context.Background()

	job := &models.Job{ID: "job1", SessionID: "s1", Instruction: "x"}
	require.NoError(t, m.Create(ctx, "chat1", job, ""))

	require.True(t, m.Pause(ctx, "job1"))
	require.Len(t, d.updates, 1, "pause itself pushes one update")

	m.Apply(ctx, "job1", []events.Event{
		{Category: events.CategoryAISpeech, Text: "chatter"},
		{Category: events.CategoryToolStart, ToolName: "Bash"},
	})
	assert.Len(t, d.updates, 1, "routine events are suppressed while paused")

	// Errors still come through.
	m.Apply(ctx, "job1", []events.Event{
		{Category: events.CategoryToolError, Text: "exit 1"},
	})
	require.Len(t, d.updates, 2)

	require.True(t, m.Resume(ctx, "job1"))
	m.Apply(ctx, "job1", []events.Event{
		{Category: events.CategoryAISpeech, Text: "back again"},
	})
	require.Len(t, d.updates, 4)
	assert.Contains(t, d.updates[3].Text, "back again")
}

func TestManager_PauseUnknownJob(t *testing.T) {
	d := &fakeDisplay{}
	m := newTestManager(d)

	assert.False(t, m.Pause(context.Background(), "ghost"))
	assert.False(t, m.Resume(context.Background(), "ghost"))
}

func TestManager_FinalizeBypassesRateLimit(t *testing.T) {
	d := &fakeDisplay{}
	limiter := NewRateLimiter(time.Minute, 1, time.Minute)
	m := NewManager(d, limiter, events.DefaultFilterConfig(), nil)
	ctx := context.Background()

	job := &models.Job{ID: "job1", SessionID: "s1", Instruction: "x"}
	require.NoError(t, m.Create(ctx, "chat1", job, ""))

	// Exhaust the limiter for the target.
	require.NoError(t, limiter.Wait(ctx, "chat1"))

	job.Status = models.JobStatusCanceled
	start := time.Now()
	m.Finalize(ctx, job)
	assert.Less(t, time.Since(start), 500*time.Millisecond,
		"terminal update must not be rate limited")
	assert.Len(t, d.finalized, 1)
}
