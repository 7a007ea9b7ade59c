package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mroche14/televibecode/internal/models"
)

// Client is a typed HTTP client for the REST API, used by the CLI commands.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the given server base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (HTTP %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("HTTP %d from %s %s", resp.StatusCode, method, path)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// SubmitJob submits an instruction and returns the created job and its
// queue position.
func (c *Client) SubmitJob(ctx context.Context, req SubmitJobRequest) (*models.Job, int, error) {
	var resp SubmitJobResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/jobs", req, &resp); err != nil {
		return nil, 0, err
	}
	return resp.Job, resp.Position, nil
}

// ListJobs lists jobs, optionally filtered by session and statuses.
func (c *Client) ListJobs(ctx context.Context, sessionID string, statuses []string, limit int) ([]*models.Job, error) {
	q := url.Values{}
	if sessionID != "" {
		q.Set("session_id", sessionID)
	}
	if len(statuses) > 0 {
		q.Set("status", strings.Join(statuses, ","))
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	path := "/api/v1/jobs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var jobs []*models.Job
	if err := c.do(ctx, http.MethodGet, path, nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// GetJob fetches one job by id.
func (c *Client) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	if err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+id, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// CancelJob requests cancellation and returns the job.
func (c *Client) CancelJob(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	if err := c.do(ctx, http.MethodPost, "/api/v1/jobs/"+id+"/cancel", nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJobLogs fetches the last n log lines for a job.
func (c *Client) GetJobLogs(ctx context.Context, id string, lines int) (*JobLogsResponse, error) {
	path := "/api/v1/jobs/" + id + "/logs"
	if lines > 0 {
		path += "?lines=" + fmt.Sprint(lines)
	}
	var resp JobLogsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ApproveJob approves the job's pending gated action.
func (c *Client) ApproveJob(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/jobs/"+id+"/approve", nil, nil)
}

// DenyJob denies the job's pending gated action.
func (c *Client) DenyJob(ctx context.Context, id, reason string) error {
	body := map[string]string{"reason": reason}
	return c.do(ctx, http.MethodPost, "/api/v1/jobs/"+id+"/deny", body, nil)
}

// PauseTracker pauses the job's progress display.
func (c *Client) PauseTracker(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/jobs/"+id+"/pause", nil, nil)
}

// ResumeTracker resumes the job's progress display.
func (c *Client) ResumeTracker(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/jobs/"+id+"/resume", nil, nil)
}

// ListPendingApprovals lists undecided approval requests.
func (c *Client) ListPendingApprovals(ctx context.Context) ([]*models.ApprovalRequest, error) {
	var reqs []*models.ApprovalRequest
	if err := c.do(ctx, http.MethodGet, "/api/v1/approvals", nil, &reqs); err != nil {
		return nil, err
	}
	return reqs, nil
}

// ListSessions lists all sessions.
func (c *Client) ListSessions(ctx context.Context) ([]*models.Session, error) {
	var sessions []*models.Session
	if err := c.do(ctx, http.MethodGet, "/api/v1/sessions", nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// GetSession fetches one session by id.
func (c *Client) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var sess models.Session
	if err := c.do(ctx, http.MethodGet, "/api/v1/sessions/"+id, nil, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// CloseSession closes a session.
func (c *Client) CloseSession(ctx context.Context, id string) (*models.Session, error) {
	var sess models.Session
	if err := c.do(ctx, http.MethodPost, "/api/v1/sessions/"+id+"/close", nil, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}
