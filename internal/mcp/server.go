// Package mcp exposes the orchestration facade as an MCP tool server, so a
// chat frontend or another agent can submit and manage jobs over the Model
// Context Protocol instead of the REST API.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mroche14/televibecode/internal/models"
	"github.com/mroche14/televibecode/internal/orchestrator"
	"github.com/mroche14/televibecode/internal/store"
)

// Server wraps the orchestration facade and exposes it as MCP tools.
type Server struct {
	facade *orchestrator.Facade
}

// NewServer creates the MCP server wrapper over the facade.
func NewServer(f *orchestrator.Facade) *Server {
	return &Server{facade: f}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("televibe", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.submitJobTool())
	srv.AddTool(s.getJobTool())
	srv.AddTool(s.listJobsTool())
	srv.AddTool(s.cancelJobTool())
	srv.AddTool(s.jobLogsTool())
	srv.AddTool(s.listApprovalsTool())
	srv.AddTool(s.approveJobTool())
	srv.AddTool(s.denyJobTool())
	srv.AddTool(s.listSessionsTool())
	srv.AddTool(s.closeSessionTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// televibe_submit_job
func (s *Server) submitJobTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("televibe_submit_job",
		mcp.WithDescription("Submit an instruction to run as an agent job. Provide either session_id for an existing session or workspace to resolve/create one. Returns the queued job with its queue position."),
		mcp.WithString("instruction", mcp.Required(), mcp.Description("Instruction for the coding agent")),
		mcp.WithString("workspace", mcp.Description("Workspace ref, e.g. org/repo")),
		mcp.WithString("session_id", mcp.Description("Existing session ID")),
		mcp.WithString("branch", mcp.Description("Branch to work on")),
		mcp.WithString("target", mcp.Description("Display target for progress updates")),
	)
	return tool, s.handleSubmitJob
}

func (s *Server) handleSubmitJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	instruction, err := request.RequireString("instruction")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: instruction"), nil
	}

	job, pos, err := s.facade.SubmitJob(ctx, orchestrator.SubmitRequest{
		WorkspaceRef: request.GetString("workspace", ""),
		SessionID:    request.GetString("session_id", ""),
		Branch:       request.GetString("branch", ""),
		Instruction:  instruction,
		Target:       request.GetString("target", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("submit job: %v", err)), nil
	}

	result := jobOut(job)
	result["queue_position"] = pos
	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal job: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// televibe_get_job
func (s *Server) getJobTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("televibe_get_job",
		mcp.WithDescription("Get a job by ID. Returns status, error details, result summary, and changed files as JSON."),
		mcp.WithString("job_id", mcp.Required(), mcp.Description("Job ID")),
	)
	return tool, s.handleGetJob
}

func (s *Server) handleGetJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID, err := request.RequireString("job_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: job_id"), nil
	}

	job, err := s.facade.GetJob(ctx, jobID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("job not found: %s", jobID)), nil
	}

	data, err := json.Marshal(jobOut(job))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal job: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// televibe_list_jobs
func (s *Server) listJobsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("televibe_list_jobs",
		mcp.WithDescription("List jobs, optionally filtered by session and status. Returns a JSON array, most recent first."),
		mcp.WithString("session_id", mcp.Description("Session ID to filter by")),
		mcp.WithString("status", mcp.Description("Status filter, comma-separated: queued, running, waiting_approval, done, failed, canceled")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of jobs to return (default 20)")),
	)
	return tool, s.handleListJobs
}

func (s *Server) handleListJobs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.JobListFilter{
		SessionID: request.GetString("session_id", ""),
		Limit:     request.GetInt("limit", 20),
	}
	for _, st := range strings.Split(request.GetString("status", ""), ",") {
		if st = strings.TrimSpace(st); st != "" {
			filter.Statuses = append(filter.Statuses, models.JobStatus(st))
		}
	}

	jobs, err := s.facade.ListJobs(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list jobs: %v", err)), nil
	}

	out := make([]map[string]any, len(jobs))
	for i, j := range jobs {
		out[i] = jobOut(j)
	}
	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal jobs: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// televibe_cancel_job
func (s *Server) cancelJobTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("televibe_cancel_job",
		mcp.WithDescription("Cancel a queued, running, or approval-blocked job. Canceling a finished job is a no-op returning its terminal state."),
		mcp.WithString("job_id", mcp.Required(), mcp.Description("Job ID")),
	)
	return tool, s.handleCancelJob
}

func (s *Server) handleCancelJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID, err := request.RequireString("job_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: job_id"), nil
	}

	job, err := s.facade.CancelJob(ctx, jobID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cancel job: %v", err)), nil
	}

	data, err := json.Marshal(jobOut(job))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal job: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// televibe_job_logs
func (s *Server) jobLogsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("televibe_job_logs",
		mcp.WithDescription("Get the tail of a job's raw output log."),
		mcp.WithString("job_id", mcp.Required(), mcp.Description("Job ID")),
		mcp.WithNumber("tail", mcp.Description("Number of lines from the end (default 100)")),
	)
	return tool, s.handleJobLogs
}

func (s *Server) handleJobLogs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID, err := request.RequireString("job_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: job_id"), nil
	}

	content, truncated, err := s.facade.GetJobLogs(ctx, jobID, request.GetInt("tail", 100))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("job logs: %v", err)), nil
	}

	result := map[string]any{
		"job_id":    jobID,
		"content":   content,
		"truncated": truncated,
	}
	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal logs: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// televibe_list_approvals
func (s *Server) listApprovalsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("televibe_list_approvals",
		mcp.WithDescription("List all pending approval requests across jobs. Each entry names the job, the gated scope, and the action awaiting a decision."),
	)
	return tool, s.handleListApprovals
}

func (s *Server) handleListApprovals(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reqs, err := s.facade.ListPendingApprovals(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list approvals: %v", err)), nil
	}

	type approvalOut struct {
		ID          string `json:"id"`
		JobID       string `json:"job_id"`
		SessionID   string `json:"session_id"`
		Scope       string `json:"scope"`
		Action      string `json:"action"`
		RequestedAt string `json:"requested_at"`
	}
	out := make([]approvalOut, len(reqs))
	for i, r := range reqs {
		out[i] = approvalOut{
			ID:          r.ID,
			JobID:       r.JobID,
			SessionID:   r.SessionID,
			Scope:       string(r.Scope),
			Action:      r.ActionDescription,
			RequestedAt: r.RequestedAt.Format(time.RFC3339),
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal approvals: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// televibe_approve_job
func (s *Server) approveJobTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("televibe_approve_job",
		mcp.WithDescription("Approve a job's pending gated action so execution resumes."),
		mcp.WithString("job_id", mcp.Required(), mcp.Description("Job ID with a pending approval")),
	)
	return tool, s.handleApproveJob
}

func (s *Server) handleApproveJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID, err := request.RequireString("job_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: job_id"), nil
	}

	if err := s.facade.ApproveJob(ctx, jobID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("approve job: %v", err)), nil
	}

	data, _ := json.Marshal(map[string]any{"job_id": jobID, "decision": "approved"})
	return mcp.NewToolResultText(string(data)), nil
}

// televibe_deny_job
func (s *Server) denyJobTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("televibe_deny_job",
		mcp.WithDescription("Deny a job's pending gated action; the job is canceled."),
		mcp.WithString("job_id", mcp.Required(), mcp.Description("Job ID with a pending approval")),
		mcp.WithString("reason", mcp.Description("Reason shown on the canceled job")),
	)
	return tool, s.handleDenyJob
}

func (s *Server) handleDenyJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID, err := request.RequireString("job_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: job_id"), nil
	}

	if err := s.facade.DenyJob(ctx, jobID, request.GetString("reason", "")); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("deny job: %v", err)), nil
	}

	data, _ := json.Marshal(map[string]any{"job_id": jobID, "decision": "denied"})
	return mcp.NewToolResultText(string(data)), nil
}

// televibe_list_sessions
func (s *Server) listSessionsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("televibe_list_sessions",
		mcp.WithDescription("List all sessions with workspace ref, state, current job, and last result summary."),
	)
	return tool, s.handleListSessions
}

func (s *Server) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessions, err := s.facade.ListSessions(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list sessions: %v", err)), nil
	}

	out := make([]map[string]any, len(sessions))
	for i, sess := range sessions {
		out[i] = sessionOut(sess)
	}
	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal sessions: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// televibe_close_session
func (s *Server) closeSessionTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("televibe_close_session",
		mcp.WithDescription("Close a session. Its running job, if any, is canceled and new submissions are rejected."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
	)
	return tool, s.handleCloseSession
}

func (s *Server) handleCloseSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}

	sess, err := s.facade.CloseSession(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("close session: %v", err)), nil
	}

	data, err := json.Marshal(sessionOut(sess))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal session: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func jobOut(j *models.Job) map[string]any {
	instruction := j.Instruction
	if len(instruction) > 100 {
		instruction = instruction[:100] + "..."
	}
	out := map[string]any{
		"job_id":      j.ID,
		"session_id":  j.SessionID,
		"status":      string(j.Status),
		"instruction": instruction,
		"created_at":  j.CreatedAt.Format(time.RFC3339),
	}
	if j.Error != "" {
		out["error"] = j.Error
		out["error_type"] = j.ErrorType
	}
	if j.ApprovalScope != "" {
		out["approval_scope"] = j.ApprovalScope
		out["approval_state"] = string(j.ApprovalState)
	}
	if j.ResultSummary != "" {
		out["result_summary"] = j.ResultSummary
	}
	if len(j.FilesChanged) > 0 {
		out["files_changed"] = j.FilesChanged
	}
	if j.StartedAt != nil {
		out["started_at"] = j.StartedAt.Format(time.RFC3339)
	}
	if j.FinishedAt != nil {
		out["finished_at"] = j.FinishedAt.Format(time.RFC3339)
	}
	return out
}

func sessionOut(s *models.Session) map[string]any {
	out := map[string]any{
		"session_id":    s.ID,
		"workspace_ref": s.WorkspaceRef,
		"branch":        s.Branch,
		"state":         string(s.State),
		"created_at":    s.CreatedAt.Format(time.RFC3339),
	}
	if s.CurrentJobID != "" {
		out["current_job_id"] = s.CurrentJobID
	}
	if s.LastSummary != "" {
		out["last_summary"] = s.LastSummary
	}
	return out
}
