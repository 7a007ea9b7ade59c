// Package api exposes the orchestrator over REST. Chat frontends and the CLI
// are both clients of this surface; approval hook callbacks land here too.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/mroche14/televibecode/internal/models"
	"github.com/mroche14/televibecode/internal/orchestrator"
	"github.com/mroche14/televibecode/internal/store"
)

// Server provides the REST API handlers.
type Server struct {
	facade *orchestrator.Facade
}

// NewServer creates a new API server over the facade.
func NewServer(f *orchestrator.Facade) *Server {
	return &Server{facade: f}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/jobs", s.submitJob)
	mux.HandleFunc("GET /api/v1/jobs", s.listJobs)
	mux.HandleFunc("GET /api/v1/jobs/{id}", s.getJob)
	mux.HandleFunc("POST /api/v1/jobs/{id}/cancel", s.cancelJob)
	mux.HandleFunc("GET /api/v1/jobs/{id}/logs", s.getJobLogs)
	mux.HandleFunc("POST /api/v1/jobs/{id}/approve", s.approveJob)
	mux.HandleFunc("POST /api/v1/jobs/{id}/deny", s.denyJob)
	mux.HandleFunc("POST /api/v1/jobs/{id}/pause", s.pauseTracker)
	mux.HandleFunc("POST /api/v1/jobs/{id}/resume", s.resumeTracker)

	mux.HandleFunc("GET /api/v1/approvals", s.listApprovals)
	mux.HandleFunc("POST /api/v1/hooks/approval", s.approvalHook)

	mux.HandleFunc("GET /api/v1/sessions", s.listSessions)
	mux.HandleFunc("GET /api/v1/sessions/{id}", s.getSession)
	mux.HandleFunc("POST /api/v1/sessions/{id}/close", s.closeSession)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeFacadeError maps the orchestrator's sentinels onto status codes.
func writeFacadeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, orchestrator.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, orchestrator.ErrConflict),
		errors.Is(err, orchestrator.ErrApprovalDenied),
		errors.Is(err, orchestrator.ErrApprovalExpired):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// --- Jobs ---

// SubmitJobRequest is the JSON body for POST /api/v1/jobs.
type SubmitJobRequest struct {
	WorkspaceRef string `json:"workspace_ref"`
	SessionID    string `json:"session_id"`
	Branch       string `json:"branch"`
	Instruction  string `json:"instruction"`
	RawInput     string `json:"raw_input"`
	Target       string `json:"target"`
}

// SubmitJobResponse is the JSON response for a successful submission.
type SubmitJobResponse struct {
	Job      *models.Job `json:"job"`
	Position int         `json:"position"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	job, pos, err := s.facade.SubmitJob(r.Context(), orchestrator.SubmitRequest{
		WorkspaceRef: req.WorkspaceRef,
		SessionID:    req.SessionID,
		Branch:       req.Branch,
		Instruction:  req.Instruction,
		RawInput:     req.RawInput,
		Target:       req.Target,
	})
	if err != nil {
		writeFacadeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, SubmitJobResponse{Job: job, Position: pos})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	filter := store.JobListFilter{
		SessionID: r.URL.Query().Get("session_id"),
	}
	if statuses := r.URL.Query().Get("status"); statuses != "" {
		for _, st := range strings.Split(statuses, ",") {
			st = strings.TrimSpace(st)
			if st != "" {
				filter.Statuses = append(filter.Statuses, models.JobStatus(st))
			}
		}
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			filter.Limit = n
		}
	}

	jobs, err := s.facade.ListJobs(r.Context(), filter)
	if err != nil {
		writeFacadeError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*models.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.facade.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFacadeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.facade.CancelJob(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFacadeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// JobLogsResponse is the JSON response for GET /api/v1/jobs/{id}/logs.
type JobLogsResponse struct {
	JobID     string `json:"job_id"`
	Content   string `json:"content"`
	Truncated bool   `json:"truncated"`
}

func (s *Server) getJobLogs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	lines := 0
	if v := r.URL.Query().Get("lines"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			lines = n
		}
	}

	content, truncated, err := s.facade.GetJobLogs(r.Context(), id, lines)
	if err != nil {
		writeFacadeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, JobLogsResponse{JobID: id, Content: content, Truncated: truncated})
}

func (s *Server) approveJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.facade.ApproveJob(r.Context(), id); err != nil {
		writeFacadeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": id, "decision": "approved"})
}

func (s *Server) denyJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}

	if err := s.facade.DenyJob(r.Context(), id, req.Reason); err != nil {
		writeFacadeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": id, "decision": "denied"})
}

func (s *Server) pauseTracker(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.facade.PauseTracker(r.Context(), id); err != nil {
		writeFacadeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": id, "tracker": "paused"})
}

func (s *Server) resumeTracker(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.facade.ResumeTracker(r.Context(), id); err != nil {
		writeFacadeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": id, "tracker": "active"})
}

// --- Approvals ---

func (s *Server) listApprovals(w http.ResponseWriter, r *http.Request) {
	reqs, err := s.facade.ListPendingApprovals(r.Context())
	if err != nil {
		writeFacadeError(w, err)
		return
	}
	if reqs == nil {
		reqs = []*models.ApprovalRequest{}
	}
	writeJSON(w, http.StatusOK, reqs)
}

// approvalHook receives out-of-band decisions, e.g. from an agent hook that
// blocked on a gated tool call while a human decided elsewhere.
func (s *Server) approvalHook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		JobID    string `json:"job_id"`
		Decision string `json:"decision"`
		Reason   string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.JobID == "" {
		writeError(w, http.StatusBadRequest, "job_id is required")
		return
	}

	var err error
	switch req.Decision {
	case "approved":
		err = s.facade.ApproveJob(r.Context(), req.JobID)
	case "denied":
		err = s.facade.DenyJob(r.Context(), req.JobID, req.Reason)
	default:
		writeError(w, http.StatusBadRequest, "decision must be 'approved' or 'denied'")
		return
	}
	if err != nil {
		writeFacadeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": req.JobID, "decision": req.Decision})
}

// --- Sessions ---

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.facade.ListSessions(r.Context())
	if err != nil {
		writeFacadeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []*models.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.facade.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFacadeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) closeSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.facade.CloseSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFacadeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}
