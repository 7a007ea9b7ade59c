package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mroche14/televibecode/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single
	// connection serializes all DB access through Go's connection pool,
	// preventing "database is locked" errors from concurrent jobs.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

var (
	ulidMu      sync.Mutex
	ulidEntropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// NewULID generates a new ULID string, used for session/job/approval ids.
// A shared monotonic entropy source keeps ids unique within a clock tick.
func NewULID() string {
	ulidMu.Lock()
	defer ulidMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulidEntropy).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Sessions ---

const sessionCols = "id, workspace_ref, workspace_path, branch, state, current_job_id, last_summary, created_at, last_activity_at"

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *models.Session) error {
	if sess.ID == "" {
		sess.ID = NewULID()
	}
	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.LastActivityAt = now
	if sess.State == "" {
		sess.State = models.SessionStateIdle
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.WorkspaceRef, sess.WorkspacePath, sess.Branch,
		string(sess.State), sess.CurrentJobID, sess.LastSummary,
		sess.CreatedAt, sess.LastActivityAt,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func scanSession(row interface{ Scan(...any) error }) (*models.Session, error) {
	sess := &models.Session{}
	var state string
	err := row.Scan(&sess.ID, &sess.WorkspaceRef, &sess.WorkspacePath, &sess.Branch,
		&state, &sess.CurrentJobID, &sess.LastSummary, &sess.CreatedAt, &sess.LastActivityAt)
	if err != nil {
		return nil, err
	}
	sess.State = models.SessionState(state)
	return sess, nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context) ([]*models.Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionCols+` FROM sessions ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *SQLiteStore) UpdateSession(ctx context.Context, sess *models.Session) error {
	sess.LastActivityAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET workspace_ref=?, workspace_path=?, branch=?, state=?, current_job_id=?, last_summary=?, last_activity_at=?
		WHERE id=?`,
		sess.WorkspaceRef, sess.WorkspacePath, sess.Branch, string(sess.State),
		sess.CurrentJobID, sess.LastSummary, sess.LastActivityAt, sess.ID,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("session %s: %w", sess.ID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

// --- Jobs ---

const jobCols = "id, session_id, instruction, raw_input, status, approval_scope, approval_state, log_path, result_summary, files_changed, error, error_type, created_at, started_at, finished_at"

func (s *SQLiteStore) CreateJob(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		job.ID = NewULID()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.Status == "" {
		job.Status = models.JobStatusQueued
	}

	files, err := json.Marshal(job.FilesChanged)
	if err != nil {
		return fmt.Errorf("marshal files changed: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (`+jobCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.SessionID, job.Instruction, job.RawInput, string(job.Status),
		job.ApprovalScope, string(job.ApprovalState), job.LogPath,
		job.ResultSummary, string(files), job.Error, job.ErrorType,
		job.CreatedAt, job.StartedAt, job.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func scanJob(row interface{ Scan(...any) error }) (*models.Job, error) {
	job := &models.Job{}
	var status, approvalState, files string
	var startedAt, finishedAt sql.NullTime
	err := row.Scan(&job.ID, &job.SessionID, &job.Instruction, &job.RawInput,
		&status, &job.ApprovalScope, &approvalState, &job.LogPath,
		&job.ResultSummary, &files, &job.Error, &job.ErrorType,
		&job.CreatedAt, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}
	job.Status = models.JobStatus(status)
	job.ApprovalState = models.ApprovalState(approvalState)
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		job.FinishedAt = &finishedAt.Time
	}
	if err := json.Unmarshal([]byte(files), &job.FilesChanged); err != nil {
		return nil, fmt.Errorf("unmarshal files changed: %w", err)
	}
	return job, nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobCols+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobListFilter) ([]*models.Job, error) {
	query := `SELECT ` + jobCols + ` FROM jobs`
	var conds []string
	var args []any

	if filter.SessionID != "" {
		conds = append(conds, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		conds = append(conds, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *SQLiteStore) UpdateJob(ctx context.Context, job *models.Job) error {
	files, err := json.Marshal(job.FilesChanged)
	if err != nil {
		return fmt.Errorf("marshal files changed: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status=?, approval_scope=?, approval_state=?, log_path=?, result_summary=?, files_changed=?, error=?, error_type=?, started_at=?, finished_at=?
		WHERE id=?`,
		string(job.Status), job.ApprovalScope, string(job.ApprovalState),
		job.LogPath, job.ResultSummary, string(files), job.Error, job.ErrorType,
		job.StartedAt, job.FinishedAt, job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("job %s: %w", job.ID, ErrNotFound)
	}
	return nil
}

// --- Approvals ---

const approvalCols = "id, job_id, session_id, scope, action_description, decision, requested_at, decided_at"

func (s *SQLiteStore) CreateApproval(ctx context.Context, a *models.ApprovalRequest) error {
	if a.ID == "" {
		a.ID = NewULID()
	}
	if a.RequestedAt.IsZero() {
		a.RequestedAt = time.Now().UTC()
	}
	if a.Decision == "" {
		a.Decision = models.ApprovalStatePending
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO approvals (`+approvalCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.JobID, a.SessionID, string(a.Scope), a.ActionDescription,
		string(a.Decision), a.RequestedAt, a.DecidedAt,
	)
	if err != nil {
		return fmt.Errorf("create approval: %w", err)
	}
	return nil
}

func scanApproval(row interface{ Scan(...any) error }) (*models.ApprovalRequest, error) {
	a := &models.ApprovalRequest{}
	var scope, decision string
	var decidedAt sql.NullTime
	err := row.Scan(&a.ID, &a.JobID, &a.SessionID, &scope, &a.ActionDescription,
		&decision, &a.RequestedAt, &decidedAt)
	if err != nil {
		return nil, err
	}
	a.Scope = models.ApprovalScope(scope)
	a.Decision = models.ApprovalState(decision)
	if decidedAt.Valid {
		a.DecidedAt = &decidedAt.Time
	}
	return a, nil
}

func (s *SQLiteStore) GetApproval(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+approvalCols+` FROM approvals WHERE id = ?`, id)
	a, err := scanApproval(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("approval %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get approval: %w", err)
	}
	return a, nil
}

func (s *SQLiteStore) GetPendingApprovalByJob(ctx context.Context, jobID string) (*models.ApprovalRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+approvalCols+` FROM approvals WHERE job_id = ? AND decision = 'pending' ORDER BY requested_at DESC LIMIT 1`, jobID)
	a, err := scanApproval(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("pending approval for job %s: %w", jobID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get pending approval: %w", err)
	}
	return a, nil
}

func (s *SQLiteStore) ListPendingApprovals(ctx context.Context) ([]*models.ApprovalRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+approvalCols+` FROM approvals WHERE decision = 'pending' ORDER BY requested_at`)
	if err != nil {
		return nil, fmt.Errorf("list pending approvals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var approvals []*models.ApprovalRequest
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		approvals = append(approvals, a)
	}
	return approvals, rows.Err()
}

func (s *SQLiteStore) UpdateApproval(ctx context.Context, a *models.ApprovalRequest) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE approvals SET decision=?, decided_at=? WHERE id=?`,
		string(a.Decision), a.DecidedAt, a.ID,
	)
	if err != nil {
		return fmt.Errorf("update approval: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("approval %s: %w", a.ID, ErrNotFound)
	}
	return nil
}
