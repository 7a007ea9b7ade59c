package models

import "time"

// ApprovalScope categorizes a gated action.
type ApprovalScope string

const (
	ScopeWrite        ApprovalScope = "write"
	ScopeDeleteFile   ApprovalScope = "delete_file"
	ScopeShell        ApprovalScope = "shell"
	ScopeShellSudo    ApprovalScope = "shell_sudo"
	ScopePush         ApprovalScope = "push"
	ScopeForcePush    ApprovalScope = "force_push"
	ScopeDeleteBranch ApprovalScope = "delete_branch"
	ScopeDeploy       ApprovalScope = "deploy"
	ScopeDeployProd   ApprovalScope = "deploy_prod"
	ScopeExternalAPI  ApprovalScope = "external_api"
	ScopeNetwork      ApprovalScope = "network"
)

// ValidScope reports whether s names a known gated scope.
func ValidScope(s string) bool {
	switch ApprovalScope(s) {
	case ScopeWrite, ScopeDeleteFile, ScopeShell, ScopeShellSudo,
		ScopePush, ScopeForcePush, ScopeDeleteBranch,
		ScopeDeploy, ScopeDeployProd, ScopeExternalAPI, ScopeNetwork:
		return true
	}
	return false
}

// ApprovalRequest is a pending human decision for a gated action.
type ApprovalRequest struct {
	ID                string
	JobID             string
	SessionID         string
	Scope             ApprovalScope
	ActionDescription string
	Decision          ApprovalState
	RequestedAt       time.Time
	DecidedAt         *time.Time
}
