// Package approval implements the gate that suspends job execution around
// dangerous actions until a human decision, a denial, or a timeout.
package approval

import (
	"strings"

	"github.com/mroche14/televibecode/internal/models"
)

// safeCommands are command prefixes that never require approval, regardless
// of the configured gated scopes.
var safeCommands = []string{
	"git status",
	"git diff",
	"git log",
	"git branch",
	"git show",
	"ls",
	"pwd",
	"cat",
	"head",
	"tail",
	"wc",
	"echo",
	"which",
	"go test",
	"go vet",
	"pytest",
	"npm test",
	"npm run lint",
	"npm run build",
}

// SafeCommand reports whether a shell command matches the read-only whitelist.
func SafeCommand(command string) bool {
	c := strings.ToLower(strings.TrimSpace(command))
	for _, safe := range safeCommands {
		if c == safe || strings.HasPrefix(c, safe+" ") {
			return true
		}
	}
	return false
}

// ScopeForTool classifies a tool invocation into a gated scope. The second
// return is false when the action needs no approval at all (including
// whitelisted commands).
func ScopeForTool(toolName string, input map[string]any) (models.ApprovalScope, bool) {
	switch toolName {
	case "Bash":
		command, _ := input["command"].(string)
		return scopeForCommand(command)

	case "Write", "Edit", "MultiEdit", "NotebookEdit":
		return models.ScopeWrite, true

	case "WebFetch":
		return models.ScopeNetwork, true

	case "WebSearch":
		return models.ScopeExternalAPI, true
	}
	return "", false
}

func scopeForCommand(command string) (models.ApprovalScope, bool) {
	if command == "" || SafeCommand(command) {
		return "", false
	}
	c := strings.ToLower(command)

	switch {
	case strings.Contains(c, "sudo"):
		return models.ScopeShellSudo, true
	case strings.Contains(c, "git push --force") || strings.Contains(c, "git push -f"):
		return models.ScopeForcePush, true
	case strings.Contains(c, "git push") && strings.Contains(c, "--delete"):
		return models.ScopeDeleteBranch, true
	case strings.Contains(c, "git branch -d") || strings.Contains(c, "git branch --delete"):
		return models.ScopeDeleteBranch, true
	case strings.Contains(c, "git push"):
		return models.ScopePush, true
	case strings.HasPrefix(strings.TrimSpace(c), "rm "):
		return models.ScopeDeleteFile, true
	}
	return models.ScopeShell, true
}
