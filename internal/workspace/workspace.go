// Package workspace abstracts the collaborator that provisions isolated
// working directories for sessions. The core only needs allocation, teardown,
// and a changed-files diff.
package workspace

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Allocator provisions one isolated working directory per session.
type Allocator interface {
	// Allocate returns the directory for the given workspace ref, creating
	// it if needed.
	Allocate(ctx context.Context, ref, branch string) (string, error)
	// Destroy removes the workspace directory.
	Destroy(ctx context.Context, path string) error
	// ChangedFiles lists files modified in the workspace since the job
	// started, best effort.
	ChangedFiles(ctx context.Context, path string) ([]string, error)
}

// DirAllocator keeps workspaces as plain directories under a base path and
// diffs them with git when the directory is a repository.
type DirAllocator struct {
	base string
}

// NewDirAllocator creates the base directory if needed.
func NewDirAllocator(base string) (*DirAllocator, error) {
	if err := os.MkdirAll(base, 0755); err != nil {
		return nil, fmt.Errorf("create workspaces directory: %w", err)
	}
	return &DirAllocator{base: base}, nil
}

func (a *DirAllocator) Allocate(ctx context.Context, ref, branch string) (string, error) {
	// Refs may contain slashes (project/branch); flatten for the directory name.
	name := strings.ReplaceAll(ref, string(filepath.Separator), "-")
	path := filepath.Join(a.base, name)
	if err := os.MkdirAll(path, 0755); err != nil {
		return "", fmt.Errorf("allocate workspace %s: %w", ref, err)
	}
	return path, nil
}

func (a *DirAllocator) Destroy(ctx context.Context, path string) error {
	rel, err := filepath.Rel(a.base, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("workspace %s is outside the base directory", path)
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("destroy workspace: %w", err)
	}
	return nil
}

func (a *DirAllocator) ChangedFiles(ctx context.Context, path string) ([]string, error) {
	cmd := exec.CommandContext(ctx, "git", "status", "--porcelain")
	cmd.Dir = path
	out, err := cmd.Output()
	if err != nil {
		// Not a git repository, or git unavailable. The executor falls
		// back to files derived from tool events.
		return nil, nil
	}

	var files []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if len(line) > 3 {
			files = append(files, strings.TrimSpace(line[3:]))
		}
	}
	return files, nil
}
