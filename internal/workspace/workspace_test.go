package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocate_CreatesDirectory(t *testing.T) {
	base := t.TempDir()
	a, err := NewDirAllocator(filepath.Join(base, "workspaces"))
	require.NoError(t, err)

	path, err := a.Allocate(context.Background(), "myorg/api", "main")
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.NotContains(t, filepath.Base(path), string(filepath.Separator))
}

func TestAllocate_SameRefSamePath(t *testing.T) {
	a, err := NewDirAllocator(t.TempDir())
	require.NoError(t, err)

	p1, err := a.Allocate(context.Background(), "myorg/api", "main")
	require.NoError(t, err)
	p2, err := a.Allocate(context.Background(), "myorg/api", "feature")
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
}

func TestDestroy(t *testing.T) {
	a, err := NewDirAllocator(t.TempDir())
	require.NoError(t, err)

	path, err := a.Allocate(context.Background(), "proj", "")
	require.NoError(t, err)

	require.NoError(t, a.Destroy(context.Background(), path))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestDestroy_RejectsOutsideBase(t *testing.T) {
	a, err := NewDirAllocator(t.TempDir())
	require.NoError(t, err)

	other := t.TempDir()
	err = a.Destroy(context.Background(), other)
	require.Error(t, err)
	assert.DirExists(t, other)
}

func TestChangedFiles_NonGitDirectory(t *testing.T) {
	a, err := NewDirAllocator(t.TempDir())
	require.NoError(t, err)

	path, err := a.Allocate(context.Background(), "plain", "")
	require.NoError(t, err)

	files, err := a.ChangedFiles(context.Background(), path)
	require.NoError(t, err)
	assert.Empty(t, files)
}
