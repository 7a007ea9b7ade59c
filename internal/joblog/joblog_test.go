package joblog

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndTail(t *testing.T) {
	d, err := NewDir(t.TempDir(), 0)
	require.NoError(t, err)

	w, err := d.Open("job1")
	require.NoError(t, err)

	for _, line := range []string{"one", "two", "three", "four"} {
		require.NoError(t, w.WriteLine(line))
	}
	require.NoError(t, w.Close())

	content, truncated, err := d.Tail("job1", 2)
	require.NoError(t, err)
	assert.Equal(t, "three\nfour", content)
	assert.True(t, truncated)

	content, truncated, err = d.Tail("job1", 0)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\nthree\nfour", content)
	assert.False(t, truncated)
}

func TestTail_MissingFile(t *testing.T) {
	d, err := NewDir(t.TempDir(), 0)
	require.NoError(t, err)

	content, truncated, err := d.Tail("nope", 10)
	require.NoError(t, err)
	assert.Empty(t, content)
	assert.False(t, truncated)
}

func TestSizeCap_DropsSilently(t *testing.T) {
	d, err := NewDir(t.TempDir(), 20)
	require.NoError(t, err)

	w, err := d.Open("job1")
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.WriteLine(strings.Repeat("a", 10))) // 11 bytes
	require.NoError(t, w.WriteLine(strings.Repeat("b", 10))) // would exceed cap
	require.NoError(t, w.WriteLine("c"))                     // still within cap

	content, _, err := d.Tail("job1", 0)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("a", 10)+"\nc", content)
}

func TestWriteAfterClose_NoError(t *testing.T) {
	d, err := NewDir(t.TempDir(), 0)
	require.NoError(t, err)

	w, err := d.Open("job1")
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.NoError(t, w.WriteLine("late"))
}
