// Package joblog manages per-job append-only log files with a size cap.
package joblog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// DefaultMaxBytes caps a single job log at 100MB.
const DefaultMaxBytes = 100 * 1024 * 1024

// Dir allocates one log file per job under a base directory.
type Dir struct {
	base     string
	maxBytes int64
}

// NewDir creates the log directory if needed.
func NewDir(base string, maxBytes int64) (*Dir, error) {
	if err := os.MkdirAll(base, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Dir{base: base, maxBytes: maxBytes}, nil
}

// Path returns the log file path for a job id.
func (d *Dir) Path(jobID string) string {
	return filepath.Join(d.base, jobID+".log")
}

// Open creates (or truncates) the log file for a job.
func (d *Dir) Open(jobID string) (*Writer, error) {
	f, err := os.Create(d.Path(jobID))
	if err != nil {
		return nil, fmt.Errorf("open job log: %w", err)
	}
	return &Writer{f: f, max: d.maxBytes}, nil
}

// Writer appends lines to a job log until the size cap is reached.
// Writes past the cap are dropped silently.
type Writer struct {
	mu      sync.Mutex
	f       *os.File
	max     int64
	written int64
}

// WriteLine appends one line (a newline is added) if the cap allows.
func (w *Writer) WriteLine(line string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		return nil
	}
	n := int64(len(line)) + 1
	if w.written+n > w.max {
		return nil
	}
	if _, err := w.f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("write job log: %w", err)
	}
	w.written += n
	return nil
}

// Truncated reports whether any write was dropped due to the cap.
func (w *Writer) Truncated() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written >= w.max
}

// Close closes the underlying file. Safe to call more than once.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

// Tail reads the last n lines of a job's log. It returns the content and
// whether older lines were cut off. n <= 0 returns the whole file.
func (d *Dir) Tail(jobID string, n int) (string, bool, error) {
	data, err := os.ReadFile(d.Path(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read job log: %w", err)
	}

	content := strings.TrimRight(string(data), "\n")
	if n <= 0 || content == "" {
		return content, false, nil
	}
	lines := strings.Split(content, "\n")
	if len(lines) <= n {
		return content, false, nil
	}
	return strings.Join(lines[len(lines)-n:], "\n"), true, nil
}
