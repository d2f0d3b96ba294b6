// rotate.go implements the size-based rotating file sink.
//
// One file per run, named sentrycoin-<ISO8601>.log. When the active file
// crosses the size threshold the sink opens the successor before closing the
// predecessor, so no write ever lands between streams. At most maxFiles of
// the newest files are retained. Any write or rotation failure permanently
// degrades the sink to a no-op; the console stream is unaffected.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const filePrefix = "sentrycoin-"

// RotatingSink is an io.Writer that appends to a rotating log file.
// Write never returns an error: sink problems degrade it to console-only.
type RotatingSink struct {
	mu       sync.Mutex
	dir      string
	maxBytes int64
	maxFiles int
	file     *os.File
	written  int64
	degraded bool
}

// NewRotatingSink creates the log directory and opens the first file.
func NewRotatingSink(dir string, maxBytes int64, maxFiles int) (*RotatingSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	s := &RotatingSink{dir: dir, maxBytes: maxBytes, maxFiles: maxFiles}
	f, err := s.open()
	if err != nil {
		return nil, err
	}
	s.file = f
	return s, nil
}

func (s *RotatingSink) open() (*os.File, error) {
	name := filePrefix + time.Now().UTC().Format("2006-01-02T15-04-05.000Z") + ".log"
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// Write appends to the active file, rotating when the threshold is crossed.
func (s *RotatingSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.degraded || s.file == nil {
		return len(p), nil
	}

	if s.written+int64(len(p)) > s.maxBytes {
		if err := s.rotateLocked(); err != nil {
			s.degraded = true
			return len(p), nil
		}
	}

	n, err := s.file.Write(p)
	if err != nil {
		s.degraded = true
		return len(p), nil
	}
	s.written += int64(n)
	return len(p), nil
}

// rotateLocked opens the new file before closing the old one.
func (s *RotatingSink) rotateLocked() error {
	next, err := s.open()
	if err != nil {
		return err
	}
	old := s.file
	s.file = next
	s.written = 0
	if old != nil {
		old.Close()
	}
	s.pruneLocked()
	return nil
}

// pruneLocked deletes the oldest files beyond the retention cap.
// File names sort chronologically, so lexical order is age order.
func (s *RotatingSink) pruneLocked() {
	if s.maxFiles <= 0 {
		return
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), filePrefix) {
			names = append(names, e.Name())
		}
	}
	if len(names) <= s.maxFiles {
		return
	}
	sort.Strings(names)
	for _, name := range names[:len(names)-s.maxFiles] {
		os.Remove(filepath.Join(s.dir, name))
	}
}

// Degraded reports whether the sink has been disabled by a write failure.
func (s *RotatingSink) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// Close closes the active file.
func (s *RotatingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
