package logging

import (
	"strings"
	"sync"
)

const (
	// MaxLineLength is the maximum length of a buffered line before truncation.
	MaxLineLength = 4096

	// DefaultTailLines is the number of lines kept per child.
	DefaultTailLines = 50
)

// Tail keeps the most recent output lines of one child so they can be
// shown when the child exits unexpectedly.
type Tail struct {
	role string

	// Circular buffer for recent lines
	buffer []string
	bufIdx int
	count  int
	mu     sync.Mutex
}

// NewTail creates a tail buffer holding up to size lines.
func NewTail(role string, size int) *Tail {
	if size <= 0 {
		size = DefaultTailLines
	}
	return &Tail{
		role:   role,
		buffer: make([]string, size),
	}
}

// Observe records one line. It matches the forwarder observer signature.
func (t *Tail) Observe(line string) {
	if len(line) > MaxLineLength {
		line = line[:MaxLineLength] + "...(truncated)"
	}

	t.mu.Lock()
	t.buffer[t.bufIdx] = line
	t.bufIdx = (t.bufIdx + 1) % len(t.buffer)
	if t.count < len(t.buffer) {
		t.count++
	}
	t.mu.Unlock()
}

// RecentLines returns up to n of the most recent lines, oldest first.
func (t *Tail) RecentLines(n int) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n > t.count {
		n = t.count
	}

	size := len(t.buffer)
	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		idx := (t.bufIdx - n + i + size) % size
		lines = append(lines, t.buffer[idx])
	}
	return lines
}

// Len returns the number of buffered lines.
func (t *Tail) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Role returns the role this tail belongs to.
func (t *Tail) Role() string {
	return t.role
}

// ErrorPatterns are substrings that usually explain why a dev server died.
var ErrorPatterns = []string{
	"EADDRINUSE",
	"Cannot find module",
	"ERR!",
	"Error:",
	"error TS",
	"ECONNREFUSED",
}

// CountErrors counts occurrences of error patterns in the buffer.
func (t *Tail) CountErrors() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()

	counts := make(map[string]int)
	for _, line := range t.buffer {
		if line == "" {
			continue
		}
		for _, pattern := range ErrorPatterns {
			if strings.Contains(line, pattern) {
				counts[pattern]++
			}
		}
	}
	return counts
}
