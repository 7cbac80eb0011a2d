package stats

import (
	"sync"
	"time"
)

// Session collects ChildStats for every child of one supervisor run, in
// start order.
type Session struct {
	start time.Time

	mu       sync.Mutex
	children []*ChildStats
	byRole   map[string]*ChildStats
}

// NewSession creates an empty session starting now.
func NewSession() *Session {
	return &Session{
		start:  time.Now(),
		byRole: make(map[string]*ChildStats),
	}
}

// Child returns the stats for role, creating them (started now) on first
// use.
func (s *Session) Child(role string) *ChildStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cs, ok := s.byRole[role]; ok {
		return cs
	}
	cs := NewChildStats(role, time.Now())
	s.byRole[role] = cs
	s.children = append(s.children, cs)
	return cs
}

// Lookup returns the stats for role without creating them.
func (s *Session) Lookup(role string) (*ChildStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.byRole[role]
	return cs, ok
}

// Snapshots returns a snapshot of every child in start order.
func (s *Session) Snapshots() []ChildSnapshot {
	s.mu.Lock()
	children := make([]*ChildStats, len(s.children))
	copy(children, s.children)
	s.mu.Unlock()

	snaps := make([]ChildSnapshot, 0, len(children))
	for _, cs := range children {
		snaps = append(snaps, cs.Snapshot())
	}
	return snaps
}

// TotalLines returns the number of lines forwarded across all children.
func (s *Session) TotalLines() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	for _, cs := range s.children {
		total += cs.Lines()
	}
	return total
}

// Duration returns the time since the session started.
func (s *Session) Duration() time.Duration {
	return time.Since(s.start)
}

// StartTime returns when the session started.
func (s *Session) StartTime() time.Time {
	return s.start
}
