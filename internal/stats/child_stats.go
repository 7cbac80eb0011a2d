// Package stats keeps per-child session statistics for the exit summary.
//
// ChildStats tracks, for one supervised service:
//   - lines and bytes forwarded
//   - time from spawn to first output line
//   - gaps between consecutive lines (T-Digest percentiles)
//   - how the child ended
package stats

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/influxdata/tdigest"
)

// digestCompression keeps roughly 100 centroids per child.
const digestCompression = 100

// ExitRecord describes how a child ended.
type ExitRecord struct {
	Code     int
	Signaled bool
	Signal   string
	Uptime   time.Duration

	// Killed is true if the graceful stop timed out and SIGKILL was needed.
	Killed bool

	// Expected is true if the child was stopped by the supervisor rather
	// than exiting on its own.
	Expected bool
}

// ChildStats holds statistics for one child.
//
// Thread-safe: counters are atomic; the digest and timestamps are guarded
// by mu.
type ChildStats struct {
	Role      string
	StartTime time.Time

	lines atomic.Int64
	bytes atomic.Int64

	mu          sync.Mutex
	firstLineAt time.Time
	lastLineAt  time.Time
	maxGap      time.Duration
	gaps        int64
	gapDigest   *tdigest.TDigest // TDigest is not thread-safe
	exit        *ExitRecord
}

// NewChildStats creates stats for a child started at start.
func NewChildStats(role string, start time.Time) *ChildStats {
	return &ChildStats{
		Role:      role,
		StartTime: start,
		gapDigest: tdigest.NewWithCompression(digestCompression),
	}
}

// Observe records one forwarded line. It matches the forwarder observer
// signature.
func (s *ChildStats) Observe(line string) {
	s.observeAt(line, time.Now())
}

func (s *ChildStats) observeAt(line string, now time.Time) {
	s.lines.Add(1)
	s.bytes.Add(int64(len(line) + 1)) // +1 for newline

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.firstLineAt.IsZero() {
		s.firstLineAt = now
	} else {
		gap := now.Sub(s.lastLineAt)
		if gap < 0 {
			gap = 0
		}
		s.gapDigest.Add(float64(gap.Nanoseconds()), 1)
		s.gaps++
		if gap > s.maxGap {
			s.maxGap = gap
		}
	}
	s.lastLineAt = now
}

// RecordExit stores how the child ended. Only the first record is kept.
func (s *ChildStats) RecordExit(rec ExitRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exit != nil {
		return
	}
	r := rec
	s.exit = &r
}

// Lines returns the number of lines observed.
func (s *ChildStats) Lines() int64 {
	return s.lines.Load()
}

// ChildSnapshot is a point-in-time copy of ChildStats.
type ChildSnapshot struct {
	Role  string
	Lines int64
	Bytes int64

	// TimeToFirstLine is zero if the child never printed anything.
	TimeToFirstLine time.Duration

	// Idle is the time since the last line, measured at snapshot time.
	Idle time.Duration

	// Gap percentiles between consecutive lines. Zero with fewer than two
	// lines.
	GapP50 time.Duration
	GapP95 time.Duration
	GapP99 time.Duration
	GapMax time.Duration

	// Exit is nil while the child is still running.
	Exit *ExitRecord
}

// Snapshot returns a copy of the current statistics.
func (s *ChildStats) Snapshot() ChildSnapshot {
	return s.snapshotAt(time.Now())
}

func (s *ChildStats) snapshotAt(now time.Time) ChildSnapshot {
	snap := ChildSnapshot{
		Role:  s.Role,
		Lines: s.lines.Load(),
		Bytes: s.bytes.Load(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.firstLineAt.IsZero() {
		snap.TimeToFirstLine = s.firstLineAt.Sub(s.StartTime)
		snap.Idle = now.Sub(s.lastLineAt)
	}
	if s.gaps > 0 {
		snap.GapP50 = time.Duration(s.gapDigest.Quantile(0.50))
		snap.GapP95 = time.Duration(s.gapDigest.Quantile(0.95))
		snap.GapP99 = time.Duration(s.gapDigest.Quantile(0.99))
		snap.GapMax = s.maxGap
	}
	if s.exit != nil {
		e := *s.exit
		snap.Exit = &e
	}
	return snap
}
