// Package timeseries provides time-windowed rate tracking for service
// output.
//
// A RateTracker counts events (forwarded lines) and computes rolling
// averages over fixed windows from a ring buffer of periodic samples.
//
// Thread-safe: Add() uses an atomic int64, Stats() acquires a read lock.
package timeseries

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// ringBufferSize is the number of samples to retain (5 minutes at 1 sample/sec)
	ringBufferSize = 300

	// Window durations for rolling averages
	window1s  = 1 * time.Second
	window10s = 10 * time.Second
	window60s = 60 * time.Second
)

// Clock interface for testing with deterministic time.
type Clock interface {
	Now() time.Time
}

// realClock uses time.Now() for production.
type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// sample is a point-in-time snapshot of the cumulative count.
type sample struct {
	timestamp time.Time
	count     int64
}

// RateTracker tracks a cumulative event count and computes rolling
// averages over fixed time windows.
//
// Usage:
//
//	tracker := NewRateTracker()
//	tracker.Add(1)            // per line (thread-safe, lock-free)
//	tracker.RecordSample()    // periodically, e.g. every 1s
//	stats := tracker.Stats()  // for the dashboard
type RateTracker struct {
	total atomic.Int64

	samples  []sample
	writeIdx int // next write position once the buffer is full
	mu       sync.RWMutex

	startTime time.Time
	clock     Clock
}

// RateStats contains rolling averages in events per second.
type RateStats struct {
	Total int64

	Avg1s      float64
	Avg10s     float64
	Avg60s     float64
	AvgOverall float64
}

// NewRateTracker creates a new tracker with the real clock.
func NewRateTracker() *RateTracker {
	return NewRateTrackerWithClock(realClock{})
}

// NewRateTrackerWithClock creates a tracker with a custom clock for testing.
func NewRateTrackerWithClock(clock Clock) *RateTracker {
	now := clock.Now()
	t := &RateTracker{
		samples:   make([]sample, 0, ringBufferSize),
		startTime: now,
		clock:     clock,
	}
	// Initial sample at t=0 with a zero count
	t.samples = append(t.samples, sample{timestamp: now})
	return t
}

// Add adds n events to the cumulative total. Non-positive n is ignored.
func (t *RateTracker) Add(n int64) {
	if n > 0 {
		t.total.Add(n)
	}
}

// RecordSample records the current cumulative count with a timestamp.
func (t *RateTracker) RecordSample() {
	now := t.clock.Now()
	current := t.total.Load()

	t.mu.Lock()
	defer t.mu.Unlock()

	s := sample{timestamp: now, count: current}
	if len(t.samples) < ringBufferSize {
		t.samples = append(t.samples, s)
		return
	}
	// Buffer full - overwrite oldest
	t.samples[t.writeIdx] = s
	t.writeIdx = (t.writeIdx + 1) % ringBufferSize
}

// Stats computes the current rates. Windows longer than the recorded
// history use the oldest sample available.
func (t *RateTracker) Stats() RateStats {
	now := t.clock.Now()
	current := t.total.Load()

	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := RateStats{Total: current}
	if elapsed := now.Sub(t.startTime).Seconds(); elapsed > 0 {
		stats.AvgOverall = float64(current) / elapsed
	}
	stats.Avg1s = t.avgOverWindow(now, current, window1s)
	stats.Avg10s = t.avgOverWindow(now, current, window10s)
	stats.Avg60s = t.avgOverWindow(now, current, window60s)
	return stats
}

// avgOverWindow calculates the average rate over window.
// Must be called with mu held (at least RLock).
func (t *RateTracker) avgOverWindow(now time.Time, current int64, window time.Duration) float64 {
	target := now.Add(-window)

	// Latest sample at or before target.
	var best *sample
	for i := range t.samples {
		s := &t.samples[i]
		if s.timestamp.After(target) {
			continue
		}
		if best == nil || s.timestamp.After(best.timestamp) {
			best = s
		}
	}
	if best == nil {
		best = t.oldestSample()
	}
	if best == nil {
		return 0
	}

	elapsed := now.Sub(best.timestamp).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(current-best.count) / elapsed
}

// oldestSample returns the oldest sample in the ring buffer.
// Must be called with mu held.
func (t *RateTracker) oldestSample() *sample {
	if len(t.samples) == 0 {
		return nil
	}
	if len(t.samples) < ringBufferSize {
		return &t.samples[0]
	}
	return &t.samples[t.writeIdx]
}

// SampleCount returns the number of samples in the ring buffer.
func (t *RateTracker) SampleCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.samples)
}

// =============================================================================
// Per-service set
// =============================================================================

// Set holds one RateTracker per service role.
type Set struct {
	clock Clock

	mu     sync.RWMutex
	byRole map[string]*RateTracker
}

// NewSet creates a set with trackers for roles.
func NewSet(roles ...string) *Set {
	return NewSetWithClock(realClock{}, roles...)
}

// NewSetWithClock creates a set with a custom clock for testing.
func NewSetWithClock(clock Clock, roles ...string) *Set {
	s := &Set{clock: clock, byRole: make(map[string]*RateTracker, len(roles))}
	for _, role := range roles {
		s.byRole[role] = NewRateTrackerWithClock(clock)
	}
	return s
}

// Tracker returns the tracker for role, creating it on first use.
func (s *Set) Tracker(role string) *RateTracker {
	s.mu.RLock()
	t, ok := s.byRole[role]
	s.mu.RUnlock()
	if ok {
		return t
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok = s.byRole[role]; !ok {
		t = NewRateTrackerWithClock(s.clock)
		s.byRole[role] = t
	}
	return t
}

// Observer returns a per-line hook counting role's output.
func (s *Set) Observer(role string) func(line string) {
	t := s.Tracker(role)
	return func(string) { t.Add(1) }
}

// Rate returns role's lines per second over the last 10 seconds.
func (s *Set) Rate(role string) float64 {
	return s.Tracker(role).Stats().Avg10s
}

// RecordSamples samples every tracker.
func (s *Set) RecordSamples() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.byRole {
		t.RecordSample()
	}
}

// Run samples every interval until ctx is done.
func (s *Set) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RecordSamples()
		}
	}
}
