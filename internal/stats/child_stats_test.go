package stats

import (
	"sync"
	"testing"
	"time"
)

func TestChildStats_Empty(t *testing.T) {
	start := time.Now()
	cs := NewChildStats("backend", start)

	snap := cs.snapshotAt(start.Add(time.Second))
	if snap.Role != "backend" {
		t.Errorf("Role = %q, want backend", snap.Role)
	}
	if snap.Lines != 0 || snap.Bytes != 0 {
		t.Errorf("Lines/Bytes = %d/%d, want 0/0", snap.Lines, snap.Bytes)
	}
	if snap.TimeToFirstLine != 0 || snap.GapMax != 0 {
		t.Error("timing fields set without output")
	}
	if snap.Exit != nil {
		t.Error("Exit set before RecordExit")
	}
}

func TestChildStats_ObserveCountsAndGaps(t *testing.T) {
	start := time.Now()
	cs := NewChildStats("backend", start)

	// First line 500ms after start, then lines 100ms apart and one 3s gap.
	at := start.Add(500 * time.Millisecond)
	cs.observeAt("compiling", at)
	for i := 0; i < 20; i++ {
		at = at.Add(100 * time.Millisecond)
		cs.observeAt("ok", at)
	}
	at = at.Add(3 * time.Second)
	cs.observeAt("ready", at)

	snap := cs.snapshotAt(at.Add(time.Second))

	if snap.Lines != 22 {
		t.Errorf("Lines = %d, want 22", snap.Lines)
	}
	wantBytes := int64(len("compiling")+1) + 20*int64(len("ok")+1) + int64(len("ready")+1)
	if snap.Bytes != wantBytes {
		t.Errorf("Bytes = %d, want %d", snap.Bytes, wantBytes)
	}
	if snap.TimeToFirstLine != 500*time.Millisecond {
		t.Errorf("TimeToFirstLine = %v, want 500ms", snap.TimeToFirstLine)
	}
	if snap.Idle != time.Second {
		t.Errorf("Idle = %v, want 1s", snap.Idle)
	}
	if snap.GapMax != 3*time.Second {
		t.Errorf("GapMax = %v, want 3s", snap.GapMax)
	}
	// 20 of 21 gaps are 100ms, so the median must be close to it.
	if snap.GapP50 < 90*time.Millisecond || snap.GapP50 > 110*time.Millisecond {
		t.Errorf("GapP50 = %v, want ~100ms", snap.GapP50)
	}
	if snap.GapP99 < snap.GapP50 {
		t.Errorf("GapP99 %v < GapP50 %v", snap.GapP99, snap.GapP50)
	}
}

func TestChildStats_SingleLineHasNoGaps(t *testing.T) {
	start := time.Now()
	cs := NewChildStats("dashboard", start)
	cs.observeAt("hello", start.Add(time.Millisecond))

	snap := cs.snapshotAt(start.Add(time.Second))
	if snap.GapP50 != 0 || snap.GapMax != 0 {
		t.Errorf("gaps = %v/%v, want 0 with one line", snap.GapP50, snap.GapMax)
	}
}

func TestChildStats_RecordExitFirstWins(t *testing.T) {
	cs := NewChildStats("backend", time.Now())

	cs.RecordExit(ExitRecord{Code: 1, Uptime: time.Second})
	cs.RecordExit(ExitRecord{Code: 143, Expected: true})

	snap := cs.Snapshot()
	if snap.Exit == nil {
		t.Fatal("Exit = nil after RecordExit")
	}
	if snap.Exit.Code != 1 || snap.Exit.Expected {
		t.Errorf("Exit = %+v, want first record", *snap.Exit)
	}

	// Snapshot must not alias internal state.
	snap.Exit.Code = 99
	if cs.Snapshot().Exit.Code != 1 {
		t.Error("snapshot Exit aliases internal record")
	}
}

func TestChildStats_ConcurrentObserve(t *testing.T) {
	cs := NewChildStats("backend", time.Now())

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				cs.Observe("line")
				_ = cs.Snapshot()
			}
		}()
	}
	wg.Wait()

	if cs.Lines() != 1000 {
		t.Errorf("Lines() = %d, want 1000", cs.Lines())
	}
}

func TestSession_ChildOrderAndReuse(t *testing.T) {
	s := NewSession()

	backend := s.Child("backend")
	dashboard := s.Child("dashboard")
	if s.Child("backend") != backend {
		t.Error("Child(backend) returned a new instance")
	}

	backend.Observe("a")
	backend.Observe("b")
	dashboard.Observe("c")

	snaps := s.Snapshots()
	if len(snaps) != 2 {
		t.Fatalf("len(Snapshots) = %d, want 2", len(snaps))
	}
	if snaps[0].Role != "backend" || snaps[1].Role != "dashboard" {
		t.Errorf("order = %s, %s; want backend, dashboard", snaps[0].Role, snaps[1].Role)
	}
	if s.TotalLines() != 3 {
		t.Errorf("TotalLines() = %d, want 3", s.TotalLines())
	}

	if _, ok := s.Lookup("worker"); ok {
		t.Error("Lookup created a missing role")
	}
	if got, ok := s.Lookup("dashboard"); !ok || got != dashboard {
		t.Error("Lookup(dashboard) failed")
	}
	if s.Duration() < 0 || s.StartTime().IsZero() {
		t.Error("session timing not initialised")
	}
}
