//go:build unix

package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/randomizedcoder/go-devstack/internal/process"
)

// groupGone reports whether no process is left in the group led by pid.
func groupGone(pid int) bool {
	return errors.Is(unix.Kill(-pid, 0), unix.ESRCH)
}

func TestShutdown_KillsGrandchildIgnoringSIGTERM(t *testing.T) {
	var mu sync.Mutex
	killed := map[string]bool{}

	const stopTimeout = 300 * time.Millisecond
	f := newFixture(t, Config{
		Services: []Service{
			// The leader exits on SIGTERM; the grandchild ignores it and
			// keeps the output pipe open.
			shService("backend", `(trap "" TERM; echo ready; exec sleep 30) & wait`),
		},
		StopTimeout: stopTimeout,
		Callbacks: Callbacks{
			OnExit: func(role string, _ process.ExitStatus, _, wasKilled bool) {
				mu.Lock()
				killed[role] = wasKilled
				mu.Unlock()
			},
		},
	})

	if err := f.sup.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, 5*time.Second, "grandchild started", func() bool {
		return len(f.sink.Lines("BACKEND")) > 0
	})
	backend := childOf(t, f.sup, "backend")
	pid := backend.Pid()

	start := time.Now()
	f.sup.Shutdown(ReasonSignal)
	elapsed := time.Since(start)

	if backend.IsAlive() {
		t.Error("leader alive after Shutdown")
	}
	// The killed grandchild is reaped by init, not by us.
	waitFor(t, 2*time.Second, "process group to empty", func() bool {
		return groupGone(pid)
	})
	if elapsed > stopTimeout+time.Second {
		t.Errorf("Shutdown took %v; the grandchild should be killed at the %v deadline", elapsed, stopTimeout)
	}

	mu.Lock()
	defer mu.Unlock()
	if !killed["backend"] {
		t.Error("OnExit reported killed=false for a group with a surviving grandchild")
	}
}

func TestShutdown_GracefulGroupNotKilled(t *testing.T) {
	f := newFixture(t, Config{
		Services: []Service{
			shService("backend", `(echo ready; exec sleep 30) & wait`),
		},
		StopTimeout: 2 * time.Second,
	})

	if err := f.sup.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, 5*time.Second, "grandchild started", func() bool {
		return len(f.sink.Lines("BACKEND")) > 0
	})
	backend := childOf(t, f.sup, "backend")

	f.sup.Shutdown(ReasonOperator)

	waitFor(t, 2*time.Second, "process group to empty", func() bool {
		return groupGone(backend.Pid())
	})
	if _, kill := backend.SignalCounts(); kill != 0 {
		t.Errorf("kill count = %d, want 0 for a group that exits on SIGTERM", kill)
	}
}

func TestRun_ChildKilledOutOfBand(t *testing.T) {
	const poll = 50 * time.Millisecond
	f := newFixture(t, Config{
		Services: []Service{
			shService("backend", "exec sleep 30"),
			shService("dashboard", "echo ready; exec sleep 30"),
		},
		PollInterval: poll,
	})

	if err := f.sup.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, 5*time.Second, "dashboard output", func() bool {
		return len(f.sink.Lines("DASHBOARD")) > 0
	})
	dashboard := childOf(t, f.sup, "dashboard")
	backend := childOf(t, f.sup, "backend")

	result := runAsync(f.sup, context.Background())

	if err := unix.Kill(dashboard.Pid(), unix.SIGKILL); err != nil {
		t.Fatalf("kill dashboard: %v", err)
	}
	killedAt := time.Now()

	select {
	case code := <-result:
		if code != 1 {
			t.Errorf("Run() = %d, want 1", code)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after the dashboard was killed")
	}
	if d := time.Since(killedAt); d > poll+tailFlushTimeout+3*time.Second {
		t.Errorf("shutdown completed %v after the kill", d)
	}

	if f.sup.Reason() != ReasonChildExited {
		t.Errorf("Reason() = %v, want child_exited", f.sup.Reason())
	}
	var exitErr *UnexpectedExitError
	if !errors.As(f.sup.Err(), &exitErr) {
		t.Fatalf("Err() = %v, want *UnexpectedExitError", f.sup.Err())
	}
	if exitErr.Role != "dashboard" || !exitErr.Status.Signaled {
		t.Errorf("exitErr = %+v, want dashboard killed by a signal", exitErr)
	}
	if backend.IsAlive() {
		t.Error("backend alive after dashboard was killed")
	}
}

func TestRun_SignalDuringTailFlushKeepsFailure(t *testing.T) {
	const poll = 50 * time.Millisecond
	f := newFixture(t, Config{
		Services: []Service{
			shService("backend", "exec sleep 30"),
			// The background sleep holds the pipe, so the forwarder stays
			// open and the tail flush waits its full timeout.
			shService("dashboard", "sleep 30 & echo boom; exit 3"),
		},
		PollInterval: poll,
	})

	if err := f.sup.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	dashboard := childOf(t, f.sup, "dashboard")
	result := runAsync(f.sup, context.Background())

	if _, err := dashboard.AwaitExit(5 * time.Second); err != nil {
		t.Fatalf("dashboard did not exit: %v", err)
	}
	// Detection takes at most one poll; land well inside the flush wait.
	time.Sleep(poll + tailFlushTimeout/4)
	f.sup.Shutdown(ReasonSignal)

	select {
	case code := <-result:
		if code != 1 {
			t.Errorf("Run() = %d, want 1", code)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return")
	}
	if f.sup.Reason() != ReasonChildExited {
		t.Errorf("Reason() = %v, want child_exited", f.sup.Reason())
	}
	waitFor(t, 2*time.Second, "dashboard group to empty", func() bool {
		return groupGone(dashboard.Pid())
	})
}
