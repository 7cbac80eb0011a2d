package signals

import (
	"io"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/randomizedcoder/go-devstack/internal/supervisor"
)

// =============================================================================
// Test Helpers
// =============================================================================

type recordingTarget struct {
	mu      sync.Mutex
	reasons []supervisor.Reason
	delay   time.Duration
}

func (r *recordingTarget) Shutdown(reason supervisor.Reason) {
	time.Sleep(r.delay)
	r.mu.Lock()
	r.reasons = append(r.reasons, reason)
	r.mu.Unlock()
}

func (r *recordingTarget) calls() []supervisor.Reason {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]supervisor.Reason(nil), r.reasons...)
}

type recordingExit struct {
	mu    sync.Mutex
	codes []int
	// shutdownDone records whether Shutdown had returned when Exit ran.
	shutdownDone []bool
	target       *recordingTarget
}

func (e *recordingExit) exit(code int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.codes = append(e.codes, code)
	e.shutdownDone = append(e.shutdownDone, len(e.target.calls()) == 1)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitHandled(t *testing.T, b *Bridge) {
	t.Helper()
	select {
	case <-b.Handled():
	case <-time.After(5 * time.Second):
		t.Fatal("signal was not handled")
	}
}

// =============================================================================
// Tests
// =============================================================================

func TestBridge_FirstSignalShutsDownThenExitsZero(t *testing.T) {
	target := &recordingTarget{delay: 50 * time.Millisecond}
	exit := &recordingExit{target: target}
	source := make(chan os.Signal, 1)

	b := New(Config{Target: target, Exit: exit.exit, Source: source, Logger: newTestLogger()})
	b.Start()
	defer b.Stop()

	source <- os.Interrupt
	waitHandled(t, b)
	b.Stop()

	if got := target.calls(); len(got) != 1 || got[0] != supervisor.ReasonSignal {
		t.Errorf("Shutdown calls = %v, want [signal]", got)
	}

	exit.mu.Lock()
	defer exit.mu.Unlock()
	if len(exit.codes) != 1 || exit.codes[0] != 0 {
		t.Errorf("exit codes = %v, want [0]", exit.codes)
	}
	if !exit.shutdownDone[0] {
		t.Error("Exit ran before Shutdown returned")
	}
}

func TestBridge_RepeatedSignalsAbsorbed(t *testing.T) {
	target := &recordingTarget{delay: 100 * time.Millisecond}
	exit := &recordingExit{target: target}
	source := make(chan os.Signal, 8)

	b := New(Config{Target: target, Exit: exit.exit, Source: source, Logger: newTestLogger()})
	b.Start()

	for i := 0; i < 5; i++ {
		source <- syscall.SIGTERM
	}
	waitHandled(t, b)

	deadline := time.Now().Add(5 * time.Second)
	for b.Absorbed() < 4 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	b.Stop()

	if got := b.Absorbed(); got != 4 {
		t.Errorf("Absorbed() = %d, want 4", got)
	}
	if got := len(target.calls()); got != 1 {
		t.Errorf("Shutdown called %d times, want 1", got)
	}
	exit.mu.Lock()
	if len(exit.codes) != 1 {
		t.Errorf("Exit called %d times, want 1", len(exit.codes))
	}
	exit.mu.Unlock()
}

func TestBridge_StopWithoutSignal(t *testing.T) {
	target := &recordingTarget{}
	b := New(Config{Target: target, Exit: func(int) { t.Error("unexpected exit") }, Source: make(chan os.Signal)})

	b.Start()
	b.Stop()
	b.Stop()

	if b.Fired() {
		t.Error("Fired() = true without a signal")
	}
	if len(target.calls()) != 0 {
		t.Error("Shutdown called without a signal")
	}
}

func TestBridge_StopBeforeStart(t *testing.T) {
	b := New(Config{Source: make(chan os.Signal)})

	done := make(chan struct{})
	go func() {
		b.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on a bridge that was never started")
	}
}

func TestBridge_NilTarget(t *testing.T) {
	var code = -1
	source := make(chan os.Signal, 1)
	b := New(Config{Exit: func(c int) { code = c }, Source: source, Logger: newTestLogger()})
	b.Start()

	source <- os.Interrupt
	waitHandled(t, b)
	b.Stop()

	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
}

func TestBridge_Defaults(t *testing.T) {
	b := New(Config{})
	if len(b.signals) != 2 {
		t.Errorf("default signals = %v, want SIGINT and SIGTERM", b.signals)
	}
	if b.exit == nil || b.logger == nil {
		t.Error("defaults not applied")
	}
}
