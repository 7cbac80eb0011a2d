package tui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/randomizedcoder/go-devstack/internal/process"
)

// maxEvents bounds the event history.
const maxEvents = 200

// EventLog collects supervisor progress messages while the dashboard owns
// the terminal. It implements supervisor.Notifier and is safe for
// concurrent use.
type EventLog struct {
	mu     sync.Mutex
	events []string
	now    func() time.Time
}

// NewEventLog creates an empty event log.
func NewEventLog() *EventLog {
	return &EventLog{now: time.Now}
}

func (l *EventLog) add(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, l.now().Format("15:04:05")+" "+msg)
	if len(l.events) > maxEvents {
		l.events = l.events[len(l.events)-maxEvents:]
	}
}

// Starting records a service launch.
func (l *EventLog) Starting(spec process.Spec) {
	if url := spec.URL(); url != "" {
		l.add(fmt.Sprintf("🚀 Starting %s (%s)", spec.Role, url))
		return
	}
	l.add(fmt.Sprintf("🚀 Starting %s", spec.Role))
}

// ShuttingDown records the start of shutdown.
func (l *EventLog) ShuttingDown() {
	l.add("🛑 Shutting down services...")
}

// Stopping records a service being stopped.
func (l *EventLog) Stopping(role string) {
	l.add(fmt.Sprintf("Stopping %s...", role))
}

// AllStopped records the end of shutdown.
func (l *EventLog) AllStopped() {
	l.add("✅ All services stopped")
}

// UnexpectedExit records a service that died on its own.
func (l *EventLog) UnexpectedExit(spec process.Spec, exitCode int, lastLines []string) {
	l.add(fmt.Sprintf("❌ %s process exited unexpectedly (exit code %d)", spec.DisplayName(), exitCode))
	for _, line := range lastLines {
		l.add("   │ " + line)
	}
}

// Errorf records a failure.
func (l *EventLog) Errorf(format string, args ...any) {
	l.add("❌ " + fmt.Sprintf(format, args...))
}

// Recent returns up to n of the latest events, oldest first.
func (l *EventLog) Recent(n int) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > len(l.events) {
		n = len(l.events)
	}
	out := make([]string, n)
	copy(out, l.events[len(l.events)-n:])
	return out
}

// Replay writes every recorded event to w, one per line. It is used after
// the dashboard exits so the history stays on screen.
func (l *EventLog) Replay(w io.Writer) {
	for _, e := range l.Recent(0) {
		fmt.Fprintln(w, e)
	}
}
