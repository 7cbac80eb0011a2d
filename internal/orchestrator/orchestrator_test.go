package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomizedcoder/go-devstack/internal/config"
	"github.com/randomizedcoder/go-devstack/internal/logging"
	"github.com/randomizedcoder/go-devstack/internal/runstate"
)

// =============================================================================
// Test Helpers
// =============================================================================

// lockedBuffer is a bytes.Buffer safe for concurrent use.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

const installOK = `mkdir -p node_modules; echo "added 1 package"`

// writeScript writes an executable shell script.
func writeScript(t *testing.T, path, body string) string {
	t.Helper()
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

// fakeTools writes node and npm stand-ins. "npm run dev" runs the service
// directory's dev.sh.
func fakeTools(t *testing.T, install string) (node, npm string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script tools not supported on windows")
	}
	bin := t.TempDir()
	node = writeScript(t, filepath.Join(bin, "node"), "echo v20.11.0")
	npm = writeScript(t, filepath.Join(bin, "npm"), `case "$1" in
--version) echo 10.2.4 ;;
install) `+install+` ;;
run) exec sh ./dev.sh ;;
esac`)
	return node, npm
}

// project creates a root with backend and dashboard services running the
// given dev scripts. The dashboard is marked installed; the backend is not.
func project(t *testing.T, backendDev, dashboardDev string) string {
	t.Helper()
	root := t.TempDir()
	for role, dev := range map[string]string{"backend": backendDev, "dashboard": dashboardDev} {
		dir := filepath.Join(root, role)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"scripts":{"dev":"node ."}}`), 0o644); err != nil {
			t.Fatal(err)
		}
		writeScript(t, filepath.Join(dir, "dev.sh"), dev)
	}
	if err := os.MkdirAll(filepath.Join(root, "dashboard", "node_modules"), 0o755); err != nil {
		t.Fatal(err)
	}
	return root
}

func testConfig(root string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Root = root
	cfg.ReadyMode = config.ReadyNone
	cfg.PollInterval = 50 * time.Millisecond
	cfg.StopTimeout = 2 * time.Second
	cfg.NoColor = true
	return cfg
}

type harness struct {
	orch    *Orchestrator
	out     *lockedBuffer
	signals chan os.Signal
	code    chan int
}

func start(t *testing.T, cfg *config.Config, install string) *harness {
	t.Helper()
	node, npm := fakeTools(t, install)
	h := &harness{
		out:     &lockedBuffer{},
		signals: make(chan os.Signal, 1),
		code:    make(chan int, 1),
	}
	h.orch = New(cfg, logging.NewLoggerWithWriter(nil, "text", "debug"), Options{
		Version:  "test",
		Out:      h.out,
		NodePath: node,
		NPMPath:  npm,
		Signals:  h.signals,
	})
	go func() { h.code <- h.orch.Run(context.Background()) }()
	return h
}

func (h *harness) waitOutput(t *testing.T, want string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(h.out.String(), want) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %q in output:\n%s", want, h.out.String())
}

func (h *harness) exitCode(t *testing.T) int {
	t.Helper()
	select {
	case code := <-h.code:
		return code
	case <-time.After(15 * time.Second):
		t.Fatalf("Run did not return; output:\n%s", h.out.String())
		return -1
	}
}

func counterSum(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	var sum float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			sum += m.GetCounter().GetValue()
		}
	}
	return sum
}

// =============================================================================
// Tests
// =============================================================================

func TestRun_SignalStopsCleanly(t *testing.T) {
	root := project(t,
		`echo "Server listening on port 4000"; exec sleep 30`,
		`echo "ready - started server on 0.0.0.0:3000"; exec sleep 30`,
	)
	h := start(t, testConfig(root), installOK)

	h.waitOutput(t, "[DASHBOARD] ready - started server on 0.0.0.0:3000")
	h.waitOutput(t, "Press Ctrl+C to stop all services")
	h.signals <- os.Interrupt

	if code := h.exitCode(t); code != 0 {
		t.Fatalf("exit code = %d, want 0; output:\n%s", code, h.out.String())
	}

	out := h.out.String()
	for _, want := range []string{
		"(version v20.11.0)",
		"📦 Installing backend dependencies...",
		"✅ backend dependencies installed",
		"🚀 Starting backend...",
		"[BACKEND] Server listening on port 4000",
		"📍 Access the dashboard at: http://localhost:3000",
		"🛑 Shutting down services...",
		"Stopping dashboard...",
		"Stopping backend...",
		"✅ All services stopped",
		"devstack Exit Summary",
		"Shutdown Reason:        signal",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
	if strings.Contains(out, "Installing dashboard dependencies") {
		t.Error("dashboard has node_modules and should not be installed")
	}

	if _, err := os.Stat(filepath.Join(root, ".devstack", runstate.StateFile)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("state file not cleared: %v", err)
	}
	lock, err := runstate.AcquireLock(context.Background(), filepath.Join(root, ".devstack", runstate.LockFile))
	if err != nil {
		t.Fatalf("lock not released: %v", err)
	}
	lock.Release(nil)

	reg := h.orch.Registry()
	if got := counterSum(t, reg, "devstack_child_starts_total"); got != 2 {
		t.Errorf("devstack_child_starts_total = %v, want 2", got)
	}
	if got := counterSum(t, reg, "devstack_lines_forwarded_total"); got < 2 {
		t.Errorf("devstack_lines_forwarded_total = %v, want >= 2", got)
	}
	if got := h.orch.Rates().Tracker("backend").Stats().Total; got < 1 {
		t.Errorf("backend rate total = %d, want >= 1", got)
	}
}

func TestRun_UnexpectedExitFails(t *testing.T) {
	root := project(t,
		`echo "Server listening on port 4000"; exec sleep 30`,
		`echo "Error: listen EADDRINUSE: address already in use :::3000"; exit 1`,
	)
	h := start(t, testConfig(root), installOK)

	if code := h.exitCode(t); code != 1 {
		t.Fatalf("exit code = %d, want 1; output:\n%s", code, h.out.String())
	}

	out := h.out.String()
	for _, want := range []string{
		"❌ Dashboard process exited unexpectedly (exit code 1)",
		"│ Error: listen EADDRINUSE",
		"Stopping backend...",
		"✅ All services stopped",
		"Shutdown Reason:        child_exited",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if got := h.orch.Supervisor().Reason().String(); got != "child_exited" {
		t.Errorf("Reason() = %s", got)
	}
}

func TestRun_PreflightFailure(t *testing.T) {
	root := project(t, `exec sleep 30`, `exec sleep 30`)
	if err := os.RemoveAll(filepath.Join(root, "dashboard")); err != nil {
		t.Fatal(err)
	}
	h := start(t, testConfig(root), installOK)

	if code := h.exitCode(t); code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	out := h.out.String()
	if !strings.Contains(out, "✗ dashboard_dir") {
		t.Errorf("output missing failed check:\n%s", out)
	}
	if strings.Contains(out, "Starting backend") {
		t.Error("nothing should start after a failed preflight")
	}
}

func TestRun_InstallFailure(t *testing.T) {
	root := project(t, `exec sleep 30`, `exec sleep 30`)
	h := start(t, testConfig(root), `echo "npm ERR! network" >&2; exit 1`)

	if code := h.exitCode(t); code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	out := h.out.String()
	if !strings.Contains(out, "❌ Failed to install backend dependencies:") {
		t.Errorf("output missing install failure:\n%s", out)
	}
	if !strings.Contains(out, "npm ERR! network") {
		t.Errorf("output missing npm stderr:\n%s", out)
	}
}

func TestRun_SkipInstall(t *testing.T) {
	root := project(t, `exec sleep 30`, `exec sleep 30`)
	cfg := testConfig(root)
	cfg.SkipInstall = true
	h := start(t, cfg, `exit 1`)

	h.waitOutput(t, "Press Ctrl+C to stop all services")
	h.signals <- os.Interrupt

	if code := h.exitCode(t); code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if strings.Contains(h.out.String(), "Installing") {
		t.Error("install should be skipped")
	}
}

func TestRun_AlreadyRunning(t *testing.T) {
	root := project(t, `exec sleep 30`, `exec sleep 30`)
	stateDir := filepath.Join(root, ".devstack")
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		t.Fatal(err)
	}
	held, err := runstate.AcquireLock(context.Background(), filepath.Join(stateDir, runstate.LockFile))
	if err != nil {
		t.Fatal(err)
	}
	defer held.Release(nil)

	h := start(t, testConfig(root), installOK)

	if code := h.exitCode(t); code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(h.out.String(), "Another devstack is already running") {
		t.Errorf("output missing lock message:\n%s", h.out.String())
	}
}

func TestRun_SignalDuringStart(t *testing.T) {
	root := project(t, `echo "booting"; exec sleep 30`, `exec sleep 30`)
	cfg := testConfig(root)
	cfg.ReadyMode = config.ReadyDelay
	cfg.SettleDelay = time.Minute
	h := start(t, cfg, installOK)

	h.waitOutput(t, "[BACKEND] booting")
	h.signals <- os.Interrupt

	if code := h.exitCode(t); code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	out := h.out.String()
	if strings.Contains(out, "Starting dashboard") {
		t.Error("dashboard should not start after the interrupt")
	}
	if !strings.Contains(out, "✅ All services stopped") {
		t.Errorf("output missing stop confirmation:\n%s", out)
	}
}
