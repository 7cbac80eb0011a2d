package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// DefaultStopTimeout is how long Stop waits after the graceful terminate
// request before escalating to a forceful kill.
const DefaultStopTimeout = 5 * time.Second

// killDrainTimeout bounds the wait for cmd.Wait after SIGKILL. SIGKILL cannot
// be caught, so this only fires if the kernel is stuck on the process.
const killDrainTimeout = 5 * time.Second

// ExitStatus describes how a child process ended.
type ExitStatus struct {
	// Code is the exit code; 128+N when terminated by signal N.
	Code int

	// Signaled is true when the process was terminated by a signal.
	Signaled bool

	// Signal is the signal name when Signaled is true.
	Signal string

	// Uptime is the time between Start and exit.
	Uptime time.Duration
}

// StopResult captures the outcome of the terminate/wait/kill sequence.
type StopResult struct {
	Status  ExitStatus
	Killed  bool          // true if the graceful phase timed out
	Elapsed time.Duration // total time spent in Stop
}

// Child owns one spawned OS process and the read end of its merged
// stdout+stderr pipe.
//
// Exactly one goroutine calls cmd.Wait; every other observer uses the done
// channel. Terminate, Kill and Close are idempotent and safe for
// concurrent use.
type Child struct {
	spec      Spec
	cmd       *exec.Cmd
	pid       int
	output    *os.File
	startTime time.Time

	done    chan struct{} // closed when cmd.Wait returns
	status  ExitStatus    // valid after done is closed
	waitErr error         // valid after done is closed

	termOnce  sync.Once
	killOnce  sync.Once
	closeOnce sync.Once

	termSent atomic.Int32
	killSent atomic.Int32
}

// Spawn starts the process described by spec with stdout and stderr joined
// into a single pipe. It returns a *SpawnError if the executable cannot be
// found, the working directory is invalid, or the OS refuses to start it.
func Spawn(spec Spec) (*Child, error) {
	if len(spec.Command) == 0 || spec.Command[0] == "" {
		return nil, &SpawnError{Role: spec.Role, Dir: spec.Dir, Err: ErrEmptyCommand}
	}
	if err := checkDir(spec.Dir); err != nil {
		return nil, &SpawnError{Role: spec.Role, Command: spec.CommandString(), Dir: spec.Dir, Err: err}
	}

	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	if cmd.Err != nil {
		// LookPath failed; cmd.Start would return the same error.
		return nil, &SpawnError{Role: spec.Role, Command: spec.CommandString(), Dir: spec.Dir, Err: cmd.Err}
	}
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	configureSysProcAttr(cmd)

	// One pipe for both streams keeps the child's own interleaving of
	// stdout and stderr intact.
	r, w, err := os.Pipe()
	if err != nil {
		return nil, &SpawnError{Role: spec.Role, Command: spec.CommandString(), Dir: spec.Dir,
			Err: fmt.Errorf("create output pipe: %w", err)}
	}
	cmd.Stdout = w
	cmd.Stderr = w

	startTime := time.Now()
	if err := cmd.Start(); err != nil {
		_ = r.Close()
		_ = w.Close()
		return nil, &SpawnError{Role: spec.Role, Command: spec.CommandString(), Dir: spec.Dir, Err: err}
	}

	// The child holds its own copy of the write end. Closing ours makes the
	// reader see EOF once every process in the child's tree has exited.
	_ = w.Close()

	c := &Child{
		spec:      spec,
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		output:    r,
		startTime: startTime,
		done:      make(chan struct{}),
	}

	go func() {
		err := cmd.Wait()
		c.waitErr = err
		c.status = exitStatusFrom(err, time.Since(startTime))
		close(c.done)
	}()

	return c, nil
}

// checkDir verifies that dir is an existing directory. An empty dir means
// the current working directory and is accepted.
func checkDir(dir string) error {
	if dir == "" {
		return nil
	}
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("working directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("working directory %s: %w", dir, ErrNotDirectory)
	}
	return nil
}

// IsAlive reports whether the process is still running. Non-blocking.
func (c *Child) IsAlive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Exited returns a channel that is closed when the process exits. It is
// safe to select on from any number of goroutines.
func (c *Child) Exited() <-chan struct{} {
	return c.done
}

// Terminate sends the graceful stop request (SIGTERM to the process group
// on Unix). It does not block and only the first call has any effect.
func (c *Child) Terminate() {
	c.termOnce.Do(func() {
		if !c.IsAlive() {
			return
		}
		c.termSent.Add(1)
		_ = terminateProcess(c.cmd.Process)
	})
}

// Kill forcefully terminates the process (SIGKILL to the process group on
// Unix). Only the first call has any effect.
func (c *Child) Kill() {
	c.killOnce.Do(func() {
		if !c.IsAlive() {
			return
		}
		c.killSent.Add(1)
		_ = killProcess(c.cmd.Process)
	})
}

// KillStragglers sends SIGKILL to processes left in the child's process
// group after the child itself has exited, such as a dev server started by
// npm that outlived npm. It does nothing while the child is alive and
// reports whether any stragglers were found.
func (c *Child) KillStragglers() bool {
	if c.IsAlive() {
		return false
	}
	return killGroup(c.pid)
}

// GroupAlive reports whether any process remains in the child's process
// group, the child itself included.
func (c *Child) GroupAlive() bool {
	return c.IsAlive() || groupAlive(c.pid)
}

// AwaitExit blocks up to timeout for the process to end. It returns
// ErrWaitTimeout if the process is still running when timeout elapses.
// A non-positive timeout only checks the current state.
func (c *Child) AwaitExit(timeout time.Duration) (ExitStatus, error) {
	if timeout <= 0 {
		select {
		case <-c.done:
			return c.status, nil
		default:
			return ExitStatus{}, ErrWaitTimeout
		}
	}

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-c.done:
		return c.status, nil
	case <-t.C:
		return ExitStatus{}, ErrWaitTimeout
	}
}

// Stop runs the shutdown policy: Terminate, wait up to timeout, Kill if the
// process is still alive, then drain the exit with a hard upper bound.
// A non-positive timeout uses DefaultStopTimeout.
func (c *Child) Stop(timeout time.Duration) (StopResult, error) {
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}
	start := time.Now()

	c.Terminate()
	status, err := c.AwaitExit(timeout)
	if err == nil {
		return StopResult{Status: status, Elapsed: time.Since(start)}, nil
	}

	c.Kill()
	status, err = c.AwaitExit(killDrainTimeout)
	if err != nil {
		return StopResult{Killed: true, Elapsed: time.Since(start)},
			fmt.Errorf("%s: timed out waiting for process to exit after SIGKILL: %w", c.spec.Role, err)
	}
	return StopResult{Status: status, Killed: true, Elapsed: time.Since(start)}, nil
}

// Output returns the merged stdout+stderr stream. The stream ends when the
// process tree has closed its copies of the pipe or when Close is called.
func (c *Child) Output() io.Reader {
	return c.output
}

// Close releases the output pipe. Safe to call multiple times; a blocked
// reader returns os.ErrClosed.
func (c *Child) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.output.Close()
	})
	return err
}

// Status returns the exit status and true once the process has exited.
func (c *Child) Status() (ExitStatus, bool) {
	select {
	case <-c.done:
		return c.status, true
	default:
		return ExitStatus{}, false
	}
}

// WaitError returns the raw cmd.Wait error once the process has exited.
func (c *Child) WaitError() error {
	select {
	case <-c.done:
		return c.waitErr
	default:
		return nil
	}
}

// SignalCounts returns how many terminate and kill requests were actually
// delivered to the process.
func (c *Child) SignalCounts() (terminate, kill int) {
	return int(c.termSent.Load()), int(c.killSent.Load())
}

// Spec returns the launch spec.
func (c *Child) Spec() Spec {
	return c.spec
}

// Role returns the service role.
func (c *Child) Role() string {
	return c.spec.Role
}

// Pid returns the OS process id.
func (c *Child) Pid() int {
	return c.pid
}

// StartTime returns when the process was started.
func (c *Child) StartTime() time.Time {
	return c.startTime
}

// Uptime returns the time since start, or the final uptime after exit.
func (c *Child) Uptime() time.Duration {
	if st, ok := c.Status(); ok {
		return st.Uptime
	}
	return time.Since(c.startTime)
}

// exitStatusFrom converts a cmd.Wait error into an ExitStatus.
func exitStatusFrom(err error, uptime time.Duration) ExitStatus {
	st := ExitStatus{Code: extractExitCode(err), Uptime: uptime}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			st.Signaled = true
			st.Signal = ws.Signal().String()
		}
	}
	return st
}

// extractExitCode extracts the exit code from a Wait() error.
func extractExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				// Signal exit: 128 + signal number
				return 128 + int(status.Signal())
			}
			return status.ExitStatus()
		}
	}

	// Unknown error, assume exit code 1
	return 1
}
