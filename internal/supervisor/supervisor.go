package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/randomizedcoder/go-devstack/internal/forwarder"
	"github.com/randomizedcoder/go-devstack/internal/logging"
	"github.com/randomizedcoder/go-devstack/internal/process"
	"github.com/randomizedcoder/go-devstack/internal/readiness"
)

const (
	// DefaultPollInterval is how often Run checks child liveness.
	DefaultPollInterval = time.Second

	// killDrainTimeout bounds the wait for exit after SIGKILL.
	killDrainTimeout = 5 * time.Second

	// forwarderDrainTimeout bounds how long shutdown waits for forwarders
	// to flush the last output before the pipes are closed.
	forwarderDrainTimeout = 2 * time.Second

	// tailFlushTimeout bounds the wait for a dead child's forwarder before
	// its last lines are printed.
	tailFlushTimeout = 500 * time.Millisecond

	// groupPollInterval is how often shutdown checks whether a process
	// group has emptied after its leader exited.
	groupPollInterval = 20 * time.Millisecond

	// unexpectedExitTailLines is how many lines are shown for a dead child.
	unexpectedExitTailLines = 20
)

// Service is one child to supervise.
type Service struct {
	Spec process.Spec

	// Ready gates the launch of the next service. Nil means no wait.
	Ready readiness.Probe
}

// Notifier receives operator-facing progress messages. console.Console
// implements it.
type Notifier interface {
	Starting(spec process.Spec)
	ShuttingDown()
	Stopping(role string)
	AllStopped()
	UnexpectedExit(spec process.Spec, exitCode int, lastLines []string)
	Errorf(format string, args ...any)
}

// Callbacks contains optional callback functions for supervisor events.
// They are never called with internal locks held.
type Callbacks struct {
	// OnStateChange is called when the supervisor state changes.
	OnStateChange func(oldState, newState State)

	// OnStart is called when a child process starts.
	OnStart func(role string, pid int)

	// OnExit is called once per child during shutdown. Expected is false if
	// the child had already exited on its own; killed is true if SIGKILL
	// was needed.
	OnExit func(role string, status process.ExitStatus, expected, killed bool)

	// OnStreamError is called when a child's output could not be read.
	OnStreamError func(role string, err error)
}

// Config holds configuration for creating a new Supervisor.
type Config struct {
	Services []Service

	// PollInterval is the liveness check period. Default 1s.
	PollInterval time.Duration

	// StopTimeout is the grace period between terminate and kill.
	// Default 5s.
	StopTimeout time.Duration

	// Sink receives forwarded lines. Defaults to discarding them.
	Sink forwarder.Sink

	// Notifier receives progress messages. Optional.
	Notifier Notifier

	// Observers returns extra per-line hooks for a role. Optional.
	Observers func(role string) []forwarder.Observer

	// TailLines is the per-child line history kept for diagnostics.
	TailLines int

	Logger    *slog.Logger
	Callbacks Callbacks
}

// managed is one spawned child and its output plumbing.
type managed struct {
	spec  process.Spec
	child *process.Child
	fwd   *forwarder.Forwarder
	tail  *logging.Tail

	// stoppedByUs is set when shutdown sent the terminate request.
	stoppedByUs bool
	killed      bool
}

// Supervisor manages the lifecycle of a fixed set of child services.
//
// Start spawns them, Run monitors them, and Shutdown stops them. Shutdown
// may be called from any goroutine any number of times; only the first
// call does the work and later calls wait for it to finish.
type Supervisor struct {
	services     []Service
	pollInterval time.Duration
	stopTimeout  time.Duration
	sink         forwarder.Sink
	notifier     Notifier
	observers    func(role string) []forwarder.Observer
	tailLines    int
	logger       *slog.Logger
	callbacks    Callbacks

	// State management
	state   State
	stateMu sync.RWMutex

	// mu guards children and cancelStart. It is held across spawn and
	// append so a concurrent shutdown sees every spawned child.
	mu          sync.Mutex
	children    []*managed
	byRole      map[string]*managed
	cancelStart context.CancelFunc

	forwarders     errgroup.Group
	forwardersDone chan struct{}

	// Shutdown bookkeeping (set-once)
	shuttingDown    atomic.Bool
	shutdownStarted chan struct{}
	shutdownDone    chan struct{}
	reason          atomic.Int32
	exitCode        atomic.Int32
	cause           error

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a new Supervisor with the given configuration.
func New(cfg Config) *Supervisor {
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	stopTimeout := cfg.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = process.DefaultStopTimeout
	}
	sink := cfg.Sink
	if sink == nil {
		sink = discardSink{}
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Supervisor{
		services:        cfg.Services,
		pollInterval:    poll,
		stopTimeout:     stopTimeout,
		sink:            sink,
		notifier:        notifier,
		observers:       cfg.Observers,
		tailLines:       cfg.TailLines,
		logger:          logger,
		callbacks:       cfg.Callbacks,
		state:           StateIdle,
		byRole:          make(map[string]*managed),
		forwardersDone:  make(chan struct{}),
		shutdownStarted: make(chan struct{}),
		shutdownDone:    make(chan struct{}),
		stopCh:          make(chan struct{}),
	}
}

// Start spawns the services in order. Each service's forwarder starts as
// soon as the service is spawned; the next service is launched once the
// previous one's readiness probe passes.
//
// If a spawn or probe fails, Start shuts down whatever is already running
// and returns the error. Run then returns exit code 1 immediately.
func (s *Supervisor) Start(ctx context.Context) error {
	if !s.transition(StateIdle, StateStarting) {
		return ErrAlreadyStarted
	}
	if len(s.services) == 0 {
		s.shutdown(ReasonStartFailed, ErrNoServices)
		return ErrNoServices
	}

	probeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.cancelStart = cancel
	s.mu.Unlock()

	var prev *managed
	var prevProbe readiness.Probe
	for _, svc := range s.services {
		if prev != nil && prevProbe != nil {
			if err := s.awaitReady(ctx, probeCtx, prev, prevProbe); err != nil {
				return err
			}
		}

		m, err := s.spawn(svc.Spec)
		if err != nil {
			if errors.Is(err, ErrShuttingDown) {
				return err
			}
			s.notifier.Errorf("Failed to start %s: %v", svc.Spec.Role, err)
			s.logger.Error("child_spawn_failed",
				"role", svc.Spec.Role,
				"command", svc.Spec.CommandString(),
				"dir", svc.Spec.Dir,
				"error", err,
			)
			s.shutdown(ReasonStartFailed, err)
			return err
		}
		prev, prevProbe = m, svc.Ready
	}

	// Every Go call on the forwarder group happened under mu before this
	// point, so Wait cannot race with Add.
	s.mu.Lock()
	if s.shuttingDown.Load() {
		s.mu.Unlock()
		return ErrShuttingDown
	}
	go func() {
		_ = s.forwarders.Wait()
		close(s.forwardersDone)
	}()
	s.mu.Unlock()

	if !s.transition(StateStarting, StateRunning) {
		return ErrShuttingDown
	}
	s.logger.Info("supervisor_running", "services", len(s.services))
	return nil
}

// awaitReady runs prev's probe and converts its failure into a shutdown.
func (s *Supervisor) awaitReady(ctx, probeCtx context.Context, prev *managed, probe readiness.Probe) error {
	s.logger.Debug("waiting_for_readiness", "role", prev.spec.Role, "probe", probe.Name())

	err := probe.Wait(probeCtx, readiness.Target{Name: prev.spec.Role, Exited: prev.child.Exited()})
	if err == nil {
		s.logger.Debug("service_ready", "role", prev.spec.Role, "probe", probe.Name())
		return nil
	}

	switch {
	case s.shuttingDown.Load():
		// Shutdown from elsewhere cancelled the probe.
		return ErrShuttingDown
	case errors.Is(err, readiness.ErrProcessExited):
		if exitErr := s.handleUnexpectedExit(prev); exitErr != nil {
			return exitErr
		}
		<-s.shutdownDone
		return ErrShuttingDown
	case ctx.Err() != nil:
		s.shutdown(ReasonContext, ctx.Err())
		return ctx.Err()
	default:
		notReady := &NotReadyError{Role: prev.spec.Role, Probe: probe.Name(), Err: err}
		s.notifier.Errorf("%s", notReady.Error())
		s.logger.Error("readiness_failed", "role", prev.spec.Role, "probe", probe.Name(), "error", err)
		s.shutdown(ReasonStartFailed, notReady)
		return notReady
	}
}

// spawn starts one child and its forwarder. It refuses once shutdown has
// begun.
func (s *Supervisor) spawn(spec process.Spec) (*managed, error) {
	s.mu.Lock()
	if s.shuttingDown.Load() {
		s.mu.Unlock()
		return nil, ErrShuttingDown
	}

	s.notifier.Starting(spec)
	child, err := process.Spawn(spec)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	log := logging.ForRole(s.logger, spec.Role)
	tail := logging.NewTail(spec.Role, s.tailLines)
	observers := []forwarder.Observer{tail.Observe}
	if s.observers != nil {
		observers = append(observers, s.observers(spec.Role)...)
	}
	fwd := forwarder.New(forwarder.Config{
		Tag:       spec.Tag(),
		Source:    child.Output(),
		Sink:      s.sink,
		Logger:    log,
		Observers: observers,
	})

	m := &managed{spec: spec, child: child, fwd: fwd, tail: tail}
	s.children = append(s.children, m)
	s.byRole[spec.Role] = m

	s.forwarders.Go(func() error {
		err := fwd.Run()
		if err != nil && s.callbacks.OnStreamError != nil {
			s.callbacks.OnStreamError(spec.Role, err)
		}
		return err
	})
	s.mu.Unlock()

	log.Info("child_started",
		"pid", child.Pid(),
		"command", spec.CommandString(),
		"dir", spec.Dir,
	)
	if s.callbacks.OnStart != nil {
		s.callbacks.OnStart(spec.Role, child.Pid())
	}
	return m, nil
}

// Run is the monitoring loop. It returns the exit code once shutdown has
// completed, whatever triggered it:
//   - a child found dead at a poll tick: 1
//   - every output stream ended: 1
//   - ctx cancelled or Stop called: 0
//   - Shutdown called elsewhere: that call's code
//
// Run never restarts a child.
func (s *Supervisor) Run(ctx context.Context) int {
	if s.State() == StateIdle {
		s.logger.Error("run_before_start")
		return 1
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	forwardersDone := s.forwardersDone
	for {
		select {
		case <-s.shutdownStarted:
			<-s.shutdownDone
			return s.ExitCode()

		case <-ctx.Done():
			s.logger.Info("context_cancelled")
			s.Shutdown(ReasonContext)

		case <-s.stopCh:
			s.logger.Info("stop_requested")
			s.Shutdown(ReasonOperator)

		case <-forwardersDone:
			forwardersDone = nil
			if m := s.firstExited(); m != nil {
				s.handleUnexpectedExit(m)
				continue
			}
			s.logger.Error("all_streams_closed")
			s.notifier.Errorf("All service output streams closed")
			s.shutdown(ReasonStreamsClosed, errors.New("all output streams closed"))

		case <-ticker.C:
			if m := s.firstExited(); m != nil {
				s.handleUnexpectedExit(m)
			}
		}
	}
}

// firstExited returns the first child (in start order) that is no longer
// alive.
func (s *Supervisor) firstExited() *managed {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.children {
		if !m.child.IsAlive() {
			return m
		}
	}
	return nil
}

// handleUnexpectedExit reports m and shuts everything down. It returns nil
// if another trigger had already started shutdown.
func (s *Supervisor) handleUnexpectedExit(m *managed) *UnexpectedExitError {
	// Claim shutdown before the tail flush; the failure reason must stand.
	if !s.shuttingDown.CompareAndSwap(false, true) {
		return nil
	}
	status, _ := m.child.Status()
	exitErr := &UnexpectedExitError{Role: m.spec.Role, Status: status}
	s.reportUnexpectedExit(m)
	s.performShutdown(ReasonChildExited, exitErr)
	return exitErr
}

// reportUnexpectedExit logs a dead child and prints its last lines.
func (s *Supervisor) reportUnexpectedExit(m *managed) {
	status, _ := m.child.Status()

	// Give the forwarder a moment to pass on the child's final words.
	select {
	case <-m.fwd.Done():
	case <-time.After(tailFlushTimeout):
	}

	s.logger.Error("child_exited_unexpectedly",
		"role", m.spec.Role,
		"pid", m.child.Pid(),
		"exit_code", status.Code,
		"signal", status.Signal,
		"uptime", status.Uptime.String(),
		"error_patterns", m.tail.CountErrors(),
	)
	s.notifier.UnexpectedExit(m.spec, status.Code, m.tail.RecentLines(unexpectedExitTailLines))
}

// Stop requests an operator shutdown. Run performs it and returns 0.
// Safe to call multiple times and from any goroutine.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

// Shutdown stops every child. Only the first call does any work; later
// and concurrent calls block until it has finished.
func (s *Supervisor) Shutdown(reason Reason) {
	s.shutdown(reason, nil)
}

// shutdown implements Shutdown and records cause as the run's error.
func (s *Supervisor) shutdown(reason Reason, cause error) {
	if !s.shuttingDown.CompareAndSwap(false, true) {
		<-s.shutdownDone
		return
	}
	s.performShutdown(reason, cause)
}

// performShutdown runs the shutdown sequence once the caller has won the
// shuttingDown flag.
//
// Every child gets one terminate request, newest first. All of them then
// share a single StopTimeout deadline, after which survivors are killed,
// along with anything left in the process group of a child that already
// exited. The result is bounded by StopTimeout + killDrainTimeout +
// forwarderDrainTimeout no matter how many children ignore SIGTERM.
func (s *Supervisor) performShutdown(reason Reason, cause error) {
	defer close(s.shutdownDone)

	start := time.Now()
	s.reason.Store(int32(reason))
	s.exitCode.Store(int32(reason.ExitCode()))
	s.cause = cause
	close(s.shutdownStarted)
	s.setState(StateShuttingDown)

	s.logger.Info("shutdown_started", "reason", reason.String())
	if !reason.IsFailure() {
		s.notifier.ShuttingDown()
	}

	s.mu.Lock()
	if s.cancelStart != nil {
		s.cancelStart()
	}
	children := make([]*managed, len(s.children))
	copy(children, s.children)
	s.mu.Unlock()

	// Terminate newest first.
	for i := len(children) - 1; i >= 0; i-- {
		m := children[i]
		if !m.child.IsAlive() {
			if m.child.KillStragglers() {
				s.logger.Warn("killed_orphaned_group", "role", m.spec.Role, "pgid", m.child.Pid())
			}
			continue
		}
		m.stoppedByUs = true
		s.notifier.Stopping(m.spec.Role)
		m.child.Terminate()
	}

	deadline := time.Now().Add(s.stopTimeout)
	for i := len(children) - 1; i >= 0; i-- {
		m := children[i]
		if _, err := m.child.AwaitExit(time.Until(deadline)); err == nil {
			if awaitGroupExit(m.child, deadline) {
				continue
			}
			if m.child.KillStragglers() {
				s.logger.Warn("force_killing_stragglers",
					"role", m.spec.Role,
					"pgid", m.child.Pid(),
					"timeout", s.stopTimeout.String(),
				)
				m.killed = true
			}
			continue
		}
		s.logger.Warn("force_killing_process",
			"role", m.spec.Role,
			"pid", m.child.Pid(),
			"timeout", s.stopTimeout.String(),
		)
		m.killed = true
		m.child.Kill()
	}

	for _, m := range children {
		if !m.killed {
			continue
		}
		if _, err := m.child.AwaitExit(killDrainTimeout); err != nil {
			s.logger.Error("process_did_not_exit",
				"role", m.spec.Role,
				"pid", m.child.Pid(),
				"error", err,
			)
		}
	}

	s.drainForwarders(children)

	for _, m := range children {
		status, exited := m.child.Status()
		if !exited {
			continue
		}
		logging.ForRole(s.logger, m.spec.Role).Info("child_exited",
			"pid", m.child.Pid(),
			"exit_code", status.Code,
			"uptime", status.Uptime.String(),
			"expected", m.stoppedByUs,
			"killed", m.killed,
		)
		if s.callbacks.OnExit != nil {
			s.callbacks.OnExit(m.spec.Role, status, m.stoppedByUs, m.killed)
		}
	}

	s.notifier.AllStopped()
	s.setState(StateStopped)
	s.logger.Info("shutdown_complete",
		"reason", reason.String(),
		"exit_code", reason.ExitCode(),
		"duration", time.Since(start).String(),
	)
}

// awaitGroupExit waits for the rest of an exited child's process group to
// go away. It reports false if members remain at the deadline.
func awaitGroupExit(c *process.Child, deadline time.Time) bool {
	for c.GroupAlive() {
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(groupPollInterval)
	}
	return true
}

// drainForwarders lets forwarders pass on buffered output, then closes the
// read ends so any forwarder still blocked (a grandchild holding the pipe
// open) returns.
func (s *Supervisor) drainForwarders(children []*managed) {
	waitAll := func(timeout time.Duration) bool {
		t := time.NewTimer(timeout)
		defer t.Stop()
		for _, m := range children {
			select {
			case <-m.fwd.Done():
			case <-t.C:
				return false
			}
		}
		return true
	}

	if !waitAll(forwarderDrainTimeout) {
		s.logger.Warn("forwarder_drain_timeout", "timeout", forwarderDrainTimeout.String())
	}
	for _, m := range children {
		_ = m.child.Close()
	}
	if !waitAll(forwarderDrainTimeout) {
		s.logger.Error("forwarders_stuck_after_close")
	}
}

// Done returns a channel closed when shutdown has completed.
func (s *Supervisor) Done() <-chan struct{} {
	return s.shutdownDone
}

// ExitCode returns the exit code chosen by the first shutdown trigger, or 0
// if shutdown has not started.
func (s *Supervisor) ExitCode() int {
	return int(s.exitCode.Load())
}

// Reason returns what triggered shutdown, or ReasonNone.
func (s *Supervisor) Reason() Reason {
	return Reason(s.reason.Load())
}

// Err returns the failure that triggered shutdown, if any. Valid after
// Done is closed.
func (s *Supervisor) Err() error {
	select {
	case <-s.shutdownDone:
		return s.cause
	default:
		return nil
	}
}

// Child returns the child process for role, if it was spawned.
func (s *Supervisor) Child(role string) (*process.Child, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byRole[role]
	if !ok {
		return nil, false
	}
	return m.child, true
}

// ChildStatus is a point-in-time view of one child.
type ChildStatus struct {
	Role   string
	Pid    int
	Alive  bool
	Uptime time.Duration
	Lines  int64

	// ExitCode is valid when Alive is false.
	ExitCode int
}

// Children returns the status of every spawned child in start order.
func (s *Supervisor) Children() []ChildStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ChildStatus, 0, len(s.children))
	for _, m := range s.children {
		_, lines, _ := m.fwd.Stats()
		cs := ChildStatus{
			Role:   m.spec.Role,
			Pid:    m.child.Pid(),
			Alive:  m.child.IsAlive(),
			Uptime: m.child.Uptime(),
			Lines:  lines,
		}
		if st, ok := m.child.Status(); ok {
			cs.ExitCode = st.Code
		}
		out = append(out, cs)
	}
	return out
}

// RecentLines returns up to n of the last lines printed by role.
func (s *Supervisor) RecentLines(role string, n int) []string {
	s.mu.Lock()
	m, ok := s.byRole[role]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return m.tail.RecentLines(n)
}

// State returns the current state of the supervisor.
func (s *Supervisor) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// setState updates the state and calls the callback if registered.
func (s *Supervisor) setState(newState State) {
	s.stateMu.Lock()
	oldState := s.state
	s.state = newState
	s.stateMu.Unlock()

	if s.callbacks.OnStateChange != nil && oldState != newState {
		s.callbacks.OnStateChange(oldState, newState)
	}
}

// transition moves from one state to another only if the current state is
// from.
func (s *Supervisor) transition(from, to State) bool {
	s.stateMu.Lock()
	if s.state != from {
		s.stateMu.Unlock()
		return false
	}
	s.state = to
	s.stateMu.Unlock()

	if s.callbacks.OnStateChange != nil {
		s.callbacks.OnStateChange(from, to)
	}
	return true
}

type discardSink struct{}

func (discardSink) WriteLine(string, string) {}

type nopNotifier struct{}

func (nopNotifier) Starting(process.Spec) {}
func (nopNotifier) ShuttingDown() {}
func (nopNotifier) Stopping(string) {}
func (nopNotifier) AllStopped() {}
func (nopNotifier) UnexpectedExit(process.Spec, int, []string) {}
func (nopNotifier) Errorf(string, ...any) {}
