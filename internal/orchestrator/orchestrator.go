// Package orchestrator wires the devstack components together: preflight,
// dependency installation, the single-instance lock, metrics, the
// supervisor, the signal bridge and the optional dashboard.
package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/randomizedcoder/go-devstack/internal/config"
	"github.com/randomizedcoder/go-devstack/internal/console"
	"github.com/randomizedcoder/go-devstack/internal/forwarder"
	"github.com/randomizedcoder/go-devstack/internal/install"
	"github.com/randomizedcoder/go-devstack/internal/metrics"
	"github.com/randomizedcoder/go-devstack/internal/preflight"
	"github.com/randomizedcoder/go-devstack/internal/process"
	"github.com/randomizedcoder/go-devstack/internal/runstate"
	"github.com/randomizedcoder/go-devstack/internal/signals"
	"github.com/randomizedcoder/go-devstack/internal/stats"
	"github.com/randomizedcoder/go-devstack/internal/supervisor"
	"github.com/randomizedcoder/go-devstack/internal/timeseries"
	"github.com/randomizedcoder/go-devstack/internal/tui"
)

const (
	// lockTimeout bounds the wait for another instance's lock.
	lockTimeout = 500 * time.Millisecond

	// tailLines is the per-service history kept for exit diagnostics and
	// the dashboard's log panels.
	tailLines = 200

	// metricsShutdownTimeout bounds the metrics server shutdown.
	metricsShutdownTimeout = 5 * time.Second

	// rateSampleInterval is how often output rates are sampled.
	rateSampleInterval = time.Second
)

// Options holds dependencies that are not part of the user configuration.
type Options struct {
	// Version is reported by devstack_info.
	Version string

	// Out receives console output. Nil means os.Stdout.
	Out io.Writer

	// NodePath and NPMPath override tool resolution from PATH.
	NodePath string
	NPMPath  string

	// Signals replaces OS signal delivery to the signal bridge.
	Signals <-chan os.Signal
}

// Orchestrator coordinates all components for one devstack run.
type Orchestrator struct {
	config  *config.Config
	logger  *slog.Logger
	opts    Options
	out     io.Writer
	console *console.Console

	npm       *process.NPMRunner
	installer *install.Installer
	session   *stats.Session
	rates     *timeseries.Set
	registry  *prometheus.Registry
	metrics   *metrics.Collector
	events    *tui.EventLog

	store      *runstate.Store
	supervisor *supervisor.Supervisor

	shutdownMu    sync.Mutex
	shutdownStart time.Time
}

// New creates a new Orchestrator with the given configuration.
func New(cfg *config.Config, logger *slog.Logger, opts Options) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	npm := process.NewNPMRunner(&process.NPMConfig{BinaryPath: opts.NPMPath})
	con := console.New(out, console.Options{
		NoColor: cfg.NoColor,
		Title:   "devstack - Starting Services",
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollectorWithRegistry(metrics.CollectorConfig{
		Version: opts.Version,
		Root:    cfg.RootDir(),
		Roles:   []string{config.BackendRole, config.DashboardRole},
	}, registry)

	o := &Orchestrator{
		config:    cfg,
		logger:    logger,
		opts:      opts,
		out:       out,
		console:   con,
		npm:       npm,
		installer: install.New(install.Config{NPM: npm, Out: con, Logger: logger}),
		session:   stats.NewSession(),
		rates:     timeseries.NewSet(config.BackendRole, config.DashboardRole),
		registry:  registry,
		metrics:   collector,
	}
	if cfg.TUIEnabled {
		o.events = tui.NewEventLog()
	}
	return o
}

// Run executes the whole lifecycle and returns the process exit code: 0
// when the operator stopped the services, 1 for any failure.
func (o *Orchestrator) Run(ctx context.Context) int {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.supervisor = supervisor.New(o.supervisorConfig())

	// The bridge is up before any work starts so an interrupt at any point
	// stops cleanly with exit code 0.
	bridge := signals.New(signals.Config{
		Target: o.supervisor,
		Exit: func(code int) {
			o.logger.Debug("signal_exit", "code", code)
			cancel()
		},
		Source: o.opts.Signals,
		Logger: o.logger,
	})
	bridge.Start()
	defer bridge.Stop()

	interrupted := func() bool {
		return bridge.Fired() && ctx.Err() != nil
	}

	if !o.preflight(ctx) {
		if interrupted() {
			return 0
		}
		return 1
	}

	if err := o.installDependencies(ctx); err != nil {
		if interrupted() {
			return 0
		}
		o.logger.Error("install_failed", "error", err)
		return 1
	}

	store, err := runstate.Open(o.config.StateDir())
	if err != nil {
		o.console.Errorf("Cannot create state directory: %v", err)
		return 1
	}
	lock, err := o.acquireLock(ctx)
	if err != nil {
		return 1
	}
	defer lock.Release(o.logger)

	o.store = store
	if err := store.Begin(o.config.RootDir()); err != nil {
		o.logger.Warn("state_write_failed", "error", err)
	}
	defer func() {
		if err := store.Clear(); err != nil {
			o.logger.Warn("state_clear_failed", "error", err)
		}
	}()

	if o.config.MetricsAddr != "" {
		server := metrics.NewServer(metrics.ServerConfig{
			Addr:     o.config.MetricsAddr,
			Gatherer: o.registry,
			Health:   o.health,
			Logger:   o.logger,
		})
		if err := server.Start(); err != nil {
			o.console.Errorf("Failed to start metrics server: %v", err)
			return 1
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer shutdownCancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				o.logger.Warn("metrics_server_shutdown_error", "error", err)
			}
		}()
	}

	if bridge.Fired() {
		return 0
	}

	var tuiDone chan struct{}
	if o.config.TUIEnabled {
		tuiDone = o.startTUI(ctx)
	} else {
		o.console.Banner()
	}

	if err := o.supervisor.Start(ctx); err != nil {
		if !errors.Is(err, supervisor.ErrShuttingDown) && !errors.Is(err, supervisor.ErrAlreadyStarted) {
			o.logger.Error("start_failed", "error", err)
		}
	} else if !o.config.TUIEnabled {
		o.console.AccessSummary(o.endpoints())
	}

	code := o.supervisor.Run(ctx)

	if tuiDone != nil {
		<-tuiDone
		o.events.Replay(o.console)
	}
	o.printExitSummary(code)

	return code
}

// supervisorConfig builds the supervisor configuration. In dashboard mode
// forwarded lines are only kept in the tail buffers the dashboard reads.
func (o *Orchestrator) supervisorConfig() supervisor.Config {
	cfg := supervisor.Config{
		Services:     o.config.Services(o.npm, o.logger),
		PollInterval: o.config.PollInterval,
		StopTimeout:  o.config.StopTimeout,
		Observers:    o.observers,
		TailLines:    tailLines,
		Logger:       o.logger,
		Callbacks: supervisor.Callbacks{
			OnStateChange: o.onStateChange,
			OnStart:       o.onStart,
			OnExit:        o.onExit,
			OnStreamError: o.onStreamError,
		},
	}
	if o.config.TUIEnabled {
		cfg.Notifier = o.events
	} else {
		cfg.Sink = o.console
		cfg.Notifier = o.console
	}
	return cfg
}

// preflight verifies tooling and service directories and prints the
// results. It returns false when a check failed.
func (o *Orchestrator) preflight(ctx context.Context) bool {
	result := preflight.RunAll(ctx, preflight.Options{
		NodePath: o.opts.NodePath,
		NPMPath:  o.npm.Config().BinaryPath,
		Services: []preflight.Service{
			{Role: config.BackendRole, Dir: o.config.BackendDir()},
			{Role: config.DashboardRole, Dir: o.config.DashboardDir()},
		},
		StatePath: filepath.Join(o.config.StateDir(), runstate.StateFile),
	})
	preflight.PrintResults(o.console, result)

	if err := result.Err(); err != nil {
		o.logger.Error("preflight_failed", "error", err)
		return false
	}
	return true
}

// installDependencies runs npm install for each service without
// node_modules, backend first.
func (o *Orchestrator) installDependencies(ctx context.Context) error {
	if o.config.SkipInstall {
		o.logger.Debug("install_skipped")
		return nil
	}
	dirs := []struct{ role, dir string }{
		{config.BackendRole, o.config.BackendDir()},
		{config.DashboardRole, o.config.DashboardDir()},
	}
	for _, d := range dirs {
		if err := o.installer.EnsureInstalled(ctx, d.dir, d.role); err != nil {
			return err
		}
	}
	return nil
}

// acquireLock takes the project's single-instance lock.
func (o *Orchestrator) acquireLock(ctx context.Context) (*runstate.Lock, error) {
	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	lock, err := runstate.AcquireLock(lockCtx, filepath.Join(o.config.StateDir(), runstate.LockFile))
	if err != nil {
		if errors.Is(err, runstate.ErrLocked) {
			o.console.Errorf("Another devstack is already running in %s", o.config.RootDir())
		} else {
			o.console.Errorf("Cannot lock %s: %v", o.config.StateDir(), err)
		}
		o.logger.Error("lock_failed", "error", err)
		return nil, err
	}
	return lock, nil
}

// startTUI runs the dashboard until the supervisor stops or the operator
// quits. The returned channel is closed when the dashboard has exited.
func (o *Orchestrator) startTUI(ctx context.Context) chan struct{} {
	links := make([]tui.Link, 0, 3)
	for _, ep := range o.endpoints() {
		links = append(links, tui.Link{Label: ep.Label, URL: ep.URL})
	}
	model := tui.New(tui.Config{
		Title:       "devstack",
		Roles:       []string{config.BackendRole, config.DashboardRole},
		Links:       links,
		MetricsAddr: o.config.MetricsAddr,
		Source:      o.supervisor,
		Events:      o.events,
		Rate:        o.rates.Rate,
		Stop:        o.supervisor.Stop,
	})
	go o.rates.Run(ctx, rateSampleInterval)

	done := make(chan struct{})
	program := tea.NewProgram(model,
		tea.WithAltScreen(),
		tea.WithContext(ctx),
		tea.WithOutput(o.out),
	)
	go func() {
		defer close(done)
		if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			o.logger.Error("tui_failed", "error", err)
			// Without a dashboard there is no way to quit but a signal.
			o.supervisor.Stop()
		}
	}()
	go func() {
		select {
		case <-o.supervisor.Done():
			tui.SendQuit(program)
		case <-done:
		}
	}()
	return done
}

// endpoints lists where the services can be reached.
func (o *Orchestrator) endpoints() []console.Endpoint {
	return []console.Endpoint{
		{Label: "Access the dashboard at", URL: config.DashboardURL()},
		{Label: "API endpoint", URL: config.BackendURL()},
		{Label: "Health check", URL: config.HealthURL()},
	}
}

// health backs the metrics server's health endpoints.
func (o *Orchestrator) health() (string, bool) {
	state := o.supervisor.State()
	return state.String(), state == supervisor.StateRunning
}

// observers returns the per-line hooks for a service.
func (o *Orchestrator) observers(role string) []forwarder.Observer {
	return []forwarder.Observer{
		o.session.Child(role).Observe,
		o.metrics.LineObserver(role),
		o.rates.Observer(role),
	}
}

// Callback handlers

func (o *Orchestrator) onStateChange(oldState, newState supervisor.State) {
	o.metrics.SetState(newState.String())

	o.shutdownMu.Lock()
	defer o.shutdownMu.Unlock()
	switch newState {
	case supervisor.StateShuttingDown:
		o.shutdownStart = time.Now()
	case supervisor.StateStopped:
		if !o.shutdownStart.IsZero() {
			o.metrics.ShutdownCompleted(time.Since(o.shutdownStart))
		}
	}
}

func (o *Orchestrator) onStart(role string, pid int) {
	o.session.Child(role)
	o.metrics.ChildStarted(role)
	if o.store != nil {
		if err := o.store.AddChild(role, pid); err != nil {
			o.logger.Warn("state_write_failed", "role", role, "error", err)
		}
	}
}

func (o *Orchestrator) onExit(role string, status process.ExitStatus, expected, killed bool) {
	o.session.Child(role).RecordExit(stats.ExitRecord{
		Code:     status.Code,
		Signaled: status.Signaled,
		Signal:   status.Signal,
		Uptime:   status.Uptime,
		Killed:   killed,
		Expected: expected,
	})
	o.metrics.ChildExited(role, status.Uptime, expected, killed)
	if o.store != nil {
		if err := o.store.RemoveChild(role); err != nil {
			o.logger.Warn("state_write_failed", "role", role, "error", err)
		}
	}
}

func (o *Orchestrator) onStreamError(role string, err error) {
	o.metrics.StreamError(role)
}

// printExitSummary prints per-service statistics for the run.
func (o *Orchestrator) printExitSummary(code int) {
	summary := stats.FormatExitSummary(o.session.Snapshots(), stats.SummaryConfig{
		Duration:    o.session.Duration(),
		ExitCode:    code,
		Reason:      o.supervisor.Reason().String(),
		MetricsAddr: o.config.MetricsAddr,
	})
	_, _ = io.WriteString(o.console, summary)
}

// Supervisor returns the supervisor for external access. It is nil until
// Run is called.
func (o *Orchestrator) Supervisor() *supervisor.Supervisor {
	return o.supervisor
}

// Metrics returns the metrics collector for external access.
func (o *Orchestrator) Metrics() *metrics.Collector {
	return o.metrics
}

// Rates returns the per-service output rates.
func (o *Orchestrator) Rates() *timeseries.Set {
	return o.rates
}

// Registry returns the registry served on /metrics.
func (o *Orchestrator) Registry() *prometheus.Registry {
	return o.registry
}
