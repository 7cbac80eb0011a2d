// Package signals bridges OS termination signals to supervisor shutdown.
package signals

import (
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/randomizedcoder/go-devstack/internal/supervisor"
)

// Shutdowner is the part of the supervisor the bridge drives.
type Shutdowner interface {
	Shutdown(reason supervisor.Reason)
}

// Config configures a Bridge.
type Config struct {
	// Target receives Shutdown(ReasonSignal) on the first signal.
	Target Shutdowner

	// Exit is called with code 0 once Shutdown has returned. Nil means
	// os.Exit.
	Exit func(code int)

	// Signals lists the signals to handle. Defaults to SIGINT and SIGTERM.
	Signals []os.Signal

	// Source replaces OS signal delivery. When set, the bridge does not
	// call signal.Notify.
	Source <-chan os.Signal

	Logger *slog.Logger
}

// Bridge turns the first termination signal into a synchronous supervisor
// shutdown followed by exit code 0. Later signals are absorbed.
type Bridge struct {
	target  Shutdowner
	exit    func(code int)
	signals []os.Signal
	logger  *slog.Logger

	source <-chan os.Signal
	owned  chan os.Signal // set when the bridge registered with signal.Notify

	fired    atomic.Bool
	absorbed atomic.Int64

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
	handled   chan struct{}
}

// New creates a bridge. Call Start to begin handling signals.
func New(cfg Config) *Bridge {
	exit := cfg.Exit
	if exit == nil {
		exit = os.Exit
	}
	sigs := cfg.Signals
	if len(sigs) == 0 {
		sigs = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		target:  cfg.Target,
		exit:    exit,
		signals: sigs,
		logger:  logger,
		source:  cfg.Source,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		handled: make(chan struct{}),
	}
}

// Start registers the signal handlers and starts the handling goroutine.
// Registration is complete when Start returns. Only the first call has an
// effect.
func (b *Bridge) Start() {
	b.startOnce.Do(func() {
		if b.source == nil {
			// Buffered so a signal arriving before the goroutine is
			// scheduled is not dropped by signal.Notify.
			b.owned = make(chan os.Signal, 1)
			signal.Notify(b.owned, b.signals...)
			b.source = b.owned
		}
		go b.loop()
	})
}

func (b *Bridge) loop() {
	defer close(b.done)
	for {
		select {
		case sig := <-b.source:
			b.handle(sig)
		case <-b.stop:
			return
		}
	}
}

func (b *Bridge) handle(sig os.Signal) {
	if !b.fired.CompareAndSwap(false, true) {
		b.absorbed.Add(1)
		b.logger.Debug("signal_absorbed", "signal", sig.String())
		return
	}

	b.logger.Info("received_signal", "signal", sig.String())
	if b.target != nil {
		b.target.Shutdown(supervisor.ReasonSignal)
	}
	close(b.handled)
	b.exit(0)
}

// Stop unregisters the handlers and waits for the handling goroutine.
// A shutdown already in progress on that goroutine completes first.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		if b.owned != nil {
			signal.Stop(b.owned)
		}
		close(b.stop)
	})
	b.startOnce.Do(func() { close(b.done) })
	<-b.done
}

// Handled is closed once a signal has triggered shutdown and Shutdown has
// returned.
func (b *Bridge) Handled() <-chan struct{} {
	return b.handled
}

// Fired reports whether a signal has been received.
func (b *Bridge) Fired() bool {
	return b.fired.Load()
}

// Absorbed returns how many signals arrived after the first one.
func (b *Bridge) Absorbed() int64 {
	return b.absorbed.Load()
}
