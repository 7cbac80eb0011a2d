// Package metrics provides Prometheus metrics for devstack.
//
// All metrics are per Collector, labelled by service role where that
// applies. The set is small and bounded: one series per role and state.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomizedcoder/go-devstack/internal/forwarder"
)

// States lists the supervisor states exported by devstack_supervisor_state.
var States = []string{"idle", "starting", "running", "shutting_down", "stopped"}

// Exit categories for devstack_child_exits_total.
const (
	ExitStopped    = "stopped"
	ExitUnexpected = "unexpected"
)

// Collector manages all Prometheus metrics for one supervisor run.
type Collector struct {
	info        *prometheus.GaugeVec
	state       *prometheus.GaugeVec
	childUp     *prometheus.GaugeVec
	starts      *prometheus.CounterVec
	lines       *prometheus.CounterVec
	bytes       *prometheus.CounterVec
	readErrors  *prometheus.CounterVec
	exits       *prometheus.CounterVec
	kills       *prometheus.CounterVec
	uptime      prometheus.Histogram
	shutdownDur prometheus.Gauge

	mu           sync.Mutex
	currentState string
}

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	Version string
	Root    string
	Roles   []string // pre-creates per-role series at zero
}

// NewCollector creates a collector registered with the default registry.
func NewCollector(cfg CollectorConfig) *Collector {
	return NewCollectorWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector with a custom registry.
// Useful for testing.
func NewCollectorWithRegistry(cfg CollectorConfig, registry prometheus.Registerer) *Collector {
	c := &Collector{
		info: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "devstack_info",
				Help: "Information about the supervisor (value always 1)",
			},
			[]string{"version", "root"},
		),
		state: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "devstack_supervisor_state",
				Help: "Current supervisor state (1 for the active state)",
			},
			[]string{"state"},
		),
		childUp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "devstack_child_up",
				Help: "Whether the service process is running",
			},
			[]string{"role"},
		),
		starts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devstack_child_starts_total",
				Help: "Service processes spawned",
			},
			[]string{"role"},
		),
		lines: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devstack_lines_forwarded_total",
				Help: "Output lines forwarded to the console",
			},
			[]string{"role"},
		),
		bytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devstack_bytes_forwarded_total",
				Help: "Output bytes forwarded to the console, including newlines",
			},
			[]string{"role"},
		),
		readErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devstack_stream_read_errors_total",
				Help: "Output streams that ended with a read error",
			},
			[]string{"role"},
		),
		exits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devstack_child_exits_total",
				Help: "Service process exits by category (stopped, unexpected)",
			},
			[]string{"role", "category"},
		),
		kills: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devstack_child_kills_total",
				Help: "Service processes that needed SIGKILL after the stop timeout",
			},
			[]string{"role"},
		),
		uptime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "devstack_child_uptime_seconds",
				Help:    "Service process lifetime at exit",
				Buckets: []float64{1, 5, 30, 60, 300, 900, 3600, 14400},
			},
		),
		shutdownDur: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "devstack_shutdown_duration_seconds",
				Help: "Time the last shutdown took from trigger to all stopped",
			},
		),
	}

	registry.MustRegister(
		c.info,
		c.state,
		c.childUp,
		c.starts,
		c.lines,
		c.bytes,
		c.readErrors,
		c.exits,
		c.kills,
		c.uptime,
		c.shutdownDur,
	)

	c.info.WithLabelValues(cfg.Version, cfg.Root).Set(1)
	for _, role := range cfg.Roles {
		c.childUp.WithLabelValues(role).Set(0)
		c.lines.WithLabelValues(role)
		c.bytes.WithLabelValues(role)
	}
	c.SetState("idle")

	return c
}

// =============================================================================
// Event Recording Methods
// =============================================================================

// SetState marks state as the active supervisor state.
func (c *Collector) SetState(state string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range States {
		v := 0.0
		if s == state {
			v = 1
		}
		c.state.WithLabelValues(s).Set(v)
	}
	c.currentState = state
}

// State returns the last state passed to SetState.
func (c *Collector) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentState
}

// ChildStarted records a spawned service process.
func (c *Collector) ChildStarted(role string) {
	c.starts.WithLabelValues(role).Inc()
	c.childUp.WithLabelValues(role).Set(1)
}

// LineObserver returns a forwarder observer counting role's output.
func (c *Collector) LineObserver(role string) forwarder.Observer {
	lines := c.lines.WithLabelValues(role)
	bytes := c.bytes.WithLabelValues(role)
	return func(line string) {
		lines.Inc()
		bytes.Add(float64(len(line) + 1))
	}
}

// StreamError records an output stream that failed.
func (c *Collector) StreamError(role string) {
	c.readErrors.WithLabelValues(role).Inc()
}

// ChildExited records a process exit. expected is true when the
// supervisor stopped it; killed when it needed SIGKILL.
func (c *Collector) ChildExited(role string, uptime time.Duration, expected, killed bool) {
	category := ExitUnexpected
	if expected {
		category = ExitStopped
	}
	c.exits.WithLabelValues(role, category).Inc()
	c.childUp.WithLabelValues(role).Set(0)
	c.uptime.Observe(uptime.Seconds())
	if killed {
		c.kills.WithLabelValues(role).Inc()
	}
}

// ShutdownCompleted records how long the shutdown took.
func (c *Collector) ShutdownCompleted(d time.Duration) {
	c.shutdownDur.Set(d.Seconds())
}
