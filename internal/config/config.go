// Package config provides configuration management for go-devstack.
package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/randomizedcoder/go-devstack/internal/process"
	"github.com/randomizedcoder/go-devstack/internal/readiness"
	"github.com/randomizedcoder/go-devstack/internal/supervisor"
)

// Service roles, directories and ports. Each role's directory is the role
// name under the project root.
const (
	BackendRole   = "backend"
	DashboardRole = "dashboard"

	BackendPort   = 4000
	DashboardPort = 3000

	// StateDirName holds the lock and state files under the project root.
	StateDirName = ".devstack"
)

// Readiness modes accepted by -ready.
const (
	ReadyDelay   = "delay"
	ReadyHTTP    = "http"
	ReadyMetrics = "metrics"
	ReadyNone    = "none"
)

// Config holds all configuration options for the supervisor.
type Config struct {
	// Project layout
	Root string `json:"root"`

	// Supervision
	PollInterval time.Duration `json:"poll_interval"`
	StopTimeout  time.Duration `json:"stop_timeout"`

	// Readiness of the backend before the dashboard is started
	ReadyMode    string        `json:"ready_mode"` // delay, http, metrics, none
	SettleDelay  time.Duration `json:"settle_delay"`
	ReadyURL     string        `json:"ready_url"` // empty = derived from the backend port
	ReadyTimeout time.Duration `json:"ready_timeout"`

	// Dependencies
	SkipInstall bool `json:"skip_install"`

	// Observability
	MetricsAddr string `json:"metrics_addr"` // empty = disabled
	LogFormat   string `json:"log_format"`   // text, json
	LogLevel    string `json:"log_level"`
	Verbose     bool   `json:"verbose"`

	// Display
	TUIEnabled bool `json:"tui_enabled"`
	NoColor    bool `json:"no_color"`

	// ShowVersion prints the version and exits.
	ShowVersion bool `json:"-"`

	// Args holds unexpected positional arguments, rejected by Validate.
	Args []string `json:"-"`
}

// DefaultConfig returns a Config matching the plain launcher behaviour:
// backend first, a fixed settle delay, then the dashboard.
func DefaultConfig() *Config {
	return &Config{
		Root: ".",

		PollInterval: time.Second,
		StopTimeout:  5 * time.Second,

		ReadyMode:    ReadyDelay,
		SettleDelay:  readiness.DefaultSettleDelay,
		ReadyTimeout: readiness.DefaultTimeout,

		LogFormat: "text",
		LogLevel:  "info",
	}
}

// RootDir returns the absolute project root.
func (c *Config) RootDir() string {
	abs, err := filepath.Abs(c.Root)
	if err != nil {
		return filepath.Clean(c.Root)
	}
	return abs
}

// BackendDir returns the backend service directory.
func (c *Config) BackendDir() string {
	return filepath.Join(c.RootDir(), BackendRole)
}

// DashboardDir returns the dashboard service directory.
func (c *Config) DashboardDir() string {
	return filepath.Join(c.RootDir(), DashboardRole)
}

// StateDir returns the directory holding the lock and state files.
func (c *Config) StateDir() string {
	return filepath.Join(c.RootDir(), StateDirName)
}

// BackendURL returns the backend's base URL.
func BackendURL() string {
	return fmt.Sprintf("http://localhost:%d", BackendPort)
}

// DashboardURL returns the dashboard's base URL.
func DashboardURL() string {
	return fmt.Sprintf("http://localhost:%d", DashboardPort)
}

// HealthURL returns the backend health endpoint.
func HealthURL() string {
	return BackendURL() + "/health"
}

// readyURL returns the URL polled by the http and metrics probes.
func (c *Config) readyURL() string {
	if c.ReadyURL != "" {
		return c.ReadyURL
	}
	if c.ReadyMode == ReadyMetrics {
		return BackendURL() + "/metrics"
	}
	return HealthURL()
}

// ReadyProbe returns the probe gating the dashboard launch.
func (c *Config) ReadyProbe(logger *slog.Logger) readiness.Probe {
	httpCfg := readiness.HTTPConfig{
		URL:     c.readyURL(),
		Timeout: c.ReadyTimeout,
		Logger:  logger,
	}
	switch c.ReadyMode {
	case ReadyHTTP:
		return readiness.HTTP(httpCfg)
	case ReadyMetrics:
		return readiness.Metrics(readiness.MetricsConfig{HTTPConfig: httpCfg})
	case ReadyNone:
		return readiness.None()
	default:
		return readiness.Delay(c.SettleDelay)
	}
}

// Services returns the services in start order: the backend, gated by the
// readiness probe, then the dashboard.
func (c *Config) Services(npm *process.NPMRunner, logger *slog.Logger) []supervisor.Service {
	return []supervisor.Service{
		{
			Spec:  npm.BuildSpec(BackendRole, c.BackendDir(), BackendPort),
			Ready: c.ReadyProbe(logger),
		},
		{
			Spec: npm.BuildSpec(DashboardRole, c.DashboardDir(), DashboardPort),
		},
	}
}
