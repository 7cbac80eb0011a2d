package config

import (
	"bytes"
	"errors"
	"flag"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/randomizedcoder/go-devstack/internal/process"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// Defaults reproduce the plain launcher
	if cfg.Root != "." {
		t.Errorf("Root = %q, want %q", cfg.Root, ".")
	}
	if cfg.PollInterval != time.Second {
		t.Errorf("PollInterval = %v, want 1s", cfg.PollInterval)
	}
	if cfg.StopTimeout != 5*time.Second {
		t.Errorf("StopTimeout = %v, want 5s", cfg.StopTimeout)
	}
	if cfg.ReadyMode != ReadyDelay {
		t.Errorf("ReadyMode = %q, want %q", cfg.ReadyMode, ReadyDelay)
	}
	if cfg.SettleDelay != 2*time.Second {
		t.Errorf("SettleDelay = %v, want 2s", cfg.SettleDelay)
	}
	if cfg.MetricsAddr != "" {
		t.Errorf("MetricsAddr = %q, want disabled", cfg.MetricsAddr)
	}
	if cfg.TUIEnabled {
		t.Error("TUIEnabled should be false by default")
	}
	if cfg.LogFormat != "text" {
		t.Errorf("LogFormat = %q, want text", cfg.LogFormat)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() is invalid: %v", err)
	}
}

func TestParseArgs(t *testing.T) {
	cfg, err := ParseArgs([]string{
		"-root", "/srv/app",
		"-poll", "250ms",
		"-stop-timeout", "2s",
		"-ready", "http",
		"-ready-url", "http://localhost:4000/ready",
		"-skip-install",
		"-metrics", "localhost:17092",
		"-log-format", "json",
		"-v",
		"-tui",
		"-no-color",
	}, io.Discard)
	if err != nil {
		t.Fatalf("ParseArgs() error = %v", err)
	}

	if cfg.Root != "/srv/app" {
		t.Errorf("Root = %q", cfg.Root)
	}
	if cfg.PollInterval != 250*time.Millisecond {
		t.Errorf("PollInterval = %v", cfg.PollInterval)
	}
	if cfg.StopTimeout != 2*time.Second {
		t.Errorf("StopTimeout = %v", cfg.StopTimeout)
	}
	if cfg.ReadyMode != ReadyHTTP || cfg.ReadyURL != "http://localhost:4000/ready" {
		t.Errorf("ReadyMode = %q, ReadyURL = %q", cfg.ReadyMode, cfg.ReadyURL)
	}
	if !cfg.SkipInstall || !cfg.Verbose || !cfg.TUIEnabled || !cfg.NoColor {
		t.Errorf("bool flags not set: %+v", cfg)
	}
	if cfg.MetricsAddr != "localhost:17092" || cfg.LogFormat != "json" {
		t.Errorf("MetricsAddr = %q, LogFormat = %q", cfg.MetricsAddr, cfg.LogFormat)
	}
	if len(cfg.Args) != 0 {
		t.Errorf("Args = %v, want none", cfg.Args)
	}
}

func TestParseArgs_Positional(t *testing.T) {
	cfg, err := ParseArgs([]string{"extra"}, io.Discard)
	if err != nil {
		t.Fatalf("ParseArgs() error = %v", err)
	}
	if len(cfg.Args) != 1 || cfg.Args[0] != "extra" {
		t.Errorf("Args = %v", cfg.Args)
	}
	if err := Validate(cfg); err == nil {
		t.Error("Validate should reject positional arguments")
	}
}

func TestParseArgs_Errors(t *testing.T) {
	var out bytes.Buffer
	if _, err := ParseArgs([]string{"-unknown"}, &out); err == nil {
		t.Error("expected error for unknown flag")
	}

	out.Reset()
	_, err := ParseArgs([]string{"-h"}, &out)
	if !errors.Is(err, flag.ErrHelp) {
		t.Errorf("err = %v, want flag.ErrHelp", err)
	}
	usage := out.String()
	for _, want := range []string{
		"Usage:",
		"Project:",
		"Supervision:",
		"Readiness:",
		"Observability:",
		"Display:",
		"-stop-timeout duration",
		"(default 5s)",
		"-ready string",
		"-tui \n",
	} {
		if !strings.Contains(usage, want) {
			t.Errorf("usage missing %q:\n%s", want, usage)
		}
	}
}

func TestFlagType(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Bool("b", false, "")
	fs.Int("i", 3, "")
	fs.Duration("d", time.Second, "")
	fs.String("s", "delay", "")

	testCases := []struct {
		name     string
		expected string
	}{
		{"b", ""},
		{"i", "int"},
		{"d", "duration"},
		{"s", "string"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := flagType(fs.Lookup(tc.name)); got != tc.expected {
				t.Errorf("flagType(%s) = %q, want %q", tc.name, got, tc.expected)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"empty root", func(c *Config) { c.Root = "" }, "root"},
		{"zero poll", func(c *Config) { c.PollInterval = 0 }, "poll_interval"},
		{"negative stop timeout", func(c *Config) { c.StopTimeout = -time.Second }, "stop_timeout"},
		{"unknown ready mode", func(c *Config) { c.ReadyMode = "tcp" }, "ready_mode"},
		{"negative settle", func(c *Config) { c.SettleDelay = -1 }, "settle_delay"},
		{"http without timeout", func(c *Config) { c.ReadyMode = ReadyHTTP; c.ReadyTimeout = 0 }, "ready_timeout"},
		{"ready url scheme", func(c *Config) { c.ReadyURL = "ftp://localhost/health" }, "ready_url"},
		{"ready url host", func(c *Config) { c.ReadyURL = "http:///health" }, "ready_url"},
		{"metrics addr", func(c *Config) { c.MetricsAddr = "17092" }, "metrics_addr"},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.modify(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.field+":") {
				t.Errorf("error %q does not mention %s", err, tc.field)
			}
		})
	}
}

func TestValidate_ReadyModes(t *testing.T) {
	for _, mode := range []string{ReadyDelay, ReadyHTTP, ReadyMetrics, ReadyNone} {
		cfg := DefaultConfig()
		cfg.ReadyMode = mode
		cfg.MetricsAddr = "0.0.0.0:17092"
		cfg.LogLevel = "WARN"
		if err := Validate(cfg); err != nil {
			t.Errorf("mode %q: unexpected error %v", mode, err)
		}
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PollInterval = 0
	cfg.ReadyMode = "bogus"
	cfg.LogFormat = "xml"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}

	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error %T does not contain a ValidationError", err)
	}
	for _, field := range []string{"poll_interval", "ready_mode", "log_format"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("combined error missing %s: %v", field, err)
		}
	}
}

func TestConfig_Dirs(t *testing.T) {
	root := t.TempDir()
	cfg := DefaultConfig()
	cfg.Root = root

	if got := cfg.BackendDir(); got != filepath.Join(root, "backend") {
		t.Errorf("BackendDir() = %q", got)
	}
	if got := cfg.DashboardDir(); got != filepath.Join(root, "dashboard") {
		t.Errorf("DashboardDir() = %q", got)
	}
	if got := cfg.StateDir(); got != filepath.Join(root, ".devstack") {
		t.Errorf("StateDir() = %q", got)
	}

	cfg.Root = "."
	if !filepath.IsAbs(cfg.RootDir()) {
		t.Errorf("RootDir() = %q, want absolute", cfg.RootDir())
	}
}

func TestURLs(t *testing.T) {
	if BackendURL() != "http://localhost:4000" {
		t.Errorf("BackendURL() = %q", BackendURL())
	}
	if DashboardURL() != "http://localhost:3000" {
		t.Errorf("DashboardURL() = %q", DashboardURL())
	}
	if HealthURL() != "http://localhost:4000/health" {
		t.Errorf("HealthURL() = %q", HealthURL())
	}
}

func TestReadyProbe(t *testing.T) {
	testCases := []struct {
		mode     string
		readyURL string
		want     string
	}{
		{ReadyDelay, "", "delay 2s"},
		{ReadyNone, "", "none"},
		{ReadyHTTP, "", "http http://localhost:4000/health"},
		{ReadyMetrics, "", "metrics http://localhost:4000/metrics"},
		{ReadyHTTP, "http://127.0.0.1:9000/up", "http http://127.0.0.1:9000/up"},
	}

	for _, tc := range testCases {
		t.Run(tc.want, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.ReadyMode = tc.mode
			cfg.ReadyURL = tc.readyURL

			if got := cfg.ReadyProbe(nil).Name(); got != tc.want {
				t.Errorf("ReadyProbe().Name() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestServices(t *testing.T) {
	root := t.TempDir()
	cfg := DefaultConfig()
	cfg.Root = root

	npm := process.NewNPMRunner(&process.NPMConfig{BinaryPath: "npm"})
	services := cfg.Services(npm, nil)

	if len(services) != 2 {
		t.Fatalf("len(Services()) = %d, want 2", len(services))
	}

	backend, dashboard := services[0], services[1]
	if backend.Spec.Role != "backend" || backend.Spec.Port != 4000 {
		t.Errorf("backend spec = %+v", backend.Spec)
	}
	if backend.Spec.Dir != filepath.Join(root, "backend") {
		t.Errorf("backend dir = %q", backend.Spec.Dir)
	}
	if strings.Join(backend.Spec.Command, " ") != "npm run dev" {
		t.Errorf("backend command = %v", backend.Spec.Command)
	}
	if backend.Ready == nil || backend.Ready.Name() != "delay 2s" {
		t.Errorf("backend readiness = %v", backend.Ready)
	}

	if dashboard.Spec.Role != "dashboard" || dashboard.Spec.Port != 3000 {
		t.Errorf("dashboard spec = %+v", dashboard.Spec)
	}
	if dashboard.Ready != nil {
		t.Error("dashboard should not gate anything")
	}
}

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{
		Field:   "test_field",
		Message: "test message",
	}

	errStr := err.Error()
	if errStr != "test_field: test message" {
		t.Errorf("Error string = %q, want %q", errStr, "test_field: test message")
	}
}
