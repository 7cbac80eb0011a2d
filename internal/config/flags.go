package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"
)

// ParseFlags parses the process command line and returns a Config.
func ParseFlags() (*Config, error) {
	return ParseArgs(os.Args[1:], os.Stderr)
}

// ParseArgs parses args into a Config. Usage and parse errors are written
// to output.
func ParseArgs(args []string, output io.Writer) (*Config, error) {
	cfg := DefaultConfig()
	fs := flag.NewFlagSet("devstack", flag.ContinueOnError)
	fs.SetOutput(output)

	// Custom usage message
	fs.Usage = func() {
		fmt.Fprintf(output, `devstack - run the backend and dashboard dev servers together

Usage:
  devstack [flags]

Project:
`)
		// Print flags by category
		printFlagCategory(fs, output, []string{"root", "skip-install"})

		fmt.Fprintf(output, "\nSupervision:\n")
		printFlagCategory(fs, output, []string{"poll", "stop-timeout"})

		fmt.Fprintf(output, "\nReadiness:\n")
		printFlagCategory(fs, output, []string{"ready", "settle", "ready-url", "ready-timeout"})

		fmt.Fprintf(output, "\nObservability:\n")
		printFlagCategory(fs, output, []string{"metrics", "log-format", "log-level", "v"})

		fmt.Fprintf(output, "\nDisplay:\n")
		printFlagCategory(fs, output, []string{"tui", "no-color", "version"})

		fmt.Fprintf(output, `
Examples:
  # Start both services from the project root
  devstack

  # Wait for the backend health endpoint instead of a fixed delay
  devstack -ready http

  # Live dashboard with Prometheus metrics
  devstack -tui -metrics localhost:17092

`)
	}

	// Project
	fs.StringVar(&cfg.Root, "root", cfg.Root, "Project root containing backend/ and dashboard/")
	fs.BoolVar(&cfg.SkipInstall, "skip-install", cfg.SkipInstall, "Do not run npm install for missing node_modules")

	// Supervision
	fs.DurationVar(&cfg.PollInterval, "poll", cfg.PollInterval, "Child liveness check interval")
	fs.DurationVar(&cfg.StopTimeout, "stop-timeout", cfg.StopTimeout, "Grace period before a stopping child is killed")

	// Readiness
	fs.StringVar(&cfg.ReadyMode, "ready", cfg.ReadyMode, `Backend readiness before the dashboard starts: "delay", "http", "metrics" or "none"`)
	fs.DurationVar(&cfg.SettleDelay, "settle", cfg.SettleDelay, "Delay used by -ready delay")
	fs.StringVar(&cfg.ReadyURL, "ready-url", cfg.ReadyURL, "URL polled by -ready http|metrics (default: backend /health or /metrics)")
	fs.DurationVar(&cfg.ReadyTimeout, "ready-timeout", cfg.ReadyTimeout, "Give up waiting for the backend after this long")

	// Observability
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Prometheus metrics address (empty = disabled)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "text" or "json"`)
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, `Log level: "debug", "info", "warn" or "error"`)
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Verbose logging")

	// Display
	fs.BoolVar(&cfg.TUIEnabled, "tui", cfg.TUIEnabled, "Show a live terminal dashboard instead of plain output")
	fs.BoolVar(&cfg.NoColor, "no-color", cfg.NoColor, "Disable coloured output")
	fs.BoolVar(&cfg.ShowVersion, "version", cfg.ShowVersion, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.Args = fs.Args()

	return cfg, nil
}

// printFlagCategory prints flags matching the given names (helper for usage).
func printFlagCategory(fs *flag.FlagSet, w io.Writer, names []string) {
	fs.VisitAll(func(f *flag.Flag) {
		for _, name := range names {
			if f.Name == name {
				fmt.Fprintf(w, "  -%s %s\n    \t%s", f.Name, flagType(f), f.Usage)
				if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "0s" {
					fmt.Fprintf(w, " (default %s)", f.DefValue)
				}
				fmt.Fprintln(w)
				return
			}
		}
	})
}

// flagType returns a type hint for the flag value.
func flagType(f *flag.Flag) string {
	getter, ok := f.Value.(flag.Getter)
	if !ok {
		return "value"
	}
	switch getter.Get().(type) {
	case bool:
		return ""
	case time.Duration:
		return "duration"
	case int, int64, uint, uint64:
		return "int"
	default:
		return "string"
	}
}
