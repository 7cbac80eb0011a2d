// Package main provides the devstack CLI entry point.
//
// devstack starts a project's backend and dashboard dev servers together,
// streams their output to one console, and stops both when either dies or
// the operator presses Ctrl+C.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/randomizedcoder/go-devstack/internal/config"
	"github.com/randomizedcoder/go-devstack/internal/logging"
	"github.com/randomizedcoder/go-devstack/internal/orchestrator"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/devstack
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// Parse command-line flags
	cfg, err := config.ParseFlags()
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	if cfg.ShowVersion {
		fmt.Printf("devstack %s\n", version)
		return 0
	}

	// Initialize logger
	// When TUI is enabled, suppress logs to avoid interfering with TUI rendering
	var logger *slog.Logger
	if cfg.TUIEnabled {
		logger = logging.NewLoggerWithWriter(io.Discard, cfg.LogFormat, cfg.LogLevel)
	} else {
		logger = logging.NewLogger(cfg.LogFormat, cfg.LogLevel, cfg.Verbose)
	}
	logging.SetDefault(logger)

	// Validate configuration
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}

	logger.Info("starting",
		"version", version,
		"root", cfg.RootDir(),
		"ready", cfg.ReadyMode,
		"metrics_addr", cfg.MetricsAddr,
	)

	orch := orchestrator.New(cfg, logger, orchestrator.Options{Version: version})
	code := orch.Run(context.Background())

	logger.Info("exiting", "exit_code", code)
	return code
}
