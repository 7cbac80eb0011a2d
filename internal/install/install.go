// Package install runs "npm install" for service directories that have no
// node_modules yet.
package install

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/randomizedcoder/go-devstack/internal/process"
)

// Error reports a failed "npm install". Output holds what npm wrote to
// stderr.
type Error struct {
	Name   string
	Dir    string
	Output string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("install %s dependencies in %s: %v", e.Name, e.Dir, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Config configures an Installer.
type Config struct {
	// NPM is the runner used to build the install command.
	NPM *process.NPMRunner

	// Out receives progress messages. Nil discards them.
	Out io.Writer

	Logger *slog.Logger
}

// Installer installs npm dependencies on demand.
type Installer struct {
	npm    *process.NPMRunner
	out    io.Writer
	logger *slog.Logger
}

// New creates an Installer.
func New(cfg Config) *Installer {
	npm := cfg.NPM
	if npm == nil {
		npm = process.NewNPMRunner(process.DefaultNPMConfig())
	}
	out := cfg.Out
	if out == nil {
		out = io.Discard
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Installer{npm: npm, out: out, logger: logger}
}

// NeedsInstall reports whether dir has no node_modules entry.
func NeedsInstall(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, "node_modules"))
	return err != nil
}

// EnsureInstalled runs "npm install" in dir unless node_modules already
// exists. name is the human-facing service name, e.g. "Backend".
// A failure returns *Error carrying npm's stderr.
func (i *Installer) EnsureInstalled(ctx context.Context, dir, name string) error {
	if !NeedsInstall(dir) {
		i.logger.Debug("install_skipped", "name", name, "dir", dir)
		return nil
	}

	fmt.Fprintf(i.out, "📦 Installing %s dependencies...\n", name)
	i.logger.Info("install_started", "name", name, "dir", dir)
	start := time.Now()

	var stdout, stderr bytes.Buffer
	cmd := i.npm.InstallCommand(ctx, dir)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		output := strings.TrimRight(stderr.String(), "\n")
		fmt.Fprintf(i.out, "❌ Failed to install %s dependencies:\n", name)
		if output != "" {
			fmt.Fprintln(i.out, output)
		}
		i.logger.Error("install_failed",
			"name", name,
			"dir", dir,
			"error", err,
			"duration", time.Since(start).String(),
		)
		return &Error{Name: name, Dir: dir, Output: output, Err: err}
	}

	fmt.Fprintf(i.out, "✅ %s dependencies installed\n", name)
	i.logger.Info("install_complete", "name", name, "dir", dir, "duration", time.Since(start).String())
	return nil
}

// EnsureInstalled runs EnsureInstalled with a default installer writing
// progress to stdout.
func EnsureInstalled(ctx context.Context, dir, name string) error {
	return New(Config{Out: os.Stdout}).EnsureInstalled(ctx, dir, name)
}
