package process

import (
	"context"
	"os/exec"
	"runtime"
)

// NPMConfig holds configuration for npm-driven child services.
type NPMConfig struct {
	// BinaryPath is the npm executable. Empty means resolve via ResolveNPM.
	BinaryPath string

	// Script is the package.json script to run (default "dev").
	Script string

	// ExtraArgs are passed after "--" to the script.
	ExtraArgs []string
}

// DefaultNPMConfig returns an NPMConfig with sensible defaults.
func DefaultNPMConfig() *NPMConfig {
	return &NPMConfig{
		BinaryPath: ResolveNPM(),
		Script:     "dev",
	}
}

// NPMRunner builds launch specs for npm-based services.
type NPMRunner struct {
	config *NPMConfig
}

// NewNPMRunner creates a new npm runner with the given configuration.
func NewNPMRunner(cfg *NPMConfig) *NPMRunner {
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = ResolveNPM()
	}
	if cfg.Script == "" {
		cfg.Script = "dev"
	}
	return &NPMRunner{config: cfg}
}

// Name returns "npm".
func (r *NPMRunner) Name() string {
	return "npm"
}

// BuildSpec returns the launch spec for the service in dir.
func (r *NPMRunner) BuildSpec(role, dir string, port int) Spec {
	return Spec{
		Role:    role,
		Command: append([]string{r.config.BinaryPath}, r.runArgs()...),
		Dir:     dir,
		Port:    port,
	}
}

// InstallCommand returns an unstarted "npm install" command for dir,
// killed if ctx is done before it finishes.
func (r *NPMRunner) InstallCommand(ctx context.Context, dir string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, r.config.BinaryPath, "install")
	cmd.Dir = dir
	return cmd
}

// runArgs constructs the npm arguments.
func (r *NPMRunner) runArgs() []string {
	args := []string{"run", r.config.Script}
	if len(r.config.ExtraArgs) > 0 {
		args = append(args, "--")
		args = append(args, r.config.ExtraArgs...)
	}
	return args
}

// Config returns the npm configuration.
func (r *NPMRunner) Config() *NPMConfig {
	return r.config
}

// ResolveNPM returns a runnable npm command for the current OS.
//
// On Windows npm is a .cmd shim which CreateProcess cannot execute under
// the bare name, so the shim is looked up explicitly.
func ResolveNPM() string {
	if runtime.GOOS == "windows" {
		return lookupFirst("npm.cmd", "npm.cmd", "npm")
	}
	return lookupFirst("npm", "npm")
}

// ResolveNode returns a runnable node command for the current OS.
func ResolveNode() string {
	return lookupFirst("node", "node")
}

// lookupFirst returns the first candidate found in PATH, or fallback.
func lookupFirst(fallback string, candidates ...string) string {
	for _, name := range candidates {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	return fallback
}
