// Package preflight provides startup validation checks.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/randomizedcoder/go-devstack/internal/process"
	"github.com/randomizedcoder/go-devstack/internal/runstate"
)

// versionTimeout bounds each "--version" probe.
const versionTimeout = 10 * time.Second

// devScript is the package.json script each service is started with.
const devScript = "dev"

// Check represents the result of a single preflight check.
type Check struct {
	Name    string // Name of the check
	Passed  bool   // Whether the check passed
	Warning bool   // True if it's a warning (non-fatal)
	Message string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

// Error lists the checks that failed.
type Error struct {
	Failed []Check
}

func (e *Error) Error() string {
	names := make([]string, len(e.Failed))
	for i, c := range e.Failed {
		names[i] = c.Name
	}
	return fmt.Sprintf("preflight checks failed: %s", strings.Join(names, ", "))
}

// Err returns a *Error for the failed checks, or nil if all passed.
func (r *Result) Err() error {
	if r.Passed {
		return nil
	}
	var failed []Check
	for _, c := range r.Checks {
		if !c.Passed {
			failed = append(failed, c)
		}
	}
	return &Error{Failed: failed}
}

func (r *Result) add(c Check) {
	r.Checks = append(r.Checks, c)
	if !c.Passed {
		r.Passed = false
	}
}

// Service is a service directory to verify.
type Service struct {
	Role string
	Dir  string
}

// Options configures RunAll.
type Options struct {
	NodePath string // empty means resolve via process.ResolveNode
	NPMPath  string // empty means resolve via process.ResolveNPM
	Services []Service

	// StatePath is the previous run's state file, checked for leftovers.
	// Empty skips the check.
	StatePath string
}

// RunAll executes all preflight checks.
func RunAll(ctx context.Context, opts Options) *Result {
	if opts.NodePath == "" {
		opts.NodePath = process.ResolveNode()
	}
	if opts.NPMPath == "" {
		opts.NPMPath = process.ResolveNPM()
	}

	result := &Result{
		Checks: make([]Check, 0, 3+2*len(opts.Services)),
		Passed: true,
	}

	result.add(checkTool(ctx, "node", opts.NodePath))
	result.add(checkTool(ctx, "npm", opts.NPMPath))

	for _, svc := range opts.Services {
		dirCheck := checkDirectory(svc)
		result.add(dirCheck)
		if dirCheck.Passed {
			result.add(checkPackageJSON(svc))
		}
	}

	if opts.StatePath != "" {
		result.add(checkStaleRun(opts.StatePath))
	}

	return result
}

// ToolingAvailable reports whether both node and npm run.
func ToolingAvailable(ctx context.Context) bool {
	return checkTool(ctx, "node", process.ResolveNode()).Passed &&
		checkTool(ctx, "npm", process.ResolveNPM()).Passed
}

// DirectoryExists reports whether path is an existing directory.
func DirectoryExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// checkTool verifies binary is available and answers --version.
func checkTool(ctx context.Context, name, path string) Check {
	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()

	version, err := process.ProbeVersion(ctx, path)
	if err != nil {
		return Check{
			Name:    name,
			Passed:  false,
			Message: fmt.Sprintf("not found at %s: %v", path, err),
		}
	}
	return Check{
		Name:    name,
		Passed:  true,
		Message: fmt.Sprintf("found at %s (version %s)", path, version),
	}
}

func checkDirectory(svc Service) Check {
	name := svc.Role + "_dir"
	if !DirectoryExists(svc.Dir) {
		return Check{
			Name:    name,
			Passed:  false,
			Message: fmt.Sprintf("%s directory not found: %s", svc.Role, svc.Dir),
		}
	}
	return Check{Name: name, Passed: true, Message: svc.Dir}
}

func checkPackageJSON(svc Service) Check {
	name := svc.Role + "_package_json"
	path := filepath.Join(svc.Dir, "package.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return Check{Name: name, Passed: false, Message: fmt.Sprintf("%s not found at %s", svc.Role, svc.Dir)}
	}
	if !gjson.ValidBytes(data) {
		return Check{Name: name, Passed: false, Message: path + " is not valid JSON"}
	}
	script := gjson.GetBytes(data, "scripts."+devScript)
	if !script.Exists() {
		return Check{Name: name, Passed: false, Message: fmt.Sprintf("%s has no %q script", path, devScript)}
	}
	return Check{Name: name, Passed: true, Message: fmt.Sprintf("%s (%s: %s)", path, devScript, script.String())}
}

// checkStaleRun warns about a previous run that left state behind.
func checkStaleRun(statePath string) Check {
	const name = "previous_run"

	st, err := runstate.Read(statePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return Check{Name: name, Passed: true, Message: "none"}
	case err != nil:
		return Check{Name: name, Passed: true, Warning: true, Message: fmt.Sprintf("unreadable state file: %v", err)}
	}

	if st.OwnerAlive() && st.Pid != os.Getpid() {
		return Check{
			Name:    name,
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("devstack pid %d may still be running (started %s)", st.Pid, st.StartedAt.Format(time.RFC3339)),
		}
	}

	live := st.LiveChildren()
	if len(live) == 0 {
		return Check{Name: name, Passed: true, Message: "previous run exited cleanly"}
	}
	parts := make([]string, len(live))
	for i, c := range live {
		parts[i] = fmt.Sprintf("%s pid %d", c.Role, c.Pid)
	}
	return Check{
		Name:    name,
		Passed:  true,
		Warning: true,
		Message: "leftover processes from a previous run: " + strings.Join(parts, ", "),
	}
}

// PrintResults prints the preflight check results to w.
func PrintResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed {
			fmt.Fprintf(w, "    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch {
	case name == "node" || name == "npm":
		return "Node.js and npm must be installed. Download from: https://nodejs.org/"
	case strings.HasSuffix(name, "_dir"):
		return "run devstack from the project root or pass -root"
	case strings.HasSuffix(name, "_package_json"):
		return "check out the service sources and make sure package.json defines a \"dev\" script"
	default:
		return "see documentation"
	}
}
