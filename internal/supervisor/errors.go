package supervisor

import (
	"errors"
	"fmt"

	"github.com/randomizedcoder/go-devstack/internal/process"
)

var (
	// ErrAlreadyStarted is returned by Start when called more than once.
	ErrAlreadyStarted = errors.New("supervisor already started")

	// ErrShuttingDown is returned by Start when shutdown began before every
	// service was spawned.
	ErrShuttingDown = errors.New("supervisor is shutting down")

	// ErrNoServices is returned by Start when no services are configured.
	ErrNoServices = errors.New("no services configured")
)

// UnexpectedExitError reports a child that exited without being asked to.
type UnexpectedExitError struct {
	Role   string
	Status process.ExitStatus
}

func (e *UnexpectedExitError) Error() string {
	if e.Status.Signaled {
		return fmt.Sprintf("%s exited unexpectedly (%s, exit code %d)", e.Role, e.Status.Signal, e.Status.Code)
	}
	return fmt.Sprintf("%s exited unexpectedly (exit code %d)", e.Role, e.Status.Code)
}

// NotReadyError reports a service whose readiness probe failed.
type NotReadyError struct {
	Role  string
	Probe string
	Err   error
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("%s not ready (%s): %v", e.Role, e.Probe, e.Err)
}

func (e *NotReadyError) Unwrap() error {
	return e.Err
}
