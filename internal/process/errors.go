package process

import (
	"errors"
	"fmt"
)

var (
	// ErrWaitTimeout is returned by AwaitExit when the process is still
	// running after the timeout.
	ErrWaitTimeout = errors.New("timed out waiting for process exit")

	// ErrEmptyCommand is returned by Spawn for a spec without a command.
	ErrEmptyCommand = errors.New("command must not be empty")

	// ErrNotDirectory is returned by Spawn when the working directory
	// exists but is not a directory.
	ErrNotDirectory = errors.New("not a directory")
)

// SpawnError reports that the OS failed to start a child process.
type SpawnError struct {
	Role    string
	Command string
	Dir     string
	Err     error
}

func (e *SpawnError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("spawn %s: %v", e.Role, e.Err)
	}
	return fmt.Sprintf("spawn %s (%s in %s): %v", e.Role, e.Command, e.Dir, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}
