// Package process provides abstractions for running the supervised child
// services: launch specs, the npm command builder and the Child handle.
package process

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Spec describes one child service launch.
type Spec struct {
	// Role identifies the service ("backend", "dashboard"). It is also the
	// source of the console tag.
	Role string

	// Command is the argv to execute. Command[0] is resolved via PATH.
	Command []string

	// Dir is the working directory of the child.
	Dir string

	// Env holds extra KEY=VALUE entries appended to the parent environment.
	Env []string

	// Port is the documented port the service listens on (informational).
	Port int
}

// Tag returns the display tag for the role, e.g. "BACKEND".
func (s Spec) Tag() string {
	return strings.ToUpper(s.Role)
}

// Prefix returns the bracketed console prefix, e.g. "[BACKEND]".
func (s Spec) Prefix() string {
	return "[" + s.Tag() + "]"
}

// CommandString returns the command that would be executed (for debugging).
func (s Spec) CommandString() string {
	return strings.Join(s.Command, " ")
}

// DisplayName returns the role with its first letter upper-cased, e.g.
// "Backend", for human-facing messages.
func (s Spec) DisplayName() string {
	r, size := utf8.DecodeRuneInString(s.Role)
	if r == utf8.RuneError {
		return s.Role
	}
	return string(unicode.ToUpper(r)) + s.Role[size:]
}

// URL returns the local URL the service listens on, or "" when no port is
// known.
func (s Spec) URL() string {
	if s.Port <= 0 {
		return ""
	}
	return fmt.Sprintf("http://localhost:%d", s.Port)
}
