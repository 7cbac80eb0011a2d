//go:build linux

package process

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr puts the child in its own process group so that
// signals reach the dev server's own children, and sets Pdeathsig so the
// child receives SIGTERM if the supervisor dies abruptly.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}
