//go:build unix && !linux

package process

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr puts the child in its own process group.
// Pdeathsig is Linux-only.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}
