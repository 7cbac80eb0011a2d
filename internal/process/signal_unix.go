//go:build unix

package process

import (
	"os"

	"golang.org/x/sys/unix"
)

// terminateProcess sends SIGTERM to the child's process group, falling back
// to the process itself if the group is gone.
func terminateProcess(p *os.Process) error {
	return signalGroup(p, unix.SIGTERM)
}

// killProcess sends SIGKILL to the child's process group.
func killProcess(p *os.Process) error {
	return signalGroup(p, unix.SIGKILL)
}

func signalGroup(p *os.Process, sig unix.Signal) error {
	if pgid, err := unix.Getpgid(p.Pid); err == nil && pgid == p.Pid {
		if err := unix.Kill(-pgid, sig); err == nil {
			return nil
		}
	}
	return p.Signal(sig)
}

// killGroup sends SIGKILL to the process group led by pid, even if the
// leader itself has been reaped. It reports whether any member was left.
func killGroup(pid int) bool {
	return unix.Kill(-pid, unix.SIGKILL) == nil
}

// groupAlive reports whether any process is left in the group led by pid.
func groupAlive(pid int) bool {
	return unix.Kill(-pid, 0) == nil
}
