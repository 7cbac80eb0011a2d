//go:build !unix

package process

import (
	"os"
	"os/exec"
)

// configureSysProcAttr is a no-op on platforms without process groups.
func configureSysProcAttr(_ *exec.Cmd) {}

// terminateProcess has no graceful variant outside Unix; the process is
// killed and the wait phase of Stop returns immediately.
func terminateProcess(p *os.Process) error {
	return p.Kill()
}

func killProcess(p *os.Process) error {
	return p.Kill()
}

func killGroup(_ int) bool {
	return false
}

func groupAlive(_ int) bool {
	return false
}
