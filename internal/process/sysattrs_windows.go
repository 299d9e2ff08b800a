//go:build windows

package process

import (
	"os/exec"
	"syscall"
)

// detachedProcess is DETACHED_PROCESS from the Win32 creation flags.
const detachedProcess = 0x00000008

// configureSysProcAttr gives the dev server its own process group so console
// control events for the host do not reach it. Detached drops the console.
func configureSysProcAttr(cmd *exec.Cmd, spec Spec) {
	flags := uint32(syscall.CREATE_NEW_PROCESS_GROUP)
	if spec.Detached {
		flags |= detachedProcess
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: flags}
}
