//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr keeps the dev server out of the host's process group so
// a Ctrl-C on the host terminal does not reach it. Detached goes further and
// starts a new session.
func configureSysProcAttr(cmd *exec.Cmd, spec Spec) {
	attrs := &syscall.SysProcAttr{}
	if spec.Detached {
		attrs.Setsid = true
	} else {
		attrs.Setpgid = true
	}
	cmd.SysProcAttr = attrs
}
