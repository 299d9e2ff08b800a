//go:build windows

package process

import (
	"os/exec"
	"strconv"
)

// terminateGroup kills the process tree; cmd /c children do not receive
// console signals from a detached parent.
func terminateGroup(pid int) error {
	return killGroup(pid)
}

// killGroup forcibly kills the process tree rooted at pid.
func killGroup(pid int) error {
	if pid <= 0 {
		return nil
	}
	// #nosec G204
	return exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(pid)).Run()
}
