package supervisor

import (
	"errors"
	"fmt"
)

// ErrAlreadyRunning is returned by Run when called again on a Supervisor
// whose previous run has not reached a terminal state.
var ErrAlreadyRunning = errors.New("supervisor: run already in progress")

// ExitedError reports that the dev server exited before announcing readiness.
type ExitedError struct {
	PID      int
	ExitCode int
	Err      error
}

func (e *ExitedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("dev server (pid %d) exited before becoming ready: %v", e.PID, e.Err)
	}
	return fmt.Sprintf("dev server (pid %d) exited before becoming ready with code %d", e.PID, e.ExitCode)
}

func (e *ExitedError) Unwrap() error { return e.Err }

// HandoffError reports that traffic could not be directed at a ready server.
type HandoffError struct {
	Endpoint string
	Err      error
}

func (e *HandoffError) Error() string {
	return fmt.Sprintf("handoff to %s: %v", e.Endpoint, e.Err)
}

func (e *HandoffError) Unwrap() error { return e.Err }
