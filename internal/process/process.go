package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// LaunchError reports that a process could not be started.
type LaunchError struct {
	Command string
	WorkDir string
	Err     error
}

func (e *LaunchError) Error() string {
	if e.WorkDir != "" {
		return fmt.Sprintf("launch %q in %s: %v", e.Command, e.WorkDir, e.Err)
	}
	return fmt.Sprintf("launch %q: %v", e.Command, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// Process is a launched external program whose stdout and stderr are pipes.
// Reading the pipes is the caller's job; Wait must only be called once both
// have been read to EOF, as required by os/exec.
type Process struct {
	spec   Spec
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	mu       sync.Mutex
	status   Status
	waitOnce sync.Once
	waitErr  error
	exited   chan struct{}
}

// Launch starts spec with redirected output streams. The process is not tied
// to any context: it keeps running after Launch returns until it exits or
// Stop is called.
func Launch(spec Spec) (*Process, error) {
	lerr := func(err error) error {
		return &LaunchError{Command: spec.String(), WorkDir: spec.WorkDir, Err: err}
	}
	if spec.Command == "" {
		return nil, lerr(errors.New("empty command"))
	}
	if spec.WorkDir != "" {
		fi, err := os.Stat(spec.WorkDir)
		if err != nil {
			return nil, lerr(err)
		}
		if !fi.IsDir() {
			return nil, lerr(fmt.Errorf("%s is not a directory", spec.WorkDir))
		}
	}

	cmd := spec.BuildCommand()
	if cmd.Err != nil {
		return nil, lerr(cmd.Err)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, lerr(err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, lerr(err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, lerr(err)
	}
	if err := cmd.Start(); err != nil {
		return nil, lerr(err)
	}

	p := &Process{
		spec:   spec,
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		exited: make(chan struct{}),
	}
	p.status = Status{Name: spec.Name, Running: true, PID: cmd.Process.Pid, StartedAt: time.Now()}
	return p, nil
}

func (p *Process) Spec() Spec { return p.spec }

func (p *Process) Stdout() io.Reader { return p.stdout }

func (p *Process) Stderr() io.Reader { return p.stderr }

// Stdin stays open for the lifetime of the process; nothing writes to it.
func (p *Process) Stdin() io.Writer { return p.stdin }

func (p *Process) PID() int { return p.cmd.Process.Pid }

// Wait reaps the process. It is safe to call more than once; later calls
// return the first result.
func (p *Process) Wait() error {
	p.waitOnce.Do(func() {
		err := p.cmd.Wait()
		_ = p.stdin.Close()
		code := -1
		if p.cmd.ProcessState != nil {
			code = p.cmd.ProcessState.ExitCode()
		}
		p.mu.Lock()
		p.status.Running = false
		p.status.StoppedAt = time.Now()
		p.status.ExitCode = code
		p.status.ExitErr = err
		p.mu.Unlock()
		p.waitErr = err
		close(p.exited)
	})
	return p.waitErr
}

// Exited is closed after Wait has reaped the process.
func (p *Process) Exited() <-chan struct{} { return p.exited }

// ExitErr returns the error reported by Wait, or nil while still running.
func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status.ExitErr
}

// Snapshot returns a copy of the current status.
func (p *Process) Snapshot() Status {
	p.mu.Lock()
	s := p.status
	p.mu.Unlock()
	return s
}

// Stop terminates the process group and waits up to wait for it to be
// reaped, escalating to a kill afterwards. Reaping is left to whoever calls
// Wait; Stop only observes Exited.
func (p *Process) Stop(wait time.Duration) error {
	select {
	case <-p.exited:
		return p.Snapshot().ExitErr
	default:
	}
	pid := p.PID()
	_ = terminateGroup(pid)
	select {
	case <-p.exited:
	case <-time.After(wait):
		_ = killGroup(pid)
		select {
		case <-p.exited:
		case <-time.After(200 * time.Millisecond):
			// best-effort
		}
	}
	return p.Snapshot().ExitErr
}

// Result is the outcome of a one-shot command run by Run.
type Result struct {
	ExitCode int
	Output   []byte
}

// Run executes spec to completion, capturing combined stdout and stderr.
// A non-zero exit is reported through Result.ExitCode, not the error; the
// error is set only when the command could not be started or ctx ended first.
func Run(ctx context.Context, spec Spec) (Result, error) {
	if spec.Command == "" {
		return Result{ExitCode: -1}, &LaunchError{Command: spec.String(), Err: errors.New("empty command")}
	}
	cmd := spec.BuildCommand()
	if cmd.Err != nil {
		return Result{ExitCode: -1}, &LaunchError{Command: spec.String(), WorkDir: spec.WorkDir, Err: cmd.Err}
	}
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1}, &LaunchError{Command: spec.String(), WorkDir: spec.WorkDir, Err: err}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		res := Result{ExitCode: cmd.ProcessState.ExitCode(), Output: buf.Bytes()}
		var ee *exec.ExitError
		if err != nil && !errors.As(err, &ee) {
			return res, err
		}
		return res, nil
	case <-ctx.Done():
		_ = killGroup(cmd.Process.Pid)
		<-done
		return Result{ExitCode: -1, Output: buf.Bytes()}, ctx.Err()
	}
}
