package process

import (
	"os/exec"
	"strings"
)

// Spec describes an external program to launch.
type Spec struct {
	Name     string   `json:"name" mapstructure:"name"`
	Command  string   `json:"command" mapstructure:"command"`   // executable name or path
	Args     []string `json:"args" mapstructure:"args"`         // arguments passed verbatim
	WorkDir  string   `json:"work_dir" mapstructure:"work_dir"` // optional working dir
	Env      []string `json:"env" mapstructure:"env"`           // full environment; empty inherits the host's
	Detached bool     `json:"detached" mapstructure:"detached"` // new session instead of a new process group
}

// BuildCommand constructs an *exec.Cmd for s. The platform shell
// wrapper (cmd /c on Windows) is applied here so callers stay platform-agnostic.
func (s *Spec) BuildCommand() *exec.Cmd {
	name, args := wrapCommand(strings.TrimSpace(s.Command), s.Args)
	// ok: command and args come from the operator's config
	// #nosec G204
	cmd := exec.Command(name, args...)
	if s.WorkDir != "" {
		cmd.Dir = s.WorkDir
	}
	if len(s.Env) > 0 {
		cmd.Env = s.Env
	}
	configureSysProcAttr(cmd, *s)
	return cmd
}

// String renders the command line for logs.
func (s *Spec) String() string {
	if len(s.Args) == 0 {
		return s.Command
	}
	return s.Command + " " + strings.Join(s.Args, " ")
}
