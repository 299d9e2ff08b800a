// Package provision creates the development TLS identity and the dev server
// configuration file that references it.
package provision

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/devhost/internal/metrics"
	"github.com/loykin/devhost/internal/process"
)

const (
	DefaultIdentityFile  = "devcert.pfx"
	DefaultConfigFile    = "vite.config.js"
	DefaultExportCommand = "dotnet"
	DefaultExportTimeout = 2 * time.Minute

	// Placeholders substituted in ExportArgs.
	IdentityPlaceholder   = "{identity}"
	PassphrasePlaceholder = "{passphrase}"
)

// DefaultExportArgs exports the platform development certificate as a
// passphrase-protected PKCS#12 file.
var DefaultExportArgs = []string{"dev-certs", "https", "-v", "-ep", IdentityPlaceholder, "-p", PassphrasePlaceholder}

// DefaultTemplate is a Vite configuration serving https with the exported identity.
const DefaultTemplate = `export default {
  https: true,
  httpsOptions: {
    pfx: '{{ .IdentityFile }}',
    passphrase: '{{ .Passphrase }}'
  }
}
`

// Config configures a Provisioner. Zero values fall back to the defaults above.
type Config struct {
	IdentityFile  string        `mapstructure:"identity_file"`
	ConfigFile    string        `mapstructure:"config_file"`
	ExportCommand string        `mapstructure:"export_command"`
	ExportArgs    []string      `mapstructure:"export_args"`
	ExportTimeout time.Duration `mapstructure:"export_timeout"`
	Template      string        `mapstructure:"template"`
}

// Artifacts are the files ensured by Ensure. Passphrase is empty when the
// files already existed and nothing was created.
type Artifacts struct {
	IdentityPath string `json:"identity_path"`
	ConfigPath   string `json:"config_path"`
	Passphrase   string `json:"-"`
	Created      bool   `json:"created"`
}

// Error reports a failed identity export. Output carries the command's
// combined output for diagnostics.
type Error struct {
	Command  string
	ExitCode int
	Output   string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "provision: %s", e.Command)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	} else {
		fmt.Fprintf(&b, " exited with code %d", e.ExitCode)
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		fmt.Fprintf(&b, ": %s", out)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Runner executes a one-shot command to completion.
type Runner interface {
	Run(ctx context.Context, spec process.Spec) (process.Result, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, spec process.Spec) (process.Result, error)

func (f RunnerFunc) Run(ctx context.Context, spec process.Spec) (process.Result, error) {
	return f(ctx, spec)
}

// Provisioner ensures the artifacts in a directory exist.
type Provisioner struct {
	cfg    Config
	tmpl   *template.Template
	runner Runner
	logger *slog.Logger
	newKey func() string
}

// Option customizes a Provisioner.
type Option func(*Provisioner)

// WithRunner replaces the command runner.
func WithRunner(r Runner) Option { return func(p *Provisioner) { p.runner = r } }

// WithLogger sets the logger; defaults to slog.Default().
func WithLogger(l *slog.Logger) Option { return func(p *Provisioner) { p.logger = l } }

// New returns a Provisioner. It fails only when the config template does not parse.
func New(cfg Config, opts ...Option) (*Provisioner, error) {
	if cfg.IdentityFile == "" {
		cfg.IdentityFile = DefaultIdentityFile
	}
	if cfg.ConfigFile == "" {
		cfg.ConfigFile = DefaultConfigFile
	}
	if cfg.ExportCommand == "" {
		cfg.ExportCommand = DefaultExportCommand
		if len(cfg.ExportArgs) == 0 {
			cfg.ExportArgs = DefaultExportArgs
		}
	}
	if cfg.ExportTimeout <= 0 {
		cfg.ExportTimeout = DefaultExportTimeout
	}
	if cfg.Template == "" {
		cfg.Template = DefaultTemplate
	}
	tmpl, err := template.New(cfg.ConfigFile).Option("missingkey=error").Parse(cfg.Template)
	if err != nil {
		return nil, fmt.Errorf("parse config template: %w", err)
	}
	p := &Provisioner{
		cfg:    cfg,
		tmpl:   tmpl,
		runner: RunnerFunc(process.Run),
		logger: slog.Default(),
		newKey: Passphrase,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Passphrase returns a fresh random passphrase: 32 lowercase hex characters.
func Passphrase() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Paths returns the identity and config file paths inside dir.
func (p *Provisioner) Paths(dir string) (identity, config string) {
	return filepath.Join(dir, p.cfg.IdentityFile), filepath.Join(dir, p.cfg.ConfigFile)
}

// Exists reports whether both artifacts are present in dir.
func (p *Provisioner) Exists(dir string) bool {
	identity, config := p.Paths(dir)
	return fileExists(identity) && fileExists(config)
}

// Ensure creates the artifacts in dir unless both already exist. When they
// do, nothing is written and no command runs.
func (p *Provisioner) Ensure(ctx context.Context, dir string) (Artifacts, error) {
	identity, config := p.Paths(dir)
	art := Artifacts{IdentityPath: identity, ConfigPath: config}
	if p.Exists(dir) {
		p.logger.Debug("artifacts present, skipping provisioning", "dir", dir)
		metrics.IncProvision("skipped")
		return art, nil
	}

	pass := p.newKey()
	spec := process.Spec{
		Name:    "export-identity",
		Command: p.cfg.ExportCommand,
		Args:    expandArgs(p.cfg.ExportArgs, identity, pass),
		WorkDir: dir,
	}
	p.logger.Debug("exporting development identity", "command", spec.Command, "identity", identity, "passphrase", pass)

	rctx, cancel := context.WithTimeout(ctx, p.cfg.ExportTimeout)
	defer cancel()
	res, err := p.runner.Run(rctx, spec)
	if err != nil || res.ExitCode != 0 {
		perr := &Error{Command: spec.Command, ExitCode: res.ExitCode, Output: string(res.Output), Err: err}
		p.logger.Error("identity export failed", "command", spec.Command, "exit_code", res.ExitCode, "output", strings.TrimSpace(perr.Output), "error", err)
		metrics.IncProvision("failed")
		return art, perr
	}
	p.logger.Info("identity exported", "identity", identity, "output", strings.TrimSpace(string(res.Output)))

	if err := p.writeConfig(config, identity, pass); err != nil {
		metrics.IncProvision("failed")
		return art, err
	}
	p.logger.Info("dev server config written", "path", config)
	metrics.IncProvision("created")

	art.Passphrase = pass
	art.Created = true
	return art, nil
}

func (p *Provisioner) writeConfig(path, identity, pass string) error {
	var buf bytes.Buffer
	data := struct{ IdentityFile, Passphrase string }{filepath.Base(identity), pass}
	if err := p.tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("render %s: %w", path, err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func expandArgs(args []string, identity, pass string) []string {
	out := make([]string, len(args))
	r := strings.NewReplacer(IdentityPlaceholder, identity, PassphrasePlaceholder, pass)
	for i, a := range args {
		out[i] = r.Replace(a)
	}
	return out
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}
