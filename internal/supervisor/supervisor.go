// Package supervisor brings a development server to a ready state and hands
// traffic off to it.
//
// A run probes the configured port, provisions the TLS artifacts if needed,
// launches the server, drains both of its output streams and waits, bounded
// by StartupTimeout, for the readiness sentinel. The supervisor does not own
// the server's lifetime past that point: on success or timeout the process
// and its drains keep running after Run returns. Hosts that want the server
// stopped on shutdown call Stop explicitly.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/loykin/devhost/internal/detector"
	"github.com/loykin/devhost/internal/drain"
	"github.com/loykin/devhost/internal/history"
	"github.com/loykin/devhost/internal/logger"
	"github.com/loykin/devhost/internal/metrics"
	"github.com/loykin/devhost/internal/process"
	"github.com/loykin/devhost/internal/provision"
	"github.com/loykin/devhost/internal/readiness"
)

const (
	DefaultName           = "devserver"
	DefaultPort           = 3000
	DefaultHost           = "localhost"
	DefaultScheme         = "https"
	DefaultCommand        = "npm"
	DefaultStartupTimeout = 2 * time.Minute
)

// DefaultArgs runs the package's dev script.
var DefaultArgs = []string{"run", "dev"}

// Config is the immutable input of a supervision run.
type Config struct {
	Name           string
	Port           int
	Host           string
	Scheme         string
	SourceDir      string
	StartupTimeout time.Duration
	Command        string
	Args           []string
	Env            []string // full environment; empty inherits the host's
	Sentinel       string
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = DefaultName
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Scheme == "" {
		c.Scheme = DefaultScheme
	}
	if c.StartupTimeout == 0 {
		c.StartupTimeout = DefaultStartupTimeout
	}
	if c.Command == "" {
		c.Command = DefaultCommand
		if len(c.Args) == 0 {
			c.Args = DefaultArgs
		}
	}
	if c.Sentinel == "" {
		c.Sentinel = drain.DefaultSentinel
	}
	return c
}

// Validate checks a defaulted Config.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range 1..65535", c.Port)
	}
	if c.StartupTimeout <= 0 {
		return fmt.Errorf("startup timeout must be positive, got %s", c.StartupTimeout)
	}
	if c.Scheme != "http" && c.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", c.Scheme)
	}
	return nil
}

// Endpoint is the local address traffic is handed off to.
func (c Config) Endpoint() *url.URL {
	return &url.URL{Scheme: c.Scheme, Host: net.JoinHostPort(c.Host, strconv.Itoa(c.Port))}
}

// Provisioner ensures prerequisite artifacts exist in a directory.
type Provisioner interface {
	Ensure(ctx context.Context, dir string) (provision.Artifacts, error)
}

// Managed is a launched dev server. Wait is called only after both streams
// have been read to EOF.
type Managed interface {
	Stdout() io.Reader
	Stderr() io.Reader
	PID() int
	Wait() error
}

// Launcher starts the dev server.
type Launcher interface {
	Launch(spec process.Spec) (Managed, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(spec process.Spec) (Managed, error)

func (f LauncherFunc) Launch(spec process.Spec) (Managed, error) { return f(spec) }

// ProcessLauncher launches real processes with process.Launch.
var ProcessLauncher Launcher = LauncherFunc(func(spec process.Spec) (Managed, error) {
	p, err := process.Launch(spec)
	if err != nil {
		return nil, err
	}
	return p, nil
})

// Handoff directs subsequent traffic to a ready endpoint.
type Handoff interface {
	Forward(endpoint *url.URL) error
}

// HandoffFunc adapts a function to Handoff.
type HandoffFunc func(endpoint *url.URL) error

func (f HandoffFunc) Forward(endpoint *url.URL) error { return f(endpoint) }

// Result describes a successful run.
type Result struct {
	Endpoint       *url.URL
	AlreadyRunning bool
	PID            int
	Artifacts      provision.Artifacts
	Startup        time.Duration
}

// Status is a point-in-time view of the supervisor.
type Status struct {
	Name           string    `json:"name"`
	State          State     `json:"state"`
	Port           int       `json:"port"`
	PID            int       `json:"pid,omitempty"`
	Endpoint       string    `json:"endpoint"`
	AlreadyRunning bool      `json:"already_running"`
	Running        bool      `json:"running"`
	StartedAt      time.Time `json:"started_at"`
	ReadyAt        time.Time `json:"ready_at"`
	ExitedAt       time.Time `json:"exited_at"`
	LastError      string    `json:"last_error,omitempty"`
}

// Option customizes a Supervisor.
type Option func(*Supervisor)

// WithDetector replaces the port probe.
func WithDetector(d detector.Detector) Option { return func(s *Supervisor) { s.detector = d } }

// WithProvisioner enables artifact provisioning before launch.
func WithProvisioner(p Provisioner) Option { return func(s *Supervisor) { s.provisioner = p } }

// WithLauncher replaces the process launcher.
func WithLauncher(l Launcher) Option { return func(s *Supervisor) { s.launcher = l } }

// WithHandoff sets the collaborator that receives the ready endpoint.
func WithHandoff(h Handoff) Option { return func(s *Supervisor) { s.handoff = h } }

// WithLogger sets the logger; defaults to slog.Default().
func WithLogger(l *slog.Logger) Option { return func(s *Supervisor) { s.logger = l } }

// WithHistory records terminal outcomes and process exits to sink.
func WithHistory(sink history.Sink) Option { return func(s *Supervisor) { s.history = sink } }

// WithOutput replaces the sinks receiving the dev server's stdout and stderr lines.
func WithOutput(stdout, stderr drain.Sink) Option {
	return func(s *Supervisor) { s.stdoutSink, s.stderrSink = stdout, stderr }
}

// WithRawOutput tees raw dev server lines to the given writers, which may be nil.
func WithRawOutput(stdout, stderr io.Writer) Option {
	return func(s *Supervisor) { s.rawStdout, s.rawStderr = stdout, stderr }
}

// Supervisor runs the startup state machine for one dev server.
type Supervisor struct {
	cfg         Config
	detector    detector.Detector
	provisioner Provisioner
	launcher    Launcher
	handoff     Handoff
	logger      *slog.Logger
	history     history.Sink

	stdoutSink, stderrSink drain.Sink
	rawStdout, rawStderr   io.Writer

	mu      sync.Mutex
	status  Status
	running bool
	proc    Managed
}

// New validates cfg, applying defaults, and returns a Supervisor in the Idle state.
func New(cfg Config, opts ...Option) (*Supervisor, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Supervisor{
		cfg:      cfg,
		detector: detector.Port{Port: cfg.Port},
		launcher: ProcessLauncher,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.stdoutSink == nil {
		s.stdoutSink = logger.NewStreamSink(s.logger, cfg.Name, drain.StreamStdout, s.rawStdout)
	}
	if s.stderrSink == nil {
		s.stderrSink = logger.NewStreamSink(s.logger, cfg.Name, drain.StreamStderr, s.rawStderr)
	}
	s.logger = s.logger.With("server", cfg.Name)
	s.status = Status{
		Name:     cfg.Name,
		State:    StateIdle,
		Port:     cfg.Port,
		Endpoint: cfg.Endpoint().String(),
	}
	return s, nil
}

// Config returns the defaulted configuration.
func (s *Supervisor) Config() Config { return s.cfg }

// Status returns a snapshot of the current state.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Ready reports whether the last run handed off successfully.
func (s *Supervisor) Ready() bool { return s.Status().State == StateReady }

// Run executes one supervision run. It returns once the server is ready and
// traffic has been handed off, or with the error that ended the run:
// *provision.Error, *process.LaunchError, *drain.FaultError, *ExitedError,
// *HandoffError, a *readiness.TimeoutError, or the context's error.
func (s *Supervisor) Run(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	s.running = true
	s.status = Status{Name: s.cfg.Name, State: StateIdle, Port: s.cfg.Port, Endpoint: s.status.Endpoint}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	start := time.Now()
	s.transition(StateProbePort)
	alive, err := s.detector.Alive()
	if err != nil {
		s.logger.Debug("port probe inconclusive, treating as not running", "detector", s.detector.Describe(), "error", err)
	}
	if alive {
		s.logger.Info("dev server already listening, skipping launch", "port", s.cfg.Port)
		s.update(func(st *Status) { st.AlreadyRunning = true; st.Running = true })
		return s.ready(ctx, start, &Result{AlreadyRunning: true})
	}

	res := &Result{}
	if s.provisioner != nil {
		s.transition(StateProvisioning)
		art, err := s.provisioner.Ensure(ctx, s.cfg.SourceDir)
		if err != nil {
			return nil, s.fail(ctx, start, StateFailed, fmt.Errorf("provision artifacts: %w", err))
		}
		res.Artifacts = art
	}

	s.transition(StateLaunching)
	spec := process.Spec{
		Name:    s.cfg.Name,
		Command: s.cfg.Command,
		Args:    s.cfg.Args,
		WorkDir: s.cfg.SourceDir,
		Env:     s.cfg.Env,
	}
	p, err := s.launcher.Launch(spec)
	if err != nil {
		return nil, s.fail(ctx, start, StateFailed, fmt.Errorf("launch dev server: %w", err))
	}
	pid := p.PID()
	res.PID = pid
	s.mu.Lock()
	s.proc = p
	s.status.PID = pid
	s.status.Running = true
	s.status.StartedAt = time.Now()
	s.mu.Unlock()
	s.logger.Info("dev server launched", "pid", pid, "command", spec.String(), "dir", spec.WorkDir)

	s.transition(StateAwaitingReadiness)
	gate := readiness.NewGate()
	s.watch(p, gate, start)

	outcome := gate.Wait(ctx, s.cfg.StartupTimeout)
	switch outcome.Kind {
	case readiness.Ready:
		return s.ready(ctx, start, res)
	case readiness.TimedOut:
		s.logger.Warn("dev server did not announce readiness in time; leaving it running",
			"timeout", s.cfg.StartupTimeout, "pid", pid)
		return nil, s.fail(ctx, start, StateTimedOut, outcome.Err)
	default:
		return nil, s.fail(ctx, start, StateFailed, outcome.Err)
	}
}

// watch starts both drains and, once they finish, reaps the process. An
// exit before readiness fails the gate.
func (s *Supervisor) watch(p Managed, gate *readiness.Gate, start time.Time) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = drain.Stdout(p.Stdout(), s.stdoutSink, gate, s.cfg.Sentinel)
	}()
	go func() {
		defer wg.Done()
		_ = drain.Stderr(p.Stderr(), s.stderrSink, gate)
	}()
	go func() {
		wg.Wait()
		werr := p.Wait()
		code := exitCode(werr)
		if gate.Fail(&ExitedError{PID: p.PID(), ExitCode: code, Err: werr}) {
			s.logger.Error("dev server exited before becoming ready", "pid", p.PID(), "exit_code", code, "error", werr)
		} else {
			s.logger.Info("dev server exited", "pid", p.PID(), "exit_code", code, "error", werr)
		}
		s.mu.Lock()
		s.status.Running = false
		s.status.ExitedAt = time.Now()
		if s.proc == p {
			s.proc = nil
		}
		s.mu.Unlock()
		rec := s.record("exited", start, werr)
		rec.PID = p.PID()
		s.emit(context.Background(), history.EventExited, rec)
	}()
}

func (s *Supervisor) ready(ctx context.Context, start time.Time, res *Result) (*Result, error) {
	endpoint := s.cfg.Endpoint()
	res.Endpoint = endpoint
	res.Startup = time.Since(start)
	if s.handoff != nil {
		if err := s.handoff.Forward(endpoint); err != nil {
			return nil, s.fail(ctx, start, StateFailed, &HandoffError{Endpoint: endpoint.String(), Err: err})
		}
	}
	s.transition(StateReady)
	s.update(func(st *Status) { st.ReadyAt = time.Now() })
	s.logger.Info("dev server ready", "endpoint", endpoint.String(), "startup", res.Startup.Round(time.Millisecond), "already_running", res.AlreadyRunning)

	outcome := "ready"
	if res.AlreadyRunning {
		outcome = "already_running"
	} else {
		metrics.ObserveStartup(res.Startup.Seconds())
	}
	metrics.IncRun(outcome)
	s.emit(ctx, history.EventReady, s.record(outcome, start, nil))
	return res, nil
}

func (s *Supervisor) fail(ctx context.Context, start time.Time, to State, err error) error {
	s.transition(to)
	s.update(func(st *Status) { st.LastError = err.Error() })
	s.logger.Error("dev server startup failed", "state", to, "error", err)
	metrics.IncRun(string(to))
	typ := history.EventFailed
	if to == StateTimedOut {
		typ = history.EventTimedOut
	}
	s.emit(ctx, typ, s.record(string(to), start, err))
	return err
}

func (s *Supervisor) transition(to State) {
	s.mu.Lock()
	from := s.status.State
	if !from.CanTransition(to) {
		s.logger.Debug("unexpected state transition", "from", from, "to", to)
	}
	s.status.State = to
	s.mu.Unlock()

	metrics.RecordStateTransition(string(from), string(to))
	for _, st := range allStates {
		metrics.SetCurrentState(string(st), st == to)
	}
	s.logger.Debug("state transition", "from", from, "to", to)
}

func (s *Supervisor) update(fn func(*Status)) {
	s.mu.Lock()
	fn(&s.status)
	s.mu.Unlock()
}

func (s *Supervisor) record(outcome string, start time.Time, err error) history.Record {
	st := s.Status()
	r := history.Record{
		Name:       s.cfg.Name,
		Port:       s.cfg.Port,
		PID:        st.PID,
		SourceDir:  s.cfg.SourceDir,
		Outcome:    outcome,
		DurationMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

func (s *Supervisor) emit(ctx context.Context, t history.EventType, r history.Record) {
	if s.history == nil {
		return
	}
	// a cancelled run still gets recorded
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.history.Send(hctx, history.Event{Type: t, OccurredAt: time.Now().UTC(), Record: r}); err != nil {
		s.logger.Warn("history sink failed", "event", t, "error", err)
	}
}

// Stop terminates a dev server launched by this supervisor. It is never
// called by Run; hosts use it for explicit shutdown. Servers that were
// already running before the run are not touched.
func (s *Supervisor) Stop(wait time.Duration) error {
	s.mu.Lock()
	p := s.proc
	s.mu.Unlock()
	if p == nil {
		return nil
	}
	stopper, ok := p.(interface{ Stop(time.Duration) error })
	if !ok {
		return errors.New("supervisor: launched process cannot be stopped")
	}
	s.logger.Info("stopping dev server", "pid", p.PID())
	err := stopper.Stop(wait)
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		// terminated by our signal
		return nil
	}
	return err
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}
