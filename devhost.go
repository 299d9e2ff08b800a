// Package devhost supervises a local front-end dev server on behalf of a
// host application: it reuses a server already listening on the configured
// port, otherwise provisions a development identity and config, launches the
// server and waits for its readiness announcement before handing the
// endpoint to the host.
package devhost

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/devhost/internal/config"
	"github.com/loykin/devhost/internal/history"
	"github.com/loykin/devhost/internal/history/factory"
	"github.com/loykin/devhost/internal/metrics"
	"github.com/loykin/devhost/internal/process"
	"github.com/loykin/devhost/internal/provision"
	"github.com/loykin/devhost/internal/proxy"
	"github.com/loykin/devhost/internal/server"
	"github.com/loykin/devhost/internal/supervisor"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = supervisor.Config

type Status = supervisor.Status

type State = supervisor.State

type Result = supervisor.Result

type Supervisor = supervisor.Supervisor

type Option = supervisor.Option

type Handoff = supervisor.Handoff

type HandoffFunc = supervisor.HandoffFunc

type Artifacts = provision.Artifacts

type ProvisionConfig = provision.Config

type Forwarder = proxy.Forwarder

type FileConfig = cfg.Config

type HistorySink = history.Sink

type HistoryEvent = history.Event

// Error kinds returned by Run.
type (
	ExitedError    = supervisor.ExitedError
	HandoffError   = supervisor.HandoffError
	ProvisionError = provision.Error
	LaunchError    = process.LaunchError
)

const (
	StateIdle              = supervisor.StateIdle
	StateProbePort         = supervisor.StateProbePort
	StateProvisioning      = supervisor.StateProvisioning
	StateLaunching         = supervisor.StateLaunching
	StateAwaitingReadiness = supervisor.StateAwaitingReadiness
	StateReady             = supervisor.StateReady
	StateFailed            = supervisor.StateFailed
	StateTimedOut          = supervisor.StateTimedOut
)

// ErrAlreadyRunning is returned when Run is called while a run is in progress.
var ErrAlreadyRunning = supervisor.ErrAlreadyRunning

// New returns a supervisor for one dev server.
func New(c Config, opts ...Option) (*Supervisor, error) { return supervisor.New(c, opts...) }

func WithHandoff(h Handoff) Option                    { return supervisor.WithHandoff(h) }
func WithLogger(l *slog.Logger) Option                { return supervisor.WithLogger(l) }
func WithHistory(s HistorySink) Option                { return supervisor.WithHistory(s) }
func WithProvisioner(p *provision.Provisioner) Option { return supervisor.WithProvisioner(p) }

// NewProvisioner builds the artifact provisioner used before launch.
func NewProvisioner(c ProvisionConfig, l *slog.Logger) (*provision.Provisioner, error) {
	if l == nil {
		l = slog.Default()
	}
	return provision.New(c, provision.WithLogger(l))
}

// NewForwarder returns a reverse proxy that starts serving once the
// supervisor hands it the ready endpoint. insecure skips upstream
// certificate verification for self-signed development identities.
func NewForwarder(insecure bool) *Forwarder {
	return proxy.New(proxy.Options{InsecureSkipVerify: insecure})
}

// Handler serves status and health under basePath and proxies everything
// else through fwd. Mount it in any server or mux.
func Handler(s *Supervisor, fwd *Forwarder, basePath string, withMetrics bool) http.Handler {
	return server.NewRouter(s, basePath, server.WithUpstream(fwd), server.WithMetrics(withMetrics)).Handler()
}

// LoadConfig reads a devhost TOML file, applying defaults and DEVHOST_* overrides.
func LoadConfig(path string) (*FileConfig, error) { return cfg.Load(path) }

// NewHistorySink opens a history store from a DSN (sqlite, postgres, clickhouse, opensearch).
func NewHistorySink(dsn string) (HistorySink, error) { return factory.NewSinkFromDSN(dsn) }

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
