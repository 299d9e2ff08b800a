package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/devhost/internal/config"
	"github.com/loykin/devhost/internal/history/factory"
	"github.com/loykin/devhost/internal/metrics"
	"github.com/loykin/devhost/internal/provision"
	"github.com/loykin/devhost/internal/proxy"
	"github.com/loykin/devhost/internal/server"
	"github.com/loykin/devhost/internal/supervisor"
)

const shutdownTimeout = 5 * time.Second

// app wires one supervised dev server to the proxy listener.
type app struct {
	cfg     *config.Config
	flags   RunFlags
	log     *slog.Logger
	sup     *supervisor.Supervisor
	fwd     *proxy.Forwarder
	srv     *server.Server
	closers []io.Closer
}

func newApp(cfg *config.Config, flags RunFlags) (*app, error) {
	a := &app{cfg: cfg, flags: flags}
	built := false
	defer func() {
		if !built {
			a.close()
		}
	}()

	lc := cfg.Logger()
	a.log = lc.NewSlogger()

	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	supCfg, err := cfg.Supervisor()
	if err != nil {
		return nil, err
	}

	a.fwd = proxy.New(proxy.Options{InsecureSkipVerify: cfg.Server.InsecureUpstream, Logger: a.log})
	opts := []supervisor.Option{
		supervisor.WithLogger(a.log),
		supervisor.WithHandoff(a.fwd),
	}

	outW, errW, err := lc.ProcessWriters(supCfg.Name)
	if err != nil {
		return nil, err
	}
	var rawOut, rawErr io.Writer
	if outW != nil {
		a.closers = append(a.closers, outW)
		rawOut = outW
	}
	if errW != nil {
		a.closers = append(a.closers, errW)
		rawErr = errW
	}
	opts = append(opts, supervisor.WithRawOutput(rawOut, rawErr))

	if cfg.DevServer.Artifacts.Enabled {
		p, err := provision.New(cfg.Provision(), provision.WithLogger(a.log))
		if err != nil {
			return nil, err
		}
		opts = append(opts, supervisor.WithProvisioner(p))
	}

	if cfg.History.Enabled {
		sink, err := factory.NewSinkFromDSN(cfg.History.DSN)
		if err != nil {
			return nil, fmt.Errorf("history sink: %w", err)
		}
		if c, ok := sink.(io.Closer); ok {
			a.closers = append(a.closers, c)
		}
		opts = append(opts, supervisor.WithHistory(sink))
	}

	a.sup, err = supervisor.New(supCfg, opts...)
	if err != nil {
		return nil, err
	}

	if !flags.NoServer {
		gin.SetMode(gin.ReleaseMode)
		r := server.NewRouter(a.sup, cfg.Server.BasePath,
			server.WithUpstream(a.fwd),
			server.WithMetrics(cfg.Metrics.Enabled))
		a.srv, err = server.NewServer(cfg.Server, r.Handler(), a.log)
		if err != nil {
			return nil, err
		}
	}
	built = true
	return a, nil
}

// run drives the startup sequence, then keeps serving until ctx ends.
func (a *app) run(ctx context.Context, out io.Writer) error {
	defer a.close()

	res, runErr := a.sup.Run(ctx)
	if runErr == nil {
		a.printReady(out, res)
		<-ctx.Done()
	}

	if a.srv != nil {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		if err := a.srv.Shutdown(sctx); err != nil {
			a.log.Warn("proxy shutdown", "error", err)
		}
		cancel()
	}
	if a.flags.StopOnExit {
		if err := a.sup.Stop(a.flags.StopWait); err != nil {
			a.log.Warn("stop dev server", "error", err)
		}
	} else if st := a.sup.Status(); st.Running && !st.AlreadyRunning {
		// its stdout/stderr pipes close with this process
		a.log.Warn("leaving dev server running without an output reader; it may exit on its next write", "pid", st.PID)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func (a *app) printReady(out io.Writer, res *supervisor.Result) {
	how := "launched"
	if res.AlreadyRunning {
		how = "already running"
	}
	_, _ = fmt.Fprintf(out, "dev server %s: %s\n", how, res.Endpoint)
	if a.srv != nil {
		_, _ = fmt.Fprintf(out, "proxy: %s  admin: %s%s/status\n", a.srv.URL(), a.srv.URL(), a.cfg.Server.BasePath)
	}
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
	a.closers = nil
}

func runDevhost(ctx context.Context, f RunFlags, out io.Writer) error {
	cfg, err := config.Load(f.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	a, err := newApp(cfg, f)
	if err != nil {
		return err
	}
	return a.run(ctx, out)
}
