package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/devhost/internal/config"
	"github.com/loykin/devhost/internal/metrics"
	"github.com/loykin/devhost/internal/supervisor"
	dhtls "github.com/loykin/devhost/internal/tls"
)

// Supervised is the part of the supervisor exposed over HTTP.
type Supervised interface {
	Status() supervisor.Status
	Stop(wait time.Duration) error
}

// Router serves the admin endpoints under basePath and hands every other
// request to the upstream handler (normally the dev server proxy).
// Endpoints:
//
//	GET  {basePath}/status   supervisor status JSON
//	GET  {basePath}/healthz  200 when ready, 503 otherwise
//	GET  {basePath}/metrics  Prometheus exposition, when enabled
//	POST {basePath}/stop     query: wait=2s (optional)
type Router struct {
	sup      Supervised
	upstream http.Handler
	basePath string
	metrics  bool
}

// RouterOption customizes a Router.
type RouterOption func(*Router)

// WithUpstream sets the handler for requests outside basePath.
func WithUpstream(h http.Handler) RouterOption { return func(r *Router) { r.upstream = h } }

// WithMetrics mounts the Prometheus handler at {basePath}/metrics.
func WithMetrics(enabled bool) RouterOption { return func(r *Router) { r.metrics = enabled } }

// NewRouter constructs a Router. basePath may be empty or start with '/'.
func NewRouter(sup Supervised, basePath string, opts ...RouterOption) *Router {
	r := &Router{sup: sup, basePath: sanitizeBase(basePath)}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handler returns an http.Handler powered by gin.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/healthz", r.handleHealth)
	group.POST("/stop", r.handleStop)
	if r.metrics {
		group.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	if r.upstream != nil {
		g.NoRoute(gin.WrapH(r.upstream))
	}
	return g
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type healthResp struct {
	State supervisor.State `json:"state"`
	Ready bool             `json:"ready"`
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.sup.Status())
}

func (r *Router) handleHealth(c *gin.Context) {
	st := r.sup.Status()
	resp := healthResp{State: st.State, Ready: st.State == supervisor.StateReady}
	if !resp.Ready {
		writeJSON(c, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(c, http.StatusOK, resp)
}

func (r *Router) handleStop(c *gin.Context) {
	wait := 2 * time.Second
	if ws := c.Query("wait"); ws != "" {
		d, err := time.ParseDuration(ws)
		if err != nil || d < 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid wait: " + ws})
			return
		}
		wait = d
	}
	if err := r.sup.Stop(wait); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

// Server is the devhost listener.
type Server struct {
	srv *http.Server
	ln  net.Listener
	tls bool
}

// NewServer binds cfg.Listen and starts serving h in the background, with
// TLS when cfg.TLS is enabled. Bind and certificate errors are returned.
func NewServer(cfg config.ServerConfig, h http.Handler, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tlsCfg, err := dhtls.SetupTLS(cfg)
	if err != nil {
		return nil, fmt.Errorf("tls setup: %w", err)
	}
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Listen, err)
	}
	if tlsCfg != nil {
		ln = tls.NewListener(ln, tlsCfg)
	}
	s := &Server{
		// no write timeout: proxied dev server connections (HMR sockets) are long-lived
		srv: &http.Server{
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		ln:  ln,
		tls: tlsCfg != nil,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("devhost server stopped", "error", err)
		}
	}()
	logger.Info("devhost listening", "url", s.URL())
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// URL returns the base URL of the listener.
func (s *Server) URL() string {
	if s.tls {
		return "https://" + s.Addr()
	}
	return "http://" + s.Addr()
}

// Shutdown gracefully stops the listener.
func (s *Server) Shutdown(ctx context.Context) error { return s.srv.Shutdown(ctx) }

// Close stops the listener immediately.
func (s *Server) Close() error { return s.srv.Close() }
