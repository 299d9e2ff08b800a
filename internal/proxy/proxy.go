// Package proxy forwards host traffic to the dev server once it is ready.
package proxy

import (
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync/atomic"
	"time"
)

// Forwarder is a reverse proxy whose upstream is set by Forward. Until then
// every request is answered with 503.
type Forwarder struct {
	target    atomic.Pointer[httputil.ReverseProxy]
	endpoint  atomic.Pointer[url.URL]
	transport http.RoundTripper
	logger    *slog.Logger
}

// Options configures a Forwarder.
type Options struct {
	// InsecureSkipVerify accepts the dev server's self-signed certificate.
	InsecureSkipVerify bool
	Logger             *slog.Logger
}

// New returns a Forwarder without an upstream.
func New(o Options) *Forwarder {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.IdleConnTimeout = 90 * time.Second
	if o.InsecureSkipVerify {
		// #nosec G402 the upstream is a local development server
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	l := o.Logger
	if l == nil {
		l = slog.Default()
	}
	return &Forwarder{transport: t, logger: l}
}

// Forward directs subsequent requests to endpoint. It may be called again to
// switch upstreams.
func (f *Forwarder) Forward(endpoint *url.URL) error {
	if endpoint == nil || endpoint.Host == "" {
		return errors.New("proxy: endpoint must include a host")
	}
	if endpoint.Scheme != "http" && endpoint.Scheme != "https" {
		return errors.New("proxy: endpoint scheme must be http or https")
	}
	u := *endpoint
	rp := &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(&u)
			r.SetXForwarded()
		},
		Transport: f.transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			f.logger.Warn("proxy upstream error", "upstream", u.String(), "path", r.URL.Path, "error", err)
			http.Error(w, "dev server unavailable", http.StatusBadGateway)
		},
	}
	f.endpoint.Store(&u)
	f.target.Store(rp)
	f.logger.Info("forwarding traffic", "upstream", u.String())
	return nil
}

// Endpoint returns the current upstream, or nil before Forward.
func (f *Forwarder) Endpoint() *url.URL {
	u := f.endpoint.Load()
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rp := f.target.Load()
	if rp == nil {
		w.Header().Set("Retry-After", "1")
		http.Error(w, "dev server is starting", http.StatusServiceUnavailable)
		return
	}
	rp.ServeHTTP(w, r)
}
