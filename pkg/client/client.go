package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// DefaultBaseURL matches the default server listen address and base path.
const DefaultBaseURL = "http://127.0.0.1:8080/_devhost"

const defaultTimeout = 10 * time.Second

// Client talks to the admin endpoints of a running devhost.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger
	TLS      *TLSClientConfig
	Insecure bool // skip certificate verification
}

// TLSClientConfig configures verification of a TLS-enabled devhost.
type TLSClientConfig struct {
	Enabled    bool
	CACert     string // PEM file to trust, e.g. tls_ca.crt from the server's TLS dir
	ClientCert string
	ClientKey  string
	ServerName string
	SkipVerify bool
}

// APIError is a non-2xx answer from devhost.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("devhost: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("devhost: HTTP %d: %s", e.StatusCode, e.Message)
}

func DefaultConfig() Config {
	return Config{BaseURL: DefaultBaseURL, Timeout: defaultTimeout}
}

// DefaultTLSConfig targets the default address over https using system roots.
func DefaultTLSConfig() Config {
	return Config{
		BaseURL: "https://127.0.0.1:8080/_devhost",
		Timeout: defaultTimeout,
		TLS:     &TLSClientConfig{Enabled: true},
	}
}

// InsecureConfig targets the default address over https without verification,
// which suits an auto-generated development certificate.
func InsecureConfig() Config {
	return Config{
		BaseURL:  "https://127.0.0.1:8080/_devhost",
		Timeout:  defaultTimeout,
		Insecure: true,
	}
}

// New creates a client. It fails only when the TLS material cannot be loaded.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tc, err := cfg.tlsConfig()
	if err != nil {
		return nil, err
	}
	if tc != nil {
		tr.TLSClientConfig = tc
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout, Transport: tr},
		logger:  cfg.Logger,
	}, nil
}

// Status fetches the supervisor status.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.do(ctx, http.MethodGet, "/status", nil, &st)
	return st, err
}

// Healthy reports whether devhost is reachable and its dev server is ready.
func (c *Client) Healthy(ctx context.Context) bool {
	var h Health
	err := c.do(ctx, http.MethodGet, "/healthz", nil, &h)
	if err != nil {
		c.logger.Debug("devhost not healthy", "error", err)
		return false
	}
	return h.Ready
}

// IsReachable reports whether devhost answers its status route at all,
// ready or not.
func (c *Client) IsReachable(ctx context.Context) bool {
	err := c.do(ctx, http.MethodGet, "/status", nil, nil)
	var apiErr *APIError
	return err == nil || errors.As(err, &apiErr) && apiErr.StatusCode != http.StatusNotFound
}

// Stop asks devhost to stop the dev server it launched, waiting up to wait
// before the process is killed. Zero uses the server's default.
func (c *Client) Stop(ctx context.Context, wait time.Duration) error {
	var q url.Values
	if wait > 0 {
		q = url.Values{"wait": {wait.String()}}
	}
	return c.do(ctx, http.MethodPost, "/stop", q, nil)
}

// do sends a bodiless request to path under the base URL and decodes a
// successful JSON answer into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, out any) error {
	target := c.baseURL + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var er ErrorResponse
	if json.Unmarshal(body, &er) == nil && er.Error != "" {
		apiErr.Message = er.Error
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}

// tlsConfig returns nil when the default transport settings apply.
func (cfg Config) tlsConfig() (*tls.Config, error) {
	if cfg.Insecure {
		// #nosec G402 opt-in for self-signed development certificates
		return &tls.Config{InsecureSkipVerify: true}, nil
	}
	t := cfg.TLS
	if t == nil || !t.Enabled {
		return nil, nil
	}
	// #nosec G402 SkipVerify is an explicit opt-in
	tc := &tls.Config{ServerName: t.ServerName, InsecureSkipVerify: t.SkipVerify}
	if t.CACert != "" {
		pem, err := os.ReadFile(t.CACert)
		if err != nil {
			return nil, fmt.Errorf("read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s", t.CACert)
		}
		tc.RootCAs = pool
	}
	if t.ClientCert != "" && t.ClientKey != "" {
		pair, err := tls.LoadX509KeyPair(t.ClientCert, t.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tc.Certificates = []tls.Certificate{pair}
	}
	return tc, nil
}
