// Package tls configures TLS for the devhost listener.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/loykin/devhost/internal/config"
)

// File names used inside a TLS directory.
const (
	CertName = "tls.crt"
	KeyName  = "tls.key"
	CAName   = "tls_ca.crt"
)

// Defaults for generated certificates.
const (
	DefaultOrganization = "devhost"
	DefaultValidDays    = 365
)

var tlsVersions = map[string]uint16{
	"1.2": tls.VersionTLS12, "tls1.2": tls.VersionTLS12,
	"1.3": tls.VersionTLS13, "tls1.3": tls.VersionTLS13,
}

// versionRange maps the configured bounds, defaulting to TLS 1.2 through 1.3.
func versionRange(cfg config.ServerConfig) (lo, hi uint16, err error) {
	lo, hi = tls.VersionTLS12, tls.VersionTLS13
	if s := strings.ToLower(strings.TrimSpace(cfg.TLSMinVersion)); s != "" {
		v, ok := tlsVersions[s]
		if !ok {
			return 0, 0, fmt.Errorf("unknown tls_min_version %q", cfg.TLSMinVersion)
		}
		lo = v
	}
	if s := strings.ToLower(strings.TrimSpace(cfg.TLSMaxVersion)); s != "" {
		v, ok := tlsVersions[s]
		if !ok {
			return 0, 0, fmt.Errorf("unknown tls_max_version %q", cfg.TLSMaxVersion)
		}
		hi = v
	}
	if lo > hi {
		return 0, 0, errors.New("tls_min_version is above tls_max_version")
	}
	return lo, hi, nil
}

// reloader serves a key pair from disk and re-reads it when either file's
// modification time changes, so a certificate can be replaced in place.
type reloader struct {
	certPath, keyPath string

	mu      sync.Mutex
	cert    *tls.Certificate
	certMod time.Time
	keyMod  time.Time
}

func newReloader(certPath, keyPath string) (*reloader, error) {
	r := &reloader{certPath: certPath, keyPath: keyPath}
	if _, err := r.current(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *reloader) current() (*tls.Certificate, error) {
	cm, err := modTime(r.certPath)
	if err != nil {
		return nil, err
	}
	km, err := modTime(r.keyPath)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cert != nil && cm.Equal(r.certMod) && km.Equal(r.keyMod) {
		return r.cert, nil
	}
	pair, err := tls.LoadX509KeyPair(r.certPath, r.keyPath)
	if err != nil {
		if r.cert != nil {
			// a half-written replacement keeps the previous pair in service
			return r.cert, nil
		}
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	r.cert, r.certMod, r.keyMod = &pair, cm, km
	return r.cert, nil
}

func (r *reloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return r.current()
}

func modTime(p string) (time.Time, error) {
	fi, err := os.Stat(p)
	if err != nil {
		return time.Time{}, err
	}
	return fi.ModTime(), nil
}

// SetupTLS returns the listener TLS config, or nil when TLS is disabled.
// Explicit cert/key files win over a directory. With auto_generate a
// self-signed pair is written to the directory only if it is absent.
func SetupTLS(server config.ServerConfig) (*tls.Config, error) {
	t := server.TLS
	if t == nil || !t.Enabled {
		return nil, nil
	}
	lo, hi, err := versionRange(server)
	if err != nil {
		return nil, err
	}

	var certPath, keyPath string
	switch {
	case t.CertFile != "" && t.KeyFile != "":
		certPath, keyPath = t.CertFile, t.KeyFile
	case t.Dir != "":
		certPath, keyPath = filepath.Join(t.Dir, CertName), filepath.Join(t.Dir, KeyName)
		if !exists(certPath) || !exists(keyPath) {
			if !t.AutoGenerate {
				return nil, fmt.Errorf("no certificate in %s and auto_generate is off", t.Dir)
			}
			if err := generate(t.AutoGen, t.Dir); err != nil {
				return nil, fmt.Errorf("generate certificate: %w", err)
			}
		}
	default:
		return nil, errors.New("tls enabled without cert_file/key_file or dir")
	}

	r, err := newReloader(certPath, keyPath)
	if err != nil {
		return nil, err
	}
	// #nosec G402 minimum version is operator-configurable
	return &tls.Config{GetCertificate: r.GetCertificate, MinVersion: lo, MaxVersion: hi}, nil
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

func generate(ag *config.AutoGenTLS, dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	var a config.AutoGenTLS
	if ag != nil {
		a = *ag
	}
	if a.CommonName == "" {
		a.CommonName = "localhost"
	}
	if a.Organization == "" {
		a.Organization = DefaultOrganization
	}
	if len(a.DNSNames) == 0 {
		a.DNSNames = []string{"localhost"}
	}
	if len(a.IPAddresses) == 0 {
		a.IPAddresses = []string{"127.0.0.1", "::1"}
	}
	if a.ValidDays <= 0 {
		a.ValidDays = DefaultValidDays
	}
	return GenerateSelfSignedCert(CertConfig{
		CommonName:   a.CommonName,
		Organization: a.Organization,
		DNSNames:     a.DNSNames,
		IPAddresses:  a.IPAddresses,
		NotAfter:     time.Now().AddDate(0, 0, a.ValidDays),
		CertPath:     filepath.Join(dir, CertName),
		KeyPath:      filepath.Join(dir, KeyName),
		CACertPath:   filepath.Join(dir, CAName),
	})
}
