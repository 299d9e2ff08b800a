package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/devhost/internal/env"
	"github.com/loykin/devhost/internal/logger"
	"github.com/loykin/devhost/internal/provision"
	"github.com/loykin/devhost/internal/supervisor"
)

// EnvPrefix prefixes environment overrides, e.g. DEVHOST_DEVSERVER_PORT=4000.
const EnvPrefix = "DEVHOST"

// Config represents the top-level TOML structure.
type Config struct {
	DevServer DevServerConfig `toml:"devserver" mapstructure:"devserver"`
	Log       LogConfig       `toml:"log" mapstructure:"log"`
	Server    ServerConfig    `toml:"server" mapstructure:"server"`
	Metrics   MetricsConfig   `toml:"metrics" mapstructure:"metrics"`
	History   HistoryConfig   `toml:"history" mapstructure:"history"`

	// path of the file this config was read from, empty for defaults only
	path string
}

type DevServerConfig struct {
	Name           string          `toml:"name" mapstructure:"name"`
	Port           int             `toml:"port" mapstructure:"port"`
	Host           string          `toml:"host" mapstructure:"host"`
	Scheme         string          `toml:"scheme" mapstructure:"scheme"`
	SourceDir      string          `toml:"source_dir" mapstructure:"source_dir"`
	StartupTimeout time.Duration   `toml:"startup_timeout" mapstructure:"startup_timeout"`
	Command        string          `toml:"command" mapstructure:"command"`
	Args           []string        `toml:"args" mapstructure:"args"`
	Sentinel       string          `toml:"sentinel" mapstructure:"sentinel"`
	Env            []string        `toml:"env" mapstructure:"env"`
	EnvFiles       []string        `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv       bool            `toml:"use_os_env" mapstructure:"use_os_env"`
	Artifacts      ArtifactsConfig `toml:"artifacts" mapstructure:"artifacts"`
}

type ArtifactsConfig struct {
	Enabled       bool          `toml:"enabled" mapstructure:"enabled"`
	IdentityFile  string        `toml:"identity_file" mapstructure:"identity_file"`
	ConfigFile    string        `toml:"config_file" mapstructure:"config_file"`
	ExportCommand string        `toml:"export_command" mapstructure:"export_command"`
	ExportArgs    []string      `toml:"export_args" mapstructure:"export_args"`
	ExportTimeout time.Duration `toml:"export_timeout" mapstructure:"export_timeout"`
	Template      string        `toml:"template" mapstructure:"template"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	Color      bool   `toml:"color" mapstructure:"color"`
	Timestamps bool   `toml:"timestamps" mapstructure:"timestamps"`
	File       string `toml:"file" mapstructure:"file"`
	Dir        string `toml:"dir" mapstructure:"dir"`
	Stdout     string `toml:"stdout" mapstructure:"stdout"`
	Stderr     string `toml:"stderr" mapstructure:"stderr"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// ServerConfig configures the host HTTP listener that proxies to the dev server.
type ServerConfig struct {
	Listen           string     `toml:"listen" mapstructure:"listen"`
	BasePath         string     `toml:"base_path" mapstructure:"base_path"`
	InsecureUpstream bool       `toml:"insecure_upstream" mapstructure:"insecure_upstream"`
	TLSMinVersion    string     `toml:"tls_min_version" mapstructure:"tls_min_version"`
	TLSMaxVersion    string     `toml:"tls_max_version" mapstructure:"tls_max_version"`
	TLS              *TLSConfig `toml:"tls" mapstructure:"tls"`
}

type TLSConfig struct {
	Enabled      bool        `toml:"enabled" mapstructure:"enabled"`
	CertFile     string      `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string      `toml:"key_file" mapstructure:"key_file"`
	Dir          string      `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool        `toml:"auto_generate" mapstructure:"auto_generate"`
	AutoGen      *AutoGenTLS `toml:"auto_gen" mapstructure:"auto_gen"`
}

// AutoGenTLS tunes self-signed certificate generation.
type AutoGenTLS struct {
	CommonName   string   `toml:"common_name" mapstructure:"common_name"`
	Organization string   `toml:"organization" mapstructure:"organization"`
	DNSNames     []string `toml:"dns_names" mapstructure:"dns_names"`
	IPAddresses  []string `toml:"ip_addresses" mapstructure:"ip_addresses"`
	ValidDays    int      `toml:"valid_days" mapstructure:"valid_days"`
}

type MetricsConfig struct {
	Enabled bool `toml:"enabled" mapstructure:"enabled"`
}

type HistoryConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	DSN     string `toml:"dsn" mapstructure:"dsn"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("devserver.name", supervisor.DefaultName)
	v.SetDefault("devserver.port", supervisor.DefaultPort)
	v.SetDefault("devserver.host", supervisor.DefaultHost)
	v.SetDefault("devserver.scheme", supervisor.DefaultScheme)
	v.SetDefault("devserver.source_dir", ".")
	v.SetDefault("devserver.startup_timeout", supervisor.DefaultStartupTimeout)
	v.SetDefault("devserver.command", supervisor.DefaultCommand)
	v.SetDefault("devserver.args", supervisor.DefaultArgs)
	v.SetDefault("devserver.sentinel", "")
	v.SetDefault("devserver.use_os_env", true)
	v.SetDefault("devserver.artifacts.enabled", true)
	v.SetDefault("devserver.artifacts.identity_file", provision.DefaultIdentityFile)
	v.SetDefault("devserver.artifacts.config_file", provision.DefaultConfigFile)
	v.SetDefault("devserver.artifacts.export_command", provision.DefaultExportCommand)
	v.SetDefault("devserver.artifacts.export_args", provision.DefaultExportArgs)
	v.SetDefault("devserver.artifacts.export_timeout", provision.DefaultExportTimeout)
	v.SetDefault("log.level", logger.LevelInfo)
	v.SetDefault("log.format", logger.FormatText)
	v.SetDefault("log.color", true)
	v.SetDefault("log.timestamps", true)
	v.SetDefault("server.listen", "127.0.0.1:8080")
	v.SetDefault("server.base_path", "/_devhost")
	v.SetDefault("server.insecure_upstream", true)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.dsn", "")
}

// Load reads path (TOML) over the defaults and applies DEVHOST_* environment
// overrides. An empty path yields defaults plus environment. Relative
// source_dir, env_files, log and TLS paths are resolved against the config
// file's directory.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.path = path

	base, err := c.baseDir()
	if err != nil {
		return nil, err
	}
	c.resolvePaths(base)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Path returns the file the config was loaded from.
func (c *Config) Path() string { return c.path }

func (c *Config) baseDir() (string, error) {
	if c.path != "" {
		return filepath.Dir(filepath.Clean(c.path)), nil
	}
	return os.Getwd()
}

// resolvePaths anchors every relative file or directory setting at base.
func (c *Config) resolvePaths(base string) {
	c.DevServer.SourceDir = resolve(base, c.DevServer.SourceDir)
	for i, f := range c.DevServer.EnvFiles {
		c.DevServer.EnvFiles[i] = resolve(base, f)
	}
	for _, p := range []*string{&c.Log.File, &c.Log.Dir, &c.Log.Stdout, &c.Log.Stderr} {
		*p = resolve(base, *p)
	}
	if t := c.Server.TLS; t != nil {
		t.Dir = resolve(base, t.Dir)
		t.CertFile = resolve(base, t.CertFile)
		t.KeyFile = resolve(base, t.KeyFile)
	}
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// Validate enforces the configuration invariants.
func (c *Config) Validate() error {
	var errs []error
	d := c.DevServer
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Errorf("devserver.port %d out of range 1..65535", d.Port))
	}
	if d.StartupTimeout <= 0 {
		errs = append(errs, fmt.Errorf("devserver.startup_timeout must be positive, got %s", d.StartupTimeout))
	}
	if d.Scheme != "http" && d.Scheme != "https" {
		errs = append(errs, fmt.Errorf("devserver.scheme must be http or https, got %q", d.Scheme))
	}
	if strings.TrimSpace(d.Command) == "" {
		errs = append(errs, errors.New("devserver.command is required"))
	}
	if d.Artifacts.Enabled && strings.TrimSpace(d.Artifacts.ExportCommand) == "" {
		errs = append(errs, errors.New("devserver.artifacts.export_command is required when artifacts are enabled"))
	}
	if bp := c.Server.BasePath; bp != "" && !strings.HasPrefix(bp, "/") {
		errs = append(errs, fmt.Errorf("server.base_path must start with '/', got %q", bp))
	}
	if t := c.Server.TLS; t != nil && t.Enabled && t.Dir == "" && (t.CertFile == "" || t.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires cert_file and key_file, or dir"))
	}
	if c.History.Enabled && strings.TrimSpace(c.History.DSN) == "" {
		errs = append(errs, errors.New("history.dsn is required when history is enabled"))
	}
	return errors.Join(errs...)
}

// Environ builds the dev server environment: the OS environment when
// use_os_env is set, then env_files in order, then the env list.
// ${VAR} references are expanded against the layers below.
func (c *Config) Environ() ([]string, error) {
	d := c.DevServer
	if !d.UseOSEnv && len(d.EnvFiles) == 0 && len(d.Env) == 0 {
		return nil, nil
	}
	e := env.New().WithInherit(d.UseOSEnv)
	for _, p := range d.EnvFiles {
		pairs, err := LoadEnvFile(p)
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", p, err)
		}
		e = e.Layer(pairs)
	}
	return e.Merge(d.Env), nil
}

// Supervisor maps the config onto a supervisor.Config, including the environment.
func (c *Config) Supervisor() (supervisor.Config, error) {
	environ, err := c.Environ()
	if err != nil {
		return supervisor.Config{}, err
	}
	d := c.DevServer
	return supervisor.Config{
		Name:           d.Name,
		Port:           d.Port,
		Host:           d.Host,
		Scheme:         d.Scheme,
		SourceDir:      d.SourceDir,
		StartupTimeout: d.StartupTimeout,
		Command:        d.Command,
		Args:           d.Args,
		Env:            environ,
		Sentinel:       d.Sentinel,
	}, nil
}

// Provision maps the artifacts section onto a provision.Config.
func (c *Config) Provision() provision.Config {
	a := c.DevServer.Artifacts
	return provision.Config{
		IdentityFile:  a.IdentityFile,
		ConfigFile:    a.ConfigFile,
		ExportCommand: a.ExportCommand,
		ExportArgs:    a.ExportArgs,
		ExportTimeout: a.ExportTimeout,
		Template:      a.Template,
	}
}

// Logger maps the log section onto a logger.Config.
func (c *Config) Logger() logger.Config {
	l := c.Log
	return logger.Config{
		Slog: logger.SlogConfig{
			Level:      l.Level,
			Format:     l.Format,
			Color:      l.Color,
			TimeStamps: l.Timestamps,
		},
		File: logger.FileConfig{
			Dir:        l.Dir,
			StdoutPath: l.Stdout,
			StderrPath: l.Stderr,
			Path:       l.File,
			MaxSizeMB:  l.MaxSizeMB,
			MaxBackups: l.MaxBackups,
			MaxAgeDays: l.MaxAgeDays,
			Compress:   l.Compress,
		},
	}
}

// LoadEnvFile parses a simple .env file and returns a slice of "KEY=VALUE" entries.
func LoadEnvFile(path string) ([]string, error) {
	m, err := loadEnvFile(path)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines. Lines starting
// with # are ignored, and one matching pair of surrounding quotes is removed
// from a value.
func loadEnvFile(path string) (map[string]string, error) {
	// Mitigate G304: sanitize user-provided path by cleaning it before use.
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			m[k] = unquote(strings.TrimSpace(line[i+1:]))
		}
	}
	return m, nil
}

func unquote(v string) string {
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	return v
}
