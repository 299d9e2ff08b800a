// Package template generates starter devhost configuration files for common
// dev server toolchains.
package template

import (
	"encoding/json"
	"fmt"

	"github.com/pelletier/go-toml/v2"
)

// TemplateType represents the type of template to generate
type TemplateType string

const (
	TypeVite      TemplateType = "vite"
	TypeViteHTTP  TemplateType = "vite-http"
	TypeNext      TemplateType = "next"
	TypeNextJS    TemplateType = "nextjs"
	TypeAngular   TemplateType = "angular"
	TypeNG        TemplateType = "ng"
	TypeSimple    TemplateType = "simple"
	TypeBasic     TemplateType = "basic"
	DefaultType                = TypeVite
	defaultListen              = "127.0.0.1:8080"
)

// ConfigTemplate is a devhost configuration file.
type ConfigTemplate struct {
	DevServer DevServerTemplate `toml:"devserver" json:"devserver"`
	Server    ServerTemplate    `toml:"server" json:"server"`
}

// DevServerTemplate mirrors the [devserver] table.
type DevServerTemplate struct {
	Name           string             `toml:"name" json:"name"`
	Port           int                `toml:"port" json:"port"`
	Scheme         string             `toml:"scheme" json:"scheme"`
	SourceDir      string             `toml:"source_dir" json:"source_dir"`
	StartupTimeout string             `toml:"startup_timeout,omitempty" json:"startup_timeout,omitempty"`
	Command        string             `toml:"command" json:"command"`
	Args           []string           `toml:"args,omitempty" json:"args,omitempty"`
	Sentinel       string             `toml:"sentinel,omitempty" json:"sentinel,omitempty"`
	Env            []string           `toml:"env,omitempty" json:"env,omitempty"`
	Artifacts      *ArtifactsTemplate `toml:"artifacts,omitempty" json:"artifacts,omitempty"`
}

// ArtifactsTemplate mirrors the [devserver.artifacts] table.
type ArtifactsTemplate struct {
	Enabled    bool   `toml:"enabled" json:"enabled"`
	ConfigFile string `toml:"config_file,omitempty" json:"config_file,omitempty"`
}

// ServerTemplate mirrors the [server] table.
type ServerTemplate struct {
	Listen           string `toml:"listen" json:"listen"`
	InsecureUpstream bool   `toml:"insecure_upstream" json:"insecure_upstream"`
}

// Generator provides template generation functionality
type Generator struct{}

// NewGenerator creates a new template generator
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate creates a configuration template for the toolchain type. name
// becomes the dev server name used in logs and history.
func (g *Generator) Generate(templateType TemplateType, name string) (*ConfigTemplate, error) {
	if name == "" {
		name = "devserver"
	}
	var ds DevServerTemplate
	switch templateType {
	case "", TypeVite:
		ds = g.viteTemplate()
	case TypeViteHTTP:
		ds = g.viteHTTPTemplate()
	case TypeNext, TypeNextJS:
		ds = g.nextTemplate()
	case TypeAngular, TypeNG:
		ds = g.angularTemplate()
	case TypeSimple, TypeBasic:
		ds = g.simpleTemplate()
	default:
		return nil, fmt.Errorf("unknown template type: %s (supported: vite, vite-http, next, angular, simple)", templateType)
	}
	ds.Name = name
	ds.SourceDir = "."
	return &ConfigTemplate{
		DevServer: ds,
		Server:    ServerTemplate{Listen: defaultListen, InsecureUpstream: ds.Scheme == "https"},
	}, nil
}

// GenerateTOML renders the template as a devhost TOML config file.
func (g *Generator) GenerateTOML(templateType TemplateType, name string) ([]byte, error) {
	t, err := g.Generate(templateType, name)
	if err != nil {
		return nil, err
	}
	data, err := toml.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal template: %w", err)
	}
	return data, nil
}

// GenerateJSON creates a JSON representation of the template
func (g *Generator) GenerateJSON(templateType TemplateType, name string) ([]byte, error) {
	t, err := g.Generate(templateType, name)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal template: %w", err)
	}
	return data, nil
}

// GetSupportedTypes returns a list of all supported template types
func (g *Generator) GetSupportedTypes() []string {
	return []string{
		string(TypeVite),
		string(TypeViteHTTP),
		string(TypeNext),
		string(TypeAngular),
		string(TypeSimple),
	}
}

// vite over https with a provisioned development identity
func (g *Generator) viteTemplate() DevServerTemplate {
	return DevServerTemplate{
		Port:           3000,
		Scheme:         "https",
		StartupTimeout: "2m",
		Command:        "npm",
		Args:           []string{"run", "dev"},
		Sentinel:       "Dev server running at:",
		Artifacts:      &ArtifactsTemplate{Enabled: true, ConfigFile: "vite.config.js"},
	}
}

func (g *Generator) viteHTTPTemplate() DevServerTemplate {
	return DevServerTemplate{
		Port:           5173,
		Scheme:         "http",
		StartupTimeout: "1m",
		Command:        "npm",
		Args:           []string{"run", "dev", "--", "--port", "5173", "--strictPort"},
		Sentinel:       "Local:",
		Artifacts:      &ArtifactsTemplate{Enabled: false},
	}
}

func (g *Generator) nextTemplate() DevServerTemplate {
	return DevServerTemplate{
		Port:           3000,
		Scheme:         "http",
		StartupTimeout: "2m",
		Command:        "npx",
		Args:           []string{"next", "dev", "-p", "3000"},
		Sentinel:       "Ready in",
		Env:            []string{"NEXT_TELEMETRY_DISABLED=1"},
		Artifacts:      &ArtifactsTemplate{Enabled: false},
	}
}

func (g *Generator) angularTemplate() DevServerTemplate {
	return DevServerTemplate{
		Port:           4200,
		Scheme:         "http",
		StartupTimeout: "3m",
		Command:        "npx",
		Args:           []string{"ng", "serve", "--port", "4200"},
		Sentinel:       "Local:",
		Env:            []string{"NG_CLI_ANALYTICS=false"},
		Artifacts:      &ArtifactsTemplate{Enabled: false},
	}
}

func (g *Generator) simpleTemplate() DevServerTemplate {
	return DevServerTemplate{
		Port:      8000,
		Scheme:    "http",
		Command:   "npm",
		Args:      []string{"start"},
		Artifacts: &ArtifactsTemplate{Enabled: false},
	}
}
