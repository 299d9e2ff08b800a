package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/devhost/internal/config"
	"github.com/loykin/devhost/internal/detector"
	"github.com/loykin/devhost/internal/history"
	"github.com/loykin/devhost/internal/history/factory"
	"github.com/loykin/devhost/internal/provision"
	"github.com/loykin/devhost/pkg/client"
	"github.com/loykin/devhost/pkg/template"
)

func runProvision(ctx context.Context, f ProvisionFlags, out io.Writer) error {
	cfg, err := config.Load(f.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	dir := cfg.DevServer.SourceDir
	if f.Dir != "" {
		dir = f.Dir
	}
	p, err := provision.New(cfg.Provision(), provision.WithLogger(cfg.Logger().NewSlogger()))
	if err != nil {
		return err
	}
	a, err := p.Ensure(ctx, dir)
	if err != nil {
		return err
	}
	printJSON(out, a)
	return nil
}

type probeResult struct {
	Port      int    `json:"port"`
	Listening bool   `json:"listening"`
	Error     string `json:"error,omitempty"`
}

func runProbe(f ProbeFlags, out io.Writer) error {
	if f.Port < 1 || f.Port > 65535 {
		return fmt.Errorf("port %d out of range 1..65535", f.Port)
	}
	ok, err := detector.Port{Port: f.Port}.Alive()
	res := probeResult{Port: f.Port, Listening: ok}
	if err != nil {
		res.Error = err.Error()
	}
	printJSON(out, res)
	return nil
}

func newAPIClient(f APIFlags) (*client.Client, error) {
	return client.New(client.Config{
		BaseURL:  f.APIUrl,
		Timeout:  f.APITimeout,
		Insecure: f.Insecure,
	})
}

func runStatus(ctx context.Context, f APIFlags, out io.Writer) error {
	c, err := newAPIClient(f)
	if err != nil {
		return err
	}
	if f.WaitReady > 0 {
		if err := waitReady(ctx, c, f.WaitReady, 250*time.Millisecond); err != nil {
			return err
		}
	}
	st, err := c.Status(ctx)
	if err != nil {
		return err
	}
	printJSON(out, st)
	return nil
}

// waitReady polls the health endpoint until it reports ready.
func waitReady(ctx context.Context, c *client.Client, limit, every time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		if c.Healthy(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("dev server not ready after %s", limit)
		case <-t.C:
		}
	}
}

func runStop(ctx context.Context, f APIFlags, out io.Writer) error {
	c, err := newAPIClient(f)
	if err != nil {
		return err
	}
	if err := c.Stop(ctx, f.Wait); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(out, "stopped")
	return nil
}

func runInit(f InitFlags, out io.Writer) error {
	gen := template.NewGenerator()
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(f.Format) {
	case "", "toml":
		data, err = gen.GenerateTOML(template.TemplateType(f.Type), f.Name)
	case "json":
		data, err = gen.GenerateJSON(template.TemplateType(f.Type), f.Name)
	default:
		return fmt.Errorf("unsupported format %q (toml or json)", f.Format)
	}
	if err != nil {
		return fmt.Errorf("failed to generate template: %w", err)
	}

	outputPath := f.Output
	if outputPath == "" {
		outputPath = "devhost." + strings.ToLower(valueOr(f.Format, "toml"))
	}
	if _, err := os.Stat(outputPath); err == nil && !f.Force {
		return fmt.Errorf("config file '%s' already exists (use --force to overwrite)", outputPath)
	}
	if dir := filepath.Dir(outputPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	if err := os.WriteFile(outputPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	_, _ = fmt.Fprintf(out, "config created: %s\nstart with: devhost run %s\n", outputPath, outputPath)
	return nil
}

// recentLister is implemented by history stores that can be read back.
type recentLister interface {
	Recent(ctx context.Context, name string, limit int) ([]history.Event, error)
}

func runHistory(ctx context.Context, f HistoryFlags, out io.Writer) error {
	dsn, name := f.DSN, f.Name
	if dsn == "" || name == "" {
		cfg, err := config.Load(f.ConfigPath)
		if err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
		dsn = valueOr(dsn, cfg.History.DSN)
		name = valueOr(name, cfg.DevServer.Name)
	}
	if dsn == "" {
		return errors.New("history DSN required (--dsn or history.dsn)")
	}
	sink, err := factory.NewSinkFromDSN(dsn)
	if err != nil {
		return err
	}
	if c, ok := sink.(io.Closer); ok {
		defer func() { _ = c.Close() }()
	}
	rl, ok := sink.(recentLister)
	if !ok {
		return fmt.Errorf("history store %q cannot be queried; use its own tooling", dsn)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	events, err := rl.Recent(ctx, name, limit)
	if err != nil {
		return err
	}
	if events == nil {
		events = []history.Event{}
	}
	printJSON(out, events)
	return nil
}

func valueOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func printJSON(out io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(out, string(b))
}
