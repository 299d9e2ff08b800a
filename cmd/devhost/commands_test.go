package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/loykin/devhost/internal/history"
	"github.com/loykin/devhost/internal/history/sqlite"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "devhost.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestRunInit(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "conf", "devhost.toml")
	var buf bytes.Buffer

	if err := runInit(InitFlags{Type: "vite", Name: "web", Output: out}, &buf); err != nil {
		t.Fatalf("runInit: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), "[devserver]") || !(strings.Contains(string(data), "name = 'web'") || strings.Contains(string(data), `name = "web"`)) {
		t.Fatalf("unexpected toml:\n%s", data)
	}
	if !strings.Contains(buf.String(), "devhost run "+out) {
		t.Fatalf("unexpected output: %q", buf.String())
	}

	if err := runInit(InitFlags{Type: "vite", Output: out}, &buf); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected exists error, got %v", err)
	}
	if err := runInit(InitFlags{Type: "next", Output: out, Force: true}, &buf); err != nil {
		t.Fatalf("force: %v", err)
	}

	jsonOut := filepath.Join(dir, "devhost.json")
	if err := runInit(InitFlags{Type: "angular", Output: jsonOut, Format: "json"}, &buf); err != nil {
		t.Fatalf("json: %v", err)
	}
	var m map[string]any
	data, _ = os.ReadFile(jsonOut)
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("invalid json: %v", err)
	}

	if err := runInit(InitFlags{Type: "vite", Output: filepath.Join(dir, "x"), Format: "yaml"}, &buf); err == nil {
		t.Fatal("expected unsupported format error")
	}
	if err := runInit(InitFlags{Type: "rails", Output: filepath.Join(dir, "y")}, &buf); err == nil {
		t.Fatal("expected unknown type error")
	}
}

func TestRunProbeClosedPort(t *testing.T) {
	var buf bytes.Buffer
	if err := runProbe(ProbeFlags{Port: 1}, &buf); err != nil {
		t.Fatalf("runProbe: %v", err)
	}
	var res probeResult
	if err := json.Unmarshal(buf.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v (%s)", err, buf.String())
	}
	if res.Port != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func fakeAdmin(t *testing.T, ready bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	state := "awaiting_readiness"
	code := http.StatusServiceUnavailable
	if ready {
		state, code = "ready", http.StatusOK
	}
	mux.HandleFunc("/_devhost/status", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name":"web","state":"` + state + `","port":3000}`))
	})
	mux.HandleFunc("/_devhost/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
		_, _ = w.Write([]byte(`{"state":"` + state + `","ready":` + map[bool]string{true: "true", false: "false"}[ready] + `}`))
	})
	mux.HandleFunc("/_devhost/stop", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRunStatusAndStop(t *testing.T) {
	srv := fakeAdmin(t, true)
	f := APIFlags{APIUrl: srv.URL + "/_devhost", APITimeout: time.Second, WaitReady: time.Second, Wait: time.Second}
	var buf bytes.Buffer
	if err := runStatus(context.Background(), f, &buf); err != nil {
		t.Fatalf("runStatus: %v", err)
	}
	if !strings.Contains(buf.String(), `"state": "ready"`) {
		t.Fatalf("unexpected status output: %s", buf.String())
	}
	buf.Reset()
	if err := runStop(context.Background(), f, &buf); err != nil {
		t.Fatalf("runStop: %v", err)
	}
	if strings.TrimSpace(buf.String()) != "stopped" {
		t.Fatalf("unexpected stop output: %q", buf.String())
	}
}

func TestRunStatusWaitReadyTimesOut(t *testing.T) {
	srv := fakeAdmin(t, false)
	f := APIFlags{APIUrl: srv.URL + "/_devhost", APITimeout: time.Second, WaitReady: 300 * time.Millisecond}
	err := runStatus(context.Background(), f, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "not ready") {
		t.Fatalf("expected not ready error, got %v", err)
	}
}

func TestRunHistoryFromSQLite(t *testing.T) {
	db := filepath.Join(t.TempDir(), "history.db")
	sink, err := sqlite.New(db)
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	now := time.Now().UTC()
	for i, typ := range []history.EventType{history.EventReady, history.EventExited} {
		e := history.Event{Type: typ, OccurredAt: now.Add(time.Duration(i) * time.Second),
			Record: history.Record{Name: "web", Port: 3000, Outcome: string(typ)}}
		if err := sink.Send(context.Background(), e); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	_ = sink.Close()

	var buf bytes.Buffer
	if err := runHistory(context.Background(), HistoryFlags{DSN: db, Name: "web", Limit: 5}, &buf); err != nil {
		t.Fatalf("runHistory: %v", err)
	}
	var events []history.Event
	if err := json.Unmarshal(buf.Bytes(), &events); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 2 || events[0].Type != history.EventExited {
		t.Fatalf("expected newest first, got %+v", events)
	}

	buf.Reset()
	if err := runHistory(context.Background(), HistoryFlags{DSN: db, Name: "other"}, &buf); err != nil {
		t.Fatalf("runHistory other: %v", err)
	}
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Fatalf("expected empty list, got %s", buf.String())
	}
}

func TestRunHistoryRequiresDSN(t *testing.T) {
	cfg := writeConfig(t, "[devserver]\nname = \"web\"\n")
	err := runHistory(context.Background(), HistoryFlags{ConfigPath: cfg}, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "DSN required") {
		t.Fatalf("expected DSN error, got %v", err)
	}
}

func TestRunProvision(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	cfg := writeConfig(t, `
[devserver.artifacts]
export_command = "sh"
export_args = ["-c", "printf pfx > \"$0\"", "{identity}"]
`)
	dir := t.TempDir()
	var buf bytes.Buffer
	if err := runProvision(context.Background(), ProvisionFlags{ConfigPath: cfg, Dir: dir}, &buf); err != nil {
		t.Fatalf("runProvision: %v", err)
	}
	for _, f := range []string{"devcert.pfx", "vite.config.js"} {
		if _, err := os.Stat(filepath.Join(dir, f)); err != nil {
			t.Fatalf("%s not created: %v", f, err)
		}
	}
	if strings.Contains(buf.String(), "passphrase") {
		t.Fatalf("passphrase must not be printed: %s", buf.String())
	}
	if !strings.Contains(buf.String(), `"created": true`) {
		t.Fatalf("unexpected output: %s", buf.String())
	}

	buf.Reset()
	if err := runProvision(context.Background(), ProvisionFlags{ConfigPath: cfg, Dir: dir}, &buf); err != nil {
		t.Fatalf("second runProvision: %v", err)
	}
	if !strings.Contains(buf.String(), `"created": false`) {
		t.Fatalf("second run must not recreate: %s", buf.String())
	}
}
