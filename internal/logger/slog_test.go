package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewSloggerToJSON(t *testing.T) {
	var buf bytes.Buffer
	l := Config{Slog: SlogConfig{Level: LevelWarn, Format: FormatJSON}}.NewSloggerTo(&buf)
	l.Info("hidden")
	l.Warn("shown", slog.Int("port", 3000))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one record above level, got %q", buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if rec["msg"] != "shown" || rec["port"] != float64(3000) {
		t.Fatalf("unexpected record: %v", rec)
	}
	if _, ok := rec["time"]; ok {
		t.Fatalf("time attribute present with TimeStamps=false: %v", rec)
	}
}

func TestColorHandlerKeepsColorOnDerivedLoggers(t *testing.T) {
	var buf bytes.Buffer
	l := Config{Slog: SlogConfig{Color: true}}.NewSloggerTo(&buf)
	l.With(slog.String("stream", "stderr")).Error("boom")

	out := buf.String()
	if !strings.Contains(out, "\033[31mERROR\033[0m") {
		t.Fatalf("missing red level prefix: %q", out)
	}
	if !strings.Contains(out, "stream=stderr") {
		t.Fatalf("missing attribute from With: %q", out)
	}
	if strings.Contains(out, "time=") {
		t.Fatalf("time printed with TimeStamps=false: %q", out)
	}
}

func TestStreamSinkTeesRawLines(t *testing.T) {
	var logBuf, raw bytes.Buffer
	l := Config{Slog: SlogConfig{Level: LevelDebug}}.NewSloggerTo(&logBuf)
	s := NewStreamSink(l, "web", "stdout", &raw)

	s.Log(slog.LevelInfo, "first")
	s.Log(slog.LevelError, "second")

	if raw.String() != "first\nsecond\n" {
		t.Fatalf("raw tee mismatch: %q", raw.String())
	}
	out := logBuf.String()
	for _, want := range []string{"msg=first", "msg=second", "server=web", "stream=stdout", "level=ERROR"} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output missing %q: %q", want, out)
		}
	}
}

func TestStreamSinkWithoutRawOrLogger(t *testing.T) {
	s := NewStreamSink(nil, "web", "stderr", nil)
	if s.Logger == nil {
		t.Fatal("nil logger not replaced with default")
	}
	s.Log(slog.LevelDebug, "ignored")
}

func TestNewProcessLogger(t *testing.T) {
	if l := (Config{}).NewProcessLogger("x"); l != nil {
		t.Fatal("expected nil process logger without file destinations")
	}
	dir := t.TempDir()
	l := Config{File: FileConfig{Dir: dir}}.NewProcessLogger("x")
	if l == nil {
		t.Fatal("expected process logger with Dir set")
	}
	l.Info("started")
}
