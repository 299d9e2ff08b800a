package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/devhost/internal/config"
	"github.com/loykin/devhost/internal/history"
	"github.com/loykin/devhost/internal/history/sqlite"
	"github.com/loykin/devhost/internal/supervisor"
	"github.com/loykin/devhost/pkg/client"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port
}

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func TestAppRunServesStatusAndStopsOnExit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	db := filepath.Join(t.TempDir(), "history.db")
	port := freePort(t)
	path := writeConfig(t, fmt.Sprintf(`
[devserver]
name = "web"
port = %d
scheme = "http"
startup_timeout = "10s"
command = "sh"
args = ["-c", "echo booting; echo 'Dev server running at: http://localhost:%d'; exec sleep 30"]

[devserver.artifacts]
enabled = false

[log]
level = "error"

[server]
listen = "127.0.0.1:0"

[metrics]
enabled = true

[history]
enabled = true
dsn = %q
`, port, port, db))

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	a, err := newApp(cfg, RunFlags{StopOnExit: true, StopWait: 2 * time.Second})
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() { done <- a.run(ctx, out) }()

	c, err := client.New(client.Config{BaseURL: a.srv.URL() + cfg.Server.BasePath, Timeout: time.Second})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if err := waitReady(context.Background(), c, 10*time.Second, 50*time.Millisecond); err != nil {
		t.Fatalf("waitReady: %v", err)
	}
	st, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Name != "web" || st.PID <= 0 || st.AlreadyRunning {
		t.Fatalf("unexpected status: %+v", st)
	}
	if gin.Mode() != gin.ReleaseMode {
		t.Fatalf("gin mode = %q, want release", gin.Mode())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancel")
	}
	if !strings.Contains(out.String(), "dev server launched: http://localhost:") {
		t.Fatalf("unexpected output: %q", out.String())
	}
	deadline := time.Now().Add(2 * time.Second)
	for a.sup.Status().Running && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if got := a.sup.Status(); got.Running {
		t.Fatalf("dev server still running after stop-on-exit: %+v", got)
	}

	sink, err := sqlite.New(db)
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	defer func() { _ = sink.Close() }()
	events, err := sink.Recent(context.Background(), "web", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	var sawReady bool
	for _, e := range events {
		if e.Type == history.EventReady {
			sawReady = true
		}
	}
	if !sawReady {
		t.Fatalf("ready event not recorded: %+v", events)
	}
}

func TestAppRunReportsStartupFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	port := freePort(t)
	path := writeConfig(t, fmt.Sprintf(`
[devserver]
port = %d
scheme = "http"
startup_timeout = "10s"
command = "sh"
args = ["-c", "echo 'cannot find module' 1>&2; exit 1"]

[devserver.artifacts]
enabled = false

[log]
level = "error"
`, port))

	err := runDevhost(context.Background(), RunFlags{ConfigPath: path, NoServer: true}, &bytes.Buffer{})
	var exited *supervisor.ExitedError
	if !errors.As(err, &exited) {
		t.Fatalf("expected *supervisor.ExitedError, got %T %v", err, err)
	}
	if exited.ExitCode != 1 {
		t.Fatalf("exit code = %d, want 1", exited.ExitCode)
	}
}

func TestRunDevhostBadConfig(t *testing.T) {
	path := writeConfig(t, "[devserver]\nport = 0\n")
	err := runDevhost(context.Background(), RunFlags{ConfigPath: path}, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "loading config") {
		t.Fatalf("expected config error, got %v", err)
	}
}
