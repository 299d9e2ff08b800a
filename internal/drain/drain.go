// Package drain consumes the output streams of a dev server process,
// forwarding each line to a log sink and watching stdout for the line that
// announces the server is ready.
package drain

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/loykin/devhost/internal/readiness"
)

// DefaultSentinel is printed by Vite once the dev server accepts connections.
const DefaultSentinel = "Dev server running at:"

// MaxLineBytes bounds a single output line. Longer lines are a stream fault.
const MaxLineBytes = 1024 * 1024

const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// Sink receives drained lines. Implementations must not block indefinitely.
type Sink interface {
	Log(level slog.Level, msg string)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(level slog.Level, msg string)

func (f SinkFunc) Log(level slog.Level, msg string) { f(level, msg) }

// FaultError reports an abnormal end of an output stream.
type FaultError struct {
	Stream string
	Err    error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("dev server %s stream failed: %v", e.Stream, e.Err)
}

func (e *FaultError) Unwrap() error { return e.Err }

// Stdout reads r until it closes. Non-empty lines are forwarded at Info and
// the first one containing sentinel marks the gate ready. A read fault fails
// the gate (if still pending) and is returned once the rest of r has been
// discarded; a clean close returns nil.
func Stdout(r io.Reader, sink Sink, gate *readiness.Gate, sentinel string) error {
	if sentinel == "" {
		sentinel = DefaultSentinel
	}
	return scan(r, StreamStdout, sink, gate, func(line string) {
		if line == "" {
			return
		}
		sink.Log(slog.LevelInfo, line)
		if !gate.Resolved() && strings.Contains(line, sentinel) {
			gate.MarkReady()
		}
	})
}

// Stderr reads r until it closes, forwarding every line, blank ones included,
// at Error. Faults are handled as in Stdout.
func Stderr(r io.Reader, sink Sink, gate *readiness.Gate) error {
	return scan(r, StreamStderr, sink, gate, func(line string) {
		sink.Log(slog.LevelError, line)
	})
}

func scan(r io.Reader, stream string, sink Sink, gate *readiness.Gate, handle func(string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineBytes)
	for scanner.Scan() {
		handle(strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		fault := &FaultError{Stream: stream, Err: err}
		sink.Log(slog.LevelError, fault.Error())
		gate.Fail(fault)
		// keep the pipe empty so the process never blocks writing to it
		_, _ = io.Copy(io.Discard, r)
		return fault
	}
	return nil
}
