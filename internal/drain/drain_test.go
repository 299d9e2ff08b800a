package drain

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loykin/devhost/internal/readiness"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	level slog.Level
	msg   string
}

type recordSink struct {
	mu      sync.Mutex
	entries []entry
}

func (s *recordSink) Log(level slog.Level, msg string) {
	s.mu.Lock()
	s.entries = append(s.entries, entry{level, msg})
	s.mu.Unlock()
}

func (s *recordSink) snapshot() []entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entry(nil), s.entries...)
}

func TestStdoutSentinelAfterLines(t *testing.T) {
	input := "compiling\n\nbundling\n  warming up  \n  > Dev server running at:\n  https://localhost:3000/\n"
	sink := &recordSink{}
	gate := readiness.NewGate()

	err := Stdout(strings.NewReader(input), sink, gate, DefaultSentinel)
	require.NoError(t, err)

	assert.Equal(t, readiness.Ready, gate.Outcome().Kind)
	got := sink.snapshot()
	want := []string{"compiling", "bundling", "warming up", "> Dev server running at:", "https://localhost:3000/"}
	require.Len(t, got, len(want))
	for i, e := range got {
		assert.Equal(t, slog.LevelInfo, e.level)
		assert.Equal(t, want[i], e.msg)
	}
}

func TestStdoutResolvesBeforeStreamCloses(t *testing.T) {
	pr, pw := io.Pipe()
	sink := &recordSink{}
	gate := readiness.NewGate()
	done := make(chan error, 1)
	go func() { done <- Stdout(pr, sink, gate, "ready!") }()

	for _, l := range []string{"one", "two", "three", "server ready!"} {
		_, err := io.WriteString(pw, l+"\n")
		require.NoError(t, err)
	}
	select {
	case <-gate.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("gate not resolved after sentinel")
	}
	assert.Equal(t, readiness.Ready, gate.Outcome().Kind)

	msgs := sink.snapshot()
	require.Len(t, msgs, 4)
	assert.Equal(t, "server ready!", msgs[3].msg)

	// drain keeps running after readiness
	_, err := io.WriteString(pw, "still serving\n")
	require.NoError(t, err)
	require.NoError(t, pw.Close())
	require.NoError(t, <-done)
	assert.Len(t, sink.snapshot(), 5)
}

func TestStdoutCleanCloseLeavesGatePending(t *testing.T) {
	gate := readiness.NewGate()
	err := Stdout(strings.NewReader("nothing to see\n"), &recordSink{}, gate, "")
	require.NoError(t, err)
	assert.False(t, gate.Resolved())
}

func TestStdoutFaultFailsGate(t *testing.T) {
	pr, pw := io.Pipe()
	sink := &recordSink{}
	gate := readiness.NewGate()
	boom := errors.New("pipe broke")
	go func() {
		_, _ = io.WriteString(pw, "starting\n")
		_ = pw.CloseWithError(boom)
	}()

	err := Stdout(pr, sink, gate, DefaultSentinel)
	var fe *FaultError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, StreamStdout, fe.Stream)
	assert.ErrorIs(t, err, boom)

	out := gate.Outcome()
	require.Equal(t, readiness.Failed, out.Kind)
	assert.ErrorIs(t, out.Err, boom)

	got := sink.snapshot()
	require.Len(t, got, 2)
	assert.Equal(t, slog.LevelError, got[1].level)
}

func TestStdoutFaultAfterReadyKeepsReady(t *testing.T) {
	pr, pw := io.Pipe()
	gate := readiness.NewGate()
	go func() {
		_, _ = io.WriteString(pw, DefaultSentinel+"\n")
		_ = pw.CloseWithError(errors.New("late fault"))
	}()
	err := Stdout(pr, &recordSink{}, gate, "")
	require.Error(t, err)
	assert.Equal(t, readiness.Ready, gate.Outcome().Kind)
}

func TestStdoutOverlongLineIsFault(t *testing.T) {
	gate := readiness.NewGate()
	long := strings.Repeat("x", MaxLineBytes+10) + "\n"
	err := Stdout(strings.NewReader(long), &recordSink{}, gate, "")
	var fe *FaultError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, readiness.Failed, gate.Outcome().Kind)
}

func TestStdoutKeepsConsumingAfterFault(t *testing.T) {
	pr, pw := io.Pipe()
	written := make(chan struct{})
	go func() {
		defer close(written)
		_, _ = io.WriteString(pw, strings.Repeat("x", 2*MaxLineBytes)+"\n")
		for i := 0; i < 5000; i++ {
			_, _ = io.WriteString(pw, "hmr update\n")
		}
		_ = pw.Close()
	}()

	gate := readiness.NewGate()
	done := make(chan error, 1)
	go func() { done <- Stdout(pr, &recordSink{}, gate, "") }()

	select {
	case <-written:
	case <-time.After(5 * time.Second):
		t.Fatal("writer blocked after the stream fault")
	}
	select {
	case err := <-done:
		var fe *FaultError
		require.ErrorAs(t, err, &fe)
		assert.ErrorIs(t, err, bufio.ErrTooLong)
	case <-time.After(5 * time.Second):
		t.Fatal("drain did not return after the writer closed")
	}
	assert.Equal(t, readiness.Failed, gate.Outcome().Kind)
}

func TestStderrForwardsEveryLine(t *testing.T) {
	sink := &recordSink{}
	gate := readiness.NewGate()
	err := Stderr(strings.NewReader("warn one\n\n  warn two \n"), sink, gate)
	require.NoError(t, err)

	got := sink.snapshot()
	require.Len(t, got, 3)
	assert.Equal(t, []string{"warn one", "", "warn two"}, []string{got[0].msg, got[1].msg, got[2].msg})
	for _, e := range got {
		assert.Equal(t, slog.LevelError, e.level)
	}
	assert.False(t, gate.Resolved(), "stderr never marks ready")
}

func TestStderrFaultFailsGate(t *testing.T) {
	pr, pw := io.Pipe()
	gate := readiness.NewGate()
	boom := errors.New("stderr broke")
	go func() { _ = pw.CloseWithError(boom) }()

	err := Stderr(pr, &recordSink{}, gate)
	var fe *FaultError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, StreamStderr, fe.Stream)
	assert.ErrorIs(t, gate.Outcome().Err, boom)
}

func TestSinkFunc(t *testing.T) {
	var got string
	SinkFunc(func(_ slog.Level, msg string) { got = msg }).Log(slog.LevelInfo, "hi")
	assert.Equal(t, "hi", got)
}
