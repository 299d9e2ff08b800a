package logger

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/loykin/devhost/internal/metrics"
)

// StreamSink forwards dev server output lines to a slog.Logger tagged with
// the stream name, and tees the raw line to Raw when set.
type StreamSink struct {
	Logger *slog.Logger
	Stream string
	Raw    io.Writer

	mu sync.Mutex
}

// NewStreamSink returns a sink for one output stream of the named server.
func NewStreamSink(l *slog.Logger, name, stream string, raw io.Writer) *StreamSink {
	if l == nil {
		l = slog.Default()
	}
	return &StreamSink{
		Logger: l.With(slog.String("server", name), slog.String("stream", stream)),
		Stream: stream,
		Raw:    raw,
	}
}

// Log implements drain.Sink.
func (s *StreamSink) Log(level slog.Level, msg string) {
	s.Logger.Log(context.Background(), level, msg)
	metrics.IncLine(s.Stream)
	if s.Raw == nil {
		return
	}
	s.mu.Lock()
	_, _ = io.WriteString(s.Raw, msg+"\n")
	s.mu.Unlock()
}
