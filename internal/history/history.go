package history

import (
	"context"
	"errors"
	"time"
)

// EventType defines the kind of supervision event.
type EventType string

const (
	// EventReady is emitted when the dev server became reachable, either
	// because it announced readiness or because it was already listening.
	EventReady EventType = "ready"
	// EventFailed covers provisioning, launch, stream and early-exit failures.
	EventFailed EventType = "failed"
	// EventTimedOut is emitted when no readiness was observed in time.
	EventTimedOut EventType = "timed_out"
	// EventExited is emitted when a launched dev server process is reaped.
	EventExited EventType = "exited"
)

// Record describes one supervision run.
type Record struct {
	Name       string `json:"name"`
	Port       int    `json:"port"`
	PID        int    `json:"pid"`
	SourceDir  string `json:"source_dir"`
	Outcome    string `json:"outcome"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// Event represents a supervision event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Multi fans an event out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Send(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Send(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
