package history

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

type memSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (m *memSink) Send(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return m.err
}

func TestEventJSONShape(t *testing.T) {
	e := Event{
		Type:       EventReady,
		OccurredAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Record:     Record{Name: "vite", Port: 3000, PID: 42, SourceDir: "/app", Outcome: "ready", DurationMS: 1500},
	}
	b, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["type"] != "ready" {
		t.Fatalf("type = %v", m["type"])
	}
	rec := m["record"].(map[string]any)
	if rec["name"] != "vite" || rec["port"] != float64(3000) || rec["duration_ms"] != float64(1500) {
		t.Fatalf("unexpected record: %v", rec)
	}
	if _, ok := rec["error"]; ok {
		t.Fatalf("empty error must be omitted: %v", rec)
	}
}

func TestMultiFansOutAndJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	a, b := &memSink{}, &memSink{err: boom}
	m := Multi{a, nil, b}

	err := m.Send(context.Background(), Event{Type: EventFailed})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("event not delivered to every sink: %d %d", len(a.events), len(b.events))
	}
	if err := (Multi{a}).Send(context.Background(), Event{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
