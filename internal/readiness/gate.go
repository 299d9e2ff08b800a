package readiness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrTimedOut is matched by every *TimeoutError via errors.Is.
var ErrTimedOut = errors.New("readiness wait timed out")

// Kind tags an Outcome.
type Kind int

const (
	Pending Kind = iota
	Ready
	Failed
	TimedOut
)

func (k Kind) String() string {
	switch k {
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	case TimedOut:
		return "timed_out"
	default:
		return "pending"
	}
}

// Outcome is the value a Gate resolves to. Err is nil only for Ready.
type Outcome struct {
	Kind Kind
	Err  error
}

func ReadyOutcome() Outcome { return Outcome{Kind: Ready} }

func FailedOutcome(err error) Outcome {
	if err == nil {
		err = errors.New("readiness failed")
	}
	return Outcome{Kind: Failed, Err: err}
}

func TimedOutOutcome(after time.Duration) Outcome {
	return Outcome{Kind: TimedOut, Err: &TimeoutError{After: after}}
}

// TimeoutError reports that no readiness signal arrived within After.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("dev server did not report ready within %s", e.After)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimedOut }

// Gate is a single-assignment completion signal. The first Resolve wins;
// every later attempt is a silent no-op. It is safe for concurrent use.
type Gate struct {
	once    sync.Once
	done    chan struct{}
	outcome Outcome
}

func NewGate() *Gate { return &Gate{done: make(chan struct{})} }

// Resolve sets the outcome if the gate is still pending and reports whether
// this call was the one that set it.
func (g *Gate) Resolve(o Outcome) bool {
	won := false
	g.once.Do(func() {
		g.outcome = o
		won = true
		close(g.done)
	})
	return won
}

// MarkReady is shorthand for Resolve(ReadyOutcome()).
func (g *Gate) MarkReady() bool { return g.Resolve(ReadyOutcome()) }

// Fail is shorthand for Resolve(FailedOutcome(err)).
func (g *Gate) Fail(err error) bool { return g.Resolve(FailedOutcome(err)) }

// Done is closed once the gate is resolved.
func (g *Gate) Done() <-chan struct{} { return g.done }

// Resolved reports whether some caller already resolved the gate.
func (g *Gate) Resolved() bool {
	select {
	case <-g.done:
		return true
	default:
		return false
	}
}

// Outcome returns the resolved outcome, or Pending when unresolved.
func (g *Gate) Outcome() Outcome {
	select {
	case <-g.done:
		// outcome is written before done is closed
		return g.outcome
	default:
		return Outcome{Kind: Pending}
	}
}

// Wait blocks until the gate resolves, timeout elapses or ctx is done.
// On timeout the gate itself is resolved to TimedOut; if a resolver beat the
// timer to it, that outcome is returned instead. Cancelling ctx returns a
// Failed outcome and leaves the gate untouched.
func (g *Gate) Wait(ctx context.Context, timeout time.Duration) Outcome {
	if timeout <= 0 {
		g.Resolve(TimedOutOutcome(timeout))
		return g.outcome
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-g.done:
	case <-timer.C:
		g.Resolve(TimedOutOutcome(timeout))
	case <-ctx.Done():
		return FailedOutcome(ctx.Err())
	}
	return g.outcome
}
