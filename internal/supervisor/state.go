package supervisor

// State is a step of a supervision run.
type State string

const (
	StateIdle              State = "idle"
	StateProbePort         State = "probe_port"
	StateProvisioning      State = "provisioning"
	StateLaunching         State = "launching"
	StateAwaitingReadiness State = "awaiting_readiness"
	StateReady             State = "ready"
	StateFailed            State = "failed"
	StateTimedOut          State = "timed_out"
)

// allStates in declaration order, used to reset the current-state gauge.
var allStates = []State{
	StateIdle, StateProbePort, StateProvisioning, StateLaunching,
	StateAwaitingReadiness, StateReady, StateFailed, StateTimedOut,
}

// validTransitions lists the states reachable from each state.
var validTransitions = map[State][]State{
	StateIdle:              {StateProbePort},
	StateProbePort:         {StateReady, StateProvisioning, StateLaunching, StateFailed},
	StateProvisioning:      {StateLaunching, StateFailed},
	StateLaunching:         {StateAwaitingReadiness, StateFailed},
	StateAwaitingReadiness: {StateReady, StateFailed, StateTimedOut},
}

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == StateReady || s == StateFailed || s == StateTimedOut
}

// CanTransition reports whether moving from s to next is allowed.
func (s State) CanTransition(next State) bool {
	for _, n := range validTransitions[s] {
		if n == next {
			return true
		}
	}
	return false
}
