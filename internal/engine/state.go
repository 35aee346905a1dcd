package engine

import "sync"

type State string

const (
	StateIdle              State = "IDLE"
	StateEvaluatingDelta   State = "EVALUATING_DELTA"
	StatePlacingDeltaOrder State = "PLACING_DELTA_ORDER"
	StateAwaitingDeltaFill State = "AWAITING_DELTA_FILL"
	StateNeutral           State = "NEUTRAL"
	StateRecurseDelta      State = "RECURSE_DELTA"
	StateMaxDepthExceeded  State = "MAX_DEPTH_EXCEEDED"
	StateEvaluatingGamma   State = "EVALUATING_GAMMA"
	StatePlacingGamma      State = "PLACING_GAMMA_ORDERS"
	StateAwaitingGammaFill State = "AWAITING_GAMMA_FILL"
	StateRecurseGamma      State = "RECURSE_GAMMA"
)

// Machine tracks one symbol's cycle position. Transitions are set by
// the single engine goroutine; the mutex only guards observer reads.
type Machine struct {
	mu    sync.Mutex
	state State
}

func NewMachine() *Machine {
	return &Machine{state: StateIdle}
}

func (m *Machine) Set(next State) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = next
	return m.state
}

func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}
