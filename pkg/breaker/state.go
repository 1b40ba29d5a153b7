package breaker

import (
	"sync"
	"time"
)

// State is one of the three breaker states.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// outcome is one admitted call's result, held in the count-based buffer.
type outcome struct {
	success bool
}

// Machine holds closed/open/half-open bookkeeping and call admission,
// owned exclusively by the orchestrator. Transitions are serialized by mu.
type Machine struct {
	mu     sync.Mutex
	cfg    Config
	state  State
	buffer []outcome // count-based sliding buffer, bounded to cfg.WindowSize

	deadline time.Time // OPEN: when a probe may be admitted

	halfOpenPermitted  int // trial slots granted on entering HALF_OPEN; admission checks halfOpenInFlight against cfg.HalfOpenPermittedCalls
	halfOpenInFlight   int
	halfOpenCompleted  []outcome
}

// NewMachine creates a Machine in the CLOSED state with the given config.
func NewMachine(cfg Config) *Machine {
	return &Machine{
		cfg:   cfg,
		state: StateClosed,
	}
}

// State reports the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Admit decides whether a call may proceed right now. If admitted, the
// caller must eventually call Complete with the outcome; for a HALF_OPEN
// admission that accounting is required to release the in-flight slot.
func (m *Machine) Admit(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateClosed:
		return true
	case StateOpen:
		if now.Before(m.deadline) {
			return false
		}
		m.transitionToHalfOpenLocked()
		return m.admitHalfOpenLocked()
	case StateHalfOpen:
		return m.admitHalfOpenLocked()
	default:
		return false
	}
}

func (m *Machine) admitHalfOpenLocked() bool {
	if m.halfOpenInFlight >= m.cfg.HalfOpenPermittedCalls {
		return false
	}
	m.halfOpenInFlight++
	return true
}

// Complete records the outcome of an admitted call and evaluates
// transitions.
func (m *Machine) Complete(success bool, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateClosed:
		m.pushBufferLocked(success)
		if len(m.buffer) >= m.cfg.MinCallsBeforeEval && m.failureRateLocked() >= m.cfg.FailureRateThreshold {
			m.transitionToOpenLocked(now)
		}
	case StateHalfOpen:
		m.halfOpenInFlight--
		m.halfOpenCompleted = append(m.halfOpenCompleted, outcome{success: success})
		m.evaluateHalfOpenLocked(now)
	case StateOpen:
		// A completion arriving after the machine already flipped back to
		// OPEN (e.g. a slow half-open probe) has nothing left to record.
	}
}

// evaluateHalfOpenLocked requires ALL half-open trials to succeed before
// closing. A single failure among completed trials reopens the circuit
// immediately rather than waiting on the remaining stragglers; full success
// requires every permitted trial to have completed.
func (m *Machine) evaluateHalfOpenLocked(now time.Time) {
	for _, o := range m.halfOpenCompleted {
		if !o.success {
			m.transitionToOpenLocked(now)
			return
		}
	}
	if len(m.halfOpenCompleted) >= m.cfg.HalfOpenPermittedCalls {
		m.transitionToClosedLocked()
	}
}

func (m *Machine) pushBufferLocked(success bool) {
	m.buffer = append(m.buffer, outcome{success: success})
	if len(m.buffer) > m.cfg.WindowSize {
		m.buffer = m.buffer[len(m.buffer)-m.cfg.WindowSize:]
	}
}

func (m *Machine) failureRateLocked() float64 {
	if len(m.buffer) == 0 {
		return 0
	}
	var failures int
	for _, o := range m.buffer {
		if !o.success {
			failures++
		}
	}
	return float64(failures) / float64(len(m.buffer))
}

func (m *Machine) transitionToOpenLocked(now time.Time) {
	m.state = StateOpen
	m.deadline = now.Add(m.cfg.OpenStateWait)
	m.halfOpenPermitted = 0
	m.halfOpenInFlight = 0
	m.halfOpenCompleted = nil
}

func (m *Machine) transitionToHalfOpenLocked() {
	m.state = StateHalfOpen
	m.halfOpenPermitted = m.cfg.HalfOpenPermittedCalls
	m.halfOpenInFlight = 0
	m.halfOpenCompleted = nil
}

func (m *Machine) transitionToClosedLocked() {
	m.state = StateClosed
	m.buffer = nil
	m.halfOpenInFlight = 0
	m.halfOpenCompleted = nil
}

// snapshotForReplacement captures enough state to rebuild a Machine with a
// new config while preserving CLOSED/OPEN/HALF_OPEN status. ReplaceConfig
// uses the state, deadline and buffer; half-open trials in progress are not
// carried over.
type snapshotForReplacement struct {
	state             State
	deadline          time.Time
	buffer            []outcome
	halfOpenInFlight  int
	halfOpenCompleted []outcome
}

func (m *Machine) snapshotLocked() snapshotForReplacement {
	return snapshotForReplacement{
		state:             m.state,
		deadline:          m.deadline,
		buffer:            append([]outcome(nil), m.buffer...),
		halfOpenInFlight:  m.halfOpenInFlight,
		halfOpenCompleted: append([]outcome(nil), m.halfOpenCompleted...),
	}
}

// ReplaceConfig builds a new Machine with cfg, preserving the current
// state: OPEN keeps its deadline, HALF_OPEN re-enters HALF_OPEN with a
// fresh trial counter (per spec.md §4.8 — in-flight and completed trials
// from before the swap do not carry over), CLOSED keeps its outcome buffer
// (trimmed to the new window size). Buffer reset only happens on an
// OPEN->CLOSED transition, which ReplaceConfig never triggers by itself.
func (m *Machine) ReplaceConfig(cfg Config) *Machine {
	m.mu.Lock()
	snap := m.snapshotLocked()
	m.mu.Unlock()

	next := &Machine{cfg: cfg, state: snap.state}
	switch snap.state {
	case StateOpen:
		next.deadline = snap.deadline
	case StateHalfOpen:
		next.halfOpenPermitted = cfg.HalfOpenPermittedCalls
		next.halfOpenInFlight = 0
		next.halfOpenCompleted = nil
	case StateClosed:
		buf := snap.buffer
		if len(buf) > cfg.WindowSize {
			buf = buf[len(buf)-cfg.WindowSize:]
		}
		next.buffer = buf
	}
	return next
}
