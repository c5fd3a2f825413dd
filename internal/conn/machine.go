package conn

import (
	"sync"

	"github.com/kbowen/nrbd/internal/logging"
)

// Machine drives the connection/handshake state machine of spec.md
// §4.7. It only tracks state transitions and notifies observers; the
// actual socket I/O lives in DialRace (dial.go) and the packet exchange
// lives in the sender/receiver packages — this keeps the state machine
// testable without a real network.
type Machine struct {
	mu     sync.Mutex
	state  CState
	log    *logging.Logger
	onEnter []func(CState)
}

// NewMachine creates a state machine starting in Unconfigured.
func NewMachine(log *logging.Logger) *Machine {
	if log == nil {
		log = logging.Default()
	}
	return &Machine{state: Unconfigured, log: log}
}

// OnEnter registers a callback invoked whenever the state changes.
func (m *Machine) OnEnter(fn func(CState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEnter = append(m.onEnter, fn)
}

// State returns the current state.
func (m *Machine) State() CState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// transitions enumerates the principal edges of spec.md §4.7; anything
// not listed here is rejected as illegal.
var transitions = map[CState]map[CState]bool{
	Unconfigured:    {StandAlone: true},
	StandAlone:      {Unconnected: true},
	Unconnected:     {WFConnection: true},
	WFConnection:    {WFReportParams: true, Unconnected: true, StandAlone: true},
	WFReportParams:  {Connected: true, SyncingAll: true, SyncingQuick: true, StandAlone: true, Unconnected: true},
	Connected:       {Timeout: true, BrokenPipe: true, Unconnected: true, StandAlone: true},
	SyncingAll:      {Connected: true, Timeout: true, BrokenPipe: true, Unconnected: true},
	SyncingQuick:    {Connected: true, Timeout: true, BrokenPipe: true, Unconnected: true},
	Timeout:         {Unconnected: true},
	BrokenPipe:      {Unconnected: true},
}

// Transition moves the machine to next, rejecting edges not present in
// the principal transition table.
func (m *Machine) Transition(next CState) error {
	m.mu.Lock()
	cur := m.state
	allowed := transitions[cur][next]
	if !allowed {
		m.mu.Unlock()
		return &IllegalTransitionError{From: cur, To: next}
	}
	m.state = next
	hooks := append([]func(CState){}, m.onEnter...)
	m.mu.Unlock()

	m.log.With("from", cur.String(), "to", next.String()).Debug("cstate transition")
	for _, h := range hooks {
		h(next)
	}
	return nil
}

// IllegalTransitionError reports a rejected cstate edge.
type IllegalTransitionError struct {
	From CState
	To   CState
}

func (e *IllegalTransitionError) Error() string {
	return "conn: illegal transition " + e.From.String() + " -> " + e.To.String()
}
