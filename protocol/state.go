package protocol

import (
	"github.com/pkg/errors"
)

// State is the lifecycle phase of a connection. It selects the packet set in use.
type State uint8

const (
	// Handshake is the initial state. The client declares its version and
	// whether it wants the status or the login state.
	Handshake State = iota
	// Status is the server list ping state: request, response, ping, pong, close.
	Status
	// Login covers encryption and compression setup and the login result.
	Login
	// Configuration exchanges registries and settings before play. It exists
	// since 1.20.2 and may be re-entered from Play.
	Configuration
	// Play is the game state.
	Play
	// Closed is terminal.
	Closed

	numStates
)

func (s State) String() string {
	switch s {
	case Handshake:
		return "Handshake"
	case Status:
		return "Status"
	case Login:
		return "Login"
	case Configuration:
		return "Configuration"
	case Play:
		return "Play"
	case Closed:
		return "Closed"
	}
	return "UnknownState"
}

func (s State) Valid() bool {
	return s < numStates
}

// transitions is the static transition table. Closing is handled separately: it
// is allowed from every state except Closed itself.
var transitions = [numStates][]State{
	Handshake:     {Status, Login},
	Status:        {},
	Login:         {Configuration, Play},
	Configuration: {Play},
	Play:          {Configuration},
	Closed:        {},
}

// CanTransition reports whether the table has an edge from one state to another.
func CanTransition(from, to State) bool {
	if !from.Valid() || !to.Valid() || from == Closed {
		return false
	}
	if to == Closed {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// StateMachine holds the current state of one connection.
//
// It does not look at packets; the pipeline decides when to transition. It is
// not safe for concurrent use, the owner serializes access.
type StateMachine struct {
	cur State
}

func NewStateMachine() *StateMachine {
	return &StateMachine{cur: Handshake}
}

func (m *StateMachine) State() State {
	return m.cur
}

// Transition moves to the given state. If the edge is not in the table the
// state is left unchanged and an error matching ErrIllegalTransition is returned.
func (m *StateMachine) Transition(to State) error {
	if !CanTransition(m.cur, to) {
		return errors.Wrapf(ErrIllegalTransition, "%s -> %s", m.cur, to)
	}
	m.cur = to
	return nil
}

// Close moves to Closed. It returns the previous state and whether the state
// changed; closing twice is not an error.
func (m *StateMachine) Close() (State, bool) {
	old := m.cur
	if old == Closed {
		return old, false
	}
	m.cur = Closed
	return old, true
}
