package protocol

import (
	"testing"

	"badc0de.net/pkg/go-mcproto/ttesting"
)

func TestTransitionTable(t *testing.T) {
	allowed := map[[2]State]bool{
		{Handshake, Status}:     true,
		{Handshake, Login}:      true,
		{Handshake, Closed}:     true,
		{Status, Closed}:        true,
		{Login, Configuration}:  true,
		{Login, Play}:           true,
		{Login, Closed}:         true,
		{Configuration, Play}:   true,
		{Configuration, Closed}: true,
		{Play, Configuration}:   true,
		{Play, Closed}:          true,
	}
	for from := Handshake; from <= Closed; from++ {
		for to := Handshake; to <= Closed; to++ {
			if got, want := CanTransition(from, to), allowed[[2]State{from, to}]; got != want {
				t.Errorf("CanTransition(%s, %s) = %v; want %v", from, to, got, want)
			}
		}
	}
}

func TestIllegalTransitionKeepsState(t *testing.T) {
	m := NewStateMachine()
	ttesting.AssertErrorIs(t, "handshake to play", m.Transition(Play), ErrIllegalTransition)
	ttesting.AssertEqualString(t, "still handshake", m.State().String(), "Handshake")

	ttesting.AssertNoError(t, "handshake to login", m.Transition(Login))
	ttesting.AssertErrorIs(t, "login to status", m.Transition(Status), ErrIllegalTransition)
	ttesting.AssertEqualString(t, "still login", m.State().String(), "Login")

	ttesting.AssertNoError(t, "login to configuration", m.Transition(Configuration))
	ttesting.AssertNoError(t, "configuration to play", m.Transition(Play))
	ttesting.AssertNoError(t, "reconfiguration", m.Transition(Configuration))
	ttesting.AssertNoError(t, "back to play", m.Transition(Play))
}

func TestCloseIsTerminal(t *testing.T) {
	m := NewStateMachine()
	m.Transition(Status)

	old, changed := m.Close()
	if !changed || old != Status {
		t.Errorf("Close() = %s, %v; want Status, true", old, changed)
	}
	old, changed = m.Close()
	if changed || old != Closed {
		t.Errorf("second Close() = %s, %v; want Closed, false", old, changed)
	}
	for to := Handshake; to <= Closed; to++ {
		ttesting.AssertErrorIs(t, "from closed to "+to.String(), m.Transition(to), ErrIllegalTransition)
	}
	ttesting.AssertEqualString(t, "still closed", m.State().String(), "Closed")
}
