package session

import "fmt"

// State is the relay session lifecycle state. Reconnecting is a first-class
// state rather than a boolean guard: while the session is Reconnecting,
// adapter-originated disconnect events are an expected artifact of the
// reconnect in progress and are swallowed, and no second reconnect may start.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateActive       State = "active"
	StateReconnecting State = "reconnecting"
	StateErrored      State = "errored"
)

var legalTransitions = map[State]map[State]bool{
	StateIdle:         {StateConnecting: true, StateErrored: true},
	StateConnecting:   {StateActive: true, StateIdle: true, StateErrored: true},
	StateActive:       {StateIdle: true, StateReconnecting: true, StateErrored: true},
	StateReconnecting: {StateActive: true, StateIdle: true, StateErrored: true},
	StateErrored:      {StateIdle: true, StateConnecting: true},
}

// transition moves the session to a new state, asserting the predecessor is
// legal. An illegal transition is a bug in the relay itself; it is reported,
// not silently applied.
func (s *Session) transition(to State) error {
	from := s.state
	if from == to {
		return nil
	}
	if !legalTransitions[from][to] {
		err := fmt.Errorf("illegal session state transition %s -> %s", from, to)
		s.logger.Error("session state machine violation", "from", from, "to", to)
		return err
	}
	s.state = to
	s.logger.Debug("session state", "from", from, "to", to)
	return nil
}
