package session

import "fmt"

// State is the lifecycle state of the managed session.
type State int

const (
	Uninitialized State = iota
	Starting
	Ready
	Degraded
	Failed
)

var stateNames = map[State]string{
	Uninitialized: "UNINITIALIZED",
	Starting:      "STARTING",
	Ready:         "READY",
	Degraded:      "DEGRADED",
	Failed:        "FAILED",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText renders the state by name in JSON envelopes and log fields.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// transitions lists every edge the manager may take. Stop is allowed from
// anywhere, so Uninitialized appears as a target of every state.
var transitions = map[State][]State{
	Uninitialized: {Starting},
	Starting:      {Ready, Uninitialized},
	Ready:         {Degraded, Failed, Starting, Uninitialized},
	Degraded:      {Ready, Failed, Starting, Uninitialized},
	Failed:        {Starting, Uninitialized},
}

// CanTransition reports whether moving from s to next is a legal edge.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
