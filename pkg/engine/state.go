package engine

import (
	"encoding/json"
	"time"
)

// State is the lifecycle position of a Manager.
type State int

const (
	StateAbsent State = iota
	StateLoading
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// MarshalJSON encodes the state by name.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Status is a point-in-time view of a Manager for status endpoints.
type Status struct {
	State        State      `json:"state"`
	Backend      string     `json:"backend"`
	Model        string     `json:"model,omitempty"`
	Progress     string     `json:"progress,omitempty"`
	Fraction     float64    `json:"fraction,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	LoadAttempts int        `json:"load_attempts"`
	ReadySince   *time.Time `json:"ready_since,omitempty"`
}
