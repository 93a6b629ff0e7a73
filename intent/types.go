// Package intent implements the intent lifecycle's finite state machine,
// its persistence contract, and the transition executor (C1, C2, C3).
package intent

import "time"

// State is one of the nine named intent lifecycle states. No other value
// ever persists (invariant I1).
type State string

// All lifecycle states.
const (
	StateReceived  State = "RECEIVED"
	StateScreened  State = "SCREENED"
	StateValidated State = "VALIDATED"
	StateEnriched  State = "ENRICHED"
	StateQueued    State = "QUEUED"
	StateSubmitted State = "SUBMITTED"
	StateIncluded  State = "INCLUDED"
	StateDropped   State = "DROPPED"
	StateRejected  State = "REJECTED"
)

// Terminal reports whether the state has no outgoing transitions.
func (s State) Terminal() bool {
	switch s {
	case StateIncluded, StateDropped, StateRejected:
		return true
	default:
		return false
	}
}

// Valid reports whether s is one of the nine recognized states.
func (s State) Valid() bool {
	switch s {
	case StateReceived, StateScreened, StateValidated, StateEnriched,
		StateQueued, StateSubmitted, StateIncluded, StateDropped, StateRejected:
		return true
	default:
		return false
	}
}

// Reason is a structured rejection/drop reason attached to terminal events.
type Reason struct {
	Code     string         `json:"code"`
	Category string         `json:"category"`
	Message  string         `json:"message"`
	Context  map[string]any `json:"context,omitempty"`
}

// Intent is the primary entity: one row per client submission.
type Intent struct {
	IntentID      string
	State         State
	Version       int64
	RequestHash   string
	CorrelationID string
	Payload       []byte // opaque client-supplied structured body, stored as canonical JSON
	ReceivedAt    time.Time
	LastReason    *Reason
}

// Event is an append-only per-intent event row. FromState is nil only for
// the initial RECEIVED insert (invariant I3).
type Event struct {
	IntentID       string
	FromState      *State
	ToState        State
	ReasonCode     string
	ReasonCategory string
	ReasonMessage  string
	Context        map[string]any
	CorrelationID  string
	RequestHash    string
	Timestamp      time.Time
}
