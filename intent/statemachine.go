package intent

// transitions declares the allowed successor states for each state (C1,
// spec.md §4.1). Pure lookup table; no I/O.
var transitions = map[State][]State{
	StateReceived:  {StateScreened},
	StateScreened:  {StateValidated, StateRejected},
	StateValidated: {StateEnriched, StateRejected},
	StateEnriched:  {StateQueued, StateRejected},
	StateQueued:    {StateSubmitted},
	StateSubmitted: {StateIncluded, StateDropped},
	StateIncluded:  nil,
	StateDropped:   nil,
	StateRejected:  nil,
}

// Can reports whether a transition from from to to is permitted.
func Can(from, to State) bool {
	for _, candidate := range transitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}
