// Package relay implements the Relay Router (C9) and Submission Fan-out
// (C10): health-aware lane selection with bounded backoff, and dispatch of
// a RelayPlan against those lanes.
package relay

// LaneHealth mirrors spec.md §3's LaneHealth mapping entry. Mutated by an
// out-of-core health daemon; consumed read-only here (spec.md §5).
type LaneHealth struct {
	ID            string
	Healthy       bool
	Authenticated bool
	RTTMs         *float64
	IncRate       *float64 // ∈ [0,1]
	Score         *float64
}

func scoreOf(l LaneHealth) float64 {
	if l.Score != nil {
		return *l.Score
	}
	return 0
}

func rttOf(l LaneHealth) float64 {
	if l.RTTMs != nil {
		return *l.RTTMs
	}
	return 0
}
