package relay

import (
	"testing"

	"kestrel/bundle"
)

type fixedRand struct{ v float64 }

func (f fixedRand) Float64() float64 { return f.v }

func float64p(v float64) *float64 { return &v }

func TestRouteAuthHealthyFirst(t *testing.T) {
	lanes := []LaneHealth{
		{ID: "A", Healthy: true, Authenticated: false, Score: float64p(5)},
		{ID: "B", Healthy: true, Authenticated: true, Score: float64p(1)},
		{ID: "C", Healthy: false},
	}
	plan := Route(bundle.Plan{Atomic: true}, lanes, BackoffConfig{BaseMs: 100, Factor: 2, MaxMs: 1000, JitterPct: 10}, fixedRand{0})

	if len(plan.Targets) != 2 || plan.Targets[0] != "B" || plan.Targets[1] != "A" {
		t.Fatalf("expected [B A], got %v", plan.Targets)
	}
	if plan.Strategy != StrategyParallelPreferAuth {
		t.Fatalf("expected parallel-prefer-auth for atomic plan, got %s", plan.Strategy)
	}
}

func TestRouteFallsBackToDegraded(t *testing.T) {
	lanes := []LaneHealth{
		{ID: "D1", Healthy: false, Score: float64p(3)},
		{ID: "D2", Healthy: false, Score: float64p(9)},
	}
	plan := Route(bundle.Plan{Atomic: false}, lanes, BackoffConfig{BaseMs: 100, Factor: 2, MaxMs: 1000}, fixedRand{0})
	if len(plan.Targets) != 2 || plan.Targets[0] != "D2" {
		t.Fatalf("expected degraded lanes sorted by score desc, got %v", plan.Targets)
	}
	if plan.Strategy != StrategySequentialPreferAuth {
		t.Fatalf("expected sequential-prefer-auth for non-atomic plan, got %s", plan.Strategy)
	}
}

func TestRouteBackoffNonDecreasingAndCapped(t *testing.T) {
	lanes := []LaneHealth{
		{ID: "A", Healthy: true, Authenticated: true, Score: float64p(1)},
		{ID: "B", Healthy: true, Authenticated: true, Score: float64p(2)},
		{ID: "C", Healthy: true, Authenticated: true, Score: float64p(3)},
	}
	plan := Route(bundle.Plan{}, lanes, BackoffConfig{BaseMs: 100, Factor: 3, MaxMs: 500, JitterPct: 0}, fixedRand{0})
	for i := 1; i < len(plan.Backoff); i++ {
		if plan.Backoff[i] < plan.Backoff[i-1] {
			t.Fatalf("expected non-decreasing backoff, got %v", plan.Backoff)
		}
		if plan.Backoff[i] > 500 {
			t.Fatalf("expected backoff capped at 500, got %d", plan.Backoff[i])
		}
	}
}

func TestRouteJitterPctClamped(t *testing.T) {
	lanes := []LaneHealth{{ID: "A", Healthy: true, Score: float64p(1)}}
	plan := Route(bundle.Plan{}, lanes, BackoffConfig{BaseMs: 100, Factor: 1, MaxMs: 1000, JitterPct: 500}, fixedRand{1})
	if plan.Jitter[0] > plan.Backoff[0] {
		t.Fatalf("expected jitter clamped within 100%% of backoff, got jitter=%d backoff=%d", plan.Jitter[0], plan.Backoff[0])
	}
}
