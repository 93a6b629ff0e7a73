package predictor

import (
	"testing"

	"kestrel/bundle"
	"kestrel/relay"
)

func float64p(v float64) *float64 { return &v }

func TestPredictClampsToValidRange(t *testing.T) {
	plan := bundle.Plan{Deadline: 1_060_000, Atomic: true, TxTemplates: []bundle.TxTemplate{{}}}
	lanes := []relay.LaneHealth{{IncRate: float64p(0.9), RTTMs: float64p(50)}}

	pred := Predict(DefaultCoefficients, plan, lanes, 1_000_000, 5)
	if pred.PInclusion < 0.001 || pred.PInclusion > 0.999 {
		t.Fatalf("expected pInclusion within [0.001,0.999], got %f", pred.PInclusion)
	}
	if pred.PLatencyMs < 50 {
		t.Fatalf("expected pLatencyMs >= 50, got %f", pred.PLatencyMs)
	}
}

func TestPredictHandlesNoLaneData(t *testing.T) {
	plan := bundle.Plan{Deadline: 1_060_000}
	pred := Predict(DefaultCoefficients, plan, nil, 1_000_000, 1)
	if pred.PInclusion < 0.001 || pred.PInclusion > 0.999 {
		t.Fatalf("expected clamped pInclusion with no lanes, got %f", pred.PInclusion)
	}
}

func TestPredictLatencyNeverExceedsTimeToDeadline(t *testing.T) {
	plan := bundle.Plan{Deadline: 1_000_100, TxTemplates: make([]bundle.TxTemplate, 20)}
	lanes := []relay.LaneHealth{{RTTMs: float64p(10000)}}
	pred := Predict(DefaultCoefficients, plan, lanes, 1_000_000, 0)
	if pred.PLatencyMs > 100 {
		t.Fatalf("expected pLatencyMs clamped to time-to-deadline, got %f", pred.PLatencyMs)
	}
}
