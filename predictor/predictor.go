// Package predictor implements the Inclusion Predictor (C8): a pure
// heuristic over a bundle plan and current lane health, with no I/O.
package predictor

import (
	"math"

	"kestrel/bundle"
	"kestrel/relay"
)

// Coefficients are the constants from spec.md §4.8 / §6.
type Coefficients struct {
	A0     float64
	AInc   float64
	ATip   float64
	ASize  float64
	ATime  float64
	AAtomic float64
}

// DefaultCoefficients are reasonable priors in the absence of a calibrated
// model. The Config Daemon (C12) has no tuning group for them; the
// orchestrator passes these values to Predict unchanged.
var DefaultCoefficients = Coefficients{
	A0:      -1.0,
	AInc:    0.8,
	ATip:    0.35,
	ASize:   -0.15,
	ATime:   -0.25,
	AAtomic: 0.2,
}

// Prediction is the C8 output consumed by the status endpoint.
type Prediction struct {
	PInclusion float64
	PLatencyMs float64
}

const epsilon = 1e-6

// Predict computes pInclusion and pLatencyMs for a plan given current lane
// health (spec.md §4.8).
func Predict(coef Coefficients, plan bundle.Plan, lanes []relay.LaneHealth, nowMs int64, tipGwei float64) Prediction {
	meanIncRate, meanRtt := laneAverages(lanes)

	size := float64(len(plan.TxTemplates))
	timeToDeadlineSec := float64(plan.Deadline-nowMs) / 1000.0
	atomicTerm := 0.0
	if plan.Atomic {
		atomicTerm = 1.0
	}

	x := coef.A0 +
		coef.AInc*math.Log(math.Max(epsilon, meanIncRate)) +
		coef.ATip*math.Log(1+tipGwei) +
		coef.ASize*size +
		coef.ATime*(timeToDeadlineSec/30.0) +
		coef.AAtomic*atomicTerm

	pInclusion := clamp(sigmoid(x), 0.001, 0.999)

	latencyUpper := float64(plan.Deadline - nowMs)
	pLatencyMs := clamp(meanRtt+size*25, 50, latencyUpper)

	return Prediction{PInclusion: pInclusion, PLatencyMs: pLatencyMs}
}

func laneAverages(lanes []relay.LaneHealth) (meanIncRate, meanRtt float64) {
	if len(lanes) == 0 {
		return 0, 0
	}
	var incSum, rttSum float64
	var incCount, rttCount int
	for _, lane := range lanes {
		if lane.IncRate != nil {
			incSum += *lane.IncRate
			incCount++
		}
		if lane.RTTMs != nil {
			rttSum += *lane.RTTMs
			rttCount++
		}
	}
	if incCount > 0 {
		meanIncRate = incSum / float64(incCount)
	}
	if rttCount > 0 {
		meanRtt = rttSum / float64(rttCount)
	}
	return meanIncRate, meanRtt
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
