package bundle

import (
	"math/big"
	"sort"
	"time"
)

// Assemble implements C6's pure `plan(intent, simOutputs) → BundlePlan`
// (spec.md §4.6). It performs no network I/O: every input is already
// resolved by the caller (enrichment hints, simulator output).
func Assemble(now time.Time, deadlineSecs int64, atomic bool, sim SimOutputs) Plan {
	templates := make([]TxTemplate, len(sim.Templates))
	copy(templates, sim.Templates)
	for i := range templates {
		templates[i].Atomic = atomic
	}
	sort.SliceStable(templates, func(i, j int) bool {
		pi, pj := templates[i].Kind.priority(), templates[j].Kind.priority()
		if pi != pj {
			return pi < pj
		}
		return templates[i].Kind < templates[j].Kind
	})

	gas := clampGasPolicy(sim.GasPolicy)
	replacement := clampReplacementPolicy(sim.Replacement)

	return Plan{
		TxTemplates:       templates,
		GasPolicy:         gas,
		ReplacementPolicy: replacement,
		Deadline:          now.UnixMilli() + deadlineSecs*1000,
		Atomic:            atomic,
	}
}

// clampGasPolicy enforces bumpStep ≤ bumpCap by clamping bumpStep down.
func clampGasPolicy(g GasPolicy) GasPolicy {
	if g.BumpStep != nil && g.BumpCap != nil && g.BumpStep.Cmp(g.BumpCap) > 0 {
		g.BumpStep = new(big.Int).Set(g.BumpCap)
	}
	return g
}

func clampReplacementPolicy(r ReplacementPolicy) ReplacementPolicy {
	if r.BumpStep != nil && r.BumpCap != nil && r.BumpStep.Cmp(r.BumpCap) > 0 {
		r.BumpStep = new(big.Int).Set(r.BumpCap)
	}
	return r
}
