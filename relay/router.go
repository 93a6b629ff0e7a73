package relay

import (
	"math"
	"sort"

	"kestrel/bundle"
)

// Strategy names the dispatch discipline (spec.md §3).
type Strategy string

const (
	StrategyParallelPreferAuth   Strategy = "parallel-prefer-auth"
	StrategySequentialPreferAuth Strategy = "sequential-prefer-auth"
)

// Plan is the derived RelayPlan (spec.md §3).
type Plan struct {
	Targets  []string
	Strategy Strategy
	Backoff  []int64 // ms, non-decreasing, capped at routerMaxMs
	Jitter   []int64 // ms
}

// BackoffConfig configures the per-attempt series (spec.md §4.9 step 6).
type BackoffConfig struct {
	BaseMs    int64
	Factor    float64
	MaxMs     int64
	JitterPct float64 // clamped to [0,100]
}

// RandSource supplies the jitter draw; satisfied by *rand.Rand or a fixed
// test double. Kept injectable so router tests are deterministic.
type RandSource interface {
	Float64() float64
}

// Route implements C9's selection procedure (spec.md §4.9).
func Route(plan bundle.Plan, lanes []LaneHealth, cfg BackoffConfig, rnd RandSource) Plan {
	var healthy, degraded []LaneHealth
	for _, l := range lanes {
		if l.Healthy {
			healthy = append(healthy, l)
		} else {
			degraded = append(degraded, l)
		}
	}

	var authHealthy, unauthHealthy []LaneHealth
	for _, l := range healthy {
		if l.Authenticated {
			authHealthy = append(authHealthy, l)
		} else {
			unauthHealthy = append(unauthHealthy, l)
		}
	}
	sortByScoreThenRTT(authHealthy)
	sortByScoreThenRTT(unauthHealthy)

	targets := make([]string, 0, len(lanes))
	for _, l := range authHealthy {
		targets = append(targets, l.ID)
	}
	for _, l := range unauthHealthy {
		targets = append(targets, l.ID)
	}

	if len(targets) == 0 {
		sortByScoreThenRTT(degraded)
		for _, l := range degraded {
			targets = append(targets, l.ID)
		}
	}

	attempts := len(targets)
	if attempts < 1 {
		attempts = 1
	}

	jitterPct := cfg.JitterPct
	if jitterPct < 0 {
		jitterPct = 0
	}
	if jitterPct > 100 {
		jitterPct = 100
	}

	backoff := make([]int64, attempts)
	jitter := make([]int64, attempts)
	for i := 0; i < attempts; i++ {
		raw := float64(cfg.BaseMs) * math.Pow(cfg.Factor, float64(i))
		capped := int64(math.Floor(raw))
		if cfg.MaxMs > 0 && capped > cfg.MaxMs {
			capped = cfg.MaxMs
		}
		backoff[i] = capped

		draw := 0.0
		if rnd != nil {
			draw = rnd.Float64()
		}
		jitter[i] = int64(math.Floor(float64(capped) * draw * jitterPct / 100))
	}

	strategy := StrategySequentialPreferAuth
	if plan.Atomic {
		strategy = StrategyParallelPreferAuth
	}

	return Plan{Targets: targets, Strategy: strategy, Backoff: backoff, Jitter: jitter}
}

func sortByScoreThenRTT(lanes []LaneHealth) {
	sort.SliceStable(lanes, func(i, j int) bool {
		si, sj := scoreOf(lanes[i]), scoreOf(lanes[j])
		if si != sj {
			return si > sj
		}
		return rttOf(lanes[i]) < rttOf(lanes[j])
	})
}
