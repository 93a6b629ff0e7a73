package relay

import (
	"context"
	"time"

	"kestrel/bundle"
)

// Submitter dispatches a bundle to a single lane; satisfied by a concrete
// relay client. Kept as the narrow external-collaborator seam (spec.md §1
// excludes the actual HTTP/RPC transport from the core).
type Submitter interface {
	Submit(ctx context.Context, laneID string, plan bundle.Plan) (ackID string, err error)
}

// Outcome is C10's result for one RelayPlan execution.
type Outcome struct {
	Success  bool
	LaneID   string
	AckID    string
	Code     string // SUBMISSION_ALL_FAILED | DEADLINE_EXCEEDED, empty on success
	Category string
	Attempts int
}

// Dispatch implements C10: parallel or sequential submission per the
// RelayPlan's strategy, with deadline-driven cancellation (spec.md §4.10).
func Dispatch(ctx context.Context, relayPlan Plan, bundlePlan bundle.Plan, submitter Submitter) (Outcome, error) {
	if deadlineExceeded(bundlePlan) {
		return Outcome{Code: "DEADLINE_EXCEEDED", Category: "NETWORK"}, nil
	}

	deadline := time.UnixMilli(bundlePlan.Deadline)
	dctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	switch relayPlan.Strategy {
	case StrategyParallelPreferAuth:
		return dispatchParallel(dctx, relayPlan, bundlePlan, submitter)
	default:
		return dispatchSequential(dctx, relayPlan, bundlePlan, submitter)
	}
}

func deadlineExceeded(plan bundle.Plan) bool {
	return time.Now().UnixMilli() > plan.Deadline
}

type attemptResult struct {
	laneID string
	ackID  string
	err    error
}

func dispatchParallel(ctx context.Context, relayPlan Plan, bundlePlan bundle.Plan, submitter Submitter) (Outcome, error) {
	if len(relayPlan.Targets) == 0 {
		return Outcome{Code: "SUBMISSION_ALL_FAILED", Category: "NETWORK"}, nil
	}

	results := make(chan attemptResult, len(relayPlan.Targets))
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, laneID := range relayPlan.Targets {
		laneID := laneID
		go func() {
			ackID, err := submitter.Submit(attemptCtx, laneID, bundlePlan)
			select {
			case results <- attemptResult{laneID: laneID, ackID: ackID, err: err}:
			case <-ctx.Done():
			}
		}()
	}

	failures := 0
	for i := 0; i < len(relayPlan.Targets); i++ {
		select {
		case <-ctx.Done():
			return Outcome{Code: "DEADLINE_EXCEEDED", Category: "NETWORK", Attempts: i}, nil
		case res := <-results:
			if res.err == nil {
				return Outcome{Success: true, LaneID: res.laneID, AckID: res.ackID, Attempts: i + 1}, nil
			}
			failures++
		}
	}
	return Outcome{Code: "SUBMISSION_ALL_FAILED", Category: "NETWORK", Attempts: failures}, nil
}

func dispatchSequential(ctx context.Context, relayPlan Plan, bundlePlan bundle.Plan, submitter Submitter) (Outcome, error) {
	if len(relayPlan.Targets) == 0 {
		return Outcome{Code: "SUBMISSION_ALL_FAILED", Category: "NETWORK"}, nil
	}

	for i, laneID := range relayPlan.Targets {
		select {
		case <-ctx.Done():
			return Outcome{Code: "DEADLINE_EXCEEDED", Category: "NETWORK", Attempts: i}, nil
		default:
		}

		ackID, err := submitter.Submit(ctx, laneID, bundlePlan)
		if err == nil {
			return Outcome{Success: true, LaneID: laneID, AckID: ackID, Attempts: i + 1}, nil
		}

		if i < len(relayPlan.Backoff) {
			wait := time.Duration(relayPlan.Backoff[i]+relayPlan.Jitter[i]) * time.Millisecond
			if wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					timer.Stop()
					return Outcome{Code: "DEADLINE_EXCEEDED", Category: "NETWORK", Attempts: i + 1}, nil
				case <-timer.C:
				}
			}
		}
	}
	return Outcome{Code: "SUBMISSION_ALL_FAILED", Category: "NETWORK", Attempts: len(relayPlan.Targets)}, nil
}
