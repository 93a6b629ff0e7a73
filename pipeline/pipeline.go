// Package pipeline implements the ordered Screen → Validate → Enrich →
// Policy stage pipeline (C4).
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"kestrel/intent"
)

// Context carries everything a stage needs. Stages never mutate Intent
// directly — they call back into the Executor to advance state.
type Context struct {
	Intent      intent.Intent
	CorrID      string
	RequestHash string
	Now         time.Time
}

// Stage is one step of the linear pipeline (spec.md §4.4). Run reports ok on
// success (the pipeline then advances to SuccessState), a *Failure on
// rejection, or an error for an internal fault.
type Stage interface {
	Name() string
	SuccessState() intent.State
	Run(ctx context.Context, pc Context) (ok bool, failure *Failure, err error)
}

// Advancer is the narrow seam the pipeline uses to drive the state machine;
// satisfied by *intent.Executor.
type Advancer interface {
	Advance(ctx context.Context, intentID string, to intent.State, corrID, requestHash string, reason *intent.Reason) (intent.State, error)
	Drop(ctx context.Context, intentID, corrID, requestHash string, reason *intent.Reason) (intent.State, error)
}

// Pipeline threads a single intent through its ordered stages, advancing or
// rejecting at each one (spec.md §4.4's ordering contract).
type Pipeline struct {
	stages   []Stage
	advancer Advancer
	logger   *slog.Logger
	metrics  StageObserver
}

// StageObserver records per-stage timing; satisfied by
// *observability/metrics.Metrics.
type StageObserver interface {
	ObserveStage(stage string, seconds float64)
}

// New constructs a Pipeline over the given stages in execution order.
func New(advancer Advancer, logger *slog.Logger, metrics StageObserver, stages ...Stage) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{stages: stages, advancer: advancer, logger: logger, metrics: metrics}
}

// Run executes every stage in order for one intent, starting from its
// current persisted state. Returns the final state reached.
func (p *Pipeline) Run(ctx context.Context, pc Context) (intent.State, error) {
	current := pc.Intent
	for _, stage := range p.stages {
		select {
		case <-ctx.Done():
			return current.State, ctx.Err()
		default:
		}

		start := time.Now()
		ok, failure, err := stage.Run(ctx, Context{Intent: current, CorrID: pc.CorrID, RequestHash: pc.RequestHash, Now: time.Now()})
		if p.metrics != nil {
			p.metrics.ObserveStage(stage.Name(), time.Since(start).Seconds())
		}
		if err != nil {
			// Internal error: invariant violation or unexpected exception.
			// Never auto-retried (spec.md §7). DROPPED is only reachable from
			// SUBMITTED, so Drop fast-forwards through the remaining states.
			reason := &intent.Reason{Code: "INTERNAL_ERROR", Category: "INTERNAL", Message: err.Error()}
			final, dropErr := p.advancer.Drop(ctx, current.IntentID, pc.CorrID, pc.RequestHash, reason)
			if dropErr != nil {
				return current.State, dropErr
			}
			return final, err
		}

		if !ok {
			final, advErr := p.advancer.Advance(ctx, current.IntentID, intent.StateRejected, pc.CorrID, pc.RequestHash, failure.AsReason())
			if advErr != nil {
				return current.State, advErr
			}
			p.logger.Info("intent rejected",
				slog.String("intent_id", current.IntentID),
				slog.String("stage", stage.Name()),
				slog.String("reason_code", failure.Code),
			)
			return final, nil
		}

		final, advErr := p.advancer.Advance(ctx, current.IntentID, stage.SuccessState(), pc.CorrID, pc.RequestHash, nil)
		if advErr != nil {
			return current.State, advErr
		}
		current.State = final
	}
	return current.State, nil
}
