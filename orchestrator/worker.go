package orchestrator

import (
	"context"
	"math/big"

	"kestrel/antimev"
	"kestrel/audit"
	"kestrel/bundle"
	"kestrel/intent"
	"kestrel/pipeline"
	"kestrel/predictor"
	"kestrel/relay"
)

// process drives a single intent through the staged pipeline and, if it
// reaches QUEUED, through bundle assembly, anti-MEV mitigation, inclusion
// prediction, relay routing, and submission fan-out (spec.md §5).
func (p *Pool) process(ctx context.Context, intentID string) {
	in, err := p.store.Get(ctx, intentID)
	if err != nil {
		p.logger.Error("orchestrator: load intent failed", "intent_id", intentID, "err", err)
		return
	}

	pc := pipeline.Context{
		Intent:      in,
		CorrID:      in.CorrelationID,
		RequestHash: in.RequestHash,
		Now:         p.now(),
	}
	state, err := p.pipeline.Run(ctx, pc)
	if err != nil {
		p.logger.Error("orchestrator: pipeline stage error", "intent_id", intentID, "err", err)
		return
	}
	if state != intent.StateQueued {
		return
	}

	if err := ctx.Err(); err != nil {
		p.dropForShutdown(ctx, intentID)
		return
	}

	p.runExecution(ctx, intentID)
}

func (p *Pool) runExecution(ctx context.Context, intentID string) {
	in, err := p.store.Get(ctx, intentID)
	if err != nil {
		p.logger.Error("orchestrator: reload intent failed", "intent_id", intentID, "err", err)
		return
	}

	// C10 submits → C3 advances to SUBMITTED then INCLUDED/DROPPED
	// (spec.md §4.10): QUEUED moves to SUBMITTED here, before the submission
	// step runs, so every later failure path can legally drop from it.
	submitted, err := p.executor.Advance(ctx, intentID, intent.StateSubmitted, in.CorrelationID, in.RequestHash, nil)
	if err != nil {
		p.logger.Error("orchestrator: advance to SUBMITTED failed", "intent_id", intentID, "err", err)
		return
	}
	in.State = submitted

	if p.simulator == nil {
		p.logger.Error("orchestrator: no simulator configured", "intent_id", intentID)
		p.advanceDropped(ctx, in, "INTERNAL_ERROR", pipeline.CategoryInternal, "no simulator configured")
		return
	}
	sim, err := p.simulator.Simulate(ctx, in)
	if err != nil {
		p.advanceDropped(ctx, in, "SIMULATION_FAILED", pipeline.CategoryNetwork, err.Error())
		return
	}

	plan := bundle.Assemble(p.now(), p.deadlineSecs, len(sim.Templates) > 1, sim)
	if p.audit != nil {
		p.audit.Record(audit.SubjectBundles, p.now(), map[string]any{"intent_id": intentID, "deadline": plan.Deadline, "tx_count": len(plan.TxTemplates)})
	}

	plan = antimev.Mitigate(plan, antimev.Options{
		IntentID:    intentID,
		CorrID:      in.CorrelationID,
		NowMs:       p.now().UnixMilli(),
		EpochMs:     p.epochMs,
		JitterMaxMs: p.jitterMaxMs,
		DecoyPct:    p.decoyPct,
	})
	if p.audit != nil {
		var notBefore int64
		if plan.NotBefore != nil {
			notBefore = *plan.NotBefore
		}
		p.audit.Record(audit.SubjectAntiMEV, p.now(), map[string]any{"intent_id": intentID, "not_before": notBefore})
	}

	var lanes []relay.LaneHealth
	if p.lanes != nil {
		lanes = p.lanes.Lanes()
	}

	pred := predictor.Predict(predictor.DefaultCoefficients, plan, lanes, p.now().UnixMilli(), tipGweiFromPlan(plan))
	p.recordPrediction(intentID, pred)
	if p.audit != nil {
		p.audit.Record(audit.SubjectPredictions, p.now(), map[string]any{
			"intent_id":    intentID,
			"p_inclusion":  pred.PInclusion,
			"p_latency_ms": pred.PLatencyMs,
		})
	}

	routerPlan := relay.Route(plan, lanes, p.backoff, p.randSource())
	if p.audit != nil {
		p.audit.Record(audit.SubjectRelayPlans, p.now(), map[string]any{"intent_id": intentID, "targets": routerPlan.Targets, "strategy": string(routerPlan.Strategy)})
	}

	if len(routerPlan.Targets) == 0 {
		p.advanceDropped(ctx, in, "SUBMISSION_ALL_FAILED", pipeline.CategoryNetwork, "no available relay targets")
		return
	}

	outcome, dispatchErr := relay.Dispatch(ctx, routerPlan, plan, p.submitter)
	if p.audit != nil {
		p.audit.Record(audit.SubjectSubmissions, p.now(), map[string]any{
			"intent_id": intentID,
			"success":   outcome.Success,
			"lane_id":   outcome.LaneID,
			"ack_id":    outcome.AckID,
			"attempts":  outcome.Attempts,
		})
	}
	if dispatchErr != nil || !outcome.Success {
		code, category := "SUBMISSION_ALL_FAILED", pipeline.CategoryNetwork
		if outcome.Code != "" {
			code = outcome.Code
		}
		if outcome.Category != "" {
			category = outcome.Category
		}
		p.advanceDropped(ctx, in, code, category, "submission fan-out failed")
		return
	}

	// Already SUBMITTED from the advance at the top of this function; outcome
	// resolution to INCLUDED/DROPPED happens out-of-core (spec.md §5).
	p.logger.Info("orchestrator: bundle submitted",
		"intent_id", intentID, "lane_id", outcome.LaneID, "ack_id", outcome.AckID)
}

func (p *Pool) advanceDropped(ctx context.Context, in intent.Intent, code, category, message string) {
	reason := &intent.Reason{Code: code, Category: category, Message: message}
	if _, err := p.executor.Drop(ctx, in.IntentID, in.CorrelationID, in.RequestHash, reason); err != nil {
		p.logger.Error("orchestrator: advance to DROPPED failed", "intent_id", in.IntentID, "err", err)
	}
}

func (p *Pool) dropForShutdown(ctx context.Context, intentID string) {
	// ctx is already cancelled here; the drop itself must still reach the store.
	ctx = context.WithoutCancel(ctx)
	in, err := p.store.Get(ctx, intentID)
	if err != nil {
		return
	}
	p.advanceDropped(ctx, in, "SHUTDOWN", pipeline.CategoryInternal, "worker pool shutting down")
}

func tipGweiFromPlan(plan bundle.Plan) float64 {
	if plan.GasPolicy.PriorityFee == nil {
		return 0
	}
	gwei := new(big.Float).Quo(new(big.Float).SetInt(plan.GasPolicy.PriorityFee), big.NewFloat(1e9))
	f, _ := gwei.Float64()
	return f
}
