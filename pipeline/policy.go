package pipeline

import (
	"context"
	"encoding/json"
	"math/big"

	"kestrel/intent"
)

// PrecheckRequest is what the Policy stage hands to C5's fail-closed capital
// precheck.
type PrecheckRequest struct {
	IntentID   string
	StrategyID string
	Account    string
	Notional   *big.Int
}

// PrecheckDecision is C5's verdict.
type PrecheckDecision struct {
	Allow  bool
	Reason string // kill_switch | dailyLossCap | accountCap | strategyCap, empty if allowed
	Used   map[string]*big.Int
	Caps   map[string]*big.Int
}

// CapitalPolicy is the narrow seam the Policy stage uses to reach C5;
// satisfied by *capital.PolicyEnforcer.
type CapitalPolicy interface {
	Precheck(ctx context.Context, req PrecheckRequest) (PrecheckDecision, error)
}

// PolicyStage implements C4's Policy step: fee floor, a denylist of
// strategy kinds, and C5's capital precheck, in that order.
type PolicyStage struct {
	MinFeeGwei float64
	Denylist   map[string]bool
	Capital    CapitalPolicy
}

// NewPolicyStage constructs a PolicyStage.
func NewPolicyStage(minFeeGwei float64, denylist map[string]bool, capitalPolicy CapitalPolicy) *PolicyStage {
	if denylist == nil {
		denylist = map[string]bool{}
	}
	return &PolicyStage{MinFeeGwei: minFeeGwei, Denylist: denylist, Capital: capitalPolicy}
}

func (s *PolicyStage) Name() string               { return "policy" }
func (s *PolicyStage) SuccessState() intent.State { return intent.StateQueued }

// Run implements Stage.
func (s *PolicyStage) Run(ctx context.Context, pc Context) (bool, *Failure, error) {
	var payload Payload
	if err := json.Unmarshal(pc.Intent.Payload, &payload); err != nil {
		return false, fail(CodePolicyFeeTooLow, CategoryPolicy, "payload is not decodable", nil), nil
	}

	if payload.FeeGwei != nil && *payload.FeeGwei < s.MinFeeGwei {
		return false, fail(CodePolicyFeeTooLow, CategoryPolicy, "fee below configured floor", map[string]any{
			"fee_gwei":   *payload.FeeGwei,
			"floor_gwei": s.MinFeeGwei,
		}), nil
	}

	if payload.Meta != nil && s.Denylist[payload.Meta.StrategyKind] {
		return false, fail(CodePolicyDenylisted, CategoryPolicy, "strategy kind is denylisted", map[string]any{
			"strategy_kind": payload.Meta.StrategyKind,
		}), nil
	}

	if s.Capital != nil {
		notional := new(big.Int)
		if payload.NotionalWei != "" {
			if parsed, ok := new(big.Int).SetString(payload.NotionalWei, 10); ok {
				notional = parsed
			}
		}
		strategyID := ""
		if payload.Meta != nil {
			strategyID = payload.Meta.StrategyKind
		}
		decision, err := s.Capital.Precheck(ctx, PrecheckRequest{
			IntentID:   pc.Intent.IntentID,
			StrategyID: strategyID,
			Account:    payload.Account,
			Notional:   notional,
		})
		if err != nil {
			return false, nil, err
		}
		if !decision.Allow {
			return false, fail(CodePolicyCapital, CategoryPolicy, "denied by capital policy", map[string]any{
				"reason": decision.Reason,
			}), nil
		}
	}

	return true, nil, nil
}
