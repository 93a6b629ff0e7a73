package pipeline

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"

	"kestrel/intent"
)

type fakeCapitalPolicy struct {
	decision PrecheckDecision
	lastReq  PrecheckRequest
}

func (f *fakeCapitalPolicy) Precheck(ctx context.Context, req PrecheckRequest) (PrecheckDecision, error) {
	f.lastReq = req
	return f.decision, nil
}

func policyCtx(payload Payload) Context {
	raw, _ := json.Marshal(payload)
	return Context{Intent: intent.Intent{IntentID: "x", Payload: raw}}
}

func TestPolicyStageFeeFloor(t *testing.T) {
	fee := 1.0
	stage := NewPolicyStage(5.0, nil, nil)
	ok, failure, err := stage.Run(context.Background(), policyCtx(Payload{TargetChain: "eth-mainnet", FeeGwei: &fee}))
	if err != nil || ok {
		t.Fatalf("expected rejection, got ok=%v err=%v", ok, err)
	}
	if failure.Code != CodePolicyFeeTooLow {
		t.Fatalf("expected %s, got %s", CodePolicyFeeTooLow, failure.Code)
	}
}

func TestPolicyStageDenylist(t *testing.T) {
	stage := NewPolicyStage(0, map[string]bool{"sandwich": true}, nil)
	ok, failure, err := stage.Run(context.Background(), policyCtx(Payload{
		TargetChain: "eth-mainnet",
		Meta:        &Meta{StrategyKind: "sandwich"},
	}))
	if err != nil || ok {
		t.Fatalf("expected rejection, got ok=%v err=%v", ok, err)
	}
	if failure.Code != CodePolicyDenylisted {
		t.Fatalf("expected %s, got %s", CodePolicyDenylisted, failure.Code)
	}
}

func TestPolicyStageCapitalDenied(t *testing.T) {
	capitalPolicy := &fakeCapitalPolicy{decision: PrecheckDecision{Allow: false, Reason: "accountCap"}}
	stage := NewPolicyStage(0, nil, capitalPolicy)
	ok, failure, err := stage.Run(context.Background(), policyCtx(Payload{
		TargetChain: "eth-mainnet",
		Account:     "acct-1",
		NotionalWei: "1000",
	}))
	if err != nil || ok {
		t.Fatalf("expected rejection, got ok=%v err=%v", ok, err)
	}
	if failure.Code != CodePolicyCapital {
		t.Fatalf("expected %s, got %s", CodePolicyCapital, failure.Code)
	}
	if capitalPolicy.lastReq.Account != "acct-1" {
		t.Fatalf("expected account propagated, got %+v", capitalPolicy.lastReq)
	}
	if capitalPolicy.lastReq.Notional.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected notional 1000, got %s", capitalPolicy.lastReq.Notional)
	}
}

func TestPolicyStageAllows(t *testing.T) {
	capitalPolicy := &fakeCapitalPolicy{decision: PrecheckDecision{Allow: true}}
	stage := NewPolicyStage(0, nil, capitalPolicy)
	ok, failure, err := stage.Run(context.Background(), policyCtx(Payload{TargetChain: "eth-mainnet"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected pass, got failure=%+v", failure)
	}
}
