package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"kestrel/intent"
)

type fakeProvider struct {
	failures int
	calls    int
}

func (f *fakeProvider) Enrich(ctx context.Context, payload Payload) (EnrichmentResult, error) {
	f.calls++
	if f.calls <= f.failures {
		return EnrichmentResult{}, errors.New("transient provider error")
	}
	return EnrichmentResult{NonceHint: 1, FeeHintGwei: 2.5}, nil
}

func enrichCtx() Context {
	raw, _ := json.Marshal(Payload{TargetChain: "eth-mainnet"})
	return Context{Intent: intent.Intent{IntentID: "x", Payload: raw}}
}

func TestEnrichStageSucceedsAfterTransientFailures(t *testing.T) {
	provider := &fakeProvider{failures: 2}
	stage := NewEnrichStage(provider, 5, time.Microsecond)
	ok, failure, err := stage.Run(context.Background(), enrichCtx())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected pass after retries, got failure=%+v", failure)
	}
	if provider.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", provider.calls)
	}
}

func TestEnrichStageFailsHardAfterExhaustion(t *testing.T) {
	provider := &fakeProvider{failures: 100}
	stage := NewEnrichStage(provider, 3, time.Microsecond)
	ok, failure, err := stage.Run(context.Background(), enrichCtx())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected hard failure")
	}
	if failure.Code != CodeNetworkEnrichFailed {
		t.Fatalf("expected %s, got %s", CodeNetworkEnrichFailed, failure.Code)
	}
	if provider.calls != 3 {
		t.Fatalf("expected exactly MaxAttempts=3 calls, got %d", provider.calls)
	}
}

func TestEnrichStageNoProviderPasses(t *testing.T) {
	stage := NewEnrichStage(nil, 3, time.Microsecond)
	ok, _, err := stage.Run(context.Background(), enrichCtx())
	if err != nil || !ok {
		t.Fatalf("expected pass with nil provider, got ok=%v err=%v", ok, err)
	}
}
