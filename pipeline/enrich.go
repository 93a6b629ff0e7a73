package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"kestrel/intent"
)

// EnrichmentResult is the context an EnrichmentProvider resolves for a
// submission: nonce and fee hints. EnrichStage only checks that the provider
// succeeds; it does not pass the result on to later stages or to C6.
type EnrichmentResult struct {
	NonceHint   uint64
	FeeHintGwei float64
}

// EnrichmentProvider is the out-of-core collaborator that resolves on-chain
// context (spec.md §1's explicit "local transaction simulator" / enrichment
// exclusion). Kestrel depends only on this interface.
type EnrichmentProvider interface {
	Enrich(ctx context.Context, payload Payload) (EnrichmentResult, error)
}

// EnrichStage implements C4's Enrich step: never rejects on a transient
// provider error, only fails hard with NETWORK_* after exhausting bounded
// retries (spec.md §4.4, §7).
type EnrichStage struct {
	Provider    EnrichmentProvider
	MaxAttempts int
	BackoffBase time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewEnrichStage constructs an EnrichStage with the given provider and
// bounded-retry policy.
func NewEnrichStage(provider EnrichmentProvider, maxAttempts int, backoffBase time.Duration) *EnrichStage {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &EnrichStage{Provider: provider, MaxAttempts: maxAttempts, BackoffBase: backoffBase, sleep: ctxSleep}
}

func (s *EnrichStage) Name() string               { return "enrich" }
func (s *EnrichStage) SuccessState() intent.State { return intent.StateEnriched }

// Run implements Stage.
func (s *EnrichStage) Run(ctx context.Context, pc Context) (bool, *Failure, error) {
	var payload Payload
	if err := json.Unmarshal(pc.Intent.Payload, &payload); err != nil {
		return false, nil, fmt.Errorf("pipeline: decode payload for enrich: %w", err)
	}

	if s.Provider == nil {
		return true, nil, nil
	}

	var lastErr error
	for attempt := 0; attempt < s.MaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := s.BackoffBase * time.Duration(1<<uint(attempt-1))
			if err := s.sleep(ctx, backoff); err != nil {
				return false, nil, err
			}
		}
		_, err := s.Provider.Enrich(ctx, payload)
		if err == nil {
			return true, nil, nil
		}
		lastErr = err
	}

	return false, fail(CodeNetworkEnrichFailed, CategoryNetwork, "enrichment provider unavailable after bounded retries", map[string]any{
		"attempts": s.MaxAttempts,
		"error":    lastErr.Error(),
	}), nil
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
