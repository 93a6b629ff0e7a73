package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"kestrel/intent"
)

// recognizedChains is the enumerated set of target_chain values accepted at
// Screen; anything else fails SCREEN_UNKNOWN_CHAIN (spec.md §9's "enumerate
// the recognized keys" guidance applied to chain identifiers too).
var recognizedChains = map[string]bool{
	"eth-mainnet": true,
	"eth-sepolia": true,
	"base-mainnet": true,
	"arb-mainnet": true,
}

// ReplayChecker is the narrow seam Screen uses for the replay-seen check;
// satisfied by *intent.ReplayCache.
type ReplayChecker interface {
	EnsureSeen(ctx context.Context, key string, observedAt time.Time) (alreadySeen bool, err error)
}

// ScreenStage implements C4's Screen step.
type ScreenStage struct {
	MaxCalldataBytes int
	Replay           ReplayChecker
	Clock            func() time.Time
}

// NewScreenStage constructs a ScreenStage with the given calldata bound and
// replay cache.
func NewScreenStage(maxCalldataBytes int, replay ReplayChecker) *ScreenStage {
	return &ScreenStage{MaxCalldataBytes: maxCalldataBytes, Replay: replay, Clock: time.Now}
}

func (s *ScreenStage) Name() string               { return "screen" }
func (s *ScreenStage) SuccessState() intent.State { return intent.StateScreened }

// Run implements Stage.
func (s *ScreenStage) Run(ctx context.Context, pc Context) (bool, *Failure, error) {
	now := s.Clock
	if now == nil {
		now = time.Now
	}

	var payload Payload
	if err := json.Unmarshal(pc.Intent.Payload, &payload); err != nil {
		return false, nil, fmt.Errorf("pipeline: decode payload for screen: %w", err)
	}

	if s.MaxCalldataBytes > 0 && len(pc.Intent.Payload) > s.MaxCalldataBytes {
		return false, fail(CodeScreenOversize, CategoryScreen, "payload exceeds max_calldata_bytes", map[string]any{
			"limit": s.MaxCalldataBytes,
			"size":  len(pc.Intent.Payload),
		}), nil
	}

	if !recognizedChains[payload.TargetChain] {
		return false, fail(CodeScreenUnknownChain, CategoryScreen, "unrecognized target_chain", map[string]any{
			"target_chain": payload.TargetChain,
		}), nil
	}

	deadline := time.UnixMilli(payload.DeadlineMs)
	if !deadline.After(now()) {
		return false, fail(CodeScreenDeadlineExpired, CategoryScreen, "deadline_ms already past", map[string]any{
			"deadline_ms": payload.DeadlineMs,
		}), nil
	}

	replayKey := payload.Nonce
	if replayKey == "" {
		replayKey = pc.RequestHash
	}
	if s.Replay != nil && replayKey != "" {
		seen, err := s.Replay.EnsureSeen(ctx, replayKey, now())
		if err != nil {
			return false, nil, fmt.Errorf("pipeline: replay check: %w", err)
		}
		if seen {
			return false, fail(CodeScreenReplaySeen, CategoryScreen, "replay marker already observed", map[string]any{
				"key": replayKey,
			}), nil
		}
	}

	return true, nil, nil
}
