package intent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Executor mediates all state changes (C3): it is the only caller of
// Store.CompareAndAdvance in the system.
type Executor struct {
	store  Store
	logger *slog.Logger
}

// NewExecutor constructs a Transition Executor over the given store.
func NewExecutor(store Store, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{store: store, logger: logger}
}

// Advance implements the single public operation of C3 (spec.md §4.3).
func (e *Executor) Advance(ctx context.Context, intentID string, to State, corrID string, requestHash string, reason *Reason) (State, error) {
	current, err := e.store.Get(ctx, intentID)
	if err != nil {
		return "", fmt.Errorf("intent: advance read: %w", err)
	}

	if !Can(current.State, to) {
		if current.State == to {
			// Idempotent replay: another worker already reached the same
			// target state.
			return current.State, nil
		}
		return "", &InvalidTransitionError{From: current.State, To: to}
	}

	advanced, err := e.store.CompareAndAdvance(ctx, AdvanceInput{
		IntentID:        intentID,
		ExpectedVersion: current.Version,
		ToState:         to,
		Reason:          reason,
		CorrelationID:   corrID,
		RequestHash:     requestHash,
	})
	if err == nil {
		e.logger.Info("intent advanced",
			slog.String("intent_id", intentID),
			slog.String("corr_id", corrID),
			slog.String("from", string(current.State)),
			slog.String("to", string(to)),
		)
		return advanced.State, nil
	}

	if !errors.Is(err, ErrVersionConflict) {
		return "", err
	}

	// Concurrent writer raced us: re-read and treat a same-target outcome as
	// a benign no-op, per spec.md §4.3 step 6.
	fresh, getErr := e.store.Get(ctx, intentID)
	if getErr != nil {
		return "", fmt.Errorf("intent: re-read after conflict: %w", getErr)
	}
	if fresh.State == to {
		return fresh.State, nil
	}
	return "", &InvalidTransitionError{From: fresh.State, To: to}
}

// forwardSuccessor returns the single non-terminal successor used by Drop to
// fast-forward an intent toward SUBMITTED, the only state DROPPED is a legal
// successor of.
func forwardSuccessor(from State) (State, bool) {
	switch from {
	case StateReceived:
		return StateScreened, true
	case StateScreened:
		return StateValidated, true
	case StateValidated:
		return StateEnriched, true
	case StateEnriched:
		return StateQueued, true
	case StateQueued:
		return StateSubmitted, true
	default:
		return "", false
	}
}

// Drop moves a non-terminal intent to DROPPED (spec.md §7's "if not terminal,
// moved to DROPPED" rule; spec.md §4.10's SUBMITTED-then-DROPPED sequencing).
// The FSM only allows DROPPED as a successor of SUBMITTED, so an intent that
// fails before ever reaching SUBMITTED is advanced through its remaining
// pipeline states first. Only the final DROPPED event carries reason; the
// intermediate hops carry none, the same as a stage's ordinary success
// advance.
func (e *Executor) Drop(ctx context.Context, intentID, corrID, requestHash string, reason *Reason) (State, error) {
	for {
		current, err := e.store.Get(ctx, intentID)
		if err != nil {
			return "", fmt.Errorf("intent: drop read: %w", err)
		}
		if current.State.Terminal() {
			return current.State, nil
		}
		if current.State == StateSubmitted {
			return e.Advance(ctx, intentID, StateDropped, corrID, requestHash, reason)
		}
		next, ok := forwardSuccessor(current.State)
		if !ok {
			return "", &InvalidTransitionError{From: current.State, To: StateDropped}
		}
		if _, err := e.Advance(ctx, intentID, next, corrID, requestHash, nil); err != nil {
			return "", err
		}
	}
}
