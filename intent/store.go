package intent

import (
	"context"
	"errors"
)

// Sentinel errors surfaced by Store implementations.
var (
	// ErrDuplicateIntentID is returned by Create when another row with the
	// same intent_id already exists.
	ErrDuplicateIntentID = errors.New("intent: duplicate intent id")
	// ErrNotFound is returned by Get when no row exists for the intent id.
	ErrNotFound = errors.New("intent: not found")
	// ErrVersionConflict signals a failed compare-and-swap; callers should
	// re-read and decide whether the race was benign (same target state).
	ErrVersionConflict = errors.New("intent: version conflict")
)

// InvalidTransitionError reports that a requested transition is not allowed
// by the state machine from the intent's current state.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "intent: invalid transition from " + string(e.From) + " to " + string(e.To)
}

// AdvanceInput carries the parameters of a single compare-and-swap advance.
type AdvanceInput struct {
	IntentID        string
	ExpectedVersion int64
	ToState         State
	Reason          *Reason
	CorrelationID   string
	RequestHash     string
}

// Store is the persistence contract for C2: it owns Intent and Event rows
// exclusively and exposes the primitives the Transition Executor (C3)
// composes into a single audit-first transaction.
type Store interface {
	// Create inserts a new intent row in state RECEIVED, version 0, and
	// appends the initial (from=nil, to=RECEIVED) event in the same
	// transaction. Returns ErrDuplicateIntentID on a colliding intent_id.
	Create(ctx context.Context, intentID string, payload []byte, requestHash, correlationID string) (Intent, error)

	// Get returns the current row for intentID, or ErrNotFound.
	Get(ctx context.Context, intentID string) (Intent, error)

	// CompareAndAdvance performs the single audit-first transaction described
	// in spec.md §4.2/§4.3: append one event row, then UPDATE ... WHERE
	// version = expected. Returns ErrVersionConflict when no row matched;
	// callers re-read and decide idempotent-replay vs. invalid-transition.
	CompareAndAdvance(ctx context.Context, in AdvanceInput) (Intent, error)

	// Events returns the ordered event stream for an intent, ordered by
	// (ts, insertion order) per spec.md's Event model.
	Events(ctx context.Context, intentID string) ([]Event, error)

	// Close releases underlying resources.
	Close() error
}
