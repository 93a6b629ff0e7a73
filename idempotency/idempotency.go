// Package idempotency implements the submission boundary's idempotency and
// correlation semantics (C11): request_hash-keyed dedupe against the intent
// store, adapted from an HTTP middleware sitting in front of a database into
// a check sitting directly in front of intent creation.
package idempotency

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"kestrel/intent"
)

// ErrConflict is returned when a resubmission under the same intent_id
// carries a different request_hash (spec.md §4.11).
var ErrConflict = errors.New("idempotency: request_hash conflict for existing intent_id")

// Response is the synthesized or replayed submission-boundary response.
type Response struct {
	IntentID      string
	CorrelationID string
	RequestHash   string
	StatusURL     string
	Decision      string // accepted | queued | rejected | throttled
	Replayed      bool
}

// Store is the narrow seam onto the intent store; satisfied by
// *intent.SQLiteStore.
type Store interface {
	Get(ctx context.Context, intentID string) (intent.Intent, error)
	Create(ctx context.Context, intentID string, payload []byte, requestHash, correlationID string) (intent.Intent, error)
}

// Submitter mints correlation IDs and dedupes submissions against the
// intent store.
type Submitter struct {
	store     Store
	statusURL func(intentID string) string
}

// New constructs a Submitter. statusURLFor formats the status endpoint URL
// for a given intent_id; if nil, StatusURL is left empty.
func New(store Store, statusURLFor func(intentID string) string) *Submitter {
	return &Submitter{store: store, statusURL: statusURLFor}
}

// Submit implements C11: lookup by intent_id, replay on matching
// request_hash, conflict on mismatch, else mint a correlation_id and create.
func (s *Submitter) Submit(ctx context.Context, intentID string, payload []byte, requestHash string) (Response, error) {
	existing, err := s.store.Get(ctx, intentID)
	switch {
	case err == nil:
		if existing.RequestHash != requestHash {
			return Response{}, ErrConflict
		}
		return Response{
			IntentID:      existing.IntentID,
			CorrelationID: existing.CorrelationID,
			RequestHash:   existing.RequestHash,
			StatusURL:     s.urlFor(existing.IntentID),
			Decision:      decisionFor(existing.State),
			Replayed:      true,
		}, nil
	case errors.Is(err, intent.ErrNotFound):
		corrID := uuid.NewString()
		created, createErr := s.store.Create(ctx, intentID, payload, requestHash, corrID)
		if createErr != nil {
			return Response{}, fmt.Errorf("idempotency: create intent: %w", createErr)
		}
		return Response{
			IntentID:      created.IntentID,
			CorrelationID: created.CorrelationID,
			RequestHash:   created.RequestHash,
			StatusURL:     s.urlFor(created.IntentID),
			Decision:      decisionFor(created.State),
		}, nil
	default:
		return Response{}, fmt.Errorf("idempotency: lookup intent: %w", err)
	}
}

func (s *Submitter) urlFor(intentID string) string {
	if s.statusURL == nil {
		return ""
	}
	return s.statusURL(intentID)
}

// decisionFor maps a persisted state to the submission-boundary decision
// enum (spec.md §6).
func decisionFor(state intent.State) string {
	switch state {
	case intent.StateRejected:
		return "rejected"
	case intent.StateReceived:
		return "accepted"
	default:
		return "queued"
	}
}
