package intent

import (
	"context"
	"testing"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	store, err := Open(dsn)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateInsertsReceivedEvent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	got, err := store.Create(ctx, "intent-1", []byte(`{}`), "hash-1", "corr-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got.State != StateReceived || got.Version != 0 {
		t.Fatalf("unexpected initial row: %+v", got)
	}

	events, err := store.Events(ctx, "intent-1")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected exactly one event, got %d", len(events))
	}
	if events[0].FromState != nil {
		t.Fatalf("expected nil from_state on initial event")
	}
	if events[0].ToState != StateReceived {
		t.Fatalf("expected to_state RECEIVED, got %s", events[0].ToState)
	}
}

func TestCreateDuplicateIntentID(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if _, err := store.Create(ctx, "dup", nil, "h", "c"); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := store.Create(ctx, "dup", nil, "h2", "c2"); err != ErrDuplicateIntentID {
		t.Fatalf("expected ErrDuplicateIntentID, got %v", err)
	}
}

func TestCompareAndAdvanceVersionIncrementsByOne(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	store.Create(ctx, "i1", nil, "h", "c")

	updated, err := store.CompareAndAdvance(ctx, AdvanceInput{
		IntentID: "i1", ExpectedVersion: 0, ToState: StateScreened, CorrelationID: "c",
	})
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if updated.Version != 1 || updated.State != StateScreened {
		t.Fatalf("unexpected row after advance: %+v", updated)
	}
}

func TestCompareAndAdvanceConflictOnStaleVersion(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	store.Create(ctx, "i1", nil, "h", "c")

	if _, err := store.CompareAndAdvance(ctx, AdvanceInput{
		IntentID: "i1", ExpectedVersion: 0, ToState: StateScreened, CorrelationID: "c",
	}); err != nil {
		t.Fatalf("first advance: %v", err)
	}

	// Stale expected version (0 again) must fail to match.
	if _, err := store.CompareAndAdvance(ctx, AdvanceInput{
		IntentID: "i1", ExpectedVersion: 0, ToState: StateValidated, CorrelationID: "c",
	}); err != ErrVersionConflict {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
}

func TestGetNotFound(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	if _, err := store.Get(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
