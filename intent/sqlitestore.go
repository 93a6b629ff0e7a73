package intent

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"
)

// schema mirrors the persisted state layout in spec.md §6: two primary
// tables plus a unique key on intents.id and an index on intent_events for
// ordered per-intent reads. intent_events carries no uniqueness constraint
// on (intent_id, ts): events are ordered by ts then insertion order
// (spec.md §3/§6), so two distinct events legitimately sharing a ts for the
// same intent must both persist; fixture re-import idempotency is handled
// by importEvent's own existence check instead (see fixtures.go).
const schema = `
CREATE TABLE IF NOT EXISTS intents (
	id             TEXT PRIMARY KEY,
	state          TEXT NOT NULL,
	version        INTEGER NOT NULL,
	received_at    DATETIME NOT NULL,
	payload        BLOB,
	request_hash   TEXT NOT NULL,
	correlation_id TEXT NOT NULL,
	last_reason    TEXT
);

CREATE TABLE IF NOT EXISTS intent_events (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	intent_id       TEXT NOT NULL,
	from_state      TEXT,
	to_state        TEXT NOT NULL,
	reason_code     TEXT,
	reason_category TEXT,
	reason_message  TEXT,
	context         TEXT,
	corr_id         TEXT,
	request_hash    TEXT,
	ts              DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_intent_events_intent_ts ON intent_events(intent_id, ts);
`

// SQLiteStore is the C2 implementation backed by a pure-Go SQLite driver,
// following the open-and-apply-schema discipline of services/swapd/storage.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// ErrPathRequired is returned when the backing store path is missing.
var ErrPathRequired = errors.New("intent: storage path must be configured")

// Open opens (creating if necessary) the SQLite-backed intent store.
func Open(dsn string) (*SQLiteStore, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("intent: open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; CAS correctness does not depend on this, but it avoids sqlite lock contention under the worker pool.
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("intent: apply schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close releases database resources.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Create implements Store.
func (s *SQLiteStore) Create(ctx context.Context, intentID string, payload []byte, requestHash, correlationID string) (Intent, error) {
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return Intent{}, fmt.Errorf("intent: intent id required")
	}
	now := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Intent{}, fmt.Errorf("intent: begin create: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM intents WHERE id = ?`, intentID).Scan(&exists); err != nil {
		return Intent{}, fmt.Errorf("intent: check existing: %w", err)
	}
	if exists > 0 {
		return Intent{}, ErrDuplicateIntentID
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO intent_events(intent_id, from_state, to_state, corr_id, request_hash, ts)
		VALUES(?, NULL, ?, ?, ?, ?)
	`, intentID, string(StateReceived), correlationID, requestHash, now); err != nil {
		return Intent{}, fmt.Errorf("intent: insert initial event: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO intents(id, state, version, received_at, payload, request_hash, correlation_id, last_reason)
		VALUES(?, ?, 0, ?, ?, ?, ?, NULL)
	`, intentID, string(StateReceived), now, payload, requestHash, correlationID); err != nil {
		return Intent{}, fmt.Errorf("intent: insert intent: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Intent{}, fmt.Errorf("intent: commit create: %w", err)
	}

	return Intent{
		IntentID:      intentID,
		State:         StateReceived,
		Version:       0,
		RequestHash:   requestHash,
		CorrelationID: correlationID,
		Payload:       payload,
		ReceivedAt:    now,
	}, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, intentID string) (Intent, error) {
	return s.getTx(ctx, s.db, intentID)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) getTx(ctx context.Context, q querier, intentID string) (Intent, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, state, version, received_at, payload, request_hash, correlation_id, last_reason
		FROM intents WHERE id = ?
	`, intentID)
	var (
		result     Intent
		state      string
		receivedAt time.Time
		lastReason sql.NullString
	)
	if err := row.Scan(&result.IntentID, &state, &result.Version, &receivedAt, &result.Payload, &result.RequestHash, &result.CorrelationID, &lastReason); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Intent{}, ErrNotFound
		}
		return Intent{}, fmt.Errorf("intent: query intent: %w", err)
	}
	result.State = State(state)
	result.ReceivedAt = receivedAt
	if lastReason.Valid && lastReason.String != "" {
		var reason Reason
		if err := json.Unmarshal([]byte(lastReason.String), &reason); err == nil {
			result.LastReason = &reason
		}
	}
	return result, nil
}

// CompareAndAdvance implements Store following the algorithm in spec.md
// §4.3: append the event first, then attempt the version-gated UPDATE.
func (s *SQLiteStore) CompareAndAdvance(ctx context.Context, in AdvanceInput) (Intent, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Intent{}, fmt.Errorf("intent: begin advance: %w", err)
	}
	defer tx.Rollback()

	current, err := s.getTx(ctx, tx, in.IntentID)
	if err != nil {
		return Intent{}, err
	}

	fromState := current.State
	var contextJSON, reasonCode, reasonCategory, reasonMessage sql.NullString
	var lastReasonJSON any
	if in.Reason != nil {
		reasonCode = sql.NullString{String: in.Reason.Code, Valid: true}
		reasonCategory = sql.NullString{String: in.Reason.Category, Valid: true}
		reasonMessage = sql.NullString{String: in.Reason.Message, Valid: true}
		if in.Reason.Context != nil {
			encoded, err := json.Marshal(in.Reason.Context)
			if err != nil {
				return Intent{}, fmt.Errorf("intent: encode reason context: %w", err)
			}
			contextJSON = sql.NullString{String: string(encoded), Valid: true}
		}
		encodedReason, err := json.Marshal(in.Reason)
		if err != nil {
			return Intent{}, fmt.Errorf("intent: encode reason: %w", err)
		}
		lastReasonJSON = string(encodedReason)
	}

	now := s.now().UTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO intent_events(intent_id, from_state, to_state, reason_code, reason_category, reason_message, context, corr_id, request_hash, ts)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, in.IntentID, string(fromState), string(in.ToState), reasonCode, reasonCategory, reasonMessage, contextJSON, in.CorrelationID, in.RequestHash, now); err != nil {
		return Intent{}, fmt.Errorf("intent: insert event: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE intents SET state = ?, version = version + 1, last_reason = COALESCE(?, last_reason)
		WHERE id = ? AND version = ?
	`, string(in.ToState), lastReasonJSON, in.IntentID, in.ExpectedVersion)
	if err != nil {
		return Intent{}, fmt.Errorf("intent: update intent: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return Intent{}, fmt.Errorf("intent: rows affected: %w", err)
	}
	if affected == 0 {
		// The event row we just inserted is discarded by this rollback: the
		// audit event must never outlive a losing compare-and-swap attempt.
		return Intent{}, ErrVersionConflict
	}

	if err := tx.Commit(); err != nil {
		return Intent{}, fmt.Errorf("intent: commit advance: %w", err)
	}

	return s.Get(ctx, in.IntentID)
}

// Events implements Store.
func (s *SQLiteStore) Events(ctx context.Context, intentID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT intent_id, from_state, to_state, reason_code, reason_category, reason_message, context, corr_id, request_hash, ts
		FROM intent_events WHERE intent_id = ? ORDER BY ts ASC, id ASC
	`, intentID)
	if err != nil {
		return nil, fmt.Errorf("intent: query events: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0)
	for rows.Next() {
		var (
			ev                                                      Event
			fromState, reasonCode, reasonCategory, reasonMessage     sql.NullString
			contextJSON, corrID, requestHash                         sql.NullString
			toState                                                  string
		)
		if err := rows.Scan(&ev.IntentID, &fromState, &toState, &reasonCode, &reasonCategory, &reasonMessage, &contextJSON, &corrID, &requestHash, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("intent: scan event: %w", err)
		}
		ev.ToState = State(toState)
		if fromState.Valid {
			v := State(fromState.String)
			ev.FromState = &v
		}
		ev.ReasonCode = reasonCode.String
		ev.ReasonCategory = reasonCategory.String
		ev.ReasonMessage = reasonMessage.String
		ev.CorrelationID = corrID.String
		ev.RequestHash = requestHash.String
		if contextJSON.Valid && contextJSON.String != "" {
			var ctxMap map[string]any
			if err := json.Unmarshal([]byte(contextJSON.String), &ctxMap); err == nil {
				ev.Context = ctxMap
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("intent: iterate events: %w", err)
	}
	return events, nil
}
