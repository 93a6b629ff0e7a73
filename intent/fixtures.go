package intent

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// fixtureLine mirrors the JSONL fixture format in spec.md §6.
type fixtureLine struct {
	IntentID       string         `json:"intent_id"`
	FromState      *string        `json:"from_state"`
	ToState        string         `json:"to_state"`
	ReasonCode     string         `json:"reason_code,omitempty"`
	ReasonCategory string         `json:"reason_category,omitempty"`
	ReasonMessage  string         `json:"reason_message,omitempty"`
	Context        map[string]any `json:"context,omitempty"`
	CorrID         string         `json:"corr_id,omitempty"`
	RequestHash    string         `json:"request_hash,omitempty"`
	Timestamp      time.Time      `json:"ts"`
}

// LoadResult summarizes a fixture load.
type LoadResult struct {
	Imported int
	Skipped  []string // human-readable warnings for malformed lines
}

// LoadFixtures reads an event-row JSONL fixture and imports it into the
// store. Malformed lines are skipped with a warning and do not abort the
// load (spec.md §6). Re-loading the same fixture does not duplicate event
// rows: importEvent checks for a matching (intent_id, ts, to_state,
// reason_code) row before inserting, a fixture-import-only de-dup that
// leaves the authoritative event table free of a table-wide uniqueness
// constraint two real events may legitimately violate.
func (s *SQLiteStore) LoadFixtures(ctx context.Context, r io.Reader) (LoadResult, error) {
	result := LoadResult{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var line fixtureLine
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			result.Skipped = append(result.Skipped, fmt.Sprintf("line %d: %v", lineNo, err))
			continue
		}
		if line.IntentID == "" || line.ToState == "" || line.Timestamp.IsZero() {
			result.Skipped = append(result.Skipped, fmt.Sprintf("line %d: missing required field", lineNo))
			continue
		}
		if err := s.importEvent(ctx, line); err != nil {
			result.Skipped = append(result.Skipped, fmt.Sprintf("line %d: %v", lineNo, err))
			continue
		}
		result.Imported++
	}
	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("intent: scan fixtures: %w", err)
	}
	return result, nil
}

// importEvent inserts a fixture-derived event row (skipped if a row matching
// the same intent_id, ts, to_state, and reason_code already exists) and
// upserts the intents row to track whichever event for that intent carries
// the latest timestamp.
func (s *SQLiteStore) importEvent(ctx context.Context, line fixtureLine) error {
	var fromState sql.NullString
	if line.FromState != nil {
		fromState = sql.NullString{String: *line.FromState, Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin import: %w", err)
	}
	defer tx.Rollback()

	var contextJSON sql.NullString
	if line.Context != nil {
		encoded, err := json.Marshal(line.Context)
		if err != nil {
			return fmt.Errorf("encode context: %w", err)
		}
		contextJSON = sql.NullString{String: string(encoded), Valid: true}
	}

	reasonCode := nullIfEmpty(line.ReasonCode)

	var alreadyImported int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM intent_events
		WHERE intent_id = ? AND ts = ? AND to_state = ? AND reason_code IS ?
	`, line.IntentID, line.Timestamp.UTC(), line.ToState, reasonCode).Scan(&alreadyImported); err != nil {
		return fmt.Errorf("check existing event: %w", err)
	}
	if alreadyImported > 0 {
		// Already imported, nothing further to do.
		return tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO intent_events(intent_id, from_state, to_state, reason_code, reason_category, reason_message, context, corr_id, request_hash, ts)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, line.IntentID, fromState, line.ToState, reasonCode, nullIfEmpty(line.ReasonCategory), nullIfEmpty(line.ReasonMessage), contextJSON, nullIfEmpty(line.CorrID), nullIfEmpty(line.RequestHash), line.Timestamp.UTC()); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM intents WHERE id = ?`, line.IntentID).Scan(&exists); err != nil {
		return fmt.Errorf("check intent: %w", err)
	}
	if exists == 0 {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO intents(id, state, version, received_at, payload, request_hash, correlation_id, last_reason)
			VALUES(?, ?, 0, ?, NULL, ?, ?, NULL)
		`, line.IntentID, line.ToState, line.Timestamp.UTC(), line.RequestHash, line.CorrID); err != nil {
			return fmt.Errorf("seed intent: %w", err)
		}
		return tx.Commit()
	}

	// Only advance the projected state if this event is newer than the
	// intent's current received_at/last-seen marker, so out-of-order fixture
	// replays converge on the same final state regardless of line order.
	var currentReceivedAt time.Time
	if err := tx.QueryRowContext(ctx, `SELECT received_at FROM intents WHERE id = ?`, line.IntentID).Scan(&currentReceivedAt); err != nil {
		return fmt.Errorf("load current received_at: %w", err)
	}
	if line.Timestamp.UTC().After(currentReceivedAt) {
		if _, err := tx.ExecContext(ctx, `
			UPDATE intents SET state = ?, version = version + 1, received_at = ? WHERE id = ?
		`, line.ToState, line.Timestamp.UTC(), line.IntentID); err != nil {
			return fmt.Errorf("update projected state: %w", err)
		}
	}
	return tx.Commit()
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
