package intent

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LastEventRow is a row of the optional intent_last_event projection
// (spec.md §4.2): the latest event per intent, refreshed on demand. It is a
// read-only dashboard surface, never consulted by the transition executor.
type LastEventRow struct {
	IntentID string `gorm:"column:intent_id;primaryKey"`
	ToState  string `gorm:"column:to_state"`
	Ts       time.Time `gorm:"column:ts"`
}

// TableName pins the GORM model to the projection's table name.
func (LastEventRow) TableName() string { return "intent_last_event" }

// LastEventView owns the Postgres-backed materialized projection, kept
// deliberately on a separate database connection from the authoritative
// SQLite intent store so a dashboard outage can never affect the
// compare-and-swap path (spec.md §4.2's "refresh-on-demand" projection).
type LastEventView struct {
	db *gorm.DB
}

// OpenLastEventView wraps an already-open GORM/Postgres connection and
// ensures the projection table exists.
func OpenLastEventView(db *gorm.DB) (*LastEventView, error) {
	if db == nil {
		return nil, fmt.Errorf("intent: gorm connection required for last-event view")
	}
	if err := db.AutoMigrate(&LastEventRow{}); err != nil {
		return nil, fmt.Errorf("intent: migrate last-event view: %w", err)
	}
	return &LastEventView{db: db}, nil
}

// Refresh recomputes the projection from the authoritative event stream.
// Called on demand (from an admin endpoint or a caller-owned ticker); the
// required freshness SLA is left undefined by spec.md, so no background
// loop runs here (see DESIGN.md Open Question decisions).
func (v *LastEventView) Refresh(ctx context.Context, events []Event) error {
	if v == nil || v.db == nil {
		return fmt.Errorf("intent: last-event view not configured")
	}
	latest := make(map[string]LastEventRow, len(events))
	for _, ev := range events {
		row, ok := latest[ev.IntentID]
		if !ok || ev.Timestamp.After(row.Ts) {
			latest[ev.IntentID] = LastEventRow{
				IntentID: ev.IntentID,
				ToState:  string(ev.ToState),
				Ts:       ev.Timestamp,
			}
		}
	}
	rows := make([]LastEventRow, 0, len(latest))
	for _, row := range latest {
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil
	}
	return v.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "intent_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"to_state", "ts"}),
	}).Create(&rows).Error
}

// Get returns the latest projected event for an intent.
func (v *LastEventView) Get(ctx context.Context, intentID string) (LastEventRow, error) {
	var row LastEventRow
	if err := v.db.WithContext(ctx).First(&row, "intent_id = ?", intentID).Error; err != nil {
		return LastEventRow{}, fmt.Errorf("intent: query last-event view: %w", err)
	}
	return row, nil
}
