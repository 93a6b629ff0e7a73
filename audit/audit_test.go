package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRecordAppendsLineDelimitedJSON(t *testing.T) {
	dir := t.TempDir()
	log, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer log.Close()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := log.Record(SubjectSubmissions, now, map[string]any{"intent_id": "i1"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := log.Record(SubjectSubmissions, now, map[string]any{"intent_id": "i2"}); err != nil {
		t.Fatalf("record: %v", err)
	}

	path := filepath.Join(dir, "submissions.jsonl")
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open file: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	count := 0
	for scanner.Scan() {
		var record map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			t.Fatalf("line %d not valid json: %v", count, err)
		}
		if record["ts"] == nil {
			t.Fatalf("expected ts stamped on record")
		}
		count++
	}
	if count != 2 {
		t.Fatalf("expected 2 lines, got %d", count)
	}
}

func TestRecordSeparatesSubjectsIntoDifferentFiles(t *testing.T) {
	dir := t.TempDir()
	log, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer log.Close()

	now := time.Now()
	if err := log.Record(SubjectBundles, now, map[string]any{"a": 1}); err != nil {
		t.Fatalf("record bundles: %v", err)
	}
	if err := log.Record(SubjectPolicy, now, map[string]any{"b": 2}); err != nil {
		t.Fatalf("record policy: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "bundles.jsonl")); err != nil {
		t.Fatalf("expected bundles.jsonl: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "policy_decisions.jsonl")); err != nil {
		t.Fatalf("expected policy_decisions.jsonl: %v", err)
	}
}
