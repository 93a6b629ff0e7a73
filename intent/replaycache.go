package intent

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ReplayCache backs the Screen stage's replay-seen check (spec.md §4.4):
// it records a client-provided nonce or request_hash the first time it is
// observed and reports true on every subsequent sighting, so a replayed
// submission can be rejected with SCREEN_REPLAY_SEEN.
//
// Adapted from the teacher's LevelDB nonce persistence: an observed-at-ordered
// secondary key (which gateway/noncestore.go does not keep) lets PruneSeen
// reclaim space without a full table scan.
type ReplayCache struct {
	db *leveldb.DB
}

const (
	replaySeenPrefix     = "seen:"
	replayObservedPrefix = "observed:"
)

// OpenReplayCache opens (or creates) a LevelDB-backed replay cache.
func OpenReplayCache(path string) (*ReplayCache, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("intent: replay cache path required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("intent: resolve replay cache path: %w", err)
	}
	db, err := leveldb.OpenFile(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("intent: open replay cache: %w", err)
	}
	return &ReplayCache{db: db}, nil
}

// Close releases the underlying LevelDB resources.
func (c *ReplayCache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// EnsureSeen records key's first sighting at observedAt and reports whether
// it had already been seen before this call.
func (c *ReplayCache) EnsureSeen(ctx context.Context, key string, observedAt time.Time) (alreadySeen bool, err error) {
	if c == nil || c.db == nil {
		return false, fmt.Errorf("intent: replay cache not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return false, fmt.Errorf("intent: replay key required")
	}
	if observedAt.IsZero() {
		observedAt = time.Now()
	}
	observedAt = observedAt.UTC()

	seenKey := []byte(replaySeenPrefix + key)
	if _, err := c.db.Get(seenKey, nil); err == nil {
		return true, nil
	} else if !errors.Is(err, leveldb.ErrNotFound) {
		return false, fmt.Errorf("intent: load replay key: %w", err)
	}

	nanos := observedAt.UnixNano()
	batch := new(leveldb.Batch)
	batch.Put(seenKey, encodeReplayNanos(nanos))
	batch.Put([]byte(observedKeyFor(nanos, key)), nil)
	if err := c.db.Write(batch, nil); err != nil {
		return false, fmt.Errorf("intent: record replay key: %w", err)
	}
	return false, nil
}

// PruneSeen deletes entries first observed strictly before cutoff.
func (c *ReplayCache) PruneSeen(ctx context.Context, cutoff time.Time) error {
	if c == nil || c.db == nil {
		return fmt.Errorf("intent: replay cache not configured")
	}
	cutoff = cutoff.UTC()
	cutoffKey := []byte(observedKeyFor(cutoff.UnixNano(), ""))
	iter := c.db.NewIterator(util.BytesPrefix([]byte(replayObservedPrefix)), nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	for iter.Next() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if compareReplayKeys(iter.Key(), cutoffKey) >= 0 {
			break
		}
		key, _, ok := parseObservedKeyFor(iter.Key())
		if !ok {
			continue
		}
		batch.Delete(append([]byte(nil), iter.Key()...))
		batch.Delete([]byte(replaySeenPrefix + key))
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("intent: iterate replay cache: %w", err)
	}
	if batch.Len() > 0 {
		if err := c.db.Write(batch, nil); err != nil {
			return fmt.Errorf("intent: prune replay cache: %w", err)
		}
	}
	return nil
}

func observedKeyFor(nanos int64, key string) string {
	return fmt.Sprintf("%s%020d:%s", replayObservedPrefix, nanos, key)
}

func parseObservedKeyFor(raw []byte) (string, int64, bool) {
	parts := strings.SplitN(string(raw), ":", 3)
	if len(parts) != 3 {
		return "", 0, false
	}
	nanos, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return parts[2], nanos, true
}

func encodeReplayNanos(nanos int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(nanos))
	return buf
}

func compareReplayKeys(a, b []byte) int {
	min := len(a)
	if len(b) < min {
		min = len(b)
	}
	for i := 0; i < min; i++ {
		if a[i] < b[i] {
			return -1
		}
		if a[i] > b[i] {
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}
