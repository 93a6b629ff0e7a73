package gateway

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
)

// LevelDBNonceStore persists API-key nonce usage so a replayed request is
// still rejected across a process restart, adapted from the teacher's
// gateway nonce persistence onto a single-key-per-nonce schema (this
// engine has no need for the teacher's time-ordered prune index: its
// LevelDB compaction already bounds storage, and pruning happens only when a
// caller invokes Prune; nothing in this module does).
type LevelDBNonceStore struct {
	db *leveldb.DB
}

// NewLevelDBNonceStore opens (or creates) a LevelDB database at path.
func NewLevelDBNonceStore(path string) (*LevelDBNonceStore, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, errors.New("gateway: nonce store path required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("gateway: resolve nonce store path: %w", err)
	}
	db, err := leveldb.OpenFile(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("gateway: open nonce store: %w", err)
	}
	return &LevelDBNonceStore{db: db}, nil
}

// Close releases the underlying LevelDB handle.
func (s *LevelDBNonceStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SeenBefore records first-use of (apiKey, timestamp, nonce), returning true
// if that composite key was already recorded.
func (s *LevelDBNonceStore) SeenBefore(apiKey, timestamp, nonce string, observedAt time.Time) (bool, error) {
	key := []byte(apiKey + "|" + timestamp + "|" + nonce)
	_, err := s.db.Get(key, nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(observedAt.UnixNano()))
		if err := s.db.Put(key, buf, nil); err != nil {
			return false, fmt.Errorf("gateway: record nonce: %w", err)
		}
		return false, nil
	case err != nil:
		return false, fmt.Errorf("gateway: load nonce: %w", err)
	default:
		return true, nil
	}
}

// Prune deletes nonce records observed before cutoff. LevelDB has no native
// TTL, so pruning is an explicit sweep with no scheduler of its own, rather
// than the teacher's secondary observed-at index (nonce volume here
// is bounded by the HMAC signature's own timestamp skew window, so a full
// table scan on each sweep is acceptable).
func (s *LevelDBNonceStore) Prune(cutoff time.Time) error {
	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	cutoffNanos := uint64(cutoff.UnixNano())
	for iter.Next() {
		value := iter.Value()
		if len(value) != 8 {
			continue
		}
		if binary.BigEndian.Uint64(value) < cutoffNanos {
			batch.Delete(append([]byte(nil), iter.Key()...))
		}
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("gateway: iterate nonces: %w", err)
	}
	if batch.Len() > 0 {
		if err := s.db.Write(batch, nil); err != nil {
			return fmt.Errorf("gateway: prune nonces: %w", err)
		}
	}
	return nil
}
