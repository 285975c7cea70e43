package ledger

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/solreap/solreap/types"
)

// AppendAttempt stores one reclaim attempt record. Attempts are append-only
// and keyed by timestamp plus sequence for stable ordering.
func (s *Store) AppendAttempt(attempt types.ReclaimAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, err := json.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("failed to encode attempt for %s: %w", attempt.Handle, err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		key := makeAttemptKey(attempt.Timestamp.UnixNano(), s.attemptSeq+1)
		return tx.Bucket(bucketAttempts).Put(key, value)
	})
	if err != nil {
		return fmt.Errorf("failed to append attempt for %s: %w", attempt.Handle, err)
	}

	s.attemptSeq++
	return nil
}

// ListAttempts returns the newest attempts first, up to limit (<= 0: all).
func (s *Store) ListAttempts(limit int) ([]types.ReclaimAttempt, error) {
	var attempts []types.ReclaimAttempt
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketAttempts).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(attempts) >= limit {
				break
			}
			var attempt types.ReclaimAttempt
			if err := json.Unmarshal(v, &attempt); err != nil {
				return fmt.Errorf("failed to decode attempt record: %w", err)
			}
			attempts = append(attempts, attempt)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return attempts, nil
}

// AttemptsFor returns all attempts recorded for one handle, newest first.
func (s *Store) AttemptsFor(handle string) ([]types.ReclaimAttempt, error) {
	all, err := s.ListAttempts(0)
	if err != nil {
		return nil, err
	}
	var matched []types.ReclaimAttempt
	for _, attempt := range all {
		if attempt.Handle == handle {
			matched = append(matched, attempt)
		}
	}
	return matched, nil
}

// makeAttemptKey builds a timestamp-ordered key with a sequence tiebreaker.
func makeAttemptKey(timestamp, seq int64) []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key[0:8], uint64(timestamp))
	binary.BigEndian.PutUint64(key[8:16], uint64(seq))
	return key
}
