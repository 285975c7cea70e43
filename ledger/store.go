// Package ledger is the durable store of tracked accounts, reclaim attempt
// history, and the discovery scan cursor. It knows nothing about remote
// semantics; engines mutate records only through read-modify-write here.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/btree"
	"go.etcd.io/bbolt"

	"github.com/solreap/solreap/types"
)

// Bucket names in bbolt
var (
	bucketAccounts = []byte("accounts")
	bucketAttempts = []byte("attempts")
	bucketMeta     = []byte("meta")
)

var keyCursor = []byte("scan_cursor")

// ErrNotFound is returned when a handle has never been tracked.
var ErrNotFound = errors.New("account not tracked")

// indexEntry is the in-memory view of one account for fast status scans.
type indexEntry struct {
	Handle   string
	Status   types.AccountStatus
	ClosedAt time.Time
}

// Store is a bbolt-backed single-writer store with an in-memory btree index.
type Store struct {
	mu         sync.RWMutex
	db         *bbolt.DB
	index      *btree.BTreeG[*indexEntry]
	path       string
	attemptSeq int64
	now        func() time.Time
}

// Open opens or creates the store at path and rebuilds the index.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger store: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketAccounts, bucketAttempts, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize ledger buckets: %w", err)
	}

	store := &Store{
		db: db,
		index: btree.NewG[*indexEntry](32, func(a, b *indexEntry) bool {
			return a.Handle < b.Handle
		}),
		path: path,
		now:  time.Now,
	}

	if err := store.rebuildIndex(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) rebuildIndex() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAccounts).ForEach(func(_, v []byte) error {
			var acct types.TrackedAccount
			if err := json.Unmarshal(v, &acct); err != nil {
				return fmt.Errorf("failed to decode stored account: %w", err)
			}
			s.index.ReplaceOrInsert(&indexEntry{
				Handle:   acct.Handle,
				Status:   acct.Status,
				ClosedAt: acct.ClosedAt,
			})
			return nil
		})
	})
}

// Cursor returns the persisted scan cursor, or "" when none exists.
func (s *Store) Cursor() (string, error) {
	var cursor string
	err := s.db.View(func(tx *bbolt.Tx) error {
		cursor = string(tx.Bucket(bucketMeta).Get(keyCursor))
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to read scan cursor: %w", err)
	}
	return cursor, nil
}

// SetCursor persists the scan cursor. An empty value clears it.
func (s *Store) SetCursor(value string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if value == "" {
			return meta.Delete(keyCursor)
		}
		return meta.Put(keyCursor, []byte(value))
	})
	if err != nil {
		return fmt.Errorf("failed to persist scan cursor: %w", err)
	}
	return nil
}

// Stats summarizes the store for reporting.
type Stats struct {
	Total             int                         `json:"total"`
	ByStatus          map[types.AccountStatus]int `json:"by_status"`
	ByKind            map[types.AccountKind]int   `json:"by_kind"`
	ReclaimedLamports uint64                      `json:"reclaimed_lamports"`
	PendingLamports   uint64                      `json:"pending_lamports"` // rent of closed, not yet reclaimed
	Attempts          int                         `json:"attempts"`
	DBSizeBytes       int64                       `json:"db_size_bytes"`
}

// ComputeStats scans the full store; intended for the report surface, not
// for per-cycle control flow.
func (s *Store) ComputeStats() (*Stats, error) {
	stats := &Stats{
		ByStatus: make(map[types.AccountStatus]int),
		ByKind:   make(map[types.AccountKind]int),
	}

	err := s.db.View(func(tx *bbolt.Tx) error {
		err := tx.Bucket(bucketAccounts).ForEach(func(_, v []byte) error {
			var acct types.TrackedAccount
			if err := json.Unmarshal(v, &acct); err != nil {
				return err
			}
			stats.Total++
			stats.ByStatus[acct.Status]++
			stats.ByKind[acct.Kind]++
			switch acct.Status {
			case types.StatusReclaimed:
				stats.ReclaimedLamports += acct.ReclaimedLamports
			case types.StatusClosed:
				stats.PendingLamports += acct.RentExemptMin
			}
			return nil
		})
		if err != nil {
			return err
		}
		stats.Attempts = tx.Bucket(bucketAttempts).Stats().KeyN
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to compute stats: %w", err)
	}

	if info, err := os.Stat(s.path); err == nil {
		stats.DBSizeBytes = info.Size()
	}
	return stats, nil
}
