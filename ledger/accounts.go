package ledger

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/solreap/solreap/types"
)

// UpsertAccount inserts or replaces a tracked account.
func (s *Store) UpsertAccount(acct types.TrackedAccount) error {
	if err := acct.Validate(); err != nil {
		return fmt.Errorf("refusing to store invalid account: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	value, err := json.Marshal(acct)
	if err != nil {
		return fmt.Errorf("failed to encode account %s: %w", acct.Handle, err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAccounts).Put([]byte(acct.Handle), value)
	})
	if err != nil {
		return fmt.Errorf("failed to store account %s: %w", acct.Handle, err)
	}

	s.index.ReplaceOrInsert(&indexEntry{
		Handle:   acct.Handle,
		Status:   acct.Status,
		ClosedAt: acct.ClosedAt,
	})
	return nil
}

// GetAccount returns one account by handle, or ErrNotFound.
func (s *Store) GetAccount(handle string) (*types.TrackedAccount, error) {
	var acct *types.TrackedAccount
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketAccounts).Get([]byte(handle))
		if raw == nil {
			return ErrNotFound
		}
		acct = &types.TrackedAccount{}
		return json.Unmarshal(raw, acct)
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

// Has reports whether a handle is already tracked, without decoding it.
func (s *Store) Has(handle string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, found := s.index.Get(&indexEntry{Handle: handle})
	return found
}

// Update applies fn to the stored record in a single read-modify-write
// transaction. Status changes are validated against the lifecycle guard.
func (s *Store) Update(handle string, fn func(*types.TrackedAccount) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var updated types.TrackedAccount
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketAccounts)
		raw := bucket.Get([]byte(handle))
		if raw == nil {
			return ErrNotFound
		}

		var acct types.TrackedAccount
		if err := json.Unmarshal(raw, &acct); err != nil {
			return fmt.Errorf("failed to decode account %s: %w", handle, err)
		}
		before := acct.Status

		if err := fn(&acct); err != nil {
			return err
		}
		if acct.Handle != handle {
			return fmt.Errorf("account handle is immutable")
		}
		if !types.CanTransition(before, acct.Status) {
			return fmt.Errorf("illegal transition %s -> %s for %s", before, acct.Status, handle)
		}
		if err := acct.Validate(); err != nil {
			return err
		}

		value, err := json.Marshal(acct)
		if err != nil {
			return fmt.Errorf("failed to encode account %s: %w", handle, err)
		}
		updated = acct
		return bucket.Put([]byte(handle), value)
	})
	if err != nil {
		return err
	}

	s.index.ReplaceOrInsert(&indexEntry{
		Handle:   updated.Handle,
		Status:   updated.Status,
		ClosedAt: updated.ClosedAt,
	})
	return nil
}

// ListByStatus returns accounts in the given status. limit <= 0 means all.
func (s *Store) ListByStatus(status types.AccountStatus, limit int) ([]types.TrackedAccount, error) {
	handles := s.handlesByStatus(status)
	if limit > 0 && len(handles) > limit {
		handles = handles[:limit]
	}
	return s.fetchAll(handles)
}

// ListReclaimEligible returns closed accounts whose closed-at age is at
// least minAge, ordered oldest-closed-first, bounded by limit.
func (s *Store) ListReclaimEligible(minAge time.Duration, limit int) ([]types.TrackedAccount, error) {
	cutoff := s.now().Add(-minAge)

	s.mu.RLock()
	var entries []*indexEntry
	s.index.Ascend(func(e *indexEntry) bool {
		if e.Status == types.StatusClosed && !e.ClosedAt.After(cutoff) {
			entries = append(entries, e)
		}
		return true
	})
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ClosedAt.Before(entries[j].ClosedAt)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	handles := make([]string, len(entries))
	for i, e := range entries {
		handles[i] = e.Handle
	}
	return s.fetchAll(handles)
}

func (s *Store) handlesByStatus(status types.AccountStatus) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var handles []string
	s.index.Ascend(func(e *indexEntry) bool {
		if e.Status == status {
			handles = append(handles, e.Handle)
		}
		return true
	})
	return handles
}

func (s *Store) fetchAll(handles []string) ([]types.TrackedAccount, error) {
	accounts := make([]types.TrackedAccount, 0, len(handles))
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketAccounts)
		for _, handle := range handles {
			raw := bucket.Get([]byte(handle))
			if raw == nil {
				continue // index ahead of a concurrent delete; skip
			}
			var acct types.TrackedAccount
			if err := json.Unmarshal(raw, &acct); err != nil {
				return fmt.Errorf("failed to decode account %s: %w", handle, err)
			}
			accounts = append(accounts, acct)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return accounts, nil
}
