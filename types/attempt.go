package types

import "time"

// ReclaimAttempt is an append-only audit record of one reclaim execution or
// rejection. Never mutated after insertion; used for audit and idempotence
// diagnostics, not for control flow.
type ReclaimAttempt struct {
	Handle    string    `json:"handle"`
	Signature string    `json:"signature,omitempty"`
	Lamports  uint64    `json:"lamports"`
	Success   bool      `json:"success"`
	DryRun    bool      `json:"dry_run"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
