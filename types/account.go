package types

import (
	"fmt"
	"time"
)

// Well-known controller programs. Anything else is an unrecognized controller.
const (
	SystemProgram          = "11111111111111111111111111111111"
	TokenProgram           = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	Token2022Program       = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"
	AssociatedTokenProgram = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
)

// AccountKind classifies a tracked account by its controlling program.
type AccountKind string

const (
	KindSystem          AccountKind = "system"
	KindToken           AccountKind = "token"
	KindToken2022       AccountKind = "token2022"
	KindAssociatedToken AccountKind = "ata"
	KindProgramDerived  AccountKind = "pda"
	KindUnknown         AccountKind = "unknown"
)

// AccountStatus is the lifecycle state of a tracked account.
type AccountStatus string

const (
	StatusActive    AccountStatus = "active"
	StatusEmpty     AccountStatus = "empty"
	StatusClosed    AccountStatus = "closed"
	StatusReclaimed AccountStatus = "reclaimed"
	StatusProtected AccountStatus = "protected"
	StatusError     AccountStatus = "error"
)

// TrackedAccount is the central record: one account created by the sponsor
// identity, followed from discovery until its rent is reclaimed.
//
// The Ledger Store owns every TrackedAccount. Engines never hold a private
// copy across calls; all mutation is read-modify-write through the store.
type TrackedAccount struct {
	Handle string        `json:"handle"`
	Kind   AccountKind   `json:"kind"`
	Status AccountStatus `json:"status"`

	// Quantitative state
	Lamports       uint64 `json:"lamports"`
	RentExemptMin  uint64 `json:"rent_exempt_min"`
	Controller     string `json:"controller"`
	Owner          string `json:"owner,omitempty"`
	CloseAuthority string `json:"close_authority,omitempty"`
	TokenAmount    uint64 `json:"token_amount,omitempty"`

	// Provenance
	CreatedBySig string    `json:"created_by_sig"`
	CreatedSlot  uint64    `json:"created_slot"`
	CreatedAt    time.Time `json:"created_at"`

	// Observation metadata
	LastCheckedAt     time.Time `json:"last_checked_at,omitempty"`
	ClosedAt          time.Time `json:"closed_at,omitempty"`
	ReclaimedAt       time.Time `json:"reclaimed_at,omitempty"`
	ReclaimSig        string    `json:"reclaim_sig,omitempty"`
	ReclaimedLamports uint64    `json:"reclaimed_lamports,omitempty"`
	LastError         string    `json:"last_error,omitempty"`
}

// transitions lists the permitted forward moves. The closed -> active edge is
// the revival exception; reclaimed and protected are terminal.
var transitions = map[AccountStatus][]AccountStatus{
	StatusActive: {StatusEmpty, StatusClosed, StatusError},
	StatusEmpty:  {StatusActive, StatusClosed, StatusError},
	StatusClosed: {StatusReclaimed, StatusProtected, StatusActive, StatusError},
	StatusError:  {StatusActive, StatusEmpty, StatusClosed},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to AccountStatus) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Validate checks the record's per-status invariants.
func (a *TrackedAccount) Validate() error {
	if a.Handle == "" {
		return fmt.Errorf("account handle cannot be empty")
	}
	if err := ValidateHandle(a.Handle); err != nil {
		return err
	}
	switch a.Status {
	case StatusActive, StatusEmpty, StatusClosed, StatusReclaimed, StatusProtected, StatusError:
	default:
		return fmt.Errorf("unknown account status %q", a.Status)
	}
	if a.Status == StatusReclaimed {
		if a.ClosedAt.IsZero() || a.ReclaimedAt.IsZero() {
			return fmt.Errorf("reclaimed account %s missing closed/reclaimed timestamps", a.Handle)
		}
		if a.ReclaimedAt.Before(a.ClosedAt) {
			return fmt.Errorf("reclaimed account %s has reclaimed_at before closed_at", a.Handle)
		}
		if a.RentExemptMin > 0 && a.ReclaimedLamports > a.RentExemptMin {
			return fmt.Errorf("reclaimed account %s recovered %d above rent-exempt minimum %d",
				a.Handle, a.ReclaimedLamports, a.RentExemptMin)
		}
	}
	if a.Status == StatusClosed && a.ClosedAt.IsZero() {
		return fmt.Errorf("closed account %s missing closed_at", a.Handle)
	}
	return nil
}

// Age returns how long the account has been closed as of now.
func (a *TrackedAccount) Age(now time.Time) time.Duration {
	if a.ClosedAt.IsZero() {
		return 0
	}
	return now.Sub(a.ClosedAt)
}

// IsHolder reports whether the account is a token-holder kind whose reclaim
// goes through a close-account instruction.
func (a *TrackedAccount) IsHolder() bool {
	switch a.Kind {
	case KindToken, KindToken2022, KindAssociatedToken:
		return true
	}
	return false
}

// Classify maps a controller program and data size to an account kind.
//
// The pda classification is a heuristic: any account with non-empty data
// under an unrecognized controller. The ledger exposes no canonical type
// tag, so this stays a documented approximation.
func Classify(controller string, size uint64) AccountKind {
	switch controller {
	case SystemProgram:
		return KindSystem
	case TokenProgram:
		return KindToken
	case Token2022Program:
		return KindToken2022
	default:
		if size > 0 {
			return KindProgramDerived
		}
		return KindUnknown
	}
}

// ValidateHandle rejects strings that cannot be base58 account handles.
// Fails fast at the boundary, before any remote call.
func ValidateHandle(handle string) error {
	if len(handle) < 32 || len(handle) > 44 {
		return fmt.Errorf("invalid handle %q: length %d outside base58 key range", handle, len(handle))
	}
	for _, r := range handle {
		if !isBase58(r) {
			return fmt.Errorf("invalid handle %q: character %q not base58", handle, r)
		}
	}
	return nil
}

func isBase58(r rune) bool {
	switch {
	case r >= '1' && r <= '9':
		return true
	case r >= 'A' && r <= 'Z':
		return r != 'I' && r != 'O'
	case r >= 'a' && r <= 'z':
		return r != 'l'
	}
	return false
}
