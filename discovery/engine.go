// Package discovery keeps the ledger store's set of tracked accounts
// complete and status-accurate: it pages backward through the sponsor's
// operation history to find newly created accounts, and re-checks known
// accounts' existence and balance in bulk.
package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/solreap/solreap/gateway"
	"github.com/solreap/solreap/ledger"
	"github.com/solreap/solreap/telemetry"
	"github.com/solreap/solreap/types"
)

// Gateway is the remote surface the engine consumes.
type Gateway interface {
	ListSignatures(ctx context.Context, identity, before string, limit int) ([]gateway.SignatureInfo, error)
	GetTransaction(ctx context.Context, signature string) (*gateway.TransactionDetail, error)
	GetAccount(ctx context.Context, handle string) (*gateway.AccountState, error)
	GetAccounts(ctx context.Context, handles []string) (map[string]gateway.AccountState, error)
	MinimumRentExemption(ctx context.Context, size uint64) (uint64, error)
}

// Options configure the engine.
type Options struct {
	Sponsor   string
	PageSize  int
	BatchSize int
}

// Result reports one pass's counts. No decision logic lives in these.
type Result struct {
	NewAccounts  int `json:"new_accounts"`
	NewlyClosed  int `json:"newly_closed"`
	Refreshed    int `json:"refreshed"`
	Errors       int `json:"errors"`
	Checked      int `json:"checked"`
	PagesScanned int `json:"pages_scanned"`
}

// Engine discovers and reconciles tracked accounts.
type Engine struct {
	gw     Gateway
	store  *ledger.Store
	logger *telemetry.Logger
	opts   Options
	now    func() time.Time
}

// NewEngine creates a discovery engine.
func NewEngine(gw Gateway, store *ledger.Store, logger *telemetry.Logger, opts Options) *Engine {
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	return &Engine{
		gw:     gw,
		store:  store,
		logger: logger,
		opts:   opts,
		now:    time.Now,
	}
}

// Discover pages backward through the sponsor's history from the persisted
// cursor (or from the newest record when none exists), tracking every
// account whose balance went from zero to positive, plus explicitly
// initialized ones. Each committed page advances the cursor, so a crash
// loses at most the in-flight page; re-processing is idempotent because
// already-tracked handles are skipped.
func (e *Engine) Discover(ctx context.Context) (Result, error) {
	var res Result

	before, err := e.store.Cursor()
	if err != nil {
		return res, err
	}

	for {
		page, err := e.gw.ListSignatures(ctx, e.opts.Sponsor, before, e.opts.PageSize)
		if err != nil {
			return res, fmt.Errorf("signature page fetch failed: %w", err)
		}
		if len(page) == 0 {
			break
		}

		for _, sig := range page {
			if !sig.Succeeded {
				continue
			}
			if err := e.processSignature(ctx, sig, &res); err != nil {
				res.Errors++
				e.logger.WithContext(ctx).Warn().
					Err(err).
					Str("signature", sig.Signature).
					Msg("skipping operation during discovery")
			}
		}

		// Oldest entry of the page becomes the resume point.
		before = page[len(page)-1].Signature
		if err := e.store.SetCursor(before); err != nil {
			return res, err
		}
		res.PagesScanned++
	}

	// Full history processed; clear the cursor so the next scan starts
	// from the newest record again.
	if err := e.store.SetCursor(""); err != nil {
		return res, err
	}
	return res, nil
}

func (e *Engine) processSignature(ctx context.Context, sig gateway.SignatureInfo, res *Result) error {
	detail, err := e.gw.GetTransaction(ctx, sig.Signature)
	if err != nil {
		return err
	}
	if !detail.Succeeded {
		return nil
	}

	for _, created := range extractCreated(detail, e.opts.Sponsor) {
		if types.ValidateHandle(created.handle) != nil {
			continue // program address or junk participant, not a trackable key
		}
		if e.store.Has(created.handle) {
			continue
		}
		if err := e.trackNew(ctx, created, detail); err != nil {
			res.Errors++
			e.logger.WithContext(ctx).Warn().
				Err(err).
				Str("handle", created.handle).
				Msg("failed to track discovered account")
			continue
		}
		res.NewAccounts++
	}
	return nil
}

// trackNew performs the single post-creation state check and inserts the
// record as active or closed.
func (e *Engine) trackNew(ctx context.Context, created createdAccount, detail *gateway.TransactionDetail) error {
	state, err := e.gw.GetAccount(ctx, created.handle)
	if err != nil {
		return err
	}

	acct := types.TrackedAccount{
		Handle:       created.handle,
		CreatedBySig: detail.Signature,
		CreatedSlot:  detail.Slot,
		CreatedAt:    detail.BlockTime,
	}

	if !state.Exists {
		acct.Status = types.StatusClosed
		acct.ClosedAt = e.now().UTC()
		acct.Kind = types.KindUnknown
		if created.viaAssociatedTokenProgram() {
			acct.Kind = types.KindAssociatedToken
		}
		return e.store.UpsertAccount(acct)
	}

	rentMin, err := e.gw.MinimumRentExemption(ctx, state.Size)
	if err != nil {
		return err
	}

	acct.Status = types.StatusActive
	acct.Kind = classify(created, state)
	acct.Lamports = state.Lamports
	acct.RentExemptMin = rentMin
	acct.Controller = state.Controller
	acct.Owner = state.Owner
	acct.CloseAuthority = state.CloseAuthority
	acct.TokenAmount = state.TokenAmount
	acct.LastCheckedAt = e.now().UTC()
	return e.store.UpsertAccount(acct)
}

// Reconcile bulk-checks every active, empty, and errored account and
// refreshes its stored state. A per-account failure marks that account
// only; the batch always continues.
func (e *Engine) Reconcile(ctx context.Context) (Result, error) {
	var res Result

	var accounts []types.TrackedAccount
	for _, status := range []types.AccountStatus{types.StatusActive, types.StatusEmpty, types.StatusError} {
		batch, err := e.store.ListByStatus(status, 0)
		if err != nil {
			return res, err
		}
		accounts = append(accounts, batch...)
	}

	for start := 0; start < len(accounts); start += e.opts.BatchSize {
		end := start + e.opts.BatchSize
		if end > len(accounts) {
			end = len(accounts)
		}
		e.reconcileBatch(ctx, accounts[start:end], &res)
	}
	return res, nil
}

func (e *Engine) reconcileBatch(ctx context.Context, batch []types.TrackedAccount, res *Result) {
	handles := make([]string, len(batch))
	for i, acct := range batch {
		handles[i] = acct.Handle
	}

	states, err := e.gw.GetAccounts(ctx, handles)
	if err != nil {
		// The whole bulk call failed; mark each member and move on.
		for _, acct := range batch {
			e.markError(ctx, acct.Handle, err)
			res.Errors++
		}
		return
	}

	now := e.now().UTC()
	for _, acct := range batch {
		res.Checked++
		state := states[acct.Handle]

		updateErr := e.store.Update(acct.Handle, func(a *types.TrackedAccount) error {
			a.LastCheckedAt = now
			a.LastError = ""
			if !state.Exists {
				if a.Status != types.StatusClosed {
					a.Status = types.StatusClosed
					a.ClosedAt = now
					res.NewlyClosed++
				}
				a.Lamports = 0
				return nil
			}

			a.Lamports = state.Lamports
			a.Owner = state.Owner
			a.CloseAuthority = state.CloseAuthority
			a.TokenAmount = state.TokenAmount
			if a.RentExemptMin > 0 && a.Lamports <= a.RentExemptMin {
				a.Status = types.StatusEmpty
			} else {
				a.Status = types.StatusActive
			}
			res.Refreshed++
			return nil
		})
		if updateErr != nil {
			e.markError(ctx, acct.Handle, updateErr)
			res.Errors++
		}
	}
}

func (e *Engine) markError(ctx context.Context, handle string, cause error) {
	err := e.store.Update(handle, func(a *types.TrackedAccount) error {
		a.Status = types.StatusError
		a.LastError = cause.Error()
		return nil
	})
	if err != nil {
		e.logger.LogStoreError(ctx, "mark_error", err)
	}
}

// createdAccount is one handle that a transaction brought to life.
type createdAccount struct {
	handle  string
	program string // parsed program label, "" when balance-derived
}

// The node renders the initializing program either as a parsed label or as
// the raw program id, depending on instruction depth.
func (c createdAccount) viaAssociatedTokenProgram() bool {
	return c.program == "spl-associated-token-account" || c.program == types.AssociatedTokenProgram
}

func classify(created createdAccount, state *gateway.AccountState) types.AccountKind {
	kind := types.Classify(state.Controller, state.Size)
	if kind == types.KindToken && created.viaAssociatedTokenProgram() {
		return types.KindAssociatedToken
	}
	return kind
}

// extractCreated returns, in order and without duplicates, every account a
// transaction funded from zero (excluding the sponsor's own fee-paying
// identity) plus every account explicitly initialized by an instruction.
func extractCreated(detail *gateway.TransactionDetail, sponsor string) []createdAccount {
	seen := make(map[string]int)
	var out []createdAccount

	n := len(detail.Participants)
	if len(detail.PreBalances) < n {
		n = len(detail.PreBalances)
	}
	if len(detail.PostBalances) < n {
		n = len(detail.PostBalances)
	}

	for i := 0; i < n; i++ {
		handle := detail.Participants[i]
		if handle == sponsor {
			continue
		}
		if detail.PreBalances[i] == 0 && detail.PostBalances[i] > 0 {
			if _, dup := seen[handle]; !dup {
				seen[handle] = len(out)
				out = append(out, createdAccount{handle: handle})
			}
		}
	}

	for _, init := range detail.Initialized {
		if init.Handle == sponsor {
			continue
		}
		if idx, dup := seen[init.Handle]; dup {
			if out[idx].program == "" {
				out[idx].program = init.Program
			}
			continue
		}
		seen[init.Handle] = len(out)
		out = append(out, createdAccount{handle: init.Handle, program: init.Program})
	}
	return out
}
