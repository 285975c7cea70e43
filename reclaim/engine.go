// Package reclaim decides which closed accounts are safe to reclaim and
// executes the irreversible close. Every candidate walks an ordered safety
// pipeline; the first failing check wins and nothing later runs.
package reclaim

import (
	"context"
	"fmt"
	"time"

	"github.com/solreap/solreap/gateway"
	"github.com/solreap/solreap/ledger"
	"github.com/solreap/solreap/policy"
	"github.com/solreap/solreap/telemetry"
	"github.com/solreap/solreap/types"
)

// Gateway is the remote surface the engine consumes.
type Gateway interface {
	GetAccount(ctx context.Context, handle string) (*gateway.AccountState, error)
	SubmitReclaim(ctx context.Context, instr gateway.ReclaimInstruction, signer string) (string, error)
}

// Options configure one reclaim pass.
type Options struct {
	Signer            string
	Destination       string
	MinAge            time.Duration
	MinLamports       uint64
	BatchSize         int
	DryRun            bool
	InterReclaimDelay time.Duration
}

// Outcome is the terminal result of one candidate's walk through the pipeline.
type Outcome string

const (
	OutcomeReclaimed Outcome = "reclaimed"
	OutcomeRejected  Outcome = "rejected"
	OutcomeProtected Outcome = "protected"
	OutcomeRevived   Outcome = "revived"
	OutcomeFailed    Outcome = "failed"
)

// AccountResult records what happened to one candidate.
type AccountResult struct {
	Handle    string  `json:"handle"`
	Outcome   Outcome `json:"outcome"`
	Check     string  `json:"check,omitempty"` // which safety check decided
	Reason    string  `json:"reason,omitempty"`
	Signature string  `json:"signature,omitempty"`
	Lamports  uint64  `json:"lamports,omitempty"`
}

// Summary aggregates one pass. Simulate and live runs over the same store
// state produce identical numbers; only Signature fields differ.
type Summary struct {
	StartTime         time.Time       `json:"start_time"`
	EndTime           time.Time       `json:"end_time"`
	DryRun            bool            `json:"dry_run"`
	Processed         int             `json:"processed"`
	Succeeded         int             `json:"succeeded"`
	Failed            int             `json:"failed"`
	ReclaimedLamports uint64          `json:"reclaimed_lamports"`
	PotentialLamports uint64          `json:"potential_lamports"`
	Results           []AccountResult `json:"results"`
}

// Engine runs the safety pipeline over closed accounts.
type Engine struct {
	gw      Gateway
	store   *ledger.Store
	guard   *policy.Guard
	auditor telemetry.Auditor
	logger  *telemetry.Logger
	opts    Options

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine creates a reclaim engine.
func NewEngine(gw Gateway, store *ledger.Store, guard *policy.Guard, auditor telemetry.Auditor, logger *telemetry.Logger, opts Options) *Engine {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	return &Engine{
		gw:      gw,
		store:   store,
		guard:   guard,
		auditor: auditor,
		logger:  logger,
		opts:    opts,
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// Run processes up to BatchSize closed accounts, oldest-closed first. A
// per-account failure never aborts the pass.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	summary := Summary{
		StartTime: e.now().UTC(),
		DryRun:    e.opts.DryRun,
	}

	candidates, err := e.store.ListReclaimEligible(0, e.opts.BatchSize)
	if err != nil {
		return summary, fmt.Errorf("failed to list closed accounts: %w", err)
	}

	for _, acct := range candidates {
		if err := ctx.Err(); err != nil {
			summary.EndTime = e.now().UTC()
			return summary, err
		}

		summary.Processed++
		summary.PotentialLamports += acct.RentExemptMin

		result := e.process(ctx, acct)
		summary.Results = append(summary.Results, result)

		switch result.Outcome {
		case OutcomeReclaimed:
			summary.Succeeded++
			summary.ReclaimedLamports += result.Lamports
		case OutcomeFailed:
			summary.Failed++
		}
	}

	summary.EndTime = e.now().UTC()
	return summary, nil
}

// process walks one candidate through the pipeline. Check order is part of
// the contract: age, minimum value, controller policy, revival, authority.
// Only a candidate that clears every check reaches execution.
func (e *Engine) process(ctx context.Context, acct types.TrackedAccount) AccountResult {
	if result, done := e.checkAge(ctx, acct); done {
		return result
	}
	if result, done := e.checkMinValue(ctx, acct); done {
		return result
	}
	if result, done := e.checkPolicy(ctx, acct); done {
		return result
	}
	if result, done := e.checkRevival(ctx, acct); done {
		return result
	}
	if result, done := e.checkAuthority(ctx, acct); done {
		return result
	}
	return e.execute(ctx, acct)
}

func (e *Engine) checkAge(ctx context.Context, acct types.TrackedAccount) (AccountResult, bool) {
	age := acct.Age(e.now())
	if age >= e.opts.MinAge {
		return AccountResult{}, false
	}
	reason := fmt.Sprintf("%.1f days < %.0f days",
		age.Hours()/24, e.opts.MinAge.Hours()/24)
	return e.reject(ctx, acct, "age", reason), true
}

func (e *Engine) checkMinValue(ctx context.Context, acct types.TrackedAccount) (AccountResult, bool) {
	if acct.RentExemptMin >= e.opts.MinLamports {
		return AccountResult{}, false
	}
	reason := fmt.Sprintf("recoverable %d below minimum %d", acct.RentExemptMin, e.opts.MinLamports)
	return e.reject(ctx, acct, "min_value", reason), true
}

// checkPolicy moves a blocked-controller account to the terminal protected
// status so it never re-enters the candidate set.
func (e *Engine) checkPolicy(ctx context.Context, acct types.TrackedAccount) (AccountResult, bool) {
	verdict := e.guard.Check(acct.Controller)
	if verdict.Allowed {
		return AccountResult{}, false
	}

	if err := e.store.Update(acct.Handle, func(a *types.TrackedAccount) error {
		a.Status = types.StatusProtected
		return nil
	}); err != nil {
		e.logger.LogStoreError(ctx, "protect", err)
	}

	e.audit(acct.Handle, "protected", verdict.Reason, "", 0)
	e.recordAttempt(acct.Handle, "", 0, false, verdict.Reason)
	e.logger.LogRejection(ctx, acct.Handle, "policy", verdict.Reason, e.opts.DryRun)
	return AccountResult{
		Handle:  acct.Handle,
		Outcome: OutcomeProtected,
		Check:   "policy",
		Reason:  verdict.Reason,
	}, true
}

// checkRevival is the last look before the point of no return: a fresh
// existence check against the remote ledger. An account that came back to
// life is restored to active and never submitted.
func (e *Engine) checkRevival(ctx context.Context, acct types.TrackedAccount) (AccountResult, bool) {
	state, err := e.gw.GetAccount(ctx, acct.Handle)
	if err != nil {
		e.recordAttempt(acct.Handle, "", 0, false, err.Error())
		return AccountResult{
			Handle:  acct.Handle,
			Outcome: OutcomeFailed,
			Check:   "revival",
			Reason:  fmt.Sprintf("pre-reclaim state check failed: %v", err),
		}, true
	}
	if !state.Exists {
		return AccountResult{}, false
	}

	if err := e.store.Update(acct.Handle, func(a *types.TrackedAccount) error {
		a.Status = types.StatusActive
		a.Lamports = state.Lamports
		a.Owner = state.Owner
		a.CloseAuthority = state.CloseAuthority
		a.TokenAmount = state.TokenAmount
		a.LastCheckedAt = e.now().UTC()
		a.ClosedAt = time.Time{}
		return nil
	}); err != nil {
		e.logger.LogStoreError(ctx, "revive", err)
	}

	e.audit(acct.Handle, "revived", "account exists again", "", state.Lamports)
	e.recordAttempt(acct.Handle, "", 0, false, "revived: account exists again")
	e.logger.WithContext(ctx).Info().
		Str("handle", acct.Handle).
		Uint64("lamports", state.Lamports).
		Msg("closed account revived, reclaim cancelled")
	return AccountResult{
		Handle:  acct.Handle,
		Outcome: OutcomeRevived,
		Check:   "revival",
		Reason:  "account exists again",
	}, true
}

// checkAuthority verifies the signer can actually close this kind of account.
func (e *Engine) checkAuthority(ctx context.Context, acct types.TrackedAccount) (AccountResult, bool) {
	switch {
	case acct.IsHolder():
		if acct.TokenAmount != 0 {
			return e.reject(ctx, acct, "authority",
				fmt.Sprintf("token balance %d must be zero", acct.TokenAmount)), true
		}
		if e.opts.Signer != acct.Owner && (acct.CloseAuthority == "" || e.opts.Signer != acct.CloseAuthority) {
			return e.reject(ctx, acct, "authority", "signer holds no close authority"), true
		}
	case acct.Kind == types.KindSystem:
		if e.opts.Signer != acct.Owner {
			return e.reject(ctx, acct, "authority", "signer does not own account"), true
		}
	default:
		return e.reject(ctx, acct, "authority",
			fmt.Sprintf("kind %s is not reclaimable", acct.Kind)), true
	}
	return AccountResult{}, false
}

// execute performs the reclaim. A dry run reports what a live run would do
// without submitting or touching the account record.
func (e *Engine) execute(ctx context.Context, acct types.TrackedAccount) AccountResult {
	amount := acct.RentExemptMin

	if e.opts.DryRun {
		e.audit(acct.Handle, "reclaimed", "", "", amount)
		e.recordAttempt(acct.Handle, "", amount, true, "")
		e.logger.LogReclaim(ctx, acct.Handle, "", amount, true)
		return AccountResult{
			Handle:   acct.Handle,
			Outcome:  OutcomeReclaimed,
			Lamports: amount,
		}
	}

	instr := gateway.ReclaimInstruction{
		Kind:        acct.Kind,
		Target:      acct.Handle,
		Authority:   e.opts.Signer,
		Destination: e.opts.Destination,
	}

	signature, err := e.gw.SubmitReclaim(ctx, instr, e.opts.Signer)
	if err != nil {
		e.recordAttempt(acct.Handle, "", 0, false, err.Error())
		e.audit(acct.Handle, "failed", err.Error(), "", 0)
		e.logger.WithContext(ctx).Error().
			Err(err).
			Str("handle", acct.Handle).
			Msg("reclaim submission failed")
		return AccountResult{
			Handle:  acct.Handle,
			Outcome: OutcomeFailed,
			Check:   "submit",
			Reason:  err.Error(),
		}
	}

	now := e.now().UTC()
	if err := e.store.Update(acct.Handle, func(a *types.TrackedAccount) error {
		a.Status = types.StatusReclaimed
		a.ReclaimedAt = now
		a.ReclaimSig = signature
		a.ReclaimedLamports = amount
		a.Lamports = 0
		return nil
	}); err != nil {
		// The reclaim happened; the record must not silently disagree.
		e.logger.LogStoreError(ctx, "mark_reclaimed", err)
	}

	e.recordAttempt(acct.Handle, signature, amount, true, "")
	e.audit(acct.Handle, "reclaimed", "", signature, amount)
	e.logger.LogReclaim(ctx, acct.Handle, signature, amount, false)

	if e.opts.InterReclaimDelay > 0 {
		if err := e.sleep(ctx, e.opts.InterReclaimDelay); err != nil {
			e.logger.WithContext(ctx).Warn().Err(err).Msg("inter-reclaim delay interrupted")
		}
	}

	return AccountResult{
		Handle:    acct.Handle,
		Outcome:   OutcomeReclaimed,
		Signature: signature,
		Lamports:  amount,
	}
}

func (e *Engine) reject(ctx context.Context, acct types.TrackedAccount, check, reason string) AccountResult {
	e.audit(acct.Handle, "rejected", fmt.Sprintf("%s: %s", check, reason), "", 0)
	e.recordAttempt(acct.Handle, "", 0, false, reason)
	e.logger.LogRejection(ctx, acct.Handle, check, reason, e.opts.DryRun)
	return AccountResult{
		Handle:  acct.Handle,
		Outcome: OutcomeRejected,
		Check:   check,
		Reason:  reason,
	}
}

func (e *Engine) recordAttempt(handle, signature string, lamports uint64, success bool, errText string) {
	attempt := types.ReclaimAttempt{
		Handle:    handle,
		Signature: signature,
		Lamports:  lamports,
		Success:   success,
		DryRun:    e.opts.DryRun,
		Error:     errText,
		Timestamp: e.now().UTC(),
	}
	if err := e.store.AppendAttempt(attempt); err != nil {
		e.logger.LogStoreError(context.Background(), "append_attempt", err)
	}
}

func (e *Engine) audit(handle, event, reason, signature string, lamports uint64) {
	entry := telemetry.AuditEntry{
		Time:      e.now().UTC(),
		Handle:    handle,
		Event:     event,
		Reason:    reason,
		Signature: signature,
		Lamports:  lamports,
		DryRun:    e.opts.DryRun,
	}
	if err := e.auditor.Append(entry); err != nil {
		e.logger.Logger.Error().Err(err).Str("handle", handle).Msg("audit append failed")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
