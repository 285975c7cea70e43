package reclaim

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solreap/solreap/gateway"
	"github.com/solreap/solreap/ledger"
	"github.com/solreap/solreap/policy"
	"github.com/solreap/solreap/telemetry"
	"github.com/solreap/solreap/types"
)

const (
	signer      = "4Nd1mYvDpq6eVuuvpTNgFanSnXimPU2ScTbJSDpbD5jB"
	destination = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"
	rentMin     = uint64(2_039_280)
)

func handle(i int) string {
	return fmt.Sprintf("Acc%d%s", i, strings.Repeat("2", 34))[:36]
}

// fakeGateway scripts the pre-reclaim state check and the submit path.
type fakeGateway struct {
	states      map[string]gateway.AccountState
	submitErr   error
	getCalls    int
	submitCalls int
	submitted   []gateway.ReclaimInstruction
}

func (f *fakeGateway) GetAccount(_ context.Context, h string) (*gateway.AccountState, error) {
	f.getCalls++
	state := f.states[h] // zero value: Exists false
	return &state, nil
}

func (f *fakeGateway) SubmitReclaim(_ context.Context, instr gateway.ReclaimInstruction, _ string) (string, error) {
	f.submitCalls++
	f.submitted = append(f.submitted, instr)
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return fmt.Sprintf("reclaimSig%d", f.submitCalls), nil
}

// captureAuditor keeps the audit trail in memory.
type captureAuditor struct {
	entries []telemetry.AuditEntry
}

func (c *captureAuditor) Append(entry telemetry.AuditEntry) error {
	c.entries = append(c.entries, entry)
	return nil
}

func openStore(t *testing.T) *ledger.Store {
	t.Helper()
	store, err := ledger.Open(filepath.Join(t.TempDir(), "solreap.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

type testEnv struct {
	gw     *fakeGateway
	store  *ledger.Store
	audit  *captureAuditor
	engine *Engine
	now    time.Time
	slept  []time.Duration
}

func newEnv(t *testing.T, opts Options, guard *policy.Guard) *testEnv {
	t.Helper()
	if guard == nil {
		guard = policy.NewGuard(nil, nil)
	}
	opts.Signer = signer
	opts.Destination = destination

	env := &testEnv{
		gw:    &fakeGateway{states: map[string]gateway.AccountState{}},
		store: openStore(t),
		audit: &captureAuditor{},
		now:   time.Now().UTC(),
	}
	env.engine = NewEngine(env.gw, env.store, guard, env.audit, telemetry.NewTestLogger(), opts)
	env.engine.now = func() time.Time { return env.now }
	env.engine.sleep = func(_ context.Context, d time.Duration) error {
		env.slept = append(env.slept, d)
		return nil
	}
	return env
}

// seedClosed inserts a closed token account owned by the signer.
func (env *testEnv) seedClosed(t *testing.T, i int, closedAgo time.Duration, mutate ...func(*types.TrackedAccount)) {
	t.Helper()
	acct := types.TrackedAccount{
		Handle:        handle(i),
		Kind:          types.KindToken,
		Status:        types.StatusClosed,
		RentExemptMin: rentMin,
		Controller:    types.TokenProgram,
		Owner:         signer,
		CreatedAt:     env.now.Add(-closedAgo - 24*time.Hour),
		ClosedAt:      env.now.Add(-closedAgo),
	}
	for _, fn := range mutate {
		fn(&acct)
	}
	require.NoError(t, env.store.UpsertAccount(acct))
}

func TestRunReclaimsMatureAccount(t *testing.T) {
	env := newEnv(t, Options{MinAge: 7 * 24 * time.Hour, InterReclaimDelay: time.Second}, nil)
	env.seedClosed(t, 1, 10*24*time.Hour)

	summary, err := env.engine.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, summary.Results, 1)
	result := summary.Results[0]
	assert.Equal(t, OutcomeReclaimed, result.Outcome)
	assert.Equal(t, "reclaimSig1", result.Signature)
	assert.Equal(t, rentMin, result.Lamports)

	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, rentMin, summary.ReclaimedLamports)
	assert.Equal(t, rentMin, summary.PotentialLamports)

	acct, err := env.store.GetAccount(handle(1))
	require.NoError(t, err)
	assert.Equal(t, types.StatusReclaimed, acct.Status)
	assert.Equal(t, "reclaimSig1", acct.ReclaimSig)
	assert.Equal(t, rentMin, acct.ReclaimedLamports)
	assert.Equal(t, uint64(0), acct.Lamports)

	attempts, err := env.store.AttemptsFor(handle(1))
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.True(t, attempts[0].Success)
	assert.False(t, attempts[0].DryRun)

	require.Len(t, env.gw.submitted, 1)
	assert.Equal(t, handle(1), env.gw.submitted[0].Target)
	assert.Equal(t, destination, env.gw.submitted[0].Destination)

	// Pacing delay runs only after a live success.
	assert.Equal(t, []time.Duration{time.Second}, env.slept)
}

func TestRunDryRunTouchesNothing(t *testing.T) {
	env := newEnv(t, Options{MinAge: 7 * 24 * time.Hour, DryRun: true, InterReclaimDelay: time.Second}, nil)
	env.seedClosed(t, 1, 10*24*time.Hour)

	summary, err := env.engine.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, rentMin, summary.ReclaimedLamports)
	assert.Equal(t, 0, env.gw.submitCalls)
	assert.Empty(t, env.slept)

	acct, err := env.store.GetAccount(handle(1))
	require.NoError(t, err)
	assert.Equal(t, types.StatusClosed, acct.Status, "dry run leaves the record untouched")

	attempts, err := env.store.AttemptsFor(handle(1))
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.True(t, attempts[0].DryRun)
}

func TestDryRunMatchesLiveRun(t *testing.T) {
	seed := func(env *testEnv) {
		env.seedClosed(t, 1, 10*24*time.Hour)
		env.seedClosed(t, 2, 2*24*time.Hour) // too young
		env.seedClosed(t, 3, 20*24*time.Hour)
	}

	dry := newEnv(t, Options{MinAge: 7 * 24 * time.Hour, DryRun: true}, nil)
	seed(dry)
	drySummary, err := dry.engine.Run(context.Background())
	require.NoError(t, err)

	live := newEnv(t, Options{MinAge: 7 * 24 * time.Hour}, nil)
	seed(live)
	liveSummary, err := live.engine.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, drySummary.Processed, liveSummary.Processed)
	assert.Equal(t, drySummary.Succeeded, liveSummary.Succeeded)
	assert.Equal(t, drySummary.Failed, liveSummary.Failed)
	assert.Equal(t, drySummary.ReclaimedLamports, liveSummary.ReclaimedLamports)
	assert.Equal(t, drySummary.PotentialLamports, liveSummary.PotentialLamports)
}

func TestRunRejectsYoungAccount(t *testing.T) {
	env := newEnv(t, Options{MinAge: 7 * 24 * time.Hour}, nil)
	env.seedClosed(t, 1, 48*time.Hour)

	summary, err := env.engine.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, summary.Results, 1)
	result := summary.Results[0]
	assert.Equal(t, OutcomeRejected, result.Outcome)
	assert.Equal(t, "age", result.Check)
	assert.Equal(t, "2.0 days < 7 days", result.Reason)
	assert.Equal(t, 0, env.gw.getCalls, "rejected accounts never reach the remote ledger")
	assert.Equal(t, 0, summary.Succeeded)
	assert.Equal(t, rentMin, summary.PotentialLamports)
}

func TestRunRejectsLowValueAccount(t *testing.T) {
	env := newEnv(t, Options{MinAge: 7 * 24 * time.Hour, MinLamports: 5_000_000}, nil)
	env.seedClosed(t, 1, 10*24*time.Hour)

	summary, err := env.engine.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, summary.Results, 1)
	assert.Equal(t, OutcomeRejected, summary.Results[0].Outcome)
	assert.Equal(t, "min_value", summary.Results[0].Check)
}

func TestFirstFailingCheckWins(t *testing.T) {
	env := newEnv(t, Options{MinAge: 7 * 24 * time.Hour}, nil)
	// Too young AND signer holds no authority: only the age check may report.
	env.seedClosed(t, 1, 48*time.Hour, func(a *types.TrackedAccount) {
		a.Owner = destination
	})

	summary, err := env.engine.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, summary.Results, 1)
	assert.Equal(t, "age", summary.Results[0].Check)
	assert.NotContains(t, summary.Results[0].Reason, "authority")
	assert.Equal(t, 0, env.gw.getCalls)
}

func TestBlockedControllerBecomesProtected(t *testing.T) {
	guard := policy.NewGuard(nil, []string{types.TokenProgram})
	env := newEnv(t, Options{MinAge: 7 * 24 * time.Hour}, guard)
	env.seedClosed(t, 1, 10*24*time.Hour)

	summary, err := env.engine.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, summary.Results, 1)
	assert.Equal(t, OutcomeProtected, summary.Results[0].Outcome)

	acct, err := env.store.GetAccount(handle(1))
	require.NoError(t, err)
	assert.Equal(t, types.StatusProtected, acct.Status)

	// Protected is terminal: the next pass has no candidates.
	again, err := env.engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, again.Processed)
}

func TestRevivedAccountIsNeverSubmitted(t *testing.T) {
	env := newEnv(t, Options{MinAge: 7 * 24 * time.Hour}, nil)
	env.seedClosed(t, 1, 10*24*time.Hour)
	env.gw.states[handle(1)] = gateway.AccountState{
		Exists:     true,
		Lamports:   3_000_000,
		Controller: types.TokenProgram,
		Owner:      signer,
	}

	summary, err := env.engine.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, summary.Results, 1)
	assert.Equal(t, OutcomeRevived, summary.Results[0].Outcome)
	assert.Equal(t, 0, env.gw.submitCalls)
	assert.Equal(t, 0, summary.Succeeded)

	acct, err := env.store.GetAccount(handle(1))
	require.NoError(t, err)
	assert.Equal(t, types.StatusActive, acct.Status)
	assert.Equal(t, uint64(3_000_000), acct.Lamports)

	// The attempt ledger records the cancelled reclaim like any rejection.
	attempts, err := env.store.AttemptsFor(handle(1))
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.False(t, attempts[0].Success)
	assert.Contains(t, attempts[0].Error, "revived")
}

func TestRunRejectsNonEmptyTokenAccount(t *testing.T) {
	env := newEnv(t, Options{MinAge: 7 * 24 * time.Hour}, nil)
	env.seedClosed(t, 1, 10*24*time.Hour, func(a *types.TrackedAccount) {
		a.TokenAmount = 500
	})

	summary, err := env.engine.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, summary.Results, 1)
	assert.Equal(t, OutcomeRejected, summary.Results[0].Outcome)
	assert.Equal(t, "authority", summary.Results[0].Check)
	assert.Contains(t, summary.Results[0].Reason, "token balance")
	assert.Equal(t, 0, env.gw.submitCalls)
}

func TestCloseAuthorityGrantsReclaim(t *testing.T) {
	env := newEnv(t, Options{MinAge: 7 * 24 * time.Hour}, nil)
	env.seedClosed(t, 1, 10*24*time.Hour, func(a *types.TrackedAccount) {
		a.Owner = destination
		a.CloseAuthority = signer
	})

	summary, err := env.engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
}

func TestRunRejectsUnreclaimableKinds(t *testing.T) {
	env := newEnv(t, Options{MinAge: 7 * 24 * time.Hour}, nil)
	env.seedClosed(t, 1, 10*24*time.Hour, func(a *types.TrackedAccount) {
		a.Kind = types.KindProgramDerived
	})

	summary, err := env.engine.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, summary.Results, 1)
	assert.Equal(t, OutcomeRejected, summary.Results[0].Outcome)
	assert.Contains(t, summary.Results[0].Reason, "not reclaimable")
}

func TestSubmitFailureLeavesAccountClosed(t *testing.T) {
	env := newEnv(t, Options{MinAge: 7 * 24 * time.Hour, InterReclaimDelay: time.Second}, nil)
	env.seedClosed(t, 1, 10*24*time.Hour)
	env.gw.submitErr = errors.New("connection reset")

	summary, err := env.engine.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, summary.Results, 1)
	assert.Equal(t, OutcomeFailed, summary.Results[0].Outcome)
	assert.Equal(t, 1, summary.Failed)
	assert.Empty(t, env.slept, "no pacing delay after a failed submit")

	acct, err := env.store.GetAccount(handle(1))
	require.NoError(t, err)
	assert.Equal(t, types.StatusClosed, acct.Status, "failed reclaim stays a candidate")

	attempts, err := env.store.AttemptsFor(handle(1))
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.False(t, attempts[0].Success)
	assert.Contains(t, attempts[0].Error, "connection reset")
}

func TestRunProcessesOldestFirst(t *testing.T) {
	env := newEnv(t, Options{MinAge: 7 * 24 * time.Hour, BatchSize: 2}, nil)
	env.seedClosed(t, 1, 8*24*time.Hour)
	env.seedClosed(t, 2, 30*24*time.Hour)
	env.seedClosed(t, 3, 15*24*time.Hour)

	summary, err := env.engine.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, summary.Results, 2)
	assert.Equal(t, handle(2), summary.Results[0].Handle)
	assert.Equal(t, handle(3), summary.Results[1].Handle)
}

func TestAuditTrailCoversEveryOutcome(t *testing.T) {
	env := newEnv(t, Options{MinAge: 7 * 24 * time.Hour}, nil)
	env.seedClosed(t, 1, 10*24*time.Hour)
	env.seedClosed(t, 2, 48*time.Hour)

	_, err := env.engine.Run(context.Background())
	require.NoError(t, err)

	events := make(map[string]int)
	for _, entry := range env.audit.entries {
		events[entry.Event]++
	}
	assert.Equal(t, 1, events["reclaimed"])
	assert.Equal(t, 1, events["rejected"])
}
