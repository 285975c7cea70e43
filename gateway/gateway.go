package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/solreap/solreap/types"
)

// bulkStateLimit bounds one getMultipleAccounts call.
const bulkStateLimit = 100

// SignatureInfo is one entry of the sponsor's newest-first operation history.
type SignatureInfo struct {
	Signature string
	Slot      uint64
	BlockTime time.Time
	Succeeded bool
}

// InitializedAccount is an account explicitly initialized inside a
// transaction, with the parsed program label that initialized it.
type InitializedAccount struct {
	Handle  string
	Program string
}

// TransactionDetail is the decoded view of one confirmed transaction.
type TransactionDetail struct {
	Signature    string
	Participants []string
	PreBalances  []uint64
	PostBalances []uint64
	Initialized  []InitializedAccount
	Slot         uint64
	BlockTime    time.Time
	Succeeded    bool
}

// AccountState is the live state of one account. Exists is false when the
// ledger no longer knows the handle.
type AccountState struct {
	Exists         bool
	Lamports       uint64
	Controller     string
	Size           uint64
	Owner          string
	CloseAuthority string
	TokenAmount    uint64
}

// ReclaimInstruction describes the close/transfer to submit. Signing and
// wire encoding belong to the opaque submit capability.
type ReclaimInstruction struct {
	Kind        types.AccountKind `json:"kind"`
	Target      string            `json:"target"`
	Authority   string            `json:"authority"`
	Destination string            `json:"destination"`
}

// Gateway serializes all outbound remote calls through a shared rate limit
// and a uniform retry policy. It has no knowledge of reclaim semantics.
type Gateway struct {
	transport Transport
	limiter   *Limiter
	retry     RetryPolicy
	logger    zerolog.Logger

	confirmPollInterval time.Duration
	confirmMaxPolls     int
}

// New creates a gateway over the given transport.
func New(transport Transport, callsPerSecond float64, retry RetryPolicy, logger zerolog.Logger) *Gateway {
	return &Gateway{
		transport:           transport,
		limiter:             NewLimiter(callsPerSecond),
		retry:               retry,
		logger:              logger,
		confirmPollInterval: 2 * time.Second,
		confirmMaxPolls:     30,
	}
}

// call composes rate limiting and retry: a retried call re-acquires a token
// per attempt.
func (g *Gateway) call(ctx context.Context, method string, params any, result any) error {
	return g.retry.Do(ctx, func() error {
		if err := g.limiter.Acquire(ctx); err != nil {
			return err
		}
		return g.transport.Call(ctx, method, params, result)
	})
}

// Wire shapes. The RPC wraps most results in a {context, value} envelope.

type valueEnvelope[T any] struct {
	Value T `json:"value"`
}

type signatureWire struct {
	Signature string          `json:"signature"`
	Slot      uint64          `json:"slot"`
	Err       json.RawMessage `json:"err"`
	BlockTime *int64          `json:"blockTime"`
}

type accountWire struct {
	Lamports uint64          `json:"lamports"`
	Owner    string          `json:"owner"`
	Space    uint64          `json:"space"`
	Data     json.RawMessage `json:"data"`
}

type parsedData struct {
	Program string `json:"program"`
	Space   uint64 `json:"space"`
	Parsed  struct {
		Type string `json:"type"`
		Info struct {
			Owner          string `json:"owner"`
			CloseAuthority string `json:"closeAuthority"`
			TokenAmount    struct {
				Amount string `json:"amount"`
			} `json:"tokenAmount"`
		} `json:"info"`
	} `json:"parsed"`
}

type instructionWire struct {
	Program string          `json:"program"`
	Parsed  json.RawMessage `json:"parsed"`
}

type parsedInstruction struct {
	Type string `json:"type"`
	Info struct {
		Account    string `json:"account"`
		NewAccount string `json:"newAccount"`
	} `json:"info"`
}

type transactionWire struct {
	Slot      uint64 `json:"slot"`
	BlockTime *int64 `json:"blockTime"`
	Meta      *struct {
		Err               json.RawMessage `json:"err"`
		PreBalances       []uint64        `json:"preBalances"`
		PostBalances      []uint64        `json:"postBalances"`
		InnerInstructions []struct {
			Instructions []instructionWire `json:"instructions"`
		} `json:"innerInstructions"`
	} `json:"meta"`
	Transaction struct {
		Message struct {
			AccountKeys []struct {
				Pubkey string `json:"pubkey"`
			} `json:"accountKeys"`
			Instructions []instructionWire `json:"instructions"`
		} `json:"message"`
	} `json:"transaction"`
}

// ListSignatures returns the newest-first operation history for one identity,
// optionally bounded by a before cursor.
func (g *Gateway) ListSignatures(ctx context.Context, identity, before string, limit int) ([]SignatureInfo, error) {
	opts := map[string]any{"limit": limit}
	if before != "" {
		opts["before"] = before
	}

	var wire []signatureWire
	if err := g.call(ctx, "getSignaturesForAddress", []any{identity, opts}, &wire); err != nil {
		return nil, fmt.Errorf("failed to list signatures for %s: %w", identity, err)
	}

	infos := make([]SignatureInfo, 0, len(wire))
	for _, w := range wire {
		info := SignatureInfo{
			Signature: w.Signature,
			Slot:      w.Slot,
			Succeeded: isNullErr(w.Err),
		}
		if w.BlockTime != nil {
			info.BlockTime = time.Unix(*w.BlockTime, 0).UTC()
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// GetTransaction fetches and decodes one transaction by signature.
func (g *Gateway) GetTransaction(ctx context.Context, signature string) (*TransactionDetail, error) {
	params := []any{signature, map[string]any{
		"encoding":                       "jsonParsed",
		"maxSupportedTransactionVersion": 0,
	}}

	var wire transactionWire
	if err := g.call(ctx, "getTransaction", params, &wire); err != nil {
		return nil, fmt.Errorf("failed to fetch transaction %s: %w", signature, err)
	}
	if wire.Meta == nil {
		return nil, fmt.Errorf("transaction %s has no metadata", signature)
	}

	detail := &TransactionDetail{
		Signature:    signature,
		PreBalances:  wire.Meta.PreBalances,
		PostBalances: wire.Meta.PostBalances,
		Slot:         wire.Slot,
		Succeeded:    isNullErr(wire.Meta.Err),
	}
	if wire.BlockTime != nil {
		detail.BlockTime = time.Unix(*wire.BlockTime, 0).UTC()
	}
	for _, key := range wire.Transaction.Message.AccountKeys {
		detail.Participants = append(detail.Participants, key.Pubkey)
	}

	detail.Initialized = collectInitialized(wire.Transaction.Message.Instructions)
	for _, inner := range wire.Meta.InnerInstructions {
		detail.Initialized = append(detail.Initialized, collectInitialized(inner.Instructions)...)
	}
	return detail, nil
}

// collectInitialized extracts account handles created by parsed instructions.
func collectInitialized(instructions []instructionWire) []InitializedAccount {
	var out []InitializedAccount
	for _, instr := range instructions {
		if len(instr.Parsed) == 0 {
			continue
		}
		var parsed parsedInstruction
		if err := json.Unmarshal(instr.Parsed, &parsed); err != nil {
			continue // opaque instruction data, not an object
		}
		switch parsed.Type {
		case "initializeAccount", "initializeAccount2", "initializeAccount3", "create":
			if parsed.Info.Account != "" {
				out = append(out, InitializedAccount{Handle: parsed.Info.Account, Program: instr.Program})
			}
		case "createAccount":
			if parsed.Info.NewAccount != "" {
				out = append(out, InitializedAccount{Handle: parsed.Info.NewAccount, Program: instr.Program})
			}
		}
	}
	return out
}

// GetAccount fetches the live state of a single account.
func (g *Gateway) GetAccount(ctx context.Context, handle string) (*AccountState, error) {
	params := []any{handle, map[string]any{"encoding": "jsonParsed"}}

	var wire valueEnvelope[*accountWire]
	if err := g.call(ctx, "getAccountInfo", params, &wire); err != nil {
		return nil, fmt.Errorf("failed to fetch account %s: %w", handle, err)
	}
	state := decodeAccountState(wire.Value)
	return &state, nil
}

// GetAccounts bulk-fetches up to 100 account states in one remote call.
// Missing accounts come back with Exists false.
func (g *Gateway) GetAccounts(ctx context.Context, handles []string) (map[string]AccountState, error) {
	if len(handles) == 0 {
		return map[string]AccountState{}, nil
	}
	if len(handles) > bulkStateLimit {
		return nil, fmt.Errorf("bulk state query of %d handles exceeds limit %d", len(handles), bulkStateLimit)
	}

	params := []any{handles, map[string]any{"encoding": "jsonParsed"}}
	var wire valueEnvelope[[]*accountWire]
	if err := g.call(ctx, "getMultipleAccounts", params, &wire); err != nil {
		return nil, fmt.Errorf("failed to bulk-fetch %d accounts: %w", len(handles), err)
	}
	if len(wire.Value) != len(handles) {
		return nil, fmt.Errorf("bulk state query returned %d entries for %d handles", len(wire.Value), len(handles))
	}

	states := make(map[string]AccountState, len(handles))
	for i, handle := range handles {
		states[handle] = decodeAccountState(wire.Value[i])
	}
	return states, nil
}

// decodeAccountState converts a wire account (or null) to an AccountState,
// lifting parsed token fields when present.
func decodeAccountState(w *accountWire) AccountState {
	if w == nil {
		return AccountState{Exists: false}
	}
	state := AccountState{
		Exists:     true,
		Lamports:   w.Lamports,
		Controller: w.Owner,
		Size:       w.Space,
	}
	if len(w.Data) == 0 {
		return state
	}
	var parsed parsedData
	if err := json.Unmarshal(w.Data, &parsed); err != nil {
		return state // base64 or unparseable data; raw size already captured
	}
	if parsed.Space > 0 {
		state.Size = parsed.Space
	}
	state.Owner = parsed.Parsed.Info.Owner
	state.CloseAuthority = parsed.Parsed.Info.CloseAuthority
	if amt := parsed.Parsed.Info.TokenAmount.Amount; amt != "" {
		if n, err := strconv.ParseUint(amt, 10, 64); err == nil {
			state.TokenAmount = n
		}
	}
	return state
}

// MinimumRentExemption returns the minimum balance an account of the given
// byte size must hold to avoid reclamation by the ledger's upkeep process.
func (g *Gateway) MinimumRentExemption(ctx context.Context, size uint64) (uint64, error) {
	var minimum uint64
	if err := g.call(ctx, "getMinimumBalanceForRentExemption", []any{size}, &minimum); err != nil {
		return 0, fmt.Errorf("failed to fetch rent-exempt minimum for size %d: %w", size, err)
	}
	return minimum, nil
}

// GetBalance returns the lamport balance of one identity.
func (g *Gateway) GetBalance(ctx context.Context, identity string) (uint64, error) {
	var wire valueEnvelope[uint64]
	if err := g.call(ctx, "getBalance", []any{identity}, &wire); err != nil {
		return 0, fmt.Errorf("failed to fetch balance of %s: %w", identity, err)
	}
	return wire.Value, nil
}

// CurrentSlot returns the ledger's current sequence number.
func (g *Gateway) CurrentSlot(ctx context.Context) (uint64, error) {
	var slot uint64
	if err := g.call(ctx, "getSlot", nil, &slot); err != nil {
		return 0, fmt.Errorf("failed to fetch current slot: %w", err)
	}
	return slot, nil
}

// SubmitReclaim submits a close/transfer and waits for confirmation. The
// instruction payload is opaque to the gateway; resubmitting the same signed
// payload reuses its signature, so retrying the send is safe.
func (g *Gateway) SubmitReclaim(ctx context.Context, instr ReclaimInstruction, signer string) (string, error) {
	payload, err := encodeReclaimPayload(instr, signer)
	if err != nil {
		return "", err
	}

	var signature string
	params := []any{payload, map[string]any{"encoding": "base64"}}
	if err := g.call(ctx, "sendTransaction", params, &signature); err != nil {
		return "", fmt.Errorf("failed to submit reclaim for %s: %w", instr.Target, err)
	}

	g.logger.Debug().
		Str("target", instr.Target).
		Str("signature", signature).
		Msg("reclaim submitted, awaiting confirmation")

	if err := g.awaitConfirmation(ctx, signature); err != nil {
		return "", err
	}
	return signature, nil
}

type signatureStatusWire struct {
	ConfirmationStatus string          `json:"confirmationStatus"`
	Err                json.RawMessage `json:"err"`
}

// awaitConfirmation polls until the signature reaches confirmed or finalized.
func (g *Gateway) awaitConfirmation(ctx context.Context, signature string) error {
	for poll := 0; poll < g.confirmMaxPolls; poll++ {
		var wire valueEnvelope[[]*signatureStatusWire]
		if err := g.call(ctx, "getSignatureStatuses", []any{[]string{signature}}, &wire); err != nil {
			return fmt.Errorf("failed to fetch status of %s: %w", signature, err)
		}

		if len(wire.Value) == 1 && wire.Value[0] != nil {
			status := wire.Value[0]
			if !isNullErr(status.Err) {
				return fmt.Errorf("reclaim %s failed on chain: %s", signature, status.Err)
			}
			if status.ConfirmationStatus == "confirmed" || status.ConfirmationStatus == "finalized" {
				return nil
			}
		}

		if err := sleep(ctx, g.confirmPollInterval); err != nil {
			return err
		}
	}
	return fmt.Errorf("reclaim %s not confirmed after %d polls", signature, g.confirmMaxPolls)
}

func encodeReclaimPayload(instr ReclaimInstruction, signer string) (string, error) {
	raw, err := json.Marshal(struct {
		ReclaimInstruction
		Signer string `json:"signer"`
	}{instr, signer})
	if err != nil {
		return "", fmt.Errorf("failed to encode reclaim instruction: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func isNullErr(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
