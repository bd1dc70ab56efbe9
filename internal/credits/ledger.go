package credits

import (
	"context"
	"time"
)

// Entry types recorded in the ledger.
const (
	EntryDeduct = "deduct"
	EntryRefund = "refund"
	EntryGrant  = "grant"
)

// Balance is an account's current credit balance.
type Balance struct {
	AccountID string    `json:"accountId"`
	Balance   int64     `json:"balance"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Entry is one ledger mutation. Entries tied to a run are unique per
// (account, run, type), which makes deduct/refund idempotent under retry.
type Entry struct {
	AccountID string    `json:"accountId"`
	RunID     string    `json:"runId,omitempty"`
	EntryType string    `json:"entryType"`
	Amount    int64     `json:"amount"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type store interface {
	Balance(ctx context.Context, accountID string) (Balance, error)
	// Apply atomically records the entry and adjusts the balance by delta.
	// It returns false without mutating anything when an identical
	// run-scoped entry already exists.
	Apply(ctx context.Context, entry Entry, delta int64) (bool, error)
}

// Ledger manages account credit balances via an underlying store.
type Ledger struct {
	store store
}

// NewLedger constructs a Ledger with an in-memory store.
func NewLedger() *Ledger {
	return &Ledger{store: newMemoryStore()}
}

// NewPostgresLedger constructs a Ledger backed by Postgres.
func NewPostgresLedger(pgStore store) *Ledger {
	return &Ledger{store: pgStore}
}

// Balance returns the current balance for an account.
func (l *Ledger) Balance(ctx context.Context, accountID string) (Balance, error) {
	return l.store.Balance(ctx, accountID)
}

// HasSufficient reports whether the account can cover amount.
func (l *Ledger) HasSufficient(ctx context.Context, accountID string, amount int64) (bool, Balance, error) {
	balance, err := l.store.Balance(ctx, accountID)
	if err != nil {
		return false, Balance{}, err
	}
	if amount <= 0 {
		return true, balance, nil
	}
	return balance.Balance >= amount, balance, nil
}

// Deduct removes amount from the account, keyed by run for idempotency.
// A repeated deduction for the same run is a no-op returning false.
func (l *Ledger) Deduct(ctx context.Context, accountID string, amount int64, runID, reason string) (bool, error) {
	entry := Entry{
		AccountID: accountID,
		RunID:     runID,
		EntryType: EntryDeduct,
		Amount:    amount,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
	return l.store.Apply(ctx, entry, -amount)
}

// Refund returns amount to the account, keyed by run for idempotency.
// A repeated refund for the same run is a no-op returning false.
func (l *Ledger) Refund(ctx context.Context, accountID string, amount int64, runID, reason string) (bool, error) {
	entry := Entry{
		AccountID: accountID,
		RunID:     runID,
		EntryType: EntryRefund,
		Amount:    amount,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
	return l.store.Apply(ctx, entry, amount)
}

// Add grants amount to the account outside any run (top-ups, promotions).
func (l *Ledger) Add(ctx context.Context, accountID string, amount int64, reason string) error {
	entry := Entry{
		AccountID: accountID,
		EntryType: EntryGrant,
		Amount:    amount,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
	_, err := l.store.Apply(ctx, entry, amount)
	return err
}
