package credits

import (
	"context"
	"database/sql"
)

type pgStore struct {
	DB *sql.DB
}

// NewPGStore constructs a Postgres-backed ledger store.
func NewPGStore(db *sql.DB) *pgStore {
	return &pgStore{DB: db}
}

func (s *pgStore) Balance(ctx context.Context, accountID string) (Balance, error) {
	const query = `
SELECT account_id, balance, updated_at
FROM credit_balances
WHERE account_id = $1`
	var b Balance
	err := s.DB.QueryRowContext(ctx, query, accountID).Scan(&b.AccountID, &b.Balance, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return Balance{AccountID: accountID}, nil
	}
	if err != nil {
		return Balance{}, err
	}
	return b, nil
}

// Apply records the entry and adjusts the balance in one transaction. The
// partial unique index on (account_id, run_id, entry_type) makes run-scoped
// entries idempotent: a duplicate insert affects zero rows and the whole
// operation becomes a no-op.
func (s *pgStore) Apply(ctx context.Context, entry Entry, delta int64) (applied bool, err error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	const insertEntry = `
INSERT INTO credit_entries (account_id, run_id, entry_type, amount, reason, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (account_id, run_id, entry_type) WHERE run_id <> '' DO NOTHING`
	res, err := tx.ExecContext(ctx, insertEntry,
		entry.AccountID,
		entry.RunID,
		entry.EntryType,
		entry.Amount,
		entry.Reason,
		entry.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	if entry.RunID != "" {
		affected, raErr := res.RowsAffected()
		if raErr != nil {
			err = raErr
			return false, err
		}
		if affected == 0 {
			_ = tx.Rollback()
			return false, nil
		}
	}

	const upsertBalance = `
INSERT INTO credit_balances (account_id, balance, updated_at)
VALUES ($1, 0, now())
ON CONFLICT (account_id) DO NOTHING`
	if _, err = tx.ExecContext(ctx, upsertBalance, entry.AccountID); err != nil {
		return false, err
	}

	if delta < 0 {
		const deduct = `
UPDATE credit_balances
SET balance = balance + $2, updated_at = now()
WHERE account_id = $1 AND balance + $2 >= 0`
		res, uErr := tx.ExecContext(ctx, deduct, entry.AccountID, delta)
		if uErr != nil {
			err = uErr
			return false, err
		}
		affected, raErr := res.RowsAffected()
		if raErr != nil {
			err = raErr
			return false, err
		}
		if affected == 0 {
			err = ErrInsufficientCredits
			return false, err
		}
	} else {
		const add = `
UPDATE credit_balances
SET balance = balance + $2, updated_at = now()
WHERE account_id = $1`
		if _, err = tx.ExecContext(ctx, add, entry.AccountID, delta); err != nil {
			return false, err
		}
	}

	if err = tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}
