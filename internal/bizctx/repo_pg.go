package bizctx

import (
	"context"
	"database/sql"
	"errors"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

// FindByID returns a context by its ID.
func (r *PGRepo) FindByID(ctx context.Context, id string) (Context, error) {
	const query = `
SELECT id, account_id, name, description, target_audience,
       min_audience_size, max_audience_size, created_at, updated_at
FROM business_contexts
WHERE id = $1
LIMIT 1`
	var bc Context
	err := r.DB.QueryRowContext(ctx, query, id).Scan(
		&bc.ID,
		&bc.AccountID,
		&bc.Name,
		&bc.Description,
		&bc.TargetAudience,
		&bc.MinAudienceSize,
		&bc.MaxAudienceSize,
		&bc.CreatedAt,
		&bc.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Context{}, ErrNotFound
	}
	if err != nil {
		return Context{}, err
	}
	return bc, nil
}

var _ Repo = (*PGRepo)(nil)
