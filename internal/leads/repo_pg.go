package leads

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

// Upsert creates or updates the lead keyed by (account, context, subject)
// and returns the lead ID. Safe to re-run on retry.
func (r *PGRepo) Upsert(ctx context.Context, lead Lead) (string, error) {
	if lead.ID == "" {
		lead.ID = uuid.NewString()
	}
	attrs, err := marshalJSONB(lead.Attributes)
	if err != nil {
		return "", err
	}

	const query = `
INSERT INTO leads (id, account_id, business_context_id, subject_identifier, attributes, score, summary, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
ON CONFLICT (account_id, business_context_id, subject_identifier)
DO UPDATE SET attributes = EXCLUDED.attributes,
              score      = EXCLUDED.score,
              summary    = EXCLUDED.summary,
              updated_at = now()
RETURNING id`
	var id string
	err = r.DB.QueryRowContext(ctx, query,
		lead.ID,
		lead.AccountID,
		lead.BusinessContextID,
		lead.SubjectIdentifier,
		attrs,
		lead.Score,
		lead.Summary,
	).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func marshalJSONB(value map[string]any) (any, error) {
	if value == nil {
		return nil, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return data, nil
}

var _ Repo = (*PGRepo)(nil)
