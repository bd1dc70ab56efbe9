package runs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

// Create inserts a queued run. The partial unique index on active tuples
// turns a racing duplicate into a constraint violation, which is surfaced as
// ErrDuplicateRun.
func (r *PGRepo) Create(ctx context.Context, run Run) error {
	const query = `
INSERT INTO runs (
	id, account_id, business_context_id, subject_identifier, analysis_depth,
	status, credits_cost, checkpoint, created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`
	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := r.DB.ExecContext(ctx, query,
		run.ID,
		run.AccountID,
		run.BusinessContextID,
		run.SubjectIdentifier,
		run.AnalysisDepth,
		run.Status,
		run.CreditsCost,
		run.Checkpoint,
		createdAt,
	)
	if err != nil && isUniqueViolation(err) {
		return ErrDuplicateRun
	}
	return err
}

// GetByID returns a run by its ID.
func (r *PGRepo) GetByID(ctx context.Context, runID string) (Run, error) {
	const query = selectColumns + `
WHERE id = $1
LIMIT 1`
	return r.scanOne(r.DB.QueryRowContext(ctx, query, runID))
}

// FindActive returns the non-terminal run for the tuple, or ErrNotFound.
func (r *PGRepo) FindActive(ctx context.Context, accountID, businessContextID, subjectIdentifier string) (Run, error) {
	const query = selectColumns + `
WHERE account_id = $1 AND business_context_id = $2 AND subject_identifier = $3
  AND status IN ('queued', 'processing')
LIMIT 1`
	return r.scanOne(r.DB.QueryRowContext(ctx, query, accountID, businessContextID, subjectIdentifier))
}

// ListByAccount returns runs for an account ordered newest-first.
func (r *PGRepo) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]Run, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	const query = selectColumns + `
WHERE account_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`
	rows, err := r.DB.QueryContext(ctx, query, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// UpdateStatus updates status, error fields, and timestamps.
func (r *PGRepo) UpdateStatus(ctx context.Context, runID, status string, errorCode, errorMessage *string, startedAt, completedAt *time.Time) error {
	const query = `
UPDATE runs
SET status        = $2,
    error_code    = COALESCE($3, error_code),
    error_message = COALESCE($4, error_message),
    started_at    = COALESCE($5, started_at),
    completed_at  = COALESCE($6, completed_at),
    updated_at    = now()
WHERE id = $1`
	res, err := r.DB.ExecContext(ctx, query, runID, status, errorCode, errorMessage, startedAt, completedAt)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// UpdateResult stores the result and marks the run complete.
func (r *PGRepo) UpdateResult(ctx context.Context, runID string, result map[string]any, completedAt time.Time) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	const query = `
UPDATE runs
SET status = 'complete', result = $2, completed_at = $3, updated_at = now()
WHERE id = $1`
	res, err := r.DB.ExecContext(ctx, query, runID, payload, completedAt)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// SetResult stores a result payload without changing the run status.
func (r *PGRepo) SetResult(ctx context.Context, runID string, result map[string]any) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	const query = `
UPDATE runs
SET result = $2, updated_at = now()
WHERE id = $1`
	res, err := r.DB.ExecContext(ctx, query, runID, payload)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// UpdateCheckpoint records the last completed step.
func (r *PGRepo) UpdateCheckpoint(ctx context.Context, runID, checkpoint string) error {
	const query = `
UPDATE runs
SET checkpoint = $2, updated_at = now()
WHERE id = $1`
	res, err := r.DB.ExecContext(ctx, query, runID, checkpoint)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// MarkCreditsDeducted records that billing completed for the run.
func (r *PGRepo) MarkCreditsDeducted(ctx context.Context, runID string) error {
	const query = `
UPDATE runs
SET credits_deducted = TRUE, updated_at = now()
WHERE id = $1`
	res, err := r.DB.ExecContext(ctx, query, runID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// MarkRefundIssued test-and-sets the refund marker; the WHERE clause makes
// the second caller see zero affected rows.
func (r *PGRepo) MarkRefundIssued(ctx context.Context, runID string) (bool, error) {
	const query = `
UPDATE runs
SET refund_issued = TRUE, updated_at = now()
WHERE id = $1 AND refund_issued = FALSE`
	res, err := r.DB.ExecContext(ctx, query, runID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

const selectColumns = `
SELECT id, account_id, business_context_id, subject_identifier, analysis_depth,
       status, credits_cost, checkpoint, credits_deducted, refund_issued,
       result, error_code, error_message, started_at, completed_at, created_at, updated_at
FROM runs`

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PGRepo) scanOne(row rowScanner) (Run, error) {
	var run Run
	var result sql.NullString
	var errorCode sql.NullString
	var errorMessage sql.NullString
	var startedAt sql.NullTime
	var completedAt sql.NullTime

	err := row.Scan(
		&run.ID,
		&run.AccountID,
		&run.BusinessContextID,
		&run.SubjectIdentifier,
		&run.AnalysisDepth,
		&run.Status,
		&run.CreditsCost,
		&run.Checkpoint,
		&run.CreditsDeducted,
		&run.RefundIssued,
		&result,
		&errorCode,
		&errorMessage,
		&startedAt,
		&completedAt,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, err
	}
	if result.Valid && result.String != "" {
		if err := json.Unmarshal([]byte(result.String), &run.Result); err != nil {
			return Run{}, err
		}
	}
	if errorCode.Valid {
		run.ErrorCode = &errorCode.String
	}
	if errorMessage.Valid {
		run.ErrorMessage = &errorMessage.String
	}
	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return run, nil
}

func requireRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	// pgx surfaces SQLSTATE 23505 in the error text via database/sql.
	msg := err.Error()
	return strings.Contains(msg, "23505") || strings.Contains(msg, "duplicate key value")
}

var _ Repo = (*PGRepo)(nil)
