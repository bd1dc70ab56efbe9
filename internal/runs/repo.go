package runs

import (
	"context"
	"time"
)

// Repo defines persistence operations for runs. All mutations are idempotent
// so orchestrator steps can safely re-run after a checkpoint resume.
type Repo interface {
	// Create inserts a queued run. It returns ErrDuplicateRun when a
	// non-terminal run already exists for the same
	// (account, business context, subject) tuple.
	Create(ctx context.Context, run Run) error
	GetByID(ctx context.Context, runID string) (Run, error)
	// FindActive returns the non-terminal run for the tuple, or ErrNotFound.
	FindActive(ctx context.Context, accountID, businessContextID, subjectIdentifier string) (Run, error)
	ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]Run, error)

	UpdateStatus(ctx context.Context, runID, status string, errorCode, errorMessage *string, startedAt, completedAt *time.Time) error
	UpdateResult(ctx context.Context, runID string, result map[string]any, completedAt time.Time) error
	// SetResult stores a result payload without changing the run status.
	// Used for check verdicts, which carry a result on a failed run.
	SetResult(ctx context.Context, runID string, result map[string]any) error
	UpdateCheckpoint(ctx context.Context, runID, checkpoint string) error
	MarkCreditsDeducted(ctx context.Context, runID string) error
	// MarkRefundIssued sets the refund marker and reports whether this call
	// was the one that set it. A false return means a refund was already
	// issued for the run.
	MarkRefundIssued(ctx context.Context, runID string) (bool, error)
}
