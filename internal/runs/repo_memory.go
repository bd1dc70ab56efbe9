package runs

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo stores runs in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu        sync.RWMutex
	byID      map[string]Run
	byAccount map[string][]string
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byID:      make(map[string]Run),
		byAccount: make(map[string][]string),
	}
}

// Create stores the run, rejecting duplicates for an active tuple.
func (r *MemoryRepo) Create(ctx context.Context, run Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		if !existing.Terminal() &&
			existing.AccountID == run.AccountID &&
			existing.BusinessContextID == run.BusinessContextID &&
			existing.SubjectIdentifier == run.SubjectIdentifier {
			return ErrDuplicateRun
		}
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	run.UpdatedAt = run.CreatedAt
	r.byID[run.ID] = run
	r.byAccount[run.AccountID] = append(r.byAccount[run.AccountID], run.ID)
	return nil
}

// GetByID returns a run by its ID.
func (r *MemoryRepo) GetByID(ctx context.Context, runID string) (Run, error) {
	if err := ctx.Err(); err != nil {
		return Run{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.byID[runID]
	if !ok {
		return Run{}, ErrNotFound
	}
	return run, nil
}

// FindActive returns the non-terminal run for the tuple, or ErrNotFound.
func (r *MemoryRepo) FindActive(ctx context.Context, accountID, businessContextID, subjectIdentifier string) (Run, error) {
	if err := ctx.Err(); err != nil {
		return Run{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, run := range r.byID {
		if !run.Terminal() &&
			run.AccountID == accountID &&
			run.BusinessContextID == businessContextID &&
			run.SubjectIdentifier == subjectIdentifier {
			return run, nil
		}
	}
	return Run{}, ErrNotFound
}

// ListByAccount returns runs for an account ordered newest-first.
func (r *MemoryRepo) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byAccount[accountID]
	out := make([]Run, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.byID[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// UpdateStatus updates status, error fields, and timestamps.
func (r *MemoryRepo) UpdateStatus(ctx context.Context, runID, status string, errorCode, errorMessage *string, startedAt, completedAt *time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.byID[runID]
	if !ok {
		return ErrNotFound
	}
	run.Status = status
	if errorCode != nil {
		run.ErrorCode = errorCode
	}
	if errorMessage != nil {
		run.ErrorMessage = errorMessage
	}
	if startedAt != nil {
		run.StartedAt = startedAt
	}
	if completedAt != nil {
		run.CompletedAt = completedAt
	}
	run.UpdatedAt = time.Now().UTC()
	r.byID[runID] = run
	return nil
}

// UpdateResult stores the result and marks the run complete.
func (r *MemoryRepo) UpdateResult(ctx context.Context, runID string, result map[string]any, completedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.byID[runID]
	if !ok {
		return ErrNotFound
	}
	run.Status = StatusComplete
	run.Result = result
	run.CompletedAt = &completedAt
	run.UpdatedAt = time.Now().UTC()
	r.byID[runID] = run
	return nil
}

// SetResult stores a result payload without changing the run status.
func (r *MemoryRepo) SetResult(ctx context.Context, runID string, result map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.byID[runID]
	if !ok {
		return ErrNotFound
	}
	run.Result = result
	run.UpdatedAt = time.Now().UTC()
	r.byID[runID] = run
	return nil
}

// UpdateCheckpoint records the last completed step.
func (r *MemoryRepo) UpdateCheckpoint(ctx context.Context, runID, checkpoint string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.byID[runID]
	if !ok {
		return ErrNotFound
	}
	run.Checkpoint = checkpoint
	run.UpdatedAt = time.Now().UTC()
	r.byID[runID] = run
	return nil
}

// MarkCreditsDeducted records that billing completed for the run.
func (r *MemoryRepo) MarkCreditsDeducted(ctx context.Context, runID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.byID[runID]
	if !ok {
		return ErrNotFound
	}
	run.CreditsDeducted = true
	run.UpdatedAt = time.Now().UTC()
	r.byID[runID] = run
	return nil
}

// MarkRefundIssued test-and-sets the refund marker.
func (r *MemoryRepo) MarkRefundIssued(ctx context.Context, runID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.byID[runID]
	if !ok {
		return false, ErrNotFound
	}
	if run.RefundIssued {
		return false, nil
	}
	run.RefundIssued = true
	run.UpdatedAt = time.Now().UTC()
	r.byID[runID] = run
	return true, nil
}

var _ Repo = (*MemoryRepo)(nil)
