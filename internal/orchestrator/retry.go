package orchestrator

import (
	"context"
	"errors"
	"time"

	"leadscore-backend/internal/credits"
	"leadscore-backend/internal/progress"
	"leadscore-backend/internal/runs"
	"leadscore-backend/internal/scoring"
	"leadscore-backend/internal/subject"
)

// Retry classes. Billing and duplicate checks never retry: re-running
// them after a partial failure risks double-charging or racing a sibling
// run. Persistence and progress updates retry a few times with backoff,
// fetches retry once.
const (
	retryNone    = 0
	retryFetch   = 1
	retryPersist = 3
)

const retryBaseDelay = 200 * time.Millisecond

func (o *Orchestrator) withRetry(ctx context.Context, attempts int, fn func() error) error {
	err := fn()
	for attempt := 1; attempt <= attempts && err != nil && retriable(err); attempt++ {
		delay := retryBaseDelay << (attempt - 1)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		err = fn()
	}
	return err
}

// retriable filters out errors where a retry cannot change the outcome.
func retriable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, progress.ErrCancelled):
		return false
	case errors.Is(err, subject.ErrNotFound),
		errors.Is(err, subject.ErrRestricted):
		return false
	case errors.Is(err, credits.ErrInsufficientCredits):
		return false
	case errors.Is(err, runs.ErrDuplicateRun):
		return false
	case errors.Is(err, scoring.ErrSchemaMismatch):
		return false
	}
	return true
}
