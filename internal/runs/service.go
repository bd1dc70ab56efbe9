package runs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"leadscore-backend/internal/bizctx"
	"leadscore-backend/internal/credits"
	"leadscore-backend/internal/queue"
	"leadscore-backend/internal/shared/config"
	"leadscore-backend/internal/shared/telemetry"
	"leadscore-backend/internal/subject"
)

// Service accepts run requests: it validates input, guards against duplicate
// in-progress runs, persists the queued run, and hands it to the queue. The
// authoritative duplicate and billing checks happen again inside the
// orchestrator; the checks here exist to reject obviously bad requests
// before a queue round-trip.
type Service struct {
	Repo        Repo
	Contexts    bizctx.Repo
	Ledger      *credits.Ledger
	Queue       queue.Client
	Tiers       config.Tiers
	CreditsCost int
}

// StartParams are the caller-supplied inputs for a new run.
type StartParams struct {
	AccountID         string
	BusinessContextID string
	SubjectIdentifier string
	AnalysisDepth     string
}

// Start validates and enqueues a new run.
func (s *Service) Start(ctx context.Context, params StartParams) (Run, error) {
	if params.AccountID == "" || params.BusinessContextID == "" {
		return Run{}, errors.New("accountId and businessContextId are required")
	}
	identifier := subject.NormalizeIdentifier(params.SubjectIdentifier)
	if identifier == "" {
		return Run{}, errors.New("subjectIdentifier is required")
	}
	depth := params.AnalysisDepth
	if depth == "" {
		depth = s.Tiers.DefaultDepth
	}
	if !s.Tiers.KnownDepth(depth) {
		return Run{}, fmt.Errorf("unknown analysis depth %q", depth)
	}
	if s.Queue == nil {
		return Run{}, ErrQueueNotConfigured
	}

	bc, err := s.Contexts.FindByID(ctx, params.BusinessContextID)
	if err != nil {
		return Run{}, err
	}
	if bc.AccountID != params.AccountID {
		return Run{}, bizctx.ErrNotFound
	}

	if _, err := s.Repo.FindActive(ctx, params.AccountID, params.BusinessContextID, identifier); err == nil {
		return Run{}, ErrDuplicateRun
	} else if !errors.Is(err, ErrNotFound) {
		return Run{}, err
	}

	cost := s.CreditsCost
	if cost <= 0 {
		cost = 1
	}
	if s.Ledger != nil {
		ok, _, err := s.Ledger.HasSufficient(ctx, params.AccountID, int64(cost))
		if err != nil {
			return Run{}, err
		}
		if !ok {
			return Run{}, credits.ErrInsufficientCredits
		}
	}

	run := Run{
		ID:                uuid.NewString(),
		AccountID:         params.AccountID,
		BusinessContextID: params.BusinessContextID,
		SubjectIdentifier: identifier,
		AnalysisDepth:     depth,
		Status:            StatusQueued,
		CreditsCost:       cost,
		CreatedAt:         time.Now().UTC(),
	}
	if err := s.Repo.Create(ctx, run); err != nil {
		return Run{}, err
	}

	msg := queue.Message{
		RunID:             run.ID,
		AccountID:         run.AccountID,
		BusinessContextID: run.BusinessContextID,
		SubjectIdentifier: run.SubjectIdentifier,
		AnalysisDepth:     run.AnalysisDepth,
		RequestID:         RequestIDFromContext(ctx),
		RequestedAt:       run.CreatedAt.Format(time.RFC3339),
	}
	if err := s.Queue.Send(ctx, msg); err != nil {
		// The run row stays queued; the caller sees the failure and may
		// retry. Mark it failed so the duplicate guard does not wedge the
		// tuple forever.
		code := ErrorCodeStorage
		message := sanitizeError(err)
		now := time.Now().UTC()
		if updateErr := s.Repo.UpdateStatus(ctx, run.ID, StatusFailed, &code, &message, nil, &now); updateErr != nil {
			telemetry.Error("runs.enqueue_cleanup_failed", map[string]any{
				"run_id":        run.ID,
				"error_message": updateErr.Error(),
			})
		}
		return Run{}, fmt.Errorf("enqueue run: %w", err)
	}

	telemetry.Info("runs.accepted", map[string]any{
		"run_id":              run.ID,
		"account_id":          run.AccountID,
		"business_context_id": run.BusinessContextID,
		"subject_identifier":  run.SubjectIdentifier,
		"analysis_depth":      run.AnalysisDepth,
		"request_id":          msg.RequestID,
	})
	return run, nil
}

// Get returns a run by ID.
func (s *Service) Get(ctx context.Context, runID string) (Run, error) {
	if runID == "" {
		return Run{}, errors.New("runID is required")
	}
	return s.Repo.GetByID(ctx, runID)
}

// List returns runs for an account ordered newest-first.
func (s *Service) List(ctx context.Context, accountID string, limit, offset int) ([]Run, error) {
	if accountID == "" {
		return nil, errors.New("accountID is required")
	}
	return s.Repo.ListByAccount(ctx, accountID, limit, offset)
}
