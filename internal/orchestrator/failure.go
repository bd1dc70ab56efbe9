package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"leadscore-backend/internal/bizctx"
	"leadscore-backend/internal/checks"
	"leadscore-backend/internal/credits"
	"leadscore-backend/internal/leads"
	"leadscore-backend/internal/progress"
	"leadscore-backend/internal/runs"
	"leadscore-backend/internal/scoring"
	"leadscore-backend/internal/shared/metrics"
	"leadscore-backend/internal/shared/telemetry"
	"leadscore-backend/internal/subject"
)

// checkFailedError carries a failing check verdict through the failure
// path so it can be serialized as the run's outcome.
type checkFailedError struct {
	result *checks.Result
}

func (e checkFailedError) Error() string {
	return fmt.Sprintf("check %s failed: %s", e.result.CheckName, e.result.Summary)
}

func checkFailure(res *checks.Result) error {
	return checkFailedError{result: res}
}

// fail is the single failure handler for a run. User-condition errors and
// cancellations finish the run terminally and return nil so the message
// is acknowledged; infrastructure errors return non-nil so the consumer
// schedules a redelivery that resumes from the checkpoint.
func (o *Orchestrator) fail(ctx context.Context, st *runState, cause error) error {
	if errors.Is(cause, progress.ErrCancelled) || errors.Is(cause, context.Canceled) {
		return o.cancel(ctx, st)
	}

	code := classifyFailure(cause)
	kind := failureKind(cause)

	telemetry.Error("run.failed", mergeFields(map[string]any{
		"run_id":     st.run.ID,
		"request_id": st.requestID,
	}, telemetry.ErrorFields(cause, kind, code)))

	if kind == kindInfrastructure {
		// Leave the run non-terminal; redelivery resumes from the last
		// checkpoint and the consumer owns the attempts budget.
		return cause
	}

	var checkFail checkFailedError
	if errors.As(cause, &checkFail) {
		o.persistCheckVerdict(ctx, st, checkFail.result)
	}

	refund := st.refundable
	if errors.As(cause, &checkFail) {
		refund = refund && checkFail.result.ShouldRefund
	}

	o.finishFailed(ctx, st.run.ID, st.run.AccountID, st.actor, code, sanitizeError(cause), refund)
	return nil
}

func (o *Orchestrator) cancel(ctx context.Context, st *runState) error {
	telemetry.Info("run.cancelled", map[string]any{
		"run_id":     st.run.ID,
		"request_id": st.requestID,
	})
	status := runs.StatusCancelled
	code := runs.ErrorCodeCancelled
	msg := "run cancelled by request"
	completed := o.now()
	if err := o.Runs.UpdateStatus(ctx, st.run.ID, status, &code, &msg, nil, &completed); err != nil {
		telemetry.Error("run.cancel_persist_failed", map[string]any{
			"run_id": st.run.ID,
			"error":  err.Error(),
		})
	}
	// Cancellation keeps the charge; the subject fetch and any partial
	// work already happened on the caller's request.
	metrics.IncRunCancelled()
	return nil
}

// persistCheckVerdict records a failing check's summary and score
// override as the run result and the lead outcome, so a polling client
// sees the verdict on the failed run. Best effort; the terminal status
// write is what matters.
func (o *Orchestrator) persistCheckVerdict(ctx context.Context, st *runState, res *checks.Result) {
	result := map[string]any{
		"checkName":  res.CheckName,
		"resultType": res.ResultType,
		"summary":    res.Summary,
	}
	if res.ScoreOverride != nil {
		result["score"] = *res.ScoreOverride
	}
	if err := o.Runs.SetResult(ctx, st.run.ID, result); err != nil {
		telemetry.Warn("run.check_verdict_persist_failed", map[string]any{
			"run_id": st.run.ID,
			"check":  res.CheckName,
			"error":  err.Error(),
		})
	}

	if res.ScoreOverride == nil {
		return
	}
	lead := leads.Lead{
		AccountID:         st.run.AccountID,
		BusinessContextID: st.run.BusinessContextID,
		SubjectIdentifier: st.run.SubjectIdentifier,
		Score:             res.ScoreOverride,
		Summary:           res.Summary,
	}
	if _, err := o.Leads.Upsert(ctx, lead); err != nil {
		telemetry.Warn("run.check_verdict_persist_failed", map[string]any{
			"run_id": st.run.ID,
			"check":  res.CheckName,
			"error":  err.Error(),
		})
	}
}

// FailDirect terminally fails a run from outside the normal pipeline.
// The queue consumer uses it when delivery attempts are exhausted and
// the orchestrator itself may be the source of the repeated failure.
func (o *Orchestrator) FailDirect(ctx context.Context, runID, code, message string) {
	run, err := o.Runs.GetByID(ctx, runID)
	if err != nil {
		telemetry.Error("run.fail_direct_load", map[string]any{
			"run_id": runID,
			"error":  err.Error(),
		})
		return
	}
	if run.Terminal() {
		return
	}
	actor, actorErr := o.Hub.Get(runID)
	if actorErr != nil {
		actor = nil
	}
	o.finishFailed(ctx, runID, run.AccountID, actor, code, message, run.CreditsDeducted)
}

// finishFailed performs the one refund attempt and the one terminal
// write for a failed run.
func (o *Orchestrator) finishFailed(ctx context.Context, runID, accountID string, actor *progress.Actor, code, message string, refund bool) {
	if refund {
		o.refundOnce(ctx, runID, accountID)
	}

	status := runs.StatusFailed
	completed := o.now()
	if err := o.withRetry(ctx, retryPersist, func() error {
		return o.Runs.UpdateStatus(ctx, runID, status, &code, &message, nil, &completed)
	}); err != nil {
		telemetry.Error("run.fail_persist_failed", map[string]any{
			"run_id": runID,
			"error":  err.Error(),
		})
	}

	if actor != nil {
		if err := actor.Fail(message); err != nil && !errors.Is(err, progress.ErrCancelled) && !errors.Is(err, progress.ErrAlreadyComplete) {
			telemetry.Warn("run.fail_progress_failed", map[string]any{
				"run_id": runID,
				"error":  err.Error(),
			})
		}
	}
	metrics.IncRunFailed()
}

// refundOnce issues at most one compensating refund per run. The marker
// is test-and-set, so a re-entered failure path cannot double-refund.
// A failed refund is logged, not retried indefinitely.
func (o *Orchestrator) refundOnce(ctx context.Context, runID, accountID string) {
	first, err := o.Runs.MarkRefundIssued(ctx, runID)
	if err != nil {
		telemetry.Error("run.refund_marker_failed", map[string]any{
			"run_id": runID,
			"error":  err.Error(),
		})
		return
	}
	if !first {
		return
	}
	applied, err := o.Ledger.Refund(ctx, accountID, o.CreditsCost, runID, "analysis run failed")
	if err != nil {
		telemetry.Error("run.refund_failed", map[string]any{
			"run_id":     runID,
			"account_id": accountID,
			"error":      err.Error(),
		})
		return
	}
	if applied {
		metrics.IncRunRefunded()
		telemetry.Info("run.refunded", map[string]any{
			"run_id":     runID,
			"account_id": accountID,
		})
	}
}

// Failure kinds for structured logging and retry routing.
const (
	kindUserCondition  = "user_condition"
	kindInfrastructure = "infrastructure"
	kindContract       = "contract"
)

func failureKind(err error) string {
	var checkFail checkFailedError
	switch {
	case errors.As(err, &checkFail),
		errors.Is(err, credits.ErrInsufficientCredits),
		errors.Is(err, runs.ErrDuplicateRun),
		errors.Is(err, bizctx.ErrNotFound),
		errors.Is(err, subject.ErrNotFound),
		errors.Is(err, subject.ErrRestricted):
		return kindUserCondition
	case errors.Is(err, scoring.ErrSchemaMismatch),
		errors.Is(err, runs.ErrNotFound):
		return kindContract
	}
	return kindInfrastructure
}

func classifyFailure(err error) string {
	var checkFail checkFailedError
	if errors.As(err, &checkFail) {
		switch checkFail.result.ResultType {
		case checks.ResultTypeNotFound:
			return runs.ErrorCodeSubjectNotFound
		case checks.ResultTypeRestricted:
			return runs.ErrorCodeSubjectRestricted
		case checks.ResultTypeOutOfBounds:
			return runs.ErrorCodeOutOfBounds
		}
		return runs.ErrorCodeValidation
	}

	switch {
	case errors.Is(err, credits.ErrInsufficientCredits):
		return runs.ErrorCodeInsufficientCredits
	case errors.Is(err, runs.ErrDuplicateRun):
		return runs.ErrorCodeDuplicateRun
	case errors.Is(err, bizctx.ErrNotFound):
		return runs.ErrorCodeValidation
	case errors.Is(err, subject.ErrNotFound):
		return runs.ErrorCodeSubjectNotFound
	case errors.Is(err, subject.ErrRestricted):
		return runs.ErrorCodeSubjectRestricted
	case errors.Is(err, subject.ErrRateLimited):
		return runs.ErrorCodeFetchRateLimited
	case errors.Is(err, scoring.ErrSchemaMismatch):
		return runs.ErrorCodeScoreSchemaMismatch
	case errors.Is(err, context.DeadlineExceeded):
		return runs.ErrorCodeFetchTimeout
	case errors.Is(err, progress.ErrCancelled):
		return runs.ErrorCodeCancelled
	}
	return runs.ErrorCodeInternal
}

func mergeFields(base, extra map[string]any) map[string]any {
	for k, v := range extra {
		base[k] = v
	}
	return base
}
