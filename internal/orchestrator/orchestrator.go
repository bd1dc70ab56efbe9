package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"leadscore-backend/internal/bizctx"
	"leadscore-backend/internal/cache"
	"leadscore-backend/internal/checks"
	"leadscore-backend/internal/credits"
	"leadscore-backend/internal/leads"
	"leadscore-backend/internal/progress"
	"leadscore-backend/internal/queue"
	"leadscore-backend/internal/runs"
	"leadscore-backend/internal/scoring"
	"leadscore-backend/internal/shared/metrics"
	"leadscore-backend/internal/shared/telemetry"
	"leadscore-backend/internal/subject"
)

// Orchestrator drives a run through the analysis pipeline. One call to
// ProcessRun executes (or resumes) the full step sequence for a single
// run; unrelated runs proceed in parallel on their own goroutines.
type Orchestrator struct {
	Runs     runs.Repo
	Contexts bizctx.Repo
	Leads    leads.Repo
	Ledger   *credits.Ledger
	Cache    *cache.Strategy
	Fetcher  subject.Fetcher
	Scorer   scoring.Scorer
	Checks   *checks.Chain
	Hub      *progress.Hub

	CreditsCost int64
	Now         func() time.Time
}

// runState accumulates the in-memory products of completed steps.
type runState struct {
	run       runs.Run
	actor     *progress.Actor
	requestID string

	bizCtx   bizctx.Context
	snapshot subject.Snapshot
	fetchErr error
	cacheHit bool

	checkFailed *checks.Result
	score       scoring.Result
	leadID      string
	result      map[string]any

	// refundable is false until credits are deducted and flips back to
	// false for failures that keep the charge (per check policy).
	refundable bool
}

// ProcessRun executes the pipeline for a queued run. Safe to call again
// on redelivery: terminal runs are acknowledged without work and
// completed steps are skipped via the stored checkpoint.
func (o *Orchestrator) ProcessRun(ctx context.Context, msg queue.Message) error {
	run, err := o.Runs.GetByID(ctx, msg.RunID)
	if err != nil {
		return fmt.Errorf("load run %s: %w", msg.RunID, err)
	}
	if run.Terminal() {
		telemetry.Info("run.already_terminal", map[string]any{
			"run_id": run.ID,
			"status": run.Status,
		})
		return nil
	}

	st := &runState{
		run:        run,
		requestID:  msg.RequestID,
		refundable: run.CreditsDeducted,
	}
	st.actor = o.Hub.Register(run.ID, run.AccountID, run.SubjectIdentifier, run.AnalysisDepth, TotalSteps)

	started := o.now()
	if run.StartedAt == nil {
		processing := runs.StatusProcessing
		if err := o.Runs.UpdateStatus(ctx, run.ID, processing, nil, nil, &started, nil); err != nil {
			return fmt.Errorf("mark run processing: %w", err)
		}
	}
	metrics.IncRunStarted()

	if err := o.execute(ctx, st); err != nil {
		return o.fail(ctx, st, err)
	}

	metrics.IncRunCompleted()
	metrics.ObserveRunDurationMs(float64(o.now().Sub(started).Milliseconds()))
	return nil
}

func (o *Orchestrator) execute(ctx context.Context, st *runState) error {
	resumeFrom := stepIndex(st.run.Checkpoint)

	for i, step := range stepOrder {
		if i <= resumeFrom && resumableSkip(step) {
			continue
		}
		if step == StepFetchSubject && st.cacheHit {
			continue
		}

		if err := o.enterStep(ctx, st, step); err != nil {
			return err
		}
		if err := o.runStep(ctx, st, step); err != nil {
			return fmt.Errorf("step %s: %w", step, err)
		}
		if st.checkFailed != nil {
			// A failing check short-circuits straight to the failure
			// path; persistence of its summary happens there.
			return checkFailure(st.checkFailed)
		}
		if err := o.checkpoint(ctx, st, step); err != nil {
			return err
		}
	}
	return nil
}

// resumableSkip reports whether a step may be skipped on checkpoint
// resume. Steps that only produce in-memory state must always re-run;
// effectful steps are idempotent and skipping them is an optimization.
func resumableSkip(step string) bool {
	switch step {
	case StepInitProgress, StepCheckDuplicate, StepDeductCredits:
		return true
	}
	return false
}

// enterStep advances the progress actor. A cancelled actor aborts the
// pipeline; transient actor errors retry like any persistence call.
func (o *Orchestrator) enterStep(ctx context.Context, st *runState, step string) error {
	telemetry.Info("run.step", map[string]any{
		"run_id":     st.run.ID,
		"request_id": st.requestID,
		"step":       step,
	})
	return o.withRetry(ctx, retryPersist, func() error {
		return st.actor.Update(step, progressPct(step, st.cacheHit))
	})
}

func (o *Orchestrator) checkpoint(ctx context.Context, st *runState, step string) error {
	if err := o.withRetry(ctx, retryPersist, func() error {
		return o.Runs.UpdateCheckpoint(ctx, st.run.ID, step)
	}); err != nil {
		return fmt.Errorf("checkpoint %s: %w", step, err)
	}
	st.run.Checkpoint = step
	return nil
}

func (o *Orchestrator) runStep(ctx context.Context, st *runState, step string) error {
	switch step {
	case StepInitProgress:
		return nil

	case StepCheckDuplicate:
		return o.stepCheckDuplicate(ctx, st)

	case StepDeductCredits:
		return o.stepDeductCredits(ctx, st)

	case StepLoadContext:
		return o.stepLoadContext(ctx, st)

	case StepCheckCache:
		return o.stepCheckCache(ctx, st)

	case StepFetchSubject:
		return o.stepFetchSubject(ctx, st)

	case StepRunChecks:
		return o.stepRunChecks(ctx, st)

	case StepScore:
		return o.stepScore(ctx, st)

	case StepPersistLead:
		return o.stepPersistLead(ctx, st)

	case StepPersistResult:
		return o.stepPersistResult(ctx, st)

	case StepFinalizeProgress:
		return o.stepFinalize(ctx, st)
	}
	return fmt.Errorf("unknown step %q", step)
}

func (o *Orchestrator) stepCheckDuplicate(ctx context.Context, st *runState) error {
	active, err := o.Runs.FindActive(ctx, st.run.AccountID, st.run.BusinessContextID, st.run.SubjectIdentifier)
	if err != nil {
		if errors.Is(err, runs.ErrNotFound) {
			return nil
		}
		return err
	}
	if active.ID != st.run.ID {
		return runs.ErrDuplicateRun
	}
	return nil
}

func (o *Orchestrator) stepDeductCredits(ctx context.Context, st *runState) error {
	if st.run.CreditsDeducted {
		st.refundable = true
		return nil
	}
	applied, err := o.Ledger.Deduct(ctx, st.run.AccountID, o.CreditsCost, st.run.ID, "analysis run")
	if err != nil {
		return err
	}
	_ = applied // a prior attempt for this run already charged; same outcome
	if err := o.Runs.MarkCreditsDeducted(ctx, st.run.ID); err != nil {
		return err
	}
	st.run.CreditsDeducted = true
	st.refundable = true
	return nil
}

func (o *Orchestrator) stepLoadContext(ctx context.Context, st *runState) error {
	bc, err := o.Contexts.FindByID(ctx, st.run.BusinessContextID)
	if err != nil {
		return err
	}
	if bc.AccountID != st.run.AccountID {
		return bizctx.ErrNotFound
	}
	st.bizCtx = bc
	return nil
}

func (o *Orchestrator) stepCheckCache(ctx context.Context, st *runState) error {
	cached, err := o.Cache.Get(ctx, st.run.SubjectIdentifier, st.run.AnalysisDepth)
	if err != nil {
		// A broken cache never blocks a run; treat as a miss.
		telemetry.Warn("cache.get_failed", map[string]any{
			"run_id": st.run.ID,
			"error":  err.Error(),
		})
		return nil
	}
	if cached != nil {
		st.cacheHit = true
		st.snapshot = cached.Snapshot
	}
	return nil
}

func (o *Orchestrator) stepFetchSubject(ctx context.Context, st *runState) error {
	var snap subject.Snapshot
	err := o.withRetry(ctx, retryFetch, func() error {
		var ferr error
		snap, ferr = o.Fetcher.Fetch(ctx, st.run.SubjectIdentifier, st.run.AnalysisDepth)
		return ferr
	})
	if err != nil {
		// Not-found and restricted are verdicts for the checks chain,
		// not fetch failures.
		if errors.Is(err, subject.ErrNotFound) || errors.Is(err, subject.ErrRestricted) {
			st.fetchErr = err
			return nil
		}
		return err
	}
	st.snapshot = snap

	if cacheErr := o.Cache.Refresh(ctx, st.run.SubjectIdentifier, snap, st.run.AnalysisDepth); cacheErr != nil {
		telemetry.Warn("cache.refresh_failed", map[string]any{
			"run_id": st.run.ID,
			"error":  cacheErr.Error(),
		})
	}
	return nil
}

func (o *Orchestrator) stepRunChecks(ctx context.Context, st *runState) error {
	out := o.Checks.Run(ctx, checks.Input{
		RunID:           st.run.ID,
		AccountID:       st.run.AccountID,
		Snapshot:        st.snapshot,
		FetchErr:        st.fetchErr,
		MinAudienceSize: st.bizCtx.MinAudienceSize,
		MaxAudienceSize: st.bizCtx.MaxAudienceSize,
	})
	if !out.AllPassed {
		st.checkFailed = out.Failed
	}
	return nil
}

func (o *Orchestrator) stepScore(ctx context.Context, st *runState) error {
	scorer := scoring.NewRetryingScorer(o.Scorer, st.run.ID, st.requestID)
	res, err := scorer.Score(ctx, scoring.Input{
		Context:       st.bizCtx,
		Snapshot:      st.snapshot,
		AnalysisDepth: st.run.AnalysisDepth,
	})
	if err != nil {
		return err
	}
	st.score = res
	telemetry.Info("run.scored", map[string]any{
		"run_id":     st.run.ID,
		"request_id": st.requestID,
		"score":      res.Score,
		"tokens":     res.Tokens,
		"cost":       res.Cost,
	})
	st.result = map[string]any{
		"score":         res.Score,
		"summary":       res.Summary,
		"analysisDepth": st.run.AnalysisDepth,
		"cacheHit":      st.cacheHit,
	}
	if len(res.Attributes) > 0 {
		st.result["attributes"] = res.Attributes
	}
	return nil
}

func (o *Orchestrator) stepPersistLead(ctx context.Context, st *runState) error {
	score := st.score.Score
	lead := leads.Lead{
		AccountID:         st.run.AccountID,
		BusinessContextID: st.run.BusinessContextID,
		SubjectIdentifier: st.run.SubjectIdentifier,
		Attributes:        st.score.Attributes,
		Score:             &score,
		Summary:           st.score.Summary,
	}
	return o.withRetry(ctx, retryPersist, func() error {
		id, err := o.Leads.Upsert(ctx, lead)
		if err != nil {
			return err
		}
		st.leadID = id
		return nil
	})
}

func (o *Orchestrator) stepPersistResult(ctx context.Context, st *runState) error {
	if st.leadID != "" {
		st.result["leadId"] = st.leadID
	}
	return o.withRetry(ctx, retryPersist, func() error {
		return o.Runs.UpdateResult(ctx, st.run.ID, st.result, o.now())
	})
}

func (o *Orchestrator) stepFinalize(ctx context.Context, st *runState) error {
	return o.withRetry(ctx, retryPersist, func() error {
		return st.actor.Complete(resultDigest(st.result))
	})
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now().UTC()
	}
	return time.Now().UTC()
}

// resultDigest is a stable short fingerprint of the persisted result,
// surfaced on terminal progress events so stream consumers can detect
// whether they already fetched the final payload.
func resultDigest(result map[string]any) string {
	if len(result) == 0 {
		return ""
	}
	data, err := json.Marshal(result)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

func sanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ReplaceAll(err.Error(), "\n", " ")
	msg = strings.ReplaceAll(msg, "\r", " ")
	msg = strings.TrimSpace(msg)
	const maxLen = 500
	if len(msg) > maxLen {
		msg = msg[:maxLen]
	}
	return msg
}
