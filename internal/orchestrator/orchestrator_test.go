package orchestrator

import (
	"context"
	"errors"
	"testing"
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
	"leadscore-backend/internal/shared/config"
	memorystore "leadscore-backend/internal/shared/storage/object/memory"
	"leadscore-backend/internal/subject"
)

type fakeFetcher struct {
	snapshot subject.Snapshot
	err      error
	calls    int
}

func (f *fakeFetcher) Fetch(ctx context.Context, identifier, depth string) (subject.Snapshot, error) {
	f.calls++
	if f.err != nil {
		return subject.Snapshot{}, f.err
	}
	return f.snapshot, nil
}

type fakeScorer struct {
	result scoring.Result
	err    error
	calls  int
}

func (f *fakeScorer) Score(ctx context.Context, input scoring.Input) (scoring.Result, error) {
	f.calls++
	if f.err != nil {
		return scoring.Result{}, f.err
	}
	return f.result, nil
}

type fixture struct {
	orch    *Orchestrator
	runs    *runs.MemoryRepo
	leads   *leads.MemoryRepo
	ledger  *credits.Ledger
	hub     *progress.Hub
	fetcher *fakeFetcher
	scorer  *fakeScorer
	cache   *cache.Strategy
}

const (
	testAccount = "acct-1"
	testContext = "ctx-1"
	testSubject = "acme_corp"
	testCost    = 10
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	runsRepo := runs.NewMemoryRepo()
	contexts := bizctx.NewMemoryRepo()
	leadsRepo := leads.NewMemoryRepo()
	ledger := credits.NewLedger()
	hub := progress.NewHub()
	t.Cleanup(hub.Shutdown)

	if err := contexts.Put(ctx, bizctx.Context{
		ID:              testContext,
		AccountID:       testAccount,
		Name:            "Crafted Ceramics",
		TargetAudience:  "independent makers",
		MinAudienceSize: 1000,
		MaxAudienceSize: 1000000,
	}); err != nil {
		t.Fatalf("seed context: %v", err)
	}
	if err := ledger.Add(ctx, testAccount, 100, "grant"); err != nil {
		t.Fatalf("seed credits: %v", err)
	}

	fetcher := &fakeFetcher{snapshot: subject.Snapshot{
		Identifier:    testSubject,
		DisplayName:   "Acme Corp",
		Bio:           "handmade pottery and homeware",
		FollowerCount: 50000,
		PostCount:     300,
	}}
	score := 72.5
	scorer := &fakeScorer{result: scoring.Result{
		Score:   score,
		Summary: "Strong fit for the target audience.",
	}}

	strategy := cache.NewStrategy(memorystore.New(), config.DefaultTiers())

	orch := &Orchestrator{
		Runs:        runsRepo,
		Contexts:    contexts,
		Leads:       leadsRepo,
		Ledger:      ledger,
		Cache:       strategy,
		Fetcher:     fetcher,
		Scorer:      scorer,
		Checks:      checks.NewChain(),
		Hub:         hub,
		CreditsCost: testCost,
	}
	return &fixture{
		orch:    orch,
		runs:    runsRepo,
		leads:   leadsRepo,
		ledger:  ledger,
		hub:     hub,
		fetcher: fetcher,
		scorer:  scorer,
		cache:   strategy,
	}
}

func (f *fixture) createRun(t *testing.T, runID string) queue.Message {
	t.Helper()
	now := time.Now().UTC()
	err := f.runs.Create(context.Background(), runs.Run{
		ID:                runID,
		AccountID:         testAccount,
		BusinessContextID: testContext,
		SubjectIdentifier: testSubject,
		AnalysisDepth:     "standard",
		Status:            runs.StatusQueued,
		CreditsCost:       testCost,
		CreatedAt:         now,
		UpdatedAt:         now,
	})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	return queue.Message{
		RunID:             runID,
		AccountID:         testAccount,
		BusinessContextID: testContext,
		SubjectIdentifier: testSubject,
		AnalysisDepth:     "standard",
		RequestID:         "req-1",
	}
}

func (f *fixture) balance(t *testing.T) int64 {
	t.Helper()
	b, err := f.ledger.Balance(context.Background(), testAccount)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return b.Balance
}

func TestProcessRunHappyPath(t *testing.T) {
	f := newFixture(t)
	msg := f.createRun(t, "run-1")

	if err := f.orch.ProcessRun(context.Background(), msg); err != nil {
		t.Fatalf("process: %v", err)
	}

	run, err := f.runs.GetByID(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != runs.StatusComplete {
		t.Fatalf("status: got %q want complete", run.Status)
	}
	if run.Result["score"] != 72.5 {
		t.Fatalf("result score: got %v", run.Result["score"])
	}
	if f.balance(t) != 90 {
		t.Fatalf("balance: got %d want 90", f.balance(t))
	}

	lead, ok := f.leads.Get(testAccount, testContext, testSubject)
	if !ok {
		t.Fatal("expected persisted lead")
	}
	if lead.Score == nil || *lead.Score != 72.5 {
		t.Fatalf("lead score: got %v", lead.Score)
	}

	actor, err := f.hub.Get("run-1")
	if err != nil {
		t.Fatalf("hub get: %v", err)
	}
	state, _ := actor.Get()
	if state.Status != progress.StateComplete || state.Progress != 100 {
		t.Fatalf("progress terminal state: %+v", state)
	}
}

func TestProcessRunCacheHitSkipsFetch(t *testing.T) {
	f := newFixture(t)
	if err := f.cache.Set(context.Background(), testSubject, f.fetcher.snapshot, "standard"); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	msg := f.createRun(t, "run-1")

	if err := f.orch.ProcessRun(context.Background(), msg); err != nil {
		t.Fatalf("process: %v", err)
	}
	if f.fetcher.calls != 0 {
		t.Fatalf("cache hit must skip the fetch, got %d calls", f.fetcher.calls)
	}
	if f.scorer.calls != 1 {
		t.Fatalf("scorer calls: got %d want 1", f.scorer.calls)
	}

	run, _ := f.runs.GetByID(context.Background(), "run-1")
	if run.Status != runs.StatusComplete {
		t.Fatalf("status: got %q", run.Status)
	}
	if run.Result["cacheHit"] != true {
		t.Fatalf("result should record the cache hit: %v", run.Result)
	}
}

func TestProcessRunMissWritesCache(t *testing.T) {
	f := newFixture(t)
	msg := f.createRun(t, "run-1")

	if err := f.orch.ProcessRun(context.Background(), msg); err != nil {
		t.Fatalf("process: %v", err)
	}
	cached, err := f.cache.Get(context.Background(), testSubject, "standard")
	if err != nil {
		t.Fatalf("cache get: %v", err)
	}
	if cached == nil {
		t.Fatal("fetched snapshot should be written back to cache")
	}
}

func TestProcessRunCheckFailureRefundsOnce(t *testing.T) {
	f := newFixture(t)
	f.fetcher.err = subject.ErrNotFound
	msg := f.createRun(t, "run-1")

	if err := f.orch.ProcessRun(context.Background(), msg); err != nil {
		t.Fatalf("check failures resolve terminally: %v", err)
	}

	run, _ := f.runs.GetByID(context.Background(), "run-1")
	if run.Status != runs.StatusFailed {
		t.Fatalf("status: got %q want failed", run.Status)
	}
	if run.ErrorCode == nil || *run.ErrorCode != runs.ErrorCodeSubjectNotFound {
		t.Fatalf("error code: got %v", run.ErrorCode)
	}
	if run.Result == nil {
		t.Fatal("failed run should carry the check verdict as its result")
	}
	if run.Result["score"] != 0.0 {
		t.Fatalf("result score: got %v want the check's zero override", run.Result["score"])
	}
	if run.Result["resultType"] != "subject_not_found" {
		t.Fatalf("result type: got %v", run.Result["resultType"])
	}
	if summary, _ := run.Result["summary"].(string); summary == "" {
		t.Fatal("result should carry the check's summary")
	}
	if f.balance(t) != 100 {
		t.Fatalf("refund should restore balance: got %d", f.balance(t))
	}
	if f.scorer.calls != 0 {
		t.Fatal("failed check must short-circuit scoring")
	}

	// Re-driving the failure path must not refund again.
	f.orch.FailDirect(context.Background(), "run-1", runs.ErrorCodeInternal, "redrive")
	if f.balance(t) != 100 {
		t.Fatalf("second failure pass must not double-refund: got %d", f.balance(t))
	}

	lead, ok := f.leads.Get(testAccount, testContext, testSubject)
	if !ok {
		t.Fatal("check verdict should persist a lead")
	}
	if lead.Score == nil || *lead.Score != 0 {
		t.Fatalf("check verdict score: got %v", lead.Score)
	}
}

func TestProcessRunInsufficientCreditsNoRefund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// Drain the balance below the run cost.
	if _, err := f.ledger.Deduct(ctx, testAccount, 95, "setup", "drain"); err != nil {
		t.Fatalf("drain: %v", err)
	}
	msg := f.createRun(t, "run-1")

	if err := f.orch.ProcessRun(ctx, msg); err != nil {
		t.Fatalf("insufficient credits resolves terminally: %v", err)
	}

	run, _ := f.runs.GetByID(ctx, "run-1")
	if run.Status != runs.StatusFailed {
		t.Fatalf("status: got %q", run.Status)
	}
	if run.ErrorCode == nil || *run.ErrorCode != runs.ErrorCodeInsufficientCredits {
		t.Fatalf("error code: got %v", run.ErrorCode)
	}
	if f.balance(t) != 5 {
		t.Fatalf("nothing was charged so nothing refunds: got %d", f.balance(t))
	}
}

// racingRepo simulates the window where another run for the same tuple
// won the race and is already processing.
type racingRepo struct {
	*runs.MemoryRepo
}

func (r racingRepo) FindActive(ctx context.Context, accountID, businessContextID, subjectIdentifier string) (runs.Run, error) {
	return runs.Run{ID: "run-0", Status: runs.StatusProcessing}, nil
}

func TestProcessRunDuplicateRejectedBeforeBilling(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msg := f.createRun(t, "run-1")
	f.orch.Runs = racingRepo{f.runs}

	if err := f.orch.ProcessRun(ctx, msg); err != nil {
		t.Fatalf("duplicate resolves terminally: %v", err)
	}

	got, _ := f.runs.GetByID(ctx, "run-1")
	if got.Status != runs.StatusFailed {
		t.Fatalf("status: got %q", got.Status)
	}
	if got.ErrorCode == nil || *got.ErrorCode != runs.ErrorCodeDuplicateRun {
		t.Fatalf("error code: got %v", got.ErrorCode)
	}
	if f.balance(t) != 100 {
		t.Fatalf("duplicate rejection happens before billing: got %d", f.balance(t))
	}
}

func TestProcessRunInfrastructureFailureLeftRetriable(t *testing.T) {
	f := newFixture(t)
	f.scorer.err = errors.New("provider unavailable")
	msg := f.createRun(t, "run-1")

	err := f.orch.ProcessRun(context.Background(), msg)
	if err == nil {
		t.Fatal("infrastructure failure must surface for redelivery")
	}

	run, _ := f.runs.GetByID(context.Background(), "run-1")
	if run.Terminal() {
		t.Fatalf("run must stay non-terminal for retry, got %q", run.Status)
	}
	if f.balance(t) != 90 {
		t.Fatalf("charge stays pending during retries: got %d", f.balance(t))
	}
	if run.Checkpoint == "" {
		t.Fatal("completed steps should be checkpointed")
	}
}

func TestProcessRunResumeSkipsSecondDeduction(t *testing.T) {
	f := newFixture(t)
	f.scorer.err = errors.New("provider unavailable")
	msg := f.createRun(t, "run-1")

	if err := f.orch.ProcessRun(context.Background(), msg); err == nil {
		t.Fatal("expected first attempt to fail")
	}
	if f.balance(t) != 90 {
		t.Fatalf("after first attempt: got %d", f.balance(t))
	}

	// Redelivery with the provider recovered.
	f.scorer.err = nil
	if err := f.orch.ProcessRun(context.Background(), msg); err != nil {
		t.Fatalf("resume: %v", err)
	}

	run, _ := f.runs.GetByID(context.Background(), "run-1")
	if run.Status != runs.StatusComplete {
		t.Fatalf("status: got %q", run.Status)
	}
	if f.balance(t) != 90 {
		t.Fatalf("resume must not charge twice: got %d", f.balance(t))
	}
}

func TestProcessRunTerminalRunIsNoOp(t *testing.T) {
	f := newFixture(t)
	msg := f.createRun(t, "run-1")

	if err := f.orch.ProcessRun(context.Background(), msg); err != nil {
		t.Fatalf("process: %v", err)
	}
	scorerCalls := f.scorer.calls

	if err := f.orch.ProcessRun(context.Background(), msg); err != nil {
		t.Fatalf("redelivery of terminal run: %v", err)
	}
	if f.scorer.calls != scorerCalls {
		t.Fatal("terminal run redelivery must not re-execute steps")
	}
	if f.balance(t) != 90 {
		t.Fatalf("terminal redelivery must not touch the ledger: got %d", f.balance(t))
	}
}

func TestProcessRunCancelledMidFlight(t *testing.T) {
	f := newFixture(t)
	msg := f.createRun(t, "run-1")

	// Pre-register the tracker and cancel before processing starts.
	actor := f.hub.Register("run-1", testAccount, testSubject, "standard", TotalSteps)
	if err := actor.Cancel(); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if err := f.orch.ProcessRun(context.Background(), msg); err != nil {
		t.Fatalf("cancelled run resolves terminally: %v", err)
	}

	run, _ := f.runs.GetByID(context.Background(), "run-1")
	if run.Status != runs.StatusCancelled {
		t.Fatalf("status: got %q want cancelled", run.Status)
	}
	if f.balance(t) != 100 {
		t.Fatalf("cancellation keeps nothing charged before deduction: got %d", f.balance(t))
	}
	if f.scorer.calls != 0 {
		t.Fatal("cancelled run must not reach scoring")
	}
}

func TestFailDirectRefundsDeductedRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createRun(t, "run-1")

	// Simulate a run that charged and then got stuck mid-pipeline.
	if _, err := f.ledger.Deduct(ctx, testAccount, testCost, "run-1", "analysis run"); err != nil {
		t.Fatalf("deduct: %v", err)
	}
	if err := f.runs.MarkCreditsDeducted(ctx, "run-1"); err != nil {
		t.Fatalf("mark deducted: %v", err)
	}

	f.orch.FailDirect(ctx, "run-1", runs.ErrorCodeInternal, "analysis failed after repeated attempts")

	run, _ := f.runs.GetByID(ctx, "run-1")
	if run.Status != runs.StatusFailed {
		t.Fatalf("status: got %q", run.Status)
	}
	if f.balance(t) != 100 {
		t.Fatalf("direct failure refunds the charge: got %d", f.balance(t))
	}

	f.orch.FailDirect(ctx, "run-1", runs.ErrorCodeInternal, "redrive")
	if f.balance(t) != 100 {
		t.Fatalf("repeat direct failure must not double-refund: got %d", f.balance(t))
	}
}
