package checks

import (
	"context"
	"testing"

	"leadscore-backend/internal/subject"
)

func populatedSnapshot() subject.Snapshot {
	return subject.Snapshot{
		Identifier:    "acme_corp",
		DisplayName:   "Acme Corp",
		Bio:           "handmade pottery and homeware",
		FollowerCount: 50000,
		PostCount:     300,
	}
}

func TestChainAllPass(t *testing.T) {
	chain := NewChain()
	out := chain.Run(context.Background(), Input{
		RunID:           "run-1",
		Snapshot:        populatedSnapshot(),
		MinAudienceSize: 1000,
		MaxAudienceSize: 100000,
	})
	if !out.AllPassed {
		t.Fatalf("expected all checks to pass, failed=%+v", out.Failed)
	}
	if len(out.Results) != 3 {
		t.Fatalf("results: got %d want 3", len(out.Results))
	}
	if out.Failed != nil {
		t.Fatalf("failed should be nil, got %+v", out.Failed)
	}
}

func TestChainNotFoundOnFetchError(t *testing.T) {
	chain := NewChain()
	out := chain.Run(context.Background(), Input{
		RunID:    "run-1",
		FetchErr: subject.ErrNotFound,
	})
	if out.AllPassed {
		t.Fatal("expected not-found failure")
	}
	if out.Failed.ResultType != ResultTypeNotFound {
		t.Fatalf("result type: got %q", out.Failed.ResultType)
	}
	if !out.Failed.ShouldRefund {
		t.Fatal("not-found must refund")
	}
	if out.Failed.ScoreOverride == nil || *out.Failed.ScoreOverride != 0 {
		t.Fatalf("score override: got %v", out.Failed.ScoreOverride)
	}
}

func TestChainNotFoundOnEmptySnapshot(t *testing.T) {
	chain := NewChain()
	out := chain.Run(context.Background(), Input{RunID: "run-1"})
	if out.AllPassed || out.Failed.ResultType != ResultTypeNotFound {
		t.Fatalf("expected not-found for empty snapshot, got %+v", out.Failed)
	}
}

func TestChainFailFastPriorityOrder(t *testing.T) {
	// Both not-found and restricted signals present: only the lower-priority
	// not-found check may report; restricted must never be evaluated.
	chain := NewChain()
	snap := populatedSnapshot()
	snap.IsPrivate = true
	out := chain.Run(context.Background(), Input{
		RunID:    "run-1",
		FetchErr: subject.ErrNotFound,
		Snapshot: snap,
	})
	if out.AllPassed {
		t.Fatal("expected failure")
	}
	if out.Failed.ResultType != ResultTypeNotFound {
		t.Fatalf("expected not-found to win, got %q", out.Failed.ResultType)
	}
	if len(out.Results) != 1 {
		t.Fatalf("fail-fast should stop after first failure, got %d results", len(out.Results))
	}
}

func TestChainRestricted(t *testing.T) {
	chain := NewChain()
	snap := populatedSnapshot()
	snap.IsPrivate = true
	out := chain.Run(context.Background(), Input{RunID: "run-1", Snapshot: snap})
	if out.AllPassed || out.Failed.ResultType != ResultTypeRestricted {
		t.Fatalf("expected restricted failure, got %+v", out.Failed)
	}
}

func TestChainBounds(t *testing.T) {
	chain := NewChain()

	snap := populatedSnapshot()
	snap.FollowerCount = 500
	out := chain.Run(context.Background(), Input{
		RunID:           "run-1",
		Snapshot:        snap,
		MinAudienceSize: 1000,
		MaxAudienceSize: 100000,
	})
	if out.AllPassed || out.Failed.ResultType != ResultTypeOutOfBounds {
		t.Fatalf("expected out-of-bounds below min, got %+v", out.Failed)
	}

	snap.FollowerCount = 500000
	out = chain.Run(context.Background(), Input{
		RunID:           "run-1",
		Snapshot:        snap,
		MinAudienceSize: 1000,
		MaxAudienceSize: 100000,
	})
	if out.AllPassed || out.Failed.ResultType != ResultTypeOutOfBounds {
		t.Fatalf("expected out-of-bounds above max, got %+v", out.Failed)
	}
}

func TestChainZeroBoundsUnbounded(t *testing.T) {
	chain := NewChain()
	snap := populatedSnapshot()
	snap.FollowerCount = 3
	out := chain.Run(context.Background(), Input{RunID: "run-1", Snapshot: snap})
	if !out.AllPassed {
		t.Fatalf("zero bounds must not constrain, failed=%+v", out.Failed)
	}
}

type panickyCheck struct{}

func (panickyCheck) Name() string  { return "panicky" }
func (panickyCheck) Priority() int { return 5 }
func (panickyCheck) Run(ctx context.Context, in Input) Result {
	panic("validator bug")
}

func TestChainPanickyCheckFailsOpen(t *testing.T) {
	chain := NewChain()
	chain.Register(panickyCheck{})
	out := chain.Run(context.Background(), Input{
		RunID:           "run-1",
		Snapshot:        populatedSnapshot(),
		MinAudienceSize: 1000,
		MaxAudienceSize: 100000,
	})
	if !out.AllPassed {
		t.Fatalf("a panicking check must not block the run, failed=%+v", out.Failed)
	}
	first := out.Results[0]
	if first.CheckName != "panicky" {
		t.Fatalf("priority 5 should run first, got %q", first.CheckName)
	}
	if !first.Passed {
		t.Fatal("panicking check must be treated as passing")
	}
	if first.Reason == "" {
		t.Fatal("panic detail should be recorded as the reason")
	}
	if first.ShouldRefund {
		t.Fatal("fail-open result must not flag a refund")
	}
}

func TestChainContinueOnFailure(t *testing.T) {
	chain := NewChain()
	chain.ContinueOnFailure = true
	snap := populatedSnapshot()
	snap.IsPrivate = true
	snap.FollowerCount = 1
	out := chain.Run(context.Background(), Input{
		RunID:           "run-1",
		Snapshot:        snap,
		MinAudienceSize: 1000,
		MaxAudienceSize: 100000,
	})
	if out.AllPassed {
		t.Fatal("expected failures")
	}
	if len(out.Results) != 3 {
		t.Fatalf("continue-on-failure should evaluate every check, got %d", len(out.Results))
	}
	if out.Failed.ResultType != ResultTypeRestricted {
		t.Fatalf("first failure should be reported, got %q", out.Failed.ResultType)
	}
}
