package checks

import (
	"context"
	"fmt"
	"sort"
	"time"

	"leadscore-backend/internal/shared/metrics"
	"leadscore-backend/internal/shared/telemetry"
	"leadscore-backend/internal/subject"
)

// Input carries everything a pre-analysis check may inspect. FetchErr holds
// the upstream fetch error, if any, so checks can react to explicit not-found
// or restricted signals.
type Input struct {
	RunID           string
	AccountID       string
	Snapshot        subject.Snapshot
	FetchErr        error
	MinAudienceSize int64
	MaxAudienceSize int64
}

// Result is the outcome of a single check for one run.
type Result struct {
	CheckName     string   `json:"checkName"`
	Passed        bool     `json:"passed"`
	Reason        string   `json:"reason,omitempty"`
	ResultType    string   `json:"resultType,omitempty"`
	Summary       string   `json:"summary,omitempty"`
	ScoreOverride *float64 `json:"scoreOverride,omitempty"`
	ShouldRefund  bool     `json:"shouldRefund"`
}

// ChainResult is the outcome of running the whole chain.
type ChainResult struct {
	AllPassed bool
	Failed    *Result
	Results   []Result
	Duration  time.Duration
}

// Check validates one condition before the scoring step. Lower priorities run
// first and should represent cheaper, more certain signals.
type Check interface {
	Name() string
	Priority() int
	Run(ctx context.Context, in Input) Result
}

// Chain runs registered checks in priority order. The default mode is
// fail-fast; ContinueOnFailure evaluates every check regardless, for
// diagnostics.
type Chain struct {
	ContinueOnFailure bool
	Now               func() time.Time

	checks []Check
}

// NewChain constructs a chain with the built-in checks registered.
func NewChain() *Chain {
	c := &Chain{Now: time.Now}
	c.Register(NotFoundCheck{})
	c.Register(RestrictedCheck{})
	c.Register(BoundsCheck{})
	return c
}

// Register adds a check to the chain.
func (c *Chain) Register(check Check) {
	c.checks = append(c.checks, check)
	sort.SliceStable(c.checks, func(i, j int) bool {
		return c.checks[i].Priority() < c.checks[j].Priority()
	})
}

// Run evaluates the chain against the input.
func (c *Chain) Run(ctx context.Context, in Input) ChainResult {
	start := c.now()
	out := ChainResult{AllPassed: true}

	for _, check := range c.checks {
		result := runOne(ctx, check, in)
		out.Results = append(out.Results, result)
		if result.Passed {
			continue
		}
		metrics.IncCheckFailed()
		if out.Failed == nil {
			failed := result
			out.Failed = &failed
			out.AllPassed = false
		}
		if !c.ContinueOnFailure {
			break
		}
	}

	out.Duration = c.now().Sub(start)
	return out
}

// runOne executes a single check, treating a panic as a pass. A broken
// validator must never block an otherwise-legitimate run; the panic detail is
// recorded as the reason and no refund is flagged.
func runOne(ctx context.Context, check Check, in Input) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			telemetry.Error("checks.check_panic", map[string]any{
				"check_name": check.Name(),
				"run_id":     in.RunID,
				"error":      fmt.Sprint(r),
			})
			result = Result{
				CheckName:    check.Name(),
				Passed:       true,
				Reason:       fmt.Sprintf("check panicked: %v", r),
				ShouldRefund: false,
			}
		}
	}()
	return check.Run(ctx, in)
}

func (c *Chain) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}
