package checks

import (
	"context"
	"errors"
	"fmt"

	"leadscore-backend/internal/subject"
)

// Result types surfaced to the caller when a run short-circuits.
const (
	ResultTypeNotFound    = "subject_not_found"
	ResultTypeRestricted  = "subject_restricted"
	ResultTypeOutOfBounds = "out_of_target_bounds"
)

func zeroScore() *float64 {
	score := 0.0
	return &score
}

// NotFoundCheck fails when the upstream fetch reported the subject missing or
// returned an empty snapshot.
type NotFoundCheck struct{}

func (NotFoundCheck) Name() string  { return "subject-not-found" }
func (NotFoundCheck) Priority() int { return 10 }

func (c NotFoundCheck) Run(ctx context.Context, in Input) Result {
	_ = ctx
	notFound := errors.Is(in.FetchErr, subject.ErrNotFound)
	if !notFound && in.FetchErr == nil && in.Snapshot.Empty() {
		notFound = true
	}
	if !notFound {
		return Result{CheckName: c.Name(), Passed: true}
	}
	return Result{
		CheckName:     c.Name(),
		Passed:        false,
		Reason:        "upstream reported no such subject",
		ResultType:    ResultTypeNotFound,
		Summary:       "The requested profile could not be found. It may have been deleted or renamed.",
		ScoreOverride: zeroScore(),
		ShouldRefund:  true,
	}
}

// RestrictedCheck fails when the subject's content is private or
// access-restricted.
type RestrictedCheck struct{}

func (RestrictedCheck) Name() string  { return "subject-restricted" }
func (RestrictedCheck) Priority() int { return 20 }

func (c RestrictedCheck) Run(ctx context.Context, in Input) Result {
	_ = ctx
	restricted := errors.Is(in.FetchErr, subject.ErrRestricted) || in.Snapshot.IsPrivate
	if !restricted {
		return Result{CheckName: c.Name(), Passed: true}
	}
	return Result{
		CheckName:     c.Name(),
		Passed:        false,
		Reason:        "subject content is private or restricted",
		ResultType:    ResultTypeRestricted,
		Summary:       "This profile is private, so its content cannot be analyzed.",
		ScoreOverride: zeroScore(),
		ShouldRefund:  true,
	}
}

// BoundsCheck fails when the subject's audience size falls outside the
// business context's targeting bounds. A zero bound is unbounded.
type BoundsCheck struct{}

func (BoundsCheck) Name() string  { return "out-of-target-bounds" }
func (BoundsCheck) Priority() int { return 30 }

func (c BoundsCheck) Run(ctx context.Context, in Input) Result {
	_ = ctx
	size := in.Snapshot.FollowerCount
	if in.MinAudienceSize > 0 && size < in.MinAudienceSize {
		return c.fail(fmt.Sprintf("audience size %d below targeting minimum %d", size, in.MinAudienceSize))
	}
	if in.MaxAudienceSize > 0 && size > in.MaxAudienceSize {
		return c.fail(fmt.Sprintf("audience size %d above targeting maximum %d", size, in.MaxAudienceSize))
	}
	return Result{CheckName: c.Name(), Passed: true}
}

func (c BoundsCheck) fail(reason string) Result {
	return Result{
		CheckName:     c.Name(),
		Passed:        false,
		Reason:        reason,
		ResultType:    ResultTypeOutOfBounds,
		Summary:       "This profile's audience size falls outside your targeting criteria.",
		ScoreOverride: zeroScore(),
		ShouldRefund:  true,
	}
}
