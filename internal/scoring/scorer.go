package scoring

import (
	"context"
	"errors"

	"leadscore-backend/internal/bizctx"
	"leadscore-backend/internal/subject"
)

// ErrNotImplemented is returned by the placeholder scorer.
var ErrNotImplemented = errors.New("scorer not implemented")

// ErrSchemaMismatch indicates the provider returned output that does not
// fit the expected result shape.
var ErrSchemaMismatch = errors.New("scorer: response schema mismatch")

// Input captures everything the provider needs to score a subject against
// a business context.
type Input struct {
	Context       bizctx.Context
	Snapshot      subject.Snapshot
	AnalysisDepth string
}

// Result is a normalized scoring outcome. Tokens and Cost are provider
// telemetry for logs and internal accounting, never serialized to callers.
type Result struct {
	Score      float64        `json:"score"`
	Summary    string         `json:"summary"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Tokens     int            `json:"-"`
	Cost       float64        `json:"-"`
}

// Scorer abstracts scoring providers.
type Scorer interface {
	Score(ctx context.Context, input Input) (Result, error)
}

// PlaceholderScorer is a stub implementation until provider wiring is added.
type PlaceholderScorer struct{}

// Score returns ErrNotImplemented.
func (PlaceholderScorer) Score(ctx context.Context, input Input) (Result, error) {
	_ = ctx
	_ = input
	return Result{}, ErrNotImplemented
}
