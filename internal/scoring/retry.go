package scoring

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"leadscore-backend/internal/shared/telemetry"
)

const retryBaseDelay = 300 * time.Millisecond

type retryingScorer struct {
	base      Scorer
	runID     string
	requestID string
}

// NewRetryingScorer wraps a scorer with a single retry for transient
// provider failures. Schema mismatches are never retried here; the
// caller decides whether a repair pass is worth it.
func NewRetryingScorer(base Scorer, runID, requestID string) Scorer {
	if base == nil {
		return nil
	}
	return retryingScorer{base: base, runID: runID, requestID: requestID}
}

func (r retryingScorer) Score(ctx context.Context, input Input) (Result, error) {
	res, err := r.base.Score(ctx, input)
	if err == nil || !shouldRetryScore(err) {
		return res, err
	}

	telemetry.Warn("score.retry", map[string]any{
		"attempt":    1,
		"request_id": r.requestID,
		"run_id":     r.runID,
		"error":      err.Error(),
	})
	select {
	case <-time.After(retryBaseDelay):
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	return r.base.Score(ctx, input)
}

func shouldRetryScore(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSchemaMismatch) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "status code: 5") || strings.Contains(msg, "server_error") {
		return true
	}
	if strings.Contains(msg, "rate limit") || strings.Contains(msg, "status code: 429") {
		return true
	}
	if strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "tls handshake timeout") ||
		strings.Contains(msg, "eof") {
		return true
	}

	return false
}
