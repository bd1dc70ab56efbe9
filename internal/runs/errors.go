package runs

import (
	"errors"
	"strings"
)

var (
	ErrNotFound           = errors.New("run not found")
	ErrDuplicateRun       = errors.New("an analysis for this subject is already in progress")
	ErrQueueNotConfigured = errors.New("run queue not configured")
)

// Error codes serialized into failed runs and progress events.
const (
	ErrorCodeValidation          = "VALIDATION_ERROR"
	ErrorCodeDuplicateRun        = "DUPLICATE_RUN"
	ErrorCodeInsufficientCredits = "INSUFFICIENT_CREDITS"
	ErrorCodeSubjectNotFound     = "SUBJECT_NOT_FOUND"
	ErrorCodeSubjectRestricted   = "SUBJECT_RESTRICTED"
	ErrorCodeOutOfBounds         = "OUT_OF_BOUNDS"
	ErrorCodeFetchTimeout        = "FETCH_TIMEOUT"
	ErrorCodeFetchRateLimited    = "FETCH_RATE_LIMITED"
	ErrorCodeScoreTimeout        = "SCORE_TIMEOUT"
	ErrorCodeScoreSchemaMismatch = "SCORE_SCHEMA_MISMATCH"
	ErrorCodeStorage             = "STORAGE_ERROR"
	ErrorCodeCancelled           = "RUN_CANCELLED"
	ErrorCodeInternal            = "INTERNAL_ERROR"
)

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
