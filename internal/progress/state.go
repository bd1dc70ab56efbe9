package progress

import (
	"errors"
	"time"
)

var (
	// ErrNotFound indicates no tracker exists for the requested run.
	ErrNotFound = errors.New("progress: run not tracked")
	// ErrCancelled indicates the run was cancelled and no longer accepts updates.
	ErrCancelled = errors.New("progress: run cancelled")
	// ErrAlreadyComplete indicates a terminal run cannot be cancelled.
	ErrAlreadyComplete = errors.New("progress: run already complete")
)

// Run lifecycle states as reported to subscribers.
const (
	StatePending    = "pending"
	StateProcessing = "processing"
	StateComplete   = "complete"
	StateFailed     = "failed"
	StateCancelled  = "cancelled"
)

// Event kinds emitted on subscriber streams.
const (
	EventReady     = "ready"
	EventProgress  = "progress"
	EventComplete  = "complete"
	EventFailed    = "failed"
	EventCancelled = "cancelled"
)

// State is the externally visible progress snapshot for a run.
type State struct {
	RunID             string     `json:"runId"`
	AccountID         string     `json:"accountId"`
	SubjectIdentifier string     `json:"subjectIdentifier"`
	AnalysisDepth     string     `json:"analysisDepth"`
	Status            string     `json:"status"`
	Progress          int        `json:"progress"`
	CurrentStep       string     `json:"currentStep"`
	TotalSteps        int        `json:"totalSteps"`
	StartedAt         time.Time  `json:"startedAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
	ErrorMessage      string     `json:"errorMessage,omitempty"`
	ResultDigest      string     `json:"resultDigest,omitempty"`
}

// Terminal reports whether the state can no longer change.
func (s State) Terminal() bool {
	switch s.Status {
	case StateComplete, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Event pairs a state snapshot with the kind of change that produced it.
type Event struct {
	Kind  string `json:"kind"`
	State State  `json:"state"`
}
