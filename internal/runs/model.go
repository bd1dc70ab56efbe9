package runs

import "time"

// Run statuses. A run is terminal once complete, failed, or cancelled.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusComplete   = "complete"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// Run represents one end-to-end scoring execution for a single subject.
type Run struct {
	ID                string         `json:"id"`
	AccountID         string         `json:"accountId"`
	BusinessContextID string         `json:"businessContextId"`
	SubjectIdentifier string         `json:"subjectIdentifier"`
	AnalysisDepth     string         `json:"analysisDepth"`
	Status            string         `json:"status"`
	CreditsCost       int            `json:"creditsCost"`
	Checkpoint        string         `json:"-"`
	CreditsDeducted   bool           `json:"-"`
	RefundIssued      bool           `json:"-"`
	Result            map[string]any `json:"result,omitempty"`
	ErrorCode         *string        `json:"errorCode,omitempty"`
	ErrorMessage      *string        `json:"errorMessage,omitempty"`
	StartedAt         *time.Time     `json:"startedAt,omitempty"`
	CompletedAt       *time.Time     `json:"completedAt,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// Terminal reports whether the run has reached a terminal status.
func (r Run) Terminal() bool {
	switch r.Status {
	case StatusComplete, StatusFailed, StatusCancelled:
		return true
	}
	return false
}
