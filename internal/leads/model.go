package leads

import "time"

// Lead is a scored subject attached to a business context. One lead exists
// per (account, business context, subject); re-analysis updates it in place.
type Lead struct {
	ID                string         `json:"id"`
	AccountID         string         `json:"accountId"`
	BusinessContextID string         `json:"businessContextId"`
	SubjectIdentifier string         `json:"subjectIdentifier"`
	Attributes        map[string]any `json:"attributes,omitempty"`
	Score             *float64       `json:"score,omitempty"`
	Summary           string         `json:"summary,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}
