package bizctx

import (
	"errors"
	"time"
)

// ErrNotFound indicates the business context does not exist.
var ErrNotFound = errors.New("business context not found")

// Context describes a business's targeting criteria for lead scoring.
type Context struct {
	ID              string    `json:"id"`
	AccountID       string    `json:"accountId"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	TargetAudience  string    `json:"targetAudience"`
	MinAudienceSize int64     `json:"minAudienceSize"`
	MaxAudienceSize int64     `json:"maxAudienceSize"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}
