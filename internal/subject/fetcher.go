package subject

import (
	"context"
	"errors"
)

var (
	// ErrNotFound indicates the upstream source has no such subject.
	ErrNotFound = errors.New("subject not found")
	// ErrRestricted indicates the subject's content is private or
	// access-restricted.
	ErrRestricted = errors.New("subject restricted")
	// ErrRateLimited indicates the upstream source is throttling us.
	ErrRateLimited = errors.New("subject fetch rate limited")
)

// Fetcher retrieves subject profile data from an upstream source. The depth
// controls how much data is pulled (post history, engagement detail).
// Implementations live outside this service.
type Fetcher interface {
	Fetch(ctx context.Context, identifier, depth string) (Snapshot, error)
}

// ErrFetcherNotConfigured is returned by the placeholder fetcher.
var ErrFetcherNotConfigured = errors.New("subject fetcher not configured")

// PlaceholderFetcher is a stub implementation until provider wiring is added.
type PlaceholderFetcher struct{}

// Fetch returns ErrFetcherNotConfigured.
func (PlaceholderFetcher) Fetch(ctx context.Context, identifier, depth string) (Snapshot, error) {
	_ = ctx
	_ = identifier
	_ = depth
	return Snapshot{}, ErrFetcherNotConfigured
}
