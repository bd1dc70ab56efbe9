package subject

import (
	"strings"
	"time"
)

// SchemaVersion is bumped whenever Snapshot's shape changes incompatibly;
// cached snapshots written under an older version are never served.
const SchemaVersion = 2

// Snapshot is the fetched view of a subject profile at a point in time.
type Snapshot struct {
	Identifier    string    `json:"identifier"`
	DisplayName   string    `json:"displayName"`
	Bio           string    `json:"bio"`
	FollowerCount int64     `json:"followerCount"`
	PostCount     int64     `json:"postCount"`
	IsPrivate     bool      `json:"isPrivate"`
	IsVerified    bool      `json:"isVerified"`
	RecentPosts   []string  `json:"recentPosts,omitempty"`
	FetchedAt     time.Time `json:"fetchedAt"`
}

// Empty reports whether the snapshot carries no usable profile data.
func (s Snapshot) Empty() bool {
	return s.Identifier == "" && s.DisplayName == "" && s.Bio == "" &&
		s.FollowerCount == 0 && s.PostCount == 0 && len(s.RecentPosts) == 0
}

// NormalizeIdentifier canonicalizes a subject identifier: trimmed, lowercased,
// without a leading @.
func NormalizeIdentifier(identifier string) string {
	id := strings.TrimSpace(identifier)
	id = strings.TrimPrefix(id, "@")
	return strings.ToLower(id)
}
