package leads

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo stores leads in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu    sync.RWMutex
	byKey map[string]Lead
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byKey: make(map[string]Lead)}
}

func leadKey(accountID, businessContextID, subjectIdentifier string) string {
	return accountID + "|" + businessContextID + "|" + subjectIdentifier
}

// Upsert creates or updates the lead for its key.
func (r *MemoryRepo) Upsert(ctx context.Context, lead Lead) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := leadKey(lead.AccountID, lead.BusinessContextID, lead.SubjectIdentifier)
	now := time.Now().UTC()
	existing, ok := r.byKey[key]
	if ok {
		existing.Attributes = lead.Attributes
		existing.Score = lead.Score
		existing.Summary = lead.Summary
		existing.UpdatedAt = now
		r.byKey[key] = existing
		return existing.ID, nil
	}
	if lead.ID == "" {
		lead.ID = uuid.NewString()
	}
	lead.CreatedAt = now
	lead.UpdatedAt = now
	r.byKey[key] = lead
	return lead.ID, nil
}

// Get returns the lead for a key, primarily for tests.
func (r *MemoryRepo) Get(accountID, businessContextID, subjectIdentifier string) (Lead, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lead, ok := r.byKey[leadKey(accountID, businessContextID, subjectIdentifier)]
	return lead, ok
}

var _ Repo = (*MemoryRepo)(nil)
