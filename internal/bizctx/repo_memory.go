package bizctx

import (
	"context"
	"sync"
)

// MemoryRepo stores business contexts in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu   sync.RWMutex
	byID map[string]Context
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: make(map[string]Context)}
}

// Put stores or replaces a context.
func (r *MemoryRepo) Put(ctx context.Context, bc Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[bc.ID] = bc
	return nil
}

// FindByID returns a context by its ID.
func (r *MemoryRepo) FindByID(ctx context.Context, id string) (Context, error) {
	if err := ctx.Err(); err != nil {
		return Context{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	bc, ok := r.byID[id]
	if !ok {
		return Context{}, ErrNotFound
	}
	return bc, nil
}

var _ Repo = (*MemoryRepo)(nil)
