package credits

import (
	"context"
	"sync"
	"time"
)

type entryKey struct {
	accountID string
	runID     string
	entryType string
}

type memoryStore struct {
	mu       sync.RWMutex
	balances map[string]Balance
	entries  map[entryKey]Entry
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		balances: make(map[string]Balance),
		entries:  make(map[entryKey]Entry),
	}
}

func (s *memoryStore) Balance(ctx context.Context, accountID string) (Balance, error) {
	if err := ctx.Err(); err != nil {
		return Balance{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if b, ok := s.balances[accountID]; ok {
		return b, nil
	}
	return Balance{AccountID: accountID}, nil
}

func (s *memoryStore) Apply(ctx context.Context, entry Entry, delta int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.RunID != "" {
		key := entryKey{entry.AccountID, entry.RunID, entry.EntryType}
		if _, exists := s.entries[key]; exists {
			return false, nil
		}
	}

	b, ok := s.balances[entry.AccountID]
	if !ok {
		b = Balance{AccountID: entry.AccountID}
	}
	if delta < 0 && b.Balance+delta < 0 {
		return false, ErrInsufficientCredits
	}
	b.Balance += delta
	b.UpdatedAt = time.Now().UTC()
	s.balances[entry.AccountID] = b

	if entry.RunID != "" {
		s.entries[entryKey{entry.AccountID, entry.RunID, entry.EntryType}] = entry
	}
	return true, nil
}
