package store

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/GigaChadds/gaave-core/internal/model"
)

// MemoryStore implements Store with an in-memory slice. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	entries []model.VaultEntry
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) InsertEntry(_ context.Context, entry *model.VaultEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, *entry)
	return nil
}

func (s *MemoryStore) GetEntriesByUser(_ context.Context, userID string) ([]model.VaultEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.VaultEntry
	for _, e := range s.entries {
		if e.UserID == userID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetEntriesByAsset(_ context.Context, asset string) ([]model.VaultEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.VaultEntry
	for _, e := range s.entries {
		if e.Asset == asset {
			result = append(result, e)
		}
	}
	return result, nil
}

// GetUserActivity aggregates entries into an activity summary.
func (s *MemoryStore) GetUserActivity(_ context.Context, userID string) (*model.ActivitySummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := &model.ActivitySummary{
		UserID:         userID,
		TotalDeposited: decimal.Zero,
		TotalWithdrawn: decimal.Zero,
	}

	for _, e := range s.entries {
		if e.UserID != userID {
			continue
		}
		switch e.Kind {
		case model.EntryDeposit:
			summary.DepositCount++
			summary.TotalDeposited = summary.TotalDeposited.Add(e.Value)
		case model.EntryWithdraw:
			summary.WithdrawCount++
			summary.TotalWithdrawn = summary.TotalWithdrawn.Add(e.Value)
		}
	}

	return summary, nil
}
