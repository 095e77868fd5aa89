package store

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/atmx/dsc-engine/internal/model"
)

// MemoryStore implements Store with an in-memory slice. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	journal []model.LedgerEntry
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) InsertLedgerEntries(_ context.Context, entries []model.LedgerEntry) error {
	if err := validate(entries); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.journal = append(s.journal, entries...)
	return nil
}

func (s *MemoryStore) ListLedgerEntries(_ context.Context) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.LedgerEntry, len(s.journal))
	copy(out, s.journal)
	return out, nil
}

func (s *MemoryStore) GetLedgerEntriesByUser(_ context.Context, userID string) ([]model.LedgerEntry, error) {
	return s.filter(func(e model.LedgerEntry) bool { return e.UserID == userID }), nil
}

func (s *MemoryStore) GetLedgerEntriesByOperation(_ context.Context, operationID string) ([]model.LedgerEntry, error) {
	return s.filter(func(e model.LedgerEntry) bool { return e.OperationID == operationID }), nil
}

// GetUserPosition folds the user's entries into balances.
func (s *MemoryStore) GetUserPosition(_ context.Context, userID string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := &model.Position{
		UserID:     userID,
		Collateral: make(map[string]decimal.Decimal),
	}
	for _, e := range s.journal {
		if e.UserID == userID {
			p.Apply(e)
		}
	}
	return p, nil
}

func (s *MemoryStore) filter(keep func(model.LedgerEntry) bool) []model.LedgerEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LedgerEntry
	for _, e := range s.journal {
		if keep(e) {
			result = append(result, e)
		}
	}
	return result
}
