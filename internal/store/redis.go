package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/dsc-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache of aggregated positions. Writes go to the primary store and
// invalidate the affected users; reads check Redis first then fall back to
// the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) InsertLedgerEntries(ctx context.Context, entries []model.LedgerEntry) error {
	if err := s.primary.InsertLedgerEntries(ctx, entries); err != nil {
		return err
	}
	if keys := affectedPositionKeys(entries); len(keys) > 0 {
		s.rdb.Del(ctx, keys...)
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetUserPosition(ctx context.Context, userID string) (*model.Position, error) {
	data, err := s.rdb.Get(ctx, positionKey(userID)).Bytes()
	if err == nil {
		var p model.Position
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	// Cache miss.
	p, err := s.primary.GetUserPosition(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, positionKey(userID), data, s.ttl)
	}
	return p, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListLedgerEntries(ctx context.Context) ([]model.LedgerEntry, error) {
	return s.primary.ListLedgerEntries(ctx)
}

func (s *CachedStore) GetLedgerEntriesByUser(ctx context.Context, userID string) ([]model.LedgerEntry, error) {
	return s.primary.GetLedgerEntriesByUser(ctx, userID)
}

func (s *CachedStore) GetLedgerEntriesByOperation(ctx context.Context, operationID string) ([]model.LedgerEntry, error) {
	return s.primary.GetLedgerEntriesByOperation(ctx, operationID)
}

// --- Cache helpers ---

func affectedPositionKeys(entries []model.LedgerEntry) []string {
	seen := make(map[string]bool, len(entries))
	var keys []string
	for _, e := range entries {
		if !seen[e.UserID] {
			seen[e.UserID] = true
			keys = append(keys, positionKey(e.UserID))
		}
	}
	return keys
}

func positionKey(uid string) string { return fmt.Sprintf("dsc:position:%s", uid) }
