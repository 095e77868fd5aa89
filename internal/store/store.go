// Package store defines the persistence interface for the activity journal.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/atmx/dsc-engine/internal/model"
)

// ErrEmptyEntry is returned when an entry lacks a user or asset.
var ErrEmptyEntry = errors.New("store: entry missing user or asset")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Immutable journal ---

	// InsertLedgerEntries appends the movements of one operation atomically.
	InsertLedgerEntries(ctx context.Context, entries []model.LedgerEntry) error

	// ListLedgerEntries returns every entry in commit order.
	ListLedgerEntries(ctx context.Context) ([]model.LedgerEntry, error)

	// GetLedgerEntriesByUser returns a user's entries in commit order.
	GetLedgerEntriesByUser(ctx context.Context, userID string) ([]model.LedgerEntry, error)

	// GetLedgerEntriesByOperation returns the entries of one operation.
	GetLedgerEntriesByOperation(ctx context.Context, operationID string) ([]model.LedgerEntry, error)

	// --- Position queries ---

	// GetUserPosition aggregates a user's balances from the journal.
	GetUserPosition(ctx context.Context, userID string) (*model.Position, error)
}

func validate(entries []model.LedgerEntry) error {
	for _, e := range entries {
		if e.UserID == "" || e.AssetID == "" {
			return ErrEmptyEntry
		}
	}
	return nil
}
