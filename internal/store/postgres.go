package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/dsc-engine/internal/model"
)

// Schema creates the journal table. Deltas are signed base units, so NUMERIC
// without scale holds any 256-bit amount exactly.
const Schema = `
CREATE TABLE IF NOT EXISTS ledger_entries (
	seq          BIGSERIAL PRIMARY KEY,
	id           UUID        NOT NULL UNIQUE,
	operation_id UUID        NOT NULL,
	operation    TEXT        NOT NULL,
	user_id      TEXT        NOT NULL,
	asset_id     TEXT        NOT NULL,
	delta        NUMERIC(80) NOT NULL,
	timestamp    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS ledger_entries_user_idx ON ledger_entries (user_id, seq);
CREATE INDEX IF NOT EXISTS ledger_entries_operation_idx ON ledger_entries (operation_id);
`

const selectEntries = `SELECT id::TEXT, operation_id::TEXT, operation, user_id, asset_id, delta::TEXT, timestamp
	 FROM ledger_entries`

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All amounts are stored as NUMERIC for exact precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies Schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// InsertLedgerEntries writes all entries in one transaction.
func (s *PostgresStore) InsertLedgerEntries(ctx context.Context, entries []model.LedgerEntry) error {
	if err := validate(entries); err != nil {
		return err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, e := range entries {
		if _, err := tx.Exec(ctx,
			`INSERT INTO ledger_entries (id, operation_id, operation, user_id, asset_id, delta, timestamp)
			 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7)`,
			e.ID, e.OperationID, e.Operation, e.UserID, e.AssetID,
			e.Delta.String(), e.Timestamp,
		); err != nil {
			return fmt.Errorf("insert entry %s: %w", e.ID, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ListLedgerEntries(ctx context.Context) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx, selectEntries+` ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLedgerEntries(rows)
}

func (s *PostgresStore) GetLedgerEntriesByUser(ctx context.Context, userID string) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx, selectEntries+` WHERE user_id = $1 ORDER BY seq`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLedgerEntries(rows)
}

func (s *PostgresStore) GetLedgerEntriesByOperation(ctx context.Context, operationID string) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx, selectEntries+` WHERE operation_id = $1 ORDER BY seq`, operationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLedgerEntries(rows)
}

func (s *PostgresStore) GetUserPosition(ctx context.Context, userID string) (*model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT asset_id,
		        COALESCE(SUM(delta), 0)::TEXT AS balance,
		        COUNT(*) AS entries,
		        MAX(timestamp) AS updated_at
		 FROM ledger_entries
		 WHERE user_id = $1
		 GROUP BY asset_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	p := &model.Position{
		UserID:     userID,
		Collateral: make(map[string]decimal.Decimal),
	}
	for rows.Next() {
		var asset, balS string
		var count int
		var updatedAt time.Time
		if err := rows.Scan(&asset, &balS, &count, &updatedAt); err != nil {
			return nil, err
		}
		bal, err := decimal.NewFromString(balS)
		if err != nil {
			return nil, fmt.Errorf("position %s/%s: %w", userID, asset, err)
		}
		if asset == model.DebtAsset {
			p.Debt = bal
		} else {
			p.Collateral[asset] = bal
		}
		p.Entries += count
		if updatedAt.After(p.UpdatedAt) {
			p.UpdatedAt = updatedAt
		}
	}
	return p, rows.Err()
}

func scanLedgerEntries(rows pgx.Rows) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var deltaS string

		if err := rows.Scan(&e.ID, &e.OperationID, &e.Operation, &e.UserID, &e.AssetID,
			&deltaS, &e.Timestamp); err != nil {
			return nil, err
		}

		delta, err := decimal.NewFromString(deltaS)
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", e.ID, err)
		}
		e.Delta = delta
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
