// Package model defines the persisted and wire types shared across the DSC
// engine. Amounts are base-unit integers carried as shopspring/decimal so
// they map onto PostgreSQL NUMERIC without loss; never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DebtAsset is the asset ID under which debt movements are journaled.
// Registries must not use it for collateral.
const DebtAsset = "DSC"

// Operation names recorded in the journal.
const (
	OpDeposit        = "deposit_collateral"
	OpMint           = "mint_dsc"
	OpDepositAndMint = "deposit_collateral_and_mint_dsc"
	OpRedeem         = "redeem_collateral"
	OpBurn           = "burn_dsc"
	OpRedeemForDsc   = "redeem_collateral_for_dsc"
	OpLiquidate      = "liquidate"
)

// LedgerEntry is an immutable record of one committed balance change.
// Entries sharing an OperationID were committed atomically.
type LedgerEntry struct {
	ID          string          `json:"id" db:"id"`
	OperationID string          `json:"operation_id" db:"operation_id"`
	Operation   string          `json:"operation" db:"operation"`
	UserID      string          `json:"user_id" db:"user_id"`
	AssetID     string          `json:"asset_id" db:"asset_id"` // DebtAsset for debt
	Delta       decimal.Decimal `json:"delta" db:"delta"`       // signed base units
	Timestamp   time.Time       `json:"timestamp" db:"timestamp"`
}

// IsDebt reports whether the entry changes a debt balance.
func (e LedgerEntry) IsDebt() bool { return e.AssetID == DebtAsset }

// Position is a user's balances aggregated from the journal.
type Position struct {
	UserID     string                     `json:"user_id"`
	Collateral map[string]decimal.Decimal `json:"collateral"` // assetID -> base units
	Debt       decimal.Decimal            `json:"debt"`
	Entries    int                        `json:"entries"`
	UpdatedAt  time.Time                  `json:"updated_at"`
}

// Apply folds one entry into the position.
func (p *Position) Apply(e LedgerEntry) {
	if p.Collateral == nil {
		p.Collateral = make(map[string]decimal.Decimal)
	}
	if e.IsDebt() {
		p.Debt = p.Debt.Add(e.Delta)
	} else {
		p.Collateral[e.AssetID] = p.Collateral[e.AssetID].Add(e.Delta)
	}
	p.Entries++
	if e.Timestamp.After(p.UpdatedAt) {
		p.UpdatedAt = e.Timestamp
	}
}

// Asset describes one registered collateral asset.
type Asset struct {
	ID   string `json:"id" yaml:"id"`
	Feed string `json:"feed" yaml:"feed"` // "chainlink:0x..." or "static:<usd>"
}
