package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/atmx/dsc-engine/internal/ledger"
	"github.com/atmx/dsc-engine/internal/model"
)

// Event types published after a committed operation.
const (
	EventCollateralDeposited = "collateral_deposited"
	EventCollateralRedeemed  = "collateral_redeemed"
	EventDscMinted           = "dsc_minted"
	EventDscBurned           = "dsc_burned"
	EventPositionLiquidated  = "position_liquidated"
)

// Event is an observer notification. Amounts are base units.
type Event struct {
	Type        string       `json:"type"`
	OperationID string       `json:"operation_id"`
	User        string       `json:"user,omitempty"`
	From        string       `json:"from,omitempty"`
	To          string       `json:"to,omitempty"`
	Target      string       `json:"target,omitempty"`
	Asset       string       `json:"asset,omitempty"`
	Amount      *uint256.Int `json:"amount"`
	DebtCovered *uint256.Int `json:"debt_covered,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}

// Notifier receives events of committed operations. Implementations must not
// block and must not call back into the engine.
type Notifier interface {
	Publish(Event)
}

// Journal persists committed ledger movements. A failed write aborts the
// operation.
type Journal interface {
	InsertLedgerEntries(ctx context.Context, entries []model.LedgerEntry) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Event)

// Publish calls f(ev).
func (f NotifierFunc) Publish(ev Event) { f(ev) }

func entriesFromMoves(opID, opName string, moves []ledger.Movement, at time.Time) []model.LedgerEntry {
	entries := make([]model.LedgerEntry, 0, len(moves))
	for _, m := range moves {
		asset := m.Asset
		if m.IsDebt() {
			asset = model.DebtAsset
		}
		delta := decimal.NewFromBigInt(m.Amount.ToBig(), 0)
		if !m.Credit {
			delta = delta.Neg()
		}
		entries = append(entries, model.LedgerEntry{
			ID:          uuid.NewString(),
			OperationID: opID,
			Operation:   opName,
			UserID:      m.User,
			AssetID:     asset,
			Delta:       delta,
			Timestamp:   at,
		})
	}
	return entries
}

func moveFromEntry(e model.LedgerEntry) (ledger.Movement, error) {
	if !e.Delta.IsInteger() {
		return ledger.Movement{}, fmt.Errorf("entry %s: fractional delta %s", e.ID, e.Delta)
	}
	amount, overflow := uint256.FromBig(e.Delta.Abs().BigInt())
	if overflow {
		return ledger.Movement{}, fmt.Errorf("entry %s: %w", e.ID, ErrAmountTooLarge)
	}
	m := ledger.Movement{
		User:   e.UserID,
		Asset:  e.AssetID,
		Amount: amount,
		Credit: e.Delta.Sign() > 0,
	}
	if e.IsDebt() {
		m.Asset = ""
	}
	return m, nil
}
