package store

import (
	"context"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/atmx/dsc-engine/internal/engine"
	"github.com/atmx/dsc-engine/internal/fixed"
	"github.com/atmx/dsc-engine/internal/model"
	"github.com/atmx/dsc-engine/internal/oracle"
	"github.com/atmx/dsc-engine/internal/token"
)

func d(s string) decimal.Decimal {
	v, _ := decimal.NewFromString(s)
	return v
}

func entry(op, user, asset, delta string, at time.Time) model.LedgerEntry {
	return model.LedgerEntry{
		ID:          op + "-" + user + "-" + asset,
		OperationID: op,
		Operation:   model.OpDeposit,
		UserID:      user,
		AssetID:     asset,
		Delta:       d(delta),
		Timestamp:   at,
	}
}

func TestMemoryStore_JournalQueries(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	t0 := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	if err := s.InsertLedgerEntries(ctx, []model.LedgerEntry{
		entry("op1", "alice", "WETH", "10", t0),
		entry("op1", "alice", model.DebtAsset, "4", t0),
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertLedgerEntries(ctx, []model.LedgerEntry{
		entry("op2", "alice", "WETH", "-3", t0.Add(time.Minute)),
		entry("op2", "bob", "WETH", "3", t0.Add(time.Minute)),
	}); err != nil {
		t.Fatal(err)
	}

	all, _ := s.ListLedgerEntries(ctx)
	if len(all) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(all))
	}
	if all[2].OperationID != "op2" {
		t.Errorf("entries must keep commit order, got %s at index 2", all[2].OperationID)
	}

	byUser, _ := s.GetLedgerEntriesByUser(ctx, "alice")
	if len(byUser) != 3 {
		t.Errorf("expected 3 alice entries, got %d", len(byUser))
	}
	byOp, _ := s.GetLedgerEntriesByOperation(ctx, "op2")
	if len(byOp) != 2 {
		t.Errorf("expected 2 op2 entries, got %d", len(byOp))
	}

	p, _ := s.GetUserPosition(ctx, "alice")
	if !p.Collateral["WETH"].Equal(d("7")) {
		t.Errorf("WETH: expected 7, got %s", p.Collateral["WETH"])
	}
	if !p.Debt.Equal(d("4")) {
		t.Errorf("debt: expected 4, got %s", p.Debt)
	}
	if p.Entries != 3 {
		t.Errorf("expected 3 entries, got %d", p.Entries)
	}
	if !p.UpdatedAt.Equal(t0.Add(time.Minute)) {
		t.Errorf("updated_at: got %s", p.UpdatedAt)
	}

	empty, _ := s.GetUserPosition(ctx, "nobody")
	if !empty.Debt.IsZero() || len(empty.Collateral) != 0 {
		t.Errorf("expected empty position, got %+v", empty)
	}
}

func TestMemoryStore_RejectsIncompleteEntries(t *testing.T) {
	s := NewMemoryStore()
	err := s.InsertLedgerEntries(context.Background(), []model.LedgerEntry{
		entry("op1", "alice", "WETH", "1", time.Now()),
		{OperationID: "op1", UserID: "", AssetID: "WETH", Delta: d("1")},
	})
	if err != ErrEmptyEntry {
		t.Fatalf("expected ErrEmptyEntry, got %v", err)
	}
	all, _ := s.ListLedgerEntries(context.Background())
	if len(all) != 0 {
		t.Errorf("a rejected batch must not be partially written, got %d entries", len(all))
	}
}

// The journal written by the engine aggregates to the engine's own ledger.
func TestMemoryStore_AsEngineJournal(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	vault := token.NewMemoryVault()
	if err := vault.Fund("WETH", "alice", fixed.Units(10)); err != nil {
		t.Fatal(err)
	}

	e, err := engine.New([]string{"WETH"}, []oracle.Source{oracle.NewStaticSource(2000_00000000)},
		token.NewMemoryDebtToken(), vault, engine.WithJournal(s))
	if err != nil {
		t.Fatal(err)
	}
	if err := e.DepositCollateralAndMintDsc(ctx, "alice", "WETH", fixed.Units(10), fixed.Units(500)); err != nil {
		t.Fatal(err)
	}
	if err := e.RedeemCollateral(ctx, "alice", "WETH", fixed.Units(2)); err != nil {
		t.Fatal(err)
	}

	p, _ := s.GetUserPosition(ctx, "alice")
	wantColl := fixed.ToDecimal(e.CollateralBalanceOfUser("alice", "WETH"), 0)
	if !p.Collateral["WETH"].Equal(wantColl) {
		t.Errorf("journal collateral %s != ledger %s", p.Collateral["WETH"], wantColl)
	}
	debt, _ := e.AccountInformation(ctx, "alice")
	if !p.Debt.Equal(fixed.ToDecimal(debt, 0)) {
		t.Errorf("journal debt %s != ledger %s", p.Debt, debt.Dec())
	}

	// Replaying the journal reproduces the ledger.
	entries, _ := s.ListLedgerEntries(ctx)
	freshVault := token.NewMemoryVault()
	replayed, _ := engine.New([]string{"WETH"}, []oracle.Source{oracle.NewStaticSource(2000_00000000)},
		token.NewMemoryDebtToken(), freshVault)
	if err := replayed.Restore(ctx, entries); err != nil {
		t.Fatal(err)
	}
	if !replayed.CollateralBalanceOfUser("alice", "WETH").Eq(uint256.MustFromDecimal("8000000000000000000")) {
		t.Errorf("replayed collateral: got %s", replayed.CollateralBalanceOfUser("alice", "WETH").Dec())
	}

	// The restarted engine can close the position out.
	if err := replayed.RedeemCollateralForDsc(ctx, "alice", "WETH", fixed.Units(8), fixed.Units(500)); err != nil {
		t.Fatalf("close after replay: %v", err)
	}
	if got := freshVault.BalanceOf("WETH", "alice"); !got.Eq(fixed.Units(8)) {
		t.Errorf("alice wallet after close: got %s", got.Dec())
	}
}
