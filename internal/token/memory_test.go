package token

import (
	"context"
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

var ctx = context.Background()

func TestMemoryDebtToken_IssueRetire(t *testing.T) {
	tok := NewMemoryDebtToken()
	if err := tok.Issue(ctx, "alice", uint256.NewInt(100)); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := tok.Retire(ctx, "alice", uint256.NewInt(40)); err != nil {
		t.Fatalf("retire: %v", err)
	}

	if got := tok.BalanceOf("alice"); !got.Eq(uint256.NewInt(60)) {
		t.Errorf("balance: expected 60, got %s", got.Dec())
	}
	if got := tok.TotalSupply(); !got.Eq(uint256.NewInt(60)) {
		t.Errorf("supply: expected 60, got %s", got.Dec())
	}

	if err := tok.Retire(ctx, "alice", uint256.NewInt(61)); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
	if got := tok.TotalSupply(); !got.Eq(uint256.NewInt(60)) {
		t.Errorf("failed retire changed supply to %s", got.Dec())
	}
}

func TestMemoryDebtToken_RestoreIssued(t *testing.T) {
	tok := NewMemoryDebtToken()
	if err := tok.Issue(ctx, "alice", uint256.NewInt(10)); err != nil {
		t.Fatal(err)
	}

	if err := tok.RestoreIssued("alice", uint256.NewInt(4)); err != nil {
		t.Fatalf("restore alice: %v", err)
	}
	if err := tok.RestoreIssued("bob", uint256.NewInt(6)); err != nil {
		t.Fatalf("restore bob: %v", err)
	}
	if got := tok.BalanceOf("alice"); !got.Eq(uint256.NewInt(4)) {
		t.Errorf("alice: expected 4, got %s", got.Dec())
	}
	if got := tok.TotalSupply(); !got.Eq(uint256.NewInt(10)) {
		t.Errorf("supply: expected 10, got %s", got.Dec())
	}
}

func TestMemoryDebtToken_HookRejects(t *testing.T) {
	tok := NewMemoryDebtToken()
	refused := errors.New("paused")
	tok.SetHook(func(_ context.Context, op, _ string, _ *uint256.Int) error {
		if op == "issue" {
			return refused
		}
		return nil
	})
	if err := tok.Issue(ctx, "alice", uint256.NewInt(1)); !errors.Is(err, refused) {
		t.Errorf("expected hook error, got %v", err)
	}
	if !tok.TotalSupply().IsZero() {
		t.Error("rejected issue must not change supply")
	}
}

func TestMemoryVault_PullPush(t *testing.T) {
	v := NewMemoryVault()
	if err := v.Fund("WETH", "alice", uint256.NewInt(10)); err != nil {
		t.Fatal(err)
	}

	if err := v.Pull(ctx, "WETH", "alice", uint256.NewInt(8)); err != nil {
		t.Fatalf("pull: %v", err)
	}
	if got := v.BalanceOf("WETH", "alice"); !got.Eq(uint256.NewInt(2)) {
		t.Errorf("wallet: expected 2, got %s", got.Dec())
	}
	if got := v.Custodied("WETH"); !got.Eq(uint256.NewInt(8)) {
		t.Errorf("custody: expected 8, got %s", got.Dec())
	}

	if err := v.Push(ctx, "WETH", "bob", uint256.NewInt(5)); err != nil {
		t.Fatalf("push: %v", err)
	}
	if got := v.BalanceOf("WETH", "bob"); !got.Eq(uint256.NewInt(5)) {
		t.Errorf("bob: expected 5, got %s", got.Dec())
	}
	if got := v.Custodied("WETH"); !got.Eq(uint256.NewInt(3)) {
		t.Errorf("custody: expected 3, got %s", got.Dec())
	}

	if err := v.Pull(ctx, "WETH", "alice", uint256.NewInt(3)); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("overdrawn pull: got %v", err)
	}
	if err := v.Push(ctx, "WETH", "bob", uint256.NewInt(4)); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("overdrawn push: got %v", err)
	}
	if !v.BalanceOf("WBTC", "alice").IsZero() {
		t.Error("unfunded asset must read zero")
	}
}

func TestMemoryVault_RestoreCustody(t *testing.T) {
	v := NewMemoryVault()
	if err := v.RestoreCustody("WETH", uint256.NewInt(9)); err != nil {
		t.Fatal(err)
	}
	if err := v.Push(ctx, "WETH", "alice", uint256.NewInt(9)); err != nil {
		t.Fatalf("restored custody must be releasable: %v", err)
	}
	if !v.Custodied("WETH").IsZero() {
		t.Errorf("custody: expected 0, got %s", v.Custodied("WETH").Dec())
	}
}
