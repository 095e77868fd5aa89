package token

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"
)

// MemoryDebtToken is an in-process debt token for development and tests.
type MemoryDebtToken struct {
	w      wallet
	supply uint256.Int
}

// NewMemoryDebtToken returns a token with zero supply.
func NewMemoryDebtToken() *MemoryDebtToken {
	return &MemoryDebtToken{w: newWallet()}
}

// SetHook installs a hook consulted before every mutation.
func (t *MemoryDebtToken) SetHook(h Hook) { t.w.setHook(h) }

// Issue mints amount to the given account.
func (t *MemoryDebtToken) Issue(ctx context.Context, to string, amount *uint256.Int) error {
	if err := t.w.runHook(ctx, "issue", to, amount); err != nil {
		return err
	}
	t.w.mu.Lock()
	defer t.w.mu.Unlock()

	if err := t.w.credit(to, amount); err != nil {
		return err
	}
	t.supply.Add(&t.supply, amount)
	return nil
}

// Retire burns amount held by the given account.
func (t *MemoryDebtToken) Retire(ctx context.Context, from string, amount *uint256.Int) error {
	if err := t.w.runHook(ctx, "retire", from, amount); err != nil {
		return err
	}
	t.w.mu.Lock()
	defer t.w.mu.Unlock()

	if err := t.w.debit(from, amount); err != nil {
		return err
	}
	t.supply.Sub(&t.supply, amount)
	return nil
}

// RestoreIssued sets holder's balance to amount and adjusts the supply.
func (t *MemoryDebtToken) RestoreIssued(holder string, amount *uint256.Int) error {
	t.w.mu.Lock()
	defer t.w.mu.Unlock()

	prev := t.w.balances[holder]
	if prev == nil {
		prev = new(uint256.Int)
	}
	next := new(uint256.Int).Sub(&t.supply, prev)
	if _, overflow := next.AddOverflow(next, amount); overflow {
		return fmt.Errorf("token: supply overflow restoring %s", holder)
	}
	t.w.balances[holder] = new(uint256.Int).Set(amount)
	t.supply = *next
	return nil
}

// BalanceOf returns the holder's balance.
func (t *MemoryDebtToken) BalanceOf(account string) *uint256.Int {
	return t.w.balanceOf(account)
}

// TotalSupply returns the outstanding supply.
func (t *MemoryDebtToken) TotalSupply() *uint256.Int {
	t.w.mu.Lock()
	defer t.w.mu.Unlock()
	return new(uint256.Int).Set(&t.supply)
}

// MemoryVault is an in-process custody. Wallet balances live under
// "asset/account" keys; custodied amounts under the asset alone.
type MemoryVault struct {
	w         wallet
	custodied map[string]*uint256.Int
}

// NewMemoryVault returns an empty vault.
func NewMemoryVault() *MemoryVault {
	return &MemoryVault{w: newWallet(), custodied: make(map[string]*uint256.Int)}
}

// SetHook installs a hook consulted before every transfer.
func (v *MemoryVault) SetHook(h Hook) { v.w.setHook(h) }

// Fund credits an external wallet, standing in for a faucet.
func (v *MemoryVault) Fund(asset, account string, amount *uint256.Int) error {
	v.w.mu.Lock()
	defer v.w.mu.Unlock()
	return v.w.credit(walletKey(asset, account), amount)
}

// Pull moves asset from the account's wallet into custody.
func (v *MemoryVault) Pull(ctx context.Context, asset, from string, amount *uint256.Int) error {
	if err := v.w.runHook(ctx, "pull", from, amount); err != nil {
		return err
	}
	v.w.mu.Lock()
	defer v.w.mu.Unlock()

	if err := v.w.debit(walletKey(asset, from), amount); err != nil {
		return err
	}
	cur := v.custodied[asset]
	if cur == nil {
		cur = new(uint256.Int)
	}
	v.custodied[asset] = new(uint256.Int).Add(cur, amount)
	return nil
}

// Push releases asset from custody to the account's wallet.
func (v *MemoryVault) Push(ctx context.Context, asset, to string, amount *uint256.Int) error {
	if err := v.w.runHook(ctx, "push", to, amount); err != nil {
		return err
	}
	v.w.mu.Lock()
	defer v.w.mu.Unlock()

	cur := v.custodied[asset]
	if cur == nil || cur.Lt(amount) {
		return ErrInsufficientBalance
	}
	if err := v.w.credit(walletKey(asset, to), amount); err != nil {
		return err
	}
	v.custodied[asset] = new(uint256.Int).Sub(cur, amount)
	return nil
}

// RestoreCustody sets the custodied amount of asset.
func (v *MemoryVault) RestoreCustody(asset string, amount *uint256.Int) error {
	v.w.mu.Lock()
	defer v.w.mu.Unlock()

	v.custodied[asset] = new(uint256.Int).Set(amount)
	return nil
}

// BalanceOf returns the account's external wallet balance of asset.
func (v *MemoryVault) BalanceOf(asset, account string) *uint256.Int {
	return v.w.balanceOf(walletKey(asset, account))
}

// Custodied returns how much of asset the vault holds.
func (v *MemoryVault) Custodied(asset string) *uint256.Int {
	v.w.mu.Lock()
	defer v.w.mu.Unlock()

	if c := v.custodied[asset]; c != nil {
		return new(uint256.Int).Set(c)
	}
	return new(uint256.Int)
}

func walletKey(asset, account string) string { return asset + "/" + account }
