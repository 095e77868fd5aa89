// Package token defines the external collaborators the engine moves value
// through: the debt token it issues and retires, and the custody that holds
// deposited collateral.
package token

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
)

// ErrInsufficientBalance is returned when a wallet cannot cover a transfer.
var ErrInsufficientBalance = errors.New("token: insufficient balance")

// DebtToken is the stable asset owned by the engine. Issue and Retire are only
// called by the engine after its own bookkeeping succeeded.
type DebtToken interface {
	Issue(ctx context.Context, to string, amount *uint256.Int) error
	Retire(ctx context.Context, from string, amount *uint256.Int) error
}

// Custody moves collateral between user wallets and the engine.
type Custody interface {
	Pull(ctx context.Context, asset, from string, amount *uint256.Int) error
	Push(ctx context.Context, asset, to string, amount *uint256.Int) error
}

// CustodyRestorer is implemented by custodies whose holdings live in process
// memory and must be rebuilt from the ledger after a restart.
type CustodyRestorer interface {
	RestoreCustody(asset string, amount *uint256.Int) error
}

// DebtRestorer is the DebtToken counterpart of CustodyRestorer: it sets a
// holder's balance to the debt they owe.
type DebtRestorer interface {
	RestoreIssued(holder string, amount *uint256.Int) error
}

// Hook runs before a transfer mutates balances. Returning an error rejects
// the transfer, which lets tests simulate a refusing token or observe calls
// made while an engine operation is in flight.
type Hook func(ctx context.Context, op, account string, amount *uint256.Int) error

// wallet is a mutex-guarded balance book shared by the in-memory token and
// vault.
type wallet struct {
	mu       sync.Mutex
	balances map[string]*uint256.Int
	hook     Hook
}

func newWallet() wallet {
	return wallet{balances: make(map[string]*uint256.Int)}
}

func (w *wallet) balanceOf(key string) *uint256.Int {
	w.mu.Lock()
	defer w.mu.Unlock()

	if b, ok := w.balances[key]; ok {
		return new(uint256.Int).Set(b)
	}
	return new(uint256.Int)
}

func (w *wallet) credit(key string, amount *uint256.Int) error {
	cur := w.balances[key]
	if cur == nil {
		cur = new(uint256.Int)
	}
	next, overflow := new(uint256.Int).AddOverflow(cur, amount)
	if overflow {
		return fmt.Errorf("token: balance overflow for %s", key)
	}
	w.balances[key] = next
	return nil
}

func (w *wallet) debit(key string, amount *uint256.Int) error {
	cur := w.balances[key]
	if cur == nil {
		cur = new(uint256.Int)
	}
	next, underflow := new(uint256.Int).SubOverflow(cur, amount)
	if underflow {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, key, cur.Dec(), amount.Dec())
	}
	w.balances[key] = next
	return nil
}

func (w *wallet) runHook(ctx context.Context, op, account string, amount *uint256.Int) error {
	w.mu.Lock()
	hook := w.hook
	w.mu.Unlock()
	if hook == nil {
		return nil
	}
	return hook(ctx, op, account, amount)
}

func (w *wallet) setHook(h Hook) {
	w.mu.Lock()
	w.hook = h
	w.mu.Unlock()
}
