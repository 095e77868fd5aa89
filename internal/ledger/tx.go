package ledger

import (
	"github.com/holiman/uint256"
)

// Tx groups ledger mutations into one atomic unit. Changes are visible to
// readers as soon as they are applied; Rollback reverts them in reverse order.
// A Tx is not safe for concurrent use.
type Tx struct {
	l      *Ledger
	undo   []func()
	moves  []Movement
	closed bool
}

// Begin opens a transaction.
func (l *Ledger) Begin() *Tx {
	return &Tx{l: l}
}

// IncreaseCollateral credits asset to user. It never checks solvency.
func (tx *Tx) IncreaseCollateral(user, asset string, amount *uint256.Int) error {
	return tx.apply(Movement{User: user, Asset: asset, Amount: amount, Credit: true})
}

// DecreaseCollateral debits asset from user, failing with
// ErrInsufficientCollateral instead of going negative.
func (tx *Tx) DecreaseCollateral(user, asset string, amount *uint256.Int) error {
	return tx.apply(Movement{User: user, Asset: asset, Amount: amount})
}

// IncreaseDebt raises the user's debt.
func (tx *Tx) IncreaseDebt(user string, amount *uint256.Int) error {
	return tx.apply(Movement{User: user, Amount: amount, Credit: true})
}

// DecreaseDebt lowers the user's debt, failing with ErrInsufficientDebt
// instead of going negative.
func (tx *Tx) DecreaseDebt(user string, amount *uint256.Int) error {
	return tx.apply(Movement{User: user, Amount: amount})
}

// MoveCollateral re-credits asset from one position to another inside the
// ledger. The amount must not exceed the source balance.
func (tx *Tx) MoveCollateral(from, to, asset string, amount *uint256.Int) error {
	if tx.closed {
		return ErrTxClosed
	}
	out := Movement{User: from, Asset: asset, Amount: clone(amount)}
	in := Movement{User: to, Asset: asset, Amount: clone(amount), Credit: true}

	l := tx.l
	l.mu.Lock()
	defer l.mu.Unlock()

	undoOut, err := l.applyLocked(out)
	if err != nil {
		return err
	}
	undoIn, err := l.applyLocked(in)
	if err != nil {
		undoOut()
		return err
	}
	tx.undo = append(tx.undo, undoOut, undoIn)
	tx.moves = append(tx.moves, out, in)
	return nil
}

// Movements returns the changes applied so far.
func (tx *Tx) Movements() []Movement {
	out := make([]Movement, len(tx.moves))
	copy(out, tx.moves)
	return out
}

// Commit keeps every applied change and returns them in order.
func (tx *Tx) Commit() []Movement {
	moves := tx.Movements()
	tx.closed = true
	tx.undo = nil
	return moves
}

// Rollback reverts every applied change. It is a no-op on a closed Tx.
func (tx *Tx) Rollback() {
	if tx.closed {
		return
	}
	tx.closed = true

	l := tx.l
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
	tx.moves = nil
}

func (tx *Tx) apply(m Movement) error {
	if tx.closed {
		return ErrTxClosed
	}
	m.Amount = clone(m.Amount)

	l := tx.l
	l.mu.Lock()
	defer l.mu.Unlock()

	undo, err := l.applyLocked(m)
	if err != nil {
		return err
	}
	tx.undo = append(tx.undo, undo)
	tx.moves = append(tx.moves, m)
	return nil
}

// applyLocked applies m and returns a closure restoring the previous state.
// Stored balances are never mutated in place, so the closure can simply put
// the old pointers back. Callers hold l.mu.
func (l *Ledger) applyLocked(m Movement) (func(), error) {
	if m.IsDebt() {
		prev := l.debt[m.User]
		prevTotal := l.totalDebt
		next, err := step(prev, m.Amount, m.Credit, ErrInsufficientDebt)
		if err != nil {
			return nil, err
		}
		nextTotal, err := step(&prevTotal, m.Amount, m.Credit, ErrInsufficientDebt)
		if err != nil {
			return nil, err
		}
		l.debt[m.User] = next
		l.totalDebt.Set(nextTotal)
		return func() {
			restore(l.debt, m.User, prev)
			l.totalDebt = prevTotal
		}, nil
	}

	byAsset, existed := l.collateral[m.User]
	if !existed {
		byAsset = make(map[string]*uint256.Int)
	}
	prev := byAsset[m.Asset]
	prevTotal := l.totalCollateral[m.Asset]
	next, err := step(prev, m.Amount, m.Credit, ErrInsufficientCollateral)
	if err != nil {
		return nil, err
	}
	nextTotal, err := step(prevTotal, m.Amount, m.Credit, ErrInsufficientCollateral)
	if err != nil {
		return nil, err
	}
	byAsset[m.Asset] = next
	l.collateral[m.User] = byAsset
	l.totalCollateral[m.Asset] = nextTotal
	return func() {
		restore(byAsset, m.Asset, prev)
		if !existed {
			delete(l.collateral, m.User)
		}
		restore(l.totalCollateral, m.Asset, prevTotal)
	}, nil
}

// step returns balance ± amount as a new value.
func step(balance, amount *uint256.Int, credit bool, insufficient error) (*uint256.Int, error) {
	cur := cloneOrZero(balance)
	if credit {
		next, overflow := new(uint256.Int).AddOverflow(cur, amount)
		if overflow {
			return nil, ErrOverflow
		}
		return next, nil
	}
	next, underflow := new(uint256.Int).SubOverflow(cur, amount)
	if underflow {
		return nil, insufficient
	}
	return next, nil
}

func restore(m map[string]*uint256.Int, key string, prev *uint256.Int) {
	if prev == nil {
		delete(m, key)
		return
	}
	m[key] = prev
}

func clone(v *uint256.Int) *uint256.Int {
	return cloneOrZero(v)
}
