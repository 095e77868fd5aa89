// Package ledger is the authoritative store of collateral and debt balances.
//
// Balances are unsigned and every mutation is overflow-checked: an operation
// that would drive a balance negative or past 2^256-1 fails instead of
// wrapping. Mutators are only reachable through a Tx, which journals the
// inverse of every applied change so a failed operation can be rolled back
// without leaving partial state behind.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/holiman/uint256"
)

var (
	// ErrInsufficientCollateral is returned when a debit exceeds the
	// collateral balance.
	ErrInsufficientCollateral = errors.New("ledger: insufficient collateral")

	// ErrInsufficientDebt is returned when a repayment exceeds the debt
	// balance.
	ErrInsufficientDebt = errors.New("ledger: repayment exceeds debt")

	// ErrOverflow is returned when a credit would exceed 2^256-1.
	ErrOverflow = errors.New("ledger: balance overflow")

	// ErrTxClosed is returned when a committed or rolled back Tx is reused.
	ErrTxClosed = errors.New("ledger: transaction closed")
)

// Movement is one committed balance change. Asset is empty for debt.
type Movement struct {
	User   string
	Asset  string
	Amount *uint256.Int
	Credit bool
}

// IsDebt reports whether the movement changes a debt balance.
func (m Movement) IsDebt() bool { return m.Asset == "" }

// Position is a point-in-time copy of one user's balances.
type Position struct {
	User       string
	Collateral map[string]*uint256.Int
	Debt       *uint256.Int
}

// Ledger holds every position plus aggregate totals. The zero value is not
// usable; call New.
type Ledger struct {
	mu              sync.RWMutex
	collateral      map[string]map[string]*uint256.Int // user -> asset -> amount
	debt            map[string]*uint256.Int
	totalCollateral map[string]*uint256.Int
	totalDebt       uint256.Int
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{
		collateral:      make(map[string]map[string]*uint256.Int),
		debt:            make(map[string]*uint256.Int),
		totalCollateral: make(map[string]*uint256.Int),
	}
}

// Collateral returns the user's balance of asset.
func (l *Ledger) Collateral(user, asset string) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return cloneOrZero(l.collateral[user][asset])
}

// Debt returns the user's outstanding debt.
func (l *Ledger) Debt(user string) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return cloneOrZero(l.debt[user])
}

// TotalCollateral returns the engine-wide balance of asset.
func (l *Ledger) TotalCollateral(asset string) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return cloneOrZero(l.totalCollateral[asset])
}

// TotalDebt returns the aggregate debt of all positions.
func (l *Ledger) TotalDebt() *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return new(uint256.Int).Set(&l.totalDebt)
}

// Users returns every user that ever held a balance, sorted.
func (l *Ledger) Users() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	seen := make(map[string]struct{}, len(l.debt)+len(l.collateral))
	for u := range l.debt {
		seen[u] = struct{}{}
	}
	for u := range l.collateral {
		seen[u] = struct{}{}
	}
	users := make([]string, 0, len(seen))
	for u := range seen {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

// Snapshot copies one user's position.
func (l *Ledger) Snapshot(user string) Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	p := Position{
		User:       user,
		Collateral: make(map[string]*uint256.Int, len(l.collateral[user])),
		Debt:       cloneOrZero(l.debt[user]),
	}
	for asset, amt := range l.collateral[user] {
		p.Collateral[asset] = new(uint256.Int).Set(amt)
	}
	return p
}

// Restore replays committed movements, e.g. from a persisted journal. Either
// every movement applies or the ledger is left untouched.
func (l *Ledger) Restore(moves []Movement) error {
	tx := l.Begin()
	for i, m := range moves {
		var err error
		switch {
		case m.IsDebt() && m.Credit:
			err = tx.IncreaseDebt(m.User, m.Amount)
		case m.IsDebt():
			err = tx.DecreaseDebt(m.User, m.Amount)
		case m.Credit:
			err = tx.IncreaseCollateral(m.User, m.Asset, m.Amount)
		default:
			err = tx.DecreaseCollateral(m.User, m.Asset, m.Amount)
		}
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("restore movement %d: %w", i, err)
		}
	}
	tx.Commit()
	return nil
}

func cloneOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}
