// Package engine implements the DSC position operations and liquidation
// state machine on top of the collateral ledger.
//
// Every mutating entry point runs as one atomic operation: ledger effects and
// solvency checks happen first inside a ledger transaction, external token
// movements are staged and executed afterwards in order, and any failure
// compensates the movements already made and rolls the ledger back. A
// call-scoped guard rejects overlapping or re-entrant calls.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/atmx/dsc-engine/internal/fixed"
	"github.com/atmx/dsc-engine/internal/health"
	"github.com/atmx/dsc-engine/internal/ledger"
	"github.com/atmx/dsc-engine/internal/metrics"
	"github.com/atmx/dsc-engine/internal/model"
	"github.com/atmx/dsc-engine/internal/oracle"
	"github.com/atmx/dsc-engine/internal/token"
)

// Engine owns one ledger and the registry of accepted collateral.
type Engine struct {
	assets  []string
	feeds   map[string]*oracle.Feed
	ledger  *ledger.Ledger
	debt    token.DebtToken
	custody token.Custody

	notifier Notifier
	journal  Journal
	logger   *slog.Logger
	timeout  time.Duration
	now      func() time.Time

	busy atomic.Bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier sets the observer of committed operations.
func WithNotifier(n Notifier) Option { return func(e *Engine) { e.notifier = n } }

// WithJournal sets where committed movements are persisted.
func WithJournal(j Journal) Option { return func(e *Engine) { e.journal = j } }

// WithPriceTimeout overrides oracle.DefaultTimeout.
func WithPriceTimeout(d time.Duration) Option { return func(e *Engine) { e.timeout = d } }

// WithClock overrides time.Now for staleness checks and journal timestamps.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithLogger overrides slog.Default().
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// New builds an engine accepting assets[i] priced by sources[i].
func New(assets []string, sources []oracle.Source, debt token.DebtToken, custody token.Custody, opts ...Option) (*Engine, error) {
	if len(assets) != len(sources) {
		return nil, fmt.Errorf("%w: %d assets, %d price feeds", ErrInvalidConstruction, len(assets), len(sources))
	}
	if debt == nil {
		return nil, fmt.Errorf("%w: nil debt token", ErrInvalidConstruction)
	}
	if custody == nil {
		return nil, fmt.Errorf("%w: nil custody", ErrInvalidConstruction)
	}

	e := &Engine{
		ledger:  ledger.New(),
		debt:    debt,
		custody: custody,
		logger:  slog.Default(),
		now:     time.Now,
		feeds:   make(map[string]*oracle.Feed, len(assets)),
	}
	for _, opt := range opts {
		opt(e)
	}

	for i, asset := range assets {
		switch {
		case asset == "" || asset == model.DebtAsset:
			return nil, fmt.Errorf("%w: invalid asset id %q", ErrInvalidConstruction, asset)
		case sources[i] == nil:
			return nil, fmt.Errorf("%w: nil price feed for %s", ErrInvalidConstruction, asset)
		}
		if _, dup := e.feeds[asset]; dup {
			return nil, fmt.Errorf("%w: duplicate asset %s", ErrInvalidConstruction, asset)
		}
		e.feeds[asset] = oracle.NewFeed(asset, sources[i], e.timeout, e.now)
		e.assets = append(e.assets, asset)
	}
	return e, nil
}

// Restore replays journal entries into the ledger. It is meant for startup
// and runs under the same guard as mutating operations. Collaborators that
// implement token.CustodyRestorer or token.DebtRestorer are then reseeded
// from the rebuilt ledger.
func (e *Engine) Restore(ctx context.Context, entries []model.LedgerEntry) error {
	if !e.busy.CompareAndSwap(false, true) {
		return ErrReentrantCall
	}
	defer e.busy.Store(false)

	moves := make([]ledger.Movement, 0, len(entries))
	for _, entry := range entries {
		if entry.Delta.IsZero() {
			continue
		}
		m, err := moveFromEntry(entry)
		if err != nil {
			return err
		}
		if !m.IsDebt() {
			if _, ok := e.feeds[m.Asset]; !ok {
				return fmt.Errorf("entry %s: %w: %s", entry.ID, ErrAssetNotAllowed, m.Asset)
			}
		}
		moves = append(moves, m)
	}
	if err := e.ledger.Restore(moves); err != nil {
		return err
	}
	if err := e.reseed(); err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "ledger restored", "entries", len(moves), "users", len(e.ledger.Users()))
	return nil
}

// reseed aligns process-local collaborators with the ledger: custody holds
// the total deposited per asset and every debtor holds the DSC they owe.
func (e *Engine) reseed() error {
	if c, ok := e.custody.(token.CustodyRestorer); ok {
		for _, asset := range e.assets {
			if err := c.RestoreCustody(asset, e.ledger.TotalCollateral(asset)); err != nil {
				return fmt.Errorf("reseed custody %s: %w", asset, err)
			}
		}
	}
	if d, ok := e.debt.(token.DebtRestorer); ok {
		for _, user := range e.ledger.Users() {
			p := e.ledger.Snapshot(user)
			if err := d.RestoreIssued(user, p.Debt); err != nil {
				return fmt.Errorf("reseed debt %s: %w", user, err)
			}
		}
	}
	return nil
}

// interaction is one external token movement with its compensating action.
type interaction struct {
	name string
	do   func(context.Context) error
	undo func(context.Context) error
}

// op is the state of one in-flight operation.
type op struct {
	e      *Engine
	ctx    context.Context
	id     string
	name   string
	tx     *ledger.Tx
	prices map[string]*uint256.Int
	steps  []interaction
	events []Event

	// settled is set once the tx is committed or an abort has begun.
	settled bool
}

// run executes fn as one atomic operation.
func (e *Engine) run(ctx context.Context, name string, fn func(o *op) error) (err error) {
	if !e.busy.CompareAndSwap(false, true) {
		metrics.OperationsTotal.WithLabelValues(name, Category(ErrReentrantCall)).Inc()
		return ErrReentrantCall
	}
	defer e.busy.Store(false)

	start := time.Now()
	o := &op{
		e:      e,
		ctx:    ctx,
		id:     uuid.NewString(),
		name:   name,
		tx:     e.ledger.Begin(),
		prices: make(map[string]*uint256.Int),
	}
	defer func() {
		metrics.OperationsTotal.WithLabelValues(name, Category(err)).Inc()
		metrics.OperationLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if err != nil {
			e.logger.WarnContext(ctx, "operation rejected", "op", name, "id", o.id, "err", err)
		}
	}()

	done := 0
	defer func() {
		if r := recover(); r != nil {
			if !o.settled {
				e.logger.ErrorContext(ctx, "operation panicked", "op", name, "id", o.id, "panic", r)
				o.abort(done)
			}
			panic(r)
		}
	}()

	if err := fn(o); err != nil {
		o.abort(0)
		return err
	}

	for i, step := range o.steps {
		if err := step.do(ctx); err != nil {
			o.abort(i)
			return fmt.Errorf("%w: %s: %w", ErrTransferFailed, step.name, err)
		}
		done = i + 1
	}

	at := e.now().UTC()
	if e.journal != nil {
		entries := entriesFromMoves(o.id, name, o.tx.Movements(), at)
		if err := e.journal.InsertLedgerEntries(ctx, entries); err != nil {
			o.abort(len(o.steps))
			return fmt.Errorf("%w: %w", ErrJournal, err)
		}
	}
	o.settled = true
	moves := o.tx.Commit()

	e.logger.InfoContext(ctx, "operation committed", "op", name, "id", o.id, "movements", len(moves))
	for _, ev := range o.events {
		ev.OperationID = o.id
		ev.Timestamp = at
		if e.notifier != nil {
			e.notifier.Publish(ev)
		}
	}
	return nil
}

// abort compensates the first n interactions and rolls the ledger back. The
// rollback runs even if a compensation panics.
func (o *op) abort(n int) {
	o.settled = true
	defer o.tx.Rollback()
	o.compensate(n)
}

// compensate reverses the first n interactions in reverse order.
func (o *op) compensate(n int) {
	ctx := context.WithoutCancel(o.ctx)
	for i := n - 1; i >= 0; i-- {
		step := o.steps[i]
		if err := step.undo(ctx); err != nil {
			metrics.CompensationFailures.Inc()
			o.e.logger.ErrorContext(ctx, "compensation failed", "op", o.name, "id", o.id, "step", step.name, "err", err)
		}
	}
}

// stage queues an external movement for execution after all checks passed.
func (o *op) stage(name string, do, undo func(context.Context) error) {
	o.steps = append(o.steps, interaction{name: name, do: do, undo: undo})
}

func (o *op) emit(ev Event) { o.events = append(o.events, ev) }

// requireAsset validates a mutating amount and asset.
func (o *op) requireAsset(asset string, amount *uint256.Int) error {
	if err := requirePositive(amount); err != nil {
		return err
	}
	if _, ok := o.e.feeds[asset]; !ok {
		return fmt.Errorf("%w: %s", ErrAssetNotAllowed, asset)
	}
	return nil
}

func requirePositive(amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrAmountZero
	}
	return nil
}

// price returns the checked price of asset, read at most once per operation.
func (o *op) price(asset string) (*uint256.Int, error) {
	if p, ok := o.prices[asset]; ok {
		return p, nil
	}
	p, err := o.e.feeds[asset].Price(o.ctx)
	if err != nil {
		if !errors.Is(err, ErrStalePrice) {
			err = fmt.Errorf("%w: %w", ErrStalePrice, err)
		}
		return nil, err
	}
	o.prices[asset] = p
	return p, nil
}

// collateralValue sums the checked USD value of user's collateral.
func (o *op) collateralValue(user string) (*uint256.Int, error) {
	total := fixed.Zero()
	for _, asset := range o.e.assets {
		bal := o.e.ledger.Collateral(user, asset)
		if bal.IsZero() {
			continue
		}
		p, err := o.price(asset)
		if err != nil {
			return nil, err
		}
		total = fixed.Add(total, fixed.UsdValue(p, bal))
	}
	return total, nil
}

// healthFactor evaluates user's position with checked prices. A debtless
// position is unconstrained without reading any price.
func (o *op) healthFactor(user string) (health.Factor, error) {
	debt := o.e.ledger.Debt(user)
	if debt.IsZero() {
		return health.Unconstrained(), nil
	}
	coll, err := o.collateralValue(user)
	if err != nil {
		return health.Factor{}, err
	}
	return health.Calculate(debt, coll), nil
}

func (o *op) requireHealthy(user string) error {
	hf, err := o.healthFactor(user)
	if err != nil {
		return err
	}
	if !hf.IsHealthy() {
		return fmt.Errorf("%w: %s at %s", ErrBreaksHealthFactor, user, hf)
	}
	return nil
}

// ledgerErr maps ledger failures onto the validation category.
func ledgerErr(err error) error {
	switch {
	case errors.Is(err, ledger.ErrInsufficientCollateral), errors.Is(err, ledger.ErrInsufficientDebt):
		return fmt.Errorf("%w: %w", ErrInsufficientBalance, err)
	case errors.Is(err, ledger.ErrOverflow):
		return fmt.Errorf("%w: %w", ErrAmountTooLarge, err)
	default:
		return err
	}
}
