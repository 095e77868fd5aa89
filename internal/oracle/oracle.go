// Package oracle normalizes external USD price feeds for the engine.
//
// A Source is the raw transport: it returns the latest 8-decimal answer and
// the time it was observed. StaleGuard is a decorator enforcing the validity
// policy (positive answer, bounded age). Feed combines both views and rescales
// answers to the engine's 18-decimal convention.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/holiman/uint256"

	"github.com/atmx/dsc-engine/internal/fixed"
	"github.com/atmx/dsc-engine/internal/metrics"
)

// DefaultTimeout is the maximum accepted age of an observation.
const DefaultTimeout = 3 * time.Hour

var (
	// ErrStalePrice is returned when an answer is non-positive or older than
	// the configured timeout.
	ErrStalePrice = errors.New("oracle: stale price")

	// ErrNoRound is returned by sources that have not observed a price yet.
	ErrNoRound = errors.New("oracle: no round available")
)

// Round is one oracle observation.
type Round struct {
	RoundID    uint64
	Answer     *big.Int // FeedDecimals scale, may be <= 0
	ObservedAt time.Time

	// Pinned answers are configured rather than observed, so age does not
	// apply to them.
	Pinned bool
}

// Source supplies the latest observation for one asset.
type Source interface {
	Latest(ctx context.Context) (Round, error)
}

// StaleGuard rejects invalid or aged rounds from an underlying source.
type StaleGuard struct {
	source  Source
	timeout time.Duration
	now     func() time.Time
}

// NewStaleGuard wraps src. A non-positive timeout selects DefaultTimeout; a
// nil clock selects time.Now.
func NewStaleGuard(src Source, timeout time.Duration, now func() time.Time) *StaleGuard {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if now == nil {
		now = time.Now
	}
	return &StaleGuard{source: src, timeout: timeout, now: now}
}

// Latest returns the round only if it passes the validity policy.
func (g *StaleGuard) Latest(ctx context.Context) (Round, error) {
	r, err := g.source.Latest(ctx)
	if err != nil {
		return Round{}, err
	}
	if r.Answer == nil || r.Answer.Sign() <= 0 {
		return Round{}, fmt.Errorf("%w: non-positive answer", ErrStalePrice)
	}
	if r.ObservedAt.IsZero() {
		return Round{}, fmt.Errorf("%w: missing observation time", ErrStalePrice)
	}
	if r.Pinned {
		return r, nil
	}
	if age := g.now().Sub(r.ObservedAt); age > g.timeout {
		return Round{}, fmt.Errorf("%w: observed %s ago", ErrStalePrice, age.Truncate(time.Second))
	}
	return r, nil
}

// Feed is the engine-facing price adapter for a single asset.
type Feed struct {
	asset   string
	source  Source
	guarded Source
}

// NewFeed builds a feed over src with the given staleness policy.
func NewFeed(asset string, src Source, timeout time.Duration, now func() time.Time) *Feed {
	return &Feed{
		asset:   asset,
		source:  src,
		guarded: NewStaleGuard(src, timeout, now),
	}
}

// Asset returns the asset this feed prices.
func (f *Feed) Asset() string { return f.asset }

// Source returns the undecorated transport.
func (f *Feed) Source() Source { return f.source }

// Price returns the checked 18-decimal USD price of one whole unit.
func (f *Feed) Price(ctx context.Context) (*uint256.Int, error) {
	r, err := f.guarded.Latest(ctx)
	if err != nil {
		if errors.Is(err, ErrStalePrice) {
			metrics.StalePriceRejections.WithLabelValues(f.asset).Inc()
		}
		return nil, fmt.Errorf("price %s: %w", f.asset, err)
	}
	return Rescale(r.Answer), nil
}

// RawPrice returns the unchecked 18-decimal price. It never fails:
// unavailable or non-positive answers read as zero.
func (f *Feed) RawPrice(ctx context.Context) *uint256.Int {
	r, err := f.source.Latest(ctx)
	if err != nil || r.Answer == nil || r.Answer.Sign() <= 0 {
		return fixed.Zero()
	}
	return Rescale(r.Answer)
}

// Rescale converts a positive 8-decimal answer to 18 decimals, saturating.
func Rescale(answer *big.Int) *uint256.Int {
	if answer == nil || answer.Sign() <= 0 {
		return fixed.Zero()
	}
	v, overflow := uint256.FromBig(answer)
	if overflow {
		return fixed.Max()
	}
	z, overflow := new(uint256.Int).MulOverflow(v, fixed.AdditionalFeedPrecision)
	if overflow {
		return fixed.Max()
	}
	return z
}
