package registry

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"

	"github.com/atmx/dsc-engine/internal/fixed"
	"github.com/atmx/dsc-engine/internal/oracle"
)

// ErrNoRPC is returned when a chainlink feed is configured without an
// Ethereum client.
var ErrNoRPC = errors.New("registry: chainlink feed requires an RPC endpoint")

// ErrFeedDecimals is returned when an aggregator does not answer with the
// engine's 8-decimal scale.
var ErrFeedDecimals = errors.New("registry: unexpected feed decimals")

// Sources builds one price source per asset, in registry order. Static feeds
// are pinned, so they never go stale, and are also returned by asset ID so
// callers can move their price.
func (r *Registry) Sources(caller ethereum.ContractCaller) ([]oracle.Source, map[string]*oracle.StaticSource, error) {
	sources := make([]oracle.Source, 0, len(r.Assets))
	statics := make(map[string]*oracle.StaticSource)
	for _, a := range r.Assets {
		feed, err := ParseFeed(a.Feed)
		if err != nil {
			return nil, nil, fmt.Errorf("asset %s: %w", a.ID, err)
		}
		switch feed.Kind {
		case KindChainlink:
			if caller == nil {
				return nil, nil, fmt.Errorf("asset %s: %w", a.ID, ErrNoRPC)
			}
			sources = append(sources, oracle.NewChainlinkSource(caller, feed.Address))
		case KindStatic:
			answer, err := StaticAnswer(feed.Price.String())
			if err != nil {
				return nil, nil, fmt.Errorf("asset %s: %w", a.ID, err)
			}
			src := &oracle.StaticSource{}
			src.Set(answer)
			sources = append(sources, src)
			statics[a.ID] = src
		}
	}
	return sources, statics, nil
}

// StaticAnswer converts a whole-USD price such as "2000.5" into an 8-decimal
// feed answer.
func StaticAnswer(usd string) (*big.Int, error) {
	v, err := fixed.ParseUnits(usd, fixed.FeedDecimals)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFeed, err)
	}
	if v.IsZero() {
		return nil, fmt.Errorf("%w: price below feed resolution: %s", ErrInvalidFeed, usd)
	}
	return v.ToBig(), nil
}

// CheckResult is the outcome of probing one feed.
type CheckResult struct {
	Asset      string
	Feed       string
	Decimals   uint8
	Answer     *big.Int
	ObservedAt time.Time
	Err        error
}

// decimalsReader is implemented by sources that expose their answer scale.
type decimalsReader interface {
	Decimals(ctx context.Context) (uint8, error)
}

// Check reads every source once and verifies its scale and freshness.
func (r *Registry) Check(ctx context.Context, sources []oracle.Source, now time.Time) []CheckResult {
	timeout := r.PriceTimeout
	if timeout <= 0 {
		timeout = oracle.DefaultTimeout
	}
	clock := func() time.Time { return now }

	results := make([]CheckResult, len(r.Assets))
	for i, a := range r.Assets {
		res := CheckResult{Asset: a.ID, Feed: a.Feed, Decimals: fixed.FeedDecimals}
		src := sources[i]
		if dr, ok := src.(decimalsReader); ok {
			d, err := dr.Decimals(ctx)
			if err != nil {
				res.Err = err
				results[i] = res
				continue
			}
			res.Decimals = d
			if d != fixed.FeedDecimals {
				res.Err = fmt.Errorf("%w: %d, want %d", ErrFeedDecimals, d, fixed.FeedDecimals)
				results[i] = res
				continue
			}
		}
		round, err := oracle.NewStaleGuard(src, timeout, clock).Latest(ctx)
		if err != nil {
			res.Err = err
		} else {
			res.Answer = round.Answer
			res.ObservedAt = round.ObservedAt
		}
		results[i] = res
	}
	return results
}
