package engine

import (
	"context"

	"github.com/holiman/uint256"

	"github.com/atmx/dsc-engine/internal/fixed"
	"github.com/atmx/dsc-engine/internal/health"
	"github.com/atmx/dsc-engine/internal/oracle"
	"github.com/atmx/dsc-engine/internal/token"
)

// Read-only accessors never fail. They value collateral with unchecked
// prices, so an unavailable or non-positive answer reads as zero, and
// arithmetic saturates instead of overflowing.

// HealthFactor returns user's current health factor.
func (e *Engine) HealthFactor(ctx context.Context, user string) health.Factor {
	debt, coll := e.AccountInformation(ctx, user)
	return health.Calculate(debt, coll)
}

// AccountInformation returns user's debt and collateral value in USD.
func (e *Engine) AccountInformation(ctx context.Context, user string) (debt, collateralUSD *uint256.Int) {
	return e.ledger.Debt(user), e.AccountCollateralValue(ctx, user)
}

// AccountCollateralValue returns the USD value of all of user's collateral.
func (e *Engine) AccountCollateralValue(ctx context.Context, user string) *uint256.Int {
	total := fixed.Zero()
	for _, asset := range e.assets {
		bal := e.ledger.Collateral(user, asset)
		if bal.IsZero() {
			continue
		}
		total = fixed.Add(total, fixed.UsdValue(e.rawPrice(ctx, asset), bal))
	}
	return total
}

// UsdValue prices amount of asset in USD. Unknown assets are worth zero.
func (e *Engine) UsdValue(ctx context.Context, asset string, amount *uint256.Int) *uint256.Int {
	return fixed.UsdValue(e.rawPrice(ctx, asset), amount)
}

// TokenAmountFromUsd converts a USD amount into units of asset. A zero price
// yields the maximum amount.
func (e *Engine) TokenAmountFromUsd(ctx context.Context, asset string, usd *uint256.Int) *uint256.Int {
	return fixed.TokenAmountFromUsd(e.rawPrice(ctx, asset), usd)
}

// MaxSafeMint returns how much more DSC user can mint and stay healthy.
func (e *Engine) MaxSafeMint(ctx context.Context, user string) *uint256.Int {
	debt, coll := e.AccountInformation(ctx, user)
	return health.MaxSafeMint(debt, coll)
}

// MaxRedeemableCollateral returns how much of asset user can redeem and
// stay healthy.
func (e *Engine) MaxRedeemableCollateral(ctx context.Context, asset, user string) *uint256.Int {
	bal := e.ledger.Collateral(user, asset)
	debt, coll := e.AccountInformation(ctx, user)
	if debt.IsZero() || bal.IsZero() {
		return bal
	}
	excess := fixed.Sub(coll, health.RequiredCollateral(debt))
	return fixed.Min(fixed.TokenAmountFromUsd(e.rawPrice(ctx, asset), excess), bal)
}

// CollateralTokens returns the registered assets in registry order.
func (e *Engine) CollateralTokens() []string {
	out := make([]string, len(e.assets))
	copy(out, e.assets)
	return out
}

// CollateralBalanceOfUser returns user's ledger balance of asset.
func (e *Engine) CollateralBalanceOfUser(user, asset string) *uint256.Int {
	return e.ledger.Collateral(user, asset)
}

// CollateralTokenPriceFeed returns the price source of asset, or nil.
func (e *Engine) CollateralTokenPriceFeed(asset string) oracle.Source {
	if f, ok := e.feeds[asset]; ok {
		return f.Source()
	}
	return nil
}

// Price returns the unchecked 18-decimal price of asset.
func (e *Engine) Price(ctx context.Context, asset string) *uint256.Int {
	return e.rawPrice(ctx, asset)
}

// TotalCollateral returns the ledger-wide balance of asset.
func (e *Engine) TotalCollateral(asset string) *uint256.Int { return e.ledger.TotalCollateral(asset) }

// TotalDebt returns the aggregate outstanding debt.
func (e *Engine) TotalDebt() *uint256.Int { return e.ledger.TotalDebt() }

// Users returns every user with a ledger entry.
func (e *Engine) Users() []string { return e.ledger.Users() }

// DebtToken returns the debt token collaborator.
func (e *Engine) DebtToken() token.DebtToken { return e.debt }

// Precision is the 18-decimal fixed-point unit.
func (e *Engine) Precision() *uint256.Int { return new(uint256.Int).Set(fixed.Precision) }

// AdditionalFeedPrecision scales 8-decimal feed answers to 18 decimals.
func (e *Engine) AdditionalFeedPrecision() *uint256.Int {
	return new(uint256.Int).Set(fixed.AdditionalFeedPrecision)
}

// LiquidationThreshold is the share of collateral value, out of
// LiquidationPrecision, that counts toward solvency.
func (e *Engine) LiquidationThreshold() uint64 { return health.LiquidationThreshold }

// LiquidationBonus is the liquidator's premium out of LiquidationPrecision.
func (e *Engine) LiquidationBonus() uint64 { return health.LiquidationBonus }

// LiquidationPrecision is the denominator of the threshold and bonus.
func (e *Engine) LiquidationPrecision() uint64 { return health.LiquidationPrecision }

// MinHealthFactor is the lowest health factor a position may end an
// operation with.
func (e *Engine) MinHealthFactor() *uint256.Int { return new(uint256.Int).Set(health.MinHealthFactor) }

func (e *Engine) rawPrice(ctx context.Context, asset string) *uint256.Int {
	f, ok := e.feeds[asset]
	if !ok {
		return fixed.Zero()
	}
	return f.RawPrice(ctx)
}
