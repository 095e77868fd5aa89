package engine

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/atmx/dsc-engine/internal/fixed"
	"github.com/atmx/dsc-engine/internal/health"
	"github.com/atmx/dsc-engine/internal/metrics"
	"github.com/atmx/dsc-engine/internal/model"
)

// Liquidate repays debtToCover of target's debt with DSC held by liquidator
// and awards the liquidator the equivalent amount of asset plus the
// liquidation bonus, taken from target's collateral. The target must be
// below the minimum health factor and must end strictly healthier; the
// liquidator must stay healthy.
//
// Seizure is sized from a single price read of asset. Nothing guards against
// a price that was moved within the same block as the call.
func (e *Engine) Liquidate(ctx context.Context, liquidator, asset, target string, debtToCover *uint256.Int) error {
	var seized *uint256.Int
	err := e.run(ctx, model.OpLiquidate, func(o *op) error {
		if err := o.requireAsset(asset, debtToCover); err != nil {
			return err
		}

		startHF, err := o.healthFactor(target)
		if err != nil {
			return err
		}
		if startHF.IsHealthy() {
			return fmt.Errorf("%w: %s at %s", ErrHealthFactorOk, target, startHF)
		}

		price, err := o.price(asset)
		if err != nil {
			return err
		}
		fromDebt := fixed.TokenAmountFromUsd(price, debtToCover)
		seize := fixed.Min(
			fixed.Add(fromDebt, health.Bonus(fromDebt)),
			e.ledger.Collateral(target, asset),
		)

		if !seize.IsZero() {
			if err := o.tx.MoveCollateral(target, liquidator, asset, seize); err != nil {
				return ledgerErr(err)
			}
		}
		if err := o.burn(target, liquidator, debtToCover); err != nil {
			return err
		}

		endHF, err := o.healthFactor(target)
		if err != nil {
			return err
		}
		if !startHF.Less(endHF) {
			return fmt.Errorf("%w: %s from %s to %s", ErrHealthFactorNotImproved, target, startHF, endHF)
		}
		if err := o.requireHealthy(liquidator); err != nil {
			return err
		}

		o.emit(Event{Type: EventCollateralRedeemed, From: target, To: liquidator, Asset: asset, Amount: seize})
		o.emit(Event{
			Type:        EventPositionLiquidated,
			User:        liquidator,
			Target:      target,
			Asset:       asset,
			Amount:      seize,
			DebtCovered: new(uint256.Int).Set(debtToCover),
		})
		seized = seize
		return nil
	})
	if err != nil {
		return err
	}

	metrics.LiquidationsTotal.Inc()
	whole, _ := fixed.ToDecimal(seized, fixed.Decimals).Float64()
	metrics.CollateralSeized.WithLabelValues(asset).Add(whole)
	e.logger.InfoContext(ctx, "position liquidated",
		"liquidator", liquidator,
		"target", target,
		"asset", asset,
		"seized", seized.Dec(),
		"debt_covered", debtToCover.Dec(),
	)
	return nil
}

// DebtToCoverForHealthyPosition returns the smallest repayment that brings
// user back to the liquidation threshold, or zero when already healthy.
func (e *Engine) DebtToCoverForHealthyPosition(ctx context.Context, user string) *uint256.Int {
	debt, coll := e.AccountInformation(ctx, user)
	return health.DebtToCover(debt, coll)
}
