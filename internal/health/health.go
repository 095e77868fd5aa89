// Package health implements the solvency model of the engine: the health
// factor of a position is its threshold-adjusted collateral value divided by
// its outstanding debt, on the 18-decimal scale.
//
//	hf = (collateralUSD * LiquidationThreshold / LiquidationPrecision) * 1e18 / debt
//
// A position with hf < 1e18 can be liquidated. A position without debt has no
// ratio at all and is reported as Unconstrained rather than as a saturated
// integer.
//
// Every function in this package is pure and total over unsigned inputs.
package health

import (
	"encoding/json"
	"errors"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/atmx/dsc-engine/internal/fixed"
)

const (
	// LiquidationThreshold is the percentage of collateral value counted
	// toward solvency (200% overcollateralization).
	LiquidationThreshold uint64 = 50

	// LiquidationPrecision is the denominator of LiquidationThreshold and
	// LiquidationBonus.
	LiquidationPrecision uint64 = 100

	// LiquidationBonus is the extra collateral percentage paid to a
	// liquidator on top of the debt-equivalent amount.
	LiquidationBonus uint64 = 10

	unconstrainedText = "unconstrained"
)

// MinHealthFactor is 1.0 on the 18-decimal scale.
var MinHealthFactor = fixed.Precision

var errInvalidFactor = errors.New("health: invalid factor")

// Factor is a health factor. The zero value is a factor of 0 (fully
// insolvent); use Unconstrained for positions without debt.
type Factor struct {
	value         uint256.Int
	unconstrained bool
}

// Unconstrained is the factor of a debtless position.
func Unconstrained() Factor {
	return Factor{unconstrained: true}
}

// FromValue wraps an 18-decimal ratio.
func FromValue(v *uint256.Int) Factor {
	var f Factor
	if v != nil {
		f.value.Set(v)
	}
	return f
}

// IsUnconstrained reports whether the position carries no debt.
func (f Factor) IsUnconstrained() bool { return f.unconstrained }

// Value returns the 18-decimal ratio. Unconstrained maps to the maximum
// representable value for callers that need a plain integer.
func (f Factor) Value() *uint256.Int {
	if f.unconstrained {
		return fixed.Max()
	}
	return new(uint256.Int).Set(&f.value)
}

// Cmp compares two factors; Unconstrained is greater than any ratio.
func (f Factor) Cmp(g Factor) int {
	switch {
	case f.unconstrained && g.unconstrained:
		return 0
	case f.unconstrained:
		return 1
	case g.unconstrained:
		return -1
	}
	return f.value.Cmp(&g.value)
}

// Less reports whether f < g.
func (f Factor) Less(g Factor) bool { return f.Cmp(g) < 0 }

// IsHealthy reports whether f >= MinHealthFactor.
func (f Factor) IsHealthy() bool {
	return f.unconstrained || !f.value.Lt(MinHealthFactor)
}

// Decimal renders the ratio as a plain decimal (1.0 == minimum healthy).
// Unconstrained has no decimal form and renders as the maximum value.
func (f Factor) Decimal() decimal.Decimal {
	return fixed.ToDecimal(f.Value(), fixed.Decimals)
}

func (f Factor) String() string {
	if f.unconstrained {
		return unconstrainedText
	}
	return f.Decimal().String()
}

// MarshalJSON encodes the factor as "unconstrained" or as a decimal string.
func (f Factor) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

// UnmarshalJSON accepts the output of MarshalJSON.
func (f *Factor) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == unconstrainedText {
		*f = Unconstrained()
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return errInvalidFactor
	}
	v, overflow := uint256.FromBig(d.Shift(fixed.Decimals).Truncate(0).BigInt())
	if overflow {
		return errInvalidFactor
	}
	*f = FromValue(v)
	return nil
}

// AdjustedCollateral is the share of collateral value that counts toward
// solvency.
func AdjustedCollateral(collateralUSD *uint256.Int) *uint256.Int {
	return fixed.Percent(collateralUSD, LiquidationThreshold, LiquidationPrecision)
}

// Calculate returns the health factor of a position. It never fails.
func Calculate(totalDebt, collateralUSD *uint256.Int) Factor {
	if totalDebt == nil || totalDebt.IsZero() {
		return Unconstrained()
	}
	return FromValue(fixed.MulDiv(AdjustedCollateral(collateralUSD), fixed.Precision, totalDebt))
}

// MaxSafeMint is the additional debt a position can take on while keeping
// its factor at or above the minimum.
func MaxSafeMint(totalDebt, collateralUSD *uint256.Int) *uint256.Int {
	return fixed.Sub(AdjustedCollateral(collateralUSD), totalDebt)
}

// RequiredCollateral is the collateral value that exactly supports debt.
func RequiredCollateral(totalDebt *uint256.Int) *uint256.Int {
	return fixed.MulDiv(totalDebt, uint256.NewInt(LiquidationPrecision), uint256.NewInt(LiquidationThreshold))
}

// DebtToCover is the smallest repayment that brings an unhealthy position
// back to the liquidation threshold; zero when the position is healthy.
func DebtToCover(totalDebt, collateralUSD *uint256.Int) *uint256.Int {
	if Calculate(totalDebt, collateralUSD).IsHealthy() {
		return fixed.Zero()
	}
	return fixed.Sub(totalDebt, AdjustedCollateral(collateralUSD))
}

// Bonus is the liquidation bonus on a seized amount.
func Bonus(amount *uint256.Int) *uint256.Int {
	return fixed.Percent(amount, LiquidationBonus, LiquidationPrecision)
}
