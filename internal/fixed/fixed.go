// Package fixed implements the 18-decimal fixed-point arithmetic used for
// collateral values, debt and health factors.
//
// Amounts are unsigned 256-bit integers (holiman/uint256). Every helper here
// is total: overflow saturates to the maximum representable value instead of
// wrapping, so read paths never fail on extreme prices.
package fixed

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

const (
	// Decimals is the scale of USD values, debt and health factors.
	Decimals = 18

	// FeedDecimals is the native scale of raw oracle answers.
	FeedDecimals = 8
)

var (
	// Precision is 1.0 at the 18-decimal scale.
	Precision = uint256.NewInt(1_000_000_000_000_000_000)

	// FeedPrecision is 1.0 at the 8-decimal oracle scale.
	FeedPrecision = uint256.NewInt(100_000_000)

	// AdditionalFeedPrecision rescales an 8-decimal answer to 18 decimals.
	AdditionalFeedPrecision = uint256.NewInt(10_000_000_000)

	// ErrInvalidAmount is returned when an amount string cannot be parsed as
	// an unsigned base-unit integer.
	ErrInvalidAmount = errors.New("fixed: invalid amount")
)

// Max returns the largest representable amount.
func Max() *uint256.Int {
	return new(uint256.Int).SetAllOne()
}

// Zero returns a fresh zero amount.
func Zero() *uint256.Int {
	return new(uint256.Int)
}

// IsMax reports whether x is the saturated maximum.
func IsMax(x *uint256.Int) bool {
	return x != nil && x.Eq(Max())
}

// MulDiv computes x*y/d with a 512-bit intermediate product. The result
// saturates to Max when it does not fit in 256 bits or when d is zero.
func MulDiv(x, y, d *uint256.Int) *uint256.Int {
	if x == nil || y == nil || x.IsZero() || y.IsZero() {
		return Zero()
	}
	if d == nil || d.IsZero() {
		return Max()
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return Max()
	}
	return z
}

// Add returns x+y, saturating at Max.
func Add(x, y *uint256.Int) *uint256.Int {
	z, overflow := new(uint256.Int).AddOverflow(orZero(x), orZero(y))
	if overflow {
		return Max()
	}
	return z
}

// Sub returns x-y, clamped at zero.
func Sub(x, y *uint256.Int) *uint256.Int {
	z, underflow := new(uint256.Int).SubOverflow(orZero(x), orZero(y))
	if underflow {
		return Zero()
	}
	return z
}

// Min returns a copy of the smaller of x and y.
func Min(x, y *uint256.Int) *uint256.Int {
	if orZero(x).Lt(orZero(y)) {
		return new(uint256.Int).Set(orZero(x))
	}
	return new(uint256.Int).Set(orZero(y))
}

// Percent returns x*pct/precision, e.g. Percent(x, 50, 100) is half of x.
func Percent(x *uint256.Int, pct, precision uint64) *uint256.Int {
	return MulDiv(x, uint256.NewInt(pct), uint256.NewInt(precision))
}

// UsdValue converts an amount of collateral into 18-decimal USD using an
// 18-decimal price.
func UsdValue(price, amount *uint256.Int) *uint256.Int {
	return MulDiv(price, amount, Precision)
}

// TokenAmountFromUsd converts an 18-decimal USD amount into collateral units
// using an 18-decimal price. A zero price yields Max.
func TokenAmountFromUsd(price, usd *uint256.Int) *uint256.Int {
	if usd == nil || usd.IsZero() {
		return Zero()
	}
	return MulDiv(usd, Precision, price)
}

// Units returns n whole units at the 18-decimal scale.
func Units(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), Precision)
}

// Parse reads a base-unit decimal integer such as "1000000000000000000".
func Parse(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAmount, s)
	}
	return v, nil
}

// ParseUnits reads a human-readable decimal such as "2000.5" and scales it by
// 10^decimals. Fractional digits beyond the scale are truncated.
func ParseUnits(s string, decimals int32) (*uint256.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAmount, s)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: negative %s", ErrInvalidAmount, s)
	}
	scaled := d.Shift(decimals).Truncate(0)
	v, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, fmt.Errorf("%w: overflow %s", ErrInvalidAmount, s)
	}
	return v, nil
}

// ToDecimal renders x at the given scale, e.g. ToDecimal(1e18, 18) == 1.
func ToDecimal(x *uint256.Int, decimals int32) decimal.Decimal {
	if x == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(x.ToBig(), -decimals)
}

func orZero(x *uint256.Int) *uint256.Int {
	if x == nil {
		return Zero()
	}
	return x
}
