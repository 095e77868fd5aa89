package engine

import (
	"errors"
	"fmt"

	"github.com/atmx/dsc-engine/internal/oracle"
)

// Error categories. Every error returned by a mutating operation matches
// exactly one of these with errors.Is.
var (
	ErrValidation             = errors.New("engine: validation failed")
	ErrTransferFailed         = errors.New("engine: transfer failed")
	ErrSolvency               = errors.New("engine: solvency violation")
	ErrLiquidationNotEligible = errors.New("engine: liquidation not eligible")
	ErrLiquidationIneffective = errors.New("engine: liquidation ineffective")
	ErrStalePrice             = oracle.ErrStalePrice
	ErrReentrantCall          = errors.New("engine: reentrant call")
	ErrJournal                = errors.New("engine: journal write failed")
)

var (
	ErrAmountZero              = fmt.Errorf("%w: amount must be greater than zero", ErrValidation)
	ErrAssetNotAllowed         = fmt.Errorf("%w: asset not allowed", ErrValidation)
	ErrInvalidConstruction     = fmt.Errorf("%w: invalid construction", ErrValidation)
	ErrInsufficientBalance     = fmt.Errorf("%w: insufficient balance", ErrValidation)
	ErrAmountTooLarge          = fmt.Errorf("%w: amount too large", ErrValidation)
	ErrBreaksHealthFactor      = fmt.Errorf("%w: breaks health factor", ErrSolvency)
	ErrHealthFactorOk          = fmt.Errorf("%w: health factor ok", ErrLiquidationNotEligible)
	ErrHealthFactorNotImproved = fmt.Errorf("%w: health factor not improved", ErrLiquidationIneffective)
)

// Category names the class of err for metrics and logs.
func Category(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrReentrantCall):
		return "reentrant"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrStalePrice):
		return "stale_price"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ErrSolvency):
		return "solvency"
	case errors.Is(err, ErrLiquidationNotEligible):
		return "not_eligible"
	case errors.Is(err, ErrLiquidationIneffective):
		return "ineffective"
	case errors.Is(err, ErrJournal):
		return "journal"
	default:
		return "error"
	}
}
