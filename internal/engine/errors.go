package engine

import (
	"errors"

	"github.com/leafsii/leafsii-dsc/internal/calc"
	"github.com/leafsii/leafsii-dsc/internal/ledger"
	"github.com/leafsii/leafsii-dsc/internal/prices"
	"github.com/leafsii/leafsii-dsc/internal/token"
)

var (
	ErrInvalidCollateralToken = errors.New("invalid collateral token")
	ErrHealthFactorTooLow     = errors.New("health factor below minimum")
	ErrHealthFactorSufficient = errors.New("health factor is sufficient")
	ErrInsufficientCollateral = ledger.ErrInsufficientCollateral
	ErrInvalidAmount          = ledger.ErrInvalidAmount
	ErrBurnExceedsDebt        = ledger.ErrBurnExceedsDebt
	ErrOverflow               = calc.ErrOverflow
)

// Code returns a stable identifier for err, suitable for API responses and metric labels.
func Code(err error) string {
	switch {
	case err == nil:
		return "OK"
	case errors.Is(err, ErrInvalidCollateralToken), errors.Is(err, prices.ErrUnregisteredAsset):
		return "INVALID_COLLATERAL_TOKEN"
	case errors.Is(err, ErrHealthFactorTooLow):
		return "HEALTH_FACTOR_TOO_LOW"
	case errors.Is(err, ErrHealthFactorSufficient):
		return "HEALTH_FACTOR_SUFFICIENT"
	case errors.Is(err, ErrInsufficientCollateral):
		return "INSUFFICIENT_COLLATERAL"
	case errors.Is(err, ErrInvalidAmount):
		return "INVALID_AMOUNT"
	case errors.Is(err, ErrBurnExceedsDebt):
		return "BURN_EXCEEDS_DEBT"
	case errors.Is(err, ErrOverflow):
		return "OVERFLOW"
	case errors.Is(err, token.ErrInsufficientBalance):
		return "INSUFFICIENT_BALANCE"
	case errors.Is(err, token.ErrInsufficientAllowance):
		return "INSUFFICIENT_ALLOWANCE"
	case errors.Is(err, token.ErrUnauthorizedMinter):
		return "UNAUTHORIZED_MINTER"
	case errors.Is(err, prices.ErrPriceUnavailable):
		return "PRICE_UNAVAILABLE"
	default:
		return "INTERNAL_ERROR"
	}
}
