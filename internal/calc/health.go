package calc

import (
	"github.com/holiman/uint256"
)

// MinHealthFactor is 1.0 in fixed-point: positions at or above it are solvent.
var MinHealthFactor = Pow10(PriceDecimals)

// MaxHealthFactor is returned for positions without debt.
func MaxHealthFactor() *uint256.Int {
	return new(uint256.Int).SetAllOne()
}

// HealthFactor computes (collateralUSD * thresholdPct / 100) * 1e18 / debt.
// A zero debt yields MaxHealthFactor. Only thresholdPct percent of the nominal
// collateral value counts toward solvency; the remainder funds the liquidation bonus.
func HealthFactor(collateralUSD, debt *uint256.Int, thresholdPct uint64) (*uint256.Int, error) {
	if debt == nil || debt.IsZero() {
		return MaxHealthFactor(), nil
	}
	adjusted, overflow := new(uint256.Int).MulDivOverflow(collateralUSD, uint256.NewInt(thresholdPct), uint256.NewInt(100))
	if overflow {
		return nil, ErrOverflow
	}
	ratio, overflow := new(uint256.Int).MulDivOverflow(adjusted, Precision, debt)
	if overflow {
		// the ratio no longer fits 256 bits, which is as healthy as it gets
		return MaxHealthFactor(), nil
	}
	return ratio, nil
}

// IsHealthy reports whether a health factor meets MinHealthFactor.
func IsHealthy(healthFactor *uint256.Int) bool {
	return !healthFactor.Lt(MinHealthFactor)
}
