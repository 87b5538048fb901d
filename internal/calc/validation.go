package calc

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ValidateOracleAge checks if oracle data is fresh enough
func ValidateOracleAge(oracleTimestamp time.Time, maxAge time.Duration) error {
	age := time.Since(oracleTimestamp)
	if age > maxAge {
		return fmt.Errorf("oracle data too stale: %v > %v", age, maxAge)
	}
	return nil
}

// ValidateAmount checks if an amount is positive and within reasonable bounds
func ValidateAmount(amount decimal.Decimal, operation string) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("invalid %s amount: must be positive", operation)
	}

	// 10^30 whole tokens is far beyond any supply we account for
	maxAmount := decimal.New(1, 30)
	if amount.GreaterThan(maxAmount) {
		return fmt.Errorf("invalid %s amount: too large", operation)
	}

	return nil
}

// ValidateThresholds checks the protocol risk constants at construction time.
func ValidateThresholds(liquidationThresholdPct, liquidationBonusPct uint64) error {
	if liquidationThresholdPct == 0 || liquidationThresholdPct > 100 {
		return fmt.Errorf("liquidation threshold %d%% must be in (0, 100]", liquidationThresholdPct)
	}
	if liquidationBonusPct >= 100 {
		return fmt.Errorf("liquidation bonus %d%% must be below 100%%", liquidationBonusPct)
	}
	// Seizing debt plus bonus must fit inside the collateral a liquidatable account still has.
	if liquidationThresholdPct*(100+liquidationBonusPct) > 100*100 {
		return fmt.Errorf("liquidation bonus %d%% is not funded by threshold %d%%", liquidationBonusPct, liquidationThresholdPct)
	}
	return nil
}
