package calc

import (
	"github.com/holiman/uint256"
)

// LiquidationAmounts sizes a liquidation with a 100% close factor.
//
// The liquidator repays as much debt as the collateral can back once the bonus is paid:
// repay = min(debt, collateralUSD * 100 / (100 + bonusPct)). The USD value of collateral
// seized is repay * (100 + bonusPct) / 100, which never exceeds collateralUSD. Whatever
// debt is left over cannot be covered and is returned as shortfall.
func LiquidationAmounts(collateralUSD, debt *uint256.Int, bonusPct uint64) (repay, seizeUSD, shortfall *uint256.Int, err error) {
	withBonus := uint256.NewInt(100 + bonusPct)
	hundred := uint256.NewInt(100)

	coverable, overflow := new(uint256.Int).MulDivOverflow(collateralUSD, hundred, withBonus)
	if overflow {
		return nil, nil, nil, ErrOverflow
	}
	repay = Min(debt, coverable)

	seizeUSD, err = SeizeValue(repay, bonusPct)
	if err != nil {
		return nil, nil, nil, err
	}
	if seizeUSD.Gt(collateralUSD) {
		seizeUSD = collateralUSD.Clone()
	}

	shortfall = new(uint256.Int).Sub(debt, repay)
	return repay, seizeUSD, shortfall, nil
}

// SeizeValue is the USD value owed to a liquidator repaying repay: repay * (100 + bonusPct) / 100.
func SeizeValue(repay *uint256.Int, bonusPct uint64) (*uint256.Int, error) {
	value, overflow := new(uint256.Int).MulDivOverflow(repay, uint256.NewInt(100+bonusPct), uint256.NewInt(100))
	if overflow {
		return nil, ErrOverflow
	}
	return value, nil
}
