package engine

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/leafsii/leafsii-dsc/internal/calc"
)

// Liquidate closes an insolvent position. The liquidator burns stablecoin to
// repay the target's debt and receives collateral worth the repaid amount plus
// the liquidation bonus. Repayment is capped at the liquidator's stablecoin
// balance. Debt left unpaid is written off as bad debt and the collateral still
// on the account moves to the protocol reserve, so the position always ends empty
// of debt.
func (e *Engine) Liquidate(ctx context.Context, liquidator, target common.Address) (*Liquidation, error) {
	var result *Liquidation
	id, err := e.execute(ctx, "liquidate", func(u *unitOfWork) error {
		before, err := e.healthFactor(ctx, target)
		if err != nil {
			return err
		}
		if calc.IsHealthy(before) {
			return fmt.Errorf("%w: %s", ErrHealthFactorSufficient, before.Dec())
		}

		collateralUSD, err := e.collateralValueUSD(ctx, target)
		if err != nil {
			return err
		}
		debt := u.ledger.DebtOf(target)
		repay, seizeUSD, shortfall, err := calc.LiquidationAmounts(collateralUSD, debt, e.params.LiquidationBonusPct)
		if err != nil {
			return err
		}

		available, err := e.stable.BalanceOf(ctx, liquidator)
		if err != nil {
			return err
		}
		capped := available.Lt(repay)
		if capped {
			repay = available.Clone()
			if seizeUSD, err = calc.SeizeValue(repay, e.params.LiquidationBonusPct); err != nil {
				return err
			}
			shortfall = new(uint256.Int).Sub(debt, repay)
		}

		seized, err := e.seize(ctx, u, target, seizeUSD, !shortfall.IsZero() && !capped)
		if err != nil {
			return err
		}

		if !repay.IsZero() {
			if err := u.ledger.SubDebt(target, repay); err != nil {
				return err
			}
		}
		reserved := make(map[common.Address]*uint256.Int)
		if !shortfall.IsZero() {
			if err := u.ledger.WriteOff(target, shortfall); err != nil {
				return err
			}
			if reserved, err = e.sequester(u, target); err != nil {
				return err
			}
		}

		if !repay.IsZero() {
			if err := e.burnFrom(ctx, u, liquidator, repay); err != nil {
				return err
			}
		}
		for _, asset := range e.oracle.Assets() {
			amount, ok := seized[asset.AssetID]
			if !ok {
				continue
			}
			if err := e.pushCollateral(ctx, u, e.collateral[asset.AssetID], liquidator, amount); err != nil {
				return err
			}
		}

		after, err := e.healthFactor(ctx, target)
		if err != nil {
			return err
		}

		result = &Liquidation{
			Target:       target,
			Liquidator:   liquidator,
			DebtRepaid:   repay,
			BadDebt:      shortfall,
			Seized:       seized,
			Reserved:     reserved,
			HealthBefore: before,
			HealthAfter:  after,
		}
		u.record(Event{
			Type:         EventLiquidation,
			User:         target,
			Liquidator:   liquidator,
			Stable:       repay.Clone(),
			BadDebt:      shortfall.Clone(),
			Seized:       copyAmounts(seized),
			Reserved:     copyAmounts(reserved),
			HealthFactor: after,
			Timestamp:    e.now(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("liquidate: %w", err)
	}
	result.OperationID = id

	e.metrics.RecordLiquidation(ctx, result.DebtRepaid, result.BadDebt)
	e.logger.Infow("Liquidated position",
		"target", target.Hex(),
		"liquidator", liquidator.Hex(),
		"repaid", result.DebtRepaid.Dec(),
		"bad_debt", result.BadDebt.Dec(),
		"health_before", result.HealthBefore.Dec(),
	)
	if !result.BadDebt.IsZero() {
		e.logger.Warnw("Liquidation left bad debt",
			"target", target.Hex(),
			"bad_debt", result.BadDebt.Dec(),
			"reserved_assets", len(result.Reserved),
		)
	}
	return result, nil
}

// seize withdraws collateral worth seizeUSD from target, asset by asset in
// registration order. With all set every balance is taken regardless of value.
func (e *Engine) seize(ctx context.Context, u *unitOfWork, target common.Address, seizeUSD *uint256.Int, all bool) (map[common.Address]*uint256.Int, error) {
	seized := make(map[common.Address]*uint256.Int)
	remaining := seizeUSD.Clone()

	for _, asset := range e.oracle.Assets() {
		balance := u.ledger.CollateralOf(target, asset.AssetID)
		if balance.IsZero() {
			continue
		}

		amount := balance
		if !all {
			if remaining.IsZero() {
				break
			}
			price, err := e.oracle.NormalizePrice(ctx, asset.AssetID)
			if err != nil {
				return nil, err
			}
			if price.IsZero() {
				continue
			}
			want, err := calc.TokenAmountFromUSD(remaining, price, asset.Decimals)
			if err != nil {
				return nil, err
			}
			amount = calc.Min(want, balance)
			value, err := calc.USDValue(amount, price, asset.Decimals)
			if err != nil {
				return nil, err
			}
			remaining.Sub(remaining, calc.Min(value, remaining))
		}
		if amount.IsZero() {
			continue
		}

		if err := u.ledger.Withdraw(target, asset.AssetID, amount); err != nil {
			return nil, err
		}
		seized[asset.AssetID] = amount
	}
	return seized, nil
}

// sequester moves every remaining collateral balance of target into the
// protocol reserve.
func (e *Engine) sequester(u *unitOfWork, target common.Address) (map[common.Address]*uint256.Int, error) {
	reserved := make(map[common.Address]*uint256.Int)
	for _, asset := range e.oracle.Assets() {
		balance := u.ledger.CollateralOf(target, asset.AssetID)
		if balance.IsZero() {
			continue
		}
		if err := u.ledger.Sequester(target, asset.AssetID, balance); err != nil {
			return nil, err
		}
		reserved[asset.AssetID] = balance
	}
	return reserved, nil
}

func copyAmounts(m map[common.Address]*uint256.Int) map[common.Address]*uint256.Int {
	out := make(map[common.Address]*uint256.Int, len(m))
	for k, v := range m {
		out[k] = v.Clone()
	}
	return out
}
