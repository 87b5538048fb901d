package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/leafsii/leafsii-dsc/internal/calc"
	"github.com/leafsii/leafsii-dsc/internal/prices"
)

// CollateralBalance returns user's recorded balance of asset.
func (e *Engine) CollateralBalance(user, asset common.Address) (*uint256.Int, error) {
	if _, _, err := e.collateralFor(asset); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.CollateralOf(user, asset), nil
}

// AccountInfo returns the USD value of user's collateral and their stablecoin debt.
func (e *Engine) AccountInfo(ctx context.Context, user common.Address) (collateralUSD, debt *uint256.Int, err error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	collateralUSD, err = e.collateralValueUSD(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	return collateralUSD, e.ledger.DebtOf(user), nil
}

func (e *Engine) HealthFactor(ctx context.Context, user common.Address) (*uint256.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.healthFactor(ctx, user)
}

func (e *Engine) CollateralValueUSD(ctx context.Context, user common.Address) (*uint256.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.collateralValueUSD(ctx, user)
}

// USDValue prices amount native units of asset in 18-decimal USD.
func (e *Engine) USDValue(ctx context.Context, asset common.Address, amount *uint256.Int) (*uint256.Int, error) {
	cfg, _, err := e.collateralFor(asset)
	if err != nil {
		return nil, err
	}
	price, err := e.price(ctx, asset)
	if err != nil {
		return nil, err
	}
	return calc.USDValue(amount, price, cfg.Decimals)
}

// TokenAmountFromUSD converts an 18-decimal USD value to native units of asset, rounding down.
func (e *Engine) TokenAmountFromUSD(ctx context.Context, asset common.Address, usd *uint256.Int) (*uint256.Int, error) {
	cfg, _, err := e.collateralFor(asset)
	if err != nil {
		return nil, err
	}
	price, err := e.price(ctx, asset)
	if err != nil {
		return nil, err
	}
	return calc.TokenAmountFromUSD(usd, price, cfg.Decimals)
}

// Price returns the normalized 18-decimal price of asset.
func (e *Engine) Price(ctx context.Context, asset common.Address) (*uint256.Int, error) {
	return e.price(ctx, asset)
}

func (e *Engine) Assets() []prices.CollateralAssetConfig {
	return e.oracle.Assets()
}

// AssetBySymbol finds a registered asset by ticker symbol, case-insensitively.
func (e *Engine) AssetBySymbol(symbol string) (prices.CollateralAssetConfig, bool) {
	return e.oracle.Registry().BySymbol(symbol)
}

func (e *Engine) Params() Params {
	return e.params
}

// Custody returns the engine's recorded holdings of asset across all users.
func (e *Engine) Custody(asset common.Address) *uint256.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.Custody(asset)
}

// Reserve returns the collateral of asset taken from liquidated accounts whose
// debt was written off.
func (e *Engine) Reserve(asset common.Address) *uint256.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.Reserve(asset)
}

func (e *Engine) BadDebt() *uint256.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.BadDebt()
}

// Users lists every address that has ever held a position.
func (e *Engine) Users() []common.Address {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.Users()
}

func (e *Engine) price(ctx context.Context, asset common.Address) (*uint256.Int, error) {
	price, err := e.oracle.NormalizePrice(ctx, asset)
	if errors.Is(err, prices.ErrUnregisteredAsset) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCollateralToken, err)
	}
	return price, err
}

// collateralValueUSD sums the USD value of every non-zero balance. Callers hold e.mu.
func (e *Engine) collateralValueUSD(ctx context.Context, user common.Address) (*uint256.Int, error) {
	total := new(uint256.Int)
	for _, asset := range e.oracle.Assets() {
		balance := e.ledger.CollateralOf(user, asset.AssetID)
		if balance.IsZero() {
			continue
		}
		price, err := e.price(ctx, asset.AssetID)
		if err != nil {
			return nil, err
		}
		value, err := calc.USDValue(balance, price, asset.Decimals)
		if err != nil {
			return nil, err
		}
		if total, err = calc.Add(total, value); err != nil {
			return nil, err
		}
	}
	return total, nil
}

func (e *Engine) healthFactor(ctx context.Context, user common.Address) (*uint256.Int, error) {
	debt := e.ledger.DebtOf(user)
	if debt.IsZero() {
		return calc.MaxHealthFactor(), nil
	}
	collateralUSD, err := e.collateralValueUSD(ctx, user)
	if err != nil {
		return nil, err
	}
	return calc.HealthFactor(collateralUSD, debt, e.params.LiquidationThresholdPct)
}
