// Package engine implements the collateral engine: it gates minting and
// redemption on the health factor and lets third parties liquidate insolvent
// positions. Every command is all-or-nothing.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/leafsii/leafsii-dsc/internal/calc"
	"github.com/leafsii/leafsii-dsc/internal/ledger"
	"github.com/leafsii/leafsii-dsc/internal/prices"
	"github.com/leafsii/leafsii-dsc/internal/token"
	"go.uber.org/zap"
)

// Receipt is returned by successful position commands.
type Receipt struct {
	OperationID  uuid.UUID
	User         common.Address
	HealthFactor *uint256.Int
}

// Liquidation is the outcome of a successful Liquidate.
type Liquidation struct {
	OperationID  uuid.UUID
	Target       common.Address
	Liquidator   common.Address
	DebtRepaid   *uint256.Int
	BadDebt      *uint256.Int
	Seized       map[common.Address]*uint256.Int
	Reserved     map[common.Address]*uint256.Int
	HealthBefore *uint256.Int
	HealthAfter  *uint256.Int
}

type Engine struct {
	mu sync.RWMutex

	address    common.Address
	ledger     *ledger.Ledger
	oracle     *prices.Oracle
	collateral map[common.Address]token.Collateral
	stable     token.Stablecoin

	params  Params
	journal Journal
	logger  *zap.SugaredLogger
	metrics Recorder
	now     func() time.Time
}

// New builds an engine holding custody at address. Every asset registered with
// the oracle needs a collateral token.
func New(address common.Address, oracle *prices.Oracle, collateral map[common.Address]token.Collateral, stable token.Stablecoin, opts ...Option) (*Engine, error) {
	e := &Engine{
		address:    address,
		ledger:     ledger.New(),
		oracle:     oracle,
		collateral: make(map[common.Address]token.Collateral, len(collateral)),
		stable:     stable,
		params:     DefaultParams(),
		journal:    nopJournal{},
		logger:     zap.NewNop().Sugar(),
		metrics:    nopRecorder{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.params.Validate(); err != nil {
		return nil, err
	}
	if stable == nil {
		return nil, errors.New("stablecoin is required")
	}
	for _, asset := range oracle.Assets() {
		tok, ok := collateral[asset.AssetID]
		if !ok || tok == nil {
			return nil, fmt.Errorf("no collateral token for asset %s (%s)", asset.Symbol, asset.AssetID.Hex())
		}
		e.collateral[asset.AssetID] = tok
	}
	return e, nil
}

func (e *Engine) Address() common.Address {
	return e.address
}

// execute runs fn under the write lock inside a unit of work.
func (e *Engine) execute(ctx context.Context, op string, fn func(u *unitOfWork) error) (uuid.UUID, error) {
	start := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()

	u := newUnitOfWork(op, e.ledger, e.journal, e.logger)
	err := fn(u)
	if err == nil {
		err = u.commit(ctx)
	}
	if err != nil {
		u.rollback(ctx)
		e.logger.Debugw("Operation rolled back", "op", op, "operation_id", u.id, "error", err)
	}
	e.metrics.RecordOperation(ctx, op, Code(err), e.now().Sub(start))
	return u.id, err
}

func (e *Engine) collateralFor(asset common.Address) (prices.CollateralAssetConfig, token.Collateral, error) {
	cfg, ok := e.oracle.Registry().Lookup(asset)
	if !ok {
		return cfg, nil, fmt.Errorf("%w: %s", ErrInvalidCollateralToken, asset.Hex())
	}
	return cfg, e.collateral[asset], nil
}

// requireHealthy fails with ErrHealthFactorTooLow when user's projected position is insolvent.
func (e *Engine) requireHealthy(ctx context.Context, user common.Address) (*uint256.Int, error) {
	hf, err := e.healthFactor(ctx, user)
	if err != nil {
		return nil, err
	}
	if !calc.IsHealthy(hf) {
		return nil, fmt.Errorf("%w: %s", ErrHealthFactorTooLow, hf.Dec())
	}
	return hf, nil
}

func isZero(v *uint256.Int) bool {
	return v == nil || v.IsZero()
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v.Clone()
}

// DepositAndMint deposits collateral and mints stablecoin against it in one step.
// mintAmount may be zero.
func (e *Engine) DepositAndMint(ctx context.Context, user, asset common.Address, collateralAmount, mintAmount *uint256.Int) (*Receipt, error) {
	var hf *uint256.Int
	id, err := e.execute(ctx, "deposit_and_mint", func(u *unitOfWork) error {
		_, tok, err := e.collateralFor(asset)
		if err != nil {
			return err
		}
		if isZero(collateralAmount) {
			return fmt.Errorf("collateral: %w", ErrInvalidAmount)
		}
		mint := orZero(mintAmount)

		if err := u.ledger.Deposit(user, asset, collateralAmount); err != nil {
			return err
		}
		// pulled before the health gate; transfer errors take precedence
		if err := e.pullCollateral(ctx, u, tok, user, collateralAmount); err != nil {
			return err
		}
		if !mint.IsZero() {
			if err := u.ledger.AddDebt(user, mint); err != nil {
				return err
			}
			if hf, err = e.requireHealthy(ctx, user); err != nil {
				return err
			}
			if err := e.mintTo(ctx, u, user, mint); err != nil {
				return err
			}
		} else if hf, err = e.healthFactor(ctx, user); err != nil {
			return err
		}

		u.record(Event{
			Type:         EventDepositAndMint,
			User:         user,
			Asset:        asset,
			Collateral:   collateralAmount.Clone(),
			Stable:       mint,
			HealthFactor: hf,
			Timestamp:    e.now(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("deposit and mint: %w", err)
	}
	e.logger.Infow("Deposited and minted", "user", user.Hex(), "asset", asset.Hex(), "collateral", collateralAmount.Dec(), "minted", orZero(mintAmount).Dec())
	return &Receipt{OperationID: id, User: user, HealthFactor: hf}, nil
}

// DepositCollateral adds collateral without minting. It never fails the health check.
func (e *Engine) DepositCollateral(ctx context.Context, user, asset common.Address, amount *uint256.Int) (*Receipt, error) {
	var hf *uint256.Int
	id, err := e.execute(ctx, "deposit", func(u *unitOfWork) error {
		_, tok, err := e.collateralFor(asset)
		if err != nil {
			return err
		}
		if isZero(amount) {
			return ErrInvalidAmount
		}
		if err := u.ledger.Deposit(user, asset, amount); err != nil {
			return err
		}
		if hf, err = e.healthFactor(ctx, user); err != nil {
			return err
		}
		if err := e.pullCollateral(ctx, u, tok, user, amount); err != nil {
			return err
		}
		u.record(Event{
			Type:         EventDeposit,
			User:         user,
			Asset:        asset,
			Collateral:   amount.Clone(),
			HealthFactor: hf,
			Timestamp:    e.now(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("deposit collateral: %w", err)
	}
	e.logger.Infow("Deposited collateral", "user", user.Hex(), "asset", asset.Hex(), "amount", amount.Dec())
	return &Receipt{OperationID: id, User: user, HealthFactor: hf}, nil
}

// MintStable mints against collateral the user already deposited.
func (e *Engine) MintStable(ctx context.Context, user common.Address, amount *uint256.Int) (*Receipt, error) {
	var hf *uint256.Int
	id, err := e.execute(ctx, "mint", func(u *unitOfWork) error {
		if isZero(amount) {
			return ErrInvalidAmount
		}
		if err := u.ledger.AddDebt(user, amount); err != nil {
			return err
		}
		var err error
		if hf, err = e.requireHealthy(ctx, user); err != nil {
			return err
		}
		if err := e.mintTo(ctx, u, user, amount); err != nil {
			return err
		}
		u.record(Event{
			Type:         EventMint,
			User:         user,
			Stable:       amount.Clone(),
			HealthFactor: hf,
			Timestamp:    e.now(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("mint: %w", err)
	}
	e.logger.Infow("Minted stablecoin", "user", user.Hex(), "amount", amount.Dec())
	return &Receipt{OperationID: id, User: user, HealthFactor: hf}, nil
}

// RedeemForStable burns stablecoin and withdraws collateral in one step.
// burnAmount may be zero. The resulting position must stay healthy.
func (e *Engine) RedeemForStable(ctx context.Context, user, asset common.Address, collateralAmount, burnAmount *uint256.Int) (*Receipt, error) {
	var hf *uint256.Int
	id, err := e.execute(ctx, "redeem_for_stable", func(u *unitOfWork) error {
		_, tok, err := e.collateralFor(asset)
		if err != nil {
			return err
		}
		if isZero(collateralAmount) {
			return fmt.Errorf("collateral: %w", ErrInvalidAmount)
		}
		burn := orZero(burnAmount)

		if balance := u.ledger.CollateralOf(user, asset); balance.Lt(collateralAmount) {
			return fmt.Errorf("%w: have %s, want %s", ErrInsufficientCollateral, balance.Dec(), collateralAmount.Dec())
		}
		if !burn.IsZero() {
			if err := u.ledger.SubDebt(user, burn); err != nil {
				return err
			}
		}
		if err := u.ledger.Withdraw(user, asset, collateralAmount); err != nil {
			return err
		}
		if hf, err = e.requireHealthy(ctx, user); err != nil {
			return err
		}

		if !burn.IsZero() {
			if err := e.burnFrom(ctx, u, user, burn); err != nil {
				return err
			}
		}
		if err := e.pushCollateral(ctx, u, tok, user, collateralAmount); err != nil {
			return err
		}

		u.record(Event{
			Type:         EventRedeemForStable,
			User:         user,
			Asset:        asset,
			Collateral:   collateralAmount.Clone(),
			Stable:       burn,
			HealthFactor: hf,
			Timestamp:    e.now(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redeem for stable: %w", err)
	}
	e.logger.Infow("Redeemed collateral for stablecoin", "user", user.Hex(), "asset", asset.Hex(), "collateral", collateralAmount.Dec(), "burned", orZero(burnAmount).Dec())
	return &Receipt{OperationID: id, User: user, HealthFactor: hf}, nil
}

// RedeemCollateral withdraws collateral without repaying debt.
func (e *Engine) RedeemCollateral(ctx context.Context, user, asset common.Address, amount *uint256.Int) (*Receipt, error) {
	var hf *uint256.Int
	id, err := e.execute(ctx, "redeem", func(u *unitOfWork) error {
		_, tok, err := e.collateralFor(asset)
		if err != nil {
			return err
		}
		if isZero(amount) {
			return ErrInvalidAmount
		}
		if err := u.ledger.Withdraw(user, asset, amount); err != nil {
			return err
		}
		if hf, err = e.requireHealthy(ctx, user); err != nil {
			return err
		}
		if err := e.pushCollateral(ctx, u, tok, user, amount); err != nil {
			return err
		}
		u.record(Event{
			Type:         EventRedeem,
			User:         user,
			Asset:        asset,
			Collateral:   amount.Clone(),
			HealthFactor: hf,
			Timestamp:    e.now(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redeem collateral: %w", err)
	}
	e.logger.Infow("Redeemed collateral", "user", user.Hex(), "asset", asset.Hex(), "amount", amount.Dec())
	return &Receipt{OperationID: id, User: user, HealthFactor: hf}, nil
}

// BurnStable repays debt. Repaying can only improve a position, so there is no health check.
func (e *Engine) BurnStable(ctx context.Context, user common.Address, amount *uint256.Int) (*Receipt, error) {
	var hf *uint256.Int
	id, err := e.execute(ctx, "burn", func(u *unitOfWork) error {
		if isZero(amount) {
			return ErrInvalidAmount
		}
		if err := u.ledger.SubDebt(user, amount); err != nil {
			return err
		}
		var err error
		if hf, err = e.healthFactor(ctx, user); err != nil {
			return err
		}
		if err := e.burnFrom(ctx, u, user, amount); err != nil {
			return err
		}
		u.record(Event{
			Type:         EventBurn,
			User:         user,
			Stable:       amount.Clone(),
			HealthFactor: hf,
			Timestamp:    e.now(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("burn: %w", err)
	}
	e.logger.Infow("Burned stablecoin", "user", user.Hex(), "amount", amount.Dec())
	return &Receipt{OperationID: id, User: user, HealthFactor: hf}, nil
}

func (e *Engine) pullCollateral(ctx context.Context, u *unitOfWork, tok token.Collateral, user common.Address, amount *uint256.Int) error {
	return u.call(ctx, "pull collateral",
		func(ctx context.Context) error {
			return tok.TransferFrom(ctx, e.address, user, e.address, amount)
		},
		func(ctx context.Context) error {
			return tok.Transfer(ctx, e.address, user, amount)
		},
	)
}

func (e *Engine) pushCollateral(ctx context.Context, u *unitOfWork, tok token.Collateral, to common.Address, amount *uint256.Int) error {
	return u.call(ctx, "push collateral",
		func(ctx context.Context) error {
			return tok.Transfer(ctx, e.address, to, amount)
		},
		func(ctx context.Context) error {
			return tok.Transfer(ctx, to, e.address, amount)
		},
	)
}

func (e *Engine) mintTo(ctx context.Context, u *unitOfWork, to common.Address, amount *uint256.Int) error {
	return u.call(ctx, "mint stablecoin",
		func(ctx context.Context) error {
			return e.stable.Mint(ctx, e.address, to, amount)
		},
		func(ctx context.Context) error {
			return e.stable.Burn(ctx, e.address, to, amount)
		},
	)
}

func (e *Engine) burnFrom(ctx context.Context, u *unitOfWork, from common.Address, amount *uint256.Int) error {
	return u.call(ctx, "burn stablecoin",
		func(ctx context.Context) error {
			return e.stable.Burn(ctx, e.address, from, amount)
		},
		func(ctx context.Context) error {
			return e.stable.Mint(ctx, e.address, from, amount)
		},
	)
}
