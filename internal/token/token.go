// Package token defines the token capabilities the engine depends on.
package token

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient token balance")
	ErrInsufficientAllowance = errors.New("insufficient token allowance")
	ErrUnauthorizedMinter    = errors.New("caller is not the minter")
)

// Collateral is a fungible collateral token.
type Collateral interface {
	// TransferFrom moves amount from owner to to, spending spender's allowance.
	TransferFrom(ctx context.Context, spender, owner, to common.Address, amount *uint256.Int) error
	// Transfer moves amount held by from to to.
	Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error
	BalanceOf(ctx context.Context, holder common.Address) (*uint256.Int, error)
}

// Stablecoin is the pegged token. Only the minter may create or destroy supply.
type Stablecoin interface {
	Mint(ctx context.Context, minter, to common.Address, amount *uint256.Int) error
	Burn(ctx context.Context, minter, from common.Address, amount *uint256.Int) error
	BalanceOf(ctx context.Context, holder common.Address) (*uint256.Int, error)
}
