package memory

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/leafsii/leafsii-dsc/internal/token"
)

// Stablecoin is a Token whose supply only the minter can change.
type Stablecoin struct {
	*Token
	minter common.Address
}

var _ token.Stablecoin = (*Stablecoin)(nil)

func NewStablecoin(symbol string, minter common.Address) *Stablecoin {
	return &Stablecoin{Token: NewToken(symbol), minter: minter}
}

func (s *Stablecoin) Minter() common.Address {
	return s.minter
}

func (s *Stablecoin) Mint(_ context.Context, minter, to common.Address, amount *uint256.Int) error {
	if minter != s.minter {
		return fmt.Errorf("%s: %w: %s", s.symbol, token.ErrUnauthorizedMinter, minter.Hex())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mint(to, amount)
}

func (s *Stablecoin) Burn(_ context.Context, minter, from common.Address, amount *uint256.Int) error {
	if minter != s.minter {
		return fmt.Errorf("%s: %w: %s", s.symbol, token.ErrUnauthorizedMinter, minter.Hex())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.burn(from, amount)
}
