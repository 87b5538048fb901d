// Package memory provides in-process token implementations.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/leafsii/leafsii-dsc/internal/token"
)

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

// Token is a fungible token with balances and allowances.
type Token struct {
	symbol string

	mu          sync.RWMutex
	balances    map[common.Address]*uint256.Int
	allowances  map[allowanceKey]*uint256.Int
	totalSupply *uint256.Int
}

var _ token.Collateral = (*Token)(nil)

func NewToken(symbol string) *Token {
	return &Token{
		symbol:      symbol,
		balances:    make(map[common.Address]*uint256.Int),
		allowances:  make(map[allowanceKey]*uint256.Int),
		totalSupply: new(uint256.Int),
	}
}

func (t *Token) Symbol() string {
	return t.symbol
}

// Approve sets the amount spender may move on behalf of owner.
func (t *Token) Approve(_ context.Context, owner, spender common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.allowances[allowanceKey{owner, spender}] = amount.Clone()
	return nil
}

func (t *Token) Allowance(_ context.Context, owner, spender common.Address) (*uint256.Int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if a, ok := t.allowances[allowanceKey{owner, spender}]; ok {
		return a.Clone(), nil
	}
	return new(uint256.Int), nil
}

func (t *Token) BalanceOf(_ context.Context, holder common.Address) (*uint256.Int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.balanceOf(holder), nil
}

func (t *Token) TotalSupply() *uint256.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.totalSupply.Clone()
}

func (t *Token) Transfer(_ context.Context, from, to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.move(from, to, amount)
}

func (t *Token) TransferFrom(_ context.Context, spender, owner, to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := allowanceKey{owner, spender}
	allowance, ok := t.allowances[key]
	if !ok || allowance.Lt(amount) {
		have := "0"
		if ok {
			have = allowance.Dec()
		}
		return fmt.Errorf("%s: %w: allowance %s, want %s", t.symbol, token.ErrInsufficientAllowance, have, amount.Dec())
	}
	if err := t.move(owner, to, amount); err != nil {
		return err
	}
	t.allowances[key] = new(uint256.Int).Sub(allowance, amount)
	return nil
}

// Mint creates amount for to. It has no access control; see Stablecoin for that.
func (t *Token) Mint(_ context.Context, to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mint(to, amount)
}

// Burn destroys amount held by from.
func (t *Token) Burn(_ context.Context, from common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.burn(from, amount)
}

func (t *Token) balanceOf(holder common.Address) *uint256.Int {
	if b, ok := t.balances[holder]; ok {
		return b.Clone()
	}
	return new(uint256.Int)
}

func (t *Token) move(from, to common.Address, amount *uint256.Int) error {
	balance := t.balanceOf(from)
	if balance.Lt(amount) {
		return fmt.Errorf("%s: %w: balance %s, want %s", t.symbol, token.ErrInsufficientBalance, balance.Dec(), amount.Dec())
	}
	t.balances[from] = new(uint256.Int).Sub(balance, amount)
	t.balances[to] = new(uint256.Int).Add(t.balanceOf(to), amount)
	return nil
}

func (t *Token) mint(to common.Address, amount *uint256.Int) error {
	supply, overflow := new(uint256.Int).AddOverflow(t.totalSupply, amount)
	if overflow {
		return fmt.Errorf("%s: total supply overflow", t.symbol)
	}
	t.totalSupply = supply
	t.balances[to] = new(uint256.Int).Add(t.balanceOf(to), amount)
	return nil
}

func (t *Token) burn(from common.Address, amount *uint256.Int) error {
	balance := t.balanceOf(from)
	if balance.Lt(amount) {
		return fmt.Errorf("%s: %w: balance %s, want %s", t.symbol, token.ErrInsufficientBalance, balance.Dec(), amount.Dec())
	}
	t.balances[from] = new(uint256.Int).Sub(balance, amount)
	t.totalSupply = new(uint256.Int).Sub(t.totalSupply, amount)
	return nil
}
