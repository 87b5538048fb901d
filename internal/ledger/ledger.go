// Package ledger keeps per-user collateral and debt balances together with the
// engine's custody totals. It is not safe for concurrent use; the engine
// serializes access.
package ledger

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/leafsii/leafsii-dsc/internal/calc"
)

var (
	ErrInvalidAmount          = errors.New("amount must be positive")
	ErrInsufficientCollateral = errors.New("insufficient collateral")
	ErrBurnExceedsDebt        = errors.New("burn amount exceeds debt")
	ErrOverflow               = calc.ErrOverflow
)

// Account is the position of one user.
type Account struct {
	Collateral map[common.Address]*uint256.Int
	Debt       *uint256.Int
}

func newAccount() *Account {
	return &Account{
		Collateral: make(map[common.Address]*uint256.Int),
		Debt:       new(uint256.Int),
	}
}

func (a *Account) clone() *Account {
	c := &Account{
		Collateral: make(map[common.Address]*uint256.Int, len(a.Collateral)),
		Debt:       a.Debt.Clone(),
	}
	for asset, amount := range a.Collateral {
		c.Collateral[asset] = amount.Clone()
	}
	return c
}

// Ledger holds every account and the aggregate custody per asset. Custody
// covers both user balances and collateral held in the protocol reserve.
type Ledger struct {
	accounts map[common.Address]*Account
	custody  map[common.Address]*uint256.Int
	reserve  map[common.Address]*uint256.Int
	badDebt  *uint256.Int
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{
		accounts: make(map[common.Address]*Account),
		custody:  make(map[common.Address]*uint256.Int),
		reserve:  make(map[common.Address]*uint256.Int),
		badDebt:  new(uint256.Int),
	}
}

// Deposit credits amount of asset to user, creating the account on first use.
func (l *Ledger) Deposit(user, asset common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	acc := l.ensure(user)
	balance := acc.Collateral[asset]
	if balance == nil {
		balance = new(uint256.Int)
	}
	newBalance, overflow := new(uint256.Int).AddOverflow(balance, amount)
	if overflow {
		return ErrOverflow
	}
	custody, overflow := new(uint256.Int).AddOverflow(l.Custody(asset), amount)
	if overflow {
		return ErrOverflow
	}
	acc.Collateral[asset] = newBalance
	l.custody[asset] = custody
	return nil
}

// Withdraw debits amount of asset from user.
func (l *Ledger) Withdraw(user, asset common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	balance := l.CollateralOf(user, asset)
	if balance.Lt(amount) {
		return fmt.Errorf("%w: have %s, want %s", ErrInsufficientCollateral, balance.Dec(), amount.Dec())
	}
	acc := l.ensure(user)
	acc.Collateral[asset] = new(uint256.Int).Sub(balance, amount)
	l.custody[asset] = new(uint256.Int).Sub(l.Custody(asset), amount)
	return nil
}

// Sequester moves amount of asset from user into the protocol reserve. The
// tokens stay in custody.
func (l *Ledger) Sequester(user, asset common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	balance := l.CollateralOf(user, asset)
	if balance.Lt(amount) {
		return fmt.Errorf("%w: have %s, want %s", ErrInsufficientCollateral, balance.Dec(), amount.Dec())
	}
	reserve, overflow := new(uint256.Int).AddOverflow(l.Reserve(asset), amount)
	if overflow {
		return ErrOverflow
	}
	l.ensure(user).Collateral[asset] = new(uint256.Int).Sub(balance, amount)
	l.reserve[asset] = reserve
	return nil
}

// AddDebt increases the stablecoin debt of user.
func (l *Ledger) AddDebt(user common.Address, amount *uint256.Int) error {
	acc := l.ensure(user)
	debt, overflow := new(uint256.Int).AddOverflow(acc.Debt, amount)
	if overflow {
		return ErrOverflow
	}
	acc.Debt = debt
	return nil
}

// SubDebt decreases the stablecoin debt of user.
func (l *Ledger) SubDebt(user common.Address, amount *uint256.Int) error {
	debt := l.DebtOf(user)
	if debt.Lt(amount) {
		return fmt.Errorf("%w: debt %s, burn %s", ErrBurnExceedsDebt, debt.Dec(), amount.Dec())
	}
	l.ensure(user).Debt = new(uint256.Int).Sub(debt, amount)
	return nil
}

// WriteOff clears amount of user's debt and books it as protocol bad debt.
func (l *Ledger) WriteOff(user common.Address, amount *uint256.Int) error {
	if err := l.SubDebt(user, amount); err != nil {
		return err
	}
	total, overflow := new(uint256.Int).AddOverflow(l.badDebt, amount)
	if overflow {
		return ErrOverflow
	}
	l.badDebt = total
	return nil
}

// CollateralOf returns a copy of user's balance of asset.
func (l *Ledger) CollateralOf(user, asset common.Address) *uint256.Int {
	acc, ok := l.accounts[user]
	if !ok {
		return new(uint256.Int)
	}
	if balance, ok := acc.Collateral[asset]; ok {
		return balance.Clone()
	}
	return new(uint256.Int)
}

// DebtOf returns a copy of user's debt.
func (l *Ledger) DebtOf(user common.Address) *uint256.Int {
	if acc, ok := l.accounts[user]; ok {
		return acc.Debt.Clone()
	}
	return new(uint256.Int)
}

// Account returns a deep copy of user's account and whether it exists.
func (l *Ledger) Account(user common.Address) (*Account, bool) {
	acc, ok := l.accounts[user]
	if !ok {
		return newAccount(), false
	}
	return acc.clone(), true
}

// Custody returns the total amount of asset recorded across all users and the reserve.
func (l *Ledger) Custody(asset common.Address) *uint256.Int {
	if total, ok := l.custody[asset]; ok {
		return total.Clone()
	}
	return new(uint256.Int)
}

// Reserve returns the amount of asset sequestered from liquidated accounts.
func (l *Ledger) Reserve(asset common.Address) *uint256.Int {
	if total, ok := l.reserve[asset]; ok {
		return total.Clone()
	}
	return new(uint256.Int)
}

// BadDebt returns the debt written off by liquidations that ran out of collateral.
func (l *Ledger) BadDebt() *uint256.Int {
	return l.badDebt.Clone()
}

// Users lists every account holder in a stable order.
func (l *Ledger) Users() []common.Address {
	users := make([]common.Address, 0, len(l.accounts))
	for user := range l.accounts {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].Cmp(users[j]) < 0
	})
	return users
}

func (l *Ledger) ensure(user common.Address) *Account {
	acc, ok := l.accounts[user]
	if !ok {
		acc = newAccount()
		l.accounts[user] = acc
	}
	return acc
}
