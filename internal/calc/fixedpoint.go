package calc

import (
	"errors"

	"github.com/holiman/uint256"
)

// PriceDecimals is the precision every normalized price and USD value carries.
const PriceDecimals = 18

var (
	// Precision is 1e18, the fixed-point unit shared by prices, USD values and debt.
	Precision = Pow10(PriceDecimals)

	ErrOverflow       = errors.New("fixed-point overflow")
	ErrDivisionByZero = errors.New("fixed-point division by zero")
)

// Pow10 returns 10^n as a fresh uint256.
func Pow10(n uint8) *uint256.Int {
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(n)))
}

// ScalePrice rescales a raw feed reading with the given native precision to 18 decimals:
// price18 = raw * 10^(18 - decimals). Feeds quoting more than 18 decimals are divided down.
func ScalePrice(raw *uint256.Int, decimals uint8) (*uint256.Int, error) {
	if raw == nil {
		return new(uint256.Int), nil
	}
	if decimals > PriceDecimals {
		return new(uint256.Int).Div(raw, Pow10(decimals-PriceDecimals)), nil
	}
	scaled, overflow := new(uint256.Int).MulOverflow(raw, Pow10(PriceDecimals-decimals))
	if overflow {
		return nil, ErrOverflow
	}
	return scaled, nil
}

// USDValue converts an asset amount in native units to an 18-decimal USD value:
// amount * price18 / 10^assetDecimals.
func USDValue(amount, price18 *uint256.Int, assetDecimals uint8) (*uint256.Int, error) {
	if amount == nil || price18 == nil || amount.IsZero() || price18.IsZero() {
		return new(uint256.Int), nil
	}
	value, overflow := new(uint256.Int).MulDivOverflow(amount, price18, Pow10(assetDecimals))
	if overflow {
		return nil, ErrOverflow
	}
	return value, nil
}

// TokenAmountFromUSD is the inverse of USDValue: usd * 10^assetDecimals / price18.
// The result rounds down.
func TokenAmountFromUSD(usd, price18 *uint256.Int, assetDecimals uint8) (*uint256.Int, error) {
	if price18 == nil || price18.IsZero() {
		return nil, ErrDivisionByZero
	}
	if usd == nil || usd.IsZero() {
		return new(uint256.Int), nil
	}
	amount, overflow := new(uint256.Int).MulDivOverflow(usd, Pow10(assetDecimals), price18)
	if overflow {
		return nil, ErrOverflow
	}
	return amount, nil
}

// Add returns a+b or ErrOverflow.
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return sum, nil
}

// Min returns a copy of the smaller operand.
func Min(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return a.Clone()
	}
	return b.Clone()
}
