package ledger

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	weth  = common.HexToAddress("0x000000000000000000000000000000000000e7e0")
	wbtc  = common.HexToAddress("0x000000000000000000000000000000000000b7c0")
)

func TestDepositWithdraw(t *testing.T) {
	l := New()

	require.NoError(t, l.Deposit(alice, weth, uint256.NewInt(100)))
	require.NoError(t, l.Deposit(bob, weth, uint256.NewInt(40)))
	require.NoError(t, l.Deposit(alice, wbtc, uint256.NewInt(7)))

	assert.Equal(t, uint64(100), l.CollateralOf(alice, weth).Uint64())
	assert.Equal(t, uint64(140), l.Custody(weth).Uint64())
	assert.Equal(t, uint64(7), l.Custody(wbtc).Uint64())

	require.NoError(t, l.Withdraw(alice, weth, uint256.NewInt(30)))
	assert.Equal(t, uint64(70), l.CollateralOf(alice, weth).Uint64())
	assert.Equal(t, uint64(110), l.Custody(weth).Uint64())

	err := l.Withdraw(bob, weth, uint256.NewInt(41))
	assert.ErrorIs(t, err, ErrInsufficientCollateral)
	assert.Equal(t, uint64(40), l.CollateralOf(bob, weth).Uint64())

	assert.ErrorIs(t, l.Deposit(alice, weth, new(uint256.Int)), ErrInvalidAmount)
	assert.ErrorIs(t, l.Withdraw(alice, weth, nil), ErrInvalidAmount)
}

func TestCustodyMatchesSumOfBalances(t *testing.T) {
	l := New()
	require.NoError(t, l.Deposit(alice, weth, uint256.NewInt(5)))
	require.NoError(t, l.Deposit(bob, weth, uint256.NewInt(9)))
	require.NoError(t, l.Withdraw(bob, weth, uint256.NewInt(4)))

	sum := new(uint256.Int)
	for _, user := range l.Users() {
		sum.Add(sum, l.CollateralOf(user, weth))
	}
	assert.Equal(t, l.Custody(weth).Dec(), sum.Dec())
}

func TestDebt(t *testing.T) {
	l := New()
	require.NoError(t, l.AddDebt(alice, uint256.NewInt(50)))
	require.NoError(t, l.SubDebt(alice, uint256.NewInt(20)))
	assert.Equal(t, uint64(30), l.DebtOf(alice).Uint64())

	assert.ErrorIs(t, l.SubDebt(alice, uint256.NewInt(31)), ErrBurnExceedsDebt)
	assert.ErrorIs(t, l.SubDebt(bob, uint256.NewInt(1)), ErrBurnExceedsDebt)

	require.NoError(t, l.WriteOff(alice, uint256.NewInt(30)))
	assert.True(t, l.DebtOf(alice).IsZero())
	assert.Equal(t, uint64(30), l.BadDebt().Uint64())
}

func TestSequesterKeepsCustody(t *testing.T) {
	l := New()
	require.NoError(t, l.Deposit(alice, weth, uint256.NewInt(100)))

	require.NoError(t, l.Sequester(alice, weth, uint256.NewInt(60)))
	assert.Equal(t, uint64(40), l.CollateralOf(alice, weth).Uint64())
	assert.Equal(t, uint64(60), l.Reserve(weth).Uint64())
	assert.Equal(t, uint64(100), l.Custody(weth).Uint64())

	assert.ErrorIs(t, l.Sequester(alice, weth, uint256.NewInt(41)), ErrInsufficientCollateral)
	assert.ErrorIs(t, l.Sequester(alice, weth, nil), ErrInvalidAmount)
	assert.True(t, l.Reserve(wbtc).IsZero())

	snap := l.Snapshot()
	require.NoError(t, l.Sequester(alice, weth, uint256.NewInt(40)))
	assert.Equal(t, uint64(100), l.Reserve(weth).Uint64())
	l.Restore(snap)
	assert.Equal(t, uint64(60), l.Reserve(weth).Uint64())
	assert.Equal(t, uint64(40), l.CollateralOf(alice, weth).Uint64())
}

func TestSnapshotRestore(t *testing.T) {
	l := New()
	require.NoError(t, l.Deposit(alice, weth, uint256.NewInt(10)))
	require.NoError(t, l.AddDebt(alice, uint256.NewInt(3)))

	snap := l.Snapshot()

	require.NoError(t, l.Deposit(alice, weth, uint256.NewInt(90)))
	require.NoError(t, l.Deposit(bob, wbtc, uint256.NewInt(1)))
	require.NoError(t, l.WriteOff(alice, uint256.NewInt(3)))

	l.Restore(snap)
	assert.Equal(t, uint64(10), l.CollateralOf(alice, weth).Uint64())
	assert.Equal(t, uint64(3), l.DebtOf(alice).Uint64())
	assert.True(t, l.Custody(wbtc).IsZero())
	assert.True(t, l.BadDebt().IsZero())
	_, ok := l.Account(bob)
	assert.False(t, ok)

	// mutating after restore must not leak into the snapshot
	require.NoError(t, l.Deposit(alice, weth, uint256.NewInt(1)))
	l.Restore(snap)
	assert.Equal(t, uint64(10), l.CollateralOf(alice, weth).Uint64())
}

func TestCopiesAreDetached(t *testing.T) {
	l := New()
	require.NoError(t, l.Deposit(alice, weth, uint256.NewInt(10)))

	balance := l.CollateralOf(alice, weth)
	balance.SetUint64(999)
	acc, ok := l.Account(alice)
	require.True(t, ok)
	acc.Collateral[weth].SetUint64(999)

	assert.Equal(t, uint64(10), l.CollateralOf(alice, weth).Uint64())
}
