package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/leafsii/leafsii-dsc/internal/calc"
	"github.com/leafsii/leafsii-dsc/internal/prices"
	"github.com/leafsii/leafsii-dsc/internal/prices/mock"
	"github.com/leafsii/leafsii-dsc/internal/token"
	"github.com/leafsii/leafsii-dsc/internal/token/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	engineAddr = common.HexToAddress("0x00000000000000000000000000000000000e4e1e")
	alice      = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob        = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	liquidator = common.HexToAddress("0x000000000000000000000000000000000000110c")
	weth       = common.HexToAddress("0x000000000000000000000000000000000000e7e0")
	wbtc       = common.HexToAddress("0x000000000000000000000000000000000000b7c0")
	unknown    = common.HexToAddress("0x000000000000000000000000000000000000dead")

	oneDollar = uint256.NewInt(100_000_000)
)

type testEnv struct {
	engine *Engine
	feed   *mock.Feed
	weth   *memory.Token
	wbtc   *memory.Token
	dsc    *memory.Stablecoin
}

func ether(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), calc.Precision)
}

func newEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	return newEnvWithStable(t, memory.NewStablecoin("DSC", engineAddr), opts...)
}

func newEnvWithStable(t *testing.T, dsc *memory.Stablecoin, opts ...Option) *testEnv {
	t.Helper()

	registry, err := prices.NewRegistry([]prices.CollateralAssetConfig{
		{AssetID: weth, Symbol: "WETH", PriceFeed: "ETHUSD", Decimals: 18},
		{AssetID: wbtc, Symbol: "WBTC", PriceFeed: "BTCUSD", Decimals: 8},
	})
	require.NoError(t, err)

	feed := mock.NewFeed(nil, mock.DefaultDecimals, 0)
	feed.SetPrice("ETHUSD", oneDollar)
	feed.SetPrice("BTCUSD", new(uint256.Int).Mul(oneDollar, uint256.NewInt(30_000)))

	env := &testEnv{
		feed: feed,
		weth: memory.NewToken("WETH"),
		wbtc: memory.NewToken("WBTC"),
		dsc:  dsc,
	}
	env.engine, err = New(engineAddr, prices.NewOracle(registry, feed), map[common.Address]token.Collateral{
		weth: env.weth,
		wbtc: env.wbtc,
	}, dsc, opts...)
	require.NoError(t, err)
	return env
}

// fund gives user amount of tok and approves the engine to pull it.
func (env *testEnv) fund(t *testing.T, tok *memory.Token, user common.Address, amount *uint256.Int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, tok.Mint(ctx, user, amount))
	require.NoError(t, tok.Approve(ctx, user, engineAddr, amount))
}

func (env *testEnv) setEthPrice(raw uint64) {
	env.feed.SetPrice("ETHUSD", uint256.NewInt(raw))
}

func balanceOf(t *testing.T, tok interface {
	BalanceOf(context.Context, common.Address) (*uint256.Int, error)
}, holder common.Address) *uint256.Int {
	t.Helper()
	b, err := tok.BalanceOf(context.Background(), holder)
	require.NoError(t, err)
	return b
}

// assertCustody checks that recorded custody matches the engine's token holdings.
func (env *testEnv) assertCustody(t *testing.T) {
	t.Helper()
	assert.Equal(t, balanceOf(t, env.weth, engineAddr).Dec(), env.engine.Custody(weth).Dec(), "weth custody")
	assert.Equal(t, balanceOf(t, env.wbtc, engineAddr).Dec(), env.engine.Custody(wbtc).Dec(), "wbtc custody")
}

func (env *testEnv) position(t *testing.T, user common.Address) (collateral, debt *uint256.Int) {
	t.Helper()
	collateral, err := env.engine.CollateralBalance(user, weth)
	require.NoError(t, err)
	_, debt, err = env.engine.AccountInfo(context.Background(), user)
	require.NoError(t, err)
	return collateral, debt
}

func TestNewValidatesConfiguration(t *testing.T) {
	registry, err := prices.NewRegistry([]prices.CollateralAssetConfig{
		{AssetID: weth, Symbol: "WETH", PriceFeed: "ETHUSD", Decimals: 18},
	})
	require.NoError(t, err)
	oracle := prices.NewOracle(registry, mock.NewFeed(nil, mock.DefaultDecimals, 0))
	dsc := memory.NewStablecoin("DSC", engineAddr)

	_, err = New(engineAddr, oracle, map[common.Address]token.Collateral{}, dsc)
	assert.Error(t, err, "missing collateral token")

	_, err = New(engineAddr, oracle, map[common.Address]token.Collateral{weth: memory.NewToken("WETH")}, dsc,
		WithParams(Params{LiquidationThresholdPct: 95, LiquidationBonusPct: 10}))
	assert.Error(t, err, "threshold too high for bonus")

	e, err := New(engineAddr, oracle, map[common.Address]token.Collateral{weth: memory.NewToken("WETH")}, dsc)
	require.NoError(t, err)
	assert.Equal(t, DefaultParams(), e.Params())
	assert.Len(t, e.Assets(), 1)
}

func TestDepositAccounting(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.fund(t, env.weth, alice, ether(100))

	_, err := env.engine.DepositCollateral(ctx, alice, weth, ether(100))
	require.NoError(t, err)

	balance, err := env.engine.CollateralBalance(alice, weth)
	require.NoError(t, err)
	assert.Equal(t, ether(100).Dec(), balance.Dec())
	assert.True(t, balanceOf(t, env.weth, alice).IsZero())
	assert.Equal(t, ether(100).Dec(), balanceOf(t, env.weth, engineAddr).Dec())

	collateralUSD, debt, err := env.engine.AccountInfo(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, ether(100).Dec(), collateralUSD.Dec())
	assert.True(t, debt.IsZero())

	hf, err := env.engine.HealthFactor(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, calc.MaxHealthFactor().Dec(), hf.Dec())
	env.assertCustody(t)
}

func TestMintGating(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.fund(t, env.weth, alice, ether(100))
	env.fund(t, env.weth, bob, ether(100))

	receipt, err := env.engine.DepositAndMint(ctx, alice, weth, ether(100), ether(50))
	require.NoError(t, err)
	assert.Equal(t, calc.Precision.Dec(), receipt.HealthFactor.Dec())

	collateral, debt := env.position(t, alice)
	assert.Equal(t, ether(100).Dec(), collateral.Dec())
	assert.Equal(t, ether(50).Dec(), debt.Dec())
	assert.Equal(t, ether(50).Dec(), balanceOf(t, env.dsc, alice).Dec())

	_, err = env.engine.DepositAndMint(ctx, bob, weth, ether(100), ether(200))
	assert.ErrorIs(t, err, ErrHealthFactorTooLow)

	collateral, debt = env.position(t, bob)
	assert.True(t, collateral.IsZero())
	assert.True(t, debt.IsZero())
	assert.Equal(t, ether(100).Dec(), balanceOf(t, env.weth, bob).Dec())
	assert.True(t, balanceOf(t, env.dsc, bob).IsZero())
	env.assertCustody(t)
}

func TestDepositAndMintTransfersBeforeHealthCheck(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	require.NoError(t, env.weth.Mint(ctx, bob, ether(100)))

	_, err := env.engine.DepositAndMint(ctx, bob, weth, ether(100), ether(200))
	assert.ErrorIs(t, err, token.ErrInsufficientAllowance)
	assert.NotErrorIs(t, err, ErrHealthFactorTooLow)

	collateral, debt := env.position(t, bob)
	assert.True(t, collateral.IsZero())
	assert.True(t, debt.IsZero())
	assert.Equal(t, ether(100).Dec(), balanceOf(t, env.weth, bob).Dec())
	env.assertCustody(t)
}

func TestMintStableAgainstExistingCollateral(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.fund(t, env.weth, alice, ether(100))

	_, err := env.engine.DepositCollateral(ctx, alice, weth, ether(100))
	require.NoError(t, err)

	_, err = env.engine.MintStable(ctx, alice, ether(30))
	require.NoError(t, err)
	_, err = env.engine.MintStable(ctx, alice, ether(21))
	assert.ErrorIs(t, err, ErrHealthFactorTooLow)
	_, err = env.engine.MintStable(ctx, alice, ether(20))
	require.NoError(t, err)

	_, debt := env.position(t, alice)
	assert.Equal(t, ether(50).Dec(), debt.Dec())

	_, err = env.engine.MintStable(ctx, alice, new(uint256.Int))
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestUnregisteredAssetRejected(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	_, err := env.engine.DepositAndMint(ctx, alice, unknown, ether(1), ether(0))
	assert.ErrorIs(t, err, ErrInvalidCollateralToken)

	_, err = env.engine.DepositCollateral(ctx, alice, unknown, ether(1))
	assert.ErrorIs(t, err, ErrInvalidCollateralToken)

	_, err = env.engine.RedeemForStable(ctx, alice, unknown, ether(1), ether(0))
	assert.ErrorIs(t, err, ErrInvalidCollateralToken)

	_, err = env.engine.CollateralBalance(alice, unknown)
	assert.ErrorIs(t, err, ErrInvalidCollateralToken)

	_, err = env.engine.USDValue(ctx, unknown, ether(1))
	assert.ErrorIs(t, err, ErrInvalidCollateralToken)

	_, err = env.engine.Price(ctx, unknown)
	assert.ErrorIs(t, err, ErrInvalidCollateralToken)
}

func TestInvalidAmounts(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	_, err := env.engine.DepositAndMint(ctx, alice, weth, new(uint256.Int), ether(1))
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = env.engine.DepositCollateral(ctx, alice, weth, nil)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = env.engine.RedeemCollateral(ctx, alice, weth, new(uint256.Int))
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = env.engine.BurnStable(ctx, alice, nil)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestRedeemSymmetry(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.fund(t, env.weth, alice, ether(100))

	_, err := env.engine.DepositAndMint(ctx, alice, weth, ether(100), ether(50))
	require.NoError(t, err)

	receipt, err := env.engine.RedeemForStable(ctx, alice, weth, ether(100), ether(50))
	require.NoError(t, err)
	assert.Equal(t, calc.MaxHealthFactor().Dec(), receipt.HealthFactor.Dec())

	collateral, debt := env.position(t, alice)
	assert.True(t, collateral.IsZero())
	assert.True(t, debt.IsZero())
	assert.Equal(t, ether(100).Dec(), balanceOf(t, env.weth, alice).Dec())
	assert.True(t, balanceOf(t, env.dsc, alice).IsZero())
	assert.True(t, env.dsc.TotalSupply().IsZero())
	env.assertCustody(t)
}

func TestRedeemInsufficiency(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.fund(t, env.weth, alice, ether(100))

	_, err := env.engine.DepositAndMint(ctx, alice, weth, ether(100), ether(50))
	require.NoError(t, err)

	_, err = env.engine.RedeemForStable(ctx, alice, weth, ether(101), ether(50))
	assert.ErrorIs(t, err, ErrInsufficientCollateral)

	// collateral is checked before debt capacity
	_, err = env.engine.RedeemForStable(ctx, alice, weth, ether(101), ether(500))
	assert.ErrorIs(t, err, ErrInsufficientCollateral)

	_, err = env.engine.RedeemForStable(ctx, alice, weth, ether(10), ether(51))
	assert.ErrorIs(t, err, ErrBurnExceedsDebt)

	collateral, debt := env.position(t, alice)
	assert.Equal(t, ether(100).Dec(), collateral.Dec())
	assert.Equal(t, ether(50).Dec(), debt.Dec())
	assert.Equal(t, ether(50).Dec(), balanceOf(t, env.dsc, alice).Dec())
	env.assertCustody(t)
}

func TestRedeemKeepsPositionHealthy(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.fund(t, env.weth, alice, ether(100))

	_, err := env.engine.DepositAndMint(ctx, alice, weth, ether(100), ether(40))
	require.NoError(t, err)

	_, err = env.engine.RedeemForStable(ctx, alice, weth, ether(30), new(uint256.Int))
	assert.ErrorIs(t, err, ErrHealthFactorTooLow)
	_, err = env.engine.RedeemCollateral(ctx, alice, weth, ether(30))
	assert.ErrorIs(t, err, ErrHealthFactorTooLow)

	_, err = env.engine.RedeemCollateral(ctx, alice, weth, ether(20))
	require.NoError(t, err)

	_, err = env.engine.BurnStable(ctx, alice, ether(41))
	assert.ErrorIs(t, err, ErrBurnExceedsDebt)
	_, err = env.engine.BurnStable(ctx, alice, ether(40))
	require.NoError(t, err)

	_, err = env.engine.RedeemCollateral(ctx, alice, weth, ether(80))
	require.NoError(t, err)
	assert.Equal(t, ether(100).Dec(), balanceOf(t, env.weth, alice).Dec())
	env.assertCustody(t)
}

func TestLiquidationGate(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.fund(t, env.weth, alice, ether(100))
	env.fund(t, env.weth, liquidator, ether(100))

	_, err := env.engine.DepositAndMint(ctx, alice, weth, ether(100), ether(50))
	require.NoError(t, err)
	_, err = env.engine.DepositAndMint(ctx, liquidator, weth, ether(100), ether(10))
	require.NoError(t, err)

	_, err = env.engine.Liquidate(ctx, liquidator, alice)
	assert.ErrorIs(t, err, ErrHealthFactorSufficient)

	env.setEthPrice(10_000)

	hf, err := env.engine.HealthFactor(ctx, alice)
	require.NoError(t, err)
	assert.False(t, calc.IsHealthy(hf))

	result, err := env.engine.Liquidate(ctx, liquidator, alice)
	require.NoError(t, err)

	// collateral is worth $0.01, so the liquidator repays what that covers after the bonus
	collateralUSD := uint256.NewInt(10_000_000_000_000_000)
	repay := new(uint256.Int).Div(new(uint256.Int).Mul(collateralUSD, uint256.NewInt(100)), uint256.NewInt(110))
	shortfall := new(uint256.Int).Sub(ether(50), repay)

	assert.Equal(t, repay.Dec(), result.DebtRepaid.Dec())
	assert.Equal(t, shortfall.Dec(), result.BadDebt.Dec())
	assert.Equal(t, ether(100).Dec(), result.Seized[weth].Dec())
	assert.Equal(t, hf.Dec(), result.HealthBefore.Dec())
	assert.Equal(t, calc.MaxHealthFactor().Dec(), result.HealthAfter.Dec())

	collateral, debt := env.position(t, alice)
	assert.True(t, collateral.IsZero())
	assert.True(t, debt.IsZero())
	assert.Equal(t, shortfall.Dec(), env.engine.BadDebt().Dec())

	assert.Equal(t, ether(100).Dec(), balanceOf(t, env.weth, liquidator).Dec())
	assert.Equal(t, new(uint256.Int).Sub(ether(10), repay).Dec(), balanceOf(t, env.dsc, liquidator).Dec())
	env.assertCustody(t)
}

func TestPartialLiquidationWithoutBadDebt(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.fund(t, env.weth, alice, ether(100))
	env.fund(t, env.weth, liquidator, ether(200))

	_, err := env.engine.DepositAndMint(ctx, alice, weth, ether(100), ether(50))
	require.NoError(t, err)
	_, err = env.engine.DepositAndMint(ctx, liquidator, weth, ether(200), ether(50))
	require.NoError(t, err)

	env.setEthPrice(90_000_000) // $0.90

	result, err := env.engine.Liquidate(ctx, liquidator, alice)
	require.NoError(t, err)

	// $55 of collateral at $0.90
	seized, _ := uint256.FromDecimal("61111111111111111111")
	assert.Equal(t, ether(50).Dec(), result.DebtRepaid.Dec())
	assert.True(t, result.BadDebt.IsZero())
	assert.Equal(t, seized.Dec(), result.Seized[weth].Dec())

	collateral, debt := env.position(t, alice)
	assert.Equal(t, new(uint256.Int).Sub(ether(100), seized).Dec(), collateral.Dec())
	assert.True(t, debt.IsZero())
	assert.True(t, env.engine.BadDebt().IsZero())
	assert.True(t, balanceOf(t, env.dsc, liquidator).IsZero())
	assert.Equal(t, seized.Dec(), balanceOf(t, env.weth, liquidator).Dec())
	env.assertCustody(t)
}

func TestLiquidationSeizesInRegistrationOrder(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.fund(t, env.weth, alice, ether(100))
	env.fund(t, env.wbtc, alice, uint256.NewInt(100_000)) // 0.001 BTC, $30
	env.fund(t, env.weth, liquidator, ether(200))

	_, err := env.engine.DepositCollateral(ctx, alice, wbtc, uint256.NewInt(100_000))
	require.NoError(t, err)
	_, err = env.engine.DepositAndMint(ctx, alice, weth, ether(100), ether(60))
	require.NoError(t, err)
	_, err = env.engine.DepositAndMint(ctx, liquidator, weth, ether(200), ether(60))
	require.NoError(t, err)

	env.setEthPrice(50_000_000) // $0.50, alice holds $80

	result, err := env.engine.Liquidate(ctx, liquidator, alice)
	require.NoError(t, err)

	// repay 60, seize $66: all 100 WETH ($50) then $16 of WBTC
	assert.Equal(t, ether(60).Dec(), result.DebtRepaid.Dec())
	assert.Equal(t, ether(100).Dec(), result.Seized[weth].Dec())
	assert.Equal(t, "53333", result.Seized[wbtc].Dec())

	remaining, err := env.engine.CollateralBalance(alice, wbtc)
	require.NoError(t, err)
	assert.Equal(t, "46667", remaining.Dec())
	env.assertCustody(t)
}

func TestLiquidationByLiquidatorWithoutStablecoin(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.fund(t, env.weth, alice, ether(100))

	_, err := env.engine.DepositAndMint(ctx, alice, weth, ether(100), ether(50))
	require.NoError(t, err)
	env.setEthPrice(10_000)

	result, err := env.engine.Liquidate(ctx, liquidator, alice)
	require.NoError(t, err)

	assert.True(t, result.DebtRepaid.IsZero())
	assert.Equal(t, ether(50).Dec(), result.BadDebt.Dec())
	assert.Empty(t, result.Seized)
	assert.Equal(t, ether(100).Dec(), result.Reserved[weth].Dec())
	assert.Equal(t, calc.MaxHealthFactor().Dec(), result.HealthAfter.Dec())

	collateral, debt := env.position(t, alice)
	assert.True(t, collateral.IsZero())
	assert.True(t, debt.IsZero())
	assert.Equal(t, ether(50).Dec(), env.engine.BadDebt().Dec())
	assert.Equal(t, ether(100).Dec(), env.engine.Reserve(weth).Dec())
	assert.Equal(t, ether(100).Dec(), env.engine.Custody(weth).Dec())

	assert.True(t, balanceOf(t, env.weth, liquidator).IsZero())
	assert.Equal(t, ether(50).Dec(), balanceOf(t, env.dsc, alice).Dec())
	env.assertCustody(t)

	_, err = env.engine.Liquidate(ctx, liquidator, alice)
	assert.ErrorIs(t, err, ErrHealthFactorSufficient)
}

func TestLiquidationRepayCappedAtLiquidatorBalance(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.fund(t, env.weth, alice, ether(100))
	env.fund(t, env.weth, liquidator, ether(200))

	_, err := env.engine.DepositAndMint(ctx, alice, weth, ether(100), ether(50))
	require.NoError(t, err)
	_, err = env.engine.DepositAndMint(ctx, liquidator, weth, ether(200), ether(10))
	require.NoError(t, err)

	env.setEthPrice(90_000_000) // $0.90

	result, err := env.engine.Liquidate(ctx, liquidator, alice)
	require.NoError(t, err)

	// repay 10, seize $11 at $0.90, the rest of alice's collateral backs the written off 40
	seized, _ := uint256.FromDecimal("12222222222222222222")
	reserved := new(uint256.Int).Sub(ether(100), seized)
	assert.Equal(t, ether(10).Dec(), result.DebtRepaid.Dec())
	assert.Equal(t, ether(40).Dec(), result.BadDebt.Dec())
	assert.Equal(t, seized.Dec(), result.Seized[weth].Dec())
	assert.Equal(t, reserved.Dec(), result.Reserved[weth].Dec())

	collateral, debt := env.position(t, alice)
	assert.True(t, collateral.IsZero())
	assert.True(t, debt.IsZero())
	assert.Equal(t, reserved.Dec(), env.engine.Reserve(weth).Dec())
	assert.True(t, balanceOf(t, env.dsc, liquidator).IsZero())
	assert.Equal(t, seized.Dec(), balanceOf(t, env.weth, liquidator).Dec())
	env.assertCustody(t)
}

func TestQueriesAreIdempotent(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.fund(t, env.weth, alice, ether(100))

	_, err := env.engine.DepositAndMint(ctx, alice, weth, ether(100), ether(25))
	require.NoError(t, err)

	hf1, err := env.engine.HealthFactor(ctx, alice)
	require.NoError(t, err)
	usd1, debt1, err := env.engine.AccountInfo(ctx, alice)
	require.NoError(t, err)

	hf2, err := env.engine.HealthFactor(ctx, alice)
	require.NoError(t, err)
	usd2, debt2, err := env.engine.AccountInfo(ctx, alice)
	require.NoError(t, err)

	assert.Equal(t, hf1.Dec(), hf2.Dec())
	assert.Equal(t, usd1.Dec(), usd2.Dec())
	assert.Equal(t, debt1.Dec(), debt2.Dec())
	assert.Equal(t, ether(2).Dec(), hf1.Dec())
}

func TestConversions(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	usd, err := env.engine.USDValue(ctx, wbtc, uint256.NewInt(100_000_000))
	require.NoError(t, err)
	assert.Equal(t, ether(30_000).Dec(), usd.Dec())

	amount, err := env.engine.TokenAmountFromUSD(ctx, wbtc, ether(15_000))
	require.NoError(t, err)
	assert.Equal(t, "50000000", amount.Dec())

	amount, err = env.engine.TokenAmountFromUSD(ctx, weth, ether(7))
	require.NoError(t, err)
	assert.Equal(t, ether(7).Dec(), amount.Dec())
}

func TestRollbackWhenCollateralPullFails(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	require.NoError(t, env.weth.Mint(ctx, alice, ether(100))) // no approval

	_, err := env.engine.DepositAndMint(ctx, alice, weth, ether(100), ether(10))
	assert.ErrorIs(t, err, token.ErrInsufficientAllowance)

	collateral, debt := env.position(t, alice)
	assert.True(t, collateral.IsZero())
	assert.True(t, debt.IsZero())
	assert.True(t, env.engine.Custody(weth).IsZero())
	assert.True(t, balanceOf(t, env.dsc, alice).IsZero())
	env.assertCustody(t)
}

func TestRollbackWhenMintFails(t *testing.T) {
	// the stablecoin trusts a different minter, so minting fails after collateral moved
	env := newEnvWithStable(t, memory.NewStablecoin("DSC", bob))
	ctx := context.Background()
	env.fund(t, env.weth, alice, ether(100))

	_, err := env.engine.DepositAndMint(ctx, alice, weth, ether(100), ether(10))
	assert.ErrorIs(t, err, token.ErrUnauthorizedMinter)

	collateral, debt := env.position(t, alice)
	assert.True(t, collateral.IsZero())
	assert.True(t, debt.IsZero())
	assert.Equal(t, ether(100).Dec(), balanceOf(t, env.weth, alice).Dec())
	env.assertCustody(t)
}

func TestRollbackWhenJournalFails(t *testing.T) {
	failing := JournalFunc(func(context.Context, Event) error {
		return errors.New("journal unavailable")
	})
	env := newEnv(t, WithJournal(failing))
	ctx := context.Background()
	env.fund(t, env.weth, alice, ether(100))

	_, err := env.engine.DepositAndMint(ctx, alice, weth, ether(100), ether(10))
	require.Error(t, err)

	collateral, debt := env.position(t, alice)
	assert.True(t, collateral.IsZero())
	assert.True(t, debt.IsZero())
	assert.Equal(t, ether(100).Dec(), balanceOf(t, env.weth, alice).Dec())
	assert.True(t, balanceOf(t, env.dsc, alice).IsZero())
	assert.True(t, env.dsc.TotalSupply().IsZero())
	env.assertCustody(t)
}

func TestJournalReceivesEvents(t *testing.T) {
	var events []Event
	journal := JournalFunc(func(_ context.Context, ev Event) error {
		events = append(events, ev)
		return nil
	})
	env := newEnv(t, WithJournal(MultiJournal(journal, nil)))
	ctx := context.Background()
	env.fund(t, env.weth, alice, ether(100))

	receipt, err := env.engine.DepositAndMint(ctx, alice, weth, ether(100), ether(10))
	require.NoError(t, err)
	_, err = env.engine.BurnStable(ctx, alice, ether(10))
	require.NoError(t, err)

	// failed commands leave no trace
	_, err = env.engine.MintStable(ctx, alice, ether(1000))
	require.Error(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, EventDepositAndMint, events[0].Type)
	assert.Equal(t, alice, events[0].User)
	assert.Equal(t, ether(100).Dec(), events[0].Collateral.Dec())
	assert.Equal(t, ether(10).Dec(), events[0].Stable.Dec())
	assert.Equal(t, receipt.OperationID, events[0].ID)
	assert.Equal(t, EventBurn, events[1].Type)
}

func TestDepositsAreSerialized(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	const users = 20
	addrs := make([]common.Address, users)
	for i := range addrs {
		addrs[i] = common.BigToAddress(uint256.NewInt(uint64(1000 + i)).ToBig())
		env.fund(t, env.weth, addrs[i], ether(10))
	}

	var wg sync.WaitGroup
	for _, user := range addrs {
		wg.Add(1)
		go func(user common.Address) {
			defer wg.Done()
			_, err := env.engine.DepositAndMint(ctx, user, weth, ether(10), ether(5))
			assert.NoError(t, err)
			_, err = env.engine.HealthFactor(ctx, user)
			assert.NoError(t, err)
		}(user)
	}
	wg.Wait()

	assert.Equal(t, ether(10*users).Dec(), env.engine.Custody(weth).Dec())
	assert.Len(t, env.engine.Users(), users)
	env.assertCustody(t)
}

func TestPriceFeedFailureAbortsMint(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.fund(t, env.weth, alice, ether(100))
	env.feed.SetError("ETHUSD", errors.New("feed down"))

	_, err := env.engine.DepositAndMint(ctx, alice, weth, ether(100), ether(10))
	require.ErrorIs(t, err, prices.ErrPriceUnavailable)

	env.feed.SetError("ETHUSD", nil)
	collateral, debt := env.position(t, alice)
	assert.True(t, collateral.IsZero())
	assert.True(t, debt.IsZero())
}

func TestCode(t *testing.T) {
	assert.Equal(t, "OK", Code(nil))
	assert.Equal(t, "HEALTH_FACTOR_TOO_LOW", Code(errors.Join(errors.New("x"), ErrHealthFactorTooLow)))
	assert.Equal(t, "INSUFFICIENT_COLLATERAL", Code(ErrInsufficientCollateral))
	assert.Equal(t, "INSUFFICIENT_ALLOWANCE", Code(token.ErrInsufficientAllowance))
	assert.Equal(t, "PRICE_UNAVAILABLE", Code(fmt.Errorf("%w: feed down", prices.ErrPriceUnavailable)))
	assert.Equal(t, "INVALID_COLLATERAL_TOKEN", Code(prices.ErrUnregisteredAsset))
	assert.Equal(t, "INTERNAL_ERROR", Code(errors.New("boom")))
}
