package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/leafsii/leafsii-dsc/internal/prices"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func rpcCall(t *testing.T, env *apiEnv, method string, params interface{}) JSONRPCResponse {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	rec := env.do(t, http.MethodPost, "/v1/jsonrpc", JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  raw,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeAs[JSONRPCResponse](t, rec)
}

func rpcErrorData(t *testing.T, resp JSONRPCResponse) JSONRPCErrorData {
	t.Helper()
	require.NotNil(t, resp.Error)
	raw, err := json.Marshal(resp.Error.Data)
	require.NoError(t, err)
	var data JSONRPCErrorData
	require.NoError(t, json.Unmarshal(raw, &data))
	return data
}

func TestJSONRPCDepositAndMint(t *testing.T) {
	env := newAPIEnv(t)
	env.fund(t, alice, "10")

	resp := rpcCall(t, env, "depositAndMint", DepositAndMintRequest{
		User: alice.Hex(), Asset: weth.Hex(), CollateralAmount: "1", MintAmount: "500",
	})
	require.Nil(t, resp.Error)
	assert.EqualValues(t, 1, resp.ID)

	result := resp.Result.(map[string]interface{})
	assert.Equal(t, alice.Hex(), result["user"])
	assert.NotEmpty(t, result["operation_id"])

	resp = rpcCall(t, env, "getAccountInfo", GetAccountInfoParams{User: alice.Hex()})
	require.Nil(t, resp.Error)
	debt := resp.Result.(map[string]interface{})["debt"].(map[string]interface{})
	assert.Equal(t, "500", debt["formatted"])

	resp = rpcCall(t, env, "getCollateralBalance", GetCollateralBalanceParams{User: alice.Hex(), Asset: weth.Hex()})
	require.Nil(t, resp.Error)
	balance := resp.Result.(map[string]interface{})["balance"].(map[string]interface{})
	assert.Equal(t, "1", balance["formatted"])
}

func TestJSONRPCErrors(t *testing.T) {
	env := newAPIEnv(t)
	env.fund(t, alice, "10")

	t.Run("parse error", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/v1/jsonrpc", `{"jsonrpc":`)
		resp := decodeAs[JSONRPCResponse](t, rec)
		require.NotNil(t, resp.Error)
		assert.Equal(t, JSONRPCParseError, resp.Error.Code)
	})

	t.Run("wrong version", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/v1/jsonrpc", `{"jsonrpc":"1.0","id":7,"method":"liquidate"}`)
		resp := decodeAs[JSONRPCResponse](t, rec)
		require.NotNil(t, resp.Error)
		assert.Equal(t, JSONRPCInvalidRequest, resp.Error.Code)
		assert.EqualValues(t, 7, resp.ID)
	})

	t.Run("unknown method", func(t *testing.T) {
		resp := rpcCall(t, env, "getUnsignedTransaction", struct{}{})
		require.NotNil(t, resp.Error)
		assert.Equal(t, JSONRPCMethodNotFound, resp.Error.Code)
	})

	t.Run("invalid params", func(t *testing.T) {
		resp := rpcCall(t, env, "getAccountInfo", GetAccountInfoParams{User: "nope"})
		assert.Equal(t, JSONRPCInvalidParams, resp.Error.Code)
		assert.Equal(t, "INVALID_ADDRESS", rpcErrorData(t, resp).Code)
	})

	t.Run("params not an object", func(t *testing.T) {
		resp := rpcCall(t, env, "liquidate", []string{alice.Hex()})
		assert.Equal(t, JSONRPCInvalidParams, resp.Error.Code)
	})

	t.Run("engine rejection", func(t *testing.T) {
		resp := rpcCall(t, env, "depositAndMint", DepositAndMintRequest{
			User: alice.Hex(), Asset: weth.Hex(), CollateralAmount: "1", MintAmount: "5000",
		})
		assert.Equal(t, -32002, resp.Error.Code)
		assert.Equal(t, "HEALTH_FACTOR_TOO_LOW", resp.Error.Message)
		assert.Equal(t, "HEALTH_FACTOR_TOO_LOW", rpcErrorData(t, resp).Code)
	})

	t.Run("healthy target", func(t *testing.T) {
		resp := rpcCall(t, env, "liquidate", LiquidateRequest{Liquidator: bob.Hex(), User: alice.Hex()})
		assert.Equal(t, -32004, resp.Error.Code)
	})

	t.Run("unregistered asset", func(t *testing.T) {
		resp := rpcCall(t, env, "getCollateralBalance", GetCollateralBalanceParams{User: alice.Hex(), Asset: unknown.Hex()})
		assert.Equal(t, -32001, resp.Error.Code)
	})
}

// mockEngine stubs the engine surface a test needs. Unstubbed methods panic
// through the nil embedded interface.
type mockEngine struct {
	mock.Mock
	Engine
}

func (m *mockEngine) Assets() []prices.CollateralAssetConfig {
	args := m.Called()
	return args.Get(0).([]prices.CollateralAssetConfig)
}

func (m *mockEngine) Price(ctx context.Context, asset common.Address) (*uint256.Int, error) {
	args := m.Called(ctx, asset)
	if v := args.Get(0); v != nil {
		return v.(*uint256.Int), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockEngine) HealthFactor(ctx context.Context, user common.Address) (*uint256.Int, error) {
	args := m.Called(ctx, user)
	if v := args.Get(0); v != nil {
		return v.(*uint256.Int), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestPriceUnavailable(t *testing.T) {
	eng := new(mockEngine)
	feedErr := fmt.Errorf("%w: read feed ETHUSD: connection refused", prices.ErrPriceUnavailable)
	eng.On("Assets").Return([]prices.CollateralAssetConfig{
		{AssetID: weth, Symbol: "WETH", PriceFeed: "ETHUSD", Decimals: 18},
	})
	eng.On("Price", mock.Anything, weth).Return(nil, feedErr)
	eng.On("HealthFactor", mock.Anything, alice).Return(nil, feedErr)

	h := NewHandler(eng, nil, nil, nil, nil, nil, nil, nil)
	env := &apiEnv{router: h.Routes(NewMiddleware(nil, nil), []string{"*"}, 0)}

	rec := env.do(t, http.MethodGet, "/v1/users/"+alice.Hex()+"/health", nil)
	requireError(t, rec, http.StatusServiceUnavailable, "PRICE_UNAVAILABLE")

	rec = env.do(t, http.MethodGet, "/v1/assets/"+weth.Hex()+"/price", nil)
	requireError(t, rec, http.StatusServiceUnavailable, "PRICE_UNAVAILABLE")

	rec = env.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	ready := decodeAs[ReadinessDTO](t, rec)
	assert.Equal(t, "not_ready", ready.Status)
	assert.Contains(t, ready.Checks["price:WETH"], "connection refused")

	rec = env.do(t, http.MethodGet, "/v1/users/"+alice.Hex()+"/events", nil)
	requireError(t, rec, http.StatusNotFound, "JOURNAL_DISABLED")

	eng.AssertExpectations(t)
}
