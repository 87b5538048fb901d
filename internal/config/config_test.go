package config

import (
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	registrypkg "github.com/leafsii/leafsii-dsc/cmd/initializer/pkg"
	"github.com/leafsii/leafsii-dsc/internal/prices"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRegistry(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "registry.json")
	require.NoError(t, registrypkg.WriteRegistry(path, registrypkg.RegistryFile{
		EngineAddress: common.HexToAddress("0xe4e1e"),
		Stablecoin:    "DSC",
		Assets: []prices.CollateralAssetConfig{
			{AssetID: common.HexToAddress("0xe7e0"), Symbol: "WETH", PriceFeed: "ETHUSDT", Decimals: 18},
		},
	}))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LFS_REGISTRY_PATH", writeRegistry(t))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Env)
	assert.True(t, cfg.IsDev())
	assert.Equal(t, uint64(50), cfg.Engine.LiquidationThresholdPct)
	assert.Equal(t, uint64(10), cfg.Engine.LiquidationBonusPct)
	assert.Equal(t, "mock", cfg.Prices.Provider)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:5173"}, cfg.Security.CORSAllowedOrigins)
	assert.Equal(t, common.HexToAddress("0xe4e1e"), cfg.EngineAddress())
	require.Len(t, cfg.Engine.Registry.Assets, 1)
	assert.Equal(t, "WETH", cfg.Engine.Registry.Assets[0].Symbol)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LFS_REGISTRY_PATH", writeRegistry(t))
	t.Setenv("LFS_ENGINE_ADDRESS", "0x0000000000000000000000000000000000000abc")
	t.Setenv("LFS_LIQUIDATION_THRESHOLD_PCT", "60")
	t.Setenv("LFS_PRICE_PROVIDER", "binance")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xabc"), cfg.EngineAddress())
	assert.Equal(t, uint64(60), cfg.Engine.LiquidationThresholdPct)
	assert.Equal(t, "binance", cfg.Prices.Provider)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"env", "LFS_ENV", "staging"},
		{"provider", "LFS_PRICE_PROVIDER", "coingecko"},
		{"threshold", "LFS_LIQUIDATION_THRESHOLD_PCT", "95"},
		{"engine address", "LFS_ENGINE_ADDRESS", "not-an-address"},
		{"registry", "LFS_REGISTRY_PATH", "/nonexistent/registry.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("LFS_REGISTRY_PATH", writeRegistry(t))
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
