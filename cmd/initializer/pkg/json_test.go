package pkg

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/leafsii/leafsii-dsc/internal/prices"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")

	_, err := ReadRegistry(path)
	assert.ErrorIs(t, err, os.ErrNotExist)

	want := RegistryFile{
		EngineAddress: common.HexToAddress("0xe4e1e"),
		Stablecoin:    "DSC",
		Assets: []prices.CollateralAssetConfig{
			{AssetID: common.HexToAddress("0xe7e0"), Symbol: "WETH", PriceFeed: "ETHUSDT", Decimals: 18},
		},
		InitialPrices: map[string]string{"ETHUSDT": "1"},
	}
	require.NoError(t, WriteRegistry(path, want))

	got, err := ReadRegistry(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, strings.ToLower(string(raw)), `"asset_id": "0x000000000000000000000000000000000000e7e0"`)
}

func TestReadEmptyRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	cfg, err := ReadRegistry(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Assets)
}
