package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/leafsii/leafsii-dsc/cmd/initializer/pkg"
	"github.com/leafsii/leafsii-dsc/internal/calc"
	"github.com/leafsii/leafsii-dsc/internal/prices"
	"github.com/leafsii/leafsii-dsc/internal/prices/binance"
	"go.uber.org/zap"
)

const defaultRegistryPath = "./cmd/initializer/registry.json"

var defaultAssets = []struct {
	asset    prices.CollateralAssetConfig
	fallback string
}{
	{
		asset: prices.CollateralAssetConfig{
			AssetID:   common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"),
			Symbol:    "WETH",
			PriceFeed: "ETHUSDT",
			Decimals:  18,
		},
		fallback: "2000",
	},
	{
		asset: prices.CollateralAssetConfig{
			AssetID:   common.HexToAddress("0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599"),
			Symbol:    "WBTC",
			PriceFeed: "BTCUSDT",
			Decimals:  8,
		},
		fallback: "30000",
	},
}

func main() {
	out := flag.String("out", defaultRegistryPath, "path of the registry file to write")
	engineAddr := flag.String("engine", "0x00000000000000000000000000000000000e4e1e", "address holding collateral custody")
	stable := flag.String("stablecoin", "DSC", "stablecoin symbol")
	live := flag.Bool("live-prices", true, "seed initial mock prices from Binance")
	flag.Parse()

	if !common.IsHexAddress(*engineAddr) {
		fmt.Fprintf(os.Stderr, "invalid engine address %q\n", *engineAddr)
		os.Exit(1)
	}

	registry := pkg.RegistryFile{
		EngineAddress: common.HexToAddress(*engineAddr),
		Stablecoin:    *stable,
		InitialPrices: make(map[string]string),
	}

	// Fetch live prices with timeout and fallback
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	provider := binance.NewProvider(zap.NewNop().Sugar())

	for _, d := range defaultAssets {
		registry.Assets = append(registry.Assets, d.asset)

		price := d.fallback
		if *live {
			quote, err := provider.LatestPrice(ctx, d.asset.PriceFeed)
			if err != nil {
				fmt.Printf("Warning: failed to fetch live %s price, using fallback $%s: %v\n", d.asset.Symbol, d.fallback, err)
			} else {
				price = calc.FromUnits(quote.Raw, quote.Decimals).String()
				fmt.Printf("Using live %s price: $%s\n", d.asset.Symbol, price)
			}
		}
		registry.InitialPrices[d.asset.PriceFeed] = price
	}

	if _, err := prices.NewRegistry(registry.Assets); err != nil {
		fmt.Fprintf(os.Stderr, "invalid registry: %v\n", err)
		os.Exit(1)
	}

	if err := pkg.WriteRegistry(*out, registry); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing registry: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Registry written to %s\n", *out)
}
