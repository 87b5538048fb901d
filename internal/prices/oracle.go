package prices

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/leafsii/leafsii-dsc/internal/calc"
)

// Oracle resolves collateral assets to 18-decimal USD prices.
type Oracle struct {
	registry *Registry
	source   Source
}

func NewOracle(registry *Registry, source Source) *Oracle {
	return &Oracle{registry: registry, source: source}
}

// NormalizePrice returns the price of one whole unit of asset with 18 decimals.
func (o *Oracle) NormalizePrice(ctx context.Context, asset common.Address) (*uint256.Int, error) {
	quote, err := o.Quote(ctx, asset)
	if err != nil {
		return nil, err
	}
	price, err := calc.ScalePrice(quote.Raw, quote.Decimals)
	if err != nil {
		return nil, fmt.Errorf("normalize %s price: %w", asset.Hex(), err)
	}
	return price, nil
}

// Quote returns the raw reading of the feed behind asset.
func (o *Oracle) Quote(ctx context.Context, asset common.Address) (Quote, error) {
	feed, err := o.Feed(asset)
	if err != nil {
		return Quote{}, err
	}
	quote, err := o.source.LatestPrice(ctx, feed)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: read feed %s: %w", ErrPriceUnavailable, feed, err)
	}
	return quote, nil
}

func (o *Oracle) Feed(asset common.Address) (string, error) {
	cfg, ok := o.registry.Lookup(asset)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnregisteredAsset, asset.Hex())
	}
	return cfg.PriceFeed, nil
}

func (o *Oracle) Assets() []CollateralAssetConfig {
	return o.registry.Assets()
}

func (o *Oracle) Registry() *Registry {
	return o.registry
}

func (o *Oracle) Source() Source {
	return o.source
}
