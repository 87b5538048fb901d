package prices

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// CollateralAssetConfig describes an accepted collateral asset and the feed pricing it.
type CollateralAssetConfig struct {
	AssetID   common.Address `json:"asset_id"`
	Symbol    string         `json:"symbol"`
	PriceFeed string         `json:"price_feed"`
	Decimals  uint8          `json:"decimals"`
}

// Registry maps collateral assets to price feeds. It is immutable after construction
// and keeps registration order.
type Registry struct {
	order  []common.Address
	assets map[common.Address]CollateralAssetConfig
}

// NewRegistry validates the asset list and builds a registry from it
func NewRegistry(assets []CollateralAssetConfig) (*Registry, error) {
	r := &Registry{
		order:  make([]common.Address, 0, len(assets)),
		assets: make(map[common.Address]CollateralAssetConfig, len(assets)),
	}

	for i, asset := range assets {
		if asset.AssetID == (common.Address{}) {
			return nil, fmt.Errorf("asset %d: zero asset id", i)
		}
		if strings.TrimSpace(asset.PriceFeed) == "" {
			return nil, fmt.Errorf("asset %s: price feed is required", asset.AssetID.Hex())
		}
		if asset.Decimals > 36 {
			return nil, fmt.Errorf("asset %s: decimals %d out of range", asset.AssetID.Hex(), asset.Decimals)
		}
		if _, exists := r.assets[asset.AssetID]; exists {
			return nil, fmt.Errorf("asset %s registered twice", asset.AssetID.Hex())
		}
		asset.PriceFeed = strings.ToUpper(asset.PriceFeed)
		r.order = append(r.order, asset.AssetID)
		r.assets[asset.AssetID] = asset
	}

	return r, nil
}

// Lookup returns the configuration of a registered asset
func (r *Registry) Lookup(asset common.Address) (CollateralAssetConfig, bool) {
	cfg, ok := r.assets[asset]
	return cfg, ok
}

// Assets returns all registered assets in registration order
func (r *Registry) Assets() []CollateralAssetConfig {
	result := make([]CollateralAssetConfig, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.assets[id])
	}
	return result
}

// BySymbol finds an asset by its ticker symbol, case-insensitively
func (r *Registry) BySymbol(symbol string) (CollateralAssetConfig, bool) {
	for _, id := range r.order {
		if strings.EqualFold(r.assets[id].Symbol, symbol) {
			return r.assets[id], true
		}
	}
	return CollateralAssetConfig{}, false
}

// Feeds returns the unique feed ids we need to read
func (r *Registry) Feeds() []string {
	seen := make(map[string]struct{})
	feeds := make([]string, 0, len(r.order))

	for _, id := range r.order {
		feed := r.assets[id].PriceFeed
		if _, exists := seen[feed]; exists {
			continue
		}
		seen[feed] = struct{}{}
		feeds = append(feeds, feed)
	}

	return feeds
}
