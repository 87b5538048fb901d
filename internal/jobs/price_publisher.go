package jobs

import (
	"context"
	"time"

	"github.com/leafsii/leafsii-dsc/internal/calc"
	"github.com/leafsii/leafsii-dsc/internal/metrics"
	"github.com/leafsii/leafsii-dsc/internal/prices"
	"github.com/leafsii/leafsii-dsc/internal/store"
	"go.uber.org/zap"
)

// LiveSubscriber keeps a feed hot from a streaming connection. It blocks
// until ctx ends or the stream fails.
type LiveSubscriber interface {
	SubscribeLive(ctx context.Context, symbol string) error
}

// Stepper advances a simulated feed one tick.
type Stepper interface {
	Step()
}

type PricePublisherConfig struct {
	RefreshInterval time.Duration // How often every registered asset is re-read
	RetryInterval   time.Duration // How long to wait before re-opening a failed live stream
	TTL             time.Duration // Cache TTL for latest prices
	MaxAge          time.Duration // Quotes older than this are flagged stale
}

// DefaultPricePublisherConfig returns a reasonable default configuration
func DefaultPricePublisherConfig() PricePublisherConfig {
	return PricePublisherConfig{
		RefreshInterval: 5 * time.Second,
		RetryInterval:   5 * time.Second,
		TTL:             15 * time.Second,
		MaxAge:          time.Minute,
	}
}

// PricePublisher periodically reads every registered feed through the oracle,
// caches the normalized price and publishes it on the asset's price channel.
type PricePublisher struct {
	oracle  *prices.Oracle
	cache   *store.Cache
	metrics *metrics.Metrics
	logger  *zap.SugaredLogger
	config  PricePublisherConfig

	live    LiveSubscriber
	stepper Stepper
}

func NewPricePublisher(oracle *prices.Oracle, cache *store.Cache, m *metrics.Metrics, logger *zap.SugaredLogger, config PricePublisherConfig) *PricePublisher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	defaults := DefaultPricePublisherConfig()
	if config.RefreshInterval <= 0 {
		config.RefreshInterval = defaults.RefreshInterval
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = defaults.RetryInterval
	}
	if config.TTL <= 0 {
		config.TTL = 3 * config.RefreshInterval
	}
	if config.MaxAge <= 0 {
		config.MaxAge = defaults.MaxAge
	}
	return &PricePublisher{
		oracle:  oracle,
		cache:   cache,
		metrics: m,
		logger:  logger,
		config:  config,
	}
}

// WithLive streams every feed through sub while the publisher runs.
func (p *PricePublisher) WithLive(sub LiveSubscriber) *PricePublisher {
	p.live = sub
	return p
}

// WithStepper advances a simulated feed before every refresh.
func (p *PricePublisher) WithStepper(s Stepper) *PricePublisher {
	p.stepper = s
	return p
}

func (p *PricePublisher) Start(ctx context.Context) error {
	assets := p.oracle.Assets()
	p.logger.Infow("Starting price publisher",
		"provider", p.oracle.Source().Name(),
		"feeds", p.oracle.Registry().Feeds(),
		"interval", p.config.RefreshInterval,
	)

	if p.live != nil {
		for _, asset := range assets {
			go p.subscribeLiveData(ctx, asset.PriceFeed)
		}
	}

	p.Refresh(ctx)

	ticker := time.NewTicker(p.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Infow("Price publisher stopping due to context cancellation")
			return ctx.Err()
		case <-ticker.C:
			p.Refresh(ctx)
		}
	}
}

// subscribeLiveData keeps a live stream open for feed, reconnecting after failures
func (p *PricePublisher) subscribeLiveData(ctx context.Context, feed string) {
	for {
		err := p.live.SubscribeLive(ctx, feed)
		if ctx.Err() != nil {
			return
		}
		p.logger.Warnw("Live subscription ended, retrying", "feed", feed, "error", err, "retry_in", p.config.RetryInterval)

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.config.RetryInterval):
		}
	}
}

// Refresh reads every registered asset once and returns the snapshots it cached.
func (p *PricePublisher) Refresh(ctx context.Context) []store.PriceSnapshot {
	if p.stepper != nil {
		p.stepper.Step()
	}

	var snapshots []store.PriceSnapshot
	for _, asset := range p.oracle.Assets() {
		snap, err := p.snapshot(ctx, asset)
		if p.metrics != nil {
			p.metrics.RecordPriceUpdate(ctx, asset.Symbol, err == nil)
		}
		if err != nil {
			p.logger.Warnw("Price refresh failed", "asset", asset.AssetID.Hex(), "symbol", asset.Symbol, "error", err)
			continue
		}
		if snap.Stale {
			p.logger.Warnw("Price is stale", "symbol", asset.Symbol, "updated_at", snap.UpdatedAt, "max_age", p.config.MaxAge)
		}

		if err := p.cache.SetPrice(ctx, asset.AssetID, snap, p.config.TTL); err != nil {
			p.logger.Warnw("Failed to cache price", "symbol", asset.Symbol, "error", err)
		}
		if err := p.cache.Publish(ctx, store.PriceChannel(asset.Symbol), snap); err != nil {
			p.logger.Warnw("Failed to publish price", "symbol", asset.Symbol, "error", err)
		} else {
			p.logger.Debugw("Published price", "symbol", asset.Symbol, "price", snap.Formatted)
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots
}

func (p *PricePublisher) snapshot(ctx context.Context, asset prices.CollateralAssetConfig) (store.PriceSnapshot, error) {
	quote, err := p.oracle.Quote(ctx, asset.AssetID)
	if err != nil {
		return store.PriceSnapshot{}, err
	}
	price, err := calc.ScalePrice(quote.Raw, quote.Decimals)
	if err != nil {
		return store.PriceSnapshot{}, err
	}

	return store.PriceSnapshot{
		Asset:     asset.AssetID.Hex(),
		Symbol:    asset.Symbol,
		Feed:      asset.PriceFeed,
		Raw:       quote.Raw.Dec(),
		Decimals:  quote.Decimals,
		Price:     price.Dec(),
		Formatted: calc.FromUnits(price, calc.PriceDecimals).StringFixed(2),
		UpdatedAt: quote.UpdatedAt,
		Stale:     calc.ValidateOracleAge(quote.UpdatedAt, p.config.MaxAge) != nil,
	}, nil
}
