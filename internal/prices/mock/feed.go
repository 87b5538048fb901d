package mock

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/leafsii/leafsii-dsc/internal/prices"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultDecimals matches the precision of USD aggregator feeds.
const DefaultDecimals = 8

type feedState struct {
	raw       *uint256.Int
	base      *uint256.Int
	updatedAt time.Time
	err       error
}

// Feed is a settable price source for tests, local development and fallback scenarios
type Feed struct {
	logger     *zap.SugaredLogger
	mu         sync.RWMutex
	decimals   uint8
	volatility float64
	feeds      map[string]*feedState
	health     prices.ProviderHealth
	rng        *rand.Rand
}

// NewFeed creates a mock feed quoting with the given decimals
func NewFeed(logger *zap.SugaredLogger, decimals uint8, volatility float64) *Feed {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if volatility <= 0 {
		volatility = 0.002 // 0.2% volatility
	}

	return &Feed{
		logger:     logger,
		decimals:   decimals,
		volatility: volatility,
		feeds:      make(map[string]*feedState),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		health: prices.ProviderHealth{
			Healthy:     true,
			LastSuccess: time.Now(),
		},
	}
}

// Name returns the provider identifier
func (f *Feed) Name() string {
	return "mock"
}

// Health returns current provider health status
func (f *Feed) Health() prices.ProviderHealth {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.health
}

// Decimals returns the precision every quote of this feed carries
func (f *Feed) Decimals() uint8 {
	return f.decimals
}

// SetPrice sets the raw answer of a feed. The first price set becomes the
// anchor the random walk stays around.
func (f *Feed) SetPrice(feed string, raw *uint256.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.ToUpper(feed)
	state, ok := f.feeds[key]
	if !ok {
		state = &feedState{base: raw.Clone()}
		f.feeds[key] = state
	}
	state.raw = raw.Clone()
	state.updatedAt = time.Now()

	f.logger.Debugw("Mock price set", "feed", key, "raw", raw.Dec())
}

// SetError makes every read of feed fail with err until cleared with a nil error
func (f *Feed) SetError(feed string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.ToUpper(feed)
	state, ok := f.feeds[key]
	if !ok {
		state = &feedState{}
		f.feeds[key] = state
	}
	state.err = err
}

// LatestPrice returns the last price set for feed
func (f *Feed) LatestPrice(ctx context.Context, feed string) (prices.Quote, error) {
	if err := ctx.Err(); err != nil {
		return prices.Quote{}, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	state, ok := f.feeds[strings.ToUpper(feed)]
	if !ok || (state.raw == nil && state.err == nil) {
		return prices.Quote{}, fmt.Errorf("%w: %s", prices.ErrUnknownFeed, feed)
	}
	if state.err != nil {
		return prices.Quote{}, state.err
	}

	return prices.Quote{
		Raw:       state.raw.Clone(),
		Decimals:  f.decimals,
		UpdatedAt: state.updatedAt,
	}, nil
}

// Step moves every feed one random-walk step, keeping each within ±50% of its anchor
func (f *Feed) Step() {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now()
	for key, state := range f.feeds {
		if state.raw == nil || state.base == nil {
			continue
		}

		current := decimal.NewFromBigInt(state.raw.ToBig(), 0)
		base := decimal.NewFromBigInt(state.base.ToBig(), 0)
		next := current.Mul(decimal.NewFromFloat(1 + f.generatePriceChange())).Truncate(0)

		minPrice := base.Div(decimal.NewFromInt(2)).Truncate(0)
		maxPrice := base.Mul(decimal.NewFromFloat(1.5)).Truncate(0)
		if next.LessThan(minPrice) {
			next = minPrice
		} else if next.GreaterThan(maxPrice) {
			next = maxPrice
		}

		raw, overflow := uint256.FromBig(next.BigInt())
		if overflow {
			continue
		}
		state.raw = raw
		state.updatedAt = now
		f.logger.Debugw("Mock price step", "feed", key, "raw", raw.Dec())
	}
	f.health.LastSuccess = now
}

// generatePriceChange creates a realistic price movement
func (f *Feed) generatePriceChange() float64 {
	baseChange := f.rng.NormFloat64() * f.volatility

	// Add some trending behavior occasionally
	if f.rng.Float64() < 0.1 {
		trend := (f.rng.Float64() - 0.5) * f.volatility * 2
		baseChange += trend
	}

	// Clamp extreme movements
	maxChange := f.volatility * 5
	return math.Max(-maxChange, math.Min(maxChange, baseChange))
}
