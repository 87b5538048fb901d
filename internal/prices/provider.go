package prices

import (
	"context"
	"errors"
	"time"

	"github.com/holiman/uint256"
)

var (
	ErrUnregisteredAsset = errors.New("asset has no registered price feed")
	ErrUnknownFeed       = errors.New("unknown price feed")
	// ErrPriceUnavailable wraps every failed feed read
	ErrPriceUnavailable = errors.New("price unavailable")
)

// Quote is a raw feed reading in the feed's native precision.
type Quote struct {
	Raw       *uint256.Int `json:"raw"`
	Decimals  uint8        `json:"decimals"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Source defines the interface for price data sources
type Source interface {
	// LatestPrice returns the most recent reading of the given feed
	// feed: provider-specific feed id (e.g., "ETHUSDT")
	LatestPrice(ctx context.Context, feed string) (Quote, error)

	// Name returns the provider identifier
	Name() string

	// Health returns current provider health status
	Health() ProviderHealth
}

// ProviderHealth represents the current status of a provider
type ProviderHealth struct {
	Healthy     bool      `json:"healthy"`
	LastError   string    `json:"last_error,omitempty"`
	LastSuccess time.Time `json:"last_success"`
	Reconnects  int       `json:"reconnects"`
}
