package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/holiman/uint256"
	"github.com/leafsii/leafsii-dsc/internal/calc"
	"github.com/leafsii/leafsii-dsc/internal/prices"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	BinanceRestAPI = "https://api.binance.com"
	BinanceWS      = "wss://stream.binance.com:9443/ws"

	// QuoteDecimals is the precision quotes are reported with, matching USD aggregator feeds.
	QuoteDecimals = 8

	// liveMaxAge bounds how long a streamed trade price is preferred over a REST read.
	liveMaxAge = 10 * time.Second
)

type livePrice struct {
	raw *uint256.Int
	at  time.Time
}

// Provider implements the prices.Source interface for Binance
type Provider struct {
	logger  *zap.SugaredLogger
	client  *http.Client
	restURL string
	wsURL   string

	mu     sync.RWMutex
	health prices.ProviderHealth
	live   map[string]livePrice
}

// Option customizes a Provider
type Option func(*Provider)

// WithEndpoints overrides the REST and websocket base URLs
func WithEndpoints(restURL, wsURL string) Option {
	return func(p *Provider) {
		p.restURL = strings.TrimRight(restURL, "/")
		p.wsURL = strings.TrimRight(wsURL, "/")
	}
}

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		p.client = client
	}
}

// NewProvider creates a new Binance provider
func NewProvider(logger *zap.SugaredLogger, opts ...Option) *Provider {
	p := &Provider{
		logger:  logger,
		restURL: BinanceRestAPI,
		wsURL:   BinanceWS,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		health: prices.ProviderHealth{
			Healthy:     true,
			LastSuccess: time.Now(),
		},
		live: make(map[string]livePrice),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider identifier
func (p *Provider) Name() string {
	return "binance"
}

// Health returns current provider health status
func (p *Provider) Health() prices.ProviderHealth {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.health
}

// updateHealth updates the provider health status
func (p *Provider) updateHealth(healthy bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.health.Healthy = healthy
	if healthy {
		p.health.LastSuccess = time.Now()
		p.health.LastError = ""
	} else if err != nil {
		p.health.LastError = err.Error()
	}
}

// tickerPrice is the payload of /api/v3/ticker/price
type tickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// LatestPrice returns the streamed trade price when it is fresh, otherwise it
// reads the ticker over REST.
func (p *Provider) LatestPrice(ctx context.Context, feed string) (prices.Quote, error) {
	symbol := strings.ToUpper(feed)

	p.mu.RLock()
	lp, ok := p.live[symbol]
	p.mu.RUnlock()
	if ok && time.Since(lp.at) < liveMaxAge {
		return prices.Quote{Raw: lp.raw.Clone(), Decimals: QuoteDecimals, UpdatedAt: lp.at}, nil
	}

	return p.fetchTicker(ctx, symbol)
}

func (p *Provider) fetchTicker(ctx context.Context, symbol string) (prices.Quote, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	requestURL := fmt.Sprintf("%s/api/v3/ticker/price?%s", p.restURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		p.updateHealth(false, err)
		return prices.Quote{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.updateHealth(false, err)
		return prices.Quote{}, fmt.Errorf("failed to fetch from Binance: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("Binance API error: %d", resp.StatusCode)
		p.updateHealth(false, err)
		if resp.StatusCode == http.StatusBadRequest {
			return prices.Quote{}, fmt.Errorf("%w: %s", prices.ErrUnknownFeed, symbol)
		}
		return prices.Quote{}, err
	}

	var ticker tickerPrice
	if err := json.NewDecoder(resp.Body).Decode(&ticker); err != nil {
		p.updateHealth(false, err)
		return prices.Quote{}, fmt.Errorf("failed to decode response: %w", err)
	}

	raw, err := ScaleQuote(ticker.Price)
	if err != nil {
		p.updateHealth(false, err)
		return prices.Quote{}, err
	}

	p.updateHealth(true, nil)
	p.logger.Debugw("Fetched latest price from Binance", "symbol", symbol, "price", ticker.Price)

	return prices.Quote{Raw: raw, Decimals: QuoteDecimals, UpdatedAt: time.Now()}, nil
}

// SubscribeLive streams trades for symbol and keeps the latest price hot until
// ctx is cancelled or the connection drops.
func (p *Provider) SubscribeLive(ctx context.Context, symbol string) error {
	symbol = strings.ToUpper(symbol)
	wsURL := fmt.Sprintf("%s/%s@trade", p.wsURL, strings.ToLower(symbol))

	p.logger.Infow("Connecting to Binance WebSocket", "url", wsURL)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		p.updateHealth(false, err)
		return fmt.Errorf("failed to connect to Binance WebSocket: %w", err)
	}
	defer conn.Close()

	// unblock ReadMessage on cancellation
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	p.updateHealth(true, nil)
	p.logger.Infow("Connected to Binance WebSocket", "symbol", symbol)

	for {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.updateHealth(false, err)
			p.mu.Lock()
			p.health.Reconnects++
			p.mu.Unlock()
			return fmt.Errorf("WebSocket read error: %w", err)
		}

		var trade BinanceTrade
		if err := json.Unmarshal(message, &trade); err != nil {
			p.logger.Warnw("Failed to parse trade message", "error", err, "message", string(message))
			continue
		}

		raw, err := ScaleQuote(trade.Price)
		if err != nil {
			p.logger.Warnw("Failed to parse trade price", "error", err, "price", trade.Price)
			continue
		}

		p.mu.Lock()
		p.live[symbol] = livePrice{raw: raw, at: time.UnixMilli(trade.EventTime)}
		p.mu.Unlock()
		p.updateHealth(true, nil)
	}
}

// BinanceTrade represents a trade message from Binance WebSocket
type BinanceTrade struct {
	EventType     string `json:"e"`
	EventTime     int64  `json:"E"`
	Symbol        string `json:"s"`
	TradeID       int64  `json:"t"`
	Price         string `json:"p"`
	Quantity      string `json:"q"`
	BuyerOrderID  int64  `json:"b"`
	SellerOrderID int64  `json:"a"`
	TradeTime     int64  `json:"T"`
	IsBuyerMaker  bool   `json:"m"`
}

// ScaleQuote converts a decimal price string to an integer with QuoteDecimals
// fractional digits, truncating extra precision.
func ScaleQuote(price string) (*uint256.Int, error) {
	d, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("invalid price %q: %w", price, err)
	}
	return calc.ToUnits(d.Truncate(QuoteDecimals), QuoteDecimals)
}
