package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/holiman/uint256"
	"github.com/leafsii/leafsii-dsc/internal/calc"
	"github.com/leafsii/leafsii-dsc/internal/engine"
	"github.com/leafsii/leafsii-dsc/internal/prices"
	"github.com/leafsii/leafsii-dsc/internal/repository"
	"github.com/leafsii/leafsii-dsc/internal/store"
	"github.com/leafsii/leafsii-dsc/internal/util"
	"github.com/leafsii/leafsii-dsc/internal/ws"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// MetricsInterface defines the interface for metrics recording
type MetricsInterface interface {
	RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) RecordHTTPRequest(context.Context, string, string, int, time.Duration) {}

// Engine is the slice of *engine.Engine the API serves.
type Engine interface {
	Address() common.Address
	DepositAndMint(ctx context.Context, user, asset common.Address, collateralAmount, mintAmount *uint256.Int) (*engine.Receipt, error)
	DepositCollateral(ctx context.Context, user, asset common.Address, amount *uint256.Int) (*engine.Receipt, error)
	MintStable(ctx context.Context, user common.Address, amount *uint256.Int) (*engine.Receipt, error)
	RedeemForStable(ctx context.Context, user, asset common.Address, collateralAmount, burnAmount *uint256.Int) (*engine.Receipt, error)
	RedeemCollateral(ctx context.Context, user, asset common.Address, amount *uint256.Int) (*engine.Receipt, error)
	BurnStable(ctx context.Context, user common.Address, amount *uint256.Int) (*engine.Receipt, error)
	Liquidate(ctx context.Context, liquidator, target common.Address) (*engine.Liquidation, error)

	CollateralBalance(user, asset common.Address) (*uint256.Int, error)
	AccountInfo(ctx context.Context, user common.Address) (collateralUSD, debt *uint256.Int, err error)
	HealthFactor(ctx context.Context, user common.Address) (*uint256.Int, error)
	USDValue(ctx context.Context, asset common.Address, amount *uint256.Int) (*uint256.Int, error)
	Price(ctx context.Context, asset common.Address) (*uint256.Int, error)
	Assets() []prices.CollateralAssetConfig
	AssetBySymbol(symbol string) (prices.CollateralAssetConfig, bool)
	Params() engine.Params
	Custody(asset common.Address) *uint256.Int
	Reserve(asset common.Address) *uint256.Int
	BadDebt() *uint256.Int
	Users() []common.Address
}

var _ Engine = (*engine.Engine)(nil)

type Handler struct {
	engine     Engine
	events     repository.EventStore
	cache      *store.Cache
	sseHandler *ws.SSEHandler
	wsHub      *ws.Hub
	dev        *DevTools
	logger     *zap.SugaredLogger
	metrics    MetricsInterface

	accounts util.Group[*AccountDTO]
}

// NewHandler wires the API. events, cache, the stream handlers and dev may be nil.
func NewHandler(
	eng Engine,
	events repository.EventStore,
	cache *store.Cache,
	sseHandler *ws.SSEHandler,
	wsHub *ws.Hub,
	dev *DevTools,
	logger *zap.SugaredLogger,
	metrics MetricsInterface,
) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Handler{
		engine:     eng,
		events:     events,
		cache:      cache,
		sseHandler: sseHandler,
		wsHub:      wsHub,
		dev:        dev,
		logger:     logger,
		metrics:    metrics,
	}
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// Readyz reports whether the cache, the journal and every price feed answer.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	dto := ReadinessDTO{Status: "ready", Checks: map[string]string{}}
	check := func(name string, err error) {
		if err != nil {
			dto.Status = "not_ready"
			dto.Checks[name] = err.Error()
			return
		}
		dto.Checks[name] = "ok"
	}

	if h.cache != nil {
		check("cache", h.cache.Ping(ctx))
	}
	if h.events != nil {
		check("journal", h.events.Ping(ctx))
	}
	for _, asset := range h.engine.Assets() {
		_, err := h.engine.Price(ctx, asset.AssetID)
		check("price:"+asset.Symbol, err)
	}

	status := http.StatusOK
	if dto.Status != "ready" {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, dto)
}

// HandleSSE streams events over server-sent events
func (h *Handler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	if h.sseHandler == nil {
		h.writeError(w, r, http.StatusNotFound, "STREAM_DISABLED", "event streaming is not configured")
		return
	}
	h.sseHandler.HandleSSE(w, r)
}

// HandleWebSocket streams events over a websocket
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.wsHub == nil {
		h.writeError(w, r, http.StatusNotFound, "STREAM_DISABLED", "event streaming is not configured")
		return
	}
	h.wsHub.HandleWebSocket(w, r)
}

// Utility methods
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	fields := []interface{}{
		"request_id", middleware.GetReqID(r.Context()),
		"code", code,
		"message", message,
		"status", status,
		"path", r.URL.Path,
	}
	if status >= http.StatusInternalServerError {
		h.logger.Errorw("API error", fields...)
	} else {
		h.logger.Debugw("API request rejected", fields...)
	}

	h.writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// writeFailure classifies err and writes it as an ErrorResponse
func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	code, status := classify(err)
	h.writeError(w, r, status, code, err.Error())
}

func decode(r *http.Request, dest interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("INVALID_REQUEST", "request body is empty")
		}
		return badRequest("INVALID_REQUEST", "invalid JSON body: %v", err)
	}
	return nil
}

func parseAddress(field, value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, badRequest("INVALID_ADDRESS", "%s must be a 0x-prefixed 20-byte hex address, got %q", field, value)
	}
	return common.HexToAddress(value), nil
}

// parseAmount converts a human decimal string to native units. An empty
// string is zero; the engine decides whether zero is acceptable.
func parseAmount(field, value string, decimals uint8) (*uint256.Int, error) {
	if value == "" {
		return new(uint256.Int), nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return nil, badRequest("INVALID_AMOUNT", "%s: %v", field, err)
	}
	if !d.IsZero() {
		if err := calc.ValidateAmount(d, field); err != nil {
			return nil, badRequest("INVALID_AMOUNT", "%v", err)
		}
	}
	amount, err := calc.ToUnits(d, decimals)
	if err != nil {
		return nil, badRequest("INVALID_AMOUNT", "%s: %v", field, err)
	}
	return amount, nil
}

// assetConfig resolves a registered asset. Unknown assets surface as the
// engine's own invalid-collateral error.
func (h *Handler) assetConfig(asset common.Address) (prices.CollateralAssetConfig, error) {
	for _, cfg := range h.engine.Assets() {
		if cfg.AssetID == asset {
			return cfg, nil
		}
	}
	return prices.CollateralAssetConfig{}, fmt.Errorf("%w: %s", engine.ErrInvalidCollateralToken, asset.Hex())
}

// resolveAsset accepts a registered asset address or its ticker symbol.
func (h *Handler) resolveAsset(field, ref string) (prices.CollateralAssetConfig, error) {
	if common.IsHexAddress(ref) {
		return h.assetConfig(common.HexToAddress(ref))
	}
	if strings.HasPrefix(ref, "0x") || ref == "" {
		return prices.CollateralAssetConfig{}, badRequest("INVALID_ADDRESS", "%s must be an asset address or symbol, got %q", field, ref)
	}
	if cfg, ok := h.engine.AssetBySymbol(ref); ok {
		return cfg, nil
	}
	return prices.CollateralAssetConfig{}, fmt.Errorf("%w: %s", engine.ErrInvalidCollateralToken, ref)
}

func amountDTO(v *uint256.Int, decimals uint8) AmountDTO {
	if v == nil {
		v = new(uint256.Int)
	}
	return AmountDTO{
		Raw:       v.Dec(),
		Formatted: calc.FromUnits(v, decimals).String(),
	}
}

func stableDTO(v *uint256.Int) AmountDTO {
	return amountDTO(v, calc.PriceDecimals)
}

func healthDTO(hf *uint256.Int) HealthFactorDTO {
	if hf == nil {
		return HealthFactorDTO{}
	}
	dto := HealthFactorDTO{
		Raw:     hf.Dec(),
		Healthy: calc.IsHealthy(hf),
	}
	if hf.Eq(calc.MaxHealthFactor()) {
		dto.Formatted = "inf"
	} else {
		dto.Formatted = calc.FromUnits(hf, calc.PriceDecimals).StringFixed(4)
	}
	return dto
}
