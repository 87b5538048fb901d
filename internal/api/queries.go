package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/leafsii/leafsii-dsc/internal/calc"
	"github.com/leafsii/leafsii-dsc/internal/engine"
	"github.com/leafsii/leafsii-dsc/internal/jobs"
	"github.com/leafsii/leafsii-dsc/internal/repository"
	"github.com/leafsii/leafsii-dsc/internal/store"
)

// closeFactorPct is fixed: a liquidation always repays the whole debt.
const closeFactorPct = 100

func (h *Handler) GetCollateralBalance(w http.ResponseWriter, r *http.Request) {
	user, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	asset, err := parseAddress("asset", chi.URLParam(r, "asset"))
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	dto, err := h.collateralBalance(r.Context(), user, asset)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, dto)
}

func (h *Handler) collateralBalance(ctx context.Context, user, asset common.Address) (*CollateralBalanceDTO, error) {
	cfg, err := h.assetConfig(asset)
	if err != nil {
		return nil, err
	}
	balance, err := h.engine.CollateralBalance(user, asset)
	if err != nil {
		return nil, err
	}
	usd, err := h.engine.USDValue(ctx, asset, balance)
	if err != nil {
		return nil, err
	}
	return &CollateralBalanceDTO{
		User:    user.Hex(),
		Asset:   asset.Hex(),
		Symbol:  cfg.Symbol,
		Balance: amountDTO(balance, cfg.Decimals),
		USD:     stableDTO(usd),
	}, nil
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	user, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	dto, err := h.account(r.Context(), user)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, dto)
}

// account serves the cached view when present and coalesces concurrent
// rebuilds for the same user.
func (h *Handler) account(ctx context.Context, user common.Address) (*AccountDTO, error) {
	dto, err, _ := h.accounts.Do(store.AccountKey(user), func() (*AccountDTO, error) {
		return h.loadAccount(ctx, user)
	})
	return dto, err
}

func (h *Handler) loadAccount(ctx context.Context, user common.Address) (*AccountDTO, error) {
	if h.cache != nil {
		var cached AccountDTO
		if err := h.cache.GetAccount(ctx, user, &cached); err == nil {
			return &cached, nil
		}
	}

	collateralUSD, debt, err := h.engine.AccountInfo(ctx, user)
	if err != nil {
		return nil, err
	}
	hf, err := h.engine.HealthFactor(ctx, user)
	if err != nil {
		return nil, err
	}

	dto := &AccountDTO{
		User:          user.Hex(),
		CollateralUSD: stableDTO(collateralUSD),
		Debt:          stableDTO(debt),
		HealthFactor:  healthDTO(hf),
		Collateral:    []CollateralBalanceDTO{},
		AsOf:          time.Now().Unix(),
	}
	for _, cfg := range h.engine.Assets() {
		balance, err := h.collateralBalance(ctx, user, cfg.AssetID)
		if err != nil {
			return nil, err
		}
		if balance.Balance.Raw == "0" {
			continue
		}
		dto.Collateral = append(dto.Collateral, *balance)
	}

	if h.cache != nil {
		if err := h.cache.SetAccount(ctx, user, dto); err != nil {
			h.logger.Warnw("Failed to cache account", "user", user.Hex(), "error", err)
		}
	}
	return dto, nil
}

func (h *Handler) GetHealthFactor(w http.ResponseWriter, r *http.Request) {
	user, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	hf, err := h.engine.HealthFactor(r.Context(), user)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, HealthDTO{
		User:         user.Hex(),
		HealthFactor: healthDTO(hf),
	})
}

func (h *Handler) GetUserEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		h.writeError(w, r, http.StatusNotFound, "JOURNAL_DISABLED", "event journal is not configured")
		return
	}
	user, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			h.writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a non-negative integer")
			return
		}
	}

	events, next, err := h.events.GetUserEvents(r.Context(), user, limit, r.URL.Query().Get("cursor"))
	if err != nil {
		if errors.Is(err, repository.ErrInvalidCursor) {
			h.writeError(w, r, http.StatusBadRequest, "INVALID_CURSOR", err.Error())
			return
		}
		h.writeFailure(w, r, err)
		return
	}
	if events == nil {
		events = []engine.EventRecord{}
	}
	h.writeJSON(w, http.StatusOK, EventsPage{Events: events, NextCursor: next})
}

func (h *Handler) ListAssets(w http.ResponseWriter, r *http.Request) {
	assets := h.engine.Assets()
	dtos := make([]AssetDTO, 0, len(assets))
	for _, cfg := range assets {
		dtos = append(dtos, AssetDTO{
			Asset:     cfg.AssetID.Hex(),
			Symbol:    cfg.Symbol,
			PriceFeed: cfg.PriceFeed,
			Decimals:  cfg.Decimals,
		})
	}
	h.writeJSON(w, http.StatusOK, dtos)
}

// GetAssetPrice prefers the snapshot the price publisher cached and falls
// back to reading the oracle directly. The asset may be given by address or symbol.
func (h *Handler) GetAssetPrice(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.resolveAsset("asset", chi.URLParam(r, "asset"))
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	asset := cfg.AssetID

	if h.cache != nil {
		var snap store.PriceSnapshot
		if err := h.cache.GetPrice(r.Context(), asset, &snap); err == nil {
			h.writeJSON(w, http.StatusOK, PriceDTO{
				Asset:     asset.Hex(),
				Symbol:    cfg.Symbol,
				Price:     AmountDTO{Raw: snap.Price, Formatted: snap.Formatted},
				UpdatedAt: snap.UpdatedAt,
				Stale:     snap.Stale,
				Source:    "cache",
			})
			return
		}
	}

	price, err := h.engine.Price(r.Context(), asset)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, PriceDTO{
		Asset:     asset.Hex(),
		Symbol:    cfg.Symbol,
		Price:     AmountDTO{Raw: price.Dec(), Formatted: calc.FromUnits(price, calc.PriceDecimals).StringFixed(2)},
		UpdatedAt: time.Now().UTC(),
		Source:    "oracle",
	})
}

func (h *Handler) GetParams(w http.ResponseWriter, r *http.Request) {
	params := h.engine.Params()
	h.writeJSON(w, http.StatusOK, ParamsDTO{
		Params:          params,
		MinHealthFactor: calc.FromUnits(params.MinHealthFactor(), calc.PriceDecimals).String(),
		CloseFactorPct:  closeFactorPct,
		EngineAddress:   h.engine.Address().Hex(),
	})
}

func (h *Handler) GetCustody(w http.ResponseWriter, r *http.Request) {
	assets := h.engine.Assets()
	dto := CustodyDTO{
		Assets:  make([]CustodyAssetDTO, 0, len(assets)),
		BadDebt: stableDTO(h.engine.BadDebt()),
		Users:   len(h.engine.Users()),
	}
	for _, cfg := range assets {
		dto.Assets = append(dto.Assets, CustodyAssetDTO{
			Asset:   cfg.AssetID.Hex(),
			Symbol:  cfg.Symbol,
			Balance: amountDTO(h.engine.Custody(cfg.AssetID), cfg.Decimals),
			Reserve: amountDTO(h.engine.Reserve(cfg.AssetID), cfg.Decimals),
		})
	}
	h.writeJSON(w, http.StatusOK, dto)
}

// GetLiquidationCandidates returns the latest report of the background scanner.
func (h *Handler) GetLiquidationCandidates(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, r, http.StatusNotFound, "SCAN_UNAVAILABLE", "no liquidation scan has completed")
		return
	}
	var report jobs.ScanReport
	if err := h.cache.Get(r.Context(), jobs.KeyLiquidationCandidates, &report); err != nil {
		if errors.Is(err, store.ErrCacheMiss) {
			h.writeError(w, r, http.StatusNotFound, "SCAN_UNAVAILABLE", "no liquidation scan has completed")
			return
		}
		h.writeFailure(w, r, err)
		return
	}
	if report.Candidates == nil {
		report.Candidates = []jobs.Candidate{}
	}
	h.writeJSON(w, http.StatusOK, report)
}
