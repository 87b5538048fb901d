package api

import (
	"context"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/leafsii/leafsii-dsc/internal/calc"
	"github.com/leafsii/leafsii-dsc/internal/engine"
)

// The user field in command bodies is trusted as-is: the service simulates
// the protocol and has no wallet signatures to check it against.

func (h *Handler) DepositAndMint(w http.ResponseWriter, r *http.Request) {
	var req DepositAndMintRequest
	h.serveCommand(w, r, &req, func(ctx context.Context) (interface{}, error) {
		return h.depositAndMint(ctx, req)
	})
}

func (h *Handler) RedeemForStable(w http.ResponseWriter, r *http.Request) {
	var req RedeemRequest
	h.serveCommand(w, r, &req, func(ctx context.Context) (interface{}, error) {
		return h.redeemForStable(ctx, req)
	})
}

func (h *Handler) Liquidate(w http.ResponseWriter, r *http.Request) {
	var req LiquidateRequest
	h.serveCommand(w, r, &req, func(ctx context.Context) (interface{}, error) {
		return h.liquidate(ctx, req)
	})
}

func (h *Handler) DepositCollateral(w http.ResponseWriter, r *http.Request) {
	var req CollateralRequest
	h.serveCommand(w, r, &req, func(ctx context.Context) (interface{}, error) {
		user, asset, amount, err := h.parseCollateralRequest(req)
		if err != nil {
			return nil, err
		}
		return receiptResult(h.engine.DepositCollateral(ctx, user, asset, amount))
	})
}

func (h *Handler) RedeemCollateral(w http.ResponseWriter, r *http.Request) {
	var req CollateralRequest
	h.serveCommand(w, r, &req, func(ctx context.Context) (interface{}, error) {
		user, asset, amount, err := h.parseCollateralRequest(req)
		if err != nil {
			return nil, err
		}
		return receiptResult(h.engine.RedeemCollateral(ctx, user, asset, amount))
	})
}

func (h *Handler) MintStable(w http.ResponseWriter, r *http.Request) {
	var req StableRequest
	h.serveCommand(w, r, &req, func(ctx context.Context) (interface{}, error) {
		user, err := parseAddress("user", req.User)
		if err != nil {
			return nil, err
		}
		amount, err := parseAmount("amount", req.Amount, calc.PriceDecimals)
		if err != nil {
			return nil, err
		}
		return receiptResult(h.engine.MintStable(ctx, user, amount))
	})
}

func (h *Handler) BurnStable(w http.ResponseWriter, r *http.Request) {
	var req StableRequest
	h.serveCommand(w, r, &req, func(ctx context.Context) (interface{}, error) {
		user, err := parseAddress("user", req.User)
		if err != nil {
			return nil, err
		}
		amount, err := parseAmount("amount", req.Amount, calc.PriceDecimals)
		if err != nil {
			return nil, err
		}
		return receiptResult(h.engine.BurnStable(ctx, user, amount))
	})
}

// serveCommand decodes the body into req, runs fn and writes the result or
// the classified failure.
func (h *Handler) serveCommand(w http.ResponseWriter, r *http.Request, req interface{}, fn func(context.Context) (interface{}, error)) {
	if err := decode(r, req); err != nil {
		h.writeFailure(w, r, err)
		return
	}
	result, err := fn(r.Context())
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) depositAndMint(ctx context.Context, req DepositAndMintRequest) (*ReceiptDTO, error) {
	user, err := parseAddress("user", req.User)
	if err != nil {
		return nil, err
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		return nil, err
	}
	cfg, err := h.assetConfig(asset)
	if err != nil {
		return nil, err
	}
	collateral, err := parseAmount("collateral_amount", req.CollateralAmount, cfg.Decimals)
	if err != nil {
		return nil, err
	}
	mint, err := parseAmount("mint_amount", req.MintAmount, calc.PriceDecimals)
	if err != nil {
		return nil, err
	}
	return receiptResult(h.engine.DepositAndMint(ctx, user, asset, collateral, mint))
}

func (h *Handler) redeemForStable(ctx context.Context, req RedeemRequest) (*ReceiptDTO, error) {
	user, err := parseAddress("user", req.User)
	if err != nil {
		return nil, err
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		return nil, err
	}
	cfg, err := h.assetConfig(asset)
	if err != nil {
		return nil, err
	}
	collateral, err := parseAmount("collateral_amount", req.CollateralAmount, cfg.Decimals)
	if err != nil {
		return nil, err
	}
	burn, err := parseAmount("burn_amount", req.BurnAmount, calc.PriceDecimals)
	if err != nil {
		return nil, err
	}
	return receiptResult(h.engine.RedeemForStable(ctx, user, asset, collateral, burn))
}

func (h *Handler) liquidate(ctx context.Context, req LiquidateRequest) (*LiquidationDTO, error) {
	liquidator, err := parseAddress("liquidator", req.Liquidator)
	if err != nil {
		return nil, err
	}
	user, err := parseAddress("user", req.User)
	if err != nil {
		return nil, err
	}
	liq, err := h.engine.Liquidate(ctx, liquidator, user)
	if err != nil {
		return nil, err
	}
	return h.liquidationDTO(liq), nil
}

func (h *Handler) parseCollateralRequest(req CollateralRequest) (user, asset common.Address, amount *uint256.Int, err error) {
	if user, err = parseAddress("user", req.User); err != nil {
		return
	}
	if asset, err = parseAddress("asset", req.Asset); err != nil {
		return
	}
	cfg, err := h.assetConfig(asset)
	if err != nil {
		return
	}
	amount, err = parseAmount("amount", req.Amount, cfg.Decimals)
	return
}

func receiptResult(receipt *engine.Receipt, err error) (*ReceiptDTO, error) {
	if err != nil {
		return nil, err
	}
	return &ReceiptDTO{
		OperationID:  receipt.OperationID.String(),
		User:         receipt.User.Hex(),
		HealthFactor: healthDTO(receipt.HealthFactor),
	}, nil
}

func (h *Handler) liquidationDTO(liq *engine.Liquidation) *LiquidationDTO {
	decimals := make(map[common.Address]uint8)
	for _, cfg := range h.engine.Assets() {
		decimals[cfg.AssetID] = cfg.Decimals
	}
	seized := make(map[string]AmountDTO, len(liq.Seized))
	for asset, amount := range liq.Seized {
		seized[asset.Hex()] = amountDTO(amount, decimals[asset])
	}
	var reserved map[string]AmountDTO
	if len(liq.Reserved) > 0 {
		reserved = make(map[string]AmountDTO, len(liq.Reserved))
		for asset, amount := range liq.Reserved {
			reserved[asset.Hex()] = amountDTO(amount, decimals[asset])
		}
	}
	return &LiquidationDTO{
		OperationID:  liq.OperationID.String(),
		User:         liq.Target.Hex(),
		Liquidator:   liq.Liquidator.Hex(),
		DebtRepaid:   stableDTO(liq.DebtRepaid),
		BadDebt:      stableDTO(liq.BadDebt),
		Seized:       seized,
		Reserved:     reserved,
		HealthBefore: healthDTO(liq.HealthBefore),
		HealthAfter:  healthDTO(liq.HealthAfter),
	}
}
