package api

import (
	"context"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/leafsii/leafsii-dsc/internal/store"
)

// Faucet is a collateral token the dev endpoints can mint from.
// *memory.Token satisfies it.
type Faucet interface {
	Mint(ctx context.Context, to common.Address, amount *uint256.Int) error
	Approve(ctx context.Context, owner, spender common.Address, amount *uint256.Int) error
	Allowance(ctx context.Context, owner, spender common.Address) (*uint256.Int, error)
	BalanceOf(ctx context.Context, holder common.Address) (*uint256.Int, error)
}

// PriceSetter overrides feed prices. *mock.Feed satisfies it.
type PriceSetter interface {
	SetPrice(feed string, raw *uint256.Int)
	Decimals() uint8
}

// DevTools backs the /v1/dev endpoints. They are mounted only when DevTools
// is passed to NewHandler.
type DevTools struct {
	Tokens map[common.Address]Faucet
	Prices PriceSetter
}

// Faucet mints collateral tokens to a user.
func (h *Handler) Faucet(w http.ResponseWriter, r *http.Request) {
	var req FaucetRequest
	h.serveCommand(w, r, &req, func(ctx context.Context) (interface{}, error) {
		user, asset, token, amount, err := h.parseDevTokenRequest(req.User, req.Asset, req.Amount)
		if err != nil {
			return nil, err
		}
		if err := token.Mint(ctx, user, amount); err != nil {
			return nil, err
		}
		h.logger.Infow("Faucet mint", "user", user.Hex(), "asset", asset.Hex(), "amount", amount.Dec())
		return h.devTokenDTO(ctx, user, asset, token, nil)
	})
}

// Approve lets the engine pull the user's collateral.
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	h.serveCommand(w, r, &req, func(ctx context.Context) (interface{}, error) {
		user, asset, token, amount, err := h.parseDevTokenRequest(req.User, req.Asset, req.Amount)
		if err != nil {
			return nil, err
		}
		spender := h.engine.Address()
		if err := token.Approve(ctx, user, spender, amount); err != nil {
			return nil, err
		}
		return h.devTokenDTO(ctx, user, asset, token, &spender)
	})
}

// SetPrice overrides the mock feed price for an asset, given in USD.
func (h *Handler) SetPrice(w http.ResponseWriter, r *http.Request) {
	var req SetPriceRequest
	h.serveCommand(w, r, &req, func(ctx context.Context) (interface{}, error) {
		if h.dev.Prices == nil {
			return nil, badRequest("PRICE_OVERRIDE_DISABLED", "the active price source does not accept overrides")
		}
		cfg, err := h.resolveAsset("asset", req.Asset)
		if err != nil {
			return nil, err
		}
		asset := cfg.AssetID
		raw, err := parseAmount("price", req.Price, h.dev.Prices.Decimals())
		if err != nil {
			return nil, err
		}
		if raw.IsZero() {
			return nil, badRequest("INVALID_AMOUNT", "price must be positive")
		}
		h.dev.Prices.SetPrice(cfg.PriceFeed, raw)

		// Cached prices and account values were computed at the old price.
		if h.cache != nil {
			if err := h.cache.Delete(ctx, store.PriceKey(asset)); err != nil {
				h.logger.Warnw("Failed to drop cached price", "asset", asset.Hex(), "error", err)
			}
			if err := h.cache.InvalidateAccounts(ctx, h.engine.Users()...); err != nil {
				h.logger.Warnw("Failed to invalidate accounts", "error", err)
			}
		}
		h.logger.Infow("Price overridden", "asset", asset.Hex(), "feed", cfg.PriceFeed, "raw", raw.Dec())

		price, err := h.engine.Price(ctx, asset)
		if err != nil {
			return nil, err
		}
		return PriceDTO{
			Asset:  asset.Hex(),
			Symbol: cfg.Symbol,
			Price:  stableDTO(price),
			Source: "override",
		}, nil
	})
}

func (h *Handler) parseDevTokenRequest(userRaw, assetRaw, amountRaw string) (user, asset common.Address, token Faucet, amount *uint256.Int, err error) {
	if user, err = parseAddress("user", userRaw); err != nil {
		return
	}
	if asset, err = parseAddress("asset", assetRaw); err != nil {
		return
	}
	cfg, err := h.assetConfig(asset)
	if err != nil {
		return
	}
	token, ok := h.dev.Tokens[asset]
	if !ok {
		err = badRequest("FAUCET_UNAVAILABLE", "no faucet for asset %s", asset.Hex())
		return
	}
	amount, err = parseAmount("amount", amountRaw, cfg.Decimals)
	return
}

func (h *Handler) devTokenDTO(ctx context.Context, user, asset common.Address, token Faucet, spender *common.Address) (*DevTokenDTO, error) {
	cfg, err := h.assetConfig(asset)
	if err != nil {
		return nil, err
	}
	balance, err := token.BalanceOf(ctx, user)
	if err != nil {
		return nil, err
	}
	dto := &DevTokenDTO{
		User:    user.Hex(),
		Asset:   asset.Hex(),
		Balance: amountDTO(balance, cfg.Decimals),
	}
	if spender != nil {
		allowance, err := token.Allowance(ctx, user, *spender)
		if err != nil {
			return nil, err
		}
		a := amountDTO(allowance, cfg.Decimals)
		dto.Spender = spender.Hex()
		dto.Allowance = &a
	}
	return dto, nil
}
